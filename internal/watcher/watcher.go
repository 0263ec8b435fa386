// Package watcher detects successful form deployments on the platform page
// and, after asking the user for release notes, logs them to the
// spreadsheet through the coordinator.
package watcher

import (
	"context"
	"strings"
	"time"

	"formdeploy/internal/dom"
	"formdeploy/internal/logging"
	"formdeploy/internal/message"
)

// Messenger sends messages to the coordinator.
type Messenger interface {
	SendToBackground(ctx context.Context, from message.Sender, msg message.Message) (message.Response, error)
}

// Document is a page that can be both queried and observed.
type Document interface {
	dom.Document
	dom.Observer
}

// Timing bounds the watcher's pauses.
type Timing struct {
	// Settle lets the success dialog finish rendering before extraction.
	Settle time.Duration
	// PromptDelay separates detection from the prompt.
	PromptDelay time.Duration
	// Confirm is how long the logged confirmation stays visible.
	Confirm time.Duration
	// Rearm is the pause before watching again.
	Rearm time.Duration
}

// DefaultTiming returns production timings.
func DefaultTiming() Timing {
	return Timing{
		Settle:      500 * time.Millisecond,
		PromptDelay: time.Second,
		Confirm:     2 * time.Second,
		Rearm:       time.Second,
	}
}

// Settings select what counts as a success dialog.
type Settings struct {
	DialogSelector string
	SuccessPhrases []string
}

// DefaultSettings matches the platform's success dialog.
func DefaultSettings() Settings {
	return Settings{
		DialogSelector: `[role="dialog"]`,
		SuccessPhrases: []string{"Form uploaded"},
	}
}

// Watcher is the deployment-success script for one platform document.
type Watcher struct {
	sender   message.Sender
	doc      Document
	bus      Messenger
	prompter Prompter
	timing   Timing
	settings Settings
	log      *logging.ContextLogger

	known []string
	done  chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithTiming overrides the watcher's pauses.
func WithTiming(t Timing) Option {
	return func(w *Watcher) { w.timing = t }
}

// WithSettings overrides success-dialog detection.
func WithSettings(s Settings) Option {
	return func(w *Watcher) { w.settings = s }
}

// New creates a watcher.
func New(sender message.Sender, doc Document, bus Messenger, prompter Prompter, opts ...Option) *Watcher {
	w := &Watcher{
		sender:   sender,
		doc:      doc,
		bus:      bus,
		prompter: prompter,
		timing:   DefaultTiming(),
		settings: DefaultSettings(),
		log:      logging.ForTab(logging.CategoryWatcher, string(sender.TabID)),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the watch loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		w.run(ctx)
	}()
}

// Done is closed when the watch loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) run(ctx context.Context) {
	w.loadKnownIDs(ctx)
	for {
		if err := w.awaitSuccess(ctx); err != nil {
			if ctx.Err() == nil {
				w.log.Error("Observing page failed: %v", err)
			}
			return
		}
		if !sleep(ctx, w.timing.Settle) {
			return
		}
		w.handleSuccess(ctx)
		if !sleep(ctx, w.timing.Rearm) {
			return
		}
	}
}

// loadKnownIDs fetches the spreadsheet's form IDs once per document.
func (w *Watcher) loadKnownIDs(ctx context.Context) {
	resp, err := w.bus.SendToBackground(ctx, w.sender, message.Message{Type: message.TypeGetFormIDs})
	if err != nil {
		w.log.Warn("Could not load form IDs: %v", err)
		return
	}
	w.known = resp.FormIDs
	w.log.Debug("%d known form IDs", len(w.known))
}

// awaitSuccess returns once a success dialog appears. A dialog already on
// screen when watching starts must disappear first, so one dialog is
// handled once.
func (w *Watcher) awaitSuccess(ctx context.Context) error {
	changes, stop, err := w.doc.Observe(ctx)
	if err != nil {
		return err
	}
	defer stop()

	armed := !w.successVisible(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changes:
		}
		visible := w.successVisible(ctx)
		if visible && armed {
			w.log.Info("Deployment success detected")
			return nil
		}
		if !visible {
			armed = true
		}
	}
}

func (w *Watcher) successVisible(ctx context.Context) bool {
	dialogs, err := w.doc.All(ctx, w.settings.DialogSelector)
	if err != nil {
		return false
	}
	for _, d := range dialogs {
		text := d.Text()
		for _, phrase := range w.settings.SuccessPhrases {
			if strings.Contains(text, phrase) {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) handleSuccess(ctx context.Context) {
	elements, err := w.doc.All(ctx, "body *")
	if err != nil {
		w.log.Error("Reading page failed: %v", err)
		return
	}
	forms := ExtractForms(elements)
	if len(forms) == 0 {
		w.log.Warn("No forms found on page")
		return
	}
	form, _ := Resolve(forms, w.known)
	w.log.Info("Deployed %s version %s", form.FormID, form.Version)

	if !sleep(ctx, w.timing.PromptDelay) {
		return
	}
	notes, submitted, err := w.prompter.Prompt(ctx, form)
	if err != nil {
		w.log.Error("Prompt failed: %v", err)
		return
	}
	if !submitted {
		w.log.Debug("Logging of %s cancelled", form.FormID)
		return
	}

	resp, err := w.bus.SendToBackground(ctx, w.sender, message.Message{
		Type:            message.TypeLogDeployment,
		FormID:          form.FormID,
		DeployedVersion: form.Version,
		Message:         notes,
	})
	reason := ""
	switch {
	case err != nil:
		reason = err.Error()
	case !resp.Success:
		reason = resp.Error
	}
	if reason != "" {
		w.log.Warn("Logging %s failed: %s", form.FormID, reason)
		if err := w.prompter.Alert(ctx, "Error logging deployment: "+reason); err != nil {
			w.log.Debug("Alert failed: %v", err)
		}
		return
	}
	if err := w.prompter.Confirm(ctx, form, w.timing.Confirm); err != nil {
		w.log.Debug("Confirmation failed: %v", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
