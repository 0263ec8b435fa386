// Package agent automates the platform's form designer page: it signals
// readiness to the coordinator and, on command, walks the upload dialog.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"formdeploy/internal/dom"
	"formdeploy/internal/logging"
	"formdeploy/internal/message"
	"formdeploy/internal/relay"
)

// Messenger sends messages to the coordinator.
type Messenger interface {
	SendToBackground(ctx context.Context, from message.Sender, msg message.Message) (message.Response, error)
}

// Job is one upload command.
type Job struct {
	FormID      string
	FileName    string
	File        []byte
	Attachments []message.File
}

// JobFromMessage extracts a Job from a PERFORM_UPLOAD message.
func JobFromMessage(msg message.Message) Job {
	name := msg.FileName
	if name == "" {
		name = msg.FormID + ".xlsx"
	}
	return Job{
		FormID:      msg.FormID,
		FileName:    name,
		File:        msg.FileBlob,
		Attachments: msg.AttachmentBlobs,
	}
}

// Report is the terminal outcome of a run.
type Report struct {
	Success bool
	Message string
	// Step names the step that failed, if any.
	Step string
	Fill
}

// Agent is the platform-page script for one document.
type Agent struct {
	sender   message.Sender
	loc      *dom.Locator
	readyLoc *dom.Locator
	bus      Messenger
	heur     Heuristics
	timing   Timing
	options  func() Options
	log      *logging.ContextLogger

	mu      sync.Mutex
	base    context.Context
	running bool
	last    *Report
	wg      sync.WaitGroup
}

// Option configures an Agent.
type Option func(*Agent)

// WithHeuristics overrides the control-matching heuristics.
func WithHeuristics(h Heuristics) Option {
	return func(a *Agent) { a.heur = h }
}

// WithTiming overrides step timings.
func WithTiming(t Timing) Option {
	return func(a *Agent) { a.timing = t }
}

// WithOptions supplies the live user options, read at the start of each run.
func WithOptions(fn func() Options) Option {
	return func(a *Agent) { a.options = fn }
}

// New creates an agent for the document loaded in sender's tab.
func New(sender message.Sender, doc dom.Document, bus Messenger, opts ...Option) *Agent {
	a := &Agent{
		sender:  sender,
		bus:     bus,
		heur:    DefaultHeuristics(),
		timing:  DefaultTiming(),
		options: DefaultOptions,
		log:     logging.ForTab(logging.CategoryAgent, string(sender.TabID)),
		base:    context.Background(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.loc = dom.NewLocator(doc, dom.WithPollInterval(a.timing.Poll))
	a.readyLoc = dom.NewLocator(doc, dom.WithPollInterval(a.timing.ReadyPoll))
	return a
}

// Start waits for the page to become interactive, then signals readiness.
// ctx is the document's lifetime; uploads started later run under it too.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	a.base = ctx
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.announceReady(ctx)
	}()
}

func (a *Agent) announceReady(ctx context.Context) {
	if a.awaitReady(ctx) {
		a.log.Debug("Form list is interactive")
	} else {
		a.log.Debug("Readiness not confirmed after %s, signalling anyway", a.timing.ReadyTimeout)
	}
	if ctx.Err() != nil {
		return
	}

	resp, err := a.bus.SendToBackground(ctx, a.sender, message.Message{Type: message.TypeCheckPageReady})
	switch {
	case err != nil:
		a.log.Warn("Readiness signal failed: %v", err)
	case !resp.Success:
		a.log.Debug("%s", resp.Error)
	default:
		a.log.Info("%s", resp.Message)
	}
}

// awaitReady polls for the form list's add control.
func (a *Agent) awaitReady(ctx context.Context) bool {
	isAdd := dom.TextMatches(a.heur.AddFormExact, a.heur.AddFormContains)
	err := a.readyLoc.WaitUntil(ctx, a.timing.ReadyTimeout, func(ctx context.Context) (bool, error) {
		n, err := a.readyLoc.Count(ctx, a.heur.Clickable, isAdd)
		return err == nil && n > 0, nil
	})
	return err == nil
}

// Handle is the relay handler for the agent's tab. PERFORM_UPLOAD is
// acknowledged at once; the outcome arrives later as UPLOAD_COMPLETE.
func (a *Agent) Handle(ctx context.Context, req relay.Request) (message.Response, error) {
	if req.Msg.Type != message.TypePerformUpload {
		return message.Response{}, relay.ErrUnhandled
	}
	job := JobFromMessage(req.Msg)

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return message.Fail("upload already in progress"), nil
	}
	a.running = true
	base := a.base
	a.mu.Unlock()

	a.log.Info("Starting upload of %s", job.FormID)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		report := a.Run(base, job)
		a.mu.Lock()
		a.running = false
		a.last = &report
		a.mu.Unlock()
	}()
	return message.OK("Upload started"), nil
}

// Wait blocks until the readiness signal and any running upload finish.
func (a *Agent) Wait() {
	a.wg.Wait()
}

// LastReport returns the outcome of the most recent run.
func (a *Agent) LastReport() (Report, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return Report{}, false
	}
	return *a.last, true
}

// Run executes the upload sequence and reports the outcome to the
// coordinator exactly once.
func (a *Agent) Run(ctx context.Context, job Job) Report {
	s := &session{job: job, opts: a.options()}
	if s.opts.UploadTimeout <= 0 {
		s.opts.UploadTimeout = DefaultOptions().UploadTimeout
	}

	report := Report{Success: true}
	for _, st := range a.steps() {
		a.log.Debug("Step %s", st.name)
		err := st.run(ctx, s)
		if err == nil {
			continue
		}
		if errors.Is(err, errAwaitingManualSubmit) {
			report.Message = MessageAwaitingSubmit
			break
		}
		report = Report{Success: false, Step: st.name, Message: fmt.Sprintf("%s: %v", st.name, err)}
		break
	}
	report.Fill = s.fill
	if report.Success && report.Message == "" {
		report.Message = MessageUploaded
		if s.fill.Shortfall > 0 {
			report.Message = fmt.Sprintf("%s; %d attachment(s) had no input", MessageUploaded, s.fill.Shortfall)
		}
	}

	if report.Success {
		a.log.Info("%s", report.Message)
	} else {
		a.log.Error("Upload failed at %s", report.Message)
	}
	a.complete(ctx, report)
	return report
}

func (a *Agent) complete(ctx context.Context, report Report) {
	_, err := a.bus.SendToBackground(ctx, a.sender, message.Message{
		Type:    message.TypeUploadComplete,
		Success: report.Success,
		Message: report.Message,
	})
	if err != nil {
		a.log.Warn("Could not report upload result: %v", err)
	}
}
