package agent

import (
	"context"
	"errors"
	"time"

	"formdeploy/internal/dom"
	"formdeploy/internal/message"
)

// Result messages.
const (
	MessageUploaded       = "Form uploaded"
	MessageAwaitingSubmit = "Files attached, awaiting manual submit"
)

var (
	ErrAddFormMissing      = errors.New("add form control not found")
	ErrAddFormDisabled     = errors.New("add form control stayed disabled")
	ErrUploadOptionMissing = errors.New("upload form definition option not found")
	ErrDialogTimeout       = errors.New("dialog did not appear")
	ErrFileInputMissing    = errors.New("file input not found")
	ErrUploadButtonMissing = errors.New("upload button not found")

	errAwaitingManualSubmit = errors.New("awaiting manual submit")
)

type session struct {
	job  Job
	opts Options
	fill Fill
	// primary is the index, among file inputs, holding the definition.
	primary int
}

type step struct {
	name string
	run  func(ctx context.Context, s *session) error
}

// steps is the upload sequence. Each step waits for the control it needs
// rather than sleeping a fixed time.
func (a *Agent) steps() []step {
	return []step{
		{"add-form", a.openAddForm},
		{"upload-option", a.openUploadOption},
		{"dialog", a.awaitDialog},
		{"local-source", a.selectLocalSource},
		{"definition", a.attachDefinition},
		{"attachments", a.attachFiles},
		{"submit", a.submit},
		{"settle", a.settle},
	}
}

func (a *Agent) openAddForm(ctx context.Context, s *session) error {
	isAdd := dom.TextMatches(a.heur.AddFormExact, a.heur.AddFormContains)

	el, err := a.loc.Find(ctx, a.heur.Clickable, dom.And(dom.Enabled, isAdd))
	if err != nil {
		if !errors.Is(err, dom.ErrNotFound) {
			return err
		}
		if _, err := a.loc.Find(ctx, a.heur.Clickable, isAdd); err != nil {
			return ErrAddFormMissing
		}
		a.log.Debug("Add form control is disabled, waiting up to %s", a.timing.StepTimeout)
		el, err = a.loc.WaitFor(ctx, a.heur.Clickable, dom.And(dom.Enabled, isAdd), a.timing.StepTimeout)
		if err != nil {
			return ErrAddFormDisabled
		}
	}
	return el.Click(ctx)
}

func (a *Agent) openUploadOption(ctx context.Context, s *session) error {
	pred := dom.And(dom.Enabled, dom.TextMatches(nil, a.heur.UploadOption))
	if _, err := a.loc.WaitFor(ctx, a.heur.MenuItems, pred, a.timing.StepTimeout); err != nil {
		return ErrUploadOptionMissing
	}
	found, err := a.loc.FindAll(ctx, a.heur.MenuItems, pred)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return ErrUploadOptionMissing
	}
	return preferInteractive(found).Click(ctx)
}

// preferInteractive picks a button, link or menu item over a container
// (such as an <li>) that merely wraps one.
func preferInteractive(found []dom.Element) dom.Element {
	for _, el := range found {
		switch {
		case el.Tag() == "button", el.Tag() == "a", el.Role() == "menuitem", el.Role() == "button":
			return el
		}
	}
	return found[0]
}

func (a *Agent) awaitDialog(ctx context.Context, s *session) error {
	if _, err := a.loc.WaitFor(ctx, a.heur.Dialog, nil, s.opts.UploadTimeout); err != nil {
		return ErrDialogTimeout
	}
	return nil
}

// selectLocalSource is best effort: many dialog versions default to it.
func (a *Agent) selectLocalSource(ctx context.Context, s *session) error {
	var preds []dom.Predicate
	for _, phrase := range a.heur.LocalSource {
		preds = append(preds, dom.TextContains(phrase), dom.LabelContains(phrase))
	}
	el, err := a.loc.Find(ctx, a.heur.LocalSourceSelector, dom.And(dom.Enabled, dom.Or(preds...)))
	if err != nil {
		a.log.Debug("No local file source control, assuming it is the default")
		return nil
	}
	if el.Checked() {
		return nil
	}
	if err := el.Click(ctx); err != nil {
		a.log.Warn("Selecting local file source failed: %v", err)
	}
	return nil
}

func (a *Agent) attachDefinition(ctx context.Context, s *session) error {
	if _, err := a.loc.WaitFor(ctx, a.heur.FileInput, nil, a.timing.StepTimeout); err != nil {
		return ErrFileInputMissing
	}
	inputs, err := a.loc.FindAll(ctx, a.heur.FileInput, nil)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return ErrFileInputMissing
	}
	s.primary = a.pickPrimary(inputs)
	return inputs[s.primary].SetFiles(ctx, []dom.File{{
		Name:     s.job.FileName,
		MimeType: message.SpreadsheetMIME,
		Data:     s.job.File,
	}})
}

// pickPrimary returns the index of the input whose id or name hints at the
// form definition, falling back to the first. Inputs named for attachments
// never qualify.
func (a *Agent) pickPrimary(inputs []dom.Element) int {
	attachment := dom.Or(dom.AttrContains("id", "attach"), dom.AttrContains("name", "attach"))
	for _, hint := range a.heur.PrimaryInputHints {
		pred := dom.And(dom.Not(attachment), dom.Or(dom.AttrContains("id", hint), dom.AttrContains("name", hint)))
		for i, el := range inputs {
			if pred(el) {
				return i
			}
		}
	}
	return 0
}

func (a *Agent) attachFiles(ctx context.Context, s *session) error {
	n := len(s.job.Attachments)
	if n == 0 {
		return nil
	}

	var preds []dom.Predicate
	for _, phrase := range a.heur.AttachToggle {
		preds = append(preds, dom.LabelContains(phrase))
	}
	toggle, err := a.loc.Find(ctx, a.heur.Toggle, dom.Or(preds...))
	switch {
	case err != nil:
		a.log.Warn("Attachment toggle not found, filling whatever inputs exist")
	case !toggle.Checked():
		if err := toggle.Click(ctx); err != nil {
			a.log.Warn("Activating attachment toggle failed: %v", err)
		}
	}

	// Inputs render after the toggle flips; stop waiting once there is one
	// per attachment, carry on with what exists otherwise.
	_ = a.loc.WaitUntil(ctx, a.timing.AttachmentRender, func(ctx context.Context) (bool, error) {
		count, err := a.loc.Count(ctx, a.heur.FileInput, nil)
		return err == nil && count >= n+1, nil
	})

	inputs, err := a.loc.FindAll(ctx, a.heur.FileInput, nil)
	if err != nil {
		return err
	}
	s.fill = FillAttachments(ctx, inputs, s.primary, s.job.Attachments)
	if s.fill.Shortfall > 0 {
		a.log.Warn("%d of %d attachments had no file input", s.fill.Shortfall, n)
	}
	return nil
}

func (a *Agent) submit(ctx context.Context, s *session) error {
	if !s.opts.AutoSubmit {
		return errAwaitingManualSubmit
	}
	pred := dom.And(dom.Enabled, dom.TextMatches(a.heur.SubmitExact, nil))
	el, err := a.loc.WaitFor(ctx, a.heur.Clickable, pred, a.timing.StepTimeout)
	if err != nil {
		return ErrUploadButtonMissing
	}
	return el.Click(ctx)
}

func (a *Agent) settle(ctx context.Context, s *session) error {
	select {
	case <-time.After(a.timing.Settle):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
