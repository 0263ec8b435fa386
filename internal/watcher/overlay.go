package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/google/uuid"
	"github.com/ysmood/gson"
)

const overlayID = "formdeploy-log-overlay"

const overlayJS = `(id, binding, formId, version) => {
	const old = document.getElementById(id);
	if (old) old.remove();

	const root = document.createElement('div');
	root.id = id;
	root.style.cssText = 'position:fixed;inset:0;background:rgba(0,0,0,.45);z-index:2147483647;display:flex;align-items:center;justify-content:center;font-family:sans-serif';
	const box = document.createElement('div');
	box.className = 'formdeploy-box';
	box.style.cssText = 'background:#fff;border-radius:8px;padding:20px;width:420px;box-shadow:0 8px 30px rgba(0,0,0,.3)';

	const title = document.createElement('h3');
	title.textContent = 'Log deployment';
	const info = document.createElement('p');
	info.textContent = 'Form ' + formId + ' was deployed as version ' + version + '.';
	const notes = document.createElement('textarea');
	notes.rows = 4;
	notes.placeholder = 'What changed in this version?';
	notes.style.cssText = 'width:100%;box-sizing:border-box';

	const actions = document.createElement('div');
	actions.style.cssText = 'display:flex;justify-content:flex-end;gap:8px;margin-top:12px';
	const cancel = document.createElement('button');
	cancel.textContent = 'Cancel';
	const submit = document.createElement('button');
	submit.textContent = 'Log to sheet';

	const send = (action) => { window[binding]({ action: action, notes: notes.value }).catch(() => {}); };
	cancel.onclick = () => { root.remove(); send('cancel'); };
	submit.onclick = () => {
		submit.disabled = true;
		cancel.disabled = true;
		submit.textContent = 'Logging...';
		send('submit');
	};

	actions.append(cancel, submit);
	box.append(title, info, notes, actions);
	root.append(box);
	document.body.appendChild(root);
	notes.focus();
}`

const confirmJS = `(id, text) => {
	const root = document.getElementById(id);
	if (!root) return;
	const box = root.querySelector('.formdeploy-box');
	if (box) box.textContent = text;
}`

const removeJS = `(id) => { const root = document.getElementById(id); if (root) root.remove(); }`

// Overlay is a Prompter drawn into the platform page.
type Overlay struct {
	page *rod.Page
}

// NewOverlay creates an overlay prompter for page.
func NewOverlay(page *rod.Page) *Overlay {
	return &Overlay{page: page}
}

type promptResult struct {
	action string
	notes  string
}

// Prompt implements Prompter.
func (o *Overlay) Prompt(ctx context.Context, form DeployedForm) (string, bool, error) {
	binding := "__formdeployPrompt_" + uuid.NewString()[:8]
	results := make(chan promptResult, 1)

	stop, err := o.page.Expose(binding, func(v gson.JSON) (interface{}, error) {
		select {
		case results <- promptResult{action: v.Get("action").Str(), notes: v.Get("notes").Str()}:
		default:
		}
		return nil, nil
	})
	if err != nil {
		return "", false, fmt.Errorf("expose prompt binding: %w", err)
	}
	defer func() { _ = stop() }()

	if _, err := o.page.Context(ctx).Eval(overlayJS, overlayID, binding, form.FormID, form.Version); err != nil {
		return "", false, fmt.Errorf("show prompt: %w", err)
	}

	select {
	case r := <-results:
		return r.notes, r.action == "submit", nil
	case <-ctx.Done():
		o.remove()
		return "", false, ctx.Err()
	}
}

// Confirm implements Prompter.
func (o *Overlay) Confirm(ctx context.Context, form DeployedForm, d time.Duration) error {
	text := fmt.Sprintf("Logged Successfully: %s v%s", form.FormID, form.Version)
	if _, err := o.page.Context(ctx).Eval(confirmJS, overlayID, text); err != nil {
		return err
	}
	sleep(ctx, d)
	o.remove()
	return nil
}

// Alert implements Prompter. The native alert is deferred so evaluation
// does not block on the modal.
func (o *Overlay) Alert(ctx context.Context, msg string) error {
	o.remove()
	_, err := o.page.Context(ctx).Eval(`(msg) => { setTimeout(() => alert(msg), 0); }`, msg)
	return err
}

func (o *Overlay) remove() {
	_, _ = o.page.Eval(removeJS, overlayID)
}
