package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"formdeploy/internal/dom"

	"github.com/go-rod/rod"
	"github.com/google/uuid"
	"github.com/ysmood/gson"
)

// PageDocument implements dom.Document and dom.Observer over a rod page.
// A query is a single evaluation returning snapshots of every match;
// actions re-resolve the element by selector and index.
type PageDocument struct {
	page *rod.Page
}

// NewPageDocument wraps page.
func NewPageDocument(page *rod.Page) *PageDocument {
	return &PageDocument{page: page}
}

const describeJS = `(sel) => Array.from(document.querySelectorAll(sel)).map((el) => {
	const attrs = {};
	for (const a of Array.from(el.attributes || [])) attrs[a.name] = a.value;
	let label = el.getAttribute('aria-label') || '';
	if (!label && el.labels && el.labels.length) label = el.labels[0].textContent || '';
	if (!label) { const l = el.closest('label'); if (l) label = l.textContent || ''; }
	const control = ['INPUT', 'SELECT', 'TEXTAREA'].includes(el.tagName) ||
		['checkbox', 'radio', 'switch', 'option'].includes(el.getAttribute('role'));
	if (!label && control && el.parentElement) label = el.parentElement.textContent || '';
	return {
		tag: el.tagName.toLowerCase(),
		text: el.textContent || '',
		label: label.trim(),
		attrs: attrs,
		role: el.getAttribute('role') || '',
		disabled: !!el.disabled || el.getAttribute('aria-disabled') === 'true',
		checked: !!el.checked || el.getAttribute('aria-checked') === 'true',
		children: el.children.length,
	};
})`

const clickJS = `(sel, i) => {
	const el = document.querySelectorAll(sel)[i];
	if (!el) return false;
	el.click();
	return true;
}`

// setFilesJS builds a FileList through DataTransfer and fires the events a
// user selection would.
const setFilesJS = `(sel, i, files) => {
	const el = document.querySelectorAll(sel)[i];
	if (!el) return false;
	const dt = new DataTransfer();
	for (const f of files) {
		const bin = atob(f.data);
		const bytes = new Uint8Array(bin.length);
		for (let j = 0; j < bin.length; j++) bytes[j] = bin.charCodeAt(j);
		dt.items.add(new File([bytes], f.name, { type: f.type }));
	}
	el.files = dt.files;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

// All implements dom.Document.
func (d *PageDocument) All(ctx context.Context, selector string) ([]dom.Element, error) {
	res, err := d.page.Context(ctx).Eval(describeJS, selector)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var snaps []dom.Snapshot
	if err := json.Unmarshal(raw, &snaps); err != nil {
		return nil, fmt.Errorf("decode %s: %w", selector, err)
	}

	out := make([]dom.Element, len(snaps))
	for i, s := range snaps {
		out[i] = &pageElement{Snapshot: s, doc: d, selector: selector, index: i}
	}
	return out, nil
}

// Observe implements dom.Observer with a MutationObserver on document.body
// reporting through an exposed binding. Mutations are coalesced into one
// notification per 50ms.
func (d *PageDocument) Observe(ctx context.Context) (<-chan struct{}, func(), error) {
	name := "__formdeployMutation_" + uuid.NewString()[:8]
	ch := make(chan struct{}, 1)

	stopExpose, err := d.page.Expose(name, func(gson.JSON) (interface{}, error) {
		select {
		case ch <- struct{}{}:
		default:
		}
		return nil, nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("expose mutation binding: %w", err)
	}

	_, err = d.page.Context(ctx).Eval(`(name) => {
		let pending = false;
		const obs = new MutationObserver(() => {
			if (pending) return;
			pending = true;
			setTimeout(() => { pending = false; window[name]({}).catch(() => {}); }, 50);
		});
		obs.observe(document.body || document.documentElement, { childList: true, subtree: true, characterData: true });
		window[name + '_observer'] = obs;
	}`, name)
	if err != nil {
		_ = stopExpose()
		return nil, nil, fmt.Errorf("install mutation observer: %w", err)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			_, _ = d.page.Eval(`(name) => {
			const obs = window[name + '_observer'];
			if (obs) obs.disconnect();
			delete window[name + '_observer'];
		}`, name)
			_ = stopExpose()
		})
	}
	return ch, stop, nil
}

type pageElement struct {
	dom.Snapshot
	doc      *PageDocument
	selector string
	index    int
}

func (e *pageElement) Click(ctx context.Context) error {
	res, err := e.doc.page.Context(ctx).Eval(clickJS, e.selector, e.index)
	if err != nil {
		return fmt.Errorf("click %s[%d]: %w", e.selector, e.index, err)
	}
	if !res.Value.Bool() {
		return dom.ErrStale
	}
	return nil
}

type filePayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

func (e *pageElement) SetFiles(ctx context.Context, files []dom.File) error {
	if !e.IsFileInput() {
		return dom.ErrNotFileInput
	}
	payload := make([]filePayload, len(files))
	for i, f := range files {
		payload[i] = filePayload{
			Name: f.Name,
			Type: f.MimeType,
			Data: base64.StdEncoding.EncodeToString(f.Data),
		}
	}
	res, err := e.doc.page.Context(ctx).Eval(setFilesJS, e.selector, e.index, payload)
	if err != nil {
		return fmt.Errorf("set files on %s[%d]: %w", e.selector, e.index, err)
	}
	if !res.Value.Bool() {
		return dom.ErrStale
	}
	return nil
}
