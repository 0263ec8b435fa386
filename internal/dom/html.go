package dom

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ClickHook reacts to a click on an element matching its selector. It runs
// with the document locked and may edit the tree through root.
type ClickHook func(target, root *goquery.Selection)

type clickHook struct {
	selector string
	fn       ClickHook
}

// HTMLDocument is an in-memory Document built from markup. Clicks run
// registered hooks (and toggle checkboxes), files set on inputs are
// recorded, and every edit notifies observers. It stands in for a live page
// wherever page behaviour has to be replayed without a browser.
type HTMLDocument struct {
	mu        sync.Mutex
	doc       *goquery.Document
	hooks     []clickHook
	files     map[*html.Node][]File
	clicks    []string
	observers map[int]chan struct{}
	nextObs   int
}

// ParseHTML builds a document from markup.
func ParseHTML(markup string) (*HTMLDocument, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &HTMLDocument{
		doc:       doc,
		files:     make(map[*html.Node][]File),
		observers: make(map[int]chan struct{}),
	}, nil
}

// MustParseHTML is ParseHTML that panics on error.
func MustParseHTML(markup string) *HTMLDocument {
	d, err := ParseHTML(markup)
	if err != nil {
		panic(err)
	}
	return d
}

// OnClick registers fn for clicks on elements matching selector.
func (d *HTMLDocument) OnClick(selector string, fn ClickHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, clickHook{selector: selector, fn: fn})
}

// Mutate edits the tree and notifies observers.
func (d *HTMLDocument) Mutate(fn func(root *goquery.Selection)) {
	d.mu.Lock()
	fn(d.doc.Selection)
	d.mu.Unlock()
	d.notify()
}

// All implements Document.
func (d *HTMLDocument) All(ctx context.Context, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	sel := d.doc.Find(selector)
	out := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &htmlElement{
			Snapshot: d.snapshot(s),
			doc:      d,
			node:     s.Nodes[0],
		})
	})
	return out, nil
}

// Observe implements Observer.
func (d *HTMLDocument) Observe(ctx context.Context) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = ch
	d.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			d.mu.Unlock()
		})
	}
	return ch, stop, nil
}

// Observers returns the number of connected observers.
func (d *HTMLDocument) Observers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observers)
}

// Clicks returns the trimmed text (or label) of every clicked element.
func (d *HTMLDocument) Clicks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.clicks...)
}

// FilesAt returns the files set on the i-th element matching selector.
func (d *HTMLDocument) FilesAt(selector string, i int) []File {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := d.doc.Find(selector)
	if i < 0 || i >= sel.Length() {
		return nil
	}
	return d.files[sel.Nodes[i]]
}

// HTML renders the current tree.
func (d *HTMLDocument) HTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out, _ := goquery.OuterHtml(d.doc.Selection)
	return out
}

func (d *HTMLDocument) notify() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.observers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (d *HTMLDocument) attached(n *html.Node) bool {
	root := d.doc.Nodes[0]
	for ; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}

func (d *HTMLDocument) snapshot(s *goquery.Selection) Snapshot {
	node := s.Nodes[0]
	attrs := make(map[string]string, len(node.Attr))
	for _, a := range node.Attr {
		attrs[a.Key] = a.Val
	}
	_, disabled := attrs["disabled"]
	_, checked := attrs["checked"]
	return Snapshot{
		TagName:     goquery.NodeName(s),
		TextContent: s.Text(),
		LabelText:   d.label(s, attrs),
		Attrs:       attrs,
		RoleName:    attrs["role"],
		IsDisabled:  disabled || attrs["aria-disabled"] == "true",
		IsChecked:   checked || attrs["aria-checked"] == "true",
		Children:    s.Children().Length(),
	}
}

func (d *HTMLDocument) label(s *goquery.Selection, attrs map[string]string) string {
	if v := attrs["aria-label"]; v != "" {
		return strings.TrimSpace(v)
	}
	if id := attrs["id"]; id != "" {
		if l := d.doc.Find(fmt.Sprintf(`label[for=%q]`, id)); l.Length() > 0 {
			return strings.TrimSpace(l.First().Text())
		}
	}
	if l := s.Closest("label"); l.Length() > 0 {
		return strings.TrimSpace(l.Text())
	}
	if !containerLabels(goquery.NodeName(s), attrs["role"]) {
		return ""
	}
	return strings.TrimSpace(s.Parent().Text())
}

type htmlElement struct {
	Snapshot
	doc  *HTMLDocument
	node *html.Node
}

func (e *htmlElement) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := e.doc
	d.mu.Lock()
	if !d.attached(e.node) {
		d.mu.Unlock()
		return ErrStale
	}
	sel := d.doc.FindNodes(e.node)
	if _, disabled := sel.Attr("disabled"); disabled {
		d.mu.Unlock()
		return nil
	}

	toggleChecked(sel)
	name := strings.TrimSpace(sel.Text())
	if name == "" {
		name = e.Label()
	}
	d.clicks = append(d.clicks, name)
	for _, h := range d.hooks {
		if sel.Is(h.selector) {
			h.fn(sel, d.doc.Selection)
		}
	}
	d.mu.Unlock()
	d.notify()
	return nil
}

func (e *htmlElement) SetFiles(ctx context.Context, files []File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.IsFileInput() {
		return ErrNotFileInput
	}
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.attached(e.node) {
		return ErrStale
	}
	d.files[e.node] = append([]File(nil), files...)
	return nil
}

func toggleChecked(sel *goquery.Selection) {
	typ, _ := sel.Attr("type")
	if goquery.NodeName(sel) == "input" && (typ == "checkbox" || typ == "radio") {
		if _, on := sel.Attr("checked"); on && typ == "checkbox" {
			sel.RemoveAttr("checked")
		} else {
			sel.SetAttr("checked", "")
		}
		return
	}
	if role, _ := sel.Attr("role"); role == "switch" || role == "checkbox" {
		if v, _ := sel.Attr("aria-checked"); v == "true" {
			sel.SetAttr("aria-checked", "false")
		} else {
			sel.SetAttr("aria-checked", "true")
		}
	}
}
