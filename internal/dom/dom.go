// Package dom is a small locator layer over a live page.
//
// Page automation never reaches into a browser directly. It queries a
// Document for element snapshots, filters them with predicates and acts on
// them through Click and SetFiles. Document is implemented over a rod page
// in package browser and over a parsed HTML tree by HTMLDocument.
package dom

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when no element satisfies a query.
	ErrNotFound = errors.New("dom: element not found")
	// ErrStale is returned when an element vanished before it was acted on.
	ErrStale = errors.New("dom: element is no longer attached")
	// ErrNotFileInput is returned by SetFiles on anything but a file input.
	ErrNotFileInput = errors.New("dom: element is not a file input")
)

// File is a payload placed into a file input.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Element is a snapshot of a page element plus the actions available on it.
type Element interface {
	Tag() string
	// Text is the raw text content, including descendants.
	Text() string
	// Label is the accessible label: aria-label, an associated <label>,
	// or, for form controls, the text of the enclosing container.
	Label() string
	Attr(name string) (string, bool)
	Role() string
	Disabled() bool
	Checked() bool
	ChildCount() int

	Click(ctx context.Context) error
	SetFiles(ctx context.Context, files []File) error
}

// Document answers CSS selector queries against the current page.
type Document interface {
	All(ctx context.Context, selector string) ([]Element, error)
}

// Observer reports DOM mutations. The channel receives a value (coalesced)
// whenever the subtree changes; stop disconnects the observer.
type Observer interface {
	Observe(ctx context.Context) (changes <-chan struct{}, stop func(), err error)
}

// Snapshot holds the data behind an Element. Implementations embed it and
// add the two actions.
type Snapshot struct {
	TagName     string            `json:"tag"`
	TextContent string            `json:"text"`
	LabelText   string            `json:"label"`
	Attrs       map[string]string `json:"attrs"`
	RoleName    string            `json:"role"`
	IsDisabled  bool              `json:"disabled"`
	IsChecked   bool              `json:"checked"`
	Children    int               `json:"children"`
}

func (s Snapshot) Tag() string     { return strings.ToLower(s.TagName) }
func (s Snapshot) Text() string    { return s.TextContent }
func (s Snapshot) Label() string   { return s.LabelText }
func (s Snapshot) Role() string    { return s.RoleName }
func (s Snapshot) Disabled() bool  { return s.IsDisabled }
func (s Snapshot) Checked() bool   { return s.IsChecked }
func (s Snapshot) ChildCount() int { return s.Children }

func (s Snapshot) Attr(name string) (string, bool) {
	v, ok := s.Attrs[name]
	return v, ok
}

// IsFileInput reports whether the snapshot is an <input type="file">.
func (s Snapshot) IsFileInput() bool {
	t, _ := s.Attr("type")
	return s.Tag() == "input" && strings.EqualFold(t, "file")
}

// containerLabels reports whether an element without its own label takes
// the text of its container instead. Only form controls do; a button's
// container text usually describes something else.
func containerLabels(tag, role string) bool {
	switch strings.ToLower(tag) {
	case "input", "select", "textarea":
		return true
	}
	switch role {
	case "checkbox", "radio", "switch", "option":
		return true
	}
	return false
}
