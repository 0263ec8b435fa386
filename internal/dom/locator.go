package dom

import (
	"context"
	"fmt"
	"time"
)

// DefaultPollInterval is how often WaitFor re-queries the document.
const DefaultPollInterval = 100 * time.Millisecond

// Locator finds elements in a Document.
type Locator struct {
	doc      Document
	interval time.Duration
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithPollInterval sets the WaitFor polling interval.
func WithPollInterval(d time.Duration) LocatorOption {
	return func(l *Locator) {
		if d > 0 {
			l.interval = d
		}
	}
}

// NewLocator wraps doc.
func NewLocator(doc Document, opts ...LocatorOption) *Locator {
	l := &Locator{doc: doc, interval: DefaultPollInterval}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Document returns the underlying document.
func (l *Locator) Document() Document {
	return l.doc
}

// FindAll returns every element matching selector and pred, in document order.
func (l *Locator) FindAll(ctx context.Context, selector string, pred Predicate) ([]Element, error) {
	all, err := l.doc.All(ctx, selector)
	if err != nil {
		return nil, err
	}
	if pred == nil {
		return all, nil
	}
	var out []Element
	for _, el := range all {
		if pred(el) {
			out = append(out, el)
		}
	}
	return out, nil
}

// Find returns the first element matching selector and pred.
func (l *Locator) Find(ctx context.Context, selector string, pred Predicate) (Element, error) {
	found, err := l.FindAll(ctx, selector, pred)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return found[0], nil
}

// Count returns how many elements match.
func (l *Locator) Count(ctx context.Context, selector string, pred Predicate) (int, error) {
	found, err := l.FindAll(ctx, selector, pred)
	return len(found), err
}

// WaitFor polls until an element matches or timeout elapses.
func (l *Locator) WaitFor(ctx context.Context, selector string, pred Predicate, timeout time.Duration) (Element, error) {
	var found Element
	err := l.WaitUntil(ctx, timeout, func(ctx context.Context) (bool, error) {
		el, err := l.Find(ctx, selector, pred)
		if err != nil {
			return false, nil
		}
		found = el
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s after %s", ErrNotFound, selector, timeout)
	}
	return found, nil
}

// WaitUntil polls cond until it returns true, returns an error, or timeout
// elapses. The condition is checked once immediately.
func (l *Locator) WaitUntil(ctx context.Context, timeout time.Duration, cond func(context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
