package browser

import (
	"context"
	"fmt"

	"formdeploy/internal/logging"
	"formdeploy/internal/message"
	"formdeploy/internal/relay"

	"github.com/go-rod/rod"
)

// ScriptContext is what an attached page script gets to work with.
type ScriptContext struct {
	Tab  Tab
	Page *rod.Page
	Hub  *relay.Hub
}

// Sender identifies the tab as a message sender.
func (sc ScriptContext) Sender() message.Sender {
	return message.Sender{TabID: sc.Tab.ID, URL: sc.Tab.URL}
}

// Document returns a dom.Document over the tab's page.
func (sc ScriptContext) Document() *PageDocument {
	return NewPageDocument(sc.Page)
}

// Attachment is a script bound to one document. Handler (may be nil)
// receives messages addressed to the tab. Start (may be nil) runs once the
// handler is registered, so anything it sends can already be answered.
type Attachment struct {
	Handler relay.Handler
	Start   func(ctx context.Context)
}

// AttachFunc binds a script to a freshly loaded document. ctx is cancelled
// when the document goes away. AttachFunc must not block: long-running
// work belongs in Start, in goroutines bound to ctx.
type AttachFunc func(ctx context.Context, sc ScriptContext) (Attachment, error)

// Script is a page script bound to documents whose URL matches one of
// Matches.
type Script struct {
	Name    string
	Matches []string
	Attach  AttachFunc

	patterns []MatchPattern
}

func (s *Script) compile() error {
	if s.Attach == nil {
		return fmt.Errorf("script %s: no attach func", s.Name)
	}
	s.patterns = s.patterns[:0]
	for _, raw := range s.Matches {
		p, err := ParseMatchPattern(raw)
		if err != nil {
			return fmt.Errorf("script %s: %w", s.Name, err)
		}
		s.patterns = append(s.patterns, p)
	}
	return nil
}

// MatchesURL reports whether the script applies to url.
func (s Script) MatchesURL(url string) bool {
	for _, p := range s.patterns {
		if p.Match(url) {
			return true
		}
	}
	return false
}

// binding is the combined attachment of every script matching a document.
type binding struct {
	names   []string
	handler relay.Handler
	starts  []func(context.Context)
}

// bindScripts attaches scripts to a document without starting them.
func bindScripts(ctx context.Context, sc ScriptContext, scripts []Script) binding {
	var b binding
	var handlers []relay.Handler
	for _, s := range scripts {
		att, err := s.Attach(ctx, sc)
		if err != nil {
			logging.BrowserError("Tab %s: attaching %s failed: %v", sc.Tab.ID, s.Name, err)
			continue
		}
		b.names = append(b.names, s.Name)
		if att.Handler != nil {
			handlers = append(handlers, att.Handler)
		}
		if att.Start != nil {
			b.starts = append(b.starts, att.Start)
		}
	}
	if len(handlers) > 0 {
		b.handler = relay.Chain(handlers...)
	}
	return b
}

func (b binding) start(ctx context.Context) {
	for _, fn := range b.starts {
		fn(ctx)
	}
}
