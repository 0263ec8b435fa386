package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"formdeploy/internal/dom"
	"formdeploy/internal/message"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func elements(t *testing.T, markup string) []dom.Element {
	t.Helper()
	doc := dom.MustParseHTML(markup)
	els, err := doc.All(context.Background(), "body *")
	require.NoError(t, err)
	return els
}

func TestExtractForms(t *testing.T) {
	els := elements(t, `<body><div role="dialog">
		<p>Form uploaded successfully.</p>
		<ul>
			<li>Form ID: household_v2, Deployed version: 12</li>
			<li>Form ID:  roster ,  Deployed version: 3</li>
			<li><span>Form ID: household_v2, Deployed version: 12</span></li>
		</ul>
	</div></body>`)

	got := ExtractForms(els)
	want := []DeployedForm{
		{FormID: "household_v2", Version: "12"},
		{FormID: "roster", Version: "3"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractForms mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractSkipsLargeContainers(t *testing.T) {
	filler := "This container describes many things and repeats its children's text, which is long enough to skip. "
	// The statement only exists across the container's children, and the
	// container's text is too long to count.
	els := elements(t, `<body><section>`+filler+`Form ID: <b>q</b>, Deployed version: 5</section></body>`)
	assert.Empty(t, ExtractForms(els))

	// A container with children but short text still counts.
	els = elements(t, `<body><div>Form ID: a, Deployed version: 1<i></i></div></body>`)
	assert.Equal(t, []DeployedForm{{FormID: "a", Version: "1"}}, ExtractForms(els))

	// Leaves count regardless of length.
	long := `<body><p>` + filler + `Form ID: b, Deployed version: 9</p></body>`
	assert.Equal(t, []DeployedForm{{FormID: "b", Version: "9"}}, ExtractForms(elements(t, long)))
}

func TestExtractTakesFirstStatementPerElement(t *testing.T) {
	els := elements(t, `<body><p>Form ID: a, Deployed version: 1. Form ID: b, Deployed version: 2</p></body>`)
	assert.Equal(t, []DeployedForm{{FormID: "a", Version: "1"}}, ExtractForms(els))
}

func TestDedupe(t *testing.T) {
	in := []DeployedForm{{"a", "1"}, {"a", "2"}, {"a", "1"}, {"b", "1"}}
	assert.Equal(t, []DeployedForm{{"a", "1"}, {"a", "2"}, {"b", "1"}}, Dedupe(in))
}

func TestResolve(t *testing.T) {
	forms := []DeployedForm{{"x", "1"}, {"y", "2"}, {"z", "3"}}

	got, ok := Resolve(forms, []string{"y", "z"})
	require.True(t, ok)
	assert.Equal(t, DeployedForm{"y", "2"}, got)

	got, ok = Resolve(forms, nil)
	require.True(t, ok)
	assert.Equal(t, DeployedForm{"z", "3"}, got)

	_, ok = Resolve(nil, []string{"y"})
	assert.False(t, ok)
}

type fakeBus struct {
	mu     sync.Mutex
	known  []string
	logRes message.Response
	logged []message.Message
}

func (b *fakeBus) SendToBackground(ctx context.Context, from message.Sender, msg message.Message) (message.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch msg.Type {
	case message.TypeGetFormIDs:
		return message.Response{Success: true, FormIDs: b.known}, nil
	case message.TypeLogDeployment:
		b.logged = append(b.logged, msg)
		return b.logRes, nil
	}
	return message.Fail("unexpected"), nil
}

func (b *fakeBus) logs() []message.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]message.Message(nil), b.logged...)
}

type fakePrompter struct {
	mu        sync.Mutex
	notes     string
	submit    bool
	prompted  []DeployedForm
	confirmed []DeployedForm
	alerts    []string
}

func (p *fakePrompter) Prompt(ctx context.Context, form DeployedForm) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompted = append(p.prompted, form)
	return p.notes, p.submit, nil
}

func (p *fakePrompter) Confirm(ctx context.Context, form DeployedForm, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, form)
	return nil
}

func (p *fakePrompter) Alert(ctx context.Context, msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, msg)
	return nil
}

func (p *fakePrompter) counts() (prompted, confirmed, alerts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompted), len(p.confirmed), len(p.alerts)
}

func fastTiming() Timing {
	return Timing{Settle: 5 * time.Millisecond, PromptDelay: 5 * time.Millisecond, Confirm: 5 * time.Millisecond, Rearm: 5 * time.Millisecond}
}

const successDialog = `<div role="dialog" id="done"><p>Form uploaded successfully</p>` +
	`<p>Form ID: census, Deployed version: 4</p><p>Form ID: roster, Deployed version: 2</p></div>`

func startWatcher(t *testing.T, doc *dom.HTMLDocument, bus *fakeBus, p *fakePrompter) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := New(message.Sender{TabID: "platform-1"}, doc, bus, p, WithTiming(fastTiming()))
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		<-w.Done()
	})
	require.Eventually(t, func() bool { return doc.Observers() == 1 }, time.Second, 5*time.Millisecond)
}

func showDialog(doc *dom.HTMLDocument) {
	doc.Mutate(func(root *goquery.Selection) { root.Find("body").AppendHtml(successDialog) })
}

func hideDialog(doc *dom.HTMLDocument) {
	doc.Mutate(func(root *goquery.Selection) { root.Find("#done").Remove() })
}

func TestWatcherLogsDeployment(t *testing.T) {
	doc := dom.MustParseHTML(`<body><main>Forms</main></body>`)
	bus := &fakeBus{known: []string{"roster"}, logRes: message.OK("Deployment logged")}
	p := &fakePrompter{notes: "fixed constraint", submit: true}
	startWatcher(t, doc, bus, p)

	showDialog(doc)

	require.Eventually(t, func() bool { return len(bus.logs()) == 1 }, 2*time.Second, 5*time.Millisecond)
	got := bus.logs()[0]
	assert.Equal(t, "roster", got.FormID)
	assert.Equal(t, "2", got.DeployedVersion)
	assert.Equal(t, "fixed constraint", got.Message)

	require.Eventually(t, func() bool {
		_, confirmed, _ := p.counts()
		return confirmed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWatcherFallsBackToLastForm(t *testing.T) {
	doc := dom.MustParseHTML(`<body></body>`)
	bus := &fakeBus{logRes: message.OK("ok")}
	p := &fakePrompter{submit: true}
	startWatcher(t, doc, bus, p)

	showDialog(doc)
	require.Eventually(t, func() bool { return len(bus.logs()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "roster", bus.logs()[0].FormID)
}

func TestWatcherCancelRearms(t *testing.T) {
	doc := dom.MustParseHTML(`<body></body>`)
	bus := &fakeBus{logRes: message.OK("ok")}
	p := &fakePrompter{submit: false}
	startWatcher(t, doc, bus, p)

	showDialog(doc)
	require.Eventually(t, func() bool {
		prompted, _, _ := p.counts()
		return prompted == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, bus.logs())

	// The same dialog staying on screen is not detected twice.
	require.Eventually(t, func() bool { return doc.Observers() == 1 }, time.Second, 5*time.Millisecond)
	doc.Mutate(func(root *goquery.Selection) { root.Find("body").AppendHtml(`<span>noise</span>`) })
	time.Sleep(50 * time.Millisecond)
	prompted, _, _ := p.counts()
	assert.Equal(t, 1, prompted)

	hideDialog(doc)
	time.Sleep(30 * time.Millisecond)
	showDialog(doc)
	require.Eventually(t, func() bool {
		prompted, _, _ := p.counts()
		return prompted == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWatcherAlertsOnLogFailure(t *testing.T) {
	doc := dom.MustParseHTML(`<body></body>`)
	bus := &fakeBus{logRes: message.Fail("No Google Sheets tab open")}
	p := &fakePrompter{submit: true}
	startWatcher(t, doc, bus, p)

	showDialog(doc)
	require.Eventually(t, func() bool {
		_, _, alerts := p.counts()
		return alerts == 1
	}, 2*time.Second, 5*time.Millisecond)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, "Error logging deployment: No Google Sheets tab open", p.alerts[0])
	assert.Empty(t, p.confirmed)
}

func TestWatcherIgnoresUnrelatedDialogs(t *testing.T) {
	doc := dom.MustParseHTML(`<body></body>`)
	bus := &fakeBus{}
	p := &fakePrompter{submit: true}
	startWatcher(t, doc, bus, p)

	doc.Mutate(func(root *goquery.Selection) {
		root.Find("body").AppendHtml(`<div role="dialog">Form ID: x, Deployed version: 1</div>`)
	})
	time.Sleep(50 * time.Millisecond)
	prompted, _, _ := p.counts()
	assert.Zero(t, prompted)
}

func TestWatcherNoFormsFound(t *testing.T) {
	doc := dom.MustParseHTML(`<body></body>`)
	bus := &fakeBus{}
	p := &fakePrompter{submit: true}
	startWatcher(t, doc, bus, p)

	doc.Mutate(func(root *goquery.Selection) {
		root.Find("body").AppendHtml(`<div role="dialog" id="done">Form uploaded successfully</div>`)
	})
	time.Sleep(50 * time.Millisecond)
	prompted, _, _ := p.counts()
	assert.Zero(t, prompted)

	// Still watching afterwards.
	require.Eventually(t, func() bool { return doc.Observers() == 1 }, time.Second, 5*time.Millisecond)
}
