package dom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><body>
  <div class="toolbar">
    <button id="add">+</button>
    <button disabled>Upload</button>
    <a href="#">Add form</a>
    <span role="button" aria-disabled="true">Archived</span>
  </div>
  <label for="attach">Attach files</label>
  <input id="attach" type="checkbox">
  <label>Form file <input type="file" name="form_def"></label>
  <div><span>Form ID: survey_a, Deployed version: 4</span></div>
</body></html>`

func TestSnapshotFields(t *testing.T) {
	doc := MustParseHTML(page)
	ctx := context.Background()

	els, err := doc.All(ctx, "button")
	require.NoError(t, err)
	require.Len(t, els, 2)
	assert.Equal(t, "button", els[0].Tag())
	assert.Equal(t, "+", els[0].Text())
	assert.False(t, els[0].Disabled())
	assert.True(t, els[1].Disabled())

	span, err := NewLocator(doc).Find(ctx, `[role="button"]`, nil)
	require.NoError(t, err)
	assert.Equal(t, "button", span.Role())
	assert.True(t, span.Disabled())

	box, err := NewLocator(doc).Find(ctx, "#attach", nil)
	require.NoError(t, err)
	assert.Equal(t, "Attach files", box.Label())
	assert.False(t, box.Checked())

	file, err := NewLocator(doc).Find(ctx, `input[type="file"]`, nil)
	require.NoError(t, err)
	assert.Equal(t, "Form file", file.Label())
	name, ok := file.Attr("name")
	assert.True(t, ok)
	assert.Equal(t, "form_def", name)
}

func TestOnlyControlsTakeContainerLabel(t *testing.T) {
	doc := MustParseHTML(`<body><div>Upload from local file
	  <button id="cancel">Cancel</button>
	  <input type="radio" id="local">
	  <span role="radio" id="aria-local"></span>
	</div></body>`)
	loc := NewLocator(doc)
	ctx := context.Background()

	cancel, err := loc.Find(ctx, "#cancel", nil)
	require.NoError(t, err)
	assert.Empty(t, cancel.Label())

	for _, sel := range []string{"#local", "#aria-local"} {
		el, err := loc.Find(ctx, sel, nil)
		require.NoError(t, err)
		assert.Contains(t, el.Label(), "Upload from local file", sel)
	}
}

func TestPredicates(t *testing.T) {
	doc := MustParseHTML(page)
	loc := NewLocator(doc)
	ctx := context.Background()
	clickable := `button, [role="button"], a`

	plus, err := loc.Find(ctx, clickable, TextEquals("+"))
	require.NoError(t, err)
	assert.Equal(t, "+", plus.Text())

	link, err := loc.Find(ctx, clickable, TextContains("ADD FORM"))
	require.NoError(t, err)
	assert.Equal(t, "a", link.Tag())

	n, err := loc.Count(ctx, clickable, Enabled)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = loc.Find(ctx, clickable, And(Enabled, TextEquals("Upload")))
	assert.ErrorIs(t, err, ErrNotFound)

	both, err := loc.FindAll(ctx, clickable, TextMatches([]string{"+"}, []string{"add form"}))
	require.NoError(t, err)
	assert.Len(t, both, 2)

	attach, err := loc.Find(ctx, "input", LabelContains("attach"))
	require.NoError(t, err)
	id, _ := attach.Attr("id")
	assert.Equal(t, "attach", id)

	named, err := loc.FindAll(ctx, "input", AttrContains("name", "FORM"))
	require.NoError(t, err)
	assert.Len(t, named, 1)

	notDisabled, err := loc.FindAll(ctx, "button", Not(Enabled))
	require.NoError(t, err)
	assert.Len(t, notDisabled, 1)
}

func TestClickRunsHooksAndNotifies(t *testing.T) {
	doc := MustParseHTML(page)
	ctx := context.Background()

	doc.OnClick("#add", func(target, root *goquery.Selection) {
		root.Find("body").AppendHtml(`<div role="dialog">Upload form definition</div>`)
	})

	changes, stop, err := doc.Observe(ctx)
	require.NoError(t, err)
	defer stop()

	add, err := NewLocator(doc).Find(ctx, "#add", nil)
	require.NoError(t, err)
	require.NoError(t, add.Click(ctx))

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("observer was not notified")
	}

	dialogs, err := doc.All(ctx, `[role="dialog"]`)
	require.NoError(t, err)
	assert.Len(t, dialogs, 1)
	assert.Equal(t, []string{"+"}, doc.Clicks())
}

func TestClickTogglesCheckbox(t *testing.T) {
	doc := MustParseHTML(page)
	ctx := context.Background()
	loc := NewLocator(doc)

	box, err := loc.Find(ctx, "#attach", nil)
	require.NoError(t, err)
	require.NoError(t, box.Click(ctx))

	box, err = loc.Find(ctx, "#attach", nil)
	require.NoError(t, err)
	assert.True(t, box.Checked())
}

func TestDisabledClickIsIgnored(t *testing.T) {
	doc := MustParseHTML(page)
	ctx := context.Background()
	upload, err := NewLocator(doc).Find(ctx, "button", TextEquals("Upload"))
	require.NoError(t, err)
	require.NoError(t, upload.Click(ctx))
	assert.Empty(t, doc.Clicks())
}

func TestStaleElement(t *testing.T) {
	doc := MustParseHTML(page)
	ctx := context.Background()
	add, err := NewLocator(doc).Find(ctx, "#add", nil)
	require.NoError(t, err)

	doc.Mutate(func(root *goquery.Selection) { root.Find("#add").Remove() })
	assert.ErrorIs(t, add.Click(ctx), ErrStale)
}

func TestSetFiles(t *testing.T) {
	doc := MustParseHTML(page)
	ctx := context.Background()
	loc := NewLocator(doc)

	input, err := loc.Find(ctx, `input[type="file"]`, nil)
	require.NoError(t, err)
	files := []File{{Name: "form.xlsx", MimeType: "application/x", Data: []byte("xx")}}
	require.NoError(t, input.SetFiles(ctx, files))
	assert.Equal(t, files, doc.FilesAt(`input[type="file"]`, 0))

	button, err := loc.Find(ctx, "#add", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, button.SetFiles(ctx, files), ErrNotFileInput)
}

func TestWaitForAppearsLater(t *testing.T) {
	doc := MustParseHTML(`<body></body>`)
	loc := NewLocator(doc, WithPollInterval(5*time.Millisecond))
	ctx := context.Background()

	go func() {
		time.Sleep(30 * time.Millisecond)
		doc.Mutate(func(root *goquery.Selection) {
			root.Find("body").AppendHtml(`<dialog open>Ready</dialog>`)
		})
	}()

	el, err := loc.WaitFor(ctx, "dialog[open]", nil, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Ready", el.Text())
}

func TestWaitForTimesOut(t *testing.T) {
	doc := MustParseHTML(`<body></body>`)
	loc := NewLocator(doc, WithPollInterval(5*time.Millisecond))

	start := time.Now()
	_, err := loc.WaitFor(context.Background(), ".modal", nil, 40*time.Millisecond)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Less(t, time.Since(start), time.Second)
}

func TestObserverStop(t *testing.T) {
	doc := MustParseHTML(`<body></body>`)
	_, stop, err := doc.Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Observers())
	stop()
	stop()
	assert.Equal(t, 0, doc.Observers())
}
