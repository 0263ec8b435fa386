package browser

import (
	"context"
	"testing"

	"formdeploy/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		url     string
		want    bool
	}{
		{"*://docs.google.com/spreadsheets/*", "https://docs.google.com/spreadsheets/d/abc/edit#gid=0", true},
		{"*://docs.google.com/spreadsheets/*", "http://docs.google.com/spreadsheets/", true},
		{"*://docs.google.com/spreadsheets/*", "https://docs.google.com/document/d/abc", false},
		{"*://docs.google.com/spreadsheets/*", "ftp://docs.google.com/spreadsheets/x", false},
		{"https://*.surveycto.com/*", "https://pspsicm.surveycto.com/main.html#Design", true},
		{"https://*.surveycto.com/*", "https://surveycto.com/", true},
		{"https://*.surveycto.com/*", "http://pspsicm.surveycto.com/main.html", false},
		{"https://*.surveycto.com/*", "https://evilsurveycto.com/", false},
		{"*://*/main.html*", "https://x.example.org/main.html?lang=en", true},
		{"<all_urls>", "https://anything.example/", true},
		{"<all_urls>", "chrome://settings", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.url, func(t *testing.T) {
			p, err := ParseMatchPattern(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.url))
		})
	}
}

func TestMatchPatternErrors(t *testing.T) {
	for _, bad := range []string{
		"docs.google.com/*",
		"gopher://host/*",
		"https://foo*.com/*",
		"https://host",
	} {
		_, err := ParseMatchPattern(bad)
		assert.Error(t, err, bad)
	}
}

func TestScriptMatching(t *testing.T) {
	attach := func(ctx context.Context, sc ScriptContext) (Attachment, error) { return Attachment{}, nil }

	s := Script{Name: "bridge", Matches: []string{"*://docs.google.com/spreadsheets/*"}, Attach: attach}
	require.NoError(t, s.compile())
	assert.True(t, s.MatchesURL("https://docs.google.com/spreadsheets/d/1"))
	assert.False(t, s.MatchesURL("https://example.com/"))

	bad := Script{Name: "broken", Matches: []string{"nope"}, Attach: attach}
	assert.Error(t, bad.compile())

	missing := Script{Name: "missing"}
	assert.Error(t, missing.compile())
}

func TestQueryWithoutBrowser(t *testing.T) {
	hub := relay.NewHub()
	defer hub.Close()
	m := NewTabManager(DefaultConfig(), hub)
	require.NoError(t, m.RegisterScript(Script{
		Name:    "noop",
		Matches: []string{"<all_urls>"},
		Attach:  func(ctx context.Context, sc ScriptContext) (Attachment, error) { return Attachment{}, nil },
	}))
	_, err := m.Query(context.Background(), "bad pattern")
	assert.Error(t, err)

	tabs, err := m.Query(context.Background(), "*://docs.google.com/spreadsheets/*")
	require.NoError(t, err)
	assert.Empty(t, tabs)
	assert.False(t, m.IsConnected())
}
