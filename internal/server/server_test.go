package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"formdeploy/internal/browser"
	"formdeploy/internal/config"
	"formdeploy/internal/coordinator"
	"formdeploy/internal/message"
	"formdeploy/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelay struct {
	mu    sync.Mutex
	got   []message.Message
	from  []message.Sender
	reply func(message.Message) (message.Response, error)
}

func (f *fakeRelay) SendToBackground(ctx context.Context, from message.Sender, msg message.Message) (message.Response, error) {
	f.mu.Lock()
	f.got = append(f.got, msg)
	f.from = append(f.from, from)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(msg)
	}
	return message.OK(string(msg.Type)), nil
}

type memOptions struct {
	mu   sync.Mutex
	opts config.Options
	err  error
}

func (m *memOptions) Current() config.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

func (m *memOptions) Update(o config.Options) (config.Options, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.opts, m.err
	}
	m.opts = o.Normalize()
	return m.opts, nil
}

func (m *memOptions) Reset() (config.Options, error) {
	return m.Update(config.DefaultOptions())
}

func newTestServer(t *testing.T, r Relay, cfg config.ServerConfig) (*httptest.Server, *memOptions) {
	t.Helper()
	opts := &memOptions{opts: config.DefaultOptions()}
	srv := New(cfg, r, opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, opts
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRelay{}, config.ServerConfig{})
	res, body := do(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

type fakeBrowser struct {
	connected bool
	tabs      []browser.Tab
}

func (f fakeBrowser) IsConnected() bool   { return f.connected }
func (f fakeBrowser) List() []browser.Tab { return f.tabs }

func TestHealthReportsBrowser(t *testing.T) {
	b := fakeBrowser{connected: true, tabs: []browser.Tab{{ID: "t1", URL: "https://acme.surveycto.com/main.html"}}}
	ts := httptest.NewServer(New(config.ServerConfig{}, &fakeRelay{}, &memOptions{}, WithBrowser(b)).Handler())
	defer ts.Close()

	_, body := do(t, http.MethodGet, ts.URL+"/health", "")
	assert.JSONEq(t, `{"status":"ok","browser":"connected"}`, string(body))

	res, body := do(t, http.MethodGet, ts.URL+"/api/tabs", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var tabs []browser.Tab
	require.NoError(t, json.Unmarshal(body, &tabs))
	require.Len(t, tabs, 1)
	assert.Equal(t, message.TabID("t1"), tabs[0].ID)
}

func TestTabsWithoutBrowser(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRelay{}, config.ServerConfig{})
	res, _ := do(t, http.MethodGet, ts.URL+"/api/tabs", "")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestPostUploadForm(t *testing.T) {
	r := &fakeRelay{}
	ts, _ := newTestServer(t, r, config.ServerConfig{})

	res, body := do(t, http.MethodPost, ts.URL+"/api/messages",
		`{"type":"UPLOAD_FORM","formId":"household","fileName":"household.xlsx","fileBlob":"UEsDBA==","serverUrl":"acme.surveycto.com"}`)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	var resp message.Response
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.Success)

	require.Len(t, r.got, 1)
	got := r.got[0]
	assert.Equal(t, message.TypeUploadForm, got.Type)
	assert.Equal(t, "household", got.FormID)
	assert.Equal(t, []byte("PK\x03\x04"), []byte(got.FileBlob))
	assert.False(t, r.from[0].FromTab(), "external senders carry no tab")
}

func TestPostRejectsInvalid(t *testing.T) {
	r := &fakeRelay{}
	ts, _ := newTestServer(t, r, config.ServerConfig{})

	for _, body := range []string{
		`{"type":"UPLOAD_FORM","formId":"x"}`,
		`{"type":"NOT_A_TYPE"}`,
		`{"formId":"x"}`,
		`{broken`,
	} {
		res, data := do(t, http.MethodPost, ts.URL+"/api/messages", body)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode, body)
		var resp message.Response
		require.NoError(t, json.Unmarshal(data, &resp))
		assert.False(t, resp.Success)
		assert.NotEmpty(t, resp.Error)
	}
	assert.Empty(t, r.got)
}

func TestRelayErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{relay.ErrNoReceiver, http.StatusServiceUnavailable},
		{relay.ErrTimeout, http.StatusGatewayTimeout},
		{fmt.Errorf("wrapped: %w", relay.ErrHandlerPanic), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		r := &fakeRelay{reply: func(message.Message) (message.Response, error) { return message.Response{}, tt.err }}
		ts, _ := newTestServer(t, r, config.ServerConfig{})
		res, _ := do(t, http.MethodGet, ts.URL+"/api/deployment", "")
		assert.Equal(t, tt.want, res.StatusCode, tt.err.Error())
	}
}

func TestDeploymentSnapshot(t *testing.T) {
	r := &fakeRelay{reply: func(msg message.Message) (message.Response, error) {
		require.Equal(t, message.TypeGetDeploymentData, msg.Type)
		return message.Response{Success: true, Data: &message.DeploymentContext{FormID: "census", FileName: "census.xlsx"}}, nil
	}}
	ts, _ := newTestServer(t, r, config.ServerConfig{})

	res, body := do(t, http.MethodGet, ts.URL+"/api/deployment", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var resp message.Response
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotNil(t, resp.Data)
	assert.Equal(t, "census", resp.Data.FormID)
}

type noTabs struct{}

func (noTabs) OpenTab(ctx context.Context, url string) (browser.Tab, error) {
	return browser.Tab{}, errors.New("no browser")
}

func (noTabs) Query(ctx context.Context, pattern string) ([]browser.Tab, error) {
	return nil, nil
}

func TestCoordinatorRepliesKeepEmptyValues(t *testing.T) {
	hub := relay.NewHub(relay.WithTimeout(time.Second))
	defer hub.Close()
	hub.SetBackground(coordinator.New(noTabs{}, hub, coordinator.Settings{}).Handle)
	ts, _ := newTestServer(t, hub, config.ServerConfig{})

	res, body := do(t, http.MethodPost, ts.URL+"/api/messages", `{"type":"GET_FORM_IDS"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"success":true,"formIds":[]}`, string(body))

	res, body = do(t, http.MethodGet, ts.URL+"/api/deployment", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"success":true,"data":null}`, string(body))
}

func TestOptionsRoutes(t *testing.T) {
	ts, store := newTestServer(t, &fakeRelay{}, config.ServerConfig{})

	res, body := do(t, http.MethodGet, ts.URL+"/api/options", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"autoSubmit":true,"uploadTimeout":30,"debugMode":false}`, string(body))

	res, body = do(t, http.MethodPut, ts.URL+"/api/options", `{"debugMode":true,"uploadTimeout":0}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"autoSubmit":true,"uploadTimeout":30,"debugMode":true}`, string(body))
	assert.True(t, store.Current().DebugMode)

	res, _ = do(t, http.MethodDelete, ts.URL+"/api/options", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, config.DefaultOptions(), store.Current())

	store.err = fmt.Errorf("disk full")
	res, _ = do(t, http.MethodPut, ts.URL+"/api/options", `{"autoSubmit":false}`)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestOptionsWithWatcherStore(t *testing.T) {
	ow, err := config.NewOptionsWatcher(filepath.Join(t.TempDir(), "options.json"))
	require.NoError(t, err)
	t.Cleanup(ow.Stop)

	ts := httptest.NewServer(New(config.ServerConfig{}, &fakeRelay{}, ow).Handler())
	defer ts.Close()

	res, _ := do(t, http.MethodPut, ts.URL+"/api/options", `{"autoSubmit":false}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	loaded, err := config.LoadOptions(ow.Path())
	require.NoError(t, err)
	assert.False(t, loaded.AutoSubmit)
}

func TestRateLimit(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRelay{}, config.ServerConfig{RateLimit: 0.001, RateBurst: 1})
	body := `{"type":"CHECK_PAGE_READY"}`

	res, _ := do(t, http.MethodPost, ts.URL+"/api/messages", body)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = do(t, http.MethodPost, ts.URL+"/api/messages", body)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)

	// Status reads are not limited.
	res, _ = do(t, http.MethodGet, ts.URL+"/api/deployment", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestBodyLimit(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRelay{}, config.ServerConfig{BodyLimit: "1K"})
	big := `{"type":"UPLOAD_FORM","formId":"f","fileBlob":"` + strings.Repeat("A", 4096) + `"}`
	res, _ := do(t, http.MethodPost, ts.URL+"/api/messages", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
}

func TestCORS(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRelay{}, config.ServerConfig{AllowedOrigins: []string{"https://docs.google.com"}})
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://docs.google.com")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, "https://docs.google.com", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestClient(t *testing.T) {
	r := &fakeRelay{reply: func(msg message.Message) (message.Response, error) {
		if msg.Type == message.TypeGetDeploymentData {
			return message.Response{Success: true}, nil
		}
		return message.OK("Upload started"), nil
	}}
	ts, _ := newTestServer(t, r, config.ServerConfig{})
	c := NewClient(strings.TrimPrefix(ts.URL, "http://"), 5*time.Second)

	resp, err := c.Send(context.Background(), message.Message{
		Type:     message.TypeUploadForm,
		FormID:   "f",
		FileName: "f.xlsx",
		FileBlob: message.Blob("data"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Upload started", resp.Message)

	_, err = c.Send(context.Background(), message.Message{Type: message.TypeUploadForm})
	require.Error(t, err)

	resp, err = c.Deployment(context.Background())
	require.NoError(t, err)
	assert.Nil(t, resp.Data)
}
