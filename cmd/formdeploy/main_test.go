package main

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"formdeploy/internal/config"
	"formdeploy/internal/message"
	"formdeploy/internal/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "formdeploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("state_dir: "+dir+"\n"), 0644))
	return path, dir
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	addr = ""
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "upload", "status", "options"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestOptionsSetAndReset(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	optsPath := filepath.Join(dir, "options.json")

	require.NoError(t, execute(t, "--config", cfgPath, "options", "set", "--upload-timeout", "45", "--auto-submit=false"))
	opts, err := config.LoadOptions(optsPath)
	require.NoError(t, err)
	assert.Equal(t, config.Options{AutoSubmit: false, UploadTimeout: 45}, opts)

	require.NoError(t, execute(t, "--config", cfgPath, "options", "reset", "--yes"))
	opts, err = config.LoadOptions(optsPath)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultOptions(), opts)

	require.NoError(t, execute(t, "--config", cfgPath, "options", "show"))
}

type recordingRelay struct {
	mu  sync.Mutex
	got []message.Message
}

func (r *recordingRelay) SendToBackground(ctx context.Context, from message.Sender, msg message.Message) (message.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
	if msg.Type == message.TypeGetDeploymentData {
		return message.Response{Success: true, Data: &message.DeploymentContext{
			FormID:       "household",
			UploadResult: &message.UploadResult{Success: true, Message: "Form uploaded successfully", Timestamp: time.Now()},
		}}, nil
	}
	return message.OK("Upload started"), nil
}

type staticOptions struct{ opts config.Options }

func (s *staticOptions) Current() config.Options                        { return s.opts }
func (s *staticOptions) Update(o config.Options) (config.Options, error) { s.opts = o; return o, nil }
func (s *staticOptions) Reset() (config.Options, error)                  { s.opts = config.DefaultOptions(); return s.opts, nil }

func TestUploadCommand(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	r := &recordingRelay{}
	ts := httptest.NewServer(server.New(config.ServerConfig{}, r, &staticOptions{}).Handler())
	defer ts.Close()

	def := filepath.Join(dir, "household.xlsx")
	media := filepath.Join(dir, "villages.csv")
	require.NoError(t, os.WriteFile(def, []byte("PK\x03\x04definition"), 0644))
	require.NoError(t, os.WriteFile(media, []byte("id,name\n1,Kibera\n"), 0644))

	err := execute(t, "--config", cfgPath, "--addr", ts.URL, "upload", def,
		"--form-id", "household", "--attach", media, "-m", "fix skip logic", "--wait")
	require.NoError(t, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.got)
	up := r.got[0]
	assert.Equal(t, message.TypeUploadForm, up.Type)
	assert.Equal(t, "household", up.FormID)
	assert.Equal(t, "household.xlsx", up.FileName)
	assert.Equal(t, "fix skip logic", up.Message)
	require.Len(t, up.AttachmentBlobs, 1)
	assert.Equal(t, "villages.csv", up.AttachmentBlobs[0].Name)
	assert.True(t, strings.HasPrefix(up.AttachmentBlobs[0].MimeType, "text/"), up.AttachmentBlobs[0].MimeType)
	assert.Equal(t, message.TypeGetDeploymentData, r.got[len(r.got)-1].Type)
}

func TestRenderStatus(t *testing.T) {
	assert.Contains(t, renderStatus(nil), "No deployment yet")

	inFlight := &message.DeploymentContext{FormID: "census", FileName: "census.xlsx", FileBlob: message.Blob("abc")}
	out := renderStatus(inFlight)
	assert.Contains(t, out, "census.xlsx (3 bytes)")
	assert.Contains(t, out, "Upload in progress...")

	inFlight.UploadResult = &message.UploadResult{Success: false, Message: "Upload dialog did not appear", Timestamp: time.Now()}
	assert.Contains(t, renderStatus(inFlight), "Upload dialog did not appear")
}

func TestStatusModel(t *testing.T) {
	m := newStatusModel(nil, time.Millisecond)

	next, cmd := m.Update(deploymentMsg{data: &message.DeploymentContext{FormID: "census"}})
	m = next.(statusModel)
	assert.False(t, m.done)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "waiting for result")

	next, _ = m.Update(deploymentMsg{data: &message.DeploymentContext{
		FormID:       "census",
		UploadResult: &message.UploadResult{Success: true, Message: "Form uploaded successfully"},
	}})
	m = next.(statusModel)
	assert.True(t, m.done)
	assert.Contains(t, m.View(), "Form uploaded successfully")
	assert.NotContains(t, m.View(), "waiting for result")
}
