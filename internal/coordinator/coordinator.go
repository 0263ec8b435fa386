// Package coordinator owns the single in-flight deployment and routes
// messages between external triggers, the platform tab and the spreadsheet
// tab.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"formdeploy/internal/browser"
	"formdeploy/internal/logging"
	"formdeploy/internal/message"
	"formdeploy/internal/relay"
)

// Reasons reported in failed responses.
const (
	ReasonNoDeployment = "No deployment in progress"
	ReasonNoSheet      = "No Google Sheets tab open"
)

// Remote spreadsheet macro names.
const (
	ActionGetFormIDs    = "getAllFormIds"
	ActionLogDeployment = "logDeploymentWithVersion"
)

// TabOpener opens and finds browser tabs.
type TabOpener interface {
	OpenTab(ctx context.Context, url string) (browser.Tab, error)
	Query(ctx context.Context, pattern string) ([]browser.Tab, error)
}

// TabMessenger delivers a message to the scripts of one tab.
type TabMessenger interface {
	SendToTab(ctx context.Context, tab message.TabID, msg message.Message) (message.Response, error)
}

// Settings configures routing.
type Settings struct {
	// DefaultServer is used when UPLOAD_FORM carries no serverUrl.
	DefaultServer string
	// DesignPath is appended to the server host to reach the form designer.
	DesignPath string
	// SheetsPattern finds the spreadsheet tab.
	SheetsPattern string
	// TabWait bounds how long a readiness signal waits for the tab of a
	// just-started deployment to be recorded.
	TabWait time.Duration
	// SheetTimeout bounds each call into the spreadsheet tab.
	SheetTimeout time.Duration
}

// DefaultSettings returns the production routing settings.
func DefaultSettings() Settings {
	return Settings{
		DefaultServer: "pspsicm.surveycto.com",
		DesignPath:    "/main.html#Design",
		SheetsPattern: "*://docs.google.com/spreadsheets/*",
		TabWait:       5 * time.Second,
		SheetTimeout:  30 * time.Second,
	}
}

type deployment struct {
	data     message.DeploymentContext
	tabReady chan struct{}
}

// Coordinator is the background context.
type Coordinator struct {
	tabs     TabOpener
	relay    TabMessenger
	settings Settings
	now      func() time.Time

	mu      sync.RWMutex
	current *deployment
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source used for upload result timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator.
func New(tabs TabOpener, messenger TabMessenger, settings Settings, opts ...Option) *Coordinator {
	def := DefaultSettings()
	if settings.DefaultServer == "" {
		settings.DefaultServer = def.DefaultServer
	}
	if settings.DesignPath == "" {
		settings.DesignPath = def.DesignPath
	}
	if settings.SheetsPattern == "" {
		settings.SheetsPattern = def.SheetsPattern
	}
	if settings.TabWait <= 0 {
		settings.TabWait = def.TabWait
	}
	if settings.SheetTimeout <= 0 {
		settings.SheetTimeout = def.SheetTimeout
	}
	c := &Coordinator{tabs: tabs, relay: messenger, settings: settings, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PlatformURL builds the form designer URL for a server host. A scheme or
// trailing slash on server is tolerated.
func PlatformURL(server, designPath string) string {
	host := strings.TrimSpace(server)
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host = strings.TrimRight(host, "/")
	if !strings.HasPrefix(designPath, "/") {
		designPath = "/" + designPath
	}
	return "https://" + host + designPath
}

// Handle is the relay handler for messages addressed to the coordinator.
func (c *Coordinator) Handle(ctx context.Context, req relay.Request) (message.Response, error) {
	msg := req.Msg
	if err := msg.Validate(); err != nil {
		logging.CoordinatorWarn("Rejected %s from %q: %v", msg.Type, req.From.TabID, err)
		return message.Fail(err.Error()), nil
	}

	switch msg.Type {
	case message.TypeUploadForm:
		return c.UploadForm(ctx, msg), nil
	case message.TypeCheckPageReady:
		return c.CheckPageReady(ctx, req.From), nil
	case message.TypeUploadComplete:
		return c.UploadComplete(req.From, msg), nil
	case message.TypeGetDeploymentData:
		return message.Response{Success: true, Data: c.DeploymentData(), Snapshot: true}, nil
	case message.TypeGetFormIDs:
		return c.FormIDs(ctx), nil
	case message.TypeLogDeployment:
		return c.LogDeployment(ctx, msg), nil
	}
	return message.Fail(fmt.Sprintf("unsupported message type %s", msg.Type)), nil
}

// UploadForm starts a deployment, superseding any previous one, and opens
// the platform's form designer in a new tab.
func (c *Coordinator) UploadForm(ctx context.Context, msg message.Message) message.Response {
	d := &deployment{
		data: message.DeploymentContext{
			FileBlob:        msg.FileBlob,
			FileName:        msg.FileName,
			FormID:          msg.FormID,
			Message:         msg.Message,
			AttachmentBlobs: msg.AttachmentBlobs,
		},
		tabReady: make(chan struct{}),
	}
	if d.data.FileName == "" {
		d.data.FileName = msg.FormID + ".xlsx"
	}

	c.mu.Lock()
	if prev := c.current; prev != nil {
		logging.Coordinator("Deployment of %s superseded by %s", prev.data.FormID, msg.FormID)
	}
	c.current = d
	c.mu.Unlock()

	server := msg.ServerURL
	if strings.TrimSpace(server) == "" {
		server = c.settings.DefaultServer
	}
	url := PlatformURL(server, c.settings.DesignPath)
	logging.Coordinator("Deploying %s (%d bytes, %d attachments) via %s",
		msg.FormID, len(msg.FileBlob), len(msg.AttachmentBlobs), url)

	tab, err := c.tabs.OpenTab(ctx, url)

	c.mu.Lock()
	if err == nil && c.current == d {
		d.data.TabID = tab.ID
	}
	if err != nil && c.current == d {
		c.current = nil
	}
	c.mu.Unlock()
	close(d.tabReady)

	if err != nil {
		logging.CoordinatorError("Opening platform tab failed: %v", err)
		return message.Fail(fmt.Sprintf("failed to open platform tab: %v", err))
	}
	return message.Response{Success: true, TabID: tab.ID, Message: "Opened " + url}
}

// CheckPageReady forwards the upload command to the deployment's tab when
// the readiness signal comes from that tab.
func (c *Coordinator) CheckPageReady(ctx context.Context, from message.Sender) message.Response {
	if !from.FromTab() {
		logging.CoordinatorDebug("Readiness signal without a tab")
		return message.Fail(ReasonNoDeployment)
	}
	c.mu.RLock()
	d := c.current
	c.mu.RUnlock()
	if d == nil || len(d.data.FileBlob) == 0 {
		logging.CoordinatorDebug("Readiness from %q with no deployment", from.TabID)
		return message.Fail(ReasonNoDeployment)
	}

	select {
	case <-d.tabReady:
	case <-time.After(c.settings.TabWait):
	case <-ctx.Done():
		return message.Fail(ctx.Err().Error())
	}

	c.mu.RLock()
	same := c.current == d
	tab := d.data.TabID
	snapshot := d.data.Clone()
	c.mu.RUnlock()

	if !same || tab == "" || from.TabID != tab {
		logging.CoordinatorDebug("Ignoring readiness from %q (deployment tab %q)", from.TabID, tab)
		return message.Fail(ReasonNoDeployment)
	}

	cmd := message.Message{
		Type:            message.TypePerformUpload,
		FileBlob:        snapshot.FileBlob,
		FileName:        snapshot.FileName,
		FormID:          snapshot.FormID,
		Message:         snapshot.Message,
		AttachmentBlobs: snapshot.AttachmentBlobs,
	}
	resp, err := c.relay.SendToTab(ctx, tab, cmd)
	if err != nil {
		logging.CoordinatorError("Sending upload command to %s failed: %v", tab, err)
		return message.Fail(fmt.Sprintf("could not reach platform tab: %v", err))
	}
	if !resp.Success {
		return message.Fail(resp.Error)
	}
	logging.Coordinator("Upload of %s started in tab %s", snapshot.FormID, tab)
	return message.OK("Upload started")
}

// UploadComplete records the agent's terminal result. It is always
// acknowledged.
func (c *Coordinator) UploadComplete(from message.Sender, msg message.Message) message.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		logging.CoordinatorWarn("Upload result from %q with no deployment: %s", from.TabID, msg.Message)
		return message.OK("acknowledged")
	}
	c.current.data.UploadResult = &message.UploadResult{
		Success:   msg.Success,
		Message:   msg.Message,
		Timestamp: c.now().UTC(),
	}
	if msg.Success {
		logging.Coordinator("Upload of %s finished: %s", c.current.data.FormID, msg.Message)
	} else {
		logging.CoordinatorWarn("Upload of %s failed: %s", c.current.data.FormID, msg.Message)
	}
	return message.OK("acknowledged")
}

// DeploymentData returns a snapshot of the current deployment, or nil when
// none holds a file.
func (c *Coordinator) DeploymentData() *message.DeploymentContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil || len(c.current.data.FileBlob) == 0 {
		return nil
	}
	return c.current.data.Clone()
}

func (c *Coordinator) sheetTab(ctx context.Context) (message.TabID, bool) {
	tabs, err := c.tabs.Query(ctx, c.settings.SheetsPattern)
	if err != nil {
		logging.CoordinatorWarn("Querying spreadsheet tabs failed: %v", err)
		return "", false
	}
	if len(tabs) == 0 {
		return "", false
	}
	return tabs[0].ID, true
}

// FormIDs asks the spreadsheet for its known form IDs. Any failure yields
// an empty list.
func (c *Coordinator) FormIDs(ctx context.Context) message.Response {
	empty := message.Response{Success: true, FormIDs: []string{}}

	tab, ok := c.sheetTab(ctx)
	if !ok {
		logging.CoordinatorDebug("No spreadsheet tab for form IDs")
		return empty
	}

	ctx, cancel := context.WithTimeout(ctx, c.settings.SheetTimeout)
	defer cancel()
	resp, err := c.relay.SendToTab(ctx, tab, message.Message{Type: message.TypeGetFormIDs, Action: ActionGetFormIDs})
	if err != nil {
		logging.CoordinatorWarn("Could not reach spreadsheet tab %s: %v", tab, err)
		return empty
	}
	if resp.FormIDs == nil {
		return empty
	}
	return message.Response{Success: true, FormIDs: resp.FormIDs}
}

// LogDeployment forwards a deployment record to the spreadsheet.
func (c *Coordinator) LogDeployment(ctx context.Context, msg message.Message) message.Response {
	entry := message.LogEntry{
		FormID:          msg.FormID,
		DeployedVersion: msg.DeployedVersion,
		FormName:        msg.FormID,
		Message:         msg.Message,
	}
	if msg.Data != nil {
		entry = *msg.Data
	}

	tab, ok := c.sheetTab(ctx)
	if !ok {
		logging.CoordinatorWarn("Cannot log %s v%s: %s", entry.FormID, entry.DeployedVersion, ReasonNoSheet)
		return message.Fail(ReasonNoSheet)
	}

	ctx, cancel := context.WithTimeout(ctx, c.settings.SheetTimeout)
	defer cancel()
	resp, err := c.relay.SendToTab(ctx, tab, message.Message{
		Type:   message.TypeLogDeployment,
		Action: ActionLogDeployment,
		Data:   &entry,
	})
	if err != nil {
		logging.CoordinatorError("Logging %s to spreadsheet failed: %v", entry.FormID, err)
		return message.Fail(fmt.Sprintf("could not reach spreadsheet tab: %v", err))
	}
	if !resp.Success {
		reason := resp.Error
		if reason == "" {
			reason = "spreadsheet rejected the deployment log"
		}
		return message.Fail(reason)
	}
	logging.Coordinator("Logged %s v%s", entry.FormID, entry.DeployedVersion)
	return message.Response{Success: true, Message: "Deployment logged", Result: resp.Result}
}

// OnTabClosed notes a closed tab. The deployment context is kept.
func (c *Coordinator) OnTabClosed(tab message.TabID) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current != nil && c.current.data.TabID == tab {
		logging.Coordinator("Deployment tab %s closed", tab)
		return
	}
	logging.CoordinatorDebug("Tab %s closed", tab)
}
