// Package bridge is the spreadsheet-page script: it answers the
// coordinator's form-ID and deployment-log requests by calling the
// spreadsheet's macro functions.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"formdeploy/internal/logging"
	"formdeploy/internal/message"
	"formdeploy/internal/relay"
)

// Macro names.
const (
	FnGetFormIDs    = "getAllFormIds"
	FnLogDeployment = "logDeploymentWithVersion"
)

// ErrNoRuntime is returned when the tab has no macro runtime attached.
var ErrNoRuntime = errors.New("bridge: no macro runtime")

// Bridge answers GET_FORM_IDS and LOG_DEPLOYMENT for one spreadsheet tab.
type Bridge struct {
	runtime MacroRuntime
}

// New creates a bridge over runtime.
func New(runtime MacroRuntime) *Bridge {
	return &Bridge{runtime: runtime}
}

func (b *Bridge) call(ctx context.Context, fn string, args ...interface{}) (Result, error) {
	if b.runtime == nil {
		return Result{}, ErrNoRuntime
	}
	return b.runtime.Call(ctx, fn, args...)
}

// Handle is the relay handler for the spreadsheet tab.
func (b *Bridge) Handle(ctx context.Context, req relay.Request) (message.Response, error) {
	switch req.Msg.Type {
	case message.TypeGetFormIDs:
		return b.FormIDs(ctx), nil
	case message.TypeLogDeployment:
		return b.LogDeployment(ctx, req.Msg), nil
	}
	return message.Response{}, relay.ErrUnhandled
}

// FormIDs returns the spreadsheet's form IDs; failures yield an empty list.
func (b *Bridge) FormIDs(ctx context.Context) message.Response {
	resp := message.Response{Success: true, FormIDs: []string{}}

	res, err := b.call(ctx, FnGetFormIDs)
	if err != nil {
		logging.BridgeWarn("%s failed: %v", FnGetFormIDs, err)
		return resp
	}
	if !res.OK {
		logging.BridgeWarn("%s failed: %s", FnGetFormIDs, res.Error)
		return resp
	}
	ids, err := decodeIDs(res.Value)
	if err != nil {
		logging.BridgeWarn("%s returned unexpected data: %v", FnGetFormIDs, err)
		return resp
	}
	resp.FormIDs = ids
	logging.BridgeDebug("%d form IDs from spreadsheet", len(ids))
	return resp
}

// decodeIDs accepts a JSON array of IDs; non-string entries are formatted.
func decodeIDs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}, nil
	}
	var values []interface{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		switch t := v.(type) {
		case nil:
		case string:
			ids = append(ids, t)
		default:
			ids = append(ids, fmt.Sprint(t))
		}
	}
	return ids, nil
}

// LogDeployment writes a deployment record through the logging macro.
func (b *Bridge) LogDeployment(ctx context.Context, msg message.Message) message.Response {
	entry := message.LogEntry{
		FormID:          msg.FormID,
		DeployedVersion: msg.DeployedVersion,
		FormName:        msg.FormID,
		Message:         msg.Message,
	}
	if msg.Data != nil {
		entry = *msg.Data
	}

	res, err := b.call(ctx, FnLogDeployment, entry)
	if err != nil {
		logging.BridgeError("%s for %s failed: %v", FnLogDeployment, entry.FormID, err)
		return message.Fail(fmt.Sprintf("%s failed: %v", FnLogDeployment, err))
	}
	if !res.OK {
		logging.BridgeError("%s for %s failed: %s", FnLogDeployment, entry.FormID, res.Error)
		return message.Fail(fmt.Sprintf("%s failed: %s", FnLogDeployment, res.Error))
	}
	logging.Bridge("Logged %s v%s", entry.FormID, entry.DeployedVersion)
	return message.Response{Success: true, Message: "Deployment logged", Result: res.Value}
}
