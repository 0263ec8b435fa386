// Package message defines the structured messages exchanged between the
// coordinator, the page scripts and external triggers.
//
// JSON field names follow the wire contract used by the spreadsheet macro
// (fileBlob, formId, attachmentBlobs, deployedVersion ...), so the same
// payload can be posted over HTTP or relayed in-process.
package message

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type discriminates messages.
type Type string

const (
	TypeUploadForm        Type = "UPLOAD_FORM"
	TypeCheckPageReady    Type = "CHECK_PAGE_READY"
	TypePerformUpload     Type = "PERFORM_UPLOAD"
	TypeUploadComplete    Type = "UPLOAD_COMPLETE"
	TypeGetDeploymentData Type = "GET_DEPLOYMENT_DATA"
	TypeGetFormIDs        Type = "GET_FORM_IDS"
	TypeLogDeployment     Type = "LOG_DEPLOYMENT"
)

// SpreadsheetMIME is the content type given to uploaded form definitions.
const SpreadsheetMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var (
	ErrMissingType  = errors.New("message: missing type")
	ErrUnknownType  = errors.New("message: unknown type")
	ErrMissingField = errors.New("message: missing required field")
)

var knownTypes = map[Type]bool{
	TypeUploadForm:        true,
	TypeCheckPageReady:    true,
	TypePerformUpload:     true,
	TypeUploadComplete:    true,
	TypeGetDeploymentData: true,
	TypeGetFormIDs:        true,
	TypeLogDeployment:     true,
}

// TabID identifies a browser tab.
type TabID string

// Sender describes where a message came from. External triggers have no tab.
type Sender struct {
	TabID TabID  `json:"tabId,omitempty"`
	URL   string `json:"url,omitempty"`
}

// FromTab reports whether the sender is a page script running in a tab.
func (s Sender) FromTab() bool {
	return s.TabID != ""
}

// Blob is an opaque binary payload. On the JSON wire it is a base64 string;
// data URLs ("data:...;base64,....") are accepted as well.
type Blob []byte

// MarshalJSON encodes the blob as standard base64.
func (b Blob) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(b))
}

// UnmarshalJSON decodes base64 or data URL strings.
func (b *Blob) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("blob: expected base64 string: %w", err)
	}
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ";base64,"); i >= 0 {
			s = s[i+len(";base64,"):]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	*b = raw
	return nil
}

// File is a named payload, used for attachments.
type File struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Data     Blob   `json:"blob"`
}

// LogEntry is the argument passed to the spreadsheet's logging macro.
type LogEntry struct {
	FormID          string `json:"formId"`
	DeployedVersion string `json:"deployedVersion"`
	FormName        string `json:"formName"`
	Message         string `json:"message"`
}

// Message is the single envelope used for every message type. Only the
// fields relevant to Type are populated.
type Message struct {
	Type Type `json:"type"`

	// UPLOAD_FORM / PERFORM_UPLOAD
	ServerURL       string `json:"serverUrl,omitempty"`
	FormID          string `json:"formId,omitempty"`
	FileBlob        Blob   `json:"fileBlob,omitempty"`
	FileName        string `json:"fileName,omitempty"`
	Message         string `json:"message,omitempty"`
	AttachmentBlobs []File `json:"attachmentBlobs,omitempty"`

	// UPLOAD_COMPLETE
	Success bool `json:"success,omitempty"`

	// LOG_DEPLOYMENT
	DeployedVersion string `json:"deployedVersion,omitempty"`

	// Coordinator -> bridge
	Action string    `json:"action,omitempty"`
	Data   *LogEntry `json:"data,omitempty"`
}

// Validate checks that the fields required by the message type are set.
func (m Message) Validate() error {
	if m.Type == "" {
		return ErrMissingType
	}
	if !knownTypes[m.Type] {
		return fmt.Errorf("%w: %s", ErrUnknownType, m.Type)
	}
	switch m.Type {
	case TypeUploadForm:
		if strings.TrimSpace(m.FormID) == "" {
			return fmt.Errorf("%w: formId", ErrMissingField)
		}
		if len(m.FileBlob) == 0 {
			return fmt.Errorf("%w: fileBlob", ErrMissingField)
		}
	case TypeLogDeployment:
		if m.Data == nil && strings.TrimSpace(m.FormID) == "" {
			return fmt.Errorf("%w: formId", ErrMissingField)
		}
	}
	return nil
}

// UploadResult is the terminal outcome reported by the page agent.
type UploadResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DeploymentContext is the state of the single in-flight deployment.
type DeploymentContext struct {
	FileBlob        Blob          `json:"fileBlob"`
	FileName        string        `json:"fileName"`
	FormID          string        `json:"formId"`
	Message         string        `json:"message"`
	AttachmentBlobs []File        `json:"attachmentBlobs"`
	TabID           TabID         `json:"tabId,omitempty"`
	UploadResult    *UploadResult `json:"uploadResult,omitempty"`
}

// Clone returns a deep copy so snapshots never alias coordinator state.
func (d *DeploymentContext) Clone() *DeploymentContext {
	if d == nil {
		return nil
	}
	out := *d
	out.FileBlob = append(Blob(nil), d.FileBlob...)
	if d.AttachmentBlobs != nil {
		out.AttachmentBlobs = make([]File, len(d.AttachmentBlobs))
		for i, f := range d.AttachmentBlobs {
			f.Data = append(Blob(nil), f.Data...)
			out.AttachmentBlobs[i] = f
		}
	}
	if d.UploadResult != nil {
		r := *d.UploadResult
		out.UploadResult = &r
	}
	return &out
}

// Response is the reply to any message.
type Response struct {
	Success bool               `json:"success"`
	Message string             `json:"message,omitempty"`
	Error   string             `json:"error,omitempty"`
	TabID   TabID              `json:"tabId,omitempty"`
	FormIDs []string           `json:"formIds,omitempty"`
	Data    *DeploymentContext `json:"data,omitempty"`
	Result  json.RawMessage    `json:"result,omitempty"`

	// Snapshot marks a deployment-data reply, whose data key is present
	// even when no deployment exists.
	Snapshot bool `json:"-"`
}

// MarshalJSON writes formIds whenever the list is set, so an empty list
// stays [], and writes data as null for an empty snapshot.
func (r Response) MarshalJSON() ([]byte, error) {
	type wire Response
	out := struct {
		wire
		FormIDs *[]string       `json:"formIds,omitempty"`
		Data    json.RawMessage `json:"data,omitempty"`
	}{wire: wire(r)}

	if r.FormIDs != nil {
		ids := r.FormIDs
		out.FormIDs = &ids
	}
	switch {
	case r.Data != nil:
		data, err := json.Marshal(r.Data)
		if err != nil {
			return nil, err
		}
		out.Data = data
	case r.Snapshot:
		out.Data = json.RawMessage("null")
	}
	return json.Marshal(out)
}

// OK builds a successful response.
func OK(msg string) Response {
	return Response{Success: true, Message: msg}
}

// Fail builds a failed response.
func Fail(reason string) Response {
	return Response{Success: false, Error: reason}
}

// Err returns the failure as an error, or nil for successful responses.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == "" {
		return errors.New("request failed")
	}
	return errors.New(r.Error)
}
