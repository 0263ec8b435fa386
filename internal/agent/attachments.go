package agent

import (
	"context"

	"formdeploy/internal/dom"
	"formdeploy/internal/logging"
	"formdeploy/internal/message"

	"github.com/gabriel-vasile/mimetype"
)

// Fill is the outcome of placing attachments into file inputs.
type Fill struct {
	Filled    int
	Shortfall int
}

// FillAttachments places one attachment into each file input other than
// the primary one, which holds the form definition, in page order.
// Attachments without an input are counted as shortfall; nothing is fatal.
func FillAttachments(ctx context.Context, inputs []dom.Element, primary int, files []message.File) Fill {
	var fill Fill
	slot := 0
	for _, f := range files {
		if slot == primary {
			slot++
		}
		if slot >= len(inputs) {
			break
		}
		if err := inputs[slot].SetFiles(ctx, []dom.File{attachmentFile(f)}); err != nil {
			logging.AgentWarn("Attachment %s could not be set on input %d: %v", f.Name, slot, err)
			slot++
			continue
		}
		slot++
		fill.Filled++
	}
	fill.Shortfall = len(files) - fill.Filled
	return fill
}

func attachmentFile(f message.File) dom.File {
	mime := f.MimeType
	if mime == "" {
		mime = mimetype.Detect(f.Data).String()
	}
	return dom.File{Name: f.Name, MimeType: mime, Data: f.Data}
}
