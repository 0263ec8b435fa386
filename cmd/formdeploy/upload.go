package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"formdeploy/internal/message"
	"formdeploy/internal/server"

	"github.com/fatih/color"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	uploadFormID  string
	uploadServer  string
	uploadMessage string
	uploadAttach  []string
	uploadWait    bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <definition.xlsx>",
	Short: "Trigger a deployment on a running formdeploy server",
	Long: `Sends the form definition (and any attachments) to "formdeploy serve",
which opens the platform designer and runs the upload.

Example:
  formdeploy upload household.xlsx --form-id household --attach media.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadFormID, "form-id", "", "Form ID (required)")
	uploadCmd.Flags().StringVar(&uploadServer, "server", "", "Platform server host (default: platform.default_server)")
	uploadCmd.Flags().StringVarP(&uploadMessage, "message", "m", "", "Deployment note")
	uploadCmd.Flags().StringArrayVar(&uploadAttach, "attach", nil, "Attachment file (repeatable)")
	uploadCmd.Flags().BoolVar(&uploadWait, "wait", false, "Wait for the upload result")
	uploadCmd.MarkFlagRequired("form-id")
}

func readFile(path string) (message.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return message.File{}, fmt.Errorf("read %s: %w", path, err)
	}
	return message.File{
		Name:     filepath.Base(path),
		MimeType: mimetype.Detect(data).String(),
		Data:     message.Blob(data),
	}, nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	definition, err := readFile(args[0])
	if err != nil {
		return err
	}
	msg := message.Message{
		Type:      message.TypeUploadForm,
		ServerURL: uploadServer,
		FormID:    uploadFormID,
		FileName:  definition.Name,
		FileBlob:  definition.Data,
		Message:   uploadMessage,
	}
	for _, path := range uploadAttach {
		f, err := readFile(path)
		if err != nil {
			return err
		}
		msg.AttachmentBlobs = append(msg.AttachmentBlobs, f)
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	client := server.NewClient(addr, timeout)
	logger.Debug("Sending upload", zap.String("form_id", msg.FormID), zap.Int("attachments", len(msg.AttachmentBlobs)))
	resp, err := client.Send(ctx, msg)
	if err != nil {
		return err
	}
	if !resp.Success {
		color.Red("✗ %s", resp.Error)
		return fmt.Errorf("upload was not started")
	}
	color.Green("✓ %s", resp.Message)

	if !uploadWait {
		return nil
	}
	result, err := waitForResult(ctx, client)
	if err != nil {
		return err
	}
	if !result.Success {
		color.Red("✗ %s", result.Message)
		return fmt.Errorf("upload failed")
	}
	color.Green("✓ %s", result.Message)
	return nil
}

// waitForResult polls the deployment snapshot until the agent reports.
func waitForResult(ctx context.Context, client *server.Client) (*message.UploadResult, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		resp, err := client.Deployment(ctx)
		if err != nil {
			return nil, err
		}
		if resp.Data != nil && resp.Data.UploadResult != nil {
			return resp.Data.UploadResult, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no upload result yet: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
