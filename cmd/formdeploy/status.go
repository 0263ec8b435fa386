package main

import (
	"context"
	"fmt"

	"formdeploy/internal/message"
	"formdeploy/internal/server"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current deployment",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := server.NewClient(addr, timeout)
		if statusWatch {
			return watchStatus(client)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		resp, err := client.Deployment(ctx)
		if err != nil {
			return err
		}
		fmt.Println(renderStatus(resp.Data))
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Follow the deployment until it finishes")
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(15)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	busyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func renderStatus(d *message.DeploymentContext) string {
	if d == nil {
		return boxStyle.Render(titleStyle.Render("formdeploy") + "\n" + "No deployment yet")
	}

	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
	}
	rows := []string{
		titleStyle.Render("formdeploy"),
		row("Form", d.FormID),
		row("File", fmt.Sprintf("%s (%d bytes)", d.FileName, len(d.FileBlob))),
		row("Attachments", fmt.Sprintf("%d", len(d.AttachmentBlobs))),
	}
	if d.TabID != "" {
		rows = append(rows, row("Tab", string(d.TabID)))
	}
	switch r := d.UploadResult; {
	case r == nil:
		rows = append(rows, row("Status", busyStyle.Render("Upload in progress...")))
	case r.Success:
		rows = append(rows, row("Status", okStyle.Render(r.Message)), row("Finished", r.Timestamp.Local().Format("2006-01-02 15:04:05")))
	default:
		rows = append(rows, row("Status", errStyle.Render(r.Message)), row("Finished", r.Timestamp.Local().Format("2006-01-02 15:04:05")))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
