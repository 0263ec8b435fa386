package main

import (
	"fmt"

	"formdeploy/internal/config"

	"github.com/AlecAivazis/survey/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	optAutoSubmit    bool
	optUploadTimeout int
	optDebugMode     bool
	optYes           bool
)

var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "Show or change the persisted options",
	Long: `Options are read by a running server as soon as they change:
  autoSubmit     click the final Upload button (default true)
  uploadTimeout  seconds to wait for the upload dialog (default 30)
  debugMode      write per-category log files (default false)`,
}

var optionsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current options",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := config.LoadOptions(cfg.GetOptionsPath())
		if err != nil {
			return err
		}
		fmt.Println(renderOptions(opts))
		return nil
	},
}

var optionsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change one or more options",
	Example: `  formdeploy options set --auto-submit=false
  formdeploy options set --upload-timeout 60 --debug-mode`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.GetOptionsPath()
		opts, err := config.LoadOptions(path)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if !flags.Changed("auto-submit") && !flags.Changed("upload-timeout") && !flags.Changed("debug-mode") {
			return fmt.Errorf("nothing to set; see --help")
		}
		if flags.Changed("auto-submit") {
			opts.AutoSubmit = optAutoSubmit
		}
		if flags.Changed("upload-timeout") {
			opts.UploadTimeout = optUploadTimeout
		}
		if flags.Changed("debug-mode") {
			opts.DebugMode = optDebugMode
		}
		if err := opts.Save(path); err != nil {
			return err
		}
		fmt.Println(renderOptions(opts.Normalize()))
		return nil
	},
}

var optionsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default options",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !optYes {
			proceed := false
			prompt := &survey.Confirm{
				Message: "Reset all options to their defaults?",
				Default: false,
			}
			if err := survey.AskOne(prompt, &proceed); err != nil {
				return fmt.Errorf("confirmation failed (use --yes): %w", err)
			}
			if !proceed {
				return fmt.Errorf("reset cancelled")
			}
		}
		opts, err := config.ResetOptions(cfg.GetOptionsPath())
		if err != nil {
			return err
		}
		fmt.Println(renderOptions(opts))
		return nil
	},
}

func init() {
	optionsSetCmd.Flags().BoolVar(&optAutoSubmit, "auto-submit", true, "Click the final Upload button")
	optionsSetCmd.Flags().IntVar(&optUploadTimeout, "upload-timeout", config.DefaultUploadTimeout, "Upload dialog timeout in seconds")
	optionsSetCmd.Flags().BoolVar(&optDebugMode, "debug-mode", false, "Write per-category log files")
	optionsResetCmd.Flags().BoolVarP(&optYes, "yes", "y", false, "Skip the confirmation prompt")

	optionsCmd.AddCommand(optionsShowCmd)
	optionsCmd.AddCommand(optionsSetCmd)
	optionsCmd.AddCommand(optionsResetCmd)
}

func renderOptions(o config.Options) string {
	row := func(k, v string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(k), v)
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Options"),
		row("autoSubmit", fmt.Sprintf("%v", o.AutoSubmit)),
		row("uploadTimeout", fmt.Sprintf("%ds", o.UploadTimeout)),
		row("debugMode", fmt.Sprintf("%v", o.DebugMode)),
	))
}
