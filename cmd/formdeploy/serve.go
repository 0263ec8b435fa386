package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"formdeploy/internal/agent"
	"formdeploy/internal/bridge"
	"formdeploy/internal/browser"
	"formdeploy/internal/config"
	"formdeploy/internal/coordinator"
	"formdeploy/internal/logging"
	"formdeploy/internal/relay"
	"formdeploy/internal/server"
	"formdeploy/internal/watcher"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the browser, coordinator and HTTP API",
	Long: `Starts (or attaches to) Chrome, attaches the upload agent and success
watcher to platform pages and the macro bridge to spreadsheet pages, and
serves the trigger/status API until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	optionsPath := cfg.GetOptionsPath()
	created, err := config.EnsureOptions(optionsPath)
	if err != nil {
		return err
	}
	if created {
		logger.Info("Wrote default options; edit them with \"formdeploy options set\"", zap.String("path", optionsPath))
	}
	options, err := config.NewOptionsWatcher(optionsPath)
	if err != nil {
		return err
	}

	logging.SetConsole(logger)
	if err := logging.Initialize(cfg.GetStateDir(), cfg.Logging.Settings(options.Current().DebugMode)); err != nil {
		return err
	}
	defer logging.CloseAll()
	options.Subscribe(func(o config.Options) { logging.SetDebugMode(o.DebugMode) })

	hub := relay.NewHub(relay.WithTimeout(cfg.GetRelayTimeout()))
	defer hub.Close()

	tabs := browser.NewTabManager(cfg.BrowserConfig(), hub)
	coord := coordinator.New(tabs, hub, cfg.CoordinatorSettings())
	hub.SetBackground(coord.Handle)
	tabs.OnClosed(coord.OnTabClosed)

	if err := tabs.RegisterScript(platformScript(cfg, options)); err != nil {
		return err
	}
	if err := tabs.RegisterScript(sheetsScript(cfg)); err != nil {
		return err
	}

	if err := tabs.Start(ctx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	if err := options.Start(ctx); err != nil {
		_ = tabs.Shutdown(context.Background())
		return err
	}

	srv := server.New(cfg.Server, hub, options,
		server.WithLogger(logger.Named("http")),
		server.WithBrowser(tabs),
	)
	logging.Boot("formdeploy serving on %s (browser %s)", cfg.Server.Listen, tabs.ControlURL())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		options.Stop()
		return errors.Join(srv.Shutdown(shutdownCtx), tabs.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

// platformScript runs the upload agent and the success watcher in every
// platform document.
func platformScript(cfg *config.Config, options *config.OptionsWatcher) browser.Script {
	return browser.Script{
		Name:    "platform",
		Matches: []string{cfg.Platform.Match},
		Attach: func(ctx context.Context, sc browser.ScriptContext) (browser.Attachment, error) {
			doc := sc.Document()

			a := agent.New(sc.Sender(), doc, sc.Hub,
				agent.WithHeuristics(cfg.AgentHeuristics()),
				agent.WithTiming(cfg.AgentTiming()),
				agent.WithOptions(func() agent.Options { return options.Current().Agent() }),
			)
			w := watcher.New(sc.Sender(), doc, sc.Hub, watcher.NewOverlay(sc.Page),
				watcher.WithTiming(cfg.WatcherTiming()),
				watcher.WithSettings(cfg.WatcherSettings()),
			)
			return browser.Attachment{
				Handler: a.Handle,
				Start: func(ctx context.Context) {
					a.Start(ctx)
					w.Start(ctx)
				},
			}, nil
		},
	}
}

// sheetsScript answers form-ID and logging requests in spreadsheet tabs.
func sheetsScript(cfg *config.Config) browser.Script {
	return browser.Script{
		Name:    "sheets",
		Matches: []string{cfg.Sheets.Pattern},
		Attach: func(ctx context.Context, sc browser.ScriptContext) (browser.Attachment, error) {
			b := bridge.New(bridge.NewPageRuntime(sc.Page, cfg.GetSheetTimeout()))
			return browser.Attachment{Handler: b.Handle}, nil
		},
	}
}
