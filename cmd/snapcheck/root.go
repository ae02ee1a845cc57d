package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/snapcheck/internal/artifact"
	"github.com/dgnsrekt/snapcheck/internal/browser"
	"github.com/dgnsrekt/snapcheck/internal/capture"
	"github.com/dgnsrekt/snapcheck/internal/cdpcontrol"
	"github.com/dgnsrekt/snapcheck/internal/config"
	"github.com/dgnsrekt/snapcheck/internal/controller"
	"github.com/dgnsrekt/snapcheck/internal/relay"
	"github.com/dgnsrekt/snapcheck/internal/storage"
)

// errRunFailed marks a run that completed with failures; main exits 1
// without logging it again.
var errRunFailed = errors.New("run did not pass")

// maxCaptureBodyBytes bounds each captured response body.
const maxCaptureBodyBytes = 256 * 1024

type app struct {
	cfg       *config.Config
	suitePath string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "snapcheck",
		Short:         "Bootstrap and end-to-end checks for a search autocomplete widget",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
				if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
					slog.Debug("logger setup stderr write failed", "error", writeErr)
				}
				return err
			}
			if a.suitePath == "" {
				a.suitePath = cfg.SuitePath
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.suitePath, "suite", "s", "", "suite YAML file (default $SNAPCHECK_SUITE_CONFIG or ./snapcheck.yaml)")

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newServeCmd(a),
		newBootstrapCmd(a),
	)
	return root
}

func (a *app) loadSuite() (*config.Suite, error) {
	s, err := config.LoadSuite(a.suitePath)
	if err != nil {
		return nil, err
	}
	slog.Info("suite loaded", "path", a.suitePath, "url", s.URL, "intercepts", len(s.Intercepts))
	return s, nil
}

// stack is everything a Service needs. close releases it in reverse
// order of construction.
type stack struct {
	svc      *controller.Service
	store    *artifact.Store
	broker   *relay.Broker
	registry *storage.Registry
	launcher *browser.Launcher
}

func (a *app) newStack(ctx context.Context, s *config.Suite) (*stack, error) {
	cfg := a.cfg
	slog.Info("snapcheck config loaded",
		"cdp_url", cfg.CDPURL(),
		"tab_url_filter", cfg.TabURLFilter,
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"command_timeout_ms", cfg.CommandTimeoutMS,
		"request_timeout_ms", cfg.RequestTimeoutMS,
		"data_dir", cfg.DataDir,
		"artifacts_dir", cfg.ArtifactsDir,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	rt := &stack{broker: relay.NewBroker()}
	if cfg.LaunchBrowser {
		rt.launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.ProfileDir,
			WindowSize: cfg.WindowSize,
			Headless:   cfg.Headless,
			Binary:     cfg.BrowserBinary,
		})
		if err := rt.launcher.Launch(ctx); err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
	}

	store, err := artifact.NewStore(cfg.ArtifactsDir)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.store = store
	rt.registry = storage.NewRegistry(cfg.DataDir, cfg.BufferSize, cfg.MaxFileSizeMB)

	evalTimeout := time.Duration(cfg.EvalTimeoutMS) * time.Millisecond
	commandTimeout := time.Duration(cfg.CommandTimeoutMS) * time.Millisecond
	opts := controller.Options{
		NewBrowser: func() controller.Browser {
			return cdpcontrol.NewClient(cfg.CDPURL(), cfg.TabURLFilter, evalTimeout, commandTimeout)
		},
		Suite:          s,
		Artifacts:      store,
		Storage:        rt.registry,
		Broker:         rt.broker,
		NotifyURL:      cfg.NotifyURL,
		CommandTimeout: commandTimeout,
		RequestTimeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
		MaxBodyBytes:   maxCaptureBodyBytes,
	}
	if cfg.CaptureNetwork {
		opts.Capture = captureFunc(cfg.CDPURL())
	}
	rt.svc = controller.NewService(opts)
	return rt, nil
}

func (rt *stack) close() {
	if rt.svc != nil {
		rt.svc.Close()
	}
	if rt.registry != nil {
		if err := rt.registry.Close(); err != nil {
			slog.Warn("storage close failed", "error", err)
		}
	}
	if rt.launcher != nil && rt.launcher.Running() {
		rt.launcher.Stop()
	}
}

func captureFunc(cdpURL string) controller.CaptureFunc {
	return func(ctx context.Context, targetID string, rec *capture.Recorder) (func(), error) {
		sess, err := capture.Attach(ctx, cdpURL, targetID, rec)
		if err != nil {
			return nil, err
		}
		return sess.Close, nil
	}
}
