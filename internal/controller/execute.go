package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/snapcheck/internal/artifact"
	"github.com/dgnsrekt/snapcheck/internal/capture"
	"github.com/dgnsrekt/snapcheck/internal/cdpcontrol"
	"github.com/dgnsrekt/snapcheck/internal/config"
	"github.com/dgnsrekt/snapcheck/internal/notify"
	"github.com/dgnsrekt/snapcheck/internal/relay"
	"github.com/dgnsrekt/snapcheck/internal/scenario"
	"github.com/dgnsrekt/snapcheck/internal/storage"
	"github.com/dgnsrekt/snapcheck/internal/suite"
)

const (
	streamResults = "results"
	streamHTTP    = "http"
)

// execute runs the suite for an already registered run and records the
// outcome. It always finishes the run.
func (s *Service) execute(ctx context.Context, id string, cfg *config.Suite) Run {
	log := slog.With("run_id", id, "url", cfg.URL)
	rel := relay.NewRelay(s.opts.Broker, id)
	defer rel.Stop()

	log.Info("run started")
	rel.Publish(relay.FeedRun, map[string]any{"status": StatusRunning, "url": cfg.URL})

	segment, err := storage.TransformURLToPathSegment(cfg.URL)
	if err != nil || segment == "" {
		segment = "local"
	}

	var results *storage.JSONLWriter
	if s.opts.Storage != nil {
		results = s.opts.Storage.Writer(segment, streamResults, id)
		defer s.opts.Storage.Release(segment, streamResults, id)
	}

	b := s.opts.NewBrowser()
	if err := b.Connect(ctx); err != nil {
		return s.abort(id, rel, err)
	}
	defer b.Close()

	watcher := cdpcontrol.NewNetworkWatcher()
	for _, ic := range cfg.Intercepts {
		watcher.Intercept(ic.Alias, ic.URLPattern)
	}
	rel.Watch(watcher)
	stopWatch, err := b.WatchNetwork(ctx, watcher)
	if err != nil {
		return s.abort(id, rel, err)
	}
	defer stopWatch()

	if stop := s.startCapture(ctx, log, b.Page().TargetID, segment, id, cfg); stop != nil {
		defer stop()
	}

	runner := scenario.Runner{
		Timeout: s.opts.ScenarioTimeout,
		OnStart: func(group, name string) {
			s.update(id, func(r *Run) { r.Current = group + " / " + name })
		},
		OnResult: func(ctx context.Context, res *scenario.Result) {
			if res.Status == scenario.Failed {
				res.ArtifactID = s.saveFailure(ctx, b, id, res)
			}
			if results != nil {
				if err := results.Write(resultRecord{RunID: id, URL: cfg.URL, Result: *res}); err != nil {
					log.Warn("write result failed", "scenario", res.Name, "error", err)
				}
			}
			s.update(id, func(r *Run) { r.Results = append(r.Results, *res) })
			rel.Publish(relay.FeedScenario, res)
		},
	}

	st := suite.New(cfg, b, watcher, suite.Options{
		CommandTimeout: s.opts.CommandTimeout,
		RequestTimeout: s.opts.RequestTimeout,
	})
	all := runner.Run(ctx, st.Groups())
	summary := scenario.Summarize(all)
	exchanges := make(map[string]int, len(cfg.Intercepts))
	for _, ic := range cfg.Intercepts {
		exchanges[ic.Alias] = len(watcher.Exchanges(ic.Alias))
	}

	var resultsFile string
	if results != nil {
		if err := s.opts.Storage.Release(segment, streamResults, id); err != nil {
			log.Warn("close results file failed", "error", err)
		}
		resultsFile = results.Path()
	}

	run := s.finish(id, func(r *Run) {
		r.Summary = summary
		r.Exchanges = exchanges
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			r.Status = StatusCanceled
		case summary.OK():
			r.Status = StatusPassed
		default:
			r.Status = StatusFailed
		}
		r.ResultsFile = resultsFile
	})
	log.Info("run finished", "status", run.Status, "summary", summary.String())
	rel.Publish(relay.FeedRun, map[string]any{"status": run.Status, "summary": summary})
	s.notify(ctx, segment, run)
	return run
}

// abort finishes a run that could not start its scenarios.
func (s *Service) abort(id string, rel *relay.Relay, err error) Run {
	run := s.finish(id, func(r *Run) {
		r.Status = StatusError
		if errors.Is(err, context.Canceled) {
			r.Status = StatusCanceled
		}
		r.Error = err.Error()
	})
	slog.Error("run aborted", "run_id", id, "error", err)
	rel.Publish(relay.FeedRun, map[string]any{"status": run.Status, "error": run.Error})
	return run
}

func (s *Service) startCapture(ctx context.Context, log *slog.Logger, targetID, segment, id string, cfg *config.Suite) func() {
	if s.opts.Capture == nil || s.opts.Storage == nil || len(cfg.Intercepts) == 0 {
		return nil
	}
	rec := capture.NewRecorder(s.opts.Storage.Writer(segment, streamHTTP, id), id, cfg.Intercepts, s.opts.MaxBodyBytes)
	stop, err := s.opts.Capture(ctx, targetID, rec)
	if err != nil {
		log.Warn("network capture unavailable", "error", err)
		rec.Close()
		_ = s.opts.Storage.Release(segment, streamHTTP, id)
		return nil
	}
	return func() {
		stop()
		if err := s.opts.Storage.Release(segment, streamHTTP, id); err != nil {
			log.Warn("close capture file failed", "error", err)
		}
	}
}

// saveFailure stores a screenshot of the page for a failed scenario and
// returns the artifact id, or "" when none could be taken.
func (s *Service) saveFailure(ctx context.Context, b Browser, id string, res *scenario.Result) string {
	if s.opts.Artifacts == nil {
		return ""
	}
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	png, err := b.Screenshot(shotCtx)
	if err != nil {
		slog.Warn("failure screenshot unavailable", "run_id", id, "scenario", res.Name, "error", err)
		return ""
	}
	meta, err := s.opts.Artifacts.Save(artifact.Meta{
		RunID:    id,
		Group:    res.Group,
		Scenario: res.Name,
		Phase:    res.Phase,
		Message:  res.Message,
		PageURL:  b.Page().URL,
		Format:   "png",
	}, png)
	if err != nil {
		slog.Warn("failure screenshot not saved", "run_id", id, "scenario", res.Name, "error", err)
		return ""
	}
	return meta.ID
}

func (s *Service) notify(ctx context.Context, site string, run Run) {
	if s.opts.NotifyURL == "" {
		return
	}
	sum := notify.Summary{
		RunID:   run.ID,
		Site:    site,
		Passed:  run.Summary.Passed,
		Skipped: run.Summary.Skipped,
		Failed:  run.Summary.Failed,
	}
	if run.FinishedAt != nil {
		sum.Duration = run.FinishedAt.Sub(run.StartedAt)
	}
	for _, r := range run.Results {
		if r.Status == scenario.Failed {
			sum.Failures = append(sum.Failures, fmt.Sprintf("%s / %s: %s", r.Group, r.Name, r.Message))
		}
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := notify.SendSummary(nctx, s.opts.HTTPClient, s.opts.NotifyURL, sum); err != nil {
		slog.Warn("run notification failed", "run_id", run.ID, "error", err)
	}
}
