// Package controller owns suite runs: it executes them against the browser,
// keeps their records, and fans results out to storage, the SSE relay and
// the notifier.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/snapcheck/internal/artifact"
	"github.com/dgnsrekt/snapcheck/internal/bootstrap"
	"github.com/dgnsrekt/snapcheck/internal/capture"
	"github.com/dgnsrekt/snapcheck/internal/cdpcontrol"
	"github.com/dgnsrekt/snapcheck/internal/config"
	"github.com/dgnsrekt/snapcheck/internal/relay"
	"github.com/dgnsrekt/snapcheck/internal/scenario"
	"github.com/dgnsrekt/snapcheck/internal/storage"
	"github.com/dgnsrekt/snapcheck/internal/suite"
)

// Browser is the page a run drives. *cdpcontrol.Client satisfies it.
type Browser interface {
	suite.Page
	Connect(ctx context.Context) error
	Close() error
	Page() cdpcontrol.PageInfo
	Screenshot(ctx context.Context) ([]byte, error)
	WatchNetwork(ctx context.Context, w *cdpcontrol.NetworkWatcher) (func(), error)
}

// CaptureFunc starts passive traffic capture on a page target and returns
// the function that stops it.
type CaptureFunc func(ctx context.Context, targetID string, rec *capture.Recorder) (func(), error)

// Options wires a Service. Only NewBrowser is required.
type Options struct {
	NewBrowser func() Browser
	Suite      *config.Suite

	Artifacts *artifact.Store
	Storage   *storage.Registry
	Broker    *relay.Broker
	Capture   CaptureFunc

	NotifyURL  string
	HTTPClient *http.Client

	CommandTimeout  time.Duration
	RequestTimeout  time.Duration
	ScenarioTimeout time.Duration
	MaxBodyBytes    int
	// MaxRuns bounds the finished runs kept in memory.
	MaxRuns int
}

type runState struct {
	run    Run
	cancel context.CancelFunc
}

// bootstrapHolder marks the page as held by Service.Bootstrap.
const bootstrapHolder = "bootstrap"

// Service executes one run or bootstrap at a time; the page is a single
// shared resource.
type Service struct {
	opts Options

	mu     sync.Mutex
	runs   map[string]*runState
	active string

	wg sync.WaitGroup
}

func NewService(opts Options) *Service {
	if opts.MaxRuns <= 0 {
		opts.MaxRuns = 50
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Service{opts: opts, runs: make(map[string]*runState)}
}

func validationError(msg string) error {
	return cdpcontrol.NewError(cdpcontrol.CodeValidation, msg, nil)
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return validationError(fieldName + " is required")
	}
	return nil
}

// begin registers a new running run, refusing when another is active.
func (s *Service) begin(url string, cancel context.CancelFunc) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != "" {
		return Run{}, s.busyLocked()
	}
	run := Run{
		ID:        uuid.NewString(),
		Status:    StatusRunning,
		URL:       url,
		StartedAt: time.Now().UTC(),
		Results:   []scenario.Result{},
	}
	s.runs[run.ID] = &runState{run: run, cancel: cancel}
	s.active = run.ID
	s.pruneLocked()
	return run.clone(), nil
}

// Start launches a run in the background and returns its initial record.
func (s *Service) Start(req RunRequest) (Run, error) {
	cfg, err := req.resolve(s.opts.Suite)
	if err != nil {
		return Run{}, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	run, err := s.begin(cfg.URL, cancel)
	if err != nil {
		cancel()
		return Run{}, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.execute(ctx, run.ID, cfg)
	}()
	return run, nil
}

// Run executes a run to completion on the caller's goroutine.
func (s *Service) Run(ctx context.Context, req RunRequest) (Run, error) {
	cfg, err := req.resolve(s.opts.Suite)
	if err != nil {
		return Run{}, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	run, err := s.begin(cfg.URL, cancel)
	if err != nil {
		return Run{}, err
	}
	return s.execute(ctx, run.ID, cfg), nil
}

// Get returns a snapshot of one run.
func (s *Service) Get(id string) (Run, error) {
	if err := s.requireNonEmpty(id, "run_id"); err != nil {
		return Run{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.runs[strings.TrimSpace(id)]
	if !ok {
		return Run{}, cdpcontrol.NewError(cdpcontrol.CodeRunNotFound, "run not found: "+id, nil)
	}
	return st.run.clone(), nil
}

// List returns every kept run, newest first.
func (s *Service) List() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, 0, len(s.runs))
	for _, st := range s.runs {
		out = append(out, st.run.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Cancel stops a running run. Finished runs are returned unchanged.
func (s *Service) Cancel(id string) (Run, error) {
	s.mu.Lock()
	st, ok := s.runs[strings.TrimSpace(id)]
	if !ok {
		s.mu.Unlock()
		return Run{}, cdpcontrol.NewError(cdpcontrol.CodeRunNotFound, "run not found: "+id, nil)
	}
	cancel := st.cancel
	run := st.run.clone()
	s.mu.Unlock()

	if !run.Status.Done() && cancel != nil {
		slog.Info("run cancel requested", "run_id", id)
		cancel()
	}
	return run, nil
}

// Close cancels the active run and waits for background runs to finish.
func (s *Service) Close() {
	s.mu.Lock()
	if st, ok := s.runs[s.active]; ok && st.cancel != nil {
		st.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Bootstrap navigates to the suite URL and runs only the compatibility
// bootstrap, for checking a deployment's loader without the scenarios.
func (s *Service) Bootstrap(ctx context.Context, req RunRequest) (bootstrap.Report, error) {
	cfg, err := req.resolve(s.opts.Suite)
	if err != nil {
		return bootstrap.Report{}, err
	}
	if err := s.requireNonEmpty(cfg.URL, "url"); err != nil {
		return bootstrap.Report{}, err
	}
	s.mu.Lock()
	if s.active != "" {
		err := s.busyLocked()
		s.mu.Unlock()
		return bootstrap.Report{}, err
	}
	s.active = bootstrapHolder
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.active == bootstrapHolder {
			s.active = ""
		}
		s.mu.Unlock()
	}()

	b := s.opts.NewBrowser()
	if err := b.Connect(ctx); err != nil {
		return bootstrap.Report{}, err
	}
	defer b.Close()

	if err := b.Navigate(ctx, cfg.URL); err != nil {
		return bootstrap.Report{}, err
	}
	return bootstrap.Run(ctx, bootstrap.AsPage(b), bootstrap.FromSuite(cfg))
}

func (s *Service) busyLocked() error {
	if s.active == bootstrapHolder {
		return cdpcontrol.NewError(cdpcontrol.CodeRunInProgress, "bootstrap is still in progress", nil)
	}
	return cdpcontrol.NewError(cdpcontrol.CodeRunInProgress, fmt.Sprintf("run %s is still in progress", s.active), nil)
}

func (s *Service) update(id string, fn func(r *Run)) Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.runs[id]
	if !ok {
		return Run{}
	}
	fn(&st.run)
	return st.run.clone()
}

func (s *Service) finish(id string, fn func(r *Run)) Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.runs[id]
	fn(&st.run)
	now := time.Now().UTC()
	st.run.FinishedAt = &now
	st.run.Current = ""
	st.cancel = nil
	if s.active == id {
		s.active = ""
	}
	return st.run.clone()
}

// pruneLocked drops the oldest finished runs beyond MaxRuns.
func (s *Service) pruneLocked() {
	if len(s.runs) <= s.opts.MaxRuns {
		return
	}
	var done []*runState
	for _, st := range s.runs {
		if st.run.Status.Done() {
			done = append(done, st)
		}
	}
	sort.Slice(done, func(i, j int) bool {
		return done[i].run.StartedAt.Before(done[j].run.StartedAt)
	})
	for _, st := range done {
		if len(s.runs) <= s.opts.MaxRuns {
			return
		}
		delete(s.runs, st.run.ID)
	}
}
