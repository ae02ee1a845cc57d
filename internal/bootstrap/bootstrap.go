// Package bootstrap loads capability polyfills into a page before the widget
// entry point runs.
//
// Each capability group is probed with JS checks against the page globals.
// Missing groups get their polyfill scheduled, a shared bundle is always
// scheduled, and the entry point only loads once every scheduled load has
// resolved. A single failed load aborts the run.
package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/snapcheck/internal/config"
	"github.com/dgnsrekt/snapcheck/internal/widget"
)

// ErrCapabilityUnavailable is wrapped by every error that leaves the page
// without the entry point.
var ErrCapabilityUnavailable = errors.New("required capability unavailable")

// Capability is a group of feature checks sharing one polyfill. The group is
// missing when any check evaluates false.
type Capability struct {
	Name        string
	Checks      []string
	PolyfillURL string
}

// DefaultCapabilities returns the network-fetch group and the core group
// (Symbol plus two array methods).
func DefaultCapabilities() []Capability {
	return []Capability{
		{Name: "fetch", Checks: []string{`'fetch' in window`}},
		{Name: "core", Checks: []string{
			`'Symbol' in window`,
			`'flatMap' in Array.prototype`,
			`'includes' in Array.prototype`,
		}},
	}
}

// Config describes one bootstrap variant.
type Config struct {
	PreloadURL   string
	Capabilities []Capability
	SharedURL    string
	EntryURL     string
	Namespace    widget.Namespace
}

// FromSuite builds the bootstrap config of a suite, attaching each default
// capability group to its configured polyfill.
func FromSuite(s *config.Suite) Config {
	caps := DefaultCapabilities()
	for i := range caps {
		caps[i].PolyfillURL = s.PolyfillURL(caps[i].Name)
	}
	return Config{
		PreloadURL:   s.Bootstrap.PreloadURL,
		Capabilities: caps,
		SharedURL:    s.Bootstrap.SharedURL,
		EntryURL:     s.Bootstrap.EntryURL,
		Namespace: widget.Namespace{
			Global: s.Bootstrap.Global,
			Field:  s.Bootstrap.BuildField,
			Tag:    s.Bootstrap.BuildTag,
		},
	}
}

// Page is the browser surface the bootstrap needs.
type Page interface {
	Probe(ctx context.Context, expr string) (bool, error)
	LoadScript(ctx context.Context, url string) error
	Eval(ctx context.Context, js string, out any) error
}

// Task is one scheduled asynchronous load.
type Task struct {
	Name   string `json:"name"`
	URL    string `json:"url,omitempty"`
	Shared bool   `json:"shared,omitempty"`
}

// SharedTaskName names the always-scheduled shared bundle load.
const SharedTaskName = "shared"

// Report summarises a bootstrap run.
type Report struct {
	Missing     []string      `json:"missing"`
	Tasks       []Task        `json:"tasks"`
	Marker      widget.Marker `json:"marker"`
	EntryLoaded bool          `json:"entry_loaded"`
	Duration    time.Duration `json:"duration"`
}

// Plan probes every capability group and returns the missing group names and
// the ordered task list: one polyfill load per missing group, then the shared
// bundle.
func Plan(ctx context.Context, page Page, cfg Config) ([]string, []Task, error) {
	var missing []string
	var tasks []Task
	for _, c := range cfg.Capabilities {
		ok, err := probeAll(ctx, page, c.Checks)
		if err != nil {
			return nil, nil, fmt.Errorf("probe %s: %w", c.Name, err)
		}
		if ok {
			continue
		}
		missing = append(missing, c.Name)
		tasks = append(tasks, Task{Name: c.Name, URL: c.PolyfillURL})
	}
	tasks = append(tasks, Task{Name: SharedTaskName, URL: cfg.SharedURL, Shared: true})
	return missing, tasks, nil
}

func probeAll(ctx context.Context, page Page, checks []string) (bool, error) {
	for _, expr := range checks {
		ok, err := page.Probe(ctx, expr)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Run executes the bootstrap: preload, plan, join all loads, set the
// namespace marker and load the entry point. Any load failure returns an
// error wrapping ErrCapabilityUnavailable and the entry point is not loaded.
func Run(ctx context.Context, page Page, cfg Config) (Report, error) {
	start := time.Now()
	var report Report

	if cfg.PreloadURL != "" {
		if err := page.LoadScript(ctx, cfg.PreloadURL); err != nil {
			return report, fmt.Errorf("%w: preload: %w", ErrCapabilityUnavailable, err)
		}
	}

	missing, tasks, err := Plan(ctx, page, cfg)
	if err != nil {
		return report, err
	}
	report.Missing = missing
	report.Tasks = tasks
	slog.Info("bootstrap plan", "missing", strings.Join(missing, ","), "tasks", len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return load(gctx, page, task)
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("bootstrap load failed", "error", err)
		report.Duration = time.Since(start)
		return report, err
	}

	marker, err := Ensure(ctx, page, cfg.Namespace)
	if err != nil {
		return report, err
	}
	report.Marker = marker

	if cfg.EntryURL != "" {
		if err := page.LoadScript(ctx, cfg.EntryURL); err != nil {
			return report, fmt.Errorf("load entry point: %w", err)
		}
		report.EntryLoaded = true
	}
	report.Duration = time.Since(start)
	slog.Info("bootstrap complete", "namespace", cfg.Namespace.String(), "entry_loaded", report.EntryLoaded, "duration", report.Duration)
	return report, nil
}

func load(ctx context.Context, page Page, task Task) error {
	if task.URL == "" {
		if task.Shared {
			// Shared polyfills compiled into the bundle.
			return nil
		}
		return fmt.Errorf("%w: %s: no polyfill configured", ErrCapabilityUnavailable, task.Name)
	}
	slog.Debug("bootstrap load", "task", task.Name, "url", task.URL)
	if err := page.LoadScript(ctx, task.URL); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCapabilityUnavailable, task.Name, err)
	}
	return nil
}

// Ensure sets the namespace marker and reads it back.
func Ensure(ctx context.Context, page Page, ns widget.Namespace) (widget.Marker, error) {
	var m widget.Marker
	if err := page.Eval(ctx, ns.EnsureJS(), &m); err != nil {
		return m, fmt.Errorf("set namespace marker: %w", err)
	}
	return m, nil
}

// Read returns the namespace marker as the page sees it.
func Read(ctx context.Context, page Page, ns widget.Namespace) (widget.Marker, error) {
	var m widget.Marker
	if err := page.Eval(ctx, ns.ReadJS(), &m); err != nil {
		return m, fmt.Errorf("read namespace marker: %w", err)
	}
	return m, nil
}

// ProbeJS wraps a boolean expression in a result envelope.
func ProbeJS(expr string) string {
	b, _ := json.Marshal(expr)
	return `(function(){
try {
return JSON.stringify({ok:true,data:{value:!!(` + expr + `)}});
} catch (err) {
return JSON.stringify({ok:false,error_code:"EVAL_FAILURE",error_message:"probe " + ` + string(b) + ` + ": " + String(err && err.message || err)});
}
})()`
}
