// Package scenario runs data-driven scenario records.
//
// A Scenario is a {precondition, action, assertion} record. The runner checks
// the precondition, performs the action and evaluates the assertion, and
// files the outcome as Passed, Skipped or Failed. Any step may return the
// error from Skip to mark the scenario not applicable; any other error fails
// it. Scenarios run strictly in order and a failure never stops the run.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Status is the outcome of one scenario.
type Status string

const (
	Passed  Status = "passed"
	Skipped Status = "skipped"
	Failed  Status = "failed"
)

// Step is one phase of a scenario or a hook.
type Step func(ctx context.Context) error

// Scenario is one independent test case. Nil steps are no-ops.
type Scenario struct {
	Name         string
	Precondition Step
	Action       Step
	Assertion    Step
}

// Group is an ordered list of scenarios sharing hooks. Before runs once,
// ahead of the first scenario; BeforeEach runs ahead of every scenario.
type Group struct {
	Name       string
	Before     []Step
	BeforeEach []Step
	Scenarios  []Scenario
}

// Result is the recorded outcome of one scenario.
type Result struct {
	Group      string        `json:"group"`
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	Phase      string        `json:"phase,omitempty"`
	Message    string        `json:"message,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	ArtifactID string        `json:"artifact_id,omitempty"`
}

// Summary counts results by status.
type Summary struct {
	Passed  int `json:"passed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// OK reports whether no scenario failed.
func (s Summary) OK() bool { return s.Failed == 0 }

func (s Summary) String() string {
	return fmt.Sprintf("%d passed, %d skipped, %d failed", s.Passed, s.Skipped, s.Failed)
}

// Summarize counts results by status.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Status {
		case Passed:
			s.Passed++
		case Skipped:
			s.Skipped++
		case Failed:
			s.Failed++
		}
	}
	return s
}

// Runner executes groups in order.
type Runner struct {
	// Timeout bounds each scenario including its hooks. Zero means none.
	Timeout time.Duration
	// OnStart is called before each scenario.
	OnStart func(group, name string)
	// OnResult is called after each scenario, before the next one starts.
	// It may annotate the result, e.g. with an artifact id.
	OnResult func(ctx context.Context, r *Result)
}

// Run executes every group and returns one result per scenario. It stops
// early only when ctx is done; remaining scenarios are then reported failed.
func (r *Runner) Run(ctx context.Context, groups []Group) []Result {
	var results []Result
	for _, g := range groups {
		results = append(results, r.runGroup(ctx, g)...)
	}
	return results
}

func (r *Runner) runGroup(ctx context.Context, g Group) []Result {
	results := make([]Result, 0, len(g.Scenarios))
	beforeDone := false
	var beforeErr error

	for _, sc := range g.Scenarios {
		if r.OnStart != nil {
			r.OnStart(g.Name, sc.Name)
		}
		res := Result{Group: g.Name, Name: sc.Name, StartedAt: time.Now()}

		if ctx.Err() != nil {
			res.Status, res.Phase, res.Message = Failed, "run", ctx.Err().Error()
		} else {
			scCtx, cancel := r.scenarioContext(ctx)
			if !beforeDone {
				beforeErr = runHooks(scCtx, "before", g.Before)
				beforeDone = true
			}
			if beforeErr != nil {
				res.setError(beforeErr)
			} else {
				res.setError(runScenario(scCtx, g.BeforeEach, sc))
			}
			cancel()
		}
		res.Duration = time.Since(res.StartedAt)

		if r.OnResult != nil {
			r.OnResult(ctx, &res)
		}
		logResult(res)
		results = append(results, res)
	}
	return results
}

func (r *Runner) scenarioContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.Timeout)
}

type phaseError struct {
	phase string
	err   error
}

func (e *phaseError) Error() string { return e.phase + ": " + e.err.Error() }
func (e *phaseError) Unwrap() error { return e.err }

func runHooks(ctx context.Context, phase string, hooks []Step) error {
	for _, h := range hooks {
		if err := safeStep(ctx, h); err != nil {
			return &phaseError{phase: phase, err: err}
		}
	}
	return nil
}

func runScenario(ctx context.Context, beforeEach []Step, sc Scenario) error {
	if err := runHooks(ctx, "beforeEach", beforeEach); err != nil {
		return err
	}
	steps := []struct {
		phase string
		step  Step
	}{
		{"precondition", sc.Precondition},
		{"action", sc.Action},
		{"assertion", sc.Assertion},
	}
	for _, s := range steps {
		if err := safeStep(ctx, s.step); err != nil {
			return &phaseError{phase: s.phase, err: err}
		}
	}
	return nil
}

// safeStep runs a step, turning a panic into an error.
func safeStep(ctx context.Context, step Step) (err error) {
	if step == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return step(ctx)
}

func (res *Result) setError(err error) {
	if err == nil {
		res.Status = Passed
		return
	}
	var pe *phaseError
	if errors.As(err, &pe) {
		res.Phase = pe.phase
	}
	var se *SkipError
	if errors.As(err, &se) {
		res.Status = Skipped
		res.Message = se.Reason
		return
	}
	res.Status = Failed
	res.Message = err.Error()
}

func logResult(res Result) {
	attrs := []any{"group", res.Group, "scenario", res.Name, "status", string(res.Status), "duration", res.Duration}
	switch res.Status {
	case Failed:
		slog.Error("scenario failed", append(attrs, "phase", res.Phase, "message", res.Message)...)
	case Skipped:
		slog.Info("scenario skipped", append(attrs, "reason", res.Message)...)
	default:
		slog.Info("scenario passed", attrs...)
	}
}
