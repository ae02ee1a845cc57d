package controller

import (
	"strings"
	"time"

	"github.com/dgnsrekt/snapcheck/internal/config"
	"github.com/dgnsrekt/snapcheck/internal/scenario"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusError    Status = "error"
	StatusCanceled Status = "canceled"
)

// Done reports whether the run reached a final state.
func (s Status) Done() bool { return s != StatusRunning }

// Run is one execution of the scenario suite against a page.
type Run struct {
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	URL         string            `json:"url"`
	Current     string            `json:"current,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	Summary     scenario.Summary  `json:"summary"`
	Results     []scenario.Result `json:"results"`
	Exchanges   map[string]int    `json:"exchanges,omitempty"`
	Error       string            `json:"error,omitempty"`
	ResultsFile string            `json:"results_file,omitempty"`
}

func (r Run) clone() Run {
	r.Results = append([]scenario.Result(nil), r.Results...)
	if r.Exchanges != nil {
		counts := make(map[string]int, len(r.Exchanges))
		for k, v := range r.Exchanges {
			counts[k] = v
		}
		r.Exchanges = counts
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		r.FinishedAt = &t
	}
	return r
}

// RunRequest selects what a run executes. Zero fields keep the service's
// default suite values.
type RunRequest struct {
	Suite         *config.Suite
	URL           string
	StartingQuery string
}

func (req RunRequest) resolve(def *config.Suite) (*config.Suite, error) {
	base := req.Suite
	if base == nil {
		base = def
	}
	if base == nil {
		return nil, validationError("no suite configured")
	}
	cfg := *base
	if u := strings.TrimSpace(req.URL); u != "" {
		cfg.URL = u
	}
	if q := strings.TrimSpace(req.StartingQuery); q != "" {
		cfg.StartingQuery = q
	}
	return &cfg, nil
}

// resultRecord is one line of the results JSONL stream.
type resultRecord struct {
	RunID string `json:"run_id"`
	URL   string `json:"url"`
	scenario.Result
}
