package controller

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dgnsrekt/snapcheck/internal/artifact"
	"github.com/dgnsrekt/snapcheck/internal/capture"
	"github.com/dgnsrekt/snapcheck/internal/cdpcontrol"
	"github.com/dgnsrekt/snapcheck/internal/config"
	"github.com/dgnsrekt/snapcheck/internal/relay"
	"github.com/dgnsrekt/snapcheck/internal/scenario"
	"github.com/dgnsrekt/snapcheck/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

const suiteYAML = `
url: https://shop.test/search
starting_query: t
selectors:
  website:
    input: "#search-input"
`

// fakeBrowser answers every page query with an evaluation error, so each
// scenario after the config check fails fast. Typing emits one completed
// autocomplete exchange.
type fakeBrowser struct {
	mu         sync.Mutex
	connectErr error
	block      chan struct{}
	watcher    *cdpcontrol.NetworkWatcher
	seq        int
	shots      int
	closed     bool
}

func (f *fakeBrowser) Connect(ctx context.Context) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.connectErr
}

func (f *fakeBrowser) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeBrowser) Page() cdpcontrol.PageInfo {
	return cdpcontrol.PageInfo{TargetID: "TARGET01", URL: "https://shop.test/search"}
}

func (f *fakeBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	f.shots++
	f.mu.Unlock()
	return []byte("\x89PNG"), nil
}

func (f *fakeBrowser) WatchNetwork(ctx context.Context, w *cdpcontrol.NetworkWatcher) (func(), error) {
	f.mu.Lock()
	f.watcher = w
	f.mu.Unlock()
	return func() {}, nil
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) error { return nil }

func (f *fakeBrowser) Eval(ctx context.Context, js string, out any) error {
	return cdpcontrol.NewError(cdpcontrol.CodeEvalFailure, "page gone", nil)
}

func (f *fakeBrowser) LoadScript(ctx context.Context, url string) error { return nil }

func (f *fakeBrowser) SetWindowFlag(ctx context.Context, name string, value any) error { return nil }

func (f *fakeBrowser) Click(ctx context.Context, e cdpcontrol.Element) error      { return nil }
func (f *fakeBrowser) RightClick(ctx context.Context, e cdpcontrol.Element) error { return nil }
func (f *fakeBrowser) Focus(ctx context.Context, e cdpcontrol.Element) error      { return nil }
func (f *fakeBrowser) Clear(ctx context.Context, e cdpcontrol.Element) error      { return nil }

func (f *fakeBrowser) Type(ctx context.Context, e cdpcontrol.Element, text string) error {
	f.mu.Lock()
	w := f.watcher
	f.seq++
	id := fmt.Sprintf("req-%d", f.seq)
	f.mu.Unlock()
	if w != nil {
		w.RequestWillBeSent(json.RawMessage(`{"requestId":"` + id + `","request":{"url":"https://shop.test/api/search/autocomplete.json?q=` + text + `","method":"GET"}}`))
		w.LoadingFinished(json.RawMessage(`{"requestId":"` + id + `"}`))
	}
	return nil
}

func (f *fakeBrowser) Value(ctx context.Context, e cdpcontrol.Element) (string, error) {
	return "", cdpcontrol.NewError(cdpcontrol.CodeElementNotFound, "no input", nil)
}

func (f *fakeBrowser) Count(ctx context.Context, selector string) (int, error) { return 0, nil }

func (f *fakeBrowser) Links(ctx context.Context, selector string) ([]cdpcontrol.Link, error) {
	return nil, nil
}

func (f *fakeBrowser) FirstLinks(ctx context.Context, selector string) ([]cdpcontrol.Link, error) {
	return nil, nil
}

func testSuite(t *testing.T) *config.Suite {
	t.Helper()
	cfg, err := config.ParseSuite([]byte(suiteYAML))
	require.NoError(t, err)
	return cfg
}

func testOptions(t *testing.T, b *fakeBrowser) Options {
	t.Helper()
	return Options{
		NewBrowser:     func() Browser { return b },
		Suite:          testSuite(t),
		CommandTimeout: 20 * time.Millisecond,
		RequestTimeout: 20 * time.Millisecond,
	}
}

func TestRunRecordsFailuresEverywhere(t *testing.T) {
	var notified struct {
		sync.Mutex
		title, body string
	}
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		notified.Lock()
		notified.title, notified.body = r.Header.Get("Title"), string(raw)
		notified.Unlock()
	}))
	defer ntfy.Close()

	arts, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	reg := storage.NewRegistry(t.TempDir(), 64, 1)
	defer reg.Close()
	broker := relay.NewBroker()
	_, events := broker.Subscribe()

	var captured []string
	b := &fakeBrowser{}
	opts := testOptions(t, b)
	opts.Artifacts = arts
	opts.Storage = reg
	opts.Broker = broker
	opts.NotifyURL = ntfy.URL
	opts.HTTPClient = ntfy.Client()
	opts.Capture = func(ctx context.Context, targetID string, rec *capture.Recorder) (func(), error) {
		captured = append(captured, targetID)
		return rec.Close, nil
	}
	svc := NewService(opts)
	defer svc.Close()

	run, err := svc.Run(context.Background(), RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, "https://shop.test/search", run.URL)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, 1, run.Summary.Passed, "only the config check passes")
	assert.Equal(t, len(run.Results)-1, run.Summary.Failed)
	assert.Equal(t, []string{"TARGET01"}, captured)
	assert.Positive(t, run.Exchanges["autocomplete"])
	assert.True(t, b.closed)

	for _, r := range run.Results {
		if r.Status == scenario.Failed {
			assert.NotEmpty(t, r.ArtifactID, r.Name)
		}
	}
	metas, err := arts.List(run.ID)
	require.NoError(t, err)
	assert.Len(t, metas, run.Summary.Failed)
	assert.Equal(t, run.Summary.Failed, b.shots)

	require.NotEmpty(t, run.ResultsFile)
	f, err := os.Open(run.ResultsFile)
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec resultRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		assert.Equal(t, run.ID, rec.RunID)
		lines++
	}
	assert.Equal(t, len(run.Results), lines)

	feeds := map[string]int{}
	for len(events) > 0 {
		evt := <-events
		assert.Equal(t, run.ID, evt.RunID)
		feeds[evt.Feed]++
	}
	assert.Equal(t, 2, feeds[relay.FeedRun])
	assert.Equal(t, len(run.Results), feeds[relay.FeedScenario])
	assert.Positive(t, feeds[relay.FeedExchange])

	notified.Lock()
	defer notified.Unlock()
	assert.Equal(t, "snapcheck FAILED: shop.test_search", notified.title)
	assert.Contains(t, notified.body, "Setup / adds snap bundle to autocomplete page")

	got, err := svc.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Summary, got.Summary)
	assert.Len(t, svc.List(), 1)
}

func TestRunConnectFailureIsError(t *testing.T) {
	b := &fakeBrowser{connectErr: cdpcontrol.NewError(cdpcontrol.CodeCDPUnavailable, "no browser", nil)}
	svc := NewService(testOptions(t, b))
	defer svc.Close()

	run, err := svc.Run(context.Background(), RunRequest{URL: "https://other.test/"})
	require.NoError(t, err)
	assert.Equal(t, StatusError, run.Status)
	assert.Equal(t, "https://other.test/", run.URL)
	assert.Contains(t, run.Error, "CDP_UNAVAILABLE")
	assert.Empty(t, run.Results)
}

func TestStartRefusesSecondRunAndCancels(t *testing.T) {
	b := &fakeBrowser{block: make(chan struct{})}
	svc := NewService(testOptions(t, b))
	defer svc.Close()

	first, err := svc.Start(RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, first.Status)

	_, err = svc.Start(RunRequest{})
	assert.True(t, cdpcontrol.IsCode(err, cdpcontrol.CodeRunInProgress), "err = %v", err)
	_, err = svc.Bootstrap(context.Background(), RunRequest{})
	assert.True(t, cdpcontrol.IsCode(err, cdpcontrol.CodeRunInProgress), "err = %v", err)

	_, err = svc.Cancel(first.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, err := svc.Get(first.ID)
		return err == nil && r.Status.Done()
	}, 2*time.Second, 10*time.Millisecond)

	r, err := svc.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, r.Status)
	assert.Contains(t, r.Error, context.Canceled.Error())
}

func TestBootstrapHoldsPageUntilDone(t *testing.T) {
	b := &fakeBrowser{block: make(chan struct{})}
	svc := NewService(testOptions(t, b))
	defer svc.Close()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Bootstrap(context.Background(), RunRequest{})
		done <- err
	}()
	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.active == bootstrapHolder
	}, 2*time.Second, 5*time.Millisecond)

	_, err := svc.Start(RunRequest{})
	assert.True(t, cdpcontrol.IsCode(err, cdpcontrol.CodeRunInProgress), "err = %v", err)
	assert.Contains(t, err.Error(), "bootstrap is still in progress")
	_, err = svc.Run(context.Background(), RunRequest{})
	assert.True(t, cdpcontrol.IsCode(err, cdpcontrol.CodeRunInProgress), "err = %v", err)
	_, err = svc.Bootstrap(context.Background(), RunRequest{})
	assert.True(t, cdpcontrol.IsCode(err, cdpcontrol.CodeRunInProgress), "err = %v", err)
	assert.Empty(t, svc.List(), "no run was registered while the bootstrap held the page")

	close(b.block)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Bootstrap did not return")
	}

	run, err := svc.Start(RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
}

func TestGetUnknownRun(t *testing.T) {
	svc := NewService(Options{})
	_, err := svc.Get("nope")
	assert.True(t, cdpcontrol.IsCode(err, cdpcontrol.CodeRunNotFound))

	_, err = svc.Get("  ")
	var coded *cdpcontrol.CodedError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, cdpcontrol.CodeValidation, coded.Code)
	assert.Equal(t, "run_id is required", coded.Message)

	_, err = svc.Cancel("nope")
	assert.True(t, cdpcontrol.IsCode(err, cdpcontrol.CodeRunNotFound))
}

func TestRunWithoutSuite(t *testing.T) {
	svc := NewService(Options{NewBrowser: func() Browser { return &fakeBrowser{} }})
	_, err := svc.Run(context.Background(), RunRequest{})
	assert.True(t, cdpcontrol.IsCode(err, cdpcontrol.CodeValidation))
}

func TestRunRequestOverrides(t *testing.T) {
	base := testSuite(t)
	cfg, err := RunRequest{URL: " https://x.test/ ", StartingQuery: "ab"}.resolve(base)
	require.NoError(t, err)
	assert.Equal(t, "https://x.test/", cfg.URL)
	assert.Equal(t, "ab", cfg.StartingQuery)
	assert.Equal(t, "https://shop.test/search", base.URL, "base suite untouched")
}

func TestPruneKeepsNewestFinishedRuns(t *testing.T) {
	svc := NewService(Options{MaxRuns: 2})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("run-%d", i)
		svc.runs[id] = &runState{run: Run{ID: id, Status: StatusPassed, StartedAt: base.Add(time.Duration(i) * time.Minute)}}
	}
	svc.mu.Lock()
	svc.pruneLocked()
	svc.mu.Unlock()

	runs := svc.List()
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-1", runs[1].ID)
	assert.True(t, strings.HasPrefix(runs[1].ID, "run-"))
}
