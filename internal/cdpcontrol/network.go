package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Exchange is one completed request matched by an intercept alias.
type Exchange struct {
	Alias      string    `json:"alias"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Status     int       `json:"status,omitempty"`
	MimeType   string    `json:"mime_type,omitempty"`
	Failed     bool      `json:"failed,omitempty"`
	ErrorText  string    `json:"error_text,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type aliasState struct {
	pattern string
	done    []Exchange
	cursor  int
}

// NetworkWatcher tracks requests whose URL contains a registered pattern.
// Wait hands out each completed exchange exactly once, in completion order.
type NetworkWatcher struct {
	mu      sync.Mutex
	aliases map[string]*aliasState
	order   []string
	pending map[string]*Exchange
	changed chan struct{}
	onDone  []func(Exchange)
}

// NewNetworkWatcher returns a watcher with no aliases.
func NewNetworkWatcher() *NetworkWatcher {
	return &NetworkWatcher{
		aliases: make(map[string]*aliasState),
		pending: make(map[string]*Exchange),
		changed: make(chan struct{}),
	}
}

// MatchURL reports whether url matches an intercept pattern. Patterns with
// glob syntax are matched against the whole URL, ** spanning slashes; any
// other pattern is a substring match.
func MatchURL(pattern, url string) bool {
	if pattern == "" {
		return false
	}
	if !IsGlob(pattern) {
		return strings.Contains(url, pattern)
	}
	ok, err := doublestar.Match(pattern, url)
	return err == nil && ok
}

// IsGlob reports whether pattern uses glob syntax. A lone "?" is common in
// URLs and does not count.
func IsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*[{")
}

// Intercept registers alias for requests whose URL matches pattern (see
// MatchURL).
func (w *NetworkWatcher) Intercept(alias, pattern string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.aliases[alias]; !ok {
		w.order = append(w.order, alias)
	}
	w.aliases[alias] = &aliasState{pattern: pattern}
}

// OnExchange adds a callback run for every completed exchange. Callbacks run
// on the CDP read loop and must not block.
func (w *NetworkWatcher) OnExchange(fn func(Exchange)) {
	w.mu.Lock()
	w.onDone = append(w.onDone, fn)
	w.mu.Unlock()
}

func (w *NetworkWatcher) match(url string) string {
	for _, alias := range w.order {
		if MatchURL(w.aliases[alias].pattern, url) {
			return alias
		}
	}
	return ""
}

// RequestWillBeSent handles Network.requestWillBeSent params.
func (w *NetworkWatcher) RequestWillBeSent(params json.RawMessage) {
	var evt struct {
		RequestID string `json:"requestId"`
		Request   struct {
			URL    string `json:"url"`
			Method string `json:"method"`
		} `json:"request"`
	}
	if json.Unmarshal(params, &evt) != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	alias := w.match(evt.Request.URL)
	if alias == "" {
		return
	}
	w.pending[evt.RequestID] = &Exchange{
		Alias:     alias,
		RequestID: evt.RequestID,
		Method:    evt.Request.Method,
		URL:       evt.Request.URL,
		StartedAt: time.Now(),
	}
}

// ResponseReceived handles Network.responseReceived params.
func (w *NetworkWatcher) ResponseReceived(params json.RawMessage) {
	var evt struct {
		RequestID string `json:"requestId"`
		Response  struct {
			Status   int    `json:"status"`
			MimeType string `json:"mimeType"`
		} `json:"response"`
	}
	if json.Unmarshal(params, &evt) != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if ex, ok := w.pending[evt.RequestID]; ok {
		ex.Status = evt.Response.Status
		ex.MimeType = evt.Response.MimeType
	}
}

// LoadingFinished handles Network.loadingFinished params.
func (w *NetworkWatcher) LoadingFinished(params json.RawMessage) {
	var evt struct {
		RequestID string `json:"requestId"`
	}
	if json.Unmarshal(params, &evt) != nil {
		return
	}
	w.complete(evt.RequestID, false, "")
}

// LoadingFailed handles Network.loadingFailed params.
func (w *NetworkWatcher) LoadingFailed(params json.RawMessage) {
	var evt struct {
		RequestID string `json:"requestId"`
		ErrorText string `json:"errorText"`
	}
	if json.Unmarshal(params, &evt) != nil {
		return
	}
	w.complete(evt.RequestID, true, evt.ErrorText)
}

func (w *NetworkWatcher) complete(requestID string, failed bool, errorText string) {
	w.mu.Lock()
	ex, ok := w.pending[requestID]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, requestID)
	ex.Failed = failed
	ex.ErrorText = errorText
	ex.FinishedAt = time.Now()
	state := w.aliases[ex.Alias]
	state.done = append(state.done, *ex)
	close(w.changed)
	w.changed = make(chan struct{})
	callbacks := append([]func(Exchange){}, w.onDone...)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(*ex)
	}
}

// Wait returns the next completed exchange for alias that no earlier Wait
// returned, blocking until one arrives or timeout elapses.
func (w *NetworkWatcher) Wait(ctx context.Context, alias string, timeout time.Duration) (Exchange, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		w.mu.Lock()
		state, ok := w.aliases[alias]
		if !ok {
			w.mu.Unlock()
			return Exchange{}, newError(CodeValidation, fmt.Sprintf("no intercept registered for @%s", alias), nil)
		}
		if state.cursor < len(state.done) {
			ex := state.done[state.cursor]
			state.cursor++
			w.mu.Unlock()
			return ex, nil
		}
		changed := w.changed
		w.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return Exchange{}, newError(CodeWaitTimeout, fmt.Sprintf("timed out waiting for @%s after %s", alias, timeout), nil)
		case <-ctx.Done():
			return Exchange{}, ctx.Err()
		}
	}
}

// Exchanges returns every completed exchange for alias, consumed or not.
func (w *NetworkWatcher) Exchanges(alias string) []Exchange {
	w.mu.Lock()
	defer w.mu.Unlock()
	state, ok := w.aliases[alias]
	if !ok {
		return nil
	}
	return append([]Exchange(nil), state.done...)
}

// Reset drops all recorded and in-flight exchanges; aliases stay registered.
func (w *NetworkWatcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, state := range w.aliases {
		state.done = nil
		state.cursor = 0
	}
	w.pending = make(map[string]*Exchange)
}

// WatchNetwork enables the Network domain on the page and feeds its events
// to w. The returned function unregisters the handlers.
func (c *Client) WatchNetwork(ctx context.Context, w *NetworkWatcher) (func(), error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	cdp, sessionID, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	handlers := map[string]func(json.RawMessage){
		"Network.requestWillBeSent": w.RequestWillBeSent,
		"Network.responseReceived":  w.ResponseReceived,
		"Network.loadingFinished":   w.LoadingFinished,
		"Network.loadingFailed":     w.LoadingFailed,
	}
	var unregister []func()
	for method, fn := range handlers {
		fn := fn
		unregister = append(unregister, cdp.registerEventHandler(method, func(sid string, params json.RawMessage) {
			if sid != sessionID {
				return
			}
			fn(params)
		}))
	}
	stop := func() {
		for _, u := range unregister {
			u()
		}
	}

	if err := cdp.enableDomain(ctx, sessionID, "Network"); err != nil {
		stop()
		return nil, newError(CodeEvalFailure, "enable network domain failed", err)
	}
	slog.Debug("cdpcontrol network watch started", "session_id", sessionID)
	return stop, nil
}
