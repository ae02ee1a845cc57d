// Package capture records the autocomplete traffic of a run for post-mortem.
//
// A Recorder keeps only requests whose URL matches one of the suite's
// intercept patterns and writes each finished exchange, response body
// included, as one JSON line.
package capture

import (
	"encoding/base64"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/network"

	"github.com/dgnsrekt/snapcheck/internal/cdpcontrol"
	"github.com/dgnsrekt/snapcheck/internal/config"
)

// Writer receives finished records. *storage.JSONLWriter satisfies it.
type Writer interface {
	Write(record any) error
}

// BodyFunc fetches a response body once loading finished.
type BodyFunc func() ([]byte, error)

// Recorder correlates network events into Records.
type Recorder struct {
	writer       Writer
	runID        string
	intercepts   []config.Intercept
	maxBodyBytes int

	mu      sync.Mutex
	pending map[string]*pendingRequest

	bodies    sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewRecorder returns a recorder for the given intercepts. maxBodyBytes <= 0
// keeps bodies whole.
func NewRecorder(w Writer, runID string, intercepts []config.Intercept, maxBodyBytes int) *Recorder {
	r := &Recorder{
		writer:       w,
		runID:        runID,
		intercepts:   intercepts,
		maxBodyBytes: maxBodyBytes,
		pending:      make(map[string]*pendingRequest),
		done:         make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Close stops the cleanup loop and waits for body fetches in flight.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.bodies.Wait()
}

func (r *Recorder) alias(url string) string {
	for _, ic := range r.intercepts {
		if cdpcontrol.MatchURL(ic.URLPattern, url) {
			return ic.Alias
		}
	}
	return ""
}

func (r *Recorder) OnRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	if ev.Request == nil {
		return
	}
	alias := r.alias(ev.Request.URL)
	if alias == "" {
		return
	}

	rec := &Record{
		Timestamp: time.Now().UTC(),
		RunID:     r.runID,
		Alias:     alias,
		RequestID: string(ev.RequestID),
		URL:       ev.Request.URL,
		Method:    ev.Request.Method,
		Request: Request{
			Headers:  headerMapToStringMap(ev.Request.Headers),
			PostData: postData(ev.Request),
		},
	}

	r.mu.Lock()
	r.pending[rec.RequestID] = &pendingRequest{record: rec, started: time.Now()}
	r.mu.Unlock()
}

func (r *Recorder) OnResponseReceived(ev *network.EventResponseReceived) {
	if ev.Response == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[string(ev.RequestID)]
	if !ok {
		return
	}
	p.record.Response = &Response{
		Status:     int(ev.Response.Status),
		StatusText: ev.Response.StatusText,
		MimeType:   ev.Response.MimeType,
		Headers:    headerMapToStringMap(ev.Response.Headers),
	}
}

// OnLoadingFinished writes the record. getBody runs on its own goroutine
// because it calls back into the browser.
func (r *Recorder) OnLoadingFinished(ev *network.EventLoadingFinished, getBody BodyFunc) {
	p, ok := r.take(string(ev.RequestID))
	if !ok {
		return
	}
	p.record.DurationMS = time.Since(p.started).Milliseconds()

	r.bodies.Add(1)
	go func() {
		defer r.bodies.Done()
		if p.record.Response != nil && getBody != nil {
			body, err := getBody()
			if err != nil {
				slog.Debug("capture response body unavailable", "request_id", p.record.RequestID, "error", err)
			} else {
				r.attachBody(p.record.Response, body)
			}
		}
		r.write(p.record)
	}()
}

func (r *Recorder) OnLoadingFailed(ev *network.EventLoadingFailed) {
	p, ok := r.take(string(ev.RequestID))
	if !ok {
		return
	}
	p.record.Failed = true
	p.record.ErrorText = ev.ErrorText
	p.record.DurationMS = time.Since(p.started).Milliseconds()
	r.write(p.record)
}

func (r *Recorder) take(requestID string) (*pendingRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[requestID]
	if ok {
		delete(r.pending, requestID)
	}
	return p, ok
}

func (r *Recorder) attachBody(resp *Response, body []byte) {
	if len(body) == 0 {
		return
	}
	cut := cutBody(body, r.maxBodyBytes)
	if utf8.Valid(cut.Data) {
		resp.Body = string(cut.Data)
	} else {
		resp.BodyBase64 = base64.StdEncoding.EncodeToString(cut.Data)
	}
	if cut.Truncated {
		resp.Truncated = true
		resp.OriginalSize = cut.OriginalSize
		resp.SHA256 = cut.SHA256
	}
}

func (r *Recorder) write(rec *Record) {
	if err := r.writer.Write(rec); err != nil {
		slog.Error("failed to write capture record", "request_id", rec.RequestID, "alias", rec.Alias, "error", err)
	}
}

func (r *Recorder) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.cleanupStale(time.Now().Add(-5 * time.Minute))
		case <-r.done:
			return
		}
	}
}

func (r *Recorder) cleanupStale(threshold time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, p := range r.pending {
		if p.started.Before(threshold) {
			delete(r.pending, id)
			n++
		}
	}
	return n
}

func postData(req *network.Request) string {
	if !req.HasPostData || len(req.PostDataEntries) == 0 {
		return ""
	}
	var out []byte
	for _, entry := range req.PostDataEntries {
		if entry.Bytes == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			out = append(out, entry.Bytes...)
			continue
		}
		out = append(out, decoded...)
	}
	return string(out)
}

func headerMapToStringMap(headers network.Headers) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
