package cdpcontrol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"not connected",
}

const pollInterval = 100 * time.Millisecond

type tabSession struct {
	info      PageInfo
	mu        sync.Mutex
	sessionID string // CDP session ID from Target.attachToTarget
}

// Client drives a single page over raw CDP. Operations are serialised; the
// page is one shared resource.
type Client struct {
	cdpURL         string
	tabFilter      string
	evalTimeout    time.Duration
	commandTimeout time.Duration

	mu   sync.Mutex
	cdp  *rawCDP
	page *tabSession

	opMu sync.Mutex
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// NewClient returns a client for the browser at cdpURL. tabFilter picks the
// first page whose URL contains it; commandTimeout bounds element lookups.
func NewClient(cdpURL, tabFilter string, evalTimeout, commandTimeout time.Duration) *Client {
	return &Client{
		cdpURL:         cdpURL,
		tabFilter:      strings.ToLower(strings.TrimSpace(tabFilter)),
		evalTimeout:    evalTimeout,
		commandTimeout: commandTimeout,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	if err := c.selectPageLocked(ctx); err != nil {
		slog.Error("cdpcontrol page selection failed", "error", err)
		c.cleanupLocked()
		return err
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "target_id", c.page.info.TargetID, "url", c.page.info.URL)
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	// Detach without closing the target.
	if c.cdp != nil {
		if c.page != nil {
			c.page.mu.Lock()
			if c.page.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				_ = c.cdp.detachFromTarget(ctx, c.page.sessionID)
				cancel()
				c.page.sessionID = ""
			}
			c.page.mu.Unlock()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.page = nil
}

// Page returns the tab currently driven.
func (c *Client) Page() PageInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return PageInfo{}
	}
	return c.page.info
}

// selectPageLocked picks the first page target matching the tab filter. With
// no filter and no open page a blank tab is created.
func (c *Client) selectPageLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	var first *PageInfo
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if c.tabFilter != "" && !strings.Contains(strings.ToLower(t.URL), c.tabFilter) {
			continue
		}
		first = &PageInfo{TargetID: string(t.TargetID), URL: t.URL, Title: t.Title}
		break
	}

	if first == nil {
		if c.tabFilter != "" {
			return newError(CodePageNotFound, "no page matches tab filter "+c.tabFilter, nil)
		}
		id, err := c.cdp.createTarget(ctx, "about:blank")
		if err != nil {
			return newError(CodeCDPUnavailable, "create page target failed", err)
		}
		first = &PageInfo{TargetID: id, URL: "about:blank"}
	}

	if c.page != nil && c.page.info.TargetID == first.TargetID {
		c.page.info = *first
		return nil
	}
	c.page = &tabSession{info: *first}
	slog.Debug("cdpcontrol page selected", "targets", len(targets), "target_id", first.TargetID)
	return nil
}

// Eval runs an envelope-returning expression and decodes its data into out.
// Transient transport failures are retried once after reconnecting.
func (c *Client) Eval(ctx context.Context, js string, out any) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.evalLocked(ctx, js, out)
}

func (c *Client) evalLocked(ctx context.Context, js string, out any) error {
	err := c.evalOnPage(ctx, js, out)
	if err == nil || !c.shouldRetry(err) {
		return err
	}

	slog.Warn("cdpcontrol eval retry after transient failure", "error", err)
	if recErr := c.reconnect(ctx); recErr != nil {
		slog.Error("cdpcontrol reconnect failed during retry", "error", recErr)
		return recErr
	}
	return c.evalOnPage(ctx, js, out)
}

func (c *Client) evalOnPage(ctx context.Context, js string, out any) error {
	cdp, sessionID, err := c.session(ctx)
	if err != nil {
		return err
	}

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "session_id", sessionID, "error", err)
		c.resetSession()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}
	return decodeEnvelope(raw, out)
}

func decodeEnvelope(raw string, out any) error {
	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// Navigate loads url in the page and waits for document.readyState to reach
// "complete".
func (c *Client) Navigate(ctx context.Context, url string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if strings.TrimSpace(url) == "" {
		return newError(CodeValidation, "url is required", nil)
	}
	cdp, sessionID, err := c.session(ctx)
	if err != nil {
		return err
	}
	if err := cdp.enableDomain(ctx, sessionID, "Page"); err != nil {
		return newError(CodeEvalFailure, "enable page domain failed", err)
	}
	slog.Info("cdpcontrol navigate", "url", url)
	if err := cdp.navigate(ctx, sessionID, url); err != nil {
		return newError(CodeEvalFailure, "navigate failed", err)
	}

	deadline := time.Now().Add(c.loadTimeout())
	for {
		var out struct {
			ReadyState string `json:"ready_state"`
			URL        string `json:"url"`
		}
		// The execution context is torn down mid-navigation; keep the
		// session and poll again.
		evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
		raw, err := cdp.evaluate(evalCtx, sessionID, jsReadyState())
		evalCancel()
		if err == nil {
			err = decodeEnvelope(raw, &out)
		}
		if err == nil && out.ReadyState == "complete" {
			c.mu.Lock()
			if c.page != nil {
				c.page.info.URL = out.URL
			}
			c.mu.Unlock()
			return nil
		}
		if time.Now().After(deadline) {
			return newError(CodeWaitTimeout, "page did not finish loading: "+url, err)
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// LoadScript appends a <script src=url> to the page and resolves once the
// browser reports load or error.
func (c *Client) LoadScript(ctx context.Context, url string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if strings.TrimSpace(url) == "" {
		return newError(CodeValidation, "script url is required", nil)
	}
	js := wrapJSEvalAsync(`
var src = ` + jsString(url) + `;
return await new Promise(function(resolve) {
  var s = document.createElement("script");
  s.src = src;
  s.async = true;
  s.onload = function() { resolve(JSON.stringify({ok:true})); };
  s.onerror = function() { resolve(JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:"script failed to load: " + src})); };
  (document.head || document.documentElement).appendChild(s);
});`)
	return c.evalLocked(ctx, js, nil)
}

// SetWindowFlag assigns window[name] = value.
func (c *Client) SetWindowFlag(ctx context.Context, name string, value any) error {
	return c.Eval(ctx, jsSetWindowFlag(name, value), nil)
}

// Screenshot captures the viewport as PNG.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	cdp, sessionID, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	data, err := cdp.captureScreenshot(ctx, sessionID, false)
	if err != nil {
		return nil, newError(CodeEvalFailure, "failed to capture screenshot", err)
	}
	png, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, newError(CodeEvalFailure, "invalid screenshot data", err)
	}
	return png, nil
}

// session returns the transport and an attached session for the page.
func (c *Client) session(ctx context.Context) (*rawCDP, string, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, "", err
	}

	c.mu.Lock()
	cdp, page := c.cdp, c.page
	c.mu.Unlock()
	if cdp == nil || page == nil {
		return nil, "", newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sid, err := c.ensureSession(ctx, cdp, page)
	if err != nil {
		return nil, "", err
	}
	return cdp, sid, nil
}

// ensureSession returns a CDP session ID for the page, attaching if needed.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, page *tabSession) (string, error) {
	page.mu.Lock()
	defer page.mu.Unlock()

	if page.sessionID != "" {
		return page.sessionID, nil
	}

	sid, err := cdp.attachToTarget(ctx, page.info.TargetID)
	if err != nil {
		return "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	page.sessionID = sid
	slog.Debug("cdpcontrol session attached", "target_id", page.info.TargetID, "session_id", sid)
	return sid, nil
}

func (c *Client) resetSession() {
	c.mu.Lock()
	page := c.page
	c.mu.Unlock()
	if page == nil {
		return
	}
	page.mu.Lock()
	page.sessionID = ""
	page.mu.Unlock()
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil && c.page != nil
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) loadTimeout() time.Duration {
	if c.evalTimeout > c.commandTimeout {
		return c.evalTimeout * 6
	}
	return c.commandTimeout * 6
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsCode reports whether err carries the given stable code.
func IsCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}
