// Package notify posts run summaries to an ntfy-style endpoint.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Summary is the outcome of one suite run.
type Summary struct {
	RunID    string
	Site     string
	Passed   int
	Skipped  int
	Failed   int
	Duration time.Duration
	// Failures lists "group / scenario: message" lines.
	Failures []string
}

// Title is the one-line headline for the run.
func (s Summary) Title() string {
	status := "passed"
	if s.Failed > 0 {
		status = "FAILED"
	}
	return fmt.Sprintf("snapcheck %s: %s", status, s.Site)
}

// Message renders the notification body.
func (s Summary) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d passed, %d skipped, %d failed in %s",
		s.RunID, s.Passed, s.Skipped, s.Failed, s.Duration.Round(time.Millisecond))
	for _, f := range s.Failures {
		b.WriteString("\n- ")
		b.WriteString(f)
	}
	return b.String()
}

// SendSummary posts s to endpoint with ntfy Title and Tags headers.
func SendSummary(ctx context.Context, client *http.Client, endpoint string, s Summary) error {
	tags := "white_check_mark"
	if s.Failed > 0 {
		tags = "rotating_light"
	}
	return send(ctx, client, endpoint, s.Message(), map[string]string{
		"Title": s.Title(),
		"Tags":  tags,
	})
}

// Send posts a plain-text message to endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	return send(ctx, client, endpoint, message, nil)
}

func send(ctx context.Context, client *http.Client, endpoint, message string, headers map[string]string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
