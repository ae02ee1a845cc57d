package capture

import "time"

// Record is one captured request/response pair for an intercepted alias.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"run_id"`
	Alias      string    `json:"alias"`
	RequestID  string    `json:"request_id"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	Request    Request   `json:"request"`
	Response   *Response `json:"response,omitempty"`
	Failed     bool      `json:"failed,omitempty"`
	ErrorText  string    `json:"error_text,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

type Request struct {
	Headers  map[string]string `json:"headers,omitempty"`
	PostData string            `json:"post_data,omitempty"`
}

type Response struct {
	Status       int               `json:"status"`
	StatusText   string            `json:"status_text"`
	MimeType     string            `json:"mime_type,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         string            `json:"body,omitempty"`
	BodyBase64   string            `json:"body_base64,omitempty"`
	Truncated    bool              `json:"truncated,omitempty"`
	OriginalSize int               `json:"original_size,omitempty"`
	SHA256       string            `json:"sha256,omitempty"`
}

type pendingRequest struct {
	record  *Record
	started time.Time
}
