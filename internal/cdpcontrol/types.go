package cdpcontrol

import "fmt"

const (
	CodeValidation      = "VALIDATION"
	CodePageNotFound    = "PAGE_NOT_FOUND"
	CodeEvalFailure     = "EVAL_FAILURE"
	CodeEvalTimeout     = "EVAL_TIMEOUT"
	CodeCDPUnavailable  = "CDP_UNAVAILABLE"
	CodeElementNotFound = "ELEMENT_NOT_FOUND"
	CodeWaitTimeout     = "WAIT_TIMEOUT"
	CodeRunNotFound     = "RUN_NOT_FOUND"
	CodeRunInProgress   = "RUN_IN_PROGRESS"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// NewError builds a CodedError for callers outside this package.
func NewError(code, msg string, cause error) error {
	return newError(code, msg, cause)
}

// PageInfo describes the browser tab the client drives.
type PageInfo struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

// Element addresses one node: the Index-th match of Selector (negative
// counts from the end), optionally narrowed to its first Descendant match.
type Element struct {
	Selector   string
	Index      int
	Descendant string
}

// First addresses the first match of selector.
func First(selector string) Element { return Element{Selector: selector} }

// Last addresses the last match of selector.
func Last(selector string) Element { return Element{Selector: selector, Index: -1} }

// Within narrows e to the first descendant matching selector.
func (e Element) Within(selector string) Element {
	e.Descendant = selector
	return e
}

func (e Element) String() string {
	s := fmt.Sprintf("%s[%d]", e.Selector, e.Index)
	if e.Descendant != "" {
		s += " " + e.Descendant
	}
	return s
}

// Box is an element's viewport-relative center and size.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Visible reports whether the element occupies any area.
func (b Box) Visible() bool { return b.Width > 0 && b.Height > 0 }

// Link is an anchor as rendered: the resolved href property, the raw
// attribute and the text content.
type Link struct {
	Href     string `json:"href"`
	HrefAttr string `json:"href_attr"`
	Text     string `json:"text"`
}
