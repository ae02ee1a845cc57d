package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"
)

// bodyCut is a response body limited to a byte budget.
type bodyCut struct {
	Data         []byte
	Truncated    bool
	OriginalSize int
	SHA256       string
}

// cutBody keeps at most maxBytes of body. A cut that would split a UTF-8
// sequence backs off to the previous rune start, so text bodies stay text.
// The digest always covers the full body.
func cutBody(body []byte, maxBytes int) bodyCut {
	if maxBytes <= 0 || len(body) <= maxBytes {
		return bodyCut{Data: body, OriginalSize: len(body)}
	}
	end := maxBytes
	if utf8.Valid(body) {
		for end > 0 && !utf8.RuneStart(body[end]) {
			end--
		}
	}
	sum := sha256.Sum256(body)
	return bodyCut{
		Data:         body[:end],
		Truncated:    true,
		OriginalSize: len(body),
		SHA256:       hex.EncodeToString(sum[:]),
	}
}
