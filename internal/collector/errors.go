package collector

import (
	"errors"
	"fmt"
)

// Kind classifies a collector failure
type Kind string

const (
	KindTransport Kind = "transport" // timeout, connection refused, DNS
	KindProtocol  Kind = "protocol"  // non-200, malformed JSON, empty result
	KindParse     Kind = "parse"     // scrape label/value missing or non-numeric
	KindConfig    Kind = "config"    // invalid or unknown username at setup
)

var (
	ErrEmptyResult      = errors.New("empty result")
	ErrLabelNotFound    = errors.New("lifetime earnings label not found")
	ErrValueNotFound    = errors.New("lifetime earnings value not found")
	ErrNotNumeric       = errors.New("value is not numeric")
	ErrUsernameNotFound = errors.New("username not found")
	ErrInvalidUsername  = errors.New("invalid username")
	ErrCannotConnect    = errors.New("cannot connect")
	ErrUpdateFailed     = errors.New("update failed")
)

// Error is the typed failure returned by the API client and the scraper.
type Error struct {
	Kind       Kind
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Kind, e.Op)
	if e.URL != "" {
		msg += " " + e.URL
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err carries a collector Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	return 0
}
