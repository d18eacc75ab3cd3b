package extraction

import "fmt"

// Kind groups extraction failures.
type Kind string

const (
	// KindRemote is a failure reported by, or while reaching, the model service.
	KindRemote Kind = "remote"
	// KindInvalidInput is a document the service cannot accept.
	KindInvalidInput Kind = "invalid_input"
	// KindMalformed is a model response that is not the expected JSON.
	KindMalformed Kind = "malformed_response"
	// KindNotRecognized is a well-formed response that does not describe an invoice.
	KindNotRecognized Kind = "not_recognized"
)

// Error is returned by extractors. Code is the remote HTTP status when known.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("extraction %s (status %d): %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("extraction %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode exposes Code to retry classification.
func (e *Error) StatusCode() int { return e.Code }
