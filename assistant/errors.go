package assistant

import (
	"errors"
	"fmt"
)

// HTTPError wraps non-2xx responses.
type HTTPError struct {
	Endpoint   string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "http error"
	}
	if e.Body != "" {
		return fmt.Sprintf("%s failed: %s (%d): %s", e.Endpoint, e.Status, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s failed: %s (%d)", e.Endpoint, e.Status, e.StatusCode)
}

// ReplyError is a 2xx response whose body carries {"error": "..."}.
type ReplyError struct {
	Endpoint string
	Message  string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s: backend error: %s", e.Endpoint, e.Message)
}

var ErrEmptyAudio = errors.New("no audio to transcribe")
