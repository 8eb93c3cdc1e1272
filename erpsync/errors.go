package erpsync

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/utils"
)

// AuthError means the API token was rejected. Not retryable; the
// connection should be flagged for operator attention.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("erp auth rejected with status %d, check ERP_API_TOKEN", e.Status)
}

// RateLimitError is returned after the client has already honored the
// server's cool-down. It is the only error class the retry loop retries.
type RateLimitError struct {
	CoolDown time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("erp rate limited, cooled down %s", e.CoolDown)
}

// ParseError wraps a response body that did not decode into the expected
// envelope. Sample carries a truncated prefix of the raw payload for logs.
type ParseError struct {
	Sample string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("erp response parse failed: %v, body: %s", e.Err, e.Sample)
}

func (e *ParseError) Unwrap() error { return e.Err }

func newParseError(body []byte, err error) *ParseError {
	return &ParseError{Sample: utils.Truncate(string(body), 200), Err: err}
}

// HttpError covers any non-2xx status the client has no dedicated class for.
type HttpError struct {
	Status int
	Body   string
}

func (e *HttpError) Error() string {
	return fmt.Sprintf("erp returned status %d: %s", e.Status, e.Body)
}

type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("erp request timed out: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("erp unreachable: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
