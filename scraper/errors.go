package scraper

import "errors"

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

// ErrNotFound indicates a missing resource (HTTP 404). Retailer store pages
// hit this when a candidate URL guesses the wrong slug.
type ErrNotFound struct {
	Err error
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrTimeout) Error() string     { return describe(e, e.Err) }
func (e ErrConnection) Error() string  { return describe(e, e.Err) }
func (e ErrForbidden) Error() string   { return describe(e, e.Err) }
func (e ErrNotFound) Error() string    { return describe(e, e.Err) }
func (e ErrRateLimited) Error() string { return describe(e, e.Err) }

func (e ErrTimeout) Unwrap() error     { return e.Err }
func (e ErrConnection) Unwrap() error  { return e.Err }
func (e ErrForbidden) Unwrap() error   { return e.Err }
func (e ErrNotFound) Unwrap() error    { return e.Err }
func (e ErrRateLimited) Unwrap() error { return e.Err }

func (ErrTimeout) label() string     { return "timeout" }
func (ErrConnection) label() string  { return "connection" }
func (ErrForbidden) label() string   { return "forbidden" }
func (ErrNotFound) label() string    { return "not_found" }
func (ErrRateLimited) label() string { return "rate_limited" }

// labeled is implemented by the fetch error types above.
type labeled interface {
	error
	label() string
}

func describe(e labeled, cause error) string {
	if cause == nil {
		return e.label()
	}
	return e.label() + ": " + cause.Error()
}

// errorTypeLabel maps err to its metric label.
func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var l labeled
	if errors.As(err, &l) {
		return l.label()
	}
	return "other"
}

// retryable reports whether a failed fetch may succeed when repeated. Missing
// and forbidden pages stay that way.
func retryable(err error) bool {
	switch errorTypeLabel(err) {
	case "forbidden", "not_found":
		return false
	}
	return true
}

