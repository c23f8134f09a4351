package pivot

import (
	"errors"
	"fmt"
	"time"

	"hermannm.dev/enumnames"
	"hermannm.dev/pivot/request"
)

type ErrorKind int8

const (
	// The server rejected the query for exceeding its rate limit.
	ErrorKindRateLimited ErrorKind = iota + 1
	// The server gave up on the query.
	ErrorKindServerTimeout
	// No response arrived within the time allowed for the query's size.
	ErrorKindClientTimeout
	// The server is processing too many queries.
	ErrorKindServerBusy
	ErrorKindGeneral
)

var errorKindMap = enumnames.NewMap(map[ErrorKind]string{
	ErrorKindRateLimited:   "rate_limit",
	ErrorKindServerTimeout: "timeout",
	ErrorKindClientTimeout: "client_timeout",
	ErrorKindServerBusy:    "server_busy",
	ErrorKindGeneral:       "general",
})

func (kind ErrorKind) String() string {
	return errorKindMap.GetNameOrFallback(kind, "INVALID_ERROR_KIND")
}

func (kind ErrorKind) MarshalJSON() ([]byte, error) {
	return errorKindMap.MarshalToNameJSON(kind)
}

func (kind *ErrorKind) UnmarshalJSON(bytes []byte) error {
	return errorKindMap.UnmarshalFromNameJSON(bytes, kind)
}

// QueryError is a failure classified for presenting to the user.
type QueryError struct {
	Kind    ErrorKind `json:"kind"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	// Seconds the user should wait before retrying, if the server told us.
	RetryAfterSeconds *int `json:"retryAfter,omitempty"`

	cause error
}

func (err *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", err.Title, err.Message)
}

func (err *QueryError) Unwrap() error {
	return err.cause
}

func (err *QueryError) RetryAfter() (wait time.Duration, ok bool) {
	if err.RetryAfterSeconds == nil {
		return 0, false
	}
	return time.Duration(*err.RetryAfterSeconds) * time.Second, true
}

// IsCancelled returns true if err signals that the request was superseded by a newer one, or
// cancelled explicitly. Such errors must not be shown to the user.
func IsCancelled(err error) bool {
	return errors.Is(err, request.ErrCancelled)
}

// AsQueryError returns the QueryError in err's chain. Every non-nil error from the client that is
// not a cancellation is a QueryError.
func AsQueryError(err error) (*QueryError, bool) {
	var queryErr *QueryError
	if errors.As(err, &queryErr) {
		return queryErr, true
	}
	return nil, false
}

const (
	defaultRateLimitRetryAfterSeconds = 60
	serverBusyRetryAfterSeconds       = 10
	genericErrorMessage               = "An unexpected error occurred. Please try again."
)

func newRateLimitedError(retryAfterSeconds int) *QueryError {
	return &QueryError{
		Kind:  ErrorKindRateLimited,
		Title: "Too many queries",
		Message: fmt.Sprintf(
			"You have made many queries in a short time. Please wait %d seconds before trying again.",
			retryAfterSeconds,
		),
		RetryAfterSeconds: &retryAfterSeconds,
	}
}

func newServerTimeoutError() *QueryError {
	return &QueryError{
		Kind:  ErrorKindServerTimeout,
		Title: "Query took too long",
		Message: "The server could not complete the query in time. " +
			"Try selecting fewer periods or adding filters to reduce the amount of data.",
	}
}

func newServerBusyError() *QueryError {
	retryAfter := serverBusyRetryAfterSeconds
	return &QueryError{
		Kind:  ErrorKindServerBusy,
		Title: "Server busy",
		Message: "The server is processing many requests. " +
			"Please wait a few seconds and try again.",
		RetryAfterSeconds: &retryAfter,
	}
}

func newGeneralError(message string, cause error) *QueryError {
	if message == "" {
		message = genericErrorMessage
	}
	return &QueryError{
		Kind:    ErrorKindGeneral,
		Title:   "Query error",
		Message: message,
		cause:   cause,
	}
}

func newClientTimeoutError(periodCount int, allowance time.Duration) *QueryError {
	return &QueryError{
		Kind:  ErrorKindClientTimeout,
		Title: "Query took too long",
		Message: fmt.Sprintf(
			"The query for %d period(s) took longer than %d seconds. "+
				"Try fewer periods or more filters.",
			periodCount,
			int(allowance.Round(time.Second)/time.Second),
		),
		cause: request.ErrTimeout,
	}
}
