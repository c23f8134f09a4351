package pivot

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"hermannm.dev/wrap"
)

// Bodies of error responses are only shown as messages, so there is no point reading more.
const maxErrorBodySize = 64 * 1024

// classifyResponse decodes a successful response into T, or translates an error response into a
// QueryError. Always closes the response body.
func classifyResponse[T any](res *http.Response) (T, error) {
	defer res.Body.Close()

	var value T

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return value, classifyErrorStatus(res)
	}

	if err := json.NewDecoder(res.Body).Decode(&value); err != nil {
		return value, newGeneralError(
			"The server returned a response that could not be read. Please try again.",
			wrap.Errorf(err, "failed to decode response body (status %d)", res.StatusCode),
		)
	}

	return value, nil
}

func classifyErrorStatus(res *http.Response) *QueryError {
	switch res.StatusCode {
	case http.StatusTooManyRequests:
		return newRateLimitedError(parseRetryAfter(res.Header.Get("Retry-After")))
	case http.StatusGatewayTimeout:
		return newServerTimeoutError()
	case http.StatusServiceUnavailable:
		return newServerBusyError()
	}

	// A body we fail to read is treated like an empty one.
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodySize))
	return newGeneralError(
		strings.TrimSpace(string(body)),
		errorStatus(res.StatusCode),
	)
}

// parseRetryAfter only supports the delay-seconds form of Retry-After, and defaults to
// defaultRateLimitRetryAfterSeconds.
func parseRetryAfter(header string) int {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return defaultRateLimitRetryAfterSeconds
	}
	return seconds
}

type errorStatus int

func (status errorStatus) Error() string {
	return "server responded with status " + strconv.Itoa(int(status)) + " " +
		http.StatusText(int(status))
}
