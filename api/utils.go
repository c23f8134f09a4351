package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"hermannm.dev/devlog/log"
	"hermannm.dev/wrap"
)

func sendJSON(res http.ResponseWriter, value any) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(res).Encode(value); err != nil {
		log.ErrorCause(err, "failed to serialize response")
	}
}

// sendClientError responds 400 with a plain-text message, which the client shows to the user.
func sendClientError(res http.ResponseWriter, err error, message string) {
	if err != nil {
		if message == "" {
			message = err.Error()
		} else {
			message = wrap.Error(err, message).Error()
		}
	}
	log.Debug("rejected invalid request", slog.String("reason", message))
	http.Error(res, message, http.StatusBadRequest)
}

func sendServerError(res http.ResponseWriter, err error, message string) {
	log.ErrorCause(err, message)
	http.Error(res, message, http.StatusInternalServerError)
}

func sendRetryLater(res http.ResponseWriter, statusCode int, retryAfterSeconds int) {
	res.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	http.Error(res, http.StatusText(statusCode), statusCode)
}
