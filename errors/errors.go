package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/yidakra/livevtt-sub000/log"
)

type apiError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) apiError {
	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoSegment("error writing HTTP error", "http_error_msg", msg, "error", err)
	}

	return apiError{msg, status, err}
}

// HTTP Errors
func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}

// Unretriable wraps an error to mark it as a permanent failure. The backoff
// helpers understand the wrapped error and stop retrying early.
func Unretriable(err error) error {
	return backoff.Permanent(err)
}

// IsUnretriable returns whether the given error is unretriable.
func IsUnretriable(err error) bool {
	var permErr *backoff.PermanentError
	return errors.As(err, &permErr)
}
