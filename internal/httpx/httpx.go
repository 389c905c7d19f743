// Package httpx holds the JSON envelope helpers shared by the HTTP
// middleware and handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/MrEthical07/authcore"
)

// ErrorBody is the error envelope.
type ErrorBody struct {
	Type       string            `json:"type"`
	Message    string            `json:"message"`
	RetryAfter int               `json:"retryAfter,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Status maps a public error kind to an HTTP status.
func Status(kind authcore.Kind) int {
	switch kind {
	case authcore.KindValidation:
		return http.StatusBadRequest
	case authcore.KindInvalidCredentials,
		authcore.KindInvalidToken,
		authcore.KindTokenBlacklisted,
		authcore.KindInvalidRefreshToken,
		authcore.KindRefreshTokenNotFound,
		authcore.KindSessionExpired:
		return http.StatusUnauthorized
	case authcore.KindUserAlreadyExists:
		return http.StatusConflict
	case authcore.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as an error envelope. Internal kinds are reported
// as SERVER_ERROR and unknown-user failures as INVALID_CREDENTIALS.
func WriteError(w http.ResponseWriter, err error) {
	body := ErrorBody{
		Type:    string(authcore.KindServerError),
		Message: authcore.ErrServer.Message,
	}

	var e *authcore.Error
	if errors.As(err, &e) {
		public := e.Kind.Public()
		body.Type = string(public)
		if public != authcore.KindServerError {
			body.Message = e.Message
			body.Fields = e.Fields
		}
		if e.RetryAfter > 0 {
			secs := int(math.Ceil(e.RetryAfter.Seconds()))
			body.RetryAfter = secs
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}

	WriteJSON(w, Status(authcore.Kind(body.Type)), body)
}
