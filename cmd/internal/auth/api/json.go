package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Error codes carried in the envelope. Clients branch on these, not on messages.
const (
	codeInvalidJSON        = "invalid_json"
	codeInvalidRequest     = "invalid_request"
	codeInvalidCredentials = "invalid_credentials"
	codeUnauthorized       = "unauthorized"
	codeSessionNotActive   = "session_not_active"
	codeRateLimited        = "rate_limited"
	codeServerBusy         = "server_busy"
	codeServerError        = "server_error"
)

var (
	errEmptyBody    = errors.New("authapi: empty body")
	errTrailingJSON = errors.New("authapi: extra data after JSON object")
	errBodyTooLarge = errors.New("authapi: body too large")
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// writeJSON never lets a response carrying token material be cached.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// writeSessionNotActive is the single answer for every refresh-token failure:
// missing, unknown, expired, revoked and replayed look the same on the wire.
func writeSessionNotActive(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, codeSessionNotActive, "session not active")
}

func writeServerError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, codeServerError, "internal error")
}

// decodeJSON reads exactly one JSON object of at most maxBytes into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errTrailingJSON
	}
	return nil
}
