package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/entrhq/pageproof/pkg/browser"
	"github.com/entrhq/pageproof/pkg/evidence"
)

const maxBodyBytes int64 = 1 << 20

// RequestError marks a fault in the client's request.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return e.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }

func badRequest(err error) error {
	return &RequestError{Err: err}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// decodeJSON reads a single JSON document from the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return badRequest(errors.New("request body required"))
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return badRequest(errors.New("request body required"))
		case errors.As(err, &maxErr):
			return badRequest(fmt.Errorf("request body too large (max %d bytes)", maxBodyBytes))
		default:
			return badRequest(fmt.Errorf("invalid JSON: %w", err))
		}
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusFor maps an error to its HTTP status code.
func statusFor(err error) int {
	var reqErr *RequestError
	switch {
	case errors.Is(err, browser.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.As(err, &reqErr), errors.Is(err, browser.ErrInvalidURL):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with a status derived from its kind. detail
// describes the failed operation for server-side faults.
func respondError(w http.ResponseWriter, err error, detail string) {
	status := statusFor(err)
	switch {
	case status == http.StatusServiceUnavailable:
		detail = "Browser not initialized"
	case status == http.StatusBadRequest:
		detail = "Invalid request"
	case errors.Is(err, evidence.ErrUpload):
		detail = "Evidence upload failed"
	}
	respondJSON(w, status, errorBody{Detail: detail, Error: err.Error()})
}
