// Package jsonerr writes structured JSON error bodies for HTTP handlers.
package jsonerr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fleetvuln/fleetvuln"
)

type Additional interface{}

type Response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Additional must be json serializable or expect errors
	Additional `json:"additional,omitempty"`
}

// Error works like http.Error but uses our response struct as the body of
// the response. Like http.Error you will still need to call a naked return
// in the http handler.
func Error(w http.ResponseWriter, r *Response, httpcode int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(httpcode)
	b, _ := json.Marshal(r)

	w.Write(b)
}

// Status maps a domain error kind onto an HTTP status code.
func Status(err error) int {
	switch {
	case errors.Is(err, fleetvuln.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, fleetvuln.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fleetvuln.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, fleetvuln.ErrIntegrity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fleetvuln.ErrBusy), errors.Is(err, fleetvuln.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Domain writes err with the status code its kind implies.
func Domain(w http.ResponseWriter, code string, err error) {
	Error(w, &Response{Code: code, Message: err.Error()}, Status(err))
}
