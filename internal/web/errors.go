package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/vbonduro/tileconsole/internal/artifact"
	"github.com/vbonduro/tileconsole/internal/backend"
	"github.com/vbonduro/tileconsole/internal/bulk"
	"github.com/vbonduro/tileconsole/internal/capture"
	"github.com/vbonduro/tileconsole/internal/draft"
	"github.com/vbonduro/tileconsole/internal/refdata"
	"github.com/vbonduro/tileconsole/internal/service"
	"github.com/vbonduro/tileconsole/internal/tiles"
)

// statusFor maps a service error to the HTTP status reported for it.
func statusFor(err error) int {
	var verrs draft.Errors
	switch {
	case errors.As(err, &verrs):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrRunNotFound),
		errors.Is(err, tiles.ErrNotFound),
		errors.Is(err, artifact.ErrNotFound),
		errors.Is(err, refdata.ErrDisposed):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSubmitting),
		errors.Is(err, backend.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, tiles.ErrInvalidSKU),
		errors.Is(err, service.ErrInvalidDimension),
		errors.Is(err, service.ErrUnknownAttribute),
		errors.Is(err, capture.ErrFaceCount),
		errors.Is(err, capture.ErrFaceIndex),
		errors.Is(err, capture.ErrNotAnImage),
		errors.Is(err, bulk.ErrNoFiles),
		errors.Is(err, bulk.ErrInvalidWorkbook):
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// messageFor is the operator-facing text of err.
func messageFor(err error) string {
	switch {
	case errors.Is(err, tiles.ErrInvalidSKU):
		return "Invalid SKU code"
	case errors.Is(err, service.ErrSessionNotFound):
		return "Form not found or expired."
	case errors.Is(err, backend.ErrAlreadyExists):
		return "Tile already exists!"
	}
	return backend.Describe(err)
}

// fail reports err to the client, logging it when it is a server-side fault.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	body := errorBody{Error: messageFor(err)}
	var verrs draft.Errors
	if errors.As(err, &verrs) {
		body.Error = "Please correct the highlighted fields."
		body.Fields = verrs
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		body.Code = apiErr.Code
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, body)
}
