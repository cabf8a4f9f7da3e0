package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/andresmejia3/faceauth/internal/aggregate"
	"github.com/andresmejia3/faceauth/internal/codec"
	"github.com/andresmejia3/faceauth/internal/logger"
	"github.com/andresmejia3/faceauth/internal/sampler"
	"github.com/andresmejia3/faceauth/internal/store"
	"github.com/andresmejia3/faceauth/internal/vecmath"
	"go.uber.org/zap"
)

// Stable error codes returned in the "code" field.
const (
	CodeDecode           = "decode_error"
	CodeNoValidFace      = "no_valid_face"
	CodeUserNotFound     = "user_not_found"
	CodeCodec            = "codec_error"
	CodeDegenerateVector = "degenerate_vector"
	CodeInvalidRequest   = "invalid_request"
	CodeInternal         = "internal"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// requestError is a problem with the request itself (missing field,
// malformed id, oversized body).
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

// classify maps an error onto its HTTP status and code.
func classify(err error) (int, string) {
	var re *requestError
	var mb *http.MaxBytesError
	var de *sampler.DecodeError
	var ce *codec.CodecError
	switch {
	case errors.As(err, &mb):
		return http.StatusRequestEntityTooLarge, CodeInvalidRequest
	case errors.As(err, &re):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.As(err, &de):
		return http.StatusBadRequest, CodeDecode
	case errors.Is(err, aggregate.ErrNoValidFace):
		return http.StatusUnprocessableEntity, CodeNoValidFace
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeUserNotFound
	case errors.As(err, &ce):
		return http.StatusInternalServerError, CodeCodec
	case errors.Is(err, vecmath.ErrDegenerateVector):
		return http.StatusUnprocessableEntity, CodeDegenerateVector
	}
	return http.StatusInternalServerError, CodeInternal
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response. Server-side failures are logged
// and their details are not echoed to the client.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", r.URL.Path), zap.String("code", code), zap.Error(err))
		msg = http.StatusText(status)
		if code == CodeCodec {
			msg = "stored identity could not be read"
		}
	}
	respondJSON(w, status, errorResponse{Error: msg, Code: code})
}
