package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/hlog"
	"github.com/wolfeidau/grc/internal/apperr"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to encode response")
	}
}

// WriteError maps err onto the error taxonomy. Internal errors are logged and never echoed.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)

	resp := ErrorResponse{Error: http.StatusText(status)}

	var verr *apperr.ValidationError
	switch {
	case errors.As(err, &verr):
		resp.Fields = verr.Fields
	case status == http.StatusInternalServerError:
		hlog.FromRequest(r).Error().Err(err).Msg("Request failed")
	default:
		hlog.FromRequest(r).Debug().Err(err).Int("status", status).Msg("Request rejected")
	}

	WriteJSON(w, r, status, resp)
}

// DecodeJSON reads a JSON request body into v. Malformed bodies are validation failures.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := ReadBody(w, r)
	if err != nil {
		return err
	}
	return Unmarshal(body, v)
}

// ReadBody reads the request body up to the size limit.
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, apperr.Invalid("body", fmt.Sprintf("must not exceed %d bytes", maxErr.Limit))
		}
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return body, nil
}

// Unmarshal decodes a JSON document into v, rejecting unknown fields.
func Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalid("body", "request body is required")
		}
		return apperr.Invalid("body", fmt.Sprintf("malformed JSON: %v", err))
	}
	return nil
}
