// Package httputil provides HTTP handler utilities for consistent response
// envelopes, JSON decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"
)

// Envelope is the body shape of every API response. The statusCode and
// messages fields are always present; handlers merge payload fields
// alongside them at the top level.
type Envelope map[string]interface{}

// WriteEnvelope writes an enveloped JSON response. The extra map is merged
// into the top level next to statusCode and messages.
func WriteEnvelope(w http.ResponseWriter, status int, messages []string, extra Envelope) error {
	body := Envelope{
		"statusCode": status,
		"messages":   messages,
	}
	for k, v := range extra {
		if k == "statusCode" || k == "messages" {
			continue
		}
		body[k] = v
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}

// WriteSuccess writes a 200 response with a single message and payload fields
func WriteSuccess(w http.ResponseWriter, message string, extra Envelope) error {
	return WriteEnvelope(w, http.StatusOK, []string{message}, extra)
}

// WriteCreated writes a 201 response with a single message and payload fields
func WriteCreated(w http.ResponseWriter, message string, extra Envelope) error {
	return WriteEnvelope(w, http.StatusCreated, []string{message}, extra)
}

// WriteErrorMessage writes an enveloped error response with a single message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteEnvelope(w, status, []string{message}, nil)
}

// WriteValidationError writes a malformed input error (400)
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes a missing or invalid credential error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes an authorization failure (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteNotFound writes a missing resource error (404)
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteUnprocessable writes a semantic conflict error (422), used for
// name-in-use and similar uniqueness violations
func WriteUnprocessable(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnprocessableEntity, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteInternalError writes an internal server error (500). The underlying
// error is never exposed to the client.
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
}
