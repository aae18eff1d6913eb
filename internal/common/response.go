package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the nested error shape used by every endpoint except cart calculation.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// MessageError is the flat shape of cart calculation and rate limit errors. Clients display Error
// verbatim.
type MessageError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON encodes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError writes {"error":{"code":...,"message":...,"details":...}}.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, errorEnvelope{Error: ErrorBody{Code: code, Message: message, Details: details}})
}

// JSONMessage writes {"error":message,"code":code}.
func JSONMessage(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, MessageError{Error: message, Code: code})
}
