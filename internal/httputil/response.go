package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/banshee-data/camflow/internal/monitoring"
)

// ErrorBody is the JSON body of every failed debug request.
type ErrorBody struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// WriteJSON writes v as indented JSON. Debug views reflect live pipeline
// state, so responses are never cached.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		monitoring.Diagf("encode json response: %v", err)
	}
}

// OK writes v with status 200.
func OK(w http.ResponseWriter, v any) { WriteJSON(w, http.StatusOK, v) }

// Error writes an ErrorBody with the given status.
func Error(w http.ResponseWriter, status int, format string, args ...any) {
	WriteJSON(w, status, ErrorBody{Status: status, Error: fmt.Sprintf(format, args...)})
}

func BadRequest(w http.ResponseWriter, format string, args ...any) {
	Error(w, http.StatusBadRequest, format, args...)
}

func NotFound(w http.ResponseWriter, format string, args ...any) {
	Error(w, http.StatusNotFound, format, args...)
}

// MethodNotAllowed writes a 405 and lists the accepted methods in Allow.
func MethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	Error(w, http.StatusMethodNotAllowed, "method not allowed")
}

// Unavailable writes a 503 for an optional component that is not running.
func Unavailable(w http.ResponseWriter, component string) {
	Error(w, http.StatusServiceUnavailable, "%s not configured", component)
}

// InternalError logs err on the ops stream and writes it as a 500.
func InternalError(w http.ResponseWriter, err error) {
	monitoring.Opsf("debug route: %v", err)
	Error(w, http.StatusInternalServerError, "%v", err)
}
