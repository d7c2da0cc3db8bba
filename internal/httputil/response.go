// Package httputil holds the JSON response helpers shared by the control API
// and the database admin routes.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/banshee-data/traffic.control/internal/monitoring"
)

// errorBody is the payload of every error response: {"error": "..."}.
type errorBody struct {
	Error string `json:"error"`
}

// WriteJSON encodes data with the given status. Encoding failures happen
// after the header is sent, so they are only logged.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("httputil: encoding %d response: %v", status, err)
	}
}

// WriteJSONError reports msg under the "error" key.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, errorBody{Error: msg})
}

// WriteJSONOK serves agent, segment, run and summary views.
func WriteJSONOK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// BadRequest is used for malformed query parameters such as a run id or
// tick range.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

// NotFound is used for unknown intersections and runs.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}

// ServiceUnavailable is used when the outcome store is not configured.
func ServiceUnavailable(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusServiceUnavailable, msg)
}

func InternalServerError(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusInternalServerError, msg)
}
