package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every non-2xx JSON answer.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

const encodeFailureBody = `{"error":"Internal server error","status":500}` + "\n"

// RespondWithError sends an error response
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{Error: message, Status: code})
}

// RespondWithJSON sends payload as JSON with caching disabled. A payload that
// fails to encode is answered with a 500 instead.
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	body, err := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(encodeFailureBody))
		return err
	}

	w.WriteHeader(code)
	if code == http.StatusNoContent {
		return nil
	}
	_, err = w.Write(append(body, '\n'))
	return err
}
