// Package response writes JSON HTTP responses.
package response

import (
	"encoding/json"
	"net/http"
)

// Status acknowledges an action.
type Status struct {
	Status   string `json:"status"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	ID       string `json:"id,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// WriteError writes an ErrorResponse. err may be nil.
func WriteError(w http.ResponseWriter, status int, detail string, err error) {
	resp := ErrorResponse{Detail: detail}
	if err != nil {
		resp.Error = err.Error()
	}

	WriteJSON(w, status, resp)
}

func OK(w http.ResponseWriter, v any) {
	WriteJSON(w, http.StatusOK, v)
}

func Accepted(w http.ResponseWriter, v any) {
	WriteJSON(w, http.StatusAccepted, v)
}

func BadRequest(w http.ResponseWriter, detail string, err error) {
	WriteError(w, http.StatusBadRequest, detail, err)
}

func NotFound(w http.ResponseWriter, detail string, err error) {
	WriteError(w, http.StatusNotFound, detail, err)
}

func UnprocessableEntity(w http.ResponseWriter, detail string, err error) {
	WriteError(w, http.StatusUnprocessableEntity, detail, err)
}

func ServiceUnavailable(w http.ResponseWriter, detail string, err error) {
	WriteError(w, http.StatusServiceUnavailable, detail, err)
}

func InternalServerError(w http.ResponseWriter, detail string, err error) {
	WriteError(w, http.StatusInternalServerError, detail, err)
}
