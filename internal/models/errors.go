package models

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dataanalyst/dataanalyst/internal/genie"
)

type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func WriteError(w http.ResponseWriter, code int, message string) {
	WriteJSON(w, code, ErrorResponse{
		Status:  "error",
		Message: message,
		Code:    code,
	})
}

// WriteGenieError writes err with the HTTP status its kind maps to.
func WriteGenieError(w http.ResponseWriter, err error) {
	code := StatusForError(err)
	resp := ErrorResponse{
		Status:  "error",
		Message: err.Error(),
		Code:    code,
		Kind:    string(genie.KindOf(err)),
	}
	var ge *genie.Error
	if errors.As(err, &ge) {
		resp.Hint = ge.Hint
	}
	WriteJSON(w, code, resp)
}

// StatusForError maps an error kind to the status the API answers with.
func StatusForError(err error) int {
	switch genie.KindOf(err) {
	case genie.KindInvalidInput:
		return http.StatusBadRequest
	case genie.KindNotFound:
		return http.StatusNotFound
	case genie.KindQueryFailed:
		return http.StatusUnprocessableEntity
	case genie.KindCancelled:
		return http.StatusConflict
	case genie.KindTimeout:
		return http.StatusGatewayTimeout
	case genie.KindAuth, genie.KindTransport, genie.KindRemote, genie.KindProtocol:
		return http.StatusBadGateway
	case genie.KindConfig:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
