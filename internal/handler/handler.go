package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/runbar/runbar/internal/model"
	"github.com/runbar/runbar/internal/registry"
)

// SendJSON sends a JSON response with the given status code
func SendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// SendError sends an error response
func SendError(w http.ResponseWriter, message string, statusCode int) {
	SendJSON(w, statusCode, model.Response{
		Success: false,
		Message: message,
	})
}

// SendSuccess sends a success response
func SendSuccess(w http.ResponseWriter, data interface{}) {
	SendJSON(w, http.StatusOK, model.Response{
		Success: true,
		Data:    data,
	})
}

// SendFailure maps a core error to a status code.
func SendFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		SendError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, registry.ErrValidation), errors.Is(err, registry.ErrUnsupportedVersion):
		SendError(w, err.Error(), http.StatusBadRequest)
	default:
		SendError(w, err.Error(), http.StatusInternalServerError)
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, registry.ErrValidation)
	}
	return nil
}
