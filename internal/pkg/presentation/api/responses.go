package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/diwise/ecotrack/internal/pkg/application/ecotrack"
	"github.com/diwise/ecotrack/pkg/types"
)

func writeJSON(w http.ResponseWriter, code int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unable to marshal response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	b, _ := json.Marshal(types.ErrorResponse{Detail: detail})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ecotrack.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ecotrack.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ecotrack.ErrZoneInUse), errors.Is(err, ecotrack.ErrSourceInUse):
		return http.StatusConflict
	case errors.Is(err, ecotrack.ErrAlreadyExists),
		errors.Is(err, ecotrack.ErrInvalidInput),
		errors.Is(err, ecotrack.ErrInactiveUser):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	detail := err.Error()

	switch {
	case code == http.StatusInternalServerError:
		detail = "internal server error"
	case errors.Is(err, ecotrack.ErrInvalidCredentials):
		detail = "Incorrect username or password"
	case errors.Is(err, ecotrack.ErrInactiveUser):
		detail = "Inactive user"
	}

	writeError(w, code, detail)
}

// writeServiceErrorFor names the resource in not found responses.
func writeServiceErrorFor(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, ecotrack.ErrNotFound) {
		writeError(w, http.StatusNotFound, capitalize(name)+" not found")
		return
	}
	writeServiceError(w, err)
}
