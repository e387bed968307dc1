package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/service"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: code, Message: msg})
}

// writeText answers a device.  Terminals expect bare text bodies.
func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// classify maps a service error to its HTTP status and error code.  ok is
// false for anything unexpected.
func classify(err error) (status int, code string, ok bool) {
	switch {
	case errors.Is(err, service.ErrInvalidSerial):
		return http.StatusBadRequest, "invalid_serial", true
	case errors.Is(err, service.ErrInvalidName):
		return http.StatusBadRequest, "invalid_name", true
	case errors.Is(err, service.ErrEmptyCommand):
		return http.StatusBadRequest, "empty_command", true
	case errors.Is(err, service.ErrInvalidCommand):
		return http.StatusBadRequest, "invalid_command", true
	case errors.Is(err, service.ErrNoDevices):
		return http.StatusBadRequest, "no_devices", true
	case errors.Is(err, service.ErrInvalidWindow):
		return http.StatusBadRequest, "invalid_window", true
	case errors.Is(err, service.ErrInvalidPIN):
		return http.StatusBadRequest, "invalid_pin", true
	case errors.Is(err, service.ErrPINInUse):
		return http.StatusConflict, "pin_in_use", true
	case errors.Is(err, service.ErrNoActiveGrant):
		return http.StatusNotFound, "no_active_grant", true
	}
	return http.StatusInternalServerError, "internal_error", false
}
