package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iudanet/toolsync/internal/server/service"
	"github.com/iudanet/toolsync/internal/server/storage"
	"github.com/iudanet/toolsync/pkg/api"
)

// DefaultMaxBodyBytes ограничивает размер тела запроса синхронизации.
const DefaultMaxBodyBytes int64 = 16 << 20

// retryAfterSeconds отдается клиенту вместе с 503 при занятой базе
const retryAfterSeconds = 1

// errBadRequest помечает ошибки разбора запроса на транспортном уровне.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// writeJSON сериализует v в ответ с заданным статусом
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// writeError переводит ошибку сервиса в HTTP статус и тело {"message": ...}.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)

	switch {
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		logger.Warn("Storage busy", "error", err)
	case status >= http.StatusInternalServerError:
		logger.Error("Request failed", "error", err)
	default:
		logger.Debug("Request rejected", "status", status, "error", err)
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		// детали внутренних ошибок наружу не отдаем
		message = "internal server error"
	}

	writeJSON(w, logger, status, api.ErrorResponse{Message: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrStorageBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrRevisionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON читает тело запроса не больше maxBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return badRequest("request body exceeds %d bytes", tooLarge.Limit)
		}
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// queryInt64 разбирает необязательный целочисленный параметр запроса
func queryInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, badRequest("%s must be an integer", name)
	}
	return &v, nil
}

func pathInt64(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, badRequest("%s must be an integer", name)
	}
	return v, nil
}

func stringPtr(s string) *string {
	return &s
}
