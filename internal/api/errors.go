package api

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/Jorge-Gabriel97/Timesend/internal/auth"
	"github.com/Jorge-Gabriel97/Timesend/internal/model"
	"github.com/Jorge-Gabriel97/Timesend/internal/recipients"
	"github.com/Jorge-Gabriel97/Timesend/internal/repo"
	"github.com/Jorge-Gabriel97/Timesend/internal/service"
	"github.com/Jorge-Gabriel97/Timesend/internal/session"
	"github.com/Jorge-Gabriel97/Timesend/internal/upload"
)

var ErrBadRequest = errors.New("bad request")

func statusOf(err error) int {
	switch {
	case errors.IsAny(err,
		ErrBadRequest,
		recipients.ErrNoDestinations,
		model.ErrInvalidTimeOfDay,
		model.ErrInvalidRecurrence,
		service.ErrMessageTooLong,
		service.ErrInvalidContact,
		service.ErrInvalidTenant,
		service.ErrSelfAction,
	):
		return http.StatusBadRequest
	case errors.IsAny(err, service.ErrInvalidCredentials, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.IsAny(err, service.ErrForbidden, service.ErrBlocked):
		return http.StatusForbidden
	case errors.IsAny(err, repo.ErrNotFound, session.ErrNoPairing):
		return http.StatusNotFound
	case errors.Is(err, repo.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// writeError hides the cause of unexpected failures from the client and logs it instead.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		if log != nil {
			log.Error("request failed", zap.Error(err))
		}
		msg = "internal error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}
