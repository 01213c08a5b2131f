package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/checkpoint/internal/infer"
	"github.com/samcharles93/checkpoint/internal/persist"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message:   msg,
			Type:      errType,
			RequestID: newRequestID(),
		},
	})
}

// writeStoreError maps store and inference failures to HTTP statuses:
// absent checkpoints are 404, malformed or uninferable weights are 422,
// and backend failures surface as 502 so clients can distinguish them
// from bad requests.
func writeStoreError(c *echo.Context, err error) error {
	var notFound *persist.NotFoundError
	if errors.As(err, &notFound) {
		return writeNotFound(c, err.Error())
	}
	var overwrite *persist.OverwriteError
	if errors.As(err, &overwrite) {
		return writeError(c, http.StatusConflict, "conflict_error", err.Error())
	}
	var backend *persist.BackendError
	if errors.As(err, &backend) {
		return writeError(c, http.StatusBadGateway, "backend_error", err.Error())
	}
	var ambiguous *infer.AmbiguousPatternError
	var incomplete *infer.IncompleteInferenceError
	if errors.As(err, &ambiguous) || errors.As(err, &incomplete) {
		return writeError(c, http.StatusUnprocessableEntity, "inference_error", err.Error())
	}
	return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
}

func newRequestID() string {
	return "req_" + uuid.NewString()
}
