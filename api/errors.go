package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"boardsync/domain"
)

// Error codes surfaced to the UI layer. DuplicateRequest is normalized to
// success before reaching here.
const (
	codeValidation  = "validation_error"
	codeNotFound    = "not_found"
	codeConflict    = "version_conflict"
	codeInvalidRank = "invalid_rank"
	codeUnavailable = "transport_unavailable"
	codeInternal    = "internal"
)

func writeError(c echo.Context, err error) error {
	var ve domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: ve.Error(), Code: codeValidation})
	case errors.Is(err, domain.ErrInvalidRank):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: codeInvalidRank})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error(), Code: codeNotFound})
	case errors.Is(err, domain.ErrVersionConflict):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error(), Code: codeConflict})
	case errors.Is(err, domain.ErrTransportUnavailable):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Code: codeUnavailable})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error(), Code: codeInternal})
	}
}
