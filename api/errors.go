package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"crm-api/domain"
)

// detailResponse is the error body shape for every failed request.
type detailResponse struct {
	Detail string `json:"detail"`
}

// respondError maps domain errors onto HTTP statuses. Missing and foreign
// resources share the 404 path, validation failures come back as 400, and
// an exhausted concurrency retry is the caller's signal to try again.
func respondError(c echo.Context, err error) error {
	var ve *domain.ValidationError
	switch {
	case domain.IsNotFound(err):
		return c.JSON(http.StatusNotFound, detailResponse{Detail: err.Error()})
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, detailResponse{Detail: ve.Message})
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return c.JSON(http.StatusInternalServerError, detailResponse{Detail: "concurrent update, retry the request"})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, detailResponse{Detail: "internal error"})
	}
}

func respondUnauthorized(c echo.Context, err error) error {
	return c.JSON(http.StatusUnauthorized, detailResponse{Detail: err.Error()})
}

func respondBadRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, detailResponse{Detail: msg})
}
