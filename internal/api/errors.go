package api

import (
	"errors"
	"net/http"

	"github.com/haengmina/JNU-Research-Accel/internal/assets"
	"github.com/haengmina/JNU-Research-Accel/internal/inference"
	"github.com/haengmina/JNU-Research-Accel/internal/tensor"
	"github.com/labstack/echo/v5"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
		},
	})
}

// writeClassifyError maps engine and decoding failures onto HTTP statuses.
func writeClassifyError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, tensor.ErrInvalidDimensions),
		errors.Is(err, assets.ErrUnsupportedBMP),
		errors.Is(err, assets.ErrCorruptBMP),
		errors.Is(err, assets.ErrSizeMismatch):
		return writeBadRequest(c, err.Error())
	case errors.Is(err, inference.ErrClosed):
		return writeError(c, http.StatusServiceUnavailable, "unavailable_error", err.Error())
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
}
