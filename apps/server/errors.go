package main

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mahaj/wedding-chat/pkg/auth"
	"github.com/mahaj/wedding-chat/pkg/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case store.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler is installed as the echo HTTPErrorHandler so handlers can
// simply return domain errors.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if s, ok := he.Message.(string); ok {
			msg = s
		}
	}
	if code >= http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request().Method, c.Path(), err)
		if code == http.StatusServiceUnavailable {
			msg = "storage unavailable"
		} else {
			msg = "internal error"
		}
	}
	if err := c.JSON(code, errorResponse{Error: msg}); err != nil {
		log.Printf("Failed to write error response: %v", err)
	}
}
