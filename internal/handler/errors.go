package handler

import (
	"errors"
	"net/http"

	"github.com/jamesmcfarland/keyforge/internal/errs"
	"github.com/jamesmcfarland/keyforge/pkg/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// HTTPErrorHandler renders errors as {"error": message} with the status
// implied by their code.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	log := logger.FromEcho(c)

	status := errs.HTTPStatus(errs.ErrorCode(err))
	msg := errs.ErrorMessage(err)

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	}

	if status >= http.StatusInternalServerError {
		log.Error("Request failed", zap.Int("status", status), zap.Error(err))
	} else {
		log.Info("Request rejected", zap.Int("status", status), zap.String("error", msg))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, echo.Map{"error": msg})
	}
	if err != nil {
		log.Error("Failed to write error response", zap.Error(err))
	}
}

func badRequest(msg string) error {
	return errs.New(errs.EInvalid, msg)
}
