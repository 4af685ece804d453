package handler

import (
    "errors"
    "fmt"
    "net/http"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/ea-license-service/internal/service"
)

const notAffiliatedHint = "Register your trading account through our partner link, then submit the request again with the same email."

// writeError maps a service error onto a status code and JSON body.
// Internal failures are logged and answered with a generic message.
func writeError(c echo.Context, log *zap.SugaredLogger, err error) error {
    var (
        ve *service.ValidationError
        ce *service.ConflictError
    )
    switch {
    case errors.As(err, &ve):
        return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Error()})
    case errors.Is(err, service.ErrUnauthorized):
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    case errors.Is(err, service.ErrNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "license not found"})
    case errors.As(err, &ce):
        return c.JSON(http.StatusConflict, echo.Map{"error": conflictMessage(ce)})
    case errors.Is(err, service.ErrNotAffiliated):
        return c.JSON(http.StatusUnprocessableEntity, echo.Map{
            "error": "This email is not registered under our partner account.",
            "code":  "NOT_AFFILIATED",
            "hint":  notAffiliatedHint,
        })
    case errors.Is(err, service.ErrSyncInProgress):
        return c.JSON(http.StatusConflict, echo.Map{"success": false, "error": err.Error()})
    }
    log.Errorw("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error, please try again"})
}

func conflictMessage(ce *service.ConflictError) string {
    if ce.Existing == "" {
        return "This MT5 login is already registered. Check your license status."
    }
    return fmt.Sprintf("This MT5 login is already registered with status %q. Check your license status.", ce.Existing)
}
