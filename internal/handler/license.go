package handler

import (
    "context"
    "errors"
    "net/http"
    "strconv"
    "strings"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/ea-license-service/internal/service"
)

// Activator submits activation requests.
type Activator interface {
    Submit(ctx context.Context, req service.ActivationRequest) (*service.ActivationResult, error)
}

// StatusReader serves the public and EA lookups.
type StatusReader interface {
    PublicStatus(ctx context.Context, login int64, server string) (*service.PublicStatus, error)
    Verify(ctx context.Context, login int64, server string) (*service.VerifyResult, error)
}

// LicenseHandler serves the customer and EA facing endpoints.
type LicenseHandler struct {
    activation Activator
    status     StatusReader
    log        *zap.SugaredLogger
}

// NewLicenseHandler panics if a dependency is missing.
func NewLicenseHandler(activation Activator, status StatusReader, log *zap.SugaredLogger) *LicenseHandler {
    if activation == nil || status == nil {
        panic("nil service passed to NewLicenseHandler")
    }
    if log == nil {
        log = zap.NewNop().Sugar()
    }
    return &LicenseHandler{activation: activation, status: status, log: log}
}

// RequestActivation handles POST /activation-requests.  A new license
// answers 201, a re-submitted one 200.
func (h *LicenseHandler) RequestActivation(c echo.Context) error {
    var req service.ActivationRequest
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    res, err := h.activation.Submit(c.Request().Context(), req)
    if err != nil {
        return writeError(c, h.log, err)
    }
    code := http.StatusOK
    if res.Created {
        code = http.StatusCreated
    }
    return c.JSON(code, echo.Map{
        "success":      true,
        "autoApproved": res.AutoApproved,
        "message":      res.Message,
    })
}

// loginServer reads and checks the login and server query parameters.
func loginServer(c echo.Context) (int64, string, error) {
    loginStr := strings.TrimSpace(c.QueryParam("login"))
    server := strings.TrimSpace(c.QueryParam("server"))
    if loginStr == "" || server == "" {
        return 0, "", errors.New("login and server are required")
    }
    login, err := strconv.ParseInt(loginStr, 10, 64)
    if err != nil || login <= 0 {
        return 0, "", errors.New("login must be a positive integer")
    }
    return login, server, nil
}

// PublicStatus handles GET /status?login=&server=.
func (h *LicenseHandler) PublicStatus(c echo.Context) error {
    login, server, err := loginServer(c)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
    }
    res, err := h.status.PublicStatus(c.Request().Context(), login, server)
    if err != nil {
        return writeError(c, h.log, err)
    }
    return c.JSON(http.StatusOK, res)
}

// Verify handles GET /verify?login=&server= for the EA.  Every body carries
// ok and status, including errors.
func (h *LicenseHandler) Verify(c echo.Context) error {
    login, server, err := loginServer(c)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "status": "bad_request", "error": err.Error()})
    }
    res, err := h.status.Verify(c.Request().Context(), login, server)
    if err != nil {
        var ve *service.ValidationError
        if errors.As(err, &ve) {
            return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "status": "bad_request", "error": ve.Error()})
        }
        h.log.Errorw("verify failed", "login", login, "server", server, "error", err)
        return c.JSON(http.StatusInternalServerError, echo.Map{"ok": false, "status": "server_error"})
    }
    return c.JSON(http.StatusOK, res)
}
