package handler

import (
    "context"
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/ea-license-service/internal/affiliate"
    "github.com/iliyamo/ea-license-service/internal/service"
)

// LicenseAdmin lists licenses and applies admin transitions.
type LicenseAdmin interface {
    List(ctx context.Context) (*service.LicenseList, error)
    Apply(ctx context.Context, id string, action service.Action) (*service.ActionResult, error)
}

// StatsSource returns the partner dashboard summary.
type StatsSource interface {
    Stats(ctx context.Context) (*affiliate.Stats, error)
}

// AdminHandler serves the admin panel API.
type AdminHandler struct {
    admin LicenseAdmin
    stats StatsSource
    log   *zap.SugaredLogger
}

// NewAdminHandler panics if admin is nil.  stats may be nil, in which case
// the stats endpoint answers 503.
func NewAdminHandler(admin LicenseAdmin, stats StatsSource, log *zap.SugaredLogger) *AdminHandler {
    if admin == nil {
        panic("nil service passed to NewAdminHandler")
    }
    if log == nil {
        log = zap.NewNop().Sugar()
    }
    return &AdminHandler{admin: admin, stats: stats, log: log}
}

// ListLicenses handles GET /admin/licenses.
func (h *AdminHandler) ListLicenses(c echo.Context) error {
    list, err := h.admin.List(c.Request().Context())
    if err != nil {
        return writeError(c, h.log, err)
    }
    return c.JSON(http.StatusOK, list)
}

type actionRequest struct {
    ID     string `json:"id"`
    Action string `json:"action"`
}

// ApplyAction handles POST /admin/licenses/action.
func (h *AdminHandler) ApplyAction(c echo.Context) error {
    var req actionRequest
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    res, err := h.admin.Apply(c.Request().Context(), req.ID, service.Action(req.Action))
    if err != nil {
        return writeError(c, h.log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true, "message": res.Message})
}

// AffiliateStats handles GET /admin/affiliate-stats.
func (h *AdminHandler) AffiliateStats(c echo.Context) error {
    if h.stats == nil {
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "affiliate API not configured"})
    }
    stats, err := h.stats.Stats(c.Request().Context())
    if err != nil {
        h.log.Errorw("affiliate stats failed", "error", err)
        msg := "failed to fetch affiliate data"
        if errors.Is(err, affiliate.ErrConfig) {
            msg = "affiliate API credentials not configured"
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": msg})
    }
    return c.JSON(http.StatusOK, stats)
}
