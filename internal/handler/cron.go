package handler

import (
    "context"
    "errors"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/ea-license-service/internal/service"
)

// SyncRunner runs one reconciliation pass.
type SyncRunner interface {
    Run(ctx context.Context) (*service.SyncReport, error)
}

// CronHandler exposes the manual/cron reconciliation trigger.
type CronHandler struct {
    sync    SyncRunner
    timeout time.Duration
    log     *zap.SugaredLogger
}

func NewCronHandler(sync SyncRunner, timeout time.Duration, log *zap.SugaredLogger) *CronHandler {
    if sync == nil {
        panic("nil runner passed to NewCronHandler")
    }
    if log == nil {
        log = zap.NewNop().Sugar()
    }
    if timeout <= 0 {
        timeout = 60 * time.Second
    }
    return &CronHandler{sync: sync, timeout: timeout, log: log}
}

// SyncAffiliate handles GET /cron/sync-affiliate.  The run keeps going if
// the caller disconnects but is bounded by the configured timeout.
func (h *CronHandler) SyncAffiliate(c echo.Context) error {
    ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), h.timeout)
    defer cancel()

    rep, err := h.sync.Run(ctx)
    if errors.Is(err, service.ErrSyncInProgress) {
        return c.JSON(http.StatusConflict, echo.Map{"success": false, "error": err.Error()})
    }
    if rep == nil {
        rep = &service.SyncReport{}
    }

    body := echo.Map{
        "success":     err == nil,
        "run_id":      rep.RunID,
        "results":     rep.Results,
        "duration_ms": rep.Duration.Milliseconds(),
    }
    if err != nil {
        h.log.Errorw("affiliate sync failed", "run_id", rep.RunID, "error", err)
        body["error"] = syncFailure(err)
        return c.JSON(http.StatusInternalServerError, body)
    }
    if rep.Results.Checked == 0 {
        body["message"] = "No approved licenses linked to an affiliate client."
    }
    return c.JSON(http.StatusOK, body)
}

// syncFailure names the failed stage without leaking storage details.
func syncFailure(err error) string {
    var se *service.StorageError
    switch {
    case errors.As(err, &se):
        return "failed to read licenses"
    case errors.Is(err, context.DeadlineExceeded):
        return "sync timed out"
    }
    return err.Error()
}
