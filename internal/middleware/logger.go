package middleware

import (
    "github.com/labstack/echo/v4"
    echomw "github.com/labstack/echo/v4/middleware"
    "go.uber.org/zap"
)

// RequestLogger logs one line per request: errors and 5xx at error level,
// everything else at debug.
func RequestLogger(log *zap.SugaredLogger) echo.MiddlewareFunc {
    return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
        LogMethod:    true,
        LogURIPath:   true,
        LogStatus:    true,
        LogLatency:   true,
        LogRemoteIP:  true,
        LogRequestID: true,
        LogError:     true,
        HandleError:  true,
        LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
            fields := []any{
                "method", v.Method,
                "path", v.URIPath,
                "status", v.Status,
                "latency", v.Latency,
                "ip", v.RemoteIP,
            }
            if v.RequestID != "" {
                fields = append(fields, "request_id", v.RequestID)
            }
            if v.Error != nil || v.Status >= 500 {
                if v.Error != nil {
                    fields = append(fields, "error", v.Error)
                }
                log.Errorw("request", fields...)
                return nil
            }
            log.Debugw("request", fields...)
            return nil
        },
    })
}
