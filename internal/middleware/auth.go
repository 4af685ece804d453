package middleware

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/ea-license-service/internal/utils"
)

// Credential headers.
const (
    HeaderAdminPass     = "x-admin-pass"
    HeaderAdminPassword = "x-admin-password"
    HeaderEAKey         = "x-ea-key"
)

// secretGuard compares the credential pulled from each request against a
// configured secret.  deny answers a wrong or missing credential; unset
// answers every request when no secret is configured.
type secretGuard struct {
    name    string
    secret  string
    extract func(r *http.Request) string
    deny    func(c echo.Context) error
    unset   func(c echo.Context) error
    log     *zap.SugaredLogger
}

func (g secretGuard) middleware() echo.MiddlewareFunc {
    if g.log == nil {
        g.log = zap.NewNop().Sugar()
    }
    if g.unset == nil {
        g.unset = g.deny
    }
    if g.secret == "" {
        g.log.Warnw("credential not configured, every request will be rejected", "guard", g.name)
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if g.secret == "" {
                g.log.Errorw("rejecting request, credential not configured", "guard", g.name, "path", c.Path())
                return g.unset(c)
            }
            if !utils.MatchSecret(g.secret, g.extract(c.Request())) {
                return g.deny(c)
            }
            return next(c)
        }
    }
}

func fromHeader(name string) func(r *http.Request) string {
    return func(r *http.Request) string { return r.Header.Get(name) }
}

func jsonUnauthorized(c echo.Context) error {
    return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// AdminAuth guards admin routes with the shared admin password sent in
// header (x-admin-pass or x-admin-password).  secret may be a bcrypt hash.
func AdminAuth(header, secret string, log *zap.SugaredLogger) echo.MiddlewareFunc {
    return secretGuard{name: "admin", secret: secret, extract: fromHeader(header), deny: jsonUnauthorized, log: log}.middleware()
}

// EAKeyAuth guards the verify endpoint.  Its bodies follow the verify
// response shape so the EA can parse every answer the same way.
func EAKeyAuth(secret string, log *zap.SugaredLogger) echo.MiddlewareFunc {
    return secretGuard{
        name:    "ea",
        secret:  secret,
        extract: fromHeader(HeaderEAKey),
        deny: func(c echo.Context) error {
            return c.JSON(http.StatusUnauthorized, echo.Map{"ok": false, "status": "unauthorized"})
        },
        unset: func(c echo.Context) error {
            return c.JSON(http.StatusInternalServerError, echo.Map{"ok": false, "status": "server_error"})
        },
        log: log,
    }.middleware()
}

// BearerAuth guards the cron trigger with Authorization: Bearer <secret>.
func BearerAuth(secret string, log *zap.SugaredLogger) echo.MiddlewareFunc {
    extract := func(r *http.Request) string {
        auth := r.Header.Get("Authorization")
        if !strings.HasPrefix(auth, "Bearer ") {
            return ""
        }
        return strings.TrimPrefix(auth, "Bearer ")
    }
    return secretGuard{name: "cron", secret: secret, extract: extract, deny: jsonUnauthorized, log: log}.middleware()
}
