package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/json"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/iliyamo/ea-license-service/internal/config"
)

// cachedResponse is what the response cache stores per key.
type cachedResponse struct {
    Status int         `json:"s"`
    Header http.Header `json:"h"`
    Body   []byte      `json:"b"`
}

func (r cachedResponse) encode() ([]byte, error) { return json.Marshal(r) }

func decodeCached(bs []byte) (cachedResponse, bool) {
    var r cachedResponse
    if err := json.Unmarshal(bs, &r); err != nil || r.Status == 0 {
        return cachedResponse{}, false
    }
    return r, true
}

// bodyRecorder tees the response body into a buffer until limit is passed.
type bodyRecorder struct {
    http.ResponseWriter
    status   int
    buf      bytes.Buffer
    limit    int
    overflow bool
}

func (w *bodyRecorder) WriteHeader(code int) {
    w.status = code
    w.ResponseWriter.WriteHeader(code)
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
    if !w.overflow {
        if w.limit > 0 && w.buf.Len()+len(b) > w.limit {
            w.overflow = true
            w.buf.Reset()
        } else {
            w.buf.Write(b)
        }
    }
    return w.ResponseWriter.Write(b)
}

// cacheKey hashes the route (and query, depending on the strategy) under
// the configured prefix.
func cacheKey(cfg config.CacheConfig, c echo.Context) string {
    r := c.Request()
    var id string
    switch strings.ToLower(cfg.KeyStrategy) {
    case "route":
        id = c.Path()
    case "method_route":
        id = r.Method + " " + c.Path()
    case "method_route_query":
        id = r.Method + " " + c.Path() + "?" + r.URL.RawQuery
    default: // route_query
        id = c.Path() + "?" + r.URL.RawQuery
    }
    return fmt.Sprintf("%s:%x", cfg.Prefix, sha1.Sum([]byte(id)))
}

func wantsFresh(r *http.Request) bool {
    return strings.Contains(strings.ToLower(r.Header.Get("Cache-Control")), "no-cache")
}

// NewRedisCache caches 200 responses in Redis for cfg.TTL.  A request with
// "Cache-Control: no-cache" bypasses the lookup and refreshes the entry, so
// the dashboard can force fresh affiliate numbers.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client, log *zap.SugaredLogger) echo.MiddlewareFunc {
    if log == nil {
        log = zap.NewNop().Sugar()
    }
    if !cfg.Enabled || rdb == nil {
        return passThrough
    }
    ttl := cfg.TTL
    if ttl <= 0 {
        ttl = 2 * time.Minute
    }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            req := c.Request()
            if !cfg.Methods[strings.ToUpper(req.Method)] {
                return next(c)
            }
            key := cacheKey(cfg, c)

            if !wantsFresh(req) {
                if hit, ok := load(req.Context(), rdb, key); ok {
                    return replay(c, hit)
                }
            }

            rec := &bodyRecorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: cfg.MaxBodyBytes}
            c.Response().Writer = rec
            c.Response().Header().Set("X-Cache", "MISS")
            if err := next(c); err != nil {
                return err
            }
            if rec.status != http.StatusOK || rec.overflow {
                return nil
            }

            hdr := c.Response().Header().Clone()
            hdr.Del(echo.HeaderXRequestID)
            entry := cachedResponse{Status: rec.status, Header: hdr, Body: rec.buf.Bytes()}
            payload, err := entry.encode()
            if err == nil {
                // the request context may already be done once the body is written
                err = rdb.SetEx(context.Background(), key, payload, ttl).Err()
            }
            if err != nil {
                log.Warnw("cache: store failed", "key", key, "error", err)
            }
            return nil
        }
    }
}

func load(ctx context.Context, rdb *redis.Client, key string) (cachedResponse, bool) {
    bs, err := rdb.Get(ctx, key).Bytes()
    if err != nil {
        return cachedResponse{}, false
    }
    return decodeCached(bs)
}

func replay(c echo.Context, r cachedResponse) error {
    h := c.Response().Header()
    for k, vals := range r.Header {
        if k == echo.HeaderContentLength || k == echo.HeaderXRequestID || k == "X-Cache" {
            continue
        }
        for _, v := range vals {
            h.Add(k, v)
        }
    }
    h.Set("X-Cache", "HIT")
    c.Response().WriteHeader(r.Status)
    _, err := c.Response().Write(r.Body)
    return err
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }
