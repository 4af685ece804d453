package middleware

import (
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/iliyamo/ea-license-service/internal/config"
)

// tokenBucket refills whole intervals lazily on each call.
// KEYS[1] bucket; ARGV: now_ms, capacity, refill_tokens, interval_ms, ttl_s.
// Returns {allowed, remaining, retry_after_ms}.
var tokenBucket = redis.NewScript(`
local now, cap, add, every, ttl = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])
local st = redis.call('HMGET', KEYS[1], 'tokens', 'at')
local tokens, at = tonumber(st[1]), tonumber(st[2])
if tokens == nil or at == nil then
  tokens, at = cap, now
end
local n = math.floor(math.max(0, now - at) / every)
if n > 0 then
  tokens = math.min(cap, tokens + n * add)
  at = at + n * every
end
local allowed, wait = 0, 0
if tokens > 0 then
  allowed, tokens = 1, tokens - 1
else
  wait = math.max(0, every - (now - at))
end
redis.call('HSET', KEYS[1], 'tokens', tokens, 'at', at)
redis.call('EXPIRE', KEYS[1], ttl)
return {allowed, tokens, wait}
`)

// bucketState is the decoded script reply.
type bucketState struct {
    allowed   bool
    remaining int64
    retry     time.Duration
}

func parseBucket(v any) (bucketState, bool) {
    arr, ok := v.([]any)
    if !ok || len(arr) != 3 {
        return bucketState{}, false
    }
    allowed, ok1 := arr[0].(int64)
    remaining, ok2 := arr[1].(int64)
    wait, ok3 := arr[2].(int64)
    if !ok1 || !ok2 || !ok3 {
        return bucketState{}, false
    }
    return bucketState{allowed: allowed == 1, remaining: remaining, retry: time.Duration(wait) * time.Millisecond}, true
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int {
    if d <= 0 {
        return 0
    }
    return int((d + time.Second - 1) / time.Second)
}

// NewTokenBucket limits anonymous callers of the public activation and status
// endpoints.  The bucket lives in Redis so every replica shares it.  A Redis
// failure lets the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.SugaredLogger) echo.MiddlewareFunc {
    if log == nil {
        log = zap.NewNop().Sugar()
    }
    if !cfg.Enabled || rdb == nil {
        return passThrough
    }
    ttl := int64(cfg.TTL / time.Second)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := buildRateKey(cfg, c)
            reply, err := tokenBucket.Run(c.Request().Context(), rdb, []string{key},
                time.Now().UnixMilli(), cfg.Capacity, cfg.RefillTokens, cfg.RefillInterval.Milliseconds(), ttl).Result()
            if err != nil {
                log.Warnw("ratelimit: redis error, allowing request", "key", key, "error", err)
                return next(c)
            }
            st, ok := parseBucket(reply)
            if !ok {
                log.Warnw("ratelimit: unexpected script result", "key", key, "result", reply)
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(st.remaining, 10))
            if cfg.Debug {
                h.Set("X-RateLimit-Key", key)
            }
            if st.allowed {
                return next(c)
            }

            secs := retryAfterSeconds(st.retry)
            h.Set("Retry-After", strconv.Itoa(secs))
            log.Debugw("ratelimit: blocked", "key", key, "retry_after", secs)
            return c.JSON(http.StatusTooManyRequests, echo.Map{
                "error":       "too many requests, try again later",
                "retry_after": secs,
            })
        }
    }
}

// buildRateKey derives the bucket key.  Callers are anonymous, so the key is
// built from the client IP and/or the route.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
    ip := c.RealIP()
    if ip == "" {
        ip = "unknown"
    }
    route := c.Request().Method + " " + c.Path()

    parts := []string{cfg.Prefix}
    switch strings.ToLower(cfg.KeyStrategy) {
    case "ip":
        parts = append(parts, "ip", ip)
    case "route":
        parts = append(parts, "route", route)
    default: // ip_route
        parts = append(parts, "ip", ip, "route", route)
    }
    return strings.Join(parts, ":")
}
