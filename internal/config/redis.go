package config

// Redis backs the public rate limiter, the affiliate stats cache and the
// reconciliation lock.  It is optional: when it is disabled or unreachable
// the service runs without those three features.

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "os"
    "time"

    "github.com/redis/go-redis/v9"
)

// ErrRedisDisabled is returned by NewRedisClient when REDIS_ENABLED=false.
var ErrRedisDisabled = errors.New("redis disabled")

// RedisConfig is read from REDIS_* variables.
type RedisConfig struct {
    Enabled     bool
    Addr        string // REDIS_HOST:REDIS_PORT wins over REDIS_ADDR
    Password    string
    DB          int
    TLS         bool
    TLSInsecure bool
    DialTimeout time.Duration
}

func LoadRedisConfig() RedisConfig {
    addr := envStr("REDIS_ADDR", "localhost:6379")
    if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
        addr = host + ":" + port
    }
    return RedisConfig{
        Enabled:     envBool("REDIS_ENABLED", true),
        Addr:        addr,
        Password:    os.Getenv("REDIS_PASSWORD"),
        DB:          envInt("REDIS_DB", 0),
        TLS:         envBool("REDIS_TLS", false),
        TLSInsecure: envBool("REDIS_TLS_INSECURE", false),
        DialTimeout: envDur("REDIS_DIAL_TIMEOUT", 2*time.Second),
    }
}

// NewRedisClient connects and pings.  Callers treat any error as "no Redis".
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
    if !cfg.Enabled {
        return nil, ErrRedisDisabled
    }
    opts := &redis.Options{
        Addr:        cfg.Addr,
        Password:    cfg.Password,
        DB:          cfg.DB,
        DialTimeout: cfg.DialTimeout,
    }
    if cfg.TLS {
        opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.TLSInsecure}
    }
    client := redis.NewClient(opts)

    ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        _ = client.Close()
        return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
    }
    return client, nil
}
