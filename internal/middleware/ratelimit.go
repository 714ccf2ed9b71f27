package middleware

import (
    "math"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/railway-reservation/internal/config"
)

// bucketScript refills and drains one token bucket stored as a hash.
// KEYS[1] bucket; ARGV now_ms, capacity, refill, interval_ms, ttl_s.
// Returns {allowed, tokens_left, retry_ms}.
var bucketScript = redis.NewScript(`
local b = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local now, cap, refill, step, ttl =
    tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])
local tokens, ts = tonumber(b[1]), tonumber(b[2])
if tokens == nil or ts == nil then
    tokens, ts = cap, now
end
if step > 0 then
    local n = math.floor(math.max(0, now - ts) / step)
    if n > 0 then
        tokens = math.min(cap, tokens + n * refill)
        ts = ts + n * step
    end
end
local ok, wait = 0, 0
if tokens > 0 then
    ok, tokens = 1, tokens - 1
else
    wait = math.max(0, step - (now - ts))
end
redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('EXPIRE', KEYS[1], ttl)
return {ok, tokens, wait}
`)

// bucketReply is the decoded result of bucketScript.
type bucketReply struct {
    allowed   bool
    remaining int64
    retryMs   int64
}

func parseBucketReply(v interface{}) (bucketReply, bool) {
    arr, ok := v.([]interface{})
    if !ok || len(arr) != 3 {
        return bucketReply{}, false
    }
    return bucketReply{
        allowed:   asInt64(arr[0]) == 1,
        remaining: asInt64(arr[1]),
        retryMs:   asInt64(arr[2]),
    }, true
}

// NewTokenBucket limits requests per key with a token bucket kept in Redis.
// Booking and cancellation are the write paths it protects.  Redis errors
// let the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    ttlSecs := int64(cfg.TTL / time.Second)
    if ttlSecs < 1 {
        ttlSecs = 1
    }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := buildRateKey(cfg, c)
            raw, err := bucketScript.Run(c.Request().Context(), rdb, []string{key},
                time.Now().UnixMilli(), cfg.Capacity, cfg.RefillTokens, cfg.RefillInterval.Milliseconds(), ttlSecs,
            ).Result()
            if err != nil {
                logrus.WithError(err).WithField("key", key).Warn("ratelimit: redis error, allowing request")
                return next(c)
            }
            reply, ok := parseBucketReply(raw)
            if !ok {
                logrus.WithField("key", key).Warnf("ratelimit: unexpected script result %#v", raw)
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(reply.remaining, 10))
            if cfg.Debug {
                h.Set("X-RateLimit-Key", key)
            }
            if reply.allowed {
                return next(c)
            }

            secs := int(math.Ceil(float64(reply.retryMs) / 1000))
            h.Set("Retry-After", strconv.Itoa(secs))
            logrus.WithFields(logrus.Fields{"key": key, "retry_ms": reply.retryMs}).Debug("ratelimit: blocked")
            return c.JSON(http.StatusTooManyRequests, echo.Map{
                "error":       "rate limit exceeded",
                "code":        "too_many_requests",
                "retry_after": secs,
            })
        }
    }
}

func asInt64(v interface{}) int64 {
    switch t := v.(type) {
    case int64:
        return t
    case int:
        return int64(t)
    case float64:
        return int64(t)
    case string:
        n, _ := strconv.ParseInt(t, 10, 64)
        return n
    }
    return 0
}

// buildRateKey joins the prefix with the parts named by the key strategy.
// Unknown strategies use ip, subject and route together.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
    ip := c.RealIP()
    if ip == "" {
        ip = "unknown"
    }
    parts := map[string][]string{
        "ip":    {"ip", ip},
        "user":  {"user", subject(c)},
        "route": {"route", c.Request().Method + " " + c.Path()},
    }
    var order []string
    switch strings.ToLower(cfg.KeyStrategy) {
    case "ip", "user", "route":
        order = []string{strings.ToLower(cfg.KeyStrategy)}
    case "ip_user":
        order = []string{"ip", "user"}
    case "ip_route":
        order = []string{"ip", "route"}
    case "user_route":
        order = []string{"user", "route"}
    default:
        order = []string{"ip", "user", "route"}
    }
    key := []string{cfg.Prefix}
    for _, o := range order {
        key = append(key, parts[o]...)
    }
    return strings.Join(key, ":")
}
