package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/hex"
    "encoding/json"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/railway-reservation/internal/config"
)

// teeWriter forwards the response to the client and keeps a copy of the
// body until it grows past limit.
type teeWriter struct {
    http.ResponseWriter
    status   int
    buf      bytes.Buffer
    limit    int
    overflow bool
}

func (w *teeWriter) WriteHeader(code int) {
    w.status = code
    w.ResponseWriter.WriteHeader(code)
}

func (w *teeWriter) Write(b []byte) (int, error) {
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

// cacheKeyFrom hashes the request parts selected by the key strategy.
func cacheKeyFrom(cfg config.CacheConfig, c echo.Context) string {
    r := c.Request()
    var parts []string
    switch strings.ToLower(cfg.KeyStrategy) {
    case "route":
        parts = []string{"route", c.Path()}
    case "method_route":
        parts = []string{"method", r.Method, "route", c.Path()}
    case "method_route_query":
        parts = []string{"method", r.Method, "route", c.Path(), "q", r.URL.RawQuery}
    default:
        parts = []string{"route", c.Path(), "q", r.URL.RawQuery}
    }
    sum := sha1.Sum([]byte(strings.Join(parts, ":")))
    return cfg.Prefix + ":" + hex.EncodeToString(sum[:])
}

// generationKey counts purges.  It sits outside the "<prefix>:*" pattern so
// purgeCache leaves it alone.
func generationKey(prefix string) string { return prefix + "-gen" }

// storeScript writes KEYS[1] only while the purge generation in KEYS[2]
// still equals ARGV[1], so a response computed before a write cannot land
// after that write's purge.
var storeScript = redis.NewScript(`
if (redis.call('GET', KEYS[2]) or '0') ~= ARGV[1] then
    return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

type cachedResponse struct {
    Status int         `json:"s"`
    Header http.Header `json:"h"`
    Body   []byte      `json:"b"`
}

func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
    return json.Marshal(cachedResponse{Status: status, Header: header, Body: body})
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
    var cr cachedResponse
    if err := json.Unmarshal(bs, &cr); err != nil || cr.Status == 0 {
        return 0, nil, nil, false
    }
    if cr.Header == nil {
        cr.Header = http.Header{}
    }
    return cr.Status, cr.Header, cr.Body, true
}

// NewRedisCache caches 200 responses (status, headers and body) in Redis.
// Availability and the booked list change on every admission and
// cancellation, so the write routes are wrapped in InvalidateCache.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    ttl := cfg.TTL
    if ttl <= 0 {
        ttl = 30 * time.Second
    }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
                return next(c)
            }
            ctx := c.Request().Context()
            key := cacheKeyFrom(cfg, c)

            if bs, err := rdb.Get(ctx, key).Bytes(); err == nil {
                if status, hdr, body, ok := decodePayload(bs); ok {
                    return replay(c, status, hdr, body)
                }
            } else if err != redis.Nil {
                logrus.WithError(err).Debug("cache: get failed")
            }

            gen, err := rdb.Get(ctx, generationKey(cfg.Prefix)).Result()
            if err == redis.Nil {
                gen, err = "0", nil
            }
            if err != nil {
                logrus.WithError(err).Debug("cache: generation read failed")
                return next(c)
            }

            tw := &teeWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: cfg.MaxBodyBytes}
            c.Response().Writer = tw
            c.Response().Header().Set("X-Cache", "MISS")
            if err := next(c); err != nil {
                return err
            }
            if tw.status != http.StatusOK || tw.overflow {
                return nil
            }

            hdr := c.Response().Header().Clone()
            hdr.Del("X-Cache")
            hdr.Del(HeaderRequestID)
            payload, err := encodePayload(tw.status, hdr, tw.buf.Bytes())
            if err == nil {
                err = storeScript.Run(context.Background(), rdb,
                    []string{key, generationKey(cfg.Prefix)}, gen, payload, ttl.Milliseconds()).Err()
            }
            if err != nil {
                logrus.WithError(err).Debug("cache: store failed")
            }
            return nil
        }
    }
}

func replay(c echo.Context, status int, hdr http.Header, body []byte) error {
    out := c.Response().Header()
    for k, vals := range hdr {
        if strings.EqualFold(k, echo.HeaderContentLength) {
            continue
        }
        for _, v := range vals {
            out.Add(k, v)
        }
    }
    out.Set("X-Cache", "HIT")
    c.Response().WriteHeader(status)
    _, err := c.Response().Write(body)
    return err
}

// InvalidateCache drops every cached response after a write route answers
// with a non-error status.  It bumps the purge generation first, so reads
// that started before the write do not store their result.  Deletion
// failures are logged; the entries then expire with their TTL.
func InvalidateCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            err := next(c)
            if err == nil && c.Response().Status < http.StatusBadRequest {
                ctx := c.Request().Context()
                if ierr := rdb.Incr(ctx, generationKey(cfg.Prefix)).Err(); ierr != nil {
                    logrus.WithError(ierr).Warn("cache: generation bump failed")
                }
                if perr := purgeCache(ctx, rdb, cfg.Prefix); perr != nil {
                    logrus.WithError(perr).Warn("cache: purge failed")
                }
            }
            return err
        }
    }
}

func purgeCache(ctx context.Context, rdb *redis.Client, prefix string) error {
    iter := rdb.Scan(ctx, 0, prefix+":*", 100).Iterator()
    var keys []string
    for iter.Next(ctx) {
        keys = append(keys, iter.Val())
    }
    if err := iter.Err(); err != nil {
        return err
    }
    if len(keys) == 0 {
        return nil
    }
    return rdb.Del(ctx, keys...).Err()
}
