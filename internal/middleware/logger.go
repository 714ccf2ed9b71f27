package middleware

import (
    "time"

    "github.com/google/uuid"
    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"
)

// HeaderRequestID carries the request identifier in both directions.
const HeaderRequestID = "X-Request-ID"

// RequestLogger writes one structured line per request.  An incoming
// X-Request-ID is kept; otherwise a random one is assigned and echoed
// back.
func RequestLogger() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            rid := c.Request().Header.Get(HeaderRequestID)
            if rid == "" {
                rid = uuid.NewString()
            }
            c.Response().Header().Set(HeaderRequestID, rid)

            err := next(c)
            if err != nil {
                c.Error(err)
            }

            fields := logrus.Fields{
                "request_id": rid,
                "method":     c.Request().Method,
                "route":      c.Path(),
                "status":     c.Response().Status,
                "latency_ms": time.Since(start).Milliseconds(),
                "ip":         c.RealIP(),
                "subject":    subject(c),
            }
            entry := logrus.WithFields(fields)
            switch s := c.Response().Status; {
            case s >= 500:
                entry.Error("request")
            case s >= 400:
                entry.Warn("request")
            default:
                entry.Info("request")
            }
            return nil
        }
    }
}
