package middleware

// identity.go defines helpers shared across middleware files.  subject
// pulls the caller identity stored by JWTAuth; when no token was checked it
// returns "anon".

import (
    "github.com/labstack/echo/v4"
    "github.com/spf13/cast"
)

// Context keys set by JWTAuth.
const (
    ctxSubject = "user_id"
    ctxRole    = "role"
)

// subject extracts the caller identifier from the context.  Numeric JWT
// subjects arrive as float64 and are rendered without a fraction.
func subject(c echo.Context) string {
    v := c.Get(ctxSubject)
    if v == nil {
        return "anon"
    }
    if f, ok := v.(float64); ok {
        return cast.ToString(int64(f))
    }
    if s := cast.ToString(v); s != "" {
        return s
    }
    return "anon"
}
