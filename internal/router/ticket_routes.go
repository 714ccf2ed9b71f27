package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/railway-reservation/internal/config"
	"github.com/iliyamo/railway-reservation/internal/handler"
	"github.com/iliyamo/railway-reservation/internal/middleware"
)

// TicketDeps carries what the ticket routes need besides the handler.  A
// nil Redis client turns rate limiting and caching into pass-throughs; an
// empty JWTSecret leaves the operator listing open.
type TicketDeps struct {
	JWTSecret string
	Redis     *redis.Client
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig
}

// RegisterTickets registers the ticket endpoints under /api/v1/tickets.
// Writes are rate limited and purge the response cache; availability and
// the booked list are served from it.  Listing every booked ticket needs
// the OPERATOR role when JWT auth is configured.
func RegisterTickets(e *echo.Echo, h *handler.TicketHandler, d TicketDeps) {
	limit := middleware.NewTokenBucket(d.RateLimit, d.Redis)
	purge := middleware.InvalidateCache(d.Cache, d.Redis)
	cache := middleware.NewRedisCache(d.Cache, d.Redis)

	g := e.Group("/api/v1/tickets")
	g.POST("/book", h.Book, limit, purge)
	g.POST("/cancel/:ticketId", h.Cancel, limit, purge)
	g.GET("/available", h.Available, cache)
	g.GET("/booked", h.Booked,
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(d.JWTSecret != "", middleware.RoleOperator),
		cache,
	)
	g.GET("/:ticketId", h.Get)
}
