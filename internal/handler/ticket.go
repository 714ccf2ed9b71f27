package handler

import (
    "context"
    "errors"
    "net/http"
    "strconv"
    "sync"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/railway-reservation/internal/booking"
    "github.com/iliyamo/railway-reservation/internal/model"
    "github.com/iliyamo/railway-reservation/internal/queue"
)

// EventPublisher delivers ticket events after a commit.
type EventPublisher interface {
    Publish(ctx context.Context, events ...queue.TicketEvent) error
}

// TicketHandler exposes booking, cancellation and the read endpoints.
// Every mutation runs in a single service transaction; events are
// published afterwards and never affect the response.
type TicketHandler struct {
    Svc    *booking.Service
    Events EventPublisher

    publishWG sync.WaitGroup
}

// NewTicketHandler constructs a TicketHandler.  events may be nil.
func NewTicketHandler(svc *booking.Service, events EventPublisher) *TicketHandler {
    if svc == nil {
        panic("nil service passed to NewTicketHandler")
    }
    return &TicketHandler{Svc: svc, Events: events}
}

// Book handles POST /api/v1/tickets/book.  The body carries a "passenger"
// object and, when hasChild is true, a nested "childPassenger".  It returns
// 201 with the ticket (and child ticket) on success, 400 on validation
// failure, and 409 when no capacity is left or the booking lost a race.
func (h *TicketHandler) Book(c echo.Context) error {
    var body bookRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body", "code": "invalid_body"})
    }
    body.normalize()
    if err := c.Validate(&body); err != nil {
        verrs := fieldErrors(err)
        if verrs == nil {
            return writeError(c, err)
        }
        return c.JSON(http.StatusBadRequest, echo.Map{
            "error":  "validation failed",
            "code":   "validation",
            "fields": verrs,
        })
    }

    res, err := h.Svc.AdmitWithRetry(c.Request().Context(), body.admitRequest())
    if err != nil {
        return writeError(c, err)
    }
    h.publish(queue.FromAdmit(res))

    msg := "Ticket booked successfully"
    if res.Ticket.Status == model.StatusChildNoBerth {
        msg = "Child registered successfully (no berth allocated)"
    }
    return c.JSON(http.StatusCreated, echo.Map{
        "status":  "success",
        "message": msg,
        "data":    res,
    })
}

// Cancel handles POST /api/v1/tickets/cancel/:ticketId.  The response lists
// every promotion the cancellation triggered.
func (h *TicketHandler) Cancel(c echo.Context) error {
    id, ok := ticketID(c)
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ticket id", "code": "validation"})
    }
    res, err := h.Svc.Release(c.Request().Context(), id)
    if err != nil {
        return writeError(c, err)
    }
    h.publish(queue.FromRelease(res))
    return c.JSON(http.StatusOK, echo.Map{
        "status":  "success",
        "message": "Ticket cancelled successfully",
        "data":    res,
    })
}

// Available handles GET /api/v1/tickets/available.
func (h *TicketHandler) Available(c echo.Context) error {
    a, err := h.Svc.Availability(c.Request().Context())
    if err != nil {
        return writeError(c, err)
    }
    cfg := h.Svc.Config()
    return c.JSON(http.StatusOK, echo.Map{
        "status": "success",
        "data": echo.Map{
            "availability": a,
            "summary": echo.Map{
                "totalBerths":    cfg.TotalBerths,
                "racBerths":      cfg.RACCapacity,
                "maxWaitingList": cfg.WaitingListCapacity,
            },
        },
    })
}

// Booked handles GET /api/v1/tickets/booked.
func (h *TicketHandler) Booked(c echo.Context) error {
    res, err := h.Svc.Booked(c.Request().Context())
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"status": "success", "data": res})
}

// Get handles GET /api/v1/tickets/:ticketId.
func (h *TicketHandler) Get(c echo.Context) error {
    id, ok := ticketID(c)
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ticket id", "code": "validation"})
    }
    res, err := h.Svc.Lookup(c.Request().Context(), id)
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"status": "success", "data": res})
}

func ticketID(c echo.Context) (uint64, bool) {
    id, err := strconv.ParseUint(c.Param("ticketId"), 10, 64)
    return id, err == nil && id > 0
}

// writeError maps service failures to status codes.
func writeError(c echo.Context, err error) error {
    switch {
    case errors.Is(err, booking.ErrCapacityExhausted):
        return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "code": "capacity_exhausted"})
    case errors.Is(err, booking.ErrConcurrencyConflict):
        return c.JSON(http.StatusConflict, echo.Map{"error": booking.ErrConcurrencyConflict.Error(), "code": "conflict"})
    case errors.Is(err, booking.ErrNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error(), "code": "not_found"})
    case errors.Is(err, booking.ErrAlreadyCancelled):
        return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error(), "code": "already_cancelled"})
    case errors.Is(err, booking.ErrInvalidDependent):
        return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error(), "code": "invalid_dependent"})
    }
    logrus.WithError(err).WithField("path", c.Path()).Error("request failed")
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error", "code": "internal"})
}

// Wait blocks until every background publish has finished.  Call it after
// the HTTP server has stopped accepting requests.
func (h *TicketHandler) Wait() {
    h.publishWG.Wait()
}

func (h *TicketHandler) publish(events []queue.TicketEvent) {
    if h.Events == nil || len(events) == 0 {
        return
    }
    h.publishWG.Add(1)
    go func() {
        defer h.publishWG.Done()
        ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        defer cancel()
        if err := h.Events.Publish(ctx, events...); err != nil {
            logrus.WithError(err).WithField("events", len(events)).Warn("ticket events not published")
        }
    }()
}
