// Package queue defines message payloads exchanged over the message broker.
package queue

import (
    "time"

    "github.com/iliyamo/railway-reservation/internal/booking"
    "github.com/iliyamo/railway-reservation/internal/model"
)

// Event kinds.
const (
    KindBooked    = "booked"
    KindCancelled = "cancelled"
    KindPromoted  = "promoted"
)

// TicketEvent is published after every committed change to a ticket.  It
// carries enough for downstream consumers to log or notify without
// querying the primary database.
type TicketEvent struct {
    Kind             string       `json:"kind"`
    TicketID         uint64       `json:"ticket_id"`
    BookingReference string       `json:"booking_reference"`
    PassengerName    string       `json:"passenger_name,omitempty"`
    From             model.Status `json:"from,omitempty"`
    Status           model.Status `json:"status"`
    BerthType        string       `json:"berth_type,omitempty"`
    Number           int          `json:"number,omitempty"`
    ParentTicketID   uint64       `json:"parent_ticket_id,omitempty"`
    OccurredAt       string       `json:"occurred_at"`
}

// FromAdmit builds one booked event for the adult ticket and one for the
// child ticket, if any.
func FromAdmit(res *booking.AdmitResult) []TicketEvent {
    now := time.Now().UTC().Format(time.RFC3339)
    out := []TicketEvent{booked(res.Ticket, res.Passenger, now)}
    if res.ChildTicket != nil {
        out = append(out, booked(res.ChildTicket, res.ChildPassenger, now))
    }
    return out
}

// FromRelease builds the cancelled event, one cancelled event per child
// cancelled alongside, and one promoted event per promotion, in that order.
func FromRelease(res *booking.ReleaseResult) []TicketEvent {
    now := time.Now().UTC().Format(time.RFC3339)
    out := []TicketEvent{{
        Kind:             KindCancelled,
        TicketID:         res.Ticket.ID,
        BookingReference: res.Ticket.BookingReference,
        From:             res.PreviousStatus,
        Status:           model.StatusCancelled,
        OccurredAt:       now,
    }}
    for _, c := range res.ChildrenCancelled {
        ev := TicketEvent{
            Kind:             KindCancelled,
            TicketID:         c.ID,
            BookingReference: c.BookingReference,
            From:             model.StatusChildNoBerth,
            Status:           model.StatusCancelled,
            OccurredAt:       now,
        }
        if c.ParentTicketID != nil {
            ev.ParentTicketID = *c.ParentTicketID
        }
        out = append(out, ev)
    }
    for _, p := range res.Promotions {
        ev := TicketEvent{
            Kind:             KindPromoted,
            TicketID:         p.TicketID,
            BookingReference: p.Reference,
            From:             p.From,
            Status:           p.To,
            Number:           p.Number,
            OccurredAt:       now,
        }
        if p.BerthType != nil {
            ev.BerthType = string(*p.BerthType)
        }
        out = append(out, ev)
    }
    return out
}

func booked(t *model.Ticket, p *model.Passenger, at string) TicketEvent {
    ev := TicketEvent{
        Kind:             KindBooked,
        TicketID:         t.ID,
        BookingReference: t.BookingReference,
        Status:           t.Status,
        Number:           t.Number(),
        OccurredAt:       at,
    }
    if p != nil {
        ev.PassengerName = p.Name
    }
    if t.BerthType != nil {
        ev.BerthType = string(*t.BerthType)
    }
    if t.ParentTicketID != nil {
        ev.ParentTicketID = *t.ParentTicketID
    }
    return ev
}
