package model

import "time"

// Status is the lifecycle state of a ticket.
type Status string

const (
    StatusConfirmed    Status = "CONFIRMED"
    StatusRAC          Status = "RAC"
    StatusWaitingList  Status = "WAITING_LIST"
    StatusChildNoBerth Status = "CHILD_NO_BERTH"
    StatusCancelled    Status = "CANCELLED"
)

// Live reports whether the status occupies one of the three capacity tiers.
func (s Status) Live() bool {
    return s == StatusConfirmed || s == StatusRAC || s == StatusWaitingList
}

// BerthType is the physical kind of berth a ticket holds.
type BerthType string

const (
    BerthUpper     BerthType = "UPPER"
    BerthMiddle    BerthType = "MIDDLE"
    BerthLower     BerthType = "LOWER"
    BerthSideUpper BerthType = "SIDE_UPPER"
    BerthSideLower BerthType = "SIDE_LOWER"
)

// OrdinaryBerths are the types handed out to CONFIRMED tickets when the
// lower-berth preference does not apply.
var OrdinaryBerths = []BerthType{BerthUpper, BerthMiddle, BerthLower}

// Ticket records one passenger's place in the inventory.
//
// Fields:
//  ID                – primary key identifier.
//  PassengerID       – passenger travelling on this ticket.
//  Status            – tier or terminal state.
//  BerthType         – kind of berth (nil for WAITING_LIST, CHILD_NO_BERTH, CANCELLED).
//  BerthNumber       – berth held while CONFIRMED, 1..TOTAL_BERTHS.
//  RACNumber         – position while RAC, contiguous from 1.
//  WaitingListNumber – position while WAITING_LIST, contiguous from 1.
//  BookingReference  – unique external reference code.
//  ParentTicketID    – adult ticket a CHILD_NO_BERTH ticket travels with.
//  CreatedAt         – admission timestamp; promotion order follows it.
//  UpdatedAt         – last mutation timestamp.
type Ticket struct {
    ID                uint64     `db:"id" json:"id"`
    PassengerID       uint64     `db:"passenger_id" json:"passenger_id"`
    Status            Status     `db:"status" json:"status"`
    BerthType         *BerthType `db:"berth_type" json:"berth_type,omitempty"`
    BerthNumber       *int       `db:"berth_number" json:"berth_number,omitempty"`
    RACNumber         *int       `db:"rac_number" json:"rac_number,omitempty"`
    WaitingListNumber *int       `db:"waiting_list_number" json:"waiting_list_number,omitempty"`
    BookingReference  string     `db:"booking_reference" json:"booking_reference"`
    ParentTicketID    *uint64    `db:"parent_ticket_id" json:"parent_ticket_id,omitempty"`
    CreatedAt         time.Time  `db:"created_at" json:"created_at"`
    UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Number returns the tier number the ticket currently holds, or 0 when its
// status carries none.
func (t *Ticket) Number() int {
    var p *int
    switch t.Status {
    case StatusConfirmed:
        p = t.BerthNumber
    case StatusRAC:
        p = t.RACNumber
    case StatusWaitingList:
        p = t.WaitingListNumber
    }
    if p == nil {
        return 0
    }
    return *p
}

// IntPtr and BerthPtr are small helpers for the nullable columns.
func IntPtr(n int) *int { return &n }

func BerthPtr(b BerthType) *BerthType { return &b }
