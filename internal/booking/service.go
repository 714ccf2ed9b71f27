// Package booking allocates berths to passengers and re-allocates freed
// capacity when tickets are cancelled.
//
// Every admission and cancellation runs in one database transaction that
// first takes the inventory lock, then derives tier occupancy from the
// ticket rows, decides, writes, and commits.  Nothing is cached between
// transactions.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/railway-reservation/internal/config"
	"github.com/iliyamo/railway-reservation/internal/metrics"
	"github.com/iliyamo/railway-reservation/internal/model"
	"github.com/iliyamo/railway-reservation/internal/repository"
)

// Service is the allocation engine.
type Service struct {
	repo    *repository.TicketRepo
	cfg     config.InventoryConfig
	policy  *Policy
	refs    ReferenceGenerator
	metrics *metrics.Metrics
	log     *logrus.Entry
	retries uint64
}

// Option customises a Service.
type Option func(*Service)

// WithChooser replaces the random berth-type choice.
func WithChooser(c Chooser) Option {
	return func(s *Service) { s.policy = NewPolicy(s.cfg, c) }
}

// WithReferenceGenerator replaces the booking reference generator.
func WithReferenceGenerator(g ReferenceGenerator) Option {
	return func(s *Service) { s.refs = g }
}

// WithMetrics records outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRetries sets how many times AdmitWithRetry retries a conflict.
func WithRetries(n uint64) Option {
	return func(s *Service) { s.retries = n }
}

// NewService builds a Service over repo.
func NewService(repo *repository.TicketRepo, cfg config.InventoryConfig, opts ...Option) *Service {
	if repo == nil {
		panic("nil repository passed to NewService")
	}
	s := &Service{
		repo:    repo,
		cfg:     cfg,
		policy:  NewPolicy(cfg, nil),
		refs:    NewBookingReference,
		log:     logrus.WithField("component", "booking"),
		retries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the inventory dimensions the service enforces.
func (s *Service) Config() config.InventoryConfig { return s.cfg }

// AdmitRequest is one booking: an adult passenger and, optionally, a child
// travelling without a berth.
type AdmitRequest struct {
	Passenger model.Passenger
	Child     *model.Passenger
}

// AdmitResult is the committed outcome of an admission.
type AdmitResult struct {
	Ticket         *model.Ticket    `json:"ticket"`
	Passenger      *model.Passenger `json:"passenger"`
	ChildTicket    *model.Ticket    `json:"childTicket,omitempty"`
	ChildPassenger *model.Passenger `json:"childPassenger,omitempty"`
}

// Admit places one passenger (and their child, if any) in a single
// transaction.  Errors: ErrInvalidDependent, ErrCapacityExhausted,
// ErrConcurrencyConflict, or a wrapped storage error.
func (s *Service) Admit(ctx context.Context, req AdmitRequest) (*AdmitResult, error) {
	adult := req.Passenger
	if req.Child != nil {
		if req.Child.Age < 0 || req.Child.Age >= s.cfg.ChildAgeLimit {
			s.metrics.Rejected("invalid_dependent")
			return nil, fmt.Errorf("%w: child age must be under %d", ErrInvalidDependent, s.cfg.ChildAgeLimit)
		}
		if adult.Age < s.cfg.ChildAgeLimit {
			s.metrics.Rejected("invalid_dependent")
			return nil, fmt.Errorf("%w: a child cannot accompany another child", ErrInvalidDependent)
		}
		adult.HasChild = true
	}

	var res *AdmitResult
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		inv, err := loadInventory(ctx, tx, s.repo, s.cfg)
		if err != nil {
			return err
		}
		dec, err := s.policy.Decide(adult, inv)
		if err != nil {
			return err
		}
		if err := s.repo.CreatePassengerTx(ctx, tx, &adult); err != nil {
			return err
		}
		ticket, err := s.newTicket(adult.ID, dec, nil)
		if err != nil {
			return err
		}
		if err := s.repo.CreateTicketTx(ctx, tx, ticket); err != nil {
			return err
		}
		res = &AdmitResult{Ticket: ticket, Passenger: &adult}

		if req.Child != nil {
			child := *req.Child
			child.HasChild = false
			if err := s.repo.CreatePassengerTx(ctx, tx, &child); err != nil {
				return err
			}
			ct, err := s.newTicket(child.ID, Decision{Status: model.StatusChildNoBerth}, &ticket.ID)
			if err != nil {
				return err
			}
			if err := s.repo.CreateTicketTx(ctx, tx, ct); err != nil {
				return err
			}
			res.ChildTicket, res.ChildPassenger = ct, &child
		}

		// Last look before commit: nobody else may hold the same number
		// in the same tier.
		if dec.Number > 0 {
			n, err := s.repo.CountHoldersTx(ctx, tx, dec.Status, dec.Number, ticket.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrConcurrencyConflict
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			err = fmt.Errorf("%w (%v)", ErrConcurrencyConflict, err)
		}
		s.metrics.Rejected(rejectReason(err))
		return nil, err
	}

	s.metrics.Admitted(string(res.Ticket.Status))
	s.log.WithFields(logrus.Fields{
		"ticket_id": res.Ticket.ID,
		"reference": res.Ticket.BookingReference,
		"status":    res.Ticket.Status,
		"number":    res.Ticket.Number(),
		"child":     res.ChildTicket != nil,
	}).Info("ticket booked")
	return res, nil
}

// AdmitWithRetry calls Admit, retrying with exponential backoff while it
// fails with ErrConcurrencyConflict.  Every attempt re-reads the inventory.
func (s *Service) AdmitWithRetry(ctx context.Context, req AdmitRequest) (*AdmitResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.retries), ctx)

	return backoff.RetryWithData(func() (*AdmitResult, error) {
		res, err := s.Admit(ctx, req)
		if err != nil && !errors.Is(err, ErrConcurrencyConflict) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}, policy)
}

func (s *Service) newTicket(passengerID uint64, dec Decision, parent *uint64) (*model.Ticket, error) {
	ref, err := s.refs()
	if err != nil {
		return nil, fmt.Errorf("generate booking reference: %w", err)
	}
	t := &model.Ticket{
		PassengerID:      passengerID,
		Status:           dec.Status,
		BerthType:        dec.BerthType,
		BookingReference: ref,
		ParentTicketID:   parent,
	}
	switch dec.Status {
	case model.StatusConfirmed:
		t.BerthNumber = model.IntPtr(dec.Number)
	case model.StatusRAC:
		t.RACNumber = model.IntPtr(dec.Number)
	case model.StatusWaitingList:
		t.WaitingListNumber = model.IntPtr(dec.Number)
	}
	return t, nil
}

// Promotion records one ticket moving up a tier.
type Promotion struct {
	TicketID  uint64           `json:"ticketId"`
	Reference string           `json:"bookingReference"`
	From      model.Status     `json:"from"`
	To        model.Status     `json:"to"`
	Number    int              `json:"number"`
	BerthType *model.BerthType `json:"berthType,omitempty"`
}

// ReleaseResult is the committed outcome of a cancellation.
type ReleaseResult struct {
	Ticket            *model.Ticket  `json:"ticket"`
	PreviousStatus    model.Status   `json:"previousStatus"`
	Promotions        []Promotion    `json:"promotions"`
	ChildrenCancelled []model.Ticket `json:"childrenCancelled,omitempty"`
}

// Release cancels a ticket and cascades promotions through the tiers:
//
//	CONFIRMED      earliest RAC (else waiting-list head) takes the berth; waiting-list head takes its RAC number
//	RAC            waiting-list head takes the RAC number
//	WAITING_LIST   positions above close the gap
//	CHILD_NO_BERTH no cascade
//
// A vacated RAC number with no waiting-list ticket to fill it is closed by
// shifting the RAC numbers above it down.  Children travelling on a
// cancelled adult ticket are cancelled with it.
func (s *Service) Release(ctx context.Context, ticketID uint64) (*ReleaseResult, error) {
	var res *ReleaseResult
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		t, err := s.repo.GetByIDTx(ctx, tx, ticketID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if t.Status == model.StatusCancelled {
			return ErrAlreadyCancelled
		}

		prior := *t
		t.Status = model.StatusCancelled
		t.BerthType, t.BerthNumber, t.RACNumber, t.WaitingListNumber = nil, nil, nil, nil
		if err := s.repo.UpdatePlacementTx(ctx, tx, t); err != nil {
			return err
		}
		res = &ReleaseResult{Ticket: t, PreviousStatus: prior.Status, Promotions: []Promotion{}}

		switch prior.Status {
		case model.StatusConfirmed:
			promos, err := s.fillBerth(ctx, tx, *prior.BerthNumber)
			if err != nil {
				return err
			}
			res.Promotions = promos
		case model.StatusRAC:
			promos, err := s.fillRAC(ctx, tx, *prior.RACNumber)
			if err != nil {
				return err
			}
			res.Promotions = promos
		case model.StatusWaitingList:
			if _, err := s.repo.ShiftWaitingListTx(ctx, tx, *prior.WaitingListNumber); err != nil {
				return err
			}
		case model.StatusChildNoBerth:
			return nil
		}

		kids, err := s.repo.ChildrenOfTx(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		for i := range kids {
			kids[i].Status = model.StatusCancelled
			if err := s.repo.UpdatePlacementTx(ctx, tx, &kids[i]); err != nil {
				return err
			}
		}
		res.ChildrenCancelled = kids
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Cancelled(string(res.PreviousStatus))
	for _, p := range res.Promotions {
		s.metrics.Promoted(string(p.From), string(p.To))
	}
	s.log.WithFields(logrus.Fields{
		"ticket_id":  res.Ticket.ID,
		"was":        res.PreviousStatus,
		"promotions": len(res.Promotions),
		"children":   len(res.ChildrenCancelled),
	}).Info("ticket cancelled")
	return res, nil
}

// fillBerth hands a freed berth to the earliest RAC ticket, then passes the
// RAC number that ticket vacated down the line.  With no RAC ticket (only
// possible when the RAC tier has no capacity) the waiting-list head takes
// the berth directly.
func (s *Service) fillBerth(ctx context.Context, tx *sqlx.Tx, berth int) ([]Promotion, error) {
	next, err := s.repo.EarliestRACTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	if next == nil {
		if next, err = s.repo.HeadOfWaitingListTx(ctx, tx); err != nil || next == nil {
			return nil, err
		}
	}
	passenger, err := s.repo.GetPassengerTx(ctx, tx, next.PassengerID)
	if err != nil {
		return nil, err
	}
	lowerTaken, err := s.repo.CountLowerConfirmedTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	from := next.Status
	vacated := next.Number()
	bt := s.policy.BerthTypeFor(*passenger, lowerTaken)
	next.Status = model.StatusConfirmed
	next.BerthType = &bt
	next.BerthNumber = model.IntPtr(berth)
	next.RACNumber, next.WaitingListNumber = nil, nil
	if err := s.repo.UpdatePlacementTx(ctx, tx, next); err != nil {
		return nil, err
	}
	promos := []Promotion{{
		TicketID: next.ID, Reference: next.BookingReference,
		From: from, To: model.StatusConfirmed, Number: berth, BerthType: next.BerthType,
	}}
	if from == model.StatusWaitingList {
		_, err := s.repo.ShiftWaitingListTx(ctx, tx, vacated)
		return promos, err
	}
	more, err := s.fillRAC(ctx, tx, vacated)
	if err != nil {
		return nil, err
	}
	return append(promos, more...), nil
}

// fillRAC gives a vacated RAC number to the head of the waiting list and
// closes the waiting-list gap.  With an empty waiting list the RAC numbers
// above the vacancy shift down instead.
func (s *Service) fillRAC(ctx context.Context, tx *sqlx.Tx, number int) ([]Promotion, error) {
	head, err := s.repo.HeadOfWaitingListTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	if head == nil {
		_, err := s.repo.ShiftRACTx(ctx, tx, number)
		return nil, err
	}
	pos := *head.WaitingListNumber
	head.Status = model.StatusRAC
	head.BerthType = model.BerthPtr(model.BerthSideLower)
	head.RACNumber = model.IntPtr(number)
	head.WaitingListNumber = nil
	if err := s.repo.UpdatePlacementTx(ctx, tx, head); err != nil {
		return nil, err
	}
	if _, err := s.repo.ShiftWaitingListTx(ctx, tx, pos); err != nil {
		return nil, err
	}
	return []Promotion{{
		TicketID: head.ID, Reference: head.BookingReference,
		From: model.StatusWaitingList, To: model.StatusRAC, Number: number, BerthType: head.BerthType,
	}}, nil
}

// Availability returns the free count per tier.  It is a display read and
// does not take the inventory lock.
func (s *Service) Availability(ctx context.Context) (Availability, error) {
	tx, err := s.repo.DB().BeginTxx(ctx, nil)
	if err != nil {
		return Availability{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	inv, err := loadInventory(ctx, tx, s.repo, s.cfg)
	if err != nil {
		return Availability{}, err
	}
	a := inv.Availability()
	s.metrics.FreeUnits(a.Confirmed, a.RAC, a.WaitingList)
	return a, nil
}

// LookupResult is a ticket with its passenger and resolved child or parent
// link.
type LookupResult struct {
	Ticket    *model.Ticket    `json:"ticket"`
	Passenger *model.Passenger `json:"passenger"`
	Children  []model.Ticket   `json:"children,omitempty"`
	Parent    *model.Ticket    `json:"parent,omitempty"`
}

// Lookup loads one ticket.  The child link is stored on the child only and
// resolved here in either direction.
func (s *Service) Lookup(ctx context.Context, ticketID uint64) (*LookupResult, error) {
	t, err := s.repo.GetByID(ctx, ticketID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p, err := s.repo.GetPassenger(ctx, t.PassengerID)
	if err != nil {
		return nil, err
	}
	res := &LookupResult{Ticket: t, Passenger: p}
	if t.ParentTicketID != nil {
		parent, err := s.repo.GetByID(ctx, *t.ParentTicketID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		res.Parent = parent
	} else {
		kids, err := s.repo.ChildrenOf(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		res.Children = kids
	}
	return res, nil
}

// Summary counts active tickets per status.
type Summary struct {
	Total           int `json:"total"`
	Confirmed       int `json:"confirmed"`
	RAC             int `json:"rac"`
	WaitingList     int `json:"waitingList"`
	ChildrenNoBerth int `json:"childrenNoBerth"`
}

// BookedResult lists every active ticket, grouped by status.
type BookedResult struct {
	Tickets    []repository.TicketWithPassenger            `json:"tickets"`
	Summary    Summary                                     `json:"summary"`
	Categories map[string][]repository.TicketWithPassenger `json:"categories"`
}

// Booked lists all tickets that are not cancelled.
func (s *Service) Booked(ctx context.Context) (*BookedResult, error) {
	tickets, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	res := &BookedResult{
		Tickets: tickets,
		Categories: map[string][]repository.TicketWithPassenger{
			"confirmed":       {},
			"rac":             {},
			"waitingList":     {},
			"childrenNoBerth": {},
		},
	}
	res.Summary.Total = len(tickets)
	for _, t := range tickets {
		switch t.Status {
		case model.StatusConfirmed:
			res.Summary.Confirmed++
			res.Categories["confirmed"] = append(res.Categories["confirmed"], t)
		case model.StatusRAC:
			res.Summary.RAC++
			res.Categories["rac"] = append(res.Categories["rac"], t)
		case model.StatusWaitingList:
			res.Summary.WaitingList++
			res.Categories["waitingList"] = append(res.Categories["waitingList"], t)
		case model.StatusChildNoBerth:
			res.Summary.ChildrenNoBerth++
			res.Categories["childrenNoBerth"] = append(res.Categories["childrenNoBerth"], t)
		}
	}
	return res, nil
}

// inTx runs fn inside a transaction holding the inventory lock.  The
// transaction is rolled back unless fn and the commit both succeed.
func (s *Service) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.repo.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := s.repo.LockInventoryTx(ctx, tx); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrCapacityExhausted):
		return "capacity_exhausted"
	case errors.Is(err, ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidDependent):
		return "invalid_dependent"
	}
	return "error"
}
