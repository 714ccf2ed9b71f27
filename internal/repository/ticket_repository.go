package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "time"

    "github.com/jmoiron/sqlx"

    "github.com/iliyamo/railway-reservation/internal/model"
)

// TicketRepo provides data access to passengers and tickets.  Methods with
// a Tx suffix run inside the caller's transaction; the caller commits or
// rolls back.  All timestamps are written in UTC.
type TicketRepo struct {
    db *sqlx.DB
}

// NewTicketRepo returns a new TicketRepo bound to the given database.
func NewTicketRepo(db *sqlx.DB) *TicketRepo { return &TicketRepo{db: db} }

// DB exposes the underlying pool so that callers can open transactions.
func (r *TicketRepo) DB() *sqlx.DB { return r.db }

const ticketColumns = `id, passenger_id, status, berth_type, berth_number, rac_number,
    waiting_list_number, booking_reference, parent_ticket_id, created_at, updated_at`

// LockInventoryTx bumps the single inventory_lock row.  Every admission and
// cancellation calls it first, so concurrent scopes serialise on that row
// before reading any tier.
func (r *TicketRepo) LockInventoryTx(ctx context.Context, tx *sqlx.Tx) error {
    res, err := tx.ExecContext(ctx, `UPDATE inventory_lock SET version = version + 1 WHERE id = 1`)
    if err != nil {
        return fmt.Errorf("lock inventory: %w", err)
    }
    n, err := res.RowsAffected()
    if err != nil {
        return fmt.Errorf("lock inventory: %w", err)
    }
    if n != 1 {
        return errors.New("lock inventory: inventory_lock row missing, run migrate")
    }
    return nil
}

// ListByStatusTx returns every ticket currently in the given status.
func (r *TicketRepo) ListByStatusTx(ctx context.Context, tx *sqlx.Tx, status model.Status) ([]model.Ticket, error) {
    q := tx.Rebind(`SELECT ` + ticketColumns + ` FROM tickets WHERE status = ? ORDER BY id`)
    var out []model.Ticket
    if err := tx.SelectContext(ctx, &out, q, status); err != nil {
        return nil, fmt.Errorf("list %s tickets: %w", status, err)
    }
    return out, nil
}

// CountLowerConfirmedTx counts CONFIRMED tickets holding a LOWER berth.
func (r *TicketRepo) CountLowerConfirmedTx(ctx context.Context, tx *sqlx.Tx) (int, error) {
    q := tx.Rebind(`SELECT COUNT(*) FROM tickets WHERE status = ? AND berth_type = ?`)
    var n int
    if err := tx.GetContext(ctx, &n, q, model.StatusConfirmed, model.BerthLower); err != nil {
        return 0, fmt.Errorf("count lower berths: %w", err)
    }
    return n, nil
}

// CreatePassengerTx inserts a passenger and populates its ID and CreatedAt.
func (r *TicketRepo) CreatePassengerTx(ctx context.Context, tx *sqlx.Tx, p *model.Passenger) error {
    p.CreatedAt = time.Now().UTC()
    const q = `INSERT INTO passengers (name, age, gender, has_child, contact_number, email, created_at)
               VALUES (?, ?, ?, ?, ?, ?, ?)`
    id, err := insert(ctx, tx, q, p.Name, p.Age, p.Gender, p.HasChild, p.ContactNumber, p.Email, p.CreatedAt)
    if err != nil {
        return fmt.Errorf("insert passenger: %w", err)
    }
    p.ID = id
    return nil
}

// CreateTicketTx inserts a ticket and populates its ID and timestamps.  A
// duplicate booking reference is reported as ErrConflict.
func (r *TicketRepo) CreateTicketTx(ctx context.Context, tx *sqlx.Tx, t *model.Ticket) error {
    now := time.Now().UTC()
    t.CreatedAt, t.UpdatedAt = now, now
    const q = `INSERT INTO tickets (passenger_id, status, berth_type, berth_number, rac_number,
                   waiting_list_number, booking_reference, parent_ticket_id, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
    id, err := insert(ctx, tx, q, t.PassengerID, t.Status, t.BerthType, t.BerthNumber, t.RACNumber,
        t.WaitingListNumber, t.BookingReference, t.ParentTicketID, t.CreatedAt, t.UpdatedAt)
    if err != nil {
        if isUniqueViolation(err) {
            return fmt.Errorf("insert ticket: %w", ErrConflict)
        }
        return fmt.Errorf("insert ticket: %w", err)
    }
    t.ID = id
    return nil
}

// CountHoldersTx counts tickets other than excludeID that hold number in
// the tier named by status.
func (r *TicketRepo) CountHoldersTx(ctx context.Context, tx *sqlx.Tx, status model.Status, number int, excludeID uint64) (int, error) {
    col, err := numberColumn(status)
    if err != nil {
        return 0, err
    }
    q := tx.Rebind(`SELECT COUNT(*) FROM tickets WHERE status = ? AND ` + col + ` = ? AND id <> ?`)
    var n int
    if err := tx.GetContext(ctx, &n, q, status, number, excludeID); err != nil {
        return 0, fmt.Errorf("count holders: %w", err)
    }
    return n, nil
}

// GetByIDTx loads a ticket inside a transaction.
func (r *TicketRepo) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id uint64) (*model.Ticket, error) {
    return getTicket(ctx, tx, id)
}

// GetByID loads a ticket outside any transaction.
func (r *TicketRepo) GetByID(ctx context.Context, id uint64) (*model.Ticket, error) {
    return getTicket(ctx, r.db, id)
}

func getTicket(ctx context.Context, q sqlx.ExtContext, id uint64) (*model.Ticket, error) {
    var t model.Ticket
    err := sqlx.GetContext(ctx, q, &t, q.Rebind(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`), id)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrNotFound
    }
    if err != nil {
        return nil, fmt.Errorf("get ticket %d: %w", id, err)
    }
    return &t, nil
}

// EarliestRACTx returns the RAC ticket admitted first, or nil when the RAC
// tier is empty.  Ties on created_at fall back to the lower RAC number.
func (r *TicketRepo) EarliestRACTx(ctx context.Context, tx *sqlx.Tx) (*model.Ticket, error) {
    return first(ctx, tx, `SELECT `+ticketColumns+` FROM tickets WHERE status = ?
        ORDER BY created_at ASC, rac_number ASC, id ASC LIMIT 1`, model.StatusRAC)
}

// HeadOfWaitingListTx returns the ticket at waiting-list position 1, or nil
// when the list is empty.
func (r *TicketRepo) HeadOfWaitingListTx(ctx context.Context, tx *sqlx.Tx) (*model.Ticket, error) {
    return first(ctx, tx, `SELECT `+ticketColumns+` FROM tickets WHERE status = ?
        ORDER BY waiting_list_number ASC, id ASC LIMIT 1`, model.StatusWaitingList)
}

func first(ctx context.Context, tx *sqlx.Tx, q string, args ...interface{}) (*model.Ticket, error) {
    var t model.Ticket
    err := tx.GetContext(ctx, &t, tx.Rebind(q), args...)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, nil
    }
    if err != nil {
        return nil, err
    }
    return &t, nil
}

// UpdatePlacementTx writes the ticket's status and all tier fields in one
// statement so a promoted ticket is never observed half-moved.
func (r *TicketRepo) UpdatePlacementTx(ctx context.Context, tx *sqlx.Tx, t *model.Ticket) error {
    t.UpdatedAt = time.Now().UTC()
    q := tx.Rebind(`UPDATE tickets SET status = ?, berth_type = ?, berth_number = ?, rac_number = ?,
                        waiting_list_number = ?, updated_at = ?
                    WHERE id = ?`)
    res, err := tx.ExecContext(ctx, q, t.Status, t.BerthType, t.BerthNumber, t.RACNumber,
        t.WaitingListNumber, t.UpdatedAt, t.ID)
    if err != nil {
        return fmt.Errorf("update ticket %d: %w", t.ID, err)
    }
    if n, err := res.RowsAffected(); err == nil && n == 0 {
        return ErrNotFound
    }
    return nil
}

// ShiftWaitingListTx moves every waiting-list ticket above position down by
// one.  It returns the number of tickets moved.
func (r *TicketRepo) ShiftWaitingListTx(ctx context.Context, tx *sqlx.Tx, above int) (int64, error) {
    return shift(ctx, tx, model.StatusWaitingList, above)
}

// ShiftRACTx moves every RAC ticket above number down by one.
func (r *TicketRepo) ShiftRACTx(ctx context.Context, tx *sqlx.Tx, above int) (int64, error) {
    return shift(ctx, tx, model.StatusRAC, above)
}

func shift(ctx context.Context, tx *sqlx.Tx, status model.Status, above int) (int64, error) {
    col, err := numberColumn(status)
    if err != nil {
        return 0, err
    }
    q := tx.Rebind(`UPDATE tickets SET ` + col + ` = ` + col + ` - 1, updated_at = ?
                    WHERE status = ? AND ` + col + ` > ?`)
    res, err := tx.ExecContext(ctx, q, time.Now().UTC(), status, above)
    if err != nil {
        return 0, fmt.Errorf("renumber %s: %w", status, err)
    }
    return res.RowsAffected()
}

// ChildrenOfTx returns the live CHILD_NO_BERTH tickets linked to parentID.
func (r *TicketRepo) ChildrenOfTx(ctx context.Context, tx *sqlx.Tx, parentID uint64) ([]model.Ticket, error) {
    return children(ctx, tx, parentID, true)
}

// ChildrenOf returns every ticket linked to parentID, cancelled ones
// included, so a lookup of a cancelled adult still shows its children.
func (r *TicketRepo) ChildrenOf(ctx context.Context, parentID uint64) ([]model.Ticket, error) {
    return children(ctx, r.db, parentID, false)
}

func children(ctx context.Context, q sqlx.ExtContext, parentID uint64, liveOnly bool) ([]model.Ticket, error) {
    query := `SELECT ` + ticketColumns + ` FROM tickets WHERE parent_ticket_id = ?`
    args := []interface{}{parentID}
    if liveOnly {
        query += ` AND status = ?`
        args = append(args, model.StatusChildNoBerth)
    }
    var out []model.Ticket
    if err := sqlx.SelectContext(ctx, q, &out, q.Rebind(query+` ORDER BY id`), args...); err != nil {
        return nil, fmt.Errorf("children of %d: %w", parentID, err)
    }
    return out, nil
}

// GetPassenger loads one passenger.
func (r *TicketRepo) GetPassenger(ctx context.Context, id uint64) (*model.Passenger, error) {
    return getPassenger(ctx, r.db, id)
}

// GetPassengerTx loads one passenger inside a transaction.
func (r *TicketRepo) GetPassengerTx(ctx context.Context, tx *sqlx.Tx, id uint64) (*model.Passenger, error) {
    return getPassenger(ctx, tx, id)
}

func getPassenger(ctx context.Context, q sqlx.ExtContext, id uint64) (*model.Passenger, error) {
    var p model.Passenger
    err := sqlx.GetContext(ctx, q, &p, q.Rebind(`SELECT id, name, age, gender, has_child, contact_number, email, created_at
        FROM passengers WHERE id = ?`), id)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrNotFound
    }
    if err != nil {
        return nil, fmt.Errorf("get passenger %d: %w", id, err)
    }
    return &p, nil
}

// TicketWithPassenger pairs a ticket with its passenger for listings.
type TicketWithPassenger struct {
    model.Ticket
    Passenger *model.Passenger `json:"passenger"`
}

// ListActive returns every ticket that is not cancelled together with its
// passenger, ordered by ticket ID.
func (r *TicketRepo) ListActive(ctx context.Context) ([]TicketWithPassenger, error) {
    var tickets []model.Ticket
    err := r.db.SelectContext(ctx, &tickets,
        r.db.Rebind(`SELECT `+ticketColumns+` FROM tickets WHERE status <> ? ORDER BY id`), model.StatusCancelled)
    if err != nil {
        return nil, fmt.Errorf("list active tickets: %w", err)
    }
    out := make([]TicketWithPassenger, 0, len(tickets))
    if len(tickets) == 0 {
        return out, nil
    }
    ids := make([]uint64, 0, len(tickets))
    for _, t := range tickets {
        ids = append(ids, t.PassengerID)
    }
    q, args, err := sqlx.In(`SELECT id, name, age, gender, has_child, contact_number, email, created_at
        FROM passengers WHERE id IN (?)`, ids)
    if err != nil {
        return nil, err
    }
    var passengers []model.Passenger
    if err := r.db.SelectContext(ctx, &passengers, r.db.Rebind(q), args...); err != nil {
        return nil, fmt.Errorf("list passengers: %w", err)
    }
    byID := make(map[uint64]*model.Passenger, len(passengers))
    for i := range passengers {
        byID[passengers[i].ID] = &passengers[i]
    }
    for _, t := range tickets {
        out = append(out, TicketWithPassenger{Ticket: t, Passenger: byID[t.PassengerID]})
    }
    return out, nil
}

func numberColumn(status model.Status) (string, error) {
    switch status {
    case model.StatusConfirmed:
        return "berth_number", nil
    case model.StatusRAC:
        return "rac_number", nil
    case model.StatusWaitingList:
        return "waiting_list_number", nil
    }
    return "", fmt.Errorf("status %s carries no number", status)
}

// insert executes an INSERT and returns the generated ID.  Postgres has no
// LastInsertId, so the statement is extended with RETURNING there.
func insert(ctx context.Context, tx *sqlx.Tx, q string, args ...interface{}) (uint64, error) {
    if tx.DriverName() == "postgres" {
        var id uint64
        if err := tx.QueryRowxContext(ctx, tx.Rebind(q+` RETURNING id`), args...).Scan(&id); err != nil {
            return 0, err
        }
        return id, nil
    }
    res, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
    if err != nil {
        return 0, err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return 0, err
    }
    return uint64(id), nil
}
