package booking

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/railway-reservation/internal/config"
	"github.com/iliyamo/railway-reservation/internal/model"
	"github.com/iliyamo/railway-reservation/internal/repository"
)

// Inventory is a snapshot of the three live tiers.  It is derived from the
// ticket rows on every call and never cached; only a snapshot taken under
// the inventory lock may drive an admission.
type Inventory struct {
	Confirmed   int
	RAC         int
	WaitingList int

	// Free numbers per tier, ascending.
	FreeBerths  []int
	FreeRAC     []int
	FreeWaiting []int

	// LowerTaken counts CONFIRMED tickets holding a LOWER berth.
	LowerTaken int
}

// Availability is the public view of an Inventory.
type Availability struct {
	Confirmed   int `json:"confirmed"`
	RAC         int `json:"rac"`
	WaitingList int `json:"waitingList"`
}

// Availability returns the free count per tier.
func (inv Inventory) Availability() Availability {
	return Availability{
		Confirmed:   len(inv.FreeBerths),
		RAC:         len(inv.FreeRAC),
		WaitingList: len(inv.FreeWaiting),
	}
}

// loadInventory reads every live tier inside tx.
func loadInventory(ctx context.Context, tx *sqlx.Tx, repo *repository.TicketRepo, cfg config.InventoryConfig) (Inventory, error) {
	confirmed, err := repo.ListByStatusTx(ctx, tx, model.StatusConfirmed)
	if err != nil {
		return Inventory{}, err
	}
	rac, err := repo.ListByStatusTx(ctx, tx, model.StatusRAC)
	if err != nil {
		return Inventory{}, err
	}
	waiting, err := repo.ListByStatusTx(ctx, tx, model.StatusWaitingList)
	if err != nil {
		return Inventory{}, err
	}
	return computeInventory(cfg, confirmed, rac, waiting), nil
}

// computeInventory subtracts the numbers held in each tier from 1..capacity.
func computeInventory(cfg config.InventoryConfig, confirmed, rac, waiting []model.Ticket) Inventory {
	inv := Inventory{
		Confirmed:   len(confirmed),
		RAC:         len(rac),
		WaitingList: len(waiting),
		FreeBerths:  freeNumbers(cfg.TotalBerths, confirmed, func(t *model.Ticket) *int { return t.BerthNumber }),
		FreeRAC:     freeNumbers(cfg.RACCapacity, rac, func(t *model.Ticket) *int { return t.RACNumber }),
		FreeWaiting: freeNumbers(cfg.WaitingListCapacity, waiting, func(t *model.Ticket) *int { return t.WaitingListNumber }),
	}
	for i := range confirmed {
		if bt := confirmed[i].BerthType; bt != nil && *bt == model.BerthLower {
			inv.LowerTaken++
		}
	}
	return inv
}

func freeNumbers(capacity int, held []model.Ticket, number func(*model.Ticket) *int) []int {
	taken := make(map[int]struct{}, len(held))
	for i := range held {
		if n := number(&held[i]); n != nil {
			taken[*n] = struct{}{}
		}
	}
	free := make([]int, 0, capacity)
	for n := 1; n <= capacity; n++ {
		if _, ok := taken[n]; !ok {
			free = append(free, n)
		}
	}
	return free
}
