package booking

import (
	"fmt"
	"math/rand/v2"

	"github.com/iliyamo/railway-reservation/internal/config"
	"github.com/iliyamo/railway-reservation/internal/model"
)

// Chooser returns an index in [0, n).  It decides the berth type whenever
// the lower-berth preference does not apply.
type Chooser func(n int) int

// Decision is the placement chosen for a new ticket.
type Decision struct {
	Status    model.Status
	BerthType *model.BerthType
	Number    int // berth, RAC or waiting-list number; 0 for CHILD_NO_BERTH
}

// Policy decides tier, berth type and number for an admission.  It has no
// side effects.
type Policy struct {
	cfg    config.InventoryConfig
	choose Chooser
}

// NewPolicy builds a Policy.  A nil chooser picks uniformly at random.
func NewPolicy(cfg config.InventoryConfig, choose Chooser) *Policy {
	if choose == nil {
		choose = rand.IntN
	}
	return &Policy{cfg: cfg, choose: choose}
}

// Decide places p into the highest tier with a free number.  Children below
// the age limit get no berth: under the attached policy they are refused
// here, under the standalone policy they receive a CHILD_NO_BERTH decision.
func (pol *Policy) Decide(p model.Passenger, inv Inventory) (Decision, error) {
	if p.Age < pol.cfg.ChildAgeLimit {
		if pol.cfg.ChildPolicy != config.ChildPolicyStandalone {
			return Decision{}, fmt.Errorf("%w: children under %d must be registered with an adult passenger",
				ErrInvalidDependent, pol.cfg.ChildAgeLimit)
		}
		return Decision{Status: model.StatusChildNoBerth}, nil
	}
	switch {
	case len(inv.FreeBerths) > 0:
		bt := pol.BerthTypeFor(p, inv.LowerTaken)
		return Decision{Status: model.StatusConfirmed, BerthType: &bt, Number: inv.FreeBerths[0]}, nil
	case len(inv.FreeRAC) > 0:
		return Decision{Status: model.StatusRAC, BerthType: model.BerthPtr(model.BerthSideLower), Number: inv.FreeRAC[0]}, nil
	case len(inv.FreeWaiting) > 0:
		return Decision{Status: model.StatusWaitingList, Number: inv.FreeWaiting[0]}, nil
	}
	return Decision{}, ErrCapacityExhausted
}

// BerthTypeFor picks the berth type for a CONFIRMED placement.  Priority
// passengers get LOWER while fewer than the quota hold one; everyone else,
// and priority passengers past the quota, get a random ordinary type.
func (pol *Policy) BerthTypeFor(p model.Passenger, lowerTaken int) model.BerthType {
	if p.IsPriority(pol.cfg.SeniorAge) && lowerTaken < pol.cfg.LowerBerthQuota {
		return model.BerthLower
	}
	return model.OrdinaryBerths[pol.choose(len(model.OrdinaryBerths))]
}
