package booking

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/railway-reservation/internal/config"
	"github.com/iliyamo/railway-reservation/internal/database"
	"github.com/iliyamo/railway-reservation/internal/metrics"
	"github.com/iliyamo/railway-reservation/internal/model"
	"github.com/iliyamo/railway-reservation/internal/repository"
)

func smallInventory(berths, rac, waiting int) config.InventoryConfig {
	cfg := config.DefaultInventory()
	cfg.TotalBerths = berths
	cfg.RACCapacity = rac
	cfg.WaitingListCapacity = waiting
	if cfg.LowerBerthQuota > berths {
		cfg.LowerBerthQuota = berths
	}
	return cfg
}

func newTestService(t *testing.T, cfg config.InventoryConfig, opts ...Option) *Service {
	t.Helper()
	db, err := database.Open(database.Options{Driver: database.DriverSQLite, Name: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	// Always pick UPPER on the random path so results are reproducible.
	opts = append([]Option{WithChooser(func(int) int { return 0 })}, opts...)
	return NewService(repository.NewTicketRepo(db), cfg, opts...)
}

func adult(name string, age int) AdmitRequest {
	return AdmitRequest{Passenger: model.Passenger{
		Name: name, Age: age, Gender: model.GenderMale,
		ContactNumber: "9876543210", Email: "p@example.com",
	}}
}

func mustAdmit(t *testing.T, s *Service, req AdmitRequest) *AdmitResult {
	t.Helper()
	res, err := s.Admit(context.Background(), req)
	require.NoError(t, err)
	return res
}

func reload(t *testing.T, s *Service, id uint64) *model.Ticket {
	t.Helper()
	tk, err := s.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return tk
}

// assertInvariants checks the numbering rules over every live ticket.
func assertInvariants(t *testing.T, s *Service) {
	t.Helper()
	var all []model.Ticket
	require.NoError(t, s.repo.DB().Select(&all, `SELECT id, passenger_id, status, berth_type, berth_number,
		rac_number, waiting_list_number, booking_reference, parent_ticket_id, created_at, updated_at FROM tickets`))

	byID := make(map[uint64]model.Ticket, len(all))
	for _, tk := range all {
		byID[tk.ID] = tk
	}
	var berths, rac, waiting []int
	for _, tk := range all {
		switch tk.Status {
		case model.StatusConfirmed:
			require.NotNil(t, tk.BerthNumber)
			require.NotNil(t, tk.BerthType)
			assert.Nil(t, tk.RACNumber)
			assert.Nil(t, tk.WaitingListNumber)
			berths = append(berths, *tk.BerthNumber)
		case model.StatusRAC:
			require.NotNil(t, tk.RACNumber)
			assert.Nil(t, tk.BerthNumber)
			assert.Nil(t, tk.WaitingListNumber)
			assert.Equal(t, model.BerthSideLower, *tk.BerthType)
			rac = append(rac, *tk.RACNumber)
		case model.StatusWaitingList:
			require.NotNil(t, tk.WaitingListNumber)
			assert.Nil(t, tk.BerthNumber)
			assert.Nil(t, tk.RACNumber)
			waiting = append(waiting, *tk.WaitingListNumber)
		case model.StatusChildNoBerth:
			if tk.ParentTicketID != nil {
				parent, ok := byID[*tk.ParentTicketID]
				require.True(t, ok)
				assert.NotEqual(t, model.StatusCancelled, parent.Status, "child %d on cancelled parent", tk.ID)
			}
		}
	}

	sort.Ints(berths)
	for i, n := range berths {
		assert.True(t, n >= 1 && n <= s.cfg.TotalBerths, "berth %d out of range", n)
		if i > 0 {
			assert.NotEqual(t, berths[i-1], n, "duplicate berth %d", n)
		}
	}
	assertContiguous(t, "rac", rac)
	assertContiguous(t, "waiting list", waiting)
	assert.LessOrEqual(t, len(rac), s.cfg.RACCapacity)
	assert.LessOrEqual(t, len(waiting), s.cfg.WaitingListCapacity)
	if len(rac) > 0 {
		assert.Len(t, berths, s.cfg.TotalBerths, "rac occupied while berths free")
	}
	if len(waiting) > 0 {
		assert.Len(t, rac, s.cfg.RACCapacity, "waiting list occupied while rac free")
		assert.Len(t, berths, s.cfg.TotalBerths, "waiting list occupied while berths free")
	}
}

func assertContiguous(t *testing.T, tier string, nums []int) {
	t.Helper()
	sort.Ints(nums)
	for i, n := range nums {
		assert.Equal(t, i+1, n, "%s numbers not contiguous: %v", tier, nums)
	}
}

func TestAdmitFillsTiersInOrder(t *testing.T) {
	s := newTestService(t, smallInventory(3, 2, 2))

	for i := 1; i <= 3; i++ {
		res := mustAdmit(t, s, adult(fmt.Sprintf("Berth %d", i), 30))
		assert.Equal(t, model.StatusConfirmed, res.Ticket.Status)
		assert.Equal(t, i, *res.Ticket.BerthNumber)
		assert.Equal(t, model.BerthUpper, *res.Ticket.BerthType)
	}
	for i := 1; i <= 2; i++ {
		res := mustAdmit(t, s, adult(fmt.Sprintf("Rac %d", i), 30))
		assert.Equal(t, model.StatusRAC, res.Ticket.Status)
		assert.Equal(t, i, *res.Ticket.RACNumber)
		assert.Equal(t, model.BerthSideLower, *res.Ticket.BerthType)
	}
	for i := 1; i <= 2; i++ {
		res := mustAdmit(t, s, adult(fmt.Sprintf("Wait %d", i), 30))
		assert.Equal(t, model.StatusWaitingList, res.Ticket.Status)
		assert.Equal(t, i, *res.Ticket.WaitingListNumber)
		assert.Nil(t, res.Ticket.BerthType)
	}

	_, err := s.Admit(context.Background(), adult("Too late", 30))
	assert.ErrorIs(t, err, ErrCapacityExhausted)

	a, err := s.Availability(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Availability{}, a)
	assertInvariants(t, s)
}

func TestAdmitDefaultCoach(t *testing.T) {
	s := newTestService(t, config.DefaultInventory())

	for i := 1; i <= 63; i++ {
		res := mustAdmit(t, s, adult("Passenger", 25))
		require.Equal(t, model.StatusConfirmed, res.Ticket.Status)
		require.Equal(t, i, *res.Ticket.BerthNumber)
	}
	res := mustAdmit(t, s, adult("Passenger", 25))
	assert.Equal(t, model.StatusRAC, res.Ticket.Status)
	assert.Equal(t, 1, *res.Ticket.RACNumber)
	assertInvariants(t, s)
}

func TestAdmitAssignsBookingReference(t *testing.T) {
	s := newTestService(t, smallInventory(2, 0, 0))
	a := mustAdmit(t, s, adult("A", 30))
	b := mustAdmit(t, s, adult("B", 30))
	assert.Regexp(t, `^TKT\d+[A-Z0-9]{5}$`, a.Ticket.BookingReference)
	assert.NotEqual(t, a.Ticket.BookingReference, b.Ticket.BookingReference)
}

func TestLowerBerthQuota(t *testing.T) {
	cfg := smallInventory(5, 0, 0)
	cfg.LowerBerthQuota = 2
	s := newTestService(t, cfg)

	for i := 0; i < 2; i++ {
		res := mustAdmit(t, s, adult("Senior", 65))
		assert.Equal(t, model.BerthLower, *res.Ticket.BerthType)
	}
	res := mustAdmit(t, s, adult("Senior", 65))
	assert.Equal(t, model.BerthUpper, *res.Ticket.BerthType, "quota exhausted, random path")

	res = mustAdmit(t, s, adult("Young", 30))
	assert.Equal(t, model.BerthUpper, *res.Ticket.BerthType)
}

func TestAdmitWithChild(t *testing.T) {
	s := newTestService(t, smallInventory(2, 0, 0))
	req := adult("Parent", 30)
	req.Child = &model.Passenger{Name: "Kid", Age: 3, Gender: model.GenderFemale, ContactNumber: "9876543210", Email: "p@example.com"}

	res := mustAdmit(t, s, req)
	assert.True(t, res.Passenger.HasChild)
	assert.Equal(t, model.StatusConfirmed, res.Ticket.Status)
	assert.Equal(t, model.BerthLower, *res.Ticket.BerthType, "travelling with a child is priority")

	require.NotNil(t, res.ChildTicket)
	assert.Equal(t, model.StatusChildNoBerth, res.ChildTicket.Status)
	assert.Equal(t, res.Ticket.ID, *res.ChildTicket.ParentTicketID)
	assert.Nil(t, res.ChildTicket.BerthNumber)
	assert.Nil(t, res.ChildTicket.BerthType)

	a, err := s.Availability(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, a.Confirmed, "child holds no berth")

	parent, err := s.Lookup(context.Background(), res.Ticket.ID)
	require.NoError(t, err)
	require.Len(t, parent.Children, 1)
	assert.Equal(t, res.ChildTicket.ID, parent.Children[0].ID)

	child, err := s.Lookup(context.Background(), res.ChildTicket.ID)
	require.NoError(t, err)
	require.NotNil(t, child.Parent)
	assert.Equal(t, res.Ticket.ID, child.Parent.ID)
	assert.Equal(t, "Kid", child.Passenger.Name)
}

func TestAdmitRejectsInvalidChild(t *testing.T) {
	s := newTestService(t, smallInventory(2, 0, 0))

	req := adult("Parent", 30)
	req.Child = &model.Passenger{Name: "Teen", Age: 5}
	_, err := s.Admit(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidDependent)

	_, err = s.Admit(context.Background(), adult("Toddler", 4))
	assert.ErrorIs(t, err, ErrInvalidDependent)

	booked, err := s.Booked(context.Background())
	require.NoError(t, err)
	assert.Zero(t, booked.Summary.Total, "nothing written")
}

func TestStandaloneChildPolicy(t *testing.T) {
	cfg := smallInventory(1, 0, 0)
	cfg.ChildPolicy = config.ChildPolicyStandalone
	s := newTestService(t, cfg)

	res := mustAdmit(t, s, adult("Toddler", 2))
	assert.Equal(t, model.StatusChildNoBerth, res.Ticket.Status)
	assert.Nil(t, res.Ticket.ParentTicketID)

	a, err := s.Availability(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, a.Confirmed)

	rel, err := s.Release(context.Background(), res.Ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, rel.Promotions)
}

func TestReleaseConfirmedPromotesCascade(t *testing.T) {
	s := newTestService(t, smallInventory(2, 2, 3))

	c1 := mustAdmit(t, s, adult("C1", 30))
	mustAdmit(t, s, adult("C2", 30))
	r1 := mustAdmit(t, s, adult("R1", 70))
	r2 := mustAdmit(t, s, adult("R2", 30))
	w1 := mustAdmit(t, s, adult("W1", 30))
	w2 := mustAdmit(t, s, adult("W2", 30))
	w3 := mustAdmit(t, s, adult("W3", 30))

	res, err := s.Release(context.Background(), c1.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, res.Ticket.Status)
	assert.Equal(t, model.StatusConfirmed, res.PreviousStatus)
	require.Len(t, res.Promotions, 2)
	assert.Equal(t, Promotion{
		TicketID: r1.Ticket.ID, Reference: r1.Ticket.BookingReference,
		From: model.StatusRAC, To: model.StatusConfirmed, Number: 1, BerthType: model.BerthPtr(model.BerthLower),
	}, res.Promotions[0])
	assert.Equal(t, w1.Ticket.ID, res.Promotions[1].TicketID)
	assert.Equal(t, model.StatusRAC, res.Promotions[1].To)
	assert.Equal(t, 1, res.Promotions[1].Number)

	cancelled := reload(t, s, c1.Ticket.ID)
	assert.Nil(t, cancelled.BerthNumber)
	assert.Nil(t, cancelled.BerthType)

	promoted := reload(t, s, r1.Ticket.ID)
	assert.Equal(t, model.StatusConfirmed, promoted.Status)
	assert.Equal(t, 1, *promoted.BerthNumber)
	assert.Equal(t, model.BerthLower, *promoted.BerthType, "berth type decided for the promoted senior")
	assert.Nil(t, promoted.RACNumber)

	assert.Equal(t, 2, *reload(t, s, r2.Ticket.ID).RACNumber)
	moved := reload(t, s, w1.Ticket.ID)
	assert.Equal(t, model.StatusRAC, moved.Status)
	assert.Equal(t, 1, *moved.RACNumber)
	assert.Nil(t, moved.WaitingListNumber)
	assert.Equal(t, 1, *reload(t, s, w2.Ticket.ID).WaitingListNumber)
	assert.Equal(t, 2, *reload(t, s, w3.Ticket.ID).WaitingListNumber)
	assertInvariants(t, s)
}

func TestReleaseConfirmedWithoutWaitingListClosesRACGap(t *testing.T) {
	s := newTestService(t, smallInventory(1, 3, 2))

	c := mustAdmit(t, s, adult("C", 30))
	r1 := mustAdmit(t, s, adult("R1", 30))
	r2 := mustAdmit(t, s, adult("R2", 30))
	r3 := mustAdmit(t, s, adult("R3", 30))

	res, err := s.Release(context.Background(), c.Ticket.ID)
	require.NoError(t, err)
	require.Len(t, res.Promotions, 1)
	assert.Equal(t, r1.Ticket.ID, res.Promotions[0].TicketID)

	assert.Equal(t, 1, *reload(t, s, r2.Ticket.ID).RACNumber)
	assert.Equal(t, 2, *reload(t, s, r3.Ticket.ID).RACNumber)
	assertInvariants(t, s)

	a, err := s.Availability(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Availability{Confirmed: 0, RAC: 1, WaitingList: 2}, a)
}

func TestReleaseConfirmedWithEmptyRAC(t *testing.T) {
	s := newTestService(t, smallInventory(2, 2, 2))
	c := mustAdmit(t, s, adult("C", 30))

	res, err := s.Release(context.Background(), c.Ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Promotions)

	again := mustAdmit(t, s, adult("Next", 30))
	assert.Equal(t, 1, *again.Ticket.BerthNumber, "freed berth is reused")
}

func TestReleaseRACPromotesWaitingHead(t *testing.T) {
	s := newTestService(t, smallInventory(1, 3, 3))

	mustAdmit(t, s, adult("C", 30))
	r1 := mustAdmit(t, s, adult("R1", 30))
	r2 := mustAdmit(t, s, adult("R2", 30))
	r3 := mustAdmit(t, s, adult("R3", 30))
	w1 := mustAdmit(t, s, adult("W1", 30))
	w2 := mustAdmit(t, s, adult("W2", 30))

	res, err := s.Release(context.Background(), r2.Ticket.ID)
	require.NoError(t, err)
	require.Len(t, res.Promotions, 1)
	assert.Equal(t, w1.Ticket.ID, res.Promotions[0].TicketID)
	assert.Equal(t, 2, res.Promotions[0].Number)

	assert.Equal(t, 1, *reload(t, s, r1.Ticket.ID).RACNumber)
	assert.Equal(t, 3, *reload(t, s, r3.Ticket.ID).RACNumber)
	assert.Equal(t, 2, *reload(t, s, w1.Ticket.ID).RACNumber)
	assert.Equal(t, 1, *reload(t, s, w2.Ticket.ID).WaitingListNumber)
	assertInvariants(t, s)
}

func TestReleaseRACWithoutWaitingList(t *testing.T) {
	s := newTestService(t, smallInventory(1, 3, 3))

	mustAdmit(t, s, adult("C", 30))
	r1 := mustAdmit(t, s, adult("R1", 30))
	r2 := mustAdmit(t, s, adult("R2", 30))
	r3 := mustAdmit(t, s, adult("R3", 30))

	res, err := s.Release(context.Background(), r1.Ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Promotions)
	assert.Equal(t, 1, *reload(t, s, r2.Ticket.ID).RACNumber)
	assert.Equal(t, 2, *reload(t, s, r3.Ticket.ID).RACNumber)
	assertInvariants(t, s)
}

func TestReleaseWaitingListRenumbers(t *testing.T) {
	s := newTestService(t, smallInventory(1, 0, 3))

	mustAdmit(t, s, adult("C", 30))
	w1 := mustAdmit(t, s, adult("W1", 30))
	w2 := mustAdmit(t, s, adult("W2", 30))
	w3 := mustAdmit(t, s, adult("W3", 30))

	res, err := s.Release(context.Background(), w2.Ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Promotions)
	assert.Equal(t, 1, *reload(t, s, w1.Ticket.ID).WaitingListNumber)
	assert.Equal(t, 2, *reload(t, s, w3.Ticket.ID).WaitingListNumber)
	assertInvariants(t, s)
}

func TestReleaseCancelsLinkedChildren(t *testing.T) {
	s := newTestService(t, smallInventory(2, 0, 0))
	req := adult("Parent", 30)
	req.Child = &model.Passenger{Name: "Kid", Age: 1, Gender: model.GenderOther}
	res := mustAdmit(t, s, req)

	rel, err := s.Release(context.Background(), res.Ticket.ID)
	require.NoError(t, err)
	require.Len(t, rel.ChildrenCancelled, 1)
	assert.Equal(t, res.ChildTicket.ID, rel.ChildrenCancelled[0].ID)
	assert.Equal(t, model.StatusCancelled, reload(t, s, res.ChildTicket.ID).Status)
	assertInvariants(t, s)
}

func TestReleaseChildOnly(t *testing.T) {
	s := newTestService(t, smallInventory(1, 1, 0))
	req := adult("Parent", 30)
	req.Child = &model.Passenger{Name: "Kid", Age: 1}
	res := mustAdmit(t, s, req)
	rac := mustAdmit(t, s, adult("Rac", 30))

	rel, err := s.Release(context.Background(), res.ChildTicket.ID)
	require.NoError(t, err)
	assert.Empty(t, rel.Promotions)
	assert.Empty(t, rel.ChildrenCancelled)
	assert.Equal(t, model.StatusConfirmed, reload(t, s, res.Ticket.ID).Status)
	assert.Equal(t, model.StatusRAC, reload(t, s, rac.Ticket.ID).Status)
}

func TestReleaseConfirmedWithoutRACTier(t *testing.T) {
	s := newTestService(t, smallInventory(1, 0, 2))
	ctx := context.Background()
	a := mustAdmit(t, s, adult("A", 30))
	b := mustAdmit(t, s, adult("B", 30))
	c := mustAdmit(t, s, adult("C", 30))
	require.Equal(t, model.StatusWaitingList, b.Ticket.Status)
	require.Equal(t, model.StatusWaitingList, c.Ticket.Status)

	rel, err := s.Release(ctx, a.Ticket.ID)
	require.NoError(t, err)
	require.Len(t, rel.Promotions, 1)
	assert.Equal(t, b.Ticket.ID, rel.Promotions[0].TicketID)
	assert.Equal(t, model.StatusWaitingList, rel.Promotions[0].From)
	assert.Equal(t, model.StatusConfirmed, rel.Promotions[0].To)

	got := reload(t, s, b.Ticket.ID)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	assert.Equal(t, 1, *got.BerthNumber)
	assert.Nil(t, got.WaitingListNumber)
	assert.Equal(t, 1, *reload(t, s, c.Ticket.ID).WaitingListNumber)

	late := mustAdmit(t, s, adult("Late", 30))
	assert.Equal(t, model.StatusWaitingList, late.Ticket.Status, "a new arrival may not jump the waiting list")
	assert.Equal(t, 2, *late.Ticket.WaitingListNumber)
	assertInvariants(t, s)
}

func TestLookupCancelledAdultShowsChildren(t *testing.T) {
	s := newTestService(t, smallInventory(2, 0, 0))
	ctx := context.Background()
	req := adult("Parent", 30)
	req.Child = &model.Passenger{Name: "Kid", Age: 2, Gender: model.GenderFemale}
	res := mustAdmit(t, s, req)

	_, err := s.Release(ctx, res.Ticket.ID)
	require.NoError(t, err)

	got, err := s.Lookup(ctx, res.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Ticket.Status)
	require.Len(t, got.Children, 1)
	assert.Equal(t, res.ChildTicket.ID, got.Children[0].ID)
	assert.Equal(t, model.StatusCancelled, got.Children[0].Status)

	child, err := s.Lookup(ctx, res.ChildTicket.ID)
	require.NoError(t, err)
	require.NotNil(t, child.Parent)
	assert.Equal(t, res.Ticket.ID, child.Parent.ID)
}

func TestReleaseErrors(t *testing.T) {
	s := newTestService(t, smallInventory(1, 1, 1))
	c := mustAdmit(t, s, adult("C", 30))
	r := mustAdmit(t, s, adult("R", 30))

	_, err := s.Release(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Release(context.Background(), c.Ticket.ID)
	require.NoError(t, err)
	before := reload(t, s, r.Ticket.ID)

	_, err = s.Release(context.Background(), c.Ticket.ID)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
	after := reload(t, s, r.Ticket.ID)
	assert.Equal(t, before, after, "no mutation on repeated cancel")
}

func TestDuplicateReferenceIsConflict(t *testing.T) {
	fixed := func() (string, error) { return "TKT1AAAAA", nil }
	s := newTestService(t, smallInventory(3, 0, 0), WithReferenceGenerator(fixed))

	mustAdmit(t, s, adult("First", 30))
	_, err := s.Admit(context.Background(), adult("Second", 30))
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	booked, err := s.Booked(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, booked.Summary.Total, "failed admission rolled back")

	var passengers int
	require.NoError(t, s.repo.DB().Get(&passengers, `SELECT COUNT(*) FROM passengers`))
	assert.Equal(t, 1, passengers)
}

func TestAdmitWithRetryRecoversFromConflict(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	gen := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 2 {
			return "TKT1AAAAA", nil
		}
		return NewBookingReference()
	}
	s := newTestService(t, smallInventory(3, 0, 0), WithReferenceGenerator(gen))

	mustAdmit(t, s, adult("First", 30))
	res, err := s.AdmitWithRetry(context.Background(), adult("Second", 30))
	require.NoError(t, err)
	assert.Equal(t, 2, *res.Ticket.BerthNumber)
	assert.Equal(t, 3, calls)
}

func TestAdmitWithRetryDoesNotRetryCapacity(t *testing.T) {
	calls := 0
	gen := func() (string, error) {
		calls++
		return NewBookingReference()
	}
	s := newTestService(t, smallInventory(1, 0, 0), WithReferenceGenerator(gen))
	mustAdmit(t, s, adult("Only", 30))

	_, err := s.AdmitWithRetry(context.Background(), adult("Late", 30))
	assert.ErrorIs(t, err, ErrCapacityExhausted)
	assert.Equal(t, 1, calls)
}

func TestConcurrentAdmissionForLastBerth(t *testing.T) {
	s := newTestService(t, smallInventory(1, 1, 0))

	const n = 2
	var wg sync.WaitGroup
	results := make(chan *AdmitResult, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.AdmitWithRetry(context.Background(), adult(fmt.Sprintf("Racer %d", i), 30))
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	statuses := map[model.Status]int{}
	for res := range results {
		statuses[res.Ticket.Status]++
	}
	assert.Equal(t, map[model.Status]int{model.StatusConfirmed: 1, model.StatusRAC: 1}, statuses)
	assertInvariants(t, s)
}

func TestConcurrentAdmissionsNeverOverbook(t *testing.T) {
	s := newTestService(t, smallInventory(5, 4, 3))

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	var admitted, exhausted int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AdmitWithRetry(context.Background(), adult(fmt.Sprintf("P%d", i), 20+i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, ErrCapacityExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 12, admitted)
	assert.Equal(t, 8, exhausted)
	assertInvariants(t, s)
}

func TestRandomOperationsKeepInvariants(t *testing.T) {
	s := newTestService(t, smallInventory(4, 3, 3))
	rng := rand.New(rand.NewPCG(7, 11))
	ctx := context.Background()

	var live []uint64
	for step := 0; step < 200; step++ {
		if len(live) == 0 || rng.IntN(3) > 0 {
			req := adult("Random", 10+rng.IntN(80))
			if rng.IntN(5) == 0 {
				req.Child = &model.Passenger{Name: "Kid", Age: rng.IntN(5)}
			}
			res, err := s.Admit(ctx, req)
			if errors.Is(err, ErrCapacityExhausted) {
				continue
			}
			require.NoError(t, err)
			live = append(live, res.Ticket.ID)
			if res.ChildTicket != nil {
				live = append(live, res.ChildTicket.ID)
			}
		} else {
			i := rng.IntN(len(live))
			_, err := s.Release(ctx, live[i])
			if !errors.Is(err, ErrAlreadyCancelled) {
				require.NoError(t, err)
			}
			live = append(live[:i], live[i+1:]...)
		}
		assertInvariants(t, s)
	}
}

func TestBookedSummary(t *testing.T) {
	s := newTestService(t, smallInventory(1, 1, 1))
	req := adult("Parent", 30)
	req.Child = &model.Passenger{Name: "Kid", Age: 2}
	mustAdmit(t, s, req)
	mustAdmit(t, s, adult("Rac", 30))
	w := mustAdmit(t, s, adult("Wait", 30))
	_, err := s.Release(context.Background(), w.Ticket.ID)
	require.NoError(t, err)

	booked, err := s.Booked(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 3, Confirmed: 1, RAC: 1, WaitingList: 0, ChildrenNoBerth: 1}, booked.Summary)
	assert.Len(t, booked.Categories["confirmed"], 1)
	assert.Empty(t, booked.Categories["waitingList"])
	for _, tk := range booked.Tickets {
		require.NotNil(t, tk.Passenger)
		assert.Equal(t, tk.PassengerID, tk.Passenger.ID)
	}
}

func TestLookupUnknown(t *testing.T) {
	s := newTestService(t, smallInventory(1, 0, 0))
	_, err := s.Lookup(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := newTestService(t, smallInventory(1, 1, 0), WithMetrics(m))

	c := mustAdmit(t, s, adult("C", 30))
	mustAdmit(t, s, adult("R", 30))
	_, err := s.Admit(context.Background(), adult("X", 30))
	require.ErrorIs(t, err, ErrCapacityExhausted)
	_, err = s.Release(context.Background(), c.Ticket.ID)
	require.NoError(t, err)
	_, err = s.Availability(context.Background())
	require.NoError(t, err)

	for name, want := range map[string]int{
		"railway_admissions_total":    2,
		"railway_rejections_total":    1,
		"railway_cancellations_total": 1,
		"railway_promotions_total":    1,
		"railway_free_units":          3,
	} {
		got, err := testutil.GatherAndCount(reg, name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}
