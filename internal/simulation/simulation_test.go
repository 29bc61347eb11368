package simulation

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahir/microgrid/internal/config"
	"github.com/awaistahir/microgrid/internal/grid"
	"github.com/awaistahir/microgrid/internal/store"
	"github.com/awaistahir/microgrid/internal/trading"
)

var fixedNow = time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "microgrid.db")
	cfg.Seed = 11
	cfg.Timers.Refresh = 10 * time.Millisecond
	cfg.Timers.Market = 10 * time.Millisecond
	cfg.Timers.Replacements = 5 * time.Millisecond
	return cfg
}

func openStore(t *testing.T, cfg *config.Config) *store.Store {
	t.Helper()
	st, err := store.Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func openSim(t *testing.T, cfg *config.Config, st *store.Store) *Simulation {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Config: cfg,
		Store:  st,
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return s
}

type recorder struct {
	mu     sync.Mutex
	events []EventType
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.Type)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventType(nil), r.events...)
}

func TestOpenGeneratesOnColdStart(t *testing.T) {
	cfg := testConfig(t)
	st := openStore(t, cfg)
	s := openSim(t, cfg, st)

	snap := s.Snapshot()
	assert.Len(t, snap.Houses, 12)
	require.NotNil(t, snap.Plant)
	assert.NoError(t, snap.Validate())

	persisted, err := st.LoadEnergy(context.Background())
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, snap.Houses, persisted.Houses)

	book := s.Engine().Book()
	assert.GreaterOrEqual(t, len(book.BuyRequests), 1)
	assert.NotEmpty(t, book.SellOffers)
}

func TestOpenKeepsPersistedCommunityAndBook(t *testing.T) {
	cfg := testConfig(t)
	st := openStore(t, cfg)
	first := openSim(t, cfg, st)

	_, err := first.SetAllocation(context.Background(), 1, 40)
	require.NoError(t, err)

	cfg.Seed = 99
	second := openSim(t, cfg, st)
	assert.Equal(t, first.Snapshot().Houses, second.Snapshot().Houses)
	assert.Equal(t, first.Engine().Book().SellOffers, second.Engine().Book().SellOffers)

	h, ok := second.House(1)
	require.True(t, ok)
	assert.Equal(t, 40.0, h.SolarAllocation)
}

func TestOpenRegeneratesStaleCommunity(t *testing.T) {
	cfg := testConfig(t)
	st := openStore(t, cfg)
	ctx := context.Background()

	stale := openSim(t, cfg, st).Snapshot()
	stale.Houses[0].MonthlyConsumptionKWh = 2000
	require.NoError(t, st.SaveEnergy(ctx, stale))
	require.NoError(t, st.SaveBook(ctx, trading.Book{NextID: 500}))

	s := openSim(t, cfg, st)
	snap := s.Snapshot()
	assert.NoError(t, snap.Validate())
	assert.NotEqual(t, 2000.0, snap.Houses[0].MonthlyConsumptionKWh)

	for _, o := range s.Engine().SellOffers() {
		assert.Less(t, o.ID, 500, "stale book must not survive")
	}
}

func TestAllocation(t *testing.T) {
	cfg := testConfig(t)
	s := openSim(t, cfg, openStore(t, cfg))
	rec := &recorder{}
	s.Subscribe(rec)
	ctx := context.Background()

	got, err := s.SetAllocation(ctx, 1, 70)
	require.NoError(t, err)
	assert.Equal(t, 70.0, got)

	got, err = s.SetAllocation(ctx, 2, 50)
	require.NoError(t, err)
	assert.Equal(t, 30.0, got)

	_, err = s.SetAllocation(ctx, 999, 10)
	assert.ErrorIs(t, err, ErrHouseNotFound)

	require.NoError(t, s.ResetAllocation(ctx))
	snap := s.Snapshot()
	assert.Zero(t, snap.TotalAllocation())
	assert.Equal(t, []EventType{AllocationChanged, AllocationChanged, AllocationChanged}, rec.types())
}

func TestRefreshUpdatesPlantOfferAndPersists(t *testing.T) {
	cfg := testConfig(t)
	st := openStore(t, cfg)
	s := openSim(t, cfg, st)
	rec := &recorder{}
	unsubscribe := s.Subscribe(rec)
	ctx := context.Background()

	p := s.Plant().State()
	p.BatteryLevel = 80
	s.Plant().Restore(p)

	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, []EventType{DataChanged}, rec.types())

	var plantOffer trading.Offer
	for _, o := range s.Engine().SellOffers() {
		if o.IsPlant() {
			plantOffer = o
		}
	}
	require.True(t, plantOffer.IsPlant())
	assert.InDelta(t, 40, plantOffer.Remaining, 1.5)

	persisted, err := st.LoadEnergy(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 80.0075, persisted.Plant.BatteryLevel, 1e-9)

	_, err = s.AcceptSellOffer(ctx, plantOffer.ID, 10)
	require.NoError(t, err)
	plant := s.Snapshot().Plant
	assert.InDelta(t, 75.0075, plant.BatteryLevel, 1e-9)
	assert.Equal(t, 10.0, plant.TotalSoldKWh)
	assert.Equal(t, 10.0, s.Engine().Reserve())

	persisted, err = st.LoadEnergy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10.0, persisted.Plant.TotalSoldKWh)

	unsubscribe()
	require.NoError(t, s.MarketTick(ctx))
	assert.Len(t, rec.types(), 2)
}

func TestRejectedTradeEmitsNothing(t *testing.T) {
	cfg := testConfig(t)
	s := openSim(t, cfg, openStore(t, cfg))
	rec := &recorder{}
	s.Subscribe(ListenerFunc(rec.OnEvent))

	_, err := s.AcceptSellOffer(context.Background(), 12345, 1)
	assert.ErrorIs(t, err, trading.ErrOfferNotFound)

	reqs := s.Engine().BuyRequests()
	require.NotEmpty(t, reqs)
	_, err = s.AcceptBuyRequest(context.Background(), reqs[0].ID, 1)
	assert.ErrorIs(t, err, trading.ErrInsufficientReserve)

	assert.Empty(t, rec.types())
}

func TestRegenerateKeepsTransactions(t *testing.T) {
	cfg := testConfig(t)
	st := openStore(t, cfg)
	s := openSim(t, cfg, st)
	ctx := context.Background()

	var offer trading.Offer
	for _, o := range s.Engine().SellOffers() {
		if !o.IsPlant() {
			offer = o
			break
		}
	}
	require.NotZero(t, offer.ID)
	_, err := s.AcceptSellOffer(ctx, offer.ID, 1)
	require.NoError(t, err)

	require.NoError(t, s.Regenerate(ctx))
	snap := s.Snapshot()
	assert.NoError(t, snap.Validate())
	assert.Len(t, s.Engine().Transactions(trading.TxFilter{}), 1)
	assert.Equal(t, 1.0, s.Engine().Reserve())
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	s := openSim(t, cfg, openStore(t, cfg))

	var mu sync.Mutex
	seen := map[EventType]int{}
	s.Subscribe(ListenerFunc(func(e Event) {
		mu.Lock()
		seen[e.Type]++
		mu.Unlock()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, seen[DataChanged])
}

func TestSnapshotIsACopy(t *testing.T) {
	cfg := testConfig(t)
	s := openSim(t, cfg, openStore(t, cfg))

	snap := s.Snapshot()
	snap.Houses[0].Name = "changed"
	snap.Plant.BatteryLevel = -1

	again := s.Snapshot()
	assert.Equal(t, grid.HouseName(again.Houses[0].ID), again.Houses[0].Name)
	assert.NotEqual(t, -1.0, again.Plant.BatteryLevel)
}
