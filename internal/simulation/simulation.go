package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/awaistahir/microgrid/internal/config"
	"github.com/awaistahir/microgrid/internal/grid"
	"github.com/awaistahir/microgrid/internal/metrics"
	"github.com/awaistahir/microgrid/internal/solar"
	"github.com/awaistahir/microgrid/internal/store"
	"github.com/awaistahir/microgrid/internal/tariff"
	"github.com/awaistahir/microgrid/internal/trading"
)

var ErrHouseNotFound = errors.New("house not found")

// Options wire a Simulation. Config and Store are required.
type Options struct {
	Config  *config.Config
	Store   *store.Store
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Simulation owns the community state, the central plant and the market,
// and drives them with periodic loops.
type Simulation struct {
	mu    sync.Mutex
	cfg   *config.Config
	store *store.Store
	state grid.State // Plant is kept by the simulator, see Snapshot
	rng   *rand.Rand
	gen   *grid.Generator

	plant   *solar.Simulator
	engine  *trading.Engine
	now     func() time.Time
	log     *zap.Logger
	metrics *metrics.Metrics

	lmu          sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

// Open loads the persisted state, regenerating the community when it is
// missing or stale, and prepares the market.
func Open(ctx context.Context, opts Options) (*Simulation, error) {
	if opts.Config == nil || opts.Store == nil {
		return nil, errors.New("simulation: config and store are required")
	}
	cfg := opts.Config
	s := &Simulation{
		cfg:       cfg,
		store:     opts.Store,
		now:       opts.Now,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		listeners: map[int]Listener{},
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s.rng = rand.New(rand.NewSource(seed))
	s.gen = grid.NewGenerator(rand.New(rand.NewSource(seed+1)), s.now)

	st, err := s.store.LoadEnergy(ctx)
	switch {
	case errors.Is(err, grid.ErrStale):
		s.log.Warn("discarding stale community data", zap.Error(err))
		st = nil
	case err != nil:
		return nil, fmt.Errorf("loading community: %w", err)
	}

	var book *trading.Book
	if st == nil {
		gen := s.generate()
		st = &gen
		if err := s.store.DiscardState(ctx); err != nil {
			return nil, err
		}
		if err := s.store.SaveEnergy(ctx, gen); err != nil {
			return nil, fmt.Errorf("saving community: %w", err)
		}
		s.log.Info("generated community", zap.Int("houses", len(gen.Houses)), zap.Int("evs", len(gen.EVs)))
	} else if book, err = s.store.LoadBook(ctx); err != nil {
		return nil, fmt.Errorf("loading market: %w", err)
	}

	txs, err := s.store.Transactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading transactions: %w", err)
	}

	s.state = *st
	s.plant = solar.New(solar.Config{
		MaxProductionKW:  cfg.Plant.MaxProductionKW,
		PeakHour:         cfg.Plant.PeakHour,
		BatteryStepScale: cfg.Plant.BatteryStepScale,
		ReserveThreshold: cfg.Plant.ReserveThreshold,
	}, *st.Plant, rand.New(rand.NewSource(seed+2)), s.now)

	s.engine = trading.New(s.store, trading.Options{
		Schedule: tariff.Schedule{
			PeakWindow: tariff.Window{Start: cfg.Tariff.PeakStart, End: cfg.Tariff.PeakEnd},
			Buy:        tariff.NewRates(cfg.Tariff.Buy.Fixed, cfg.Tariff.Buy.Peak, cfg.Tariff.Buy.OffPeak),
			Sell:       tariff.NewRates(cfg.Tariff.Sell.Fixed, cfg.Tariff.Sell.Peak, cfg.Tariff.Sell.OffPeak),
		},
		Rules: trading.Rules{
			MaxEntries:        cfg.Market.MaxEntries,
			MinEntries:        cfg.Market.MinEntries,
			AddOfferProb:      cfg.Market.AddOfferProb,
			AddRequestProb:    cfg.Market.AddRequestProb,
			RemoveOfferProb:   cfg.Market.RemoveOfferProb,
			RemoveRequestProb: cfg.Market.RemoveRequestProb,
		},
		ReplacementDelay: cfg.Timers.ReplacementDelay,
		MinPlantOfferKWh: cfg.Plant.MinOfferKWh,
		Plant:            s.plant,
		Rand:             rand.New(rand.NewSource(seed + 3)),
		Now:              s.now,
		Logger:           s.log.Named("trading"),
		Metrics:          s.metrics,
	})
	s.engine.Load(book, txs)
	if err := s.engine.Initialize(ctx, trading.ParticipantsFrom(st.Houses)); err != nil {
		return nil, err
	}
	if _, err := s.engine.UpdatePlantOffer(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Simulation) generate() grid.State {
	return s.gen.Generate(s.cfg.Houses, grid.PlantSpec{
		TotalCapacityKW:    s.cfg.Plant.TotalCapacityKW,
		BatteryCapacityKWh: s.cfg.Plant.BatteryCapacityKWh,
	})
}

// Engine is the market of this community.
func (s *Simulation) Engine() *trading.Engine {
	return s.engine
}

// Plant is the central plant simulator.
func (s *Simulation) Plant() *solar.Simulator {
	return s.plant
}

// Snapshot returns a deep copy of the community including the plant.
func (s *Simulation) Snapshot() grid.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Simulation) snapshotLocked() grid.State {
	st := s.state.Clone()
	p := s.plant.State()
	st.Plant = &p
	return st
}

// House returns one household, or false for an unknown id.
func (s *Simulation) House(id int) (grid.Household, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.snapshotLocked()
	h, ok := st.House(id)
	if !ok {
		return grid.Household{}, false
	}
	return *h, true
}

// Refresh advances households, EVs and the plant by one tick, re-prices the
// plant's offer and saves the community.
func (s *Simulation) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.state.Refresh(s.rng)
	p := s.plant.Step(s.cfg.Timers.Refresh)
	s.state.Plant = &p
	s.state.LastUpdated = s.now()
	err := s.saveLocked(ctx)
	s.mu.Unlock()

	s.metrics.Plant(p.BatteryLevel, p.CurrentProductionKW)
	if _, perr := s.engine.UpdatePlantOffer(ctx); perr != nil {
		err = errors.Join(err, perr)
	}
	s.emit(DataChanged)
	return err
}

// MarketTick applies one round of random market activity.
func (s *Simulation) MarketTick(ctx context.Context) error {
	err := s.engine.Tick(ctx)
	s.emit(DataChanged)
	return err
}

// ProcessReplacements births due replacement offers and requests.
func (s *Simulation) ProcessReplacements(ctx context.Context) error {
	born, err := s.engine.ProcessDue(ctx)
	if born > 0 {
		s.emit(DataChanged)
	}
	return err
}

// AcceptSellOffer buys from a seller on behalf of the pool.
func (s *Simulation) AcceptSellOffer(ctx context.Context, offerID int, kWh float64) (trading.Transaction, error) {
	offer, _ := s.engine.Offer(offerID)
	tx, err := s.engine.AcceptSellOffer(ctx, offerID, kWh)
	if err != nil && !errors.Is(err, trading.ErrPersist) {
		return tx, err
	}
	if offer.IsPlant() && tx.ID != uuid.Nil {
		if serr := s.save(ctx); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	s.emit(DataChanged)
	return tx, err
}

// AcceptBuyRequest sells to a household on behalf of the pool.
func (s *Simulation) AcceptBuyRequest(ctx context.Context, requestID int, kWh float64) (trading.Transaction, error) {
	tx, err := s.engine.AcceptBuyRequest(ctx, requestID, kWh)
	if err != nil && !errors.Is(err, trading.ErrPersist) {
		return tx, err
	}
	s.emit(DataChanged)
	return tx, err
}

// SetAllocation gives house id pct percent of the plant, clamped so the
// community total stays at most 100. It returns the stored percentage.
func (s *Simulation) SetAllocation(ctx context.Context, id int, pct float64) (float64, error) {
	s.mu.Lock()
	got, ok := s.state.SetAllocation(id, pct)
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %d", ErrHouseNotFound, id)
	}
	err := s.saveLocked(ctx)
	s.mu.Unlock()

	s.emit(AllocationChanged)
	return got, err
}

func (s *Simulation) ResetAllocation(ctx context.Context) error {
	s.mu.Lock()
	s.state.ResetAllocation()
	err := s.saveLocked(ctx)
	s.mu.Unlock()

	s.emit(AllocationChanged)
	return err
}

// Regenerate throws the community and the book away and starts over. The
// transaction log is kept.
func (s *Simulation) Regenerate(ctx context.Context) error {
	s.mu.Lock()
	st := s.generate()
	s.state = st
	s.plant.Restore(*st.Plant)
	err := s.saveLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.engine.Reset(ctx, trading.ParticipantsFrom(st.Houses)); err != nil {
		return err
	}
	if _, err := s.engine.UpdatePlantOffer(ctx); err != nil {
		return err
	}
	s.emit(DataChanged)
	return nil
}

func (s *Simulation) save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Simulation) saveLocked(ctx context.Context) error {
	if err := s.store.SaveEnergy(ctx, s.snapshotLocked()); err != nil {
		s.log.Error("saving community failed", zap.Error(err))
		return fmt.Errorf("saving community: %w", err)
	}
	return nil
}

// Run drives the refresh, market and replacement loops until ctx is
// cancelled.
func (s *Simulation) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(ctx, "refresh", s.cfg.Timers.Refresh, s.Refresh) })
	g.Go(func() error { return s.loop(ctx, "market", s.cfg.Timers.Market, s.MarketTick) })
	g.Go(func() error { return s.loop(ctx, "replacements", s.cfg.Timers.Replacements, s.ProcessReplacements) })
	return g.Wait()
}

func (s *Simulation) loop(ctx context.Context, name string, every time.Duration, step func(context.Context) error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	s.log.Debug("loop started", zap.String("loop", name), zap.Duration("every", every))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := step(ctx); err != nil {
				s.log.Warn("loop step failed", zap.String("loop", name), zap.Error(err))
			}
		}
	}
}
