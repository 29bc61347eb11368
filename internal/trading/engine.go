package trading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/awaistahir/microgrid/internal/metrics"
	"github.com/awaistahir/microgrid/internal/tariff"
)

// kWh amounts closer than epsilon are treated as equal.
const epsilon = 1e-9

// DefaultMinPlantOfferKWh is the surplus the plant needs before it offers.
const DefaultMinPlantOfferKWh = 5.0

// Repository persists the book and the transaction log.
type Repository interface {
	SaveBook(ctx context.Context, b Book) error
	AppendTransaction(ctx context.Context, tx Transaction) error
}

// PlantAccount is the central plant as the pool sees it: its sellable
// surplus, debited when the pool buys from it.
type PlantAccount interface {
	Surplus() float64
	Discharge(kWh float64)
}

// Options configure an Engine. Zero values fall back to defaults.
type Options struct {
	Schedule         tariff.Schedule
	Rules            Rules
	ReplacementDelay time.Duration
	MinPlantOfferKWh float64
	Plant            PlantAccount
	Rand             *rand.Rand
	Now              func() time.Time
	Logger           *zap.Logger
	Metrics          *metrics.Metrics
}

// Engine is the energy pool: it buys from sellers and sells to buyers, and
// keeps the book and the ledger. It is safe for concurrent use.
type Engine struct {
	mu sync.RWMutex

	repo     Repository
	plant    PlantAccount
	schedule tariff.Schedule
	rules    Rules
	delay    time.Duration
	minPlant float64
	rng      *rand.Rand
	now      func() time.Time
	log      *zap.Logger
	metrics  *metrics.Metrics

	roster  []Participant
	book    Book
	hasBook bool
	txs     []Transaction
	totals  Totals
}

func New(repo Repository, opts Options) *Engine {
	e := &Engine{
		repo:     repo,
		plant:    opts.Plant,
		schedule: opts.Schedule,
		rules:    opts.Rules,
		delay:    opts.ReplacementDelay,
		minPlant: opts.MinPlantOfferKWh,
		rng:      opts.Rand,
		now:      opts.Now,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}
	if e.rules == (Rules{}) {
		e.rules = DefaultRules()
	}
	if e.minPlant <= 0 {
		e.minPlant = DefaultMinPlantOfferKWh
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e
}

// Load restores persisted state. A nil book means none was stored, and
// Initialize will synthesize one.
func (e *Engine) Load(book *Book, txs []Transaction) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.hasBook = book != nil
	if book != nil {
		e.book = book.Clone()
	} else {
		e.book = Book{}
	}
	e.txs = append([]Transaction(nil), txs...)
	e.totals = Recompute(e.txs)
}

// Initialize sets the households taking part in the market and, when no
// book was loaded, synthesizes one from them and saves it.
func (e *Engine) Initialize(ctx context.Context, houses []Participant) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.roster = append([]Participant(nil), houses...)
	if e.hasBook {
		return nil
	}
	e.synthesize()
	e.hasBook = true
	e.log.Info("market initialized",
		zap.Int("offers", len(e.book.SellOffers)),
		zap.Int("requests", len(e.book.BuyRequests)))
	return e.saveLocked(ctx)
}

// Reset discards the book and synthesizes a new one. The transaction log is
// kept.
func (e *Engine) Reset(ctx context.Context, houses []Participant) error {
	e.mu.Lock()
	e.hasBook = false
	e.mu.Unlock()
	return e.Initialize(ctx, houses)
}

// BuyPrice is what the pool pays a seller per kWh right now.
func (e *Engine) BuyPrice(mode tariff.Mode) decimal.Decimal {
	return e.schedule.BuyPrice(mode, e.now())
}

// SellPrice is what a buyer pays the pool per kWh right now.
func (e *Engine) SellPrice(mode tariff.Mode) decimal.Decimal {
	return e.schedule.SellPrice(mode, e.now())
}

// Prices is the current price board.
type Prices struct {
	Period    tariff.Period   `json:"period"`
	BuyFixed  decimal.Decimal `json:"buyFixed"`
	BuyTOU    decimal.Decimal `json:"buyTou"`
	SellFixed decimal.Decimal `json:"sellFixed"`
	SellTOU   decimal.Decimal `json:"sellTou"`

	SpreadFixed decimal.Decimal `json:"spreadFixed"`
	SpreadTOU   decimal.Decimal `json:"spreadTou"`
}

func (e *Engine) Prices() Prices {
	now := e.now()
	return Prices{
		Period:    e.schedule.Period(now),
		BuyFixed:  e.schedule.BuyPrice(tariff.Fixed, now),
		BuyTOU:    e.schedule.BuyPrice(tariff.TOU, now),
		SellFixed: e.schedule.SellPrice(tariff.Fixed, now),
		SellTOU:   e.schedule.SellPrice(tariff.TOU, now),

		SpreadFixed: e.schedule.Spread(tariff.Fixed, now),
		SpreadTOU:   e.schedule.Spread(tariff.TOU, now),
	}
}

// AcceptSellOffer buys kWh from offer id at the fixed buy price.
func (e *Engine) AcceptSellOffer(ctx context.Context, id int, kWh float64) (Transaction, error) {
	if !validAmount(kWh) {
		e.metrics.Rejected("invalid_amount")
		return Transaction{}, fmt.Errorf("%w: %v", ErrInvalidAmount, kWh)
	}

	e.mu.Lock()
	idx := e.offerIndex(id)
	if idx < 0 {
		e.mu.Unlock()
		e.metrics.Rejected("not_found")
		return Transaction{}, fmt.Errorf("%w: %d", ErrOfferNotFound, id)
	}
	offer := e.book.SellOffers[idx]
	if kWh > offer.Remaining+epsilon {
		e.mu.Unlock()
		e.metrics.Rejected("exceeds_available")
		return Transaction{}, fmt.Errorf("%w: %.2f kWh requested, %.2f kWh offered",
			ErrExceedsAvailable, kWh, offer.Remaining)
	}

	now := e.now()
	price := e.schedule.BuyPrice(tariff.Fixed, now)
	tx := Transaction{
		ID:         uuid.New(),
		Type:       Buy,
		OfferID:    offer.ID,
		SellerID:   offer.Seller.SellerID(),
		SellerName: offer.Seller.DisplayName(),
		BuyerID:    PoolID,
		BuyerName:  PoolName,
		KWh:        kWh,
		UnitPrice:  price,
		Total:      decimal.NewFromFloat(kWh).Mul(price),
		Mode:       tariff.Fixed,
		Timestamp:  now,
	}
	if err := e.repo.AppendTransaction(ctx, tx); err != nil {
		e.mu.Unlock()
		return Transaction{}, fmt.Errorf("%w: append transaction: %v", ErrPersist, err)
	}
	e.record(tx)

	if remaining := offer.Remaining - kWh; remaining > epsilon {
		e.book.SellOffers[idx].Remaining = remaining
	} else {
		e.book.SellOffers = append(e.book.SellOffers[:idx], e.book.SellOffers[idx+1:]...)
		e.scheduleReplacement(SideOffer, now)
	}
	// The battery must be debited before e.mu is released, or a plant offer
	// update could re-offer the energy just bought.
	if offer.IsPlant() && e.plant != nil {
		e.plant.Discharge(kWh)
	}
	saveErr := e.saveLocked(ctx)
	e.mu.Unlock()

	e.log.Info("bought from seller",
		zap.Int("offer", offer.ID),
		zap.String("seller", tx.SellerName),
		zap.Float64("kwh", kWh),
		zap.String("total", tx.Total.StringFixed(2)))
	return tx, saveErr
}

// AcceptBuyRequest sells kWh to request id at the buyer's chosen mode. The
// pool can only sell energy it holds.
func (e *Engine) AcceptBuyRequest(ctx context.Context, id int, kWh float64) (Transaction, error) {
	if !validAmount(kWh) {
		e.metrics.Rejected("invalid_amount")
		return Transaction{}, fmt.Errorf("%w: %v", ErrInvalidAmount, kWh)
	}

	e.mu.Lock()
	idx := e.requestIndex(id)
	if idx < 0 {
		e.mu.Unlock()
		e.metrics.Rejected("not_found")
		return Transaction{}, fmt.Errorf("%w: %d", ErrRequestNotFound, id)
	}
	req := e.book.BuyRequests[idx]
	if kWh > req.Remaining+epsilon {
		e.mu.Unlock()
		e.metrics.Rejected("exceeds_available")
		return Transaction{}, fmt.Errorf("%w: %.2f kWh offered, %.2f kWh wanted",
			ErrExceedsAvailable, kWh, req.Remaining)
	}
	if reserve := e.totals.Reserve(); kWh > reserve+epsilon {
		e.mu.Unlock()
		e.metrics.Rejected("insufficient_reserve")
		return Transaction{}, &ReserveError{Available: reserve, Requested: kWh}
	}

	now := e.now()
	price := e.schedule.SellPrice(req.Mode, now)
	tx := Transaction{
		ID:         uuid.New(),
		Type:       Sell,
		RequestID:  req.ID,
		SellerID:   PoolID,
		SellerName: PoolName,
		BuyerID:    req.BuyerID(),
		BuyerName:  req.BuyerName,
		KWh:        kWh,
		UnitPrice:  price,
		Total:      decimal.NewFromFloat(kWh).Mul(price),
		Mode:       req.Mode,
		Timestamp:  now,
	}
	if err := e.repo.AppendTransaction(ctx, tx); err != nil {
		e.mu.Unlock()
		return Transaction{}, fmt.Errorf("%w: append transaction: %v", ErrPersist, err)
	}
	e.record(tx)

	if remaining := req.Remaining - kWh; remaining > epsilon {
		e.book.BuyRequests[idx].Remaining = remaining
	} else {
		e.book.BuyRequests = append(e.book.BuyRequests[:idx], e.book.BuyRequests[idx+1:]...)
		e.scheduleReplacement(SideRequest, now)
	}
	saveErr := e.saveLocked(ctx)
	e.mu.Unlock()

	e.log.Info("sold to buyer",
		zap.Int("request", req.ID),
		zap.String("buyer", tx.BuyerName),
		zap.Float64("kwh", kWh),
		zap.String("mode", string(req.Mode)),
		zap.String("total", tx.Total.StringFixed(2)))
	return tx, saveErr
}

// Tick applies one round of random market activity and saves the book.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.rules
	if e.rng.Float64() < r.AddOfferProb && len(e.book.SellOffers) < r.MaxEntries {
		e.book.SellOffers = append(e.book.SellOffers, e.randomOffer())
	}
	if e.rng.Float64() < r.AddRequestProb && len(e.book.BuyRequests) < r.MaxEntries {
		if req, ok := e.randomRequest(); ok {
			e.book.BuyRequests = append(e.book.BuyRequests, req)
		}
	}
	if e.rng.Float64() < r.RemoveOfferProb && len(e.book.SellOffers) > r.MinEntries {
		var removable []int
		for i, o := range e.book.SellOffers {
			if !o.IsPlant() {
				removable = append(removable, i)
			}
		}
		if len(removable) > 0 {
			i := removable[e.rng.Intn(len(removable))]
			e.book.SellOffers = append(e.book.SellOffers[:i], e.book.SellOffers[i+1:]...)
		}
	}
	if e.rng.Float64() < r.RemoveRequestProb && len(e.book.BuyRequests) > r.MinEntries {
		i := e.rng.Intn(len(e.book.BuyRequests))
		e.book.BuyRequests = append(e.book.BuyRequests[:i], e.book.BuyRequests[i+1:]...)
	}
	return e.saveLocked(ctx)
}

// UpdatePlantOffer keeps the central plant's single offer in line with its
// sellable surplus. Changes under 1 kWh are ignored while the surplus stays
// above the minimum offer. It reports whether the book changed.
func (e *Engine) UpdatePlantOffer(ctx context.Context) (bool, error) {
	if e.plant == nil {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	surplusKWh := e.plant.Surplus()
	idx := -1
	for i, o := range e.book.SellOffers {
		if o.IsPlant() {
			idx = i
			break
		}
	}
	if idx >= 0 && surplusKWh > e.minPlant && math.Abs(e.book.SellOffers[idx].Remaining-surplusKWh) < 1 {
		return false, nil
	}

	switch {
	case surplusKWh > e.minPlant && idx >= 0:
		amount := math.Round(surplusKWh)
		e.book.SellOffers[idx].Amount = amount
		e.book.SellOffers[idx].Remaining = amount
	case surplusKWh > e.minPlant:
		amount := math.Round(surplusKWh)
		offer := Offer{
			ID:        e.nextID(),
			Seller:    PlantSeller{},
			Amount:    amount,
			Remaining: amount,
			CreatedAt: e.now(),
		}
		e.book.SellOffers = append([]Offer{offer}, e.book.SellOffers...)
	case idx >= 0:
		e.book.SellOffers = append(e.book.SellOffers[:idx], e.book.SellOffers[idx+1:]...)
	default:
		return false, nil
	}
	return true, e.saveLocked(ctx)
}

// ProcessDue adds a new random offer or request for every replacement whose
// due time has passed and returns how many were born.
func (e *Engine) ProcessDue(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var keep []Replacement
	born := 0
	for _, p := range e.book.Pending {
		if p.Due.After(now) {
			keep = append(keep, p)
			continue
		}
		switch p.Side {
		case SideOffer:
			e.book.SellOffers = append(e.book.SellOffers, e.randomOffer())
		case SideRequest:
			req, ok := e.randomRequest()
			if !ok {
				keep = append(keep, p)
				continue
			}
			e.book.BuyRequests = append(e.book.BuyRequests, req)
		}
		born++
	}
	if born == 0 && len(keep) == len(e.book.Pending) {
		return 0, nil
	}
	e.book.Pending = keep
	return born, e.saveLocked(ctx)
}

// Reserve is the energy the pool currently holds in kWh.
func (e *Engine) Reserve() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totals.Reserve()
}

func (e *Engine) ProfitAndLoss() ProfitAndLoss {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totals.ProfitAndLoss()
}

// Totals returns the running ledger aggregates.
func (e *Engine) Totals() Totals {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totals
}

func (e *Engine) SellOffers() []Offer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Offer(nil), e.book.SellOffers...)
}

func (e *Engine) BuyRequests() []BuyRequest {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]BuyRequest(nil), e.book.BuyRequests...)
}

// Offer returns the sell offer with id, or false.
func (e *Engine) Offer(id int) (Offer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if i := e.offerIndex(id); i >= 0 {
		return e.book.SellOffers[i], true
	}
	return Offer{}, false
}

// Request returns the buy request with id, or false.
func (e *Engine) Request(id int) (BuyRequest, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if i := e.requestIndex(id); i >= 0 {
		return e.book.BuyRequests[i], true
	}
	return BuyRequest{}, false
}

// Book returns a copy of the current book.
func (e *Engine) Book() Book {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Clone()
}

// TxFilter narrows a transaction listing. Zero values mean no filter.
type TxFilter struct {
	Type  TxType
	Limit int
}

// Transactions lists the log most recent first.
func (e *Engine) Transactions(f TxFilter) []Transaction {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Transaction, 0, len(e.txs))
	for i := len(e.txs) - 1; i >= 0; i-- {
		tx := e.txs[i]
		if f.Type != "" && tx.Type != f.Type {
			continue
		}
		out = append(out, tx)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Overview counts both sides of the book.
type Overview struct {
	Sellers      int     `json:"sellers"`
	SellOffers   int     `json:"sellOffers"`
	OfferedKWh   float64 `json:"totalOffered"`
	Buyers       int     `json:"buyers"`
	BuyRequests  int     `json:"buyRequests"`
	RequestedKWh float64 `json:"totalRequested"`
	Pending      int     `json:"pendingReplacements"`
	Prices       Prices  `json:"prices"`
}

func (e *Engine) MarketOverview() Overview {
	e.mu.RLock()
	sellers := map[string]struct{}{}
	buyers := map[int]struct{}{}
	ov := Overview{
		SellOffers:  len(e.book.SellOffers),
		BuyRequests: len(e.book.BuyRequests),
		Pending:     len(e.book.Pending),
	}
	for _, o := range e.book.SellOffers {
		sellers[o.Seller.SellerID()] = struct{}{}
		ov.OfferedKWh += o.Remaining
	}
	for _, r := range e.book.BuyRequests {
		buyers[r.HouseID] = struct{}{}
		ov.RequestedKWh += r.Remaining
	}
	e.mu.RUnlock()

	ov.Sellers = len(sellers)
	ov.Buyers = len(buyers)
	ov.Prices = e.Prices()
	return ov
}

// SellersByVolume ranks sellers by kWh the pool bought from them.
func (e *Engine) SellersByVolume() []SellerVolume {
	e.mu.RLock()
	defer e.mu.RUnlock()

	byID := map[string]*SellerVolume{}
	for _, tx := range e.txs {
		if tx.Type != Buy {
			continue
		}
		v, ok := byID[tx.SellerID]
		if !ok {
			v = &SellerVolume{SellerID: tx.SellerID, Name: tx.SellerName, Total: decimal.Zero}
			byID[tx.SellerID] = v
		}
		v.KWh += tx.KWh
		v.Total = v.Total.Add(tx.Total)
	}

	out := make([]SellerVolume, 0, len(byID))
	for _, v := range byID {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].KWh == out[j].KWh {
			return out[i].SellerID < out[j].SellerID
		}
		return out[i].KWh > out[j].KWh
	})
	return out
}

type SellerVolume struct {
	SellerID string          `json:"sellerId"`
	Name     string          `json:"name"`
	KWh      float64         `json:"kWh"`
	Total    decimal.Decimal `json:"total"`
}

func (e *Engine) record(tx Transaction) {
	e.txs = append(e.txs, tx)
	e.totals.Apply(tx)
	e.metrics.Trade(string(tx.Type), tx.KWh)
}

func (e *Engine) scheduleReplacement(side Side, now time.Time) {
	e.book.Pending = append(e.book.Pending, Replacement{Side: side, Due: now.Add(e.delay)})
}

// saveLocked writes the book. Callers hold e.mu.
func (e *Engine) saveLocked(ctx context.Context) error {
	e.metrics.Book(len(e.book.SellOffers), len(e.book.BuyRequests), e.totals.Reserve())
	if err := e.repo.SaveBook(ctx, e.book.Clone()); err != nil {
		e.log.Error("saving market book failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func (e *Engine) offerIndex(id int) int {
	for i, o := range e.book.SellOffers {
		if o.ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) requestIndex(id int) int {
	for i, r := range e.book.BuyRequests {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func validAmount(kWh float64) bool {
	return kWh > 0 && !math.IsNaN(kWh) && !math.IsInf(kWh, 0)
}

// IsClientError reports whether err was caused by the caller's input rather
// than by persistence.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrExceedsAvailable) ||
		errors.Is(err, ErrInsufficientReserve) ||
		errors.Is(err, ErrOfferNotFound) ||
		errors.Is(err, ErrRequestNotFound)
}
