package uiapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/awaistahir/microgrid/internal/grid"
	"github.com/awaistahir/microgrid/internal/metrics"
	"github.com/awaistahir/microgrid/internal/simulation"
	"github.com/awaistahir/microgrid/internal/solar"
	"github.com/awaistahir/microgrid/internal/trading"
)

type Server struct {
	sim     *simulation.Simulation
	hub     *Hub
	metrics *metrics.Metrics
	log     *zap.Logger
	reserve float64 // plant reserve threshold in percent
}

// NewServer builds the HTTP surface of sim and subscribes its websocket hub
// to the simulation events.
func NewServer(sim *simulation.Simulation, m *metrics.Metrics, reserveThreshold float64, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	hub := NewHub(log.Named("ws"))
	sim.Subscribe(hub)
	return &Server{sim: sim, hub: hub, metrics: m, log: log, reserve: reserveThreshold}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler)

	r.Get("/ws", s.hub.ServeHTTP)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/status", s.handleStatus)

		r.Get("/houses", s.handleGetHouses)
		r.Get("/houses/{id}", s.handleGetHouse)
		r.Put("/houses/{id}/allocation", s.handleSetAllocation)
		r.Get("/houses/{id}/load-shedding", s.handleLoadShedding)
		r.Get("/houses/{id}/savings", s.handleSavings)
		r.Get("/houses/{id}/history.csv", s.handleHistoryCSV)
		r.Post("/allocation/reset", s.handleResetAllocation)

		r.Get("/evs", s.handleGetEVs)
		r.Get("/plant", s.handleGetPlant)

		r.Route("/market", func(r chi.Router) {
			r.Get("/", s.handleMarket)
			r.Get("/offers", s.handleGetOffers)
			r.Get("/requests", s.handleGetRequests)
			r.Get("/prices", s.handleGetPrices)
			r.Post("/offers/{id}/accept", s.handleAcceptOffer)
			r.Post("/requests/{id}/accept", s.handleAcceptRequest)
			r.Get("/reserve", s.handleGetReserve)
			r.Get("/pnl", s.handleGetPnL)
			r.Get("/sellers", s.handleGetSellers)
			r.Get("/transactions", s.handleGetTransactions)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.sim.Snapshot()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"houses":      len(snap.Houses),
		"evs":         len(snap.EVs),
		"lastUpdated": snap.LastUpdated,
		"clients":     s.hub.ClientCount(),
	})
}

// houseView is a household with the figures the dashboard derives from it.
type houseView struct {
	grid.Household
	EVs                   []grid.EV             `json:"evs"`
	DistributedSolarPower float64               `json:"distributedSolarPower"`
	ConsumptionStatus     string                `json:"consumptionStatus"`
	MonthlySolarKWh       float64               `json:"monthlySolarProduction"`
	MonthlySurplusKWh     float64               `json:"monthlySurplus"`
	Requirement           grid.SolarRequirement `json:"solarRequirement"`
}

func newHouseView(st *grid.State, h grid.Household) houseView {
	return houseView{
		Household:             h,
		EVs:                   st.EVsForHouse(h.ID),
		DistributedSolarPower: st.DistributedSolarPower(h.ID),
		ConsumptionStatus:     grid.ConsumptionStatus(h.CurrentConsumptionKW),
		MonthlySolarKWh:       grid.MonthlySolarProduction(h.SolarPanels),
		MonthlySurplusKWh:     grid.MonthlySurplus(h),
		Requirement:           grid.RequirementFor(h.DailyConsumptionKWh),
	}
}

func (s *Server) handleGetHouses(w http.ResponseWriter, r *http.Request) {
	snap := s.sim.Snapshot()
	views := make([]houseView, 0, len(snap.Houses))
	for _, h := range snap.Houses {
		views = append(views, newHouseView(&snap, h))
	}
	respondJSON(w, http.StatusOK, views)
}

// house resolves {id} against a fresh snapshot. It writes the error response
// itself and returns false when the id is bad or unknown.
func (s *Server) house(w http.ResponseWriter, r *http.Request) (*grid.State, grid.Household, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return nil, grid.Household{}, false
	}
	snap := s.sim.Snapshot()
	h, found := snap.House(id)
	if !found {
		respondError(w, http.StatusNotFound, fmt.Sprintf("house %d not found", id))
		return nil, grid.Household{}, false
	}
	return &snap, *h, true
}

func (s *Server) handleGetHouse(w http.ResponseWriter, r *http.Request) {
	snap, h, ok := s.house(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newHouseView(snap, h))
}

type allocationRequest struct {
	Percentage *float64 `json:"percentage"`
}

func (s *Server) handleSetAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req allocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Percentage == nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	got, err := s.sim.SetAllocation(r.Context(), id, *req.Percentage)
	switch {
	case errors.Is(err, simulation.ErrHouseNotFound):
		respondError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	snap := s.sim.Snapshot()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"houseId":         id,
		"solarAllocation": got,
		"totalAllocation": snap.TotalAllocation(),
	})
}

func (s *Server) handleResetAllocation(w http.ResponseWriter, r *http.Request) {
	if err := s.sim.ResetAllocation(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]float64{"totalAllocation": 0})
}

func (s *Server) handleLoadShedding(w http.ResponseWriter, r *http.Request) {
	snap, h, ok := s.house(w, r)
	if !ok {
		return
	}
	stored := h.BatteryCapacityKWh * h.BatteryLevel / 100
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"houseId": h.ID,
		"plan":    grid.LoadSheddingPlan(h),
		"backup":  grid.BackupDuration(snap.DistributedSolarPower(h.ID), stored, h.CurrentConsumptionKW),
	})
}

func (s *Server) handleSavings(w http.ResponseWriter, r *http.Request) {
	_, h, ok := s.house(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, grid.SavingsFor(h))
}

func (s *Server) handleHistoryCSV(w http.ResponseWriter, r *http.Request) {
	_, h, ok := s.house(w, r)
	if !ok {
		return
	}
	p := r.URL.Query().Get("period")
	if p == "" {
		p = string(grid.PeriodDaily)
	}
	period, err := grid.ParseHistoryPeriod(p)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", grid.HistoryFilename(h, period)))
	if err := grid.WriteHistoryCSV(w, h, period); err != nil {
		s.log.Warn("writing history csv", zap.Int("house", h.ID), zap.Error(err))
	}
}

func (s *Server) handleGetEVs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sim.Snapshot().EVs)
}

type plantView struct {
	grid.Plant
	ReserveThreshold float64 `json:"reserveThreshold"`
	SurplusKWh       float64 `json:"availableForSale"`
}

func (s *Server) handleGetPlant(w http.ResponseWriter, r *http.Request) {
	p := s.sim.Snapshot().Plant
	if p == nil {
		respondError(w, http.StatusNotFound, "plant not initialized")
		return
	}
	respondJSON(w, http.StatusOK, plantView{
		Plant:            *p,
		ReserveThreshold: s.reserve,
		SurplusKWh:       solar.SurplusOf(*p, s.reserve),
	})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sim.Engine().MarketOverview())
}

func (s *Server) handleGetOffers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sim.Engine().SellOffers())
}

func (s *Server) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sim.Engine().BuyRequests())
}

func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sim.Engine().Prices())
}

type acceptRequest struct {
	Amount float64 `json:"amount"`
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	id, req, ok := acceptParams(w, r)
	if !ok {
		return
	}
	tx, err := s.sim.AcceptSellOffer(r.Context(), id, req.Amount)
	if err != nil {
		s.respondTradeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

func (s *Server) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	id, req, ok := acceptParams(w, r)
	if !ok {
		return
	}
	tx, err := s.sim.AcceptBuyRequest(r.Context(), id, req.Amount)
	if err != nil {
		s.respondTradeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

func acceptParams(w http.ResponseWriter, r *http.Request) (int, acceptRequest, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return 0, acceptRequest{}, false
	}
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return 0, acceptRequest{}, false
	}
	return id, req, true
}

func (s *Server) respondTradeError(w http.ResponseWriter, err error) {
	if !trading.IsClientError(err) {
		s.log.Error("trade failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	switch {
	case errors.Is(err, trading.ErrOfferNotFound), errors.Is(err, trading.ErrRequestNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, trading.ErrInsufficientReserve):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]float64{"reserve": s.sim.Engine().Reserve()})
}

func (s *Server) handleGetPnL(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sim.Engine().ProfitAndLoss())
}

func (s *Server) handleGetSellers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sim.Engine().SellersByVolume())
}

func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	var f trading.TxFilter
	q := r.URL.Query()

	switch t := trading.TxType(q.Get("type")); t {
	case "", trading.Buy, trading.Sell:
		f.Type = t
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown transaction type %q", t))
		return
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	respondJSON(w, http.StatusOK, s.sim.Engine().Transactions(f))
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
