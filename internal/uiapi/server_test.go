package uiapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/awaistahir/microgrid/internal/config"
	"github.com/awaistahir/microgrid/internal/metrics"
	"github.com/awaistahir/microgrid/internal/simulation"
	"github.com/awaistahir/microgrid/internal/store"
	"github.com/awaistahir/microgrid/internal/trading"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "microgrid.db")
	cfg.Seed = 5

	st, err := store.Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := metrics.New()
	now := time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)
	sim, err := simulation.Open(context.Background(), simulation.Options{
		Config:  cfg,
		Store:   st,
		Metrics: m,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)

	srv := NewServer(sim, m, cfg.Plant.ReserveThreshold, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func do(t *testing.T, method, url, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestStatusAndHouses(t *testing.T) {
	_, ts := newTestServer(t)

	code, body := do(t, http.MethodGet, ts.URL+"/api/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"status":"ok"`)

	code, body = do(t, http.MethodGet, ts.URL+"/api/houses", "")
	require.Equal(t, http.StatusOK, code)
	var houses []map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &houses))
	assert.Len(t, houses, 12)
	assert.Contains(t, houses[0], "consumptionStatus")
	assert.Contains(t, houses[0], "solarAllocation")

	code, _ = do(t, http.MethodGet, ts.URL+"/api/houses/999", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, http.MethodGet, ts.URL+"/api/houses/abc", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, http.MethodGet, ts.URL+"/api/houses/1/load-shedding", "")
	assert.Equal(t, http.StatusOK, code)
	code, body = do(t, http.MethodGet, ts.URL+"/api/houses/1/savings", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "savingsPercent")
}

func TestAllocationEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	code, body := do(t, http.MethodPut, ts.URL+"/api/houses/1/allocation", `{"percentage":70}`)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"houseId":1,"solarAllocation":70,"totalAllocation":70}`, string(body))

	code, body = do(t, http.MethodPut, ts.URL+"/api/houses/2/allocation", `{"percentage":50}`)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"houseId":2,"solarAllocation":30,"totalAllocation":100}`, string(body))

	code, _ = do(t, http.MethodPut, ts.URL+"/api/houses/2/allocation", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, http.MethodPut, ts.URL+"/api/houses/404/allocation", `{"percentage":1}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, http.MethodPost, ts.URL+"/api/allocation/reset", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestTradeEndpoints(t *testing.T) {
	srv, ts := newTestServer(t)
	eng := srv.sim.Engine()

	var offer trading.Offer
	for _, o := range eng.SellOffers() {
		if !o.IsPlant() {
			offer = o
			break
		}
	}
	require.NotZero(t, offer.ID)
	requests := eng.BuyRequests()
	require.NotEmpty(t, requests)
	req := requests[0]
	offerURL := ts.URL + "/api/market/offers/" + strconv.Itoa(offer.ID) + "/accept"
	requestURL := ts.URL + "/api/market/requests/" + strconv.Itoa(req.ID) + "/accept"

	code, body := do(t, http.MethodPost, offerURL, `{"amount":5}`)
	require.Equal(t, http.StatusOK, code, string(body))
	var tx trading.Transaction
	require.NoError(t, json.Unmarshal(body, &tx))
	assert.Equal(t, trading.Buy, tx.Type)
	assert.Equal(t, 5.0, tx.KWh)

	code, body = do(t, http.MethodPost, requestURL, `{"amount":6}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, string(body), "buy more energy from sellers first")

	code, _ = do(t, http.MethodPost, requestURL, `{"amount":0}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, http.MethodPost, offerURL, `{"amount":100000}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, http.MethodPost, ts.URL+"/api/market/offers/9999/accept", `{"amount":1}`)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, http.MethodPost, offerURL, `not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, http.MethodGet, ts.URL+"/api/market/reserve", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"reserve":5}`, string(body))

	code, body = do(t, http.MethodGet, ts.URL+"/api/market/transactions?type=buy&limit=1", "")
	assert.Equal(t, http.StatusOK, code)
	var txs []trading.Transaction
	require.NoError(t, json.Unmarshal(body, &txs))
	assert.Len(t, txs, 1)

	code, _ = do(t, http.MethodGet, ts.URL+"/api/market/transactions?type=swap", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, http.MethodGet, ts.URL+"/api/market/transactions?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, http.MethodGet, ts.URL+"/api/market/pnl", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "totalBuyVolume")

	code, body = do(t, http.MethodGet, ts.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `microgrid_trades_total{type="buy"} 1`)
}

func TestMarketReads(t *testing.T) {
	_, ts := newTestServer(t)

	for _, path := range []string{"/api/market", "/api/market/offers", "/api/market/requests", "/api/market/prices", "/api/market/sellers", "/api/evs", "/api/plant"} {
		code, _ := do(t, http.MethodGet, ts.URL+path, "")
		assert.Equal(t, http.StatusOK, code, path)
	}

	_, body := do(t, http.MethodGet, ts.URL+"/api/market/prices", "")
	assert.Contains(t, string(body), `"period":"peak"`)
	assert.Contains(t, string(body), `"spreadFixed":"0.6"`)
	assert.Contains(t, string(body), `"spreadTou":"1"`)
}

func TestTradeErrorStatus(t *testing.T) {
	srv := &Server{log: zap.NewNop()}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown offer", fmt.Errorf("%w: 9", trading.ErrOfferNotFound), http.StatusNotFound},
		{"unknown request", trading.ErrRequestNotFound, http.StatusNotFound},
		{"reserve", &trading.ReserveError{Available: 1, Requested: 2}, http.StatusConflict},
		{"invalid amount", trading.ErrInvalidAmount, http.StatusBadRequest},
		{"exceeds", trading.ErrExceedsAvailable, http.StatusBadRequest},
		{"persist", fmt.Errorf("%w: disk full", trading.ErrPersist), http.StatusInternalServerError},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.respondTradeError(w, tt.err)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), tt.err.Error())
		})
	}
}

func TestHistoryCSV(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/houses/1/history.csv?period=monthly")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "energy_data_house_1_monthly.csv")
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.HasPrefix(string(body), "month,consumption_kwh\n"))

	code, _ := do(t, http.MethodGet, ts.URL+"/api/houses/1/history.csv?period=weekly", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestWebsocketReceivesEvents(t *testing.T) {
	srv, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	code, _ := do(t, http.MethodPost, ts.URL+"/api/allocation/reset", "")
	require.Equal(t, http.StatusOK, code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var e simulation.Event
	require.NoError(t, json.Unmarshal(msg, &e))
	assert.Equal(t, simulation.AllocationChanged, e.Type)
}

func TestHubDropsForSlowClients(t *testing.T) {
	h := NewHub(nil)
	c := &client{hub: h, send: make(chan []byte, 1)}
	h.register(c)

	h.OnEvent(simulation.Event{Type: simulation.DataChanged})
	h.OnEvent(simulation.Event{Type: simulation.DataChanged})
	assert.Len(t, c.send, 1)

	h.unregister(c)
	assert.Equal(t, 0, h.ClientCount())
}
