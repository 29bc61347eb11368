package trading

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahir/microgrid/internal/tariff"
)

func TestRunningTotalsMatchRecompute(t *testing.T) {
	book := &Book{
		SellOffers:  []Offer{companyOffer(1, 1000)},
		BuyRequests: []BuyRequest{{ID: 2, HouseID: 2, Amount: 1000, Remaining: 1000, Mode: tariff.TOU}},
		NextID:      3,
	}
	f := newFixture(t, book, nil, Rules{})
	ctx := context.Background()

	steps := []struct {
		buy bool
		kWh float64
	}{
		{true, 120.5}, {false, 40.25}, {true, 10}, {false, 80}, {false, 5.5}, {true, 0.75},
	}
	for _, s := range steps {
		var err error
		if s.buy {
			_, err = f.engine.AcceptSellOffer(ctx, 1, s.kWh)
		} else {
			_, err = f.engine.AcceptBuyRequest(ctx, 2, s.kWh)
		}
		require.NoError(t, err)
		assert.GreaterOrEqual(t, f.engine.Reserve(), 0.0)
	}

	running := f.engine.Totals()
	full := Recompute(f.repo.txs)
	assert.Equal(t, full.BuyCount, running.BuyCount)
	assert.Equal(t, full.SellCount, running.SellCount)
	assert.InDelta(t, full.BuyVolumeKWh, running.BuyVolumeKWh, 1e-9)
	assert.InDelta(t, full.SellVolumeKWh, running.SellVolumeKWh, 1e-9)
	assert.True(t, full.BuyCost.Equal(running.BuyCost))
	assert.True(t, full.SellRevenue.Equal(running.SellRevenue))
	assert.InDelta(t, 5.5, running.Reserve(), 1e-9)
}

func TestProfitAndLoss(t *testing.T) {
	txs := []Transaction{
		buyTx(100), // 400 THB
		{Type: Sell, KWh: 50, UnitPrice: decimal.NewFromFloat(4.6), Total: decimal.NewFromInt(230)},
		{Type: Sell, KWh: 20, UnitPrice: decimal.NewFromFloat(5.5), Total: decimal.NewFromInt(110)},
	}
	pnl := Recompute(txs).ProfitAndLoss()

	assert.Equal(t, 100.0, pnl.BuyVolumeKWh)
	assert.Equal(t, 70.0, pnl.SellVolumeKWh)
	assert.True(t, pnl.BuyCost.Equal(decimal.NewFromInt(400)))
	assert.True(t, pnl.SellRevenue.Equal(decimal.NewFromInt(340)))
	assert.True(t, pnl.NetProfit.Equal(decimal.NewFromInt(-60)), pnl.NetProfit.String())
	assert.Equal(t, 30.0, pnl.EnergyHoldingKWh)
	assert.InDelta(t, -17.647, pnl.MarginPercent, 0.001)
	assert.Equal(t, 1, pnl.BuyCount)
	assert.Equal(t, 2, pnl.SellCount)
}

func TestProfitAndLossWithoutRevenue(t *testing.T) {
	pnl := Recompute([]Transaction{buyTx(10)}).ProfitAndLoss()
	assert.Zero(t, pnl.MarginPercent)
	assert.True(t, pnl.NetProfit.Equal(decimal.NewFromInt(-40)))

	empty := Totals{}.ProfitAndLoss()
	assert.Zero(t, empty.MarginPercent)
	assert.Zero(t, empty.EnergyHoldingKWh)
}

func TestOfferJSONKeepsSellerVariant(t *testing.T) {
	book := Book{
		SellOffers: []Offer{
			{ID: 1, Seller: PlantSeller{}, Amount: 30, Remaining: 30},
			{ID: 2, Seller: HouseSeller{HouseID: 4, Name: "House No. 104", SolarPanels: 6}, Amount: 80, Remaining: 55},
			{ID: 3, Seller: CompanySeller{Ref: "siam-solar-3", Name: "Siam Solar", Description: "New offer"}, Amount: 450, Remaining: 450},
		},
		BuyRequests: []BuyRequest{{ID: 4, HouseID: 2, BuyerName: "House No. 102", Amount: 100, Remaining: 100, Mode: tariff.TOU}},
		NextID:      5,
		Pending:     []Replacement{{Side: SideOffer}},
	}

	b, err := json.Marshal(book)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"offerIdCounter":5`)
	assert.Contains(t, string(b), `"sellerId":"central-solar-system"`)
	assert.Contains(t, string(b), `"isExternal":false`)

	var got Book
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, book, got)
}

func TestOfferJSONRejectsUnknownKind(t *testing.T) {
	var o Offer
	err := json.Unmarshal([]byte(`{"id":1,"kind":"alien","seller":{}}`), &o)
	assert.Error(t, err)

	var m tariff.Mode
	assert.Error(t, json.Unmarshal([]byte(`"hourly"`), &m))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "solartech-co-ltd", slug("SolarTech Co., Ltd."))
	assert.Equal(t, "ecoenergy-thailand", slug("EcoEnergy Thailand"))
}
