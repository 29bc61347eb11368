package trading

import (
	"math"

	"github.com/shopspring/decimal"
)

// Totals are the running aggregates of the transaction log.
type Totals struct {
	BuyCount      int
	SellCount     int
	BuyVolumeKWh  float64
	SellVolumeKWh float64
	BuyCost       decimal.Decimal
	SellRevenue   decimal.Decimal
}

// Apply folds one transaction into t.
func (t *Totals) Apply(tx Transaction) {
	switch tx.Type {
	case Buy:
		t.BuyCount++
		t.BuyVolumeKWh += tx.KWh
		t.BuyCost = t.BuyCost.Add(tx.Total)
	case Sell:
		t.SellCount++
		t.SellVolumeKWh += tx.KWh
		t.SellRevenue = t.SellRevenue.Add(tx.Total)
	}
}

// Recompute aggregates the full log from scratch.
func Recompute(txs []Transaction) Totals {
	var t Totals
	for _, tx := range txs {
		t.Apply(tx)
	}
	return t
}

// Reserve is the energy the pool holds: bought minus sold.
func (t Totals) Reserve() float64 {
	r := t.BuyVolumeKWh - t.SellVolumeKWh
	if math.Abs(r) < epsilon {
		return 0
	}
	return r
}

// ProfitAndLoss summarises the pool's trading result.
type ProfitAndLoss struct {
	BuyVolumeKWh     float64         `json:"totalBuyVolume"`
	BuyCost          decimal.Decimal `json:"totalBuyCost"`
	SellVolumeKWh    float64         `json:"totalSellVolume"`
	SellRevenue      decimal.Decimal `json:"totalSellRevenue"`
	NetProfit        decimal.Decimal `json:"netProfit"`
	EnergyHoldingKWh float64         `json:"energyHolding"`
	MarginPercent    float64         `json:"profitMargin"`
	BuyCount         int             `json:"buyCount"`
	SellCount        int             `json:"sellCount"`
}

func (t Totals) ProfitAndLoss() ProfitAndLoss {
	net := t.SellRevenue.Sub(t.BuyCost)

	var margin float64
	if !t.SellRevenue.IsZero() {
		margin = net.Div(t.SellRevenue).Mul(decimal.NewFromInt(100)).InexactFloat64()
		if math.IsNaN(margin) || math.IsInf(margin, 0) {
			margin = 0
		}
	}

	return ProfitAndLoss{
		BuyVolumeKWh:     t.BuyVolumeKWh,
		BuyCost:          t.BuyCost,
		SellVolumeKWh:    t.SellVolumeKWh,
		SellRevenue:      t.SellRevenue,
		NetProfit:        net,
		EnergyHoldingKWh: t.Reserve(),
		MarginPercent:    margin,
		BuyCount:         t.BuyCount,
		SellCount:        t.SellCount,
	}
}
