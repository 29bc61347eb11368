package trading

import (
	"math"
	"strconv"
	"strings"

	"github.com/awaistahir/microgrid/internal/grid"
	"github.com/awaistahir/microgrid/internal/tariff"
)

// Rules drive the random evolution of the book.
type Rules struct {
	MaxEntries        int
	MinEntries        int
	AddOfferProb      float64
	AddRequestProb    float64
	RemoveOfferProb   float64
	RemoveRequestProb float64
}

func DefaultRules() Rules {
	return Rules{
		MaxEntries:        15,
		MinEntries:        3,
		AddOfferProb:      0.3,
		AddRequestProb:    0.3,
		RemoveOfferProb:   0.15,
		RemoveRequestProb: 0.15,
	}
}

type company struct {
	name        string
	amount      float64
	description string
}

// Companies on the book when the market is first created.
var initialCompanies = []company{
	{"SolarTech Co., Ltd.", 500, "Solar farm provider"},
	{"GreenPower Corp.", 750, "Renewable energy"},
	{"EcoEnergy Thailand", 300, "Clean energy solutions"},
	{"Bangkok Solar Ltd.", 1000, "Large scale solar"},
}

// Companies that may show up later with a new offer.
var arrivingCompanies = []company{
	{"SolarTech Co., Ltd.", 500, ""},
	{"GreenPower Corp.", 750, ""},
	{"EcoEnergy Thailand", 300, ""},
	{"Siam Solar", 450, ""},
	{"Clean Watts", 600, ""},
}

// Thresholds used when the book is synthesized from the community.
const (
	minHouseSurplusKWh = 10
	highConsumptionKWh = 400
	defaultHousePanels = 5
	companyOfferShare  = 0.6
)

// synthesize builds a fresh book from the community. Callers hold e.mu.
func (e *Engine) synthesize() {
	e.book = Book{NextID: 1}
	now := e.now()

	for _, p := range e.roster {
		if p.SolarPanels <= 0 {
			continue
		}
		surplus := grid.MonthlySolarProduction(p.SolarPanels) - p.MonthlyConsumptionKWh
		if surplus > minHouseSurplusKWh {
			amount := math.Round(surplus)
			e.book.SellOffers = append(e.book.SellOffers, Offer{
				ID:        e.nextID(),
				Seller:    HouseSeller{HouseID: p.ID, Name: p.Name, SolarPanels: p.SolarPanels},
				Amount:    amount,
				Remaining: amount,
				CreatedAt: now,
			})
		}
	}

	for _, c := range initialCompanies {
		e.book.SellOffers = append(e.book.SellOffers, Offer{
			ID:        e.nextID(),
			Seller:    CompanySeller{Ref: slug(c.name), Name: c.name, Description: c.description},
			Amount:    c.amount,
			Remaining: c.amount,
			CreatedAt: now,
		})
	}

	for _, p := range e.roster {
		if p.SolarPanels > 0 && p.MonthlyConsumptionKWh <= highConsumptionKWh {
			continue
		}
		mode := e.randomMode()
		amount := math.Round(p.MonthlyConsumptionKWh * (0.3 + e.rng.Float64()*0.4))
		e.book.BuyRequests = append(e.book.BuyRequests, BuyRequest{
			ID:                    e.nextID(),
			HouseID:               p.ID,
			BuyerName:             p.Name,
			Amount:                amount,
			Remaining:             amount,
			Mode:                  mode,
			MonthlyConsumptionKWh: p.MonthlyConsumptionKWh,
			CreatedAt:             now,
		})
	}
}

// randomOffer is a company offer 60% of the time, otherwise a house offer
// of 50-200 kWh.
func (e *Engine) randomOffer() Offer {
	id := e.nextID()
	o := Offer{ID: id, CreatedAt: e.now()}

	if len(e.roster) == 0 || e.rng.Float64() < companyOfferShare {
		c := arrivingCompanies[e.rng.Intn(len(arrivingCompanies))]
		o.Seller = CompanySeller{
			Ref:         slug(c.name) + "-" + strconv.Itoa(id),
			Name:        c.name,
			Description: "New offer",
		}
		o.Amount = math.Round(c.amount * (0.8 + e.rng.Float64()*0.4))
	} else {
		p := e.roster[e.rng.Intn(len(e.roster))]
		panels := p.SolarPanels
		if panels == 0 {
			panels = defaultHousePanels
		}
		o.Seller = HouseSeller{HouseID: p.ID, Name: p.Name, SolarPanels: panels}
		o.Amount = math.Round(50 + e.rng.Float64()*150)
	}
	o.Remaining = o.Amount
	return o
}

// randomRequest is a 100-300 kWh request from a random house. It returns
// false when there are no houses.
func (e *Engine) randomRequest() (BuyRequest, bool) {
	if len(e.roster) == 0 {
		return BuyRequest{}, false
	}
	p := e.roster[e.rng.Intn(len(e.roster))]
	mode := e.randomMode()
	amount := math.Round(100 + e.rng.Float64()*200)
	return BuyRequest{
		ID:                    e.nextID(),
		HouseID:               p.ID,
		BuyerName:             p.Name,
		Amount:                amount,
		Remaining:             amount,
		Mode:                  mode,
		MonthlyConsumptionKWh: p.MonthlyConsumptionKWh,
		CreatedAt:             e.now(),
	}, true
}

func (e *Engine) randomMode() tariff.Mode {
	if e.rng.Float64() > 0.5 {
		return tariff.TOU
	}
	return tariff.Fixed
}

func (e *Engine) nextID() int {
	if e.book.NextID <= 0 {
		e.book.NextID = 1
	}
	id := e.book.NextID
	e.book.NextID++
	return id
}

func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
		} else if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
