package trading

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/awaistahir/microgrid/internal/grid"
	"github.com/awaistahir/microgrid/internal/tariff"
)

// The pool is the counterparty of every trade.
const (
	PoolID   = "pool"
	PoolName = "Gearlaxy Pool"
)

// SellerKind discriminates the Seller variants on the wire.
type SellerKind string

const (
	KindHouse   SellerKind = "house"
	KindCompany SellerKind = "company"
	KindPlant   SellerKind = "plant"
)

// Seller is who stands behind a sell offer.
type Seller interface {
	Kind() SellerKind
	SellerID() string
	DisplayName() string
}

// HouseSeller is a household selling its solar surplus.
type HouseSeller struct {
	HouseID     int    `json:"houseId"`
	Name        string `json:"name"`
	SolarPanels int    `json:"solarPanels"`
}

func (HouseSeller) Kind() SellerKind      { return KindHouse }
func (s HouseSeller) SellerID() string    { return fmt.Sprintf("house-%d", s.HouseID) }
func (s HouseSeller) DisplayName() string { return s.Name }

// CompanySeller is an external energy company.
type CompanySeller struct {
	Ref         string `json:"ref"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (CompanySeller) Kind() SellerKind      { return KindCompany }
func (s CompanySeller) SellerID() string    { return "ext-" + s.Ref }
func (s CompanySeller) DisplayName() string { return s.Name }

// PlantSeller is the community's central solar plant.
type PlantSeller struct{}

const (
	PlantSellerID   = "central-solar-system"
	PlantSellerName = "Central Solar System"
)

func (PlantSeller) Kind() SellerKind    { return KindPlant }
func (PlantSeller) SellerID() string    { return PlantSellerID }
func (PlantSeller) DisplayName() string { return PlantSellerName }

// Offer is energy offered to the pool.
type Offer struct {
	ID        int
	Seller    Seller
	Amount    float64 // as offered
	Remaining float64
	CreatedAt time.Time
}

// External reports whether the seller is outside the community's
// households. Companies and the plant are external.
func (o Offer) External() bool {
	return o.Seller != nil && o.Seller.Kind() != KindHouse
}

func (o Offer) IsPlant() bool {
	return o.Seller != nil && o.Seller.Kind() == KindPlant
}

type offerJSON struct {
	ID         int             `json:"id"`
	Kind       SellerKind      `json:"kind"`
	SellerID   string          `json:"sellerId"`
	SellerName string          `json:"sellerName"`
	Seller     json.RawMessage `json:"seller"`
	Amount     float64         `json:"amount"`
	Remaining  float64         `json:"remaining"`
	External   bool            `json:"isExternal"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func (o Offer) MarshalJSON() ([]byte, error) {
	if o.Seller == nil {
		return nil, fmt.Errorf("offer %d has no seller", o.ID)
	}
	seller, err := json.Marshal(o.Seller)
	if err != nil {
		return nil, err
	}
	return json.Marshal(offerJSON{
		ID:         o.ID,
		Kind:       o.Seller.Kind(),
		SellerID:   o.Seller.SellerID(),
		SellerName: o.Seller.DisplayName(),
		Seller:     seller,
		Amount:     o.Amount,
		Remaining:  o.Remaining,
		External:   o.External(),
		CreatedAt:  o.CreatedAt,
	})
}

func (o *Offer) UnmarshalJSON(b []byte) error {
	var raw offerJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var seller Seller
	switch raw.Kind {
	case KindHouse:
		var s HouseSeller
		if err := json.Unmarshal(raw.Seller, &s); err != nil {
			return fmt.Errorf("offer %d: %w", raw.ID, err)
		}
		seller = s
	case KindCompany:
		var s CompanySeller
		if err := json.Unmarshal(raw.Seller, &s); err != nil {
			return fmt.Errorf("offer %d: %w", raw.ID, err)
		}
		seller = s
	case KindPlant:
		seller = PlantSeller{}
	default:
		return fmt.Errorf("offer %d: unknown seller kind %q", raw.ID, raw.Kind)
	}

	*o = Offer{
		ID:        raw.ID,
		Seller:    seller,
		Amount:    raw.Amount,
		Remaining: raw.Remaining,
		CreatedAt: raw.CreatedAt,
	}
	return nil
}

// BuyRequest is energy a household wants to buy from the pool.
type BuyRequest struct {
	ID                    int         `json:"id"`
	HouseID               int         `json:"buyerId"`
	BuyerName             string      `json:"buyerName"`
	Amount                float64     `json:"amount"`
	Remaining             float64     `json:"remaining"`
	Mode                  tariff.Mode `json:"priceMode"`
	MonthlyConsumptionKWh float64     `json:"monthlyConsumption"`
	CreatedAt             time.Time   `json:"createdAt"`
}

func (r BuyRequest) BuyerID() string {
	return fmt.Sprintf("house-%d", r.HouseID)
}

// TxType is the pool's side of a trade.
type TxType string

const (
	Buy  TxType = "buy"  // pool bought from a seller
	Sell TxType = "sell" // pool sold to a buyer
)

// Transaction is one executed trade. Transactions are append-only.
type Transaction struct {
	ID         uuid.UUID       `json:"id"`
	Type       TxType          `json:"type"`
	OfferID    int             `json:"offerId,omitempty"`
	RequestID  int             `json:"requestId,omitempty"`
	SellerID   string          `json:"sellerId"`
	SellerName string          `json:"sellerName"`
	BuyerID    string          `json:"buyerId"`
	BuyerName  string          `json:"buyerName"`
	KWh        float64         `json:"kWh"`
	UnitPrice  decimal.Decimal `json:"price"`
	Total      decimal.Decimal `json:"total"`
	Mode       tariff.Mode     `json:"pricingMode"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Side says which list of the book a replacement goes to.
type Side string

const (
	SideOffer   Side = "offer"
	SideRequest Side = "request"
)

// Replacement is a pending birth of a new offer or request, scheduled when
// one was fully consumed.
type Replacement struct {
	Side Side      `json:"side"`
	Due  time.Time `json:"due"`
}

// Book is the persisted state of the market.
type Book struct {
	SellOffers  []Offer       `json:"sellOffers"`
	BuyRequests []BuyRequest  `json:"buyRequests"`
	NextID      int           `json:"offerIdCounter"`
	Pending     []Replacement `json:"pending"`
}

func (b Book) Clone() Book {
	return Book{
		SellOffers:  append([]Offer(nil), b.SellOffers...),
		BuyRequests: append([]BuyRequest(nil), b.BuyRequests...),
		NextID:      b.NextID,
		Pending:     append([]Replacement(nil), b.Pending...),
	}
}

// Participant is the slice of a household the market needs.
type Participant struct {
	ID                    int
	Name                  string
	SolarPanels           int
	MonthlyConsumptionKWh float64
}

// ParticipantsFrom extracts the market view of houses.
func ParticipantsFrom(houses []grid.Household) []Participant {
	out := make([]Participant, len(houses))
	for i, h := range houses {
		out[i] = Participant{
			ID:                    h.ID,
			Name:                  h.Name,
			SolarPanels:           h.SolarPanels,
			MonthlyConsumptionKWh: h.MonthlyConsumptionKWh,
		}
	}
	return out
}
