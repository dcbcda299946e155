package ledger

import "time"

type PropertyStatus string

const (
	StatusAvailable         PropertyStatus = "available"
	StatusUnderConstruction PropertyStatus = "under_construction"
	StatusSoldOut           PropertyStatus = "sold_out"
)

// Property is one catalog listing. Fields mirror the remote registry; the
// client never mutates a Property outside a full catalog refresh.
type Property struct {
	ID              int64          `json:"id"`
	Title           string         `json:"title"`
	Location        string         `json:"location"`
	Description     string         `json:"description"`
	PriceTotal      float64        `json:"price_total"`
	TokenPrice      float64        `json:"token_price"`
	TotalTokens     int64          `json:"total_tokens"`
	AvailableTokens int64          `json:"available_tokens"`
	SoldTokens      int64          `json:"sold_tokens"`
	Status          PropertyStatus `json:"status"`
	Bedrooms        int            `json:"bedrooms"`
	Bathrooms       int            `json:"bathrooms"`
	AreaSqm         float64        `json:"area_sqm"`
	ImageURL        string         `json:"image_url,omitempty"`
}

// TokenAccountingConsistent reports whether available + sold adds up to the
// total supply. The server enforces this; a violation here is a data anomaly
// worth logging, not a reason to fail a refresh.
func (p Property) TokenAccountingConsistent() bool {
	return p.AvailableTokens+p.SoldTokens == p.TotalTokens
}

// TokenBalance is one holding of the calling principal.
type TokenBalance struct {
	PropertyID int64 `json:"property_id"`
	Amount     int64 `json:"amount"`
}

// Transaction is one settled ledger entry in the caller's history.
type Transaction struct {
	ID           int64     `json:"id"`
	Kind         string    `json:"kind"` // buy | transfer_in | transfer_out
	PropertyID   int64     `json:"property_id"`
	Amount       int64     `json:"amount"`
	Counterparty string    `json:"counterparty,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
