// Package market defines the marketplace domain: insights, purchases,
// ratings, creator reputation and category statistics.
package market

import (
	"math/big"
	"time"

	"github.com/insightmesh/market_layer/internal/app/domain/token"
)

// RatingScale is the fixed-point multiplier applied to ratings so averages
// avoid fractional arithmetic. A rater's 1-5 input is stored as 100-500.
const RatingScale = 100

// Insight is a listing published by a creator. Insights are never deleted;
// deactivation is the terminal soft state.
type Insight struct {
	ID          uint64        `json:"id"`
	Creator     token.Address `json:"creator"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Price       *big.Int      `json:"price"`        // base units, > 0
	AccessCount uint64        `json:"access_count"` // successful purchases
	AvgRating   uint32        `json:"avg_rating"`   // scaled by RatingScale, 0 when unrated
	RatingCount uint64        `json:"rating_count"`
	Active      bool          `json:"active"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Purchase is an immutable record of a completed sale.
type Purchase struct {
	InsightID uint64        `json:"insight_id"`
	Buyer     token.Address `json:"buyer"`
	Price     *big.Int      `json:"price"` // price paid, base units
	Timestamp time.Time     `json:"timestamp"`
}

// Reputation aggregates per-creator statistics. TotalEarned counts tokens
// received as a creator, TotalSpent tokens paid as a buyer.
type Reputation struct {
	Address          token.Address `json:"address"`
	ListingsCreated  uint64        `json:"listings_created"`
	Purchased        uint64        `json:"purchased"`
	TotalEarned      *big.Int      `json:"total_earned"`
	TotalSpent       *big.Int      `json:"total_spent"`
	AvgCreatorRating uint32        `json:"avg_creator_rating"` // scaled by RatingScale
	TopCreator       bool          `json:"top_creator"`
}

// CategoryStats tracks monotonically increasing per-category totals.
type CategoryStats struct {
	Category string   `json:"category"`
	Listings uint64   `json:"listings"`
	Volume   *big.Int `json:"volume"` // cumulative purchase volume, base units
}

// Top-creator thresholds. A creator qualifies when all three hold.
const (
	TopCreatorMinListings = 10
	TopCreatorMinRating   = 4 * RatingScale
)

// TopCreatorMinEarned returns the earnings threshold (100 whole tokens).
func TopCreatorMinEarned() *big.Int {
	return token.Units(100)
}

// NewReputation returns an empty reputation record for the address.
func NewReputation(addr token.Address) Reputation {
	return Reputation{
		Address:     addr,
		TotalEarned: new(big.Int),
		TotalSpent:  new(big.Int),
	}
}

// CloneReputation returns a deep copy of the record.
func CloneReputation(r Reputation) Reputation {
	r.TotalEarned = token.Clone(r.TotalEarned)
	r.TotalSpent = token.Clone(r.TotalSpent)
	return r
}

// CloneInsight returns a deep copy of the listing.
func CloneInsight(in Insight) Insight {
	in.Price = token.Clone(in.Price)
	return in
}

// ClonePurchase returns a deep copy of the record.
func ClonePurchase(p Purchase) Purchase {
	p.Price = token.Clone(p.Price)
	return p
}

// CloneCategoryStats returns a deep copy of the record.
func CloneCategoryStats(c CategoryStats) CategoryStats {
	c.Volume = token.Clone(c.Volume)
	return c
}
