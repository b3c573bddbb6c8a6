package storage

import (
	"context"
	"math/big"

	"github.com/insightmesh/market_layer/internal/app/domain/market"
	"github.com/insightmesh/market_layer/internal/app/domain/token"
)

// TokenStore persists the value token ledger state. Implementations return
// defensive copies; callers never share big.Int pointers with the store.
// Unknown addresses read as zero balances and zero allowances.
type TokenStore interface {
	Balance(ctx context.Context, addr token.Address) (*big.Int, error)
	SetBalance(ctx context.Context, addr token.Address, amount *big.Int) error

	TotalSupply(ctx context.Context) (*big.Int, error)
	SetTotalSupply(ctx context.Context, amount *big.Int) error

	Allowance(ctx context.Context, owner, spender token.Address) (*big.Int, error)
	SetAllowance(ctx context.Context, owner, spender token.Address, amount *big.Int) error

	IsMinter(ctx context.Context, addr token.Address) (bool, error)
	SetMinter(ctx context.Context, addr token.Address, allowed bool) error

	Admin(ctx context.Context) (token.Address, error)
	SetAdmin(ctx context.Context, addr token.Address) error
}

// MarketStore persists listings, purchase history, ratings, reputation and
// category statistics.
type MarketStore interface {
	// CreateInsight assigns the next monotonically increasing identifier
	// (starting at 1, never reused) and stores the listing.
	CreateInsight(ctx context.Context, in market.Insight) (market.Insight, error)
	GetInsight(ctx context.Context, id uint64) (market.Insight, error)
	UpdateInsight(ctx context.Context, in market.Insight) (market.Insight, error)
	ListInsightsByCategory(ctx context.Context, category string) ([]market.Insight, error)
	ListInsightsByCreator(ctx context.Context, creator token.Address) ([]market.Insight, error)
	CountInsights(ctx context.Context) (uint64, error)

	// AppendPurchase records an immutable purchase in both the per-listing
	// and global histories.
	AppendPurchase(ctx context.Context, p market.Purchase) error
	ListPurchasesByInsight(ctx context.Context, insightID uint64) ([]market.Purchase, error)
	ListPurchases(ctx context.Context) ([]market.Purchase, error)

	// AppendRating appends a scaled rating value to the listing's ordered
	// sequence.
	AppendRating(ctx context.Context, insightID uint64, value uint32) error
	ListRatings(ctx context.Context, insightID uint64) ([]uint32, error)

	GetReputation(ctx context.Context, addr token.Address) (market.Reputation, error)
	SetReputation(ctx context.Context, rep market.Reputation) error

	GetCategoryStats(ctx context.Context, category string) (market.CategoryStats, error)
	SetCategoryStats(ctx context.Context, stats market.CategoryStats) error
}
