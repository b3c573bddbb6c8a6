// Package memory provides the in-memory implementation of the storage
// interfaces: a single serializable arena of accounts and listings guarded
// by one lock, with clone-on-return so no caller can mutate stored state
// behind the store's back.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/insightmesh/market_layer/internal/app/domain/market"
	"github.com/insightmesh/market_layer/internal/app/domain/token"
	"github.com/insightmesh/market_layer/internal/app/storage"
)

// ErrInsightNotFound is returned for lookups of identifiers that were never
// assigned.
var ErrInsightNotFound = fmt.Errorf("insight not found")

// Store is an in-memory implementation of TokenStore and MarketStore. It is
// safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	// token ledger state
	balances    map[token.Address]*big.Int
	allowances  map[token.Address]map[token.Address]*big.Int
	minters     map[token.Address]bool
	totalSupply *big.Int
	admin       token.Address

	// marketplace state
	nextInsightID uint64
	insights      map[uint64]market.Insight
	byCategory    map[string][]uint64
	byCreator     map[token.Address][]uint64
	purchases     map[uint64][]market.Purchase
	allPurchases  []market.Purchase
	ratings       map[uint64][]uint32
	reputations   map[token.Address]market.Reputation
	categories    map[string]market.CategoryStats
}

var _ storage.TokenStore = (*Store)(nil)
var _ storage.MarketStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		balances:      make(map[token.Address]*big.Int),
		allowances:    make(map[token.Address]map[token.Address]*big.Int),
		minters:       make(map[token.Address]bool),
		totalSupply:   new(big.Int),
		nextInsightID: 1,
		insights:      make(map[uint64]market.Insight),
		byCategory:    make(map[string][]uint64),
		byCreator:     make(map[token.Address][]uint64),
		purchases:     make(map[uint64][]market.Purchase),
		ratings:       make(map[uint64][]uint32),
		reputations:   make(map[token.Address]market.Reputation),
		categories:    make(map[string]market.CategoryStats),
	}
}

// TokenStore implementation --------------------------------------------------

func (s *Store) Balance(_ context.Context, addr token.Address) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return token.Clone(s.balances[addr]), nil
}

func (s *Store) SetBalance(_ context.Context, addr token.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[addr] = token.Clone(amount)
	return nil
}

func (s *Store) TotalSupply(_ context.Context) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return token.Clone(s.totalSupply), nil
}

func (s *Store) SetTotalSupply(_ context.Context, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalSupply = token.Clone(amount)
	return nil
}

func (s *Store) Allowance(_ context.Context, owner, spender token.Address) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return token.Clone(s.allowances[owner][spender]), nil
}

func (s *Store) SetAllowance(_ context.Context, owner, spender token.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allowances[owner] == nil {
		s.allowances[owner] = make(map[token.Address]*big.Int)
	}
	s.allowances[owner][spender] = token.Clone(amount)
	return nil
}

func (s *Store) IsMinter(_ context.Context, addr token.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minters[addr], nil
}

func (s *Store) SetMinter(_ context.Context, addr token.Address, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if allowed {
		s.minters[addr] = true
	} else {
		delete(s.minters, addr)
	}
	return nil
}

func (s *Store) Admin(_ context.Context) (token.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admin, nil
}

func (s *Store) SetAdmin(_ context.Context, addr token.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admin = addr
	return nil
}

// MarketStore implementation -------------------------------------------------

func (s *Store) CreateInsight(_ context.Context, in market.Insight) (market.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in.ID = s.nextInsightID
	s.nextInsightID++

	s.insights[in.ID] = market.CloneInsight(in)
	s.byCategory[in.Category] = append(s.byCategory[in.Category], in.ID)
	s.byCreator[in.Creator] = append(s.byCreator[in.Creator], in.ID)
	return market.CloneInsight(in), nil
}

func (s *Store) GetInsight(_ context.Context, id uint64) (market.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.insights[id]
	if !ok {
		return market.Insight{}, ErrInsightNotFound
	}
	return market.CloneInsight(in), nil
}

func (s *Store) UpdateInsight(_ context.Context, in market.Insight) (market.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.insights[in.ID]; !ok {
		return market.Insight{}, ErrInsightNotFound
	}
	s.insights[in.ID] = market.CloneInsight(in)
	return market.CloneInsight(in), nil
}

func (s *Store) ListInsightsByCategory(_ context.Context, category string) ([]market.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byCategory[category]), nil
}

func (s *Store) ListInsightsByCreator(_ context.Context, creator token.Address) ([]market.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byCreator[creator]), nil
}

func (s *Store) collectLocked(ids []uint64) []market.Insight {
	result := make([]market.Insight, 0, len(ids))
	for _, id := range ids {
		if in, ok := s.insights[id]; ok {
			result = append(result, market.CloneInsight(in))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *Store) CountInsights(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextInsightID - 1, nil
}

func (s *Store) AppendPurchase(_ context.Context, p market.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p = market.ClonePurchase(p)
	s.purchases[p.InsightID] = append(s.purchases[p.InsightID], p)
	s.allPurchases = append(s.allPurchases, p)
	return nil
}

func (s *Store) ListPurchasesByInsight(_ context.Context, insightID uint64) ([]market.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePurchases(s.purchases[insightID]), nil
}

func (s *Store) ListPurchases(_ context.Context) ([]market.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePurchases(s.allPurchases), nil
}

func (s *Store) AppendRating(_ context.Context, insightID uint64, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[insightID] = append(s.ratings[insightID], value)
	return nil
}

func (s *Store) ListRatings(_ context.Context, insightID uint64) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ratings := s.ratings[insightID]
	result := make([]uint32, len(ratings))
	copy(result, ratings)
	return result, nil
}

func (s *Store) GetReputation(_ context.Context, addr token.Address) (market.Reputation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rep, ok := s.reputations[addr]
	if !ok {
		return market.NewReputation(addr), nil
	}
	return market.CloneReputation(rep), nil
}

func (s *Store) SetReputation(_ context.Context, rep market.Reputation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reputations[rep.Address] = market.CloneReputation(rep)
	return nil
}

func (s *Store) GetCategoryStats(_ context.Context, category string) (market.CategoryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.categories[category]
	if !ok {
		return market.CategoryStats{Category: category, Volume: new(big.Int)}, nil
	}
	return market.CloneCategoryStats(stats), nil
}

func (s *Store) SetCategoryStats(_ context.Context, stats market.CategoryStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[stats.Category] = market.CloneCategoryStats(stats)
	return nil
}

func clonePurchases(src []market.Purchase) []market.Purchase {
	result := make([]market.Purchase, len(src))
	for i, p := range src {
		result[i] = market.ClonePurchase(p)
	}
	return result
}
