package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/insightmesh/market_layer/internal/app/domain/market"
	"github.com/insightmesh/market_layer/internal/app/domain/token"
)

func TestStore_TokenState(t *testing.T) {
	ctx := context.Background()
	store := New()

	t.Run("unknown balances read as zero", func(t *testing.T) {
		balance, err := store.Balance(ctx, "nobody")
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if balance.Sign() != 0 {
			t.Fatalf("expected zero, got %s", balance)
		}
	})

	t.Run("balances are cloned on both sides", func(t *testing.T) {
		amount := big.NewInt(100)
		if err := store.SetBalance(ctx, "alice", amount); err != nil {
			t.Fatalf("set balance: %v", err)
		}
		amount.SetInt64(7) // mutate caller's copy

		stored, _ := store.Balance(ctx, "alice")
		if stored.Int64() != 100 {
			t.Fatalf("store shared caller's value: %s", stored)
		}
		stored.SetInt64(8) // mutate returned copy
		again, _ := store.Balance(ctx, "alice")
		if again.Int64() != 100 {
			t.Fatalf("store shared returned value: %s", again)
		}
	})

	t.Run("allowances", func(t *testing.T) {
		if err := store.SetAllowance(ctx, "alice", "bob", big.NewInt(5)); err != nil {
			t.Fatalf("set allowance: %v", err)
		}
		got, _ := store.Allowance(ctx, "alice", "bob")
		if got.Int64() != 5 {
			t.Fatalf("allowance: got %s want 5", got)
		}
		missing, _ := store.Allowance(ctx, "bob", "alice")
		if missing.Sign() != 0 {
			t.Fatalf("unknown allowance should be zero, got %s", missing)
		}
	})

	t.Run("minters", func(t *testing.T) {
		if err := store.SetMinter(ctx, "m", true); err != nil {
			t.Fatalf("set minter: %v", err)
		}
		if ok, _ := store.IsMinter(ctx, "m"); !ok {
			t.Fatal("minter not recorded")
		}
		if err := store.SetMinter(ctx, "m", false); err != nil {
			t.Fatalf("clear minter: %v", err)
		}
		if ok, _ := store.IsMinter(ctx, "m"); ok {
			t.Fatal("minter not cleared")
		}
	})
}

func TestStore_InsightLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New()

	first, err := store.CreateInsight(ctx, market.Insight{
		Creator:  "creator",
		Title:    "a",
		Category: "LEARNING",
		Price:    big.NewInt(10),
		Active:   true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID != 1 {
		t.Fatalf("first id: got %d want 1", first.ID)
	}

	second, _ := store.CreateInsight(ctx, market.Insight{
		Creator:  "creator",
		Title:    "b",
		Category: "LEARNING",
		Price:    big.NewInt(20),
		Active:   true,
	})
	if second.ID != 2 {
		t.Fatalf("second id: got %d want 2", second.ID)
	}

	t.Run("unknown id", func(t *testing.T) {
		if _, err := store.GetInsight(ctx, 99); !errors.Is(err, ErrInsightNotFound) {
			t.Fatalf("expected ErrInsightNotFound, got %v", err)
		}
		if _, err := store.UpdateInsight(ctx, market.Insight{ID: 99}); !errors.Is(err, ErrInsightNotFound) {
			t.Fatalf("expected ErrInsightNotFound, got %v", err)
		}
	})

	t.Run("clone on return", func(t *testing.T) {
		got, _ := store.GetInsight(ctx, first.ID)
		got.Price.SetInt64(999)
		again, _ := store.GetInsight(ctx, first.ID)
		if again.Price.Int64() != 10 {
			t.Fatalf("stored price mutated: %s", again.Price)
		}
	})

	t.Run("indexes ordered by id", func(t *testing.T) {
		byCategory, _ := store.ListInsightsByCategory(ctx, "LEARNING")
		if len(byCategory) != 2 || byCategory[0].ID != 1 || byCategory[1].ID != 2 {
			t.Fatalf("category index: %+v", byCategory)
		}
		byCreator, _ := store.ListInsightsByCreator(ctx, "creator")
		if len(byCreator) != 2 {
			t.Fatalf("creator index: %+v", byCreator)
		}
		count, _ := store.CountInsights(ctx)
		if count != 2 {
			t.Fatalf("count: got %d want 2", count)
		}
	})
}

func TestStore_PurchasesAndRatings(t *testing.T) {
	ctx := context.Background()
	store := New()

	in, _ := store.CreateInsight(ctx, market.Insight{Creator: "c", Title: "t", Category: "x", Price: big.NewInt(1), Active: true})
	if err := store.AppendPurchase(ctx, market.Purchase{InsightID: in.ID, Buyer: "b1", Price: big.NewInt(1)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendPurchase(ctx, market.Purchase{InsightID: in.ID, Buyer: "b2", Price: big.NewInt(1)}); err != nil {
		t.Fatalf("append: %v", err)
	}

	perListing, _ := store.ListPurchasesByInsight(ctx, in.ID)
	if len(perListing) != 2 || perListing[0].Buyer != "b1" {
		t.Fatalf("per-listing history: %+v", perListing)
	}
	global, _ := store.ListPurchases(ctx)
	if len(global) != 2 {
		t.Fatalf("global history: %+v", global)
	}

	if err := store.AppendRating(ctx, in.ID, 500); err != nil {
		t.Fatalf("append rating: %v", err)
	}
	ratings, _ := store.ListRatings(ctx, in.ID)
	if len(ratings) != 1 || ratings[0] != 500 {
		t.Fatalf("ratings: %v", ratings)
	}
	ratings[0] = 1 // mutate returned slice
	again, _ := store.ListRatings(ctx, in.ID)
	if again[0] != 500 {
		t.Fatalf("stored ratings mutated: %v", again)
	}
}

func TestStore_ReputationAndCategories(t *testing.T) {
	ctx := context.Background()
	store := New()

	t.Run("unknown reputation is empty but addressed", func(t *testing.T) {
		rep, err := store.GetReputation(ctx, "new")
		if err != nil {
			t.Fatalf("get reputation: %v", err)
		}
		if rep.Address != token.Address("new") || rep.TotalEarned == nil || rep.TotalEarned.Sign() != 0 {
			t.Fatalf("unexpected empty reputation: %+v", rep)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		rep, _ := store.GetReputation(ctx, "creator")
		rep.ListingsCreated = 3
		rep.TotalEarned.SetInt64(42)
		if err := store.SetReputation(ctx, rep); err != nil {
			t.Fatalf("set reputation: %v", err)
		}
		rep.TotalEarned.SetInt64(0) // must not leak into the store

		got, _ := store.GetReputation(ctx, "creator")
		if got.ListingsCreated != 3 || got.TotalEarned.Int64() != 42 {
			t.Fatalf("reputation round trip: %+v", got)
		}
	})

	t.Run("category stats", func(t *testing.T) {
		stats, _ := store.GetCategoryStats(ctx, "LEARNING")
		if stats.Category != "LEARNING" || stats.Volume.Sign() != 0 {
			t.Fatalf("unexpected empty stats: %+v", stats)
		}
		stats.Listings = 2
		stats.Volume.SetInt64(100)
		if err := store.SetCategoryStats(ctx, stats); err != nil {
			t.Fatalf("set stats: %v", err)
		}
		got, _ := store.GetCategoryStats(ctx, "LEARNING")
		if got.Listings != 2 || got.Volume.Int64() != 100 {
			t.Fatalf("stats round trip: %+v", got)
		}
	})
}
