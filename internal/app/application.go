package app

import (
	"context"
	"fmt"
	"math/big"

	"github.com/insightmesh/market_layer/internal/app/domain/token"
	marketsvc "github.com/insightmesh/market_layer/internal/app/services/market"
	tokensvc "github.com/insightmesh/market_layer/internal/app/services/token"
	"github.com/insightmesh/market_layer/internal/app/storage"
	"github.com/insightmesh/market_layer/internal/app/storage/memory"
	"github.com/insightmesh/market_layer/internal/events"
	"github.com/insightmesh/market_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Token  storage.TokenStore
	Market storage.MarketStore
}

// Options configures the ledgers at construction time.
type Options struct {
	Admin           token.Address
	Reserve         token.Address
	Cap             *big.Int // nil selects the reference deployment cap
	FeePercent      uint64
	Minters         []token.Address
	EventBufferSize int
}

// Application ties the two ledgers together with their shared audit log.
type Application struct {
	log *logger.Logger

	Events *events.Log
	Token  *tokensvc.Service
	Market *marketsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(ctx context.Context, opts Options, stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Token == nil {
		stores.Token = mem
	}
	if stores.Market == nil {
		stores.Market = mem
	}

	eventLog := events.NewLog(opts.EventBufferSize)

	tokenService, err := tokensvc.New(ctx, stores.Token, opts.Cap, opts.Admin, eventLog, log.WithField("service", "token"))
	if err != nil {
		return nil, fmt.Errorf("init token ledger: %w", err)
	}

	marketService, err := marketsvc.New(stores.Market, tokenService, opts.Admin, opts.Reserve, eventLog, log.WithField("service", "market"))
	if err != nil {
		return nil, fmt.Errorf("init marketplace: %w", err)
	}
	if opts.FeePercent != marketsvc.DefaultFeePercent {
		if err := marketService.SetPlatformFeePercent(ctx, opts.Admin, opts.FeePercent); err != nil {
			return nil, fmt.Errorf("set fee percent: %w", err)
		}
	}

	admin := tokenService.Admin(ctx)
	for _, minter := range opts.Minters {
		if err := tokenService.AddMinter(ctx, admin, minter); err != nil {
			return nil, fmt.Errorf("add minter %s: %w", minter, err)
		}
	}

	return &Application{
		log:    log,
		Events: eventLog,
		Token:  tokenService,
		Market: marketService,
	}, nil
}
