// Package market implements the marketplace ledger: insight listings,
// purchases with platform fee settlement, ratings, creator reputation and
// the top-creator promotion rule.
package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/insightmesh/market_layer/internal/app/core"
	domain "github.com/insightmesh/market_layer/internal/app/domain/market"
	"github.com/insightmesh/market_layer/internal/app/domain/token"
	"github.com/insightmesh/market_layer/internal/app/metrics"
	"github.com/insightmesh/market_layer/internal/app/storage"
	"github.com/insightmesh/market_layer/internal/app/storage/memory"
	"github.com/insightmesh/market_layer/internal/events"
	"github.com/insightmesh/market_layer/pkg/logger"
)

// Errors
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("insight not found")
	ErrInactive          = errors.New("insight inactive")
	ErrSelfPurchase      = errors.New("cannot purchase own insight")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrNotPurchased      = errors.New("rater has not purchased this insight")
	ErrFeeTooHigh        = errors.New("fee percent above maximum")
	ErrNoFees            = errors.New("no platform fees to withdraw")
	ErrPaused            = errors.New("marketplace paused")
)

// ErrReentrant is surfaced when a mutation is attempted while another is in
// flight.
var ErrReentrant = core.ErrReentrant

// MaxFeePercent bounds the platform fee rate.
const MaxFeePercent = 50

// DefaultFeePercent is the reference deployment fee rate.
const DefaultFeePercent = 10

// Ledger is the slice of the value token ledger the marketplace settles
// against.
type Ledger interface {
	BalanceOf(ctx context.Context, addr token.Address) *big.Int
	Transfer(ctx context.Context, caller, to token.Address, amount *big.Int) error
}

// Service is the marketplace engine. State-mutating entry points are
// serialized by a non-reentrant guard; checks run first, effects are applied
// next, and outbound transfers plus notifications come last.
type Service struct {
	store  storage.MarketStore
	ledger Ledger
	events *events.Log
	log    *logger.Logger
	guard  core.Guard

	admin   token.Address
	reserve token.Address // holds accrued platform fees on the token ledger

	mu         sync.RWMutex
	feePercent uint64
	paused     bool
}

// New constructs the marketplace. reserve is the marketplace's own ledger
// address; platform fees accrue there until withdrawn by the admin.
func New(store storage.MarketStore, ledger Ledger, admin, reserve token.Address, eventLog *events.Log, log *logger.Logger) (*Service, error) {
	if admin.IsZero() || reserve.IsZero() || admin == reserve {
		return nil, fmt.Errorf("%w: distinct admin and reserve addresses required", ErrInvalidInput)
	}
	if store == nil {
		store = memory.New()
	}
	if eventLog == nil {
		eventLog = events.NewLog(0)
	}
	if log == nil {
		log = logger.NewDefault("market")
	}
	return &Service{
		store:      store,
		ledger:     ledger,
		events:     eventLog,
		log:        log,
		admin:      admin,
		reserve:    reserve,
		feePercent: DefaultFeePercent,
	}, nil
}

// reject counts a rejected operation and passes the error through.
func reject(op string, err error) error {
	metrics.RecordRejection(op, reason(err))
	return err
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInactive):
		return "inactive"
	case errors.Is(err, ErrSelfPurchase):
		return "self_purchase"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidRating):
		return "invalid_rating"
	case errors.Is(err, ErrNotPurchased):
		return "not_purchased"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, core.ErrReentrant):
		return "reentrant"
	default:
		return "internal"
	}
}

// CreateListing publishes a new insight in the Active state.
func (s *Service) CreateListing(ctx context.Context, creator token.Address, title, description, category string, price *big.Int) (domain.Insight, error) {
	if err := s.guard.Enter(); err != nil {
		return domain.Insight{}, reject("create_listing", err)
	}
	defer s.guard.Exit()

	if s.isPaused() {
		return domain.Insight{}, reject("create_listing", ErrPaused)
	}
	if creator.IsZero() {
		return domain.Insight{}, reject("create_listing", fmt.Errorf("%w: creator address required", ErrInvalidInput))
	}
	if strings.TrimSpace(title) == "" || strings.TrimSpace(description) == "" || strings.TrimSpace(category) == "" {
		return domain.Insight{}, reject("create_listing", fmt.Errorf("%w: title, description and category are required", ErrInvalidInput))
	}
	if price == nil || price.Sign() <= 0 {
		return domain.Insight{}, reject("create_listing", fmt.Errorf("%w: price must be positive", ErrInvalidInput))
	}

	created, err := s.store.CreateInsight(ctx, domain.Insight{
		Creator:     creator,
		Title:       title,
		Description: description,
		Category:    category,
		Price:       price,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return domain.Insight{}, fmt.Errorf("create insight: %w", err)
	}

	rep, err := s.store.GetReputation(ctx, creator)
	if err != nil {
		return domain.Insight{}, fmt.Errorf("read reputation: %w", err)
	}
	rep.ListingsCreated++
	if err := s.store.SetReputation(ctx, rep); err != nil {
		return domain.Insight{}, fmt.Errorf("write reputation: %w", err)
	}

	stats, err := s.store.GetCategoryStats(ctx, category)
	if err != nil {
		return domain.Insight{}, fmt.Errorf("read category stats: %w", err)
	}
	stats.Listings++
	if err := s.store.SetCategoryStats(ctx, stats); err != nil {
		return domain.Insight{}, fmt.Errorf("write category stats: %w", err)
	}

	metrics.RecordMarketOp("create_listing")
	s.log.WithField("insight_id", created.ID).
		WithField("creator", creator).
		WithField("category", category).
		Info("insight listed")
	s.events.Emit(events.Event{
		Type:      events.InsightCreated,
		To:        string(creator),
		InsightID: created.ID,
		Category:  category,
		Amount:    events.Amt(created.Price),
	})
	return created, nil
}

// Purchase settles a sale: the buyer pays the listing price, the creator
// receives the price minus the platform fee, and the fee accrues to the
// marketplace reserve. All listing, reputation and category effects are
// applied before the outbound transfers are issued.
func (s *Service) Purchase(ctx context.Context, buyer token.Address, insightID uint64) (domain.Purchase, error) {
	if err := s.guard.Enter(); err != nil {
		return domain.Purchase{}, reject("purchase", err)
	}
	defer s.guard.Exit()

	if s.isPaused() {
		return domain.Purchase{}, reject("purchase", ErrPaused)
	}
	if buyer.IsZero() {
		return domain.Purchase{}, reject("purchase", fmt.Errorf("%w: buyer address required", ErrInvalidInput))
	}

	insight, err := s.store.GetInsight(ctx, insightID)
	if err != nil {
		return domain.Purchase{}, reject("purchase", ErrNotFound)
	}
	if !insight.Active {
		return domain.Purchase{}, reject("purchase", ErrInactive)
	}
	if buyer == insight.Creator {
		return domain.Purchase{}, reject("purchase", ErrSelfPurchase)
	}

	price := token.Clone(insight.Price)
	if s.ledger.BalanceOf(ctx, buyer).Cmp(price) < 0 {
		return domain.Purchase{}, reject("purchase", ErrInsufficientFunds)
	}

	fee, earnings := s.feeSplit(price)

	// Effects.
	insight.AccessCount++
	if _, err := s.store.UpdateInsight(ctx, insight); err != nil {
		return domain.Purchase{}, fmt.Errorf("update insight: %w", err)
	}

	record := domain.Purchase{
		InsightID: insightID,
		Buyer:     buyer,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.AppendPurchase(ctx, record); err != nil {
		return domain.Purchase{}, fmt.Errorf("append purchase: %w", err)
	}

	buyerRep, err := s.store.GetReputation(ctx, buyer)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("read reputation: %w", err)
	}
	buyerRep.Purchased++
	buyerRep.TotalSpent.Add(buyerRep.TotalSpent, price)
	if err := s.store.SetReputation(ctx, buyerRep); err != nil {
		return domain.Purchase{}, fmt.Errorf("write reputation: %w", err)
	}

	creatorRep, err := s.store.GetReputation(ctx, insight.Creator)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("read reputation: %w", err)
	}
	creatorRep.TotalEarned.Add(creatorRep.TotalEarned, earnings)
	if err := s.store.SetReputation(ctx, creatorRep); err != nil {
		return domain.Purchase{}, fmt.Errorf("write reputation: %w", err)
	}

	stats, err := s.store.GetCategoryStats(ctx, insight.Category)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("read category stats: %w", err)
	}
	stats.Volume.Add(stats.Volume, price)
	if err := s.store.SetCategoryStats(ctx, stats); err != nil {
		return domain.Purchase{}, fmt.Errorf("write category stats: %w", err)
	}

	// Interactions. The balance was checked against the full price and the
	// guard is held, so neither transfer can fail here.
	if err := s.ledger.Transfer(ctx, buyer, insight.Creator, earnings); err != nil {
		return domain.Purchase{}, fmt.Errorf("settle creator earnings: %w", err)
	}
	if fee.Sign() > 0 {
		if err := s.ledger.Transfer(ctx, buyer, s.reserve, fee); err != nil {
			return domain.Purchase{}, fmt.Errorf("settle platform fee: %w", err)
		}
	}

	if err := s.evaluateTopCreator(ctx, insight.Creator); err != nil {
		return domain.Purchase{}, err
	}

	metrics.RecordMarketOp("purchase")
	s.log.WithField("insight_id", insightID).
		WithField("buyer", buyer).
		WithField("price", price.String()).
		WithField("fee", fee.String()).
		Info("insight purchased")
	s.events.Emit(events.Event{
		Type:      events.InsightPurchased,
		From:      string(buyer),
		To:        string(insight.Creator),
		InsightID: insightID,
		Category:  insight.Category,
		Amount:    events.Amt(price),
	})
	return record, nil
}

// feeSplit returns (platformFee, creatorEarnings) for a price under the
// current fee rate: fee = floor(price*feePercent/100), earnings = price-fee.
func (s *Service) feeSplit(price *big.Int) (*big.Int, *big.Int) {
	s.mu.RLock()
	percent := s.feePercent
	s.mu.RUnlock()

	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(percent))
	fee.Div(fee, big.NewInt(100))
	earnings := new(big.Int).Sub(price, fee)
	return fee, earnings
}

// Rate appends a rating for an insight the rater has purchased. Rating the
// same insight again is allowed and shifts the running average; uniqueness
// is deliberately not enforced.
func (s *Service) Rate(ctx context.Context, rater token.Address, insightID uint64, rating int) error {
	if err := s.guard.Enter(); err != nil {
		return reject("rate", err)
	}
	defer s.guard.Exit()

	insight, err := s.store.GetInsight(ctx, insightID)
	if err != nil || !insight.Active {
		return reject("rate", ErrNotFound)
	}
	if rating < 1 || rating > 5 {
		return reject("rate", ErrInvalidRating)
	}

	history, err := s.store.ListPurchasesByInsight(ctx, insightID)
	if err != nil {
		return fmt.Errorf("read purchase history: %w", err)
	}
	purchased := false
	for _, p := range history {
		if p.Buyer == rater {
			purchased = true
			break
		}
	}
	if !purchased {
		return reject("rate", ErrNotPurchased)
	}

	scaled := uint32(rating) * domain.RatingScale
	if err := s.store.AppendRating(ctx, insightID, scaled); err != nil {
		return fmt.Errorf("append rating: %w", err)
	}

	ratings, err := s.store.ListRatings(ctx, insightID)
	if err != nil {
		return fmt.Errorf("read ratings: %w", err)
	}
	var sum uint64
	for _, r := range ratings {
		sum += uint64(r)
	}
	insight.AvgRating = uint32(sum / uint64(len(ratings)))
	insight.RatingCount = uint64(len(ratings))
	if _, err := s.store.UpdateInsight(ctx, insight); err != nil {
		return fmt.Errorf("update insight: %w", err)
	}

	if err := s.recomputeCreatorRating(ctx, insight.Creator); err != nil {
		return err
	}
	if err := s.evaluateTopCreator(ctx, insight.Creator); err != nil {
		return err
	}

	metrics.RecordMarketOp("rate")
	s.log.WithField("insight_id", insightID).
		WithField("rater", rater).
		WithField("rating", scaled).
		Info("insight rated")
	s.events.Emit(events.Event{
		Type:      events.InsightRated,
		From:      string(rater),
		InsightID: insightID,
		Rating:    scaled,
	})
	return nil
}

// recomputeCreatorRating averages the per-listing averages across all of
// the creator's rated listings.
func (s *Service) recomputeCreatorRating(ctx context.Context, creator token.Address) error {
	listings, err := s.store.ListInsightsByCreator(ctx, creator)
	if err != nil {
		return fmt.Errorf("list insights: %w", err)
	}

	var sum, rated uint64
	for _, in := range listings {
		if in.RatingCount > 0 {
			sum += uint64(in.AvgRating)
			rated++
		}
	}

	rep, err := s.store.GetReputation(ctx, creator)
	if err != nil {
		return fmt.Errorf("read reputation: %w", err)
	}
	if rated == 0 {
		rep.AvgCreatorRating = 0
	} else {
		rep.AvgCreatorRating = uint32(sum / rated)
	}
	if err := s.store.SetReputation(ctx, rep); err != nil {
		return fmt.Errorf("write reputation: %w", err)
	}
	return nil
}

// evaluateTopCreator applies the promotion rule. It is deterministic and
// idempotent: a notification fires only when the status actually flips.
func (s *Service) evaluateTopCreator(ctx context.Context, creator token.Address) error {
	rep, err := s.store.GetReputation(ctx, creator)
	if err != nil {
		return fmt.Errorf("read reputation: %w", err)
	}

	qualifies := rep.ListingsCreated >= domain.TopCreatorMinListings &&
		rep.TotalEarned.Cmp(domain.TopCreatorMinEarned()) >= 0 &&
		rep.AvgCreatorRating >= domain.TopCreatorMinRating

	if qualifies == rep.TopCreator {
		return nil
	}

	rep.TopCreator = qualifies
	if err := s.store.SetReputation(ctx, rep); err != nil {
		return fmt.Errorf("write reputation: %w", err)
	}

	eventType := events.CreatorPromoted
	if !qualifies {
		eventType = events.CreatorDemoted
	}
	s.log.WithField("creator", creator).WithField("top_creator", qualifies).Info("top creator status changed")
	s.events.Emit(events.Event{Type: eventType, To: string(creator)})
	return nil
}

// UpdatePrice changes a listing's price. Creator only.
func (s *Service) UpdatePrice(ctx context.Context, creator token.Address, insightID uint64, price *big.Int) error {
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()

	insight, err := s.store.GetInsight(ctx, insightID)
	if err != nil {
		return ErrNotFound
	}
	if insight.Creator != creator {
		return fmt.Errorf("%w: only the creator may update the price", ErrUnauthorized)
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}

	insight.Price = price
	if _, err := s.store.UpdateInsight(ctx, insight); err != nil {
		return fmt.Errorf("update insight: %w", err)
	}
	s.events.Emit(events.Event{
		Type:      events.InsightPriceUpdated,
		To:        string(creator),
		InsightID: insightID,
		Amount:    events.Amt(price),
	})
	return nil
}

// SetActive toggles a listing between Active and Inactive. Creator only.
// Deactivation is a soft delete; the listing and its history remain.
func (s *Service) SetActive(ctx context.Context, creator token.Address, insightID uint64, active bool) error {
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()

	insight, err := s.store.GetInsight(ctx, insightID)
	if err != nil {
		return ErrNotFound
	}
	if insight.Creator != creator {
		return fmt.Errorf("%w: only the creator may change listing state", ErrUnauthorized)
	}
	if insight.Active == active {
		return nil
	}

	insight.Active = active
	if _, err := s.store.UpdateInsight(ctx, insight); err != nil {
		return fmt.Errorf("update insight: %w", err)
	}

	eventType := events.InsightDeactivated
	if active {
		eventType = events.InsightReactivated
	}
	s.events.Emit(events.Event{Type: eventType, To: string(creator), InsightID: insightID})
	return nil
}

// SetPlatformFeePercent updates the fee rate. Admin only; capped at 50.
func (s *Service) SetPlatformFeePercent(ctx context.Context, caller token.Address, percent uint64) error {
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()

	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	if percent > MaxFeePercent {
		return fmt.Errorf("%w: %d > %d", ErrFeeTooHigh, percent, MaxFeePercent)
	}

	s.mu.Lock()
	s.feePercent = percent
	s.mu.Unlock()

	s.log.WithField("fee_percent", percent).Info("platform fee updated")
	s.events.Emit(events.Event{Type: events.MarketFeeChanged, Reason: fmt.Sprintf("%d", percent)})
	return nil
}

// WithdrawPlatformFees transfers the whole fee reservoir to the admin.
func (s *Service) WithdrawPlatformFees(ctx context.Context, caller token.Address) (*big.Int, error) {
	if err := s.guard.Enter(); err != nil {
		return nil, err
	}
	defer s.guard.Exit()

	if err := s.requireAdmin(caller); err != nil {
		return nil, err
	}

	reservoir := s.ledger.BalanceOf(ctx, s.reserve)
	if reservoir.Sign() == 0 {
		return nil, ErrNoFees
	}
	if err := s.ledger.Transfer(ctx, s.reserve, s.admin, reservoir); err != nil {
		return nil, fmt.Errorf("withdraw fees: %w", err)
	}

	metrics.RecordMarketOp("withdraw_fees")
	s.log.WithField("amount", reservoir.String()).Info("platform fees withdrawn")
	s.events.Emit(events.Event{
		Type:   events.MarketFeesWithdrawn,
		From:   string(s.reserve),
		To:     string(s.admin),
		Amount: events.Amt(reservoir),
	})
	return reservoir, nil
}

// Pause stops listing creation and purchases. Rating and reads stay
// available. Admin only.
func (s *Service) Pause(ctx context.Context, caller token.Address) error {
	return s.setPaused(caller, true)
}

// Unpause resumes listing creation and purchases. Admin only.
func (s *Service) Unpause(ctx context.Context, caller token.Address) error {
	return s.setPaused(caller, false)
}

func (s *Service) setPaused(caller token.Address, paused bool) error {
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()

	if err := s.requireAdmin(caller); err != nil {
		return err
	}

	s.mu.Lock()
	changed := s.paused != paused
	s.paused = paused
	s.mu.Unlock()

	if !changed {
		return nil
	}
	eventType := events.MarketPaused
	if !paused {
		eventType = events.MarketUnpaused
	}
	s.log.WithField("paused", paused).Warn("marketplace pause state changed")
	s.events.Emit(events.Event{Type: eventType})
	return nil
}

func (s *Service) requireAdmin(caller token.Address) error {
	if caller != s.admin {
		return fmt.Errorf("%w: admin role required", ErrUnauthorized)
	}
	return nil
}

func (s *Service) isPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// Read operations ------------------------------------------------------------

// GetListing returns an active listing. Missing and inactive listings both
// read as not found.
func (s *Service) GetListing(ctx context.Context, insightID uint64) (domain.Insight, error) {
	insight, err := s.store.GetInsight(ctx, insightID)
	if err != nil || !insight.Active {
		return domain.Insight{}, ErrNotFound
	}
	return insight, nil
}

// GetListingsByCategory returns the active listings in a category.
func (s *Service) GetListingsByCategory(ctx context.Context, category string) ([]domain.Insight, error) {
	listings, err := s.store.ListInsightsByCategory(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	active := listings[:0]
	for _, in := range listings {
		if in.Active {
			active = append(active, in)
		}
	}
	return active, nil
}

// GetReputation returns the reputation record for an address, empty for
// unknown addresses.
func (s *Service) GetReputation(ctx context.Context, addr token.Address) (domain.Reputation, error) {
	return s.store.GetReputation(ctx, addr)
}

// GetPurchaseHistory returns the per-listing purchase records. The listing
// must exist; inactive listings keep their history readable.
func (s *Service) GetPurchaseHistory(ctx context.Context, insightID uint64) ([]domain.Purchase, error) {
	if _, err := s.store.GetInsight(ctx, insightID); err != nil {
		return nil, ErrNotFound
	}
	return s.store.ListPurchasesByInsight(ctx, insightID)
}

// GetGlobalPurchases returns every purchase in order of settlement.
func (s *Service) GetGlobalPurchases(ctx context.Context) ([]domain.Purchase, error) {
	return s.store.ListPurchases(ctx)
}

// GetRatings returns the scaled rating sequence for a listing.
func (s *Service) GetRatings(ctx context.Context, insightID uint64) ([]uint32, error) {
	if _, err := s.store.GetInsight(ctx, insightID); err != nil {
		return nil, ErrNotFound
	}
	return s.store.ListRatings(ctx, insightID)
}

// GetTotalListings returns the number of listings ever created.
func (s *Service) GetTotalListings(ctx context.Context) (uint64, error) {
	return s.store.CountInsights(ctx)
}

// GetCategoryStats returns cumulative statistics for a category.
func (s *Service) GetCategoryStats(ctx context.Context, category string) (domain.CategoryStats, error) {
	return s.store.GetCategoryStats(ctx, category)
}

// FeePercent returns the current platform fee rate.
func (s *Service) FeePercent() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feePercent
}

// IsPaused reports whether the marketplace is paused.
func (s *Service) IsPaused() bool {
	return s.isPaused()
}

// Admin returns the marketplace administrative address.
func (s *Service) Admin() token.Address { return s.admin }

// Reserve returns the marketplace's fee reservoir address.
func (s *Service) Reserve() token.Address { return s.reserve }
