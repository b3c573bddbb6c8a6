// Package token implements the value token ledger: a bounded-supply token
// with an allow-list of minters, allowance-based delegated spending, and an
// audit trail for every supply or balance change.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/insightmesh/market_layer/internal/app/core"
	domain "github.com/insightmesh/market_layer/internal/app/domain/token"
	"github.com/insightmesh/market_layer/internal/app/metrics"
	"github.com/insightmesh/market_layer/internal/app/storage"
	"github.com/insightmesh/market_layer/internal/events"
	"github.com/insightmesh/market_layer/pkg/logger"
)

// Errors
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidRecipient      = errors.New("invalid recipient")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrSupplyExceeded        = errors.New("supply cap exceeded")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// ErrReentrant is surfaced when a mutation is attempted while another is in
// flight.
var ErrReentrant = core.ErrReentrant

// Service is the value token ledger engine. All state-mutating entry points
// are serialized by a non-reentrant guard; reads go straight to the store.
type Service struct {
	store  storage.TokenStore
	events *events.Log
	log    *logger.Logger
	guard  core.Guard
	cap    *big.Int
}

// New constructs the ledger with the given supply cap and administrative
// address. A nil cap selects the reference deployment cap. The admin is
// written to the store only when none is set yet, so restarts keep a
// transferred role.
func New(ctx context.Context, store storage.TokenStore, cap *big.Int, admin domain.Address, eventLog *events.Log, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NewDefault("token")
	}
	if eventLog == nil {
		eventLog = events.NewLog(0)
	}
	if cap == nil || cap.Sign() <= 0 {
		cap = domain.DefaultCap()
	}

	current, err := store.Admin(ctx)
	if err != nil {
		return nil, fmt.Errorf("read admin: %w", err)
	}
	if current.IsZero() {
		if admin.IsZero() {
			return nil, fmt.Errorf("%w: admin address required", ErrInvalidRecipient)
		}
		if err := store.SetAdmin(ctx, admin); err != nil {
			return nil, fmt.Errorf("set admin: %w", err)
		}
	}

	return &Service{
		store:  store,
		events: eventLog,
		log:    log,
		cap:    domain.Clone(cap),
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
	case errors.Is(err, ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrSupplyExceeded):
		return "supply_exceeded"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, core.ErrReentrant):
		return "reentrant"
	default:
		return "internal"
	}
}

// Mint increases to's balance and the total supply. The caller must be on
// the minter allow-list and the cap must not be breached.
func (s *Service) Mint(ctx context.Context, caller, to domain.Address, amount *big.Int, reason string) error {
	if err := s.guard.Enter(); err != nil {
		return reject("mint", err)
	}
	defer s.guard.Exit()

	if to.IsZero() {
		return reject("mint", ErrInvalidRecipient)
	}
	if amount == nil || amount.Sign() <= 0 {
		return reject("mint", ErrInvalidAmount)
	}

	isMinter, err := s.store.IsMinter(ctx, caller)
	if err != nil {
		return fmt.Errorf("check minter: %w", err)
	}
	if !isMinter {
		return reject("mint", fmt.Errorf("%w: %s is not a minter", ErrUnauthorized, caller))
	}

	supply, err := s.store.TotalSupply(ctx)
	if err != nil {
		return fmt.Errorf("read supply: %w", err)
	}
	next := new(big.Int).Add(supply, amount)
	if next.Cmp(s.cap) > 0 {
		return reject("mint", fmt.Errorf("%w: supply %s + %s exceeds cap %s", ErrSupplyExceeded, supply, amount, s.cap))
	}

	balance, err := s.store.Balance(ctx, to)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if err := s.store.SetBalance(ctx, to, new(big.Int).Add(balance, amount)); err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	if err := s.store.SetTotalSupply(ctx, next); err != nil {
		return fmt.Errorf("write supply: %w", err)
	}

	metrics.RecordTokenOp("mint")
	s.log.WithField("to", to).WithField("amount", amount.String()).WithField("reason", reason).Info("minted")
	s.events.Emit(events.Event{Type: events.TokenMinted, To: string(to), Amount: events.Amt(amount), Reason: reason})
	return nil
}

// Burn decreases the caller's balance and the total supply.
func (s *Service) Burn(ctx context.Context, caller domain.Address, amount *big.Int) error {
	if err := s.guard.Enter(); err != nil {
		return reject("burn", err)
	}
	defer s.guard.Exit()

	if err := s.burn(ctx, caller, amount); err != nil {
		return reject("burn", err)
	}
	return nil
}

// BurnFrom burns from holder's balance using the caller's allowance. The
// allowance is spent only after the burn itself has succeeded, so a rejected
// burn leaves it intact.
func (s *Service) BurnFrom(ctx context.Context, caller, holder domain.Address, amount *big.Int) error {
	if err := s.guard.Enter(); err != nil {
		return reject("burn_from", err)
	}
	defer s.guard.Exit()

	if amount == nil || amount.Sign() <= 0 {
		return reject("burn_from", ErrInvalidAmount)
	}
	allowance, err := s.allowanceFor(ctx, holder, caller, amount)
	if err != nil {
		return reject("burn_from", err)
	}
	if err := s.burn(ctx, holder, amount); err != nil {
		return reject("burn_from", err)
	}
	if err := s.store.SetAllowance(ctx, holder, caller, new(big.Int).Sub(allowance, amount)); err != nil {
		return fmt.Errorf("write allowance: %w", err)
	}
	return nil
}

func (s *Service) burn(ctx context.Context, holder domain.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	balance, err := s.store.Balance(ctx, holder)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance %s < %s", ErrInsufficientBalance, balance, amount)
	}

	supply, err := s.store.TotalSupply(ctx)
	if err != nil {
		return fmt.Errorf("read supply: %w", err)
	}
	if err := s.store.SetBalance(ctx, holder, new(big.Int).Sub(balance, amount)); err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	if err := s.store.SetTotalSupply(ctx, new(big.Int).Sub(supply, amount)); err != nil {
		return fmt.Errorf("write supply: %w", err)
	}

	metrics.RecordTokenOp("burn")
	s.log.WithField("holder", holder).WithField("amount", amount.String()).Info("burned")
	s.events.Emit(events.Event{Type: events.TokenBurned, From: string(holder), Amount: events.Amt(amount)})
	return nil
}

// Transfer moves value from the caller to another address. Total supply is
// unaffected.
func (s *Service) Transfer(ctx context.Context, caller, to domain.Address, amount *big.Int) error {
	if err := s.guard.Enter(); err != nil {
		return reject("transfer", err)
	}
	defer s.guard.Exit()

	if err := s.transfer(ctx, caller, to, amount); err != nil {
		return reject("transfer", err)
	}
	return nil
}

// TransferFrom moves value from holder to another address using the caller's
// allowance. The allowance is spent only after the move itself has
// succeeded, so a rejected transfer leaves it intact.
func (s *Service) TransferFrom(ctx context.Context, caller, from, to domain.Address, amount *big.Int) error {
	if err := s.guard.Enter(); err != nil {
		return reject("transfer_from", err)
	}
	defer s.guard.Exit()

	if amount == nil || amount.Sign() <= 0 {
		return reject("transfer_from", ErrInvalidAmount)
	}
	allowance, err := s.allowanceFor(ctx, from, caller, amount)
	if err != nil {
		return reject("transfer_from", err)
	}
	if err := s.transfer(ctx, from, to, amount); err != nil {
		return reject("transfer_from", err)
	}
	if err := s.store.SetAllowance(ctx, from, caller, new(big.Int).Sub(allowance, amount)); err != nil {
		return fmt.Errorf("write allowance: %w", err)
	}
	return nil
}

func (s *Service) transfer(ctx context.Context, from, to domain.Address, amount *big.Int) error {
	if to.IsZero() {
		return ErrInvalidRecipient
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	fromBalance, err := s.store.Balance(ctx, from)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance %s < %s", ErrInsufficientBalance, fromBalance, amount)
	}

	// Debit and credit cancel on a same-account move; writing both sides
	// from the one stale read would inflate the balance.
	if from != to {
		toBalance, err := s.store.Balance(ctx, to)
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		if err := s.store.SetBalance(ctx, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
			return fmt.Errorf("write balance: %w", err)
		}
		if err := s.store.SetBalance(ctx, to, new(big.Int).Add(toBalance, amount)); err != nil {
			return fmt.Errorf("write balance: %w", err)
		}
	}

	metrics.RecordTokenOp("transfer")
	s.events.Emit(events.Event{Type: events.TokenTransferred, From: string(from), To: string(to), Amount: events.Amt(amount)})
	return nil
}

// allowanceFor reads spender's allowance over owner's balance and checks it
// covers amount. The caller commits the spend after its operation succeeds.
func (s *Service) allowanceFor(ctx context.Context, owner, spender domain.Address, amount *big.Int) (*big.Int, error) {
	allowance, err := s.store.Allowance(ctx, owner, spender)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	if allowance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: allowance %s < %s", ErrInsufficientAllowance, allowance, amount)
	}
	return allowance, nil
}

// Approve sets spender's allowance over the caller's balance.
func (s *Service) Approve(ctx context.Context, caller, spender domain.Address, amount *big.Int) error {
	if err := s.guard.Enter(); err != nil {
		return reject("approve", err)
	}
	defer s.guard.Exit()

	if spender.IsZero() {
		return reject("approve", ErrInvalidRecipient)
	}
	if amount == nil || amount.Sign() < 0 {
		return reject("approve", ErrInvalidAmount)
	}
	return s.store.SetAllowance(ctx, caller, spender, amount)
}

// AddMinter adds an address to the minter allow-list. Admin only.
func (s *Service) AddMinter(ctx context.Context, caller, addr domain.Address) error {
	if err := s.guard.Enter(); err != nil {
		return reject("add_minter", err)
	}
	defer s.guard.Exit()

	if err := s.requireAdmin(ctx, caller); err != nil {
		return reject("add_minter", err)
	}
	if addr.IsZero() {
		return reject("add_minter", ErrInvalidRecipient)
	}
	if err := s.store.SetMinter(ctx, addr, true); err != nil {
		return fmt.Errorf("write minter: %w", err)
	}
	s.log.WithField("minter", addr).Info("minter added")
	s.events.Emit(events.Event{Type: events.TokenMinterAdded, To: string(addr)})
	return nil
}

// RemoveMinter removes an address from the minter allow-list. Admin only.
func (s *Service) RemoveMinter(ctx context.Context, caller, addr domain.Address) error {
	if err := s.guard.Enter(); err != nil {
		return reject("remove_minter", err)
	}
	defer s.guard.Exit()

	if err := s.requireAdmin(ctx, caller); err != nil {
		return reject("remove_minter", err)
	}
	if err := s.store.SetMinter(ctx, addr, false); err != nil {
		return fmt.Errorf("write minter: %w", err)
	}
	s.log.WithField("minter", addr).Info("minter removed")
	s.events.Emit(events.Event{Type: events.TokenMinterRemoved, To: string(addr)})
	return nil
}

// TransferAdmin hands the administrative role to another address. Only the
// current admin may do this.
func (s *Service) TransferAdmin(ctx context.Context, caller, newAdmin domain.Address) error {
	if err := s.guard.Enter(); err != nil {
		return reject("transfer_admin", err)
	}
	defer s.guard.Exit()

	if err := s.requireAdmin(ctx, caller); err != nil {
		return reject("transfer_admin", err)
	}
	if newAdmin.IsZero() {
		return reject("transfer_admin", ErrInvalidRecipient)
	}
	if err := s.store.SetAdmin(ctx, newAdmin); err != nil {
		return fmt.Errorf("write admin: %w", err)
	}
	s.log.WithField("admin", newAdmin).Warn("ledger admin transferred")
	s.events.Emit(events.Event{Type: events.TokenAdminChanged, From: string(caller), To: string(newAdmin)})
	return nil
}

func (s *Service) requireAdmin(ctx context.Context, caller domain.Address) error {
	admin, err := s.store.Admin(ctx)
	if err != nil {
		return fmt.Errorf("read admin: %w", err)
	}
	if caller != admin {
		return fmt.Errorf("%w: admin role required", ErrUnauthorized)
	}
	return nil
}

// BalanceOf returns the balance of an address, zero for unknown addresses.
func (s *Service) BalanceOf(ctx context.Context, addr domain.Address) *big.Int {
	balance, err := s.store.Balance(ctx, addr)
	if err != nil {
		return new(big.Int)
	}
	return balance
}

// TotalSupply returns the circulating supply.
func (s *Service) TotalSupply(ctx context.Context) *big.Int {
	supply, err := s.store.TotalSupply(ctx)
	if err != nil {
		return new(big.Int)
	}
	return supply
}

// Allowance returns spender's remaining allowance over owner's balance.
func (s *Service) Allowance(ctx context.Context, owner, spender domain.Address) *big.Int {
	allowance, err := s.store.Allowance(ctx, owner, spender)
	if err != nil {
		return new(big.Int)
	}
	return allowance
}

// IsMinter reports whether the address may mint.
func (s *Service) IsMinter(ctx context.Context, addr domain.Address) bool {
	ok, err := s.store.IsMinter(ctx, addr)
	return err == nil && ok
}

// Admin returns the current administrative address.
func (s *Service) Admin(ctx context.Context) domain.Address {
	admin, err := s.store.Admin(ctx)
	if err != nil {
		return domain.ZeroAddress
	}
	return admin
}

// Cap returns the fixed supply cap.
func (s *Service) Cap() *big.Int {
	return domain.Clone(s.cap)
}
