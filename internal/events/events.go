// Package events provides the append-only audit notification log shared by
// the token and marketplace ledgers. Every state transition that external
// collaborators reconcile against (mints, purchases, promotions, fee
// withdrawals) is recorded here and fanned out to subscribers.
package events

import (
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type classifies an audit notification.
type Type string

const (
	// Token ledger notifications
	TokenMinted        Type = "token.minted"
	TokenBurned        Type = "token.burned"
	TokenTransferred   Type = "token.transferred"
	TokenMinterAdded   Type = "token.minter_added"
	TokenMinterRemoved Type = "token.minter_removed"
	TokenAdminChanged  Type = "token.admin_changed"

	// Marketplace notifications
	InsightCreated      Type = "insight.created"
	InsightPurchased    Type = "insight.purchased"
	InsightRated        Type = "insight.rated"
	InsightPriceUpdated Type = "insight.price_updated"
	InsightDeactivated  Type = "insight.deactivated"
	InsightReactivated  Type = "insight.reactivated"
	CreatorPromoted     Type = "creator.promoted"
	CreatorDemoted      Type = "creator.demoted"
	MarketFeeChanged    Type = "market.fee_changed"
	MarketFeesWithdrawn Type = "market.fees_withdrawn"
	MarketPaused        Type = "market.paused"
	MarketUnpaused      Type = "market.unpaused"
)

// Event is a single audit notification. Amounts are carried as decimal
// strings of base units so payloads survive JSON round trips unscathed.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Amount    string `json:"amount,omitempty"`
	InsightID uint64 `json:"insight_id,omitempty"`
	Category  string `json:"category,omitempty"`
	Rating    uint32 `json:"rating,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Amt formats an amount for an event payload, treating nil as zero.
func Amt(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

// Handler processes notifications as they are logged. Handlers run
// synchronously on the emitting goroutine, outside the buffer lock.
type Handler func(Event)

// Filter decides whether a subscriber sees an event.
type Filter func(Event) bool

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

// Log is a thread-safe ring buffer of audit notifications.
type Log struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

// NewLog creates a log retaining the most recent size events.
func NewLog(size int) *Log {
	if size <= 0 {
		size = 1024
	}
	return &Log{
		events: make([]Event, size),
		size:   size,
	}
}

// Emit records an event and notifies subscribers. The event ID and
// timestamp are filled in when absent.
func (l *Log) Emit(event Event) {
	l.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	l.events[l.head] = event
	l.head = (l.head + 1) % l.size
	if l.count < l.size {
		l.count++
	}

	handlers := make([]handlerEntry, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.Unlock()

	// Notify outside the lock: a handler may read the log, and a hostile
	// one may try to call back into a ledger entry point.
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for every event and returns an unsubscribe
// function.
func (l *Log) Subscribe(handler Handler) func() {
	return l.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler gated by a filter.
func (l *Log) SubscribeFiltered(filter Filter, handler Handler) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.handlers = append(l.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, h := range l.handlers {
			if h.id == id {
				l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns up to n events, newest first.
func (l *Log) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || l.count == 0 {
		return nil
	}
	if n > l.count {
		n = l.count
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (l.head - 1 - i + l.size) % l.size
		result[i] = l.events[idx]
	}
	return result
}

// RecentByType returns up to n events of the given type, newest first.
func (l *Log) RecentByType(eventType Type, n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || l.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < l.count && len(result) < n; i++ {
		idx := (l.head - 1 - i + l.size) % l.size
		if l.events[idx].Type == eventType {
			result = append(result, l.events[idx])
		}
	}
	return result
}

// Count returns the number of retained events.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
