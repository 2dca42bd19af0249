// Package market maintains the in-memory view of account and market state
// that the repricing controller reads: latest quotes, held positions, and
// resting orders, updated from both REST polls and streaming events.
package market

import (
	"sync"

	"github.com/seojinlab/kisbot/internal/domain"
)

// Snapshot is a concurrency-safe aggregate of the latest known state per
// symbol. REST polls replace whole sections; execution notices patch the
// affected order in place.
type Snapshot struct {
	mu     sync.RWMutex
	quotes map[string]domain.QuoteSnapshot
	held   map[string]domain.Position
	orders map[string]domain.RestingOrder // keyed by order number
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		quotes: make(map[string]domain.QuoteSnapshot),
		held:   make(map[string]domain.Position),
		orders: make(map[string]domain.RestingOrder),
	}
}

// SetQuote stores the latest quote for a symbol.
func (s *Snapshot) SetQuote(q domain.QuoteSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.Symbol] = q
}

// Quote returns the latest quote for a symbol.
func (s *Snapshot) Quote(symbol string) (domain.QuoteSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	return q, ok
}

// SetPositions replaces the held positions with the result of a balance
// poll.
func (s *Snapshot) SetPositions(positions []domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		s.held[p.Symbol] = p
	}
}

// HeldQty returns the held quantity for a symbol, zero when the symbol is
// not in the balance.
func (s *Snapshot) HeldQty(symbol string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.held[symbol].Quantity
}

// SetOrders replaces the resting orders with the result of an open-orders
// poll.
func (s *Snapshot) SetOrders(orders []domain.RestingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = make(map[string]domain.RestingOrder, len(orders))
	for _, o := range orders {
		s.orders[o.OrderNo] = o
	}
}

// OpenOrder returns the first non-terminal resting order for a symbol.
// The controller keeps at most one order per symbol working, so a single
// result is enough.
func (s *Snapshot) OpenOrder(symbol string) (domain.RestingOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.Symbol == symbol && !o.State.Terminal() {
			return o, true
		}
	}
	return domain.RestingOrder{}, false
}

// ApplyNotice patches the resting order referenced by an execution notice.
// Notices for unknown orders are kept as new entries so fills arriving
// before the next poll are not lost. Replayed notices are harmless: fill
// accounting clamps at the order quantity.
func (s *Snapshot) ApplyNotice(n domain.ExecutionNotice) domain.RestingOrder {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A revision notice retires the original order number.
	if n.IsRevision && n.OrigOrderNo != "" {
		delete(s.orders, n.OrigOrderNo)
	}

	o, ok := s.orders[n.OrderNo]
	if !ok {
		o = domain.RestingOrder{
			OrderNo:  n.OrderNo,
			Symbol:   n.Symbol,
			Side:     n.Side,
			Quantity: n.OrderQty,
			State:    domain.OrderStateWorking,
		}
	}

	o.ApplyNotice(n)
	s.orders[n.OrderNo] = o
	return o
}
