package domain

import "time"

// PriceLevel is a single price+size entry on one side of the quote ladder.
type PriceLevel struct {
	Price float64
	Size  int64
}

// QuoteSnapshot is the latest quote ladder for a symbol: up to five bid
// levels in descending price order and up to five ask levels in ascending
// price order. Snapshots are replaced wholesale on every poll or stream
// frame, never partially mutated.
type QuoteSnapshot struct {
	Symbol     string
	Bids       []PriceLevel
	Asks       []PriceLevel
	ObservedAt time.Time
}

// BestBid returns the highest bid price, or 0 when the bid side is empty.
func (q QuoteSnapshot) BestBid() float64 {
	if len(q.Bids) == 0 {
		return 0
	}
	return q.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 when the ask side is empty.
func (q QuoteSnapshot) BestAsk() float64 {
	if len(q.Asks) == 0 {
		return 0
	}
	return q.Asks[0].Price
}

// Tick is a realtime trade print from the public feed.
type Tick struct {
	Symbol     string
	Price      float64
	Volume     int64
	TradedAt   string // exchange-local HHMMSS
	ObservedAt time.Time
}
