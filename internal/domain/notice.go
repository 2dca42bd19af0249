package domain

import "time"

// ExecutionNotice is a decrypted private-feed event reporting a fill,
// rejection, or revision of one of the account's orders. Notices are
// transient: consumed once to update resting-order state, then discarded.
type ExecutionNotice struct {
	AccountNo   string
	OrderNo     string
	OrigOrderNo string
	Symbol      string
	SymbolName  string
	Side        OrderSide
	IsRevision  bool
	IsRejected  bool
	FillQty     int64
	FillPrice   float64
	OrderQty    int64
	EventTime   string // exchange-local HHMMSS
	ReceivedAt  time.Time
}

// Position is one line of the account balance: how much of a symbol is held
// and how much of that is available for new orders.
type Position struct {
	Symbol       string
	Name         string
	Quantity     int64
	OrderableQty int64
	BuyDate      string
}
