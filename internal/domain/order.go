package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderState tracks the resting-order lifecycle. Filled, Cancelled, and
// Rejected are terminal.
type OrderState string

const (
	OrderStateWorking       OrderState = "working"
	OrderStatePendingRevise OrderState = "pending_revise"
	OrderStatePendingCancel OrderState = "pending_cancel"
	OrderStateFilled        OrderState = "filled"
	OrderStateCancelled     OrderState = "cancelled"
	OrderStateRejected      OrderState = "rejected"
)

// Terminal reports whether the state admits no further transitions.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejected:
		return true
	}
	return false
}

// RestingOrder is an order resting on the book that is still eligible for
// revision or cancellation. It is created when a place/revise command is
// acknowledged and transitions on poll results or on execution notices; the
// broker's own order state, re-polled every cycle, is the source of truth.
type RestingOrder struct {
	OrderNo      string
	OrigOrderNo  string
	Symbol       string
	Side         OrderSide
	Quantity     int64
	Price        float64
	FilledQty    int64
	RemainingQty int64
	State        OrderState
	PlacedAt     time.Time
}

// ApplyNotice folds an execution notice into the order. It is idempotent
// against duplicate frames: the filled quantity never exceeds the order
// quantity and the remainder never goes negative.
func (o *RestingOrder) ApplyNotice(n ExecutionNotice) {
	if n.IsRejected {
		o.State = OrderStateRejected
		return
	}
	o.FilledQty += n.FillQty
	if o.FilledQty > o.Quantity {
		o.FilledQty = o.Quantity
	}
	o.RemainingQty = o.Quantity - o.FilledQty
	if o.RemainingQty == 0 {
		o.State = OrderStateFilled
	}
}

// CommandAction names the order mutation recorded in the audit trail.
type CommandAction string

const (
	CommandPlace  CommandAction = "place"
	CommandRevise CommandAction = "revise"
	CommandCancel CommandAction = "cancel"
)

// OrderCommand is the audit record of one REST order mutation: what was
// attempted, what the broker answered, and when.
type OrderCommand struct {
	ID       string // client-generated, unique per command
	Action   CommandAction
	Symbol   string
	OrderNo  string // broker order number from the acknowledgement
	OrigNo   string // original order number for revise/cancel
	Price    float64
	Quantity int64
	RtCd     string // broker return code, "0" on success
	Message  string
	IssuedAt time.Time
}
