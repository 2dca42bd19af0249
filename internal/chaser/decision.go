// Package chaser implements the closed-loop order repricing controller: it
// chases the best bid for a symbol inside a configured price band until the
// account holds a target quantity.
package chaser

import (
	"fmt"

	"github.com/seojinlab/kisbot/internal/domain"
)

// DefaultTick is the minimum price increment used when outbidding the
// current best bid.
const DefaultTick = 1.0

// ActionKind is the controller's decision for one polling cycle.
type ActionKind int

const (
	// ActionHold leaves the resting order untouched.
	ActionHold ActionKind = iota
	// ActionPlace submits a new order at Action.Price.
	ActionPlace
	// ActionRevise moves the resting order to Action.Price.
	ActionRevise
	// ActionSkip does nothing this cycle (no usable quote, or a new
	// order's candidate price is outside the band).
	ActionSkip
	// ActionAbort stops monitoring with a range violation.
	ActionAbort
	// ActionAchieved stops monitoring because the target is met.
	ActionAchieved
)

func (k ActionKind) String() string {
	switch k {
	case ActionHold:
		return "hold"
	case ActionPlace:
		return "place"
	case ActionRevise:
		return "revise"
	case ActionSkip:
		return "skip"
	case ActionAbort:
		return "abort"
	case ActionAchieved:
		return "achieved"
	}
	return fmt.Sprintf("action(%d)", int(k))
}

// Action is the outcome of one decision: what to do and, for place/revise,
// at which price.
type Action struct {
	Kind   ActionKind
	Price  float64
	Reason string
}

// Decide computes the cycle action from the held quantity, the latest
// quote, and the resting order (hasOrder false when none is working).
//
// The candidate price is one tick above the best bid, clipped back to the
// best bid when that would cross the best ask. An order already at the best
// bid is left alone. Candidates outside the band skip the cycle for new
// orders; for existing orders the band policy decides between aborting and
// holding.
func Decide(target domain.PositionTarget, held int64, quote domain.QuoteSnapshot, order domain.RestingOrder, hasOrder bool, tick float64) Action {
	if held >= target.TargetQty {
		return Action{Kind: ActionAchieved, Reason: fmt.Sprintf("held %d >= target %d", held, target.TargetQty)}
	}

	bid := quote.BestBid()
	if bid <= 0 {
		return Action{Kind: ActionSkip, Reason: "no bids in quote"}
	}

	// Already the best bid: nothing to improve.
	if hasOrder && order.Price == bid {
		return Action{Kind: ActionHold, Reason: "order is at best bid"}
	}

	candidate := bid + tick
	if ask := quote.BestAsk(); ask > 0 && candidate >= ask {
		// Never cross the spread; join the best bid instead.
		candidate = bid
	}

	if !target.InBand(candidate) {
		if !hasOrder {
			return Action{Kind: ActionSkip, Reason: fmt.Sprintf("candidate %v outside band [%v, %v]", candidate, target.MinPrice, target.MaxPrice)}
		}
		if target.BandPolicy == domain.BandPolicyHold {
			return Action{Kind: ActionHold, Reason: fmt.Sprintf("candidate %v outside band, holding", candidate)}
		}
		return Action{Kind: ActionAbort, Reason: fmt.Sprintf("candidate %v outside band [%v, %v]", candidate, target.MinPrice, target.MaxPrice)}
	}

	if hasOrder {
		if order.Price == candidate {
			return Action{Kind: ActionHold, Reason: "order already at candidate price"}
		}
		return Action{Kind: ActionRevise, Price: candidate, Reason: fmt.Sprintf("reprice %v -> %v", order.Price, candidate)}
	}

	return Action{Kind: ActionPlace, Price: candidate, Reason: fmt.Sprintf("new order at %v", candidate)}
}
