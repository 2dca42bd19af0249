package chaser

import (
	"testing"

	"github.com/seojinlab/kisbot/internal/domain"
)

func target(min, max float64, policy domain.BandPolicy) domain.PositionTarget {
	return domain.PositionTarget{
		Symbol:           "KR6000000000",
		TargetQty:        100,
		OrderQtyPerCycle: 10,
		MinPrice:         min,
		MaxPrice:         max,
		BandPolicy:       policy,
	}
}

func quote(bid, ask float64) domain.QuoteSnapshot {
	q := domain.QuoteSnapshot{Symbol: "KR6000000000"}
	if bid > 0 {
		q.Bids = []domain.PriceLevel{{Price: bid, Size: 100}}
	}
	if ask > 0 {
		q.Asks = []domain.PriceLevel{{Price: ask, Size: 100}}
	}
	return q
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		target    domain.PositionTarget
		held      int64
		quote     domain.QuoteSnapshot
		order     domain.RestingOrder
		hasOrder  bool
		wantKind  ActionKind
		wantPrice float64
	}{
		{
			name:     "target already held",
			target:   target(10000, 10100, domain.BandPolicyAbort),
			held:     100,
			quote:    quote(10050, 10055),
			wantKind: ActionAchieved,
		},
		{
			name:     "empty book skips cycle",
			target:   target(10000, 10100, domain.BandPolicyAbort),
			quote:    quote(0, 10055),
			wantKind: ActionSkip,
		},
		{
			name:     "order at best bid holds",
			target:   target(10000, 10100, domain.BandPolicyAbort),
			quote:    quote(10050, 10055),
			order:    domain.RestingOrder{OrderNo: "1", Price: 10050},
			hasOrder: true,
			wantKind: ActionHold,
		},
		{
			name:      "stale order outbids new best bid",
			target:    target(10000, 10100, domain.BandPolicyAbort),
			quote:     quote(10051, 10060),
			order:     domain.RestingOrder{OrderNo: "1", Price: 10050},
			hasOrder:  true,
			wantKind:  ActionRevise,
			wantPrice: 10052,
		},
		{
			name:      "candidate crossing ask clips to best bid",
			target:    target(10000, 10100, domain.BandPolicyAbort),
			quote:     quote(10059, 10060),
			order:     domain.RestingOrder{OrderNo: "1", Price: 10055},
			hasOrder:  true,
			wantKind:  ActionRevise,
			wantPrice: 10059,
		},
		{
			name:      "no order places at bid plus tick",
			target:    target(10000, 10100, domain.BandPolicyAbort),
			quote:     quote(10050, 10060),
			wantKind:  ActionPlace,
			wantPrice: 10051,
		},
		{
			name:     "new order candidate outside band skips",
			target:   target(10000, 10040, domain.BandPolicyAbort),
			quote:    quote(10050, 10060),
			wantKind: ActionSkip,
		},
		{
			name:     "existing order candidate outside band aborts",
			target:   target(10000, 10040, domain.BandPolicyAbort),
			quote:    quote(10050, 10060),
			order:    domain.RestingOrder{OrderNo: "1", Price: 10040},
			hasOrder: true,
			wantKind: ActionAbort,
		},
		{
			name:     "existing order candidate outside band holds under hold policy",
			target:   target(10000, 10040, domain.BandPolicyHold),
			quote:    quote(10050, 10060),
			order:    domain.RestingOrder{OrderNo: "1", Price: 10040},
			hasOrder: true,
			wantKind: ActionHold,
		},
		{
			name:     "order already at candidate price holds",
			target:   target(10000, 10100, domain.BandPolicyAbort),
			quote:    quote(10050, 10051),
			order:    domain.RestingOrder{OrderNo: "1", Price: 10050},
			hasOrder: true,
			wantKind: ActionHold,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.target, tt.held, tt.quote, tt.order, tt.hasOrder, DefaultTick)
			if got.Kind != tt.wantKind {
				t.Fatalf("kind = %v, want %v (reason: %s)", got.Kind, tt.wantKind, got.Reason)
			}
			if tt.wantPrice != 0 && got.Price != tt.wantPrice {
				t.Fatalf("price = %v, want %v", got.Price, tt.wantPrice)
			}
		})
	}
}

func TestDecideAchievedBeatsEmptyBook(t *testing.T) {
	// Target check comes before quote inspection: a held target with an
	// empty book must still finish.
	got := Decide(target(10000, 10100, domain.BandPolicyAbort), 100, quote(0, 0), domain.RestingOrder{}, false, DefaultTick)
	if got.Kind != ActionAchieved {
		t.Fatalf("kind = %v, want achieved", got.Kind)
	}
}
