package chaser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/seojinlab/kisbot/internal/domain"
	"github.com/seojinlab/kisbot/internal/market"
	"github.com/seojinlab/kisbot/internal/platform/kis"
)

// fakeBroker is a scriptable Broker for controller tests.
type fakeBroker struct {
	positions []domain.Position
	orders    []domain.RestingOrder
	quote     domain.QuoteSnapshot

	placeCalls  []placeCall
	reviseCalls []reviseCall
	cancelCalls []string

	placeErr  error
	reviseErr error
	balErr    error
}

type placeCall struct {
	symbol string
	qty    int64
	price  float64
}

type reviseCall struct {
	symbol  string
	orderNo string
	price   float64
}

func (f *fakeBroker) Balance(ctx context.Context) ([]domain.Position, error) {
	return f.positions, f.balErr
}

func (f *fakeBroker) RevisableOrders(ctx context.Context) ([]domain.RestingOrder, error) {
	return f.orders, nil
}

func (f *fakeBroker) Quote(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
	return f.quote, nil
}

func (f *fakeBroker) PlaceBuy(ctx context.Context, symbol string, qty int64, price float64) (kis.OrderAck, error) {
	f.placeCalls = append(f.placeCalls, placeCall{symbol, qty, price})
	if f.placeErr != nil {
		return kis.OrderAck{}, f.placeErr
	}
	return kis.OrderAck{OrderNo: "NEW-1", RtCd: "0"}, nil
}

func (f *fakeBroker) ReviseOrder(ctx context.Context, symbol, orderNo string, price float64) (kis.OrderAck, error) {
	f.reviseCalls = append(f.reviseCalls, reviseCall{symbol, orderNo, price})
	if f.reviseErr != nil {
		return kis.OrderAck{}, f.reviseErr
	}
	return kis.OrderAck{OrderNo: "REV-1", RtCd: "0"}, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, symbol, orderNo string) (kis.OrderAck, error) {
	f.cancelCalls = append(f.cancelCalls, orderNo)
	return kis.OrderAck{OrderNo: orderNo, RtCd: "0"}, nil
}

// memCommandStore records commands in memory.
type memCommandStore struct {
	cmds []domain.OrderCommand
}

func (m *memCommandStore) Record(ctx context.Context, cmd domain.OrderCommand) error {
	m.cmds = append(m.cmds, cmd)
	return nil
}

func (m *memCommandStore) ListBefore(ctx context.Context, before time.Time) ([]domain.OrderCommand, error) {
	return m.cmds, nil
}

// memNotifier records notification events.
type memNotifier struct {
	events []string
}

func (m *memNotifier) Notify(ctx context.Context, event, title, message string) error {
	m.events = append(m.events, event)
	return nil
}

func newTestController(broker Broker, tgt domain.PositionTarget, opts Options) *Controller {
	return New(broker, tgt, market.NewSnapshot(), opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func chasTarget(policy domain.BandPolicy) domain.PositionTarget {
	return domain.PositionTarget{
		Symbol:           "KR6000000000",
		TargetQty:        100,
		OrderQtyPerCycle: 10,
		MinPrice:         10000,
		MaxPrice:         10100,
		PollInterval:     time.Second,
		BandPolicy:       policy,
	}
}

func TestCycleAchievedOnFirstPoll(t *testing.T) {
	broker := &fakeBroker{
		positions: []domain.Position{{Symbol: "KR6000000000", Quantity: 120}},
	}
	notifier := &memNotifier{}
	c := newTestController(broker, chasTarget(domain.BandPolicyAbort), Options{Notifier: notifier})

	done, err := c.cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !done {
		t.Fatal("cycle should report done when target is held")
	}
	if len(broker.placeCalls)+len(broker.reviseCalls) != 0 {
		t.Fatal("no mutation expected once the target is held")
	}
	if len(notifier.events) != 1 || notifier.events[0] != "target_achieved" {
		t.Fatalf("events = %v", notifier.events)
	}
}

func TestCyclePlacesWhenNoOrder(t *testing.T) {
	broker := &fakeBroker{
		quote: domain.QuoteSnapshot{
			Symbol: "KR6000000000",
			Bids:   []domain.PriceLevel{{Price: 10050, Size: 100}},
			Asks:   []domain.PriceLevel{{Price: 10060, Size: 100}},
		},
	}
	commands := &memCommandStore{}
	c := newTestController(broker, chasTarget(domain.BandPolicyAbort), Options{Commands: commands})

	done, err := c.cycle(context.Background())
	if err != nil || done {
		t.Fatalf("cycle: done=%v err=%v", done, err)
	}

	if len(broker.placeCalls) != 1 {
		t.Fatalf("place calls = %d, want 1", len(broker.placeCalls))
	}
	call := broker.placeCalls[0]
	if call.price != 10051 || call.qty != 10 {
		t.Fatalf("place call = %+v", call)
	}

	if len(commands.cmds) != 1 {
		t.Fatalf("commands = %d, want 1", len(commands.cmds))
	}
	cmd := commands.cmds[0]
	if cmd.Action != domain.CommandPlace || cmd.OrderNo != "NEW-1" || cmd.ID == "" {
		t.Fatalf("command = %+v", cmd)
	}
}

func TestCycleRevisesStaleOrder(t *testing.T) {
	broker := &fakeBroker{
		orders: []domain.RestingOrder{{
			OrderNo: "OLD-1", Symbol: "KR6000000000",
			Quantity: 10, RemainingQty: 10, Price: 10048,
			State: domain.OrderStateWorking,
		}},
		quote: domain.QuoteSnapshot{
			Symbol: "KR6000000000",
			Bids:   []domain.PriceLevel{{Price: 10050, Size: 100}},
			Asks:   []domain.PriceLevel{{Price: 10060, Size: 100}},
		},
	}
	c := newTestController(broker, chasTarget(domain.BandPolicyAbort), Options{})

	if _, err := c.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if len(broker.reviseCalls) != 1 {
		t.Fatalf("revise calls = %d, want 1", len(broker.reviseCalls))
	}
	rev := broker.reviseCalls[0]
	if rev.symbol != "KR6000000000" || rev.orderNo != "OLD-1" || rev.price != 10051 {
		t.Fatalf("revise call = %+v", rev)
	}
	if len(broker.placeCalls) != 0 {
		t.Fatal("one mutation per cycle: revise must not be followed by place")
	}
}

func TestCycleAbortsOutsideBand(t *testing.T) {
	broker := &fakeBroker{
		orders: []domain.RestingOrder{{
			OrderNo: "OLD-1", Symbol: "KR6000000000",
			Quantity: 10, RemainingQty: 10, Price: 10100,
			State: domain.OrderStateWorking,
		}},
		quote: domain.QuoteSnapshot{
			Symbol: "KR6000000000",
			Bids:   []domain.PriceLevel{{Price: 10150, Size: 100}},
			Asks:   []domain.PriceLevel{{Price: 10160, Size: 100}},
		},
	}
	notifier := &memNotifier{}
	c := newTestController(broker, chasTarget(domain.BandPolicyAbort), Options{Notifier: notifier})

	_, err := c.cycle(context.Background())
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "range_violation" {
		t.Fatalf("events = %v", notifier.events)
	}
	if len(broker.reviseCalls)+len(broker.placeCalls) != 0 {
		t.Fatal("no mutation expected on abort")
	}
}

func TestCycleBusinessRejectionIsTransient(t *testing.T) {
	broker := &fakeBroker{
		quote: domain.QuoteSnapshot{
			Symbol: "KR6000000000",
			Bids:   []domain.PriceLevel{{Price: 10050, Size: 100}},
			Asks:   []domain.PriceLevel{{Price: 10060, Size: 100}},
		},
		placeErr: &kis.APIError{TrID: "TTTC0952U", RtCd: "1", Msg: "insufficient funds"},
	}
	commands := &memCommandStore{}
	c := newTestController(broker, chasTarget(domain.BandPolicyAbort), Options{Commands: commands})

	done, err := c.cycle(context.Background())
	if err != nil {
		t.Fatalf("business rejection must not fail the cycle: %v", err)
	}
	if done {
		t.Fatal("cycle must continue after a rejection")
	}
	if len(commands.cmds) != 1 {
		t.Fatalf("rejected command must still be audited, got %d", len(commands.cmds))
	}
}

func TestCycleTransportErrorSurfaces(t *testing.T) {
	broker := &fakeBroker{balErr: errors.New("connection refused")}
	c := newTestController(broker, chasTarget(domain.BandPolicyAbort), Options{})

	done, err := c.cycle(context.Background())
	if err == nil || done {
		t.Fatalf("done=%v err=%v, want transport error", done, err)
	}
}

func TestFinishCancelsOnExit(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestController(broker, chasTarget(domain.BandPolicyAbort), Options{CancelOnExit: true})

	c.snap.SetOrders([]domain.RestingOrder{{
		OrderNo: "OLD-1", Symbol: "KR6000000000",
		Quantity: 10, RemainingQty: 10,
		State: domain.OrderStateWorking,
	}})

	c.finish(context.Background())

	if len(broker.cancelCalls) != 1 || broker.cancelCalls[0] != "OLD-1" {
		t.Fatalf("cancel calls = %v", broker.cancelCalls)
	}
}

func TestFinishWithoutCancelOnExit(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestController(broker, chasTarget(domain.BandPolicyAbort), Options{})

	c.snap.SetOrders([]domain.RestingOrder{{
		OrderNo: "OLD-1", Symbol: "KR6000000000",
		State: domain.OrderStateWorking,
	}})

	c.finish(context.Background())

	if len(broker.cancelCalls) != 0 {
		t.Fatalf("cancel calls = %v, want none", broker.cancelCalls)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	broker := &fakeBroker{
		quote: domain.QuoteSnapshot{Symbol: "KR6000000000"},
	}
	c := newTestController(broker, chasTarget(domain.BandPolicyAbort), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
