package chaser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/seojinlab/kisbot/internal/domain"
	"github.com/seojinlab/kisbot/internal/market"
	"github.com/seojinlab/kisbot/internal/platform/kis"
)

// ErrAborted is returned by Run when the band policy stops the chase after
// a range violation.
var ErrAborted = errors.New("chaser: aborted on range violation")

// Broker is the subset of the trading API the controller drives.
type Broker interface {
	Balance(ctx context.Context) ([]domain.Position, error)
	RevisableOrders(ctx context.Context) ([]domain.RestingOrder, error)
	Quote(ctx context.Context, symbol string) (domain.QuoteSnapshot, error)
	PlaceBuy(ctx context.Context, symbol string, qty int64, price float64) (kis.OrderAck, error)
	ReviseOrder(ctx context.Context, symbol, orderNo string, price float64) (kis.OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderNo string) (kis.OrderAck, error)
}

// Notifier delivers filtered operator notifications. Satisfied by
// notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Options carries the controller's optional collaborators. Nil fields
// disable the corresponding feature.
type Options struct {
	Commands     domain.CommandStore
	QuoteCache   domain.QuoteCache
	Notifier     Notifier
	CancelOnExit bool
	// Tick overrides the price increment; zero means DefaultTick.
	Tick float64
}

// Controller runs the polling cycle for a single position target. At most
// one order mutation is issued per cycle; the broker's polled state, not
// the command history, decides the next action.
type Controller struct {
	broker Broker
	target domain.PositionTarget
	snap   *market.Snapshot
	opts   Options
	tick   float64
	log    *slog.Logger

	// Injected for tests.
	newTicker func(time.Duration) *time.Ticker
}

// New creates a controller for the given target.
func New(broker Broker, target domain.PositionTarget, snap *market.Snapshot, opts Options, log *slog.Logger) *Controller {
	tick := opts.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Controller{
		broker:    broker,
		target:    target,
		snap:      snap,
		opts:      opts,
		tick:      tick,
		log:       log.With("component", "chaser", "symbol", target.Symbol),
		newTicker: time.NewTicker,
	}
}

// Run executes polling cycles until the target is achieved, the band policy
// aborts, or the context is cancelled. Transient broker errors are logged
// and retried on the next cycle.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info("starting chase",
		"target_qty", c.target.TargetQty,
		"band_min", c.target.MinPrice,
		"band_max", c.target.MaxPrice,
		"poll_interval", c.target.PollInterval,
		"band_policy", c.target.BandPolicy)

	ticker := c.newTicker(c.target.PollInterval)
	defer ticker.Stop()

	for {
		done, err := c.cycle(ctx)
		if err != nil {
			if errors.Is(err, ErrAborted) || ctx.Err() != nil {
				c.finish(ctx)
				return err
			}
			// Transient failure: keep the resting order and try again
			// next cycle.
			c.log.Warn("cycle failed", "error", err)
		}
		if done {
			c.finish(ctx)
			return nil
		}

		select {
		case <-ctx.Done():
			c.finish(ctx)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// cycle performs one poll-decide-act iteration. It returns done=true when
// the target is achieved.
func (c *Controller) cycle(ctx context.Context) (bool, error) {
	positions, err := c.broker.Balance(ctx)
	if err != nil {
		return false, fmt.Errorf("poll balance: %w", err)
	}
	c.snap.SetPositions(positions)
	held := c.snap.HeldQty(c.target.Symbol)

	if held >= c.target.TargetQty {
		c.notify(ctx, "target_achieved", "Target achieved",
			fmt.Sprintf("%s: held %d >= target %d", c.target.Symbol, held, c.target.TargetQty))
		c.log.Info("target achieved", "held", held)
		return true, nil
	}

	orders, err := c.broker.RevisableOrders(ctx)
	if err != nil {
		return false, fmt.Errorf("poll orders: %w", err)
	}
	c.snap.SetOrders(orders)
	order, hasOrder := c.snap.OpenOrder(c.target.Symbol)

	quote, err := c.broker.Quote(ctx, c.target.Symbol)
	if err != nil {
		return false, fmt.Errorf("poll quote: %w", err)
	}
	c.snap.SetQuote(quote)
	c.publishQuote(ctx, quote)

	action := Decide(c.target, held, quote, order, hasOrder, c.tick)
	c.log.Debug("cycle decision",
		"action", action.Kind.String(),
		"price", action.Price,
		"reason", action.Reason,
		"held", held,
		"best_bid", quote.BestBid(),
		"best_ask", quote.BestAsk())

	switch action.Kind {
	case ActionAchieved:
		c.notify(ctx, "target_achieved", "Target achieved",
			fmt.Sprintf("%s: %s", c.target.Symbol, action.Reason))
		return true, nil

	case ActionAbort:
		c.notify(ctx, "range_violation", "Chase aborted",
			fmt.Sprintf("%s: %s", c.target.Symbol, action.Reason))
		return false, ErrAborted

	case ActionPlace:
		ack, err := c.broker.PlaceBuy(ctx, c.target.Symbol, c.target.OrderQtyPerCycle, action.Price)
		c.audit(ctx, domain.CommandPlace, ack, "", action.Price, c.target.OrderQtyPerCycle, err)
		if err != nil {
			return false, c.mutationError("place", err)
		}
		c.log.Info("order placed", "order_no", ack.OrderNo, "price", action.Price, "qty", c.target.OrderQtyPerCycle)
		c.notify(ctx, "order_placed", "Order placed",
			fmt.Sprintf("%s: qty %d at %v (order %s)", c.target.Symbol, c.target.OrderQtyPerCycle, action.Price, ack.OrderNo))

	case ActionRevise:
		ack, err := c.broker.ReviseOrder(ctx, c.target.Symbol, order.OrderNo, action.Price)
		c.audit(ctx, domain.CommandRevise, ack, order.OrderNo, action.Price, order.RemainingQty, err)
		if err != nil {
			return false, c.mutationError("revise", err)
		}
		c.log.Info("order revised", "orig_no", order.OrderNo, "order_no", ack.OrderNo, "price", action.Price)
		c.notify(ctx, "order_revised", "Order revised",
			fmt.Sprintf("%s: %v -> %v (order %s)", c.target.Symbol, order.Price, action.Price, ack.OrderNo))
	}

	return false, nil
}

// mutationError maps a broker error after a mutation attempt. Business
// rejections are logged with the broker's message and treated as
// transient; the next poll re-reads the true order state.
func (c *Controller) mutationError(op string, err error) error {
	var apiErr *kis.APIError
	if errors.As(err, &apiErr) {
		c.log.Warn("order mutation rejected",
			"op", op, "rt_cd", apiErr.RtCd, "msg", apiErr.Msg)
		c.notify(context.Background(), "error", "Order rejected",
			fmt.Sprintf("%s %s: %s", op, c.target.Symbol, apiErr.Msg))
		return nil
	}
	return fmt.Errorf("%s order: %w", op, err)
}

// finish optionally cancels the resting order when the controller stops.
func (c *Controller) finish(ctx context.Context) {
	if !c.opts.CancelOnExit {
		return
	}
	order, ok := c.snap.OpenOrder(c.target.Symbol)
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	ack, err := c.broker.CancelOrder(cctx, c.target.Symbol, order.OrderNo)
	c.audit(cctx, domain.CommandCancel, ack, order.OrderNo, 0, order.RemainingQty, err)
	if err != nil {
		c.log.Warn("cancel on exit failed", "order_no", order.OrderNo, "error", err)
		return
	}
	c.log.Info("order cancelled on exit", "order_no", order.OrderNo)
}

// audit records an order command in the audit store, including failed
// attempts.
func (c *Controller) audit(ctx context.Context, action domain.CommandAction, ack kis.OrderAck, origNo string, price float64, qty int64, cmdErr error) {
	if c.opts.Commands == nil {
		return
	}

	cmd := domain.OrderCommand{
		ID:       uuid.NewString(),
		Action:   action,
		Symbol:   c.target.Symbol,
		OrderNo:  ack.OrderNo,
		OrigNo:   origNo,
		Price:    price,
		Quantity: qty,
		RtCd:     ack.RtCd,
		Message:  ack.Msg,
		IssuedAt: time.Now(),
	}
	if cmdErr != nil && cmd.Message == "" {
		cmd.Message = cmdErr.Error()
	}

	if err := c.opts.Commands.Record(ctx, cmd); err != nil {
		c.log.Warn("failed to record command", "action", action, "error", err)
	}
}

// publishQuote mirrors the latest quote into the shared cache.
func (c *Controller) publishQuote(ctx context.Context, q domain.QuoteSnapshot) {
	if c.opts.QuoteCache == nil {
		return
	}
	if err := c.opts.QuoteCache.SetQuote(ctx, q); err != nil {
		c.log.Warn("failed to publish quote", "error", err)
	}
}

// notify sends an operator notification, dropping delivery errors.
func (c *Controller) notify(ctx context.Context, event, title, message string) {
	if c.opts.Notifier == nil {
		return
	}
	if err := c.opts.Notifier.Notify(ctx, event, title, message); err != nil {
		c.log.Warn("notification failed", "event", event, "error", err)
	}
}
