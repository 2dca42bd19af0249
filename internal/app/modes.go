package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seojinlab/kisbot/internal/chaser"
	"github.com/seojinlab/kisbot/internal/domain"
	"github.com/seojinlab/kisbot/internal/platform/kis"
)

// chaseLockTTL bounds how long a crashed process can hold the per-symbol
// chase lock. Long enough to cover a full KRX trading session.
const chaseLockTTL = 8 * time.Hour

// ChaseMode runs the order-repricing controller with the streaming feeds
// alongside it. It returns when the target is achieved, the band policy
// aborts, or the context is cancelled.
func (a *App) ChaseMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting chase mode",
		slog.String("symbol", a.cfg.Chase.Symbol),
		slog.Int64("target_qty", a.cfg.Chase.TargetQty),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Stop the stream once the chase concludes.
		defer cancel()
		return a.runChase(gctx, deps)
	})

	g.Go(func() error {
		err := a.runStream(gctx, deps)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	return g.Wait()
}

// MonitorMode runs read-only streaming: quote, tick, and execution-notice
// feeds are consumed and recorded, but no orders are placed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runStream(ctx, deps)
	})
	return g.Wait()
}

// FullMode runs everything: the repricing controller, the streaming feeds,
// and the periodic archive loop. The stream and archiver keep running after
// the chase target is achieved; a band-policy abort stops the whole mode.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.runChase(ctx, deps)
		if err == nil {
			a.logger.InfoContext(ctx, "chase finished, monitoring continues")
		}
		return err
	})

	g.Go(func() error {
		return a.runStream(ctx, deps)
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps.Archiver)
		})
	}

	return g.Wait()
}

// runChase acquires the per-symbol lock and drives the controller until it
// finishes. The lock guarantees at most one chaser per symbol per account
// across processes.
func (a *App) runChase(ctx context.Context, deps *Dependencies) error {
	unlock, err := deps.Locks.Acquire(ctx, "chase:"+a.cfg.Chase.Symbol, chaseLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("chase mode: another chaser is already running for %s: %w", a.cfg.Chase.Symbol, err)
		}
		return fmt.Errorf("chase mode: acquire lock: %w", err)
	}
	defer unlock()

	// Resolve the bond name so logs and alerts carry more than an ISIN.
	if info, err := deps.Client.IssueInfo(ctx, a.cfg.Chase.Symbol); err != nil {
		a.logger.Warn("issue info lookup failed", "symbol", a.cfg.Chase.Symbol, "error", err)
	} else {
		a.logger.Info("chasing issue",
			"symbol", info.Symbol,
			"name", info.Name,
			"maturity", info.MaturityDate,
			"coupon_rate", info.CouponRate)
	}

	target := domain.PositionTarget{
		Symbol:           a.cfg.Chase.Symbol,
		TargetQty:        a.cfg.Chase.TargetQty,
		OrderQtyPerCycle: a.cfg.Chase.OrderQtyPerCycle,
		MinPrice:         a.cfg.Chase.MinPrice,
		MaxPrice:         a.cfg.Chase.MaxPrice,
		PollInterval:     a.cfg.Chase.PollInterval.Duration,
		BandPolicy:       domain.BandPolicy(a.cfg.Chase.BandPolicy),
	}

	opts := chaser.Options{
		QuoteCache:   deps.QuoteCache,
		Notifier:     deps.Notifier,
		CancelOnExit: a.cfg.Chase.CancelOnExit,
	}
	if deps.Commands != nil {
		opts.Commands = deps.Commands
	}

	ctrl := chaser.New(deps.Client, target, deps.Snapshot, opts, a.logger)
	return ctrl.Run(ctx)
}

// runStream connects the streaming client, registers handlers that fold
// frames into the shared snapshot, and blocks until the context is cancelled.
func (a *App) runStream(ctx context.Context, deps *Dependencies) error {
	deps.Stream.OnQuote(func(q domain.QuoteSnapshot) {
		deps.Snapshot.SetQuote(q)
		if err := deps.QuoteCache.SetQuote(ctx, q); err != nil {
			a.logger.Warn("quote cache publish failed", "symbol", q.Symbol, "error", err)
		}
	})

	deps.Stream.OnTick(func(t domain.Tick) {
		a.logger.Debug("tick",
			"symbol", t.Symbol, "price", t.Price, "volume", t.Volume, "time", t.TradedAt)
	})

	deps.Stream.OnNotice(func(n domain.ExecutionNotice) {
		order := deps.Snapshot.ApplyNotice(n)
		a.logger.Info("execution notice",
			"order_no", n.OrderNo,
			"symbol", n.Symbol,
			"fill_qty", n.FillQty,
			"fill_price", n.FillPrice,
			"rejected", n.IsRejected,
			"state", order.State)

		if deps.Fills != nil {
			if err := deps.Fills.Record(ctx, n); err != nil {
				a.logger.Warn("fill record failed", "order_no", n.OrderNo, "error", err)
			}
		}

		if n.FillQty > 0 {
			msg := fmt.Sprintf("%s (%s): %d @ %.2f on order %s",
				n.Symbol, n.SymbolName, n.FillQty, n.FillPrice, n.OrderNo)
			if err := deps.Notifier.Notify(ctx, "order_filled", "order filled", msg); err != nil {
				a.logger.Warn("fill notification failed", "error", err)
			}
		}
	})

	if err := deps.Stream.Connect(ctx); err != nil {
		return fmt.Errorf("stream: %w", err)
	}

	if sym := a.cfg.Chase.Symbol; sym != "" {
		if err := deps.Stream.Subscribe(ctx, kis.TrStreamQuote, sym); err != nil {
			return fmt.Errorf("stream: quote feed: %w", err)
		}
		if err := deps.Stream.Subscribe(ctx, kis.TrStreamTick, sym); err != nil {
			return fmt.Errorf("stream: tick feed: %w", err)
		}
	}

	if a.cfg.KIS.HTSID != "" {
		noticeTrID := kis.Environment(a.cfg.KIS.Environment).NoticeTrID()
		if err := deps.Stream.Subscribe(ctx, noticeTrID, a.cfg.KIS.HTSID); err != nil {
			return fmt.Errorf("stream: notice feed: %w", err)
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

// runArchiveLoop periodically exports audit rows older than the retention
// window to blob storage. Export failures are logged and retried on the next
// tick.
func (a *App) runArchiveLoop(ctx context.Context, archiver domain.Archiver) error {
	interval := a.cfg.Archive.Interval.Duration
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.InfoContext(ctx, "archive loop started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
			if err := archiver.Archive(ctx, cutoff); err != nil {
				a.logger.Warn("archive run failed", "error", err)
			}
		}
	}
}
