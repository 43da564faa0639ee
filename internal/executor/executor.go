// Package executor submits replica orders and resolves them to a terminal
// fill state through a bounded confirmation poll loop.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Config holds the confirmation timing knobs.
type Config struct {
	// PollInterval is the spacing between status polls.
	PollInterval time.Duration
	// FAKTimeout bounds confirmation for fill-and-kill orders, which may
	// rest briefly while the remainder cancels.
	FAKTimeout time.Duration
	// FOKTimeout bounds confirmation for fill-or-kill orders, which resolve
	// like market orders.
	FOKTimeout time.Duration
	// DryRun simulates an immediate full fill without touching the gateway.
	DryRun bool
}

// DefaultConfig returns the standard confirmation timings.
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		FAKTimeout:   15 * time.Second,
		FOKTimeout:   10 * time.Second,
	}
}

// Result is the terminal outcome of one execution attempt. ExecutedSize and
// ExecutedPrice carry the actual fill, which may differ from the requested
// spec; LastFilledSize reports any partial fill observed before a timeout
// for operator visibility only.
type Result struct {
	Success        bool
	OrderID        string
	ExecutedSize   float64
	ExecutedPrice  float64
	LastStatus     domain.OrderStatus
	LastFilledSize float64
	TimedOut       bool
	Err            error
}

// Executor drives order submission and confirmation against the gateway.
type Executor struct {
	gateway domain.OrderGateway
	cfg     Config
	logger  *slog.Logger
}

// New creates an Executor. Zero config fields fall back to the defaults.
func New(gateway domain.OrderGateway, cfg Config, logger *slog.Logger) *Executor {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.FAKTimeout <= 0 {
		cfg.FAKTimeout = def.FAKTimeout
	}
	if cfg.FOKTimeout <= 0 {
		cfg.FOKTimeout = def.FOKTimeout
	}
	return &Executor{
		gateway: gateway,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "executor")),
	}
}

// Execute submits the spec and blocks until the order reaches a terminal
// state or the confirmation deadline passes. refPrice is the source trade
// price, used as the fill price for dry runs and as a fallback when the
// gateway reports a fill without a price.
//
// On timeout a best-effort cancel is issued and the attempt is reported as
// not filled with the last-known status; any partial fill observed is NOT
// treated as executed inventory.
func (e *Executor) Execute(ctx context.Context, spec domain.ReplicaOrderSpec, refPrice float64) Result {
	log := e.logger.With(
		slog.String("asset", spec.Asset),
		slog.String("side", string(spec.Side)),
		slog.Float64("size", spec.Size),
		slog.String("kind", string(spec.Kind)),
	)

	if e.cfg.DryRun {
		id := "dry-" + uuid.New().String()
		log.Info("dry run fill", slog.String("order_id", id), slog.Float64("price", refPrice))
		return Result{
			Success:       true,
			OrderID:       id,
			ExecutedSize:  spec.Size,
			ExecutedPrice: refPrice,
			LastStatus:    domain.OrderStatusFilled,
		}
	}

	submitted, err := e.gateway.SubmitOrder(ctx, spec)
	if err != nil {
		log.Error("order submission failed", slog.String("error", err.Error()))
		return Result{
			LastStatus: domain.OrderStatusRejected,
			Err:        fmt.Errorf("executor: submit order: %w", err),
		}
	}
	if !submitted.Success {
		log.Warn("order rejected", slog.String("message", submitted.ErrorMessage))
		return Result{
			OrderID:    submitted.OrderID,
			LastStatus: domain.OrderStatusRejected,
			Err:        fmt.Errorf("executor: order rejected: %s", submitted.ErrorMessage),
		}
	}

	// Aggressive order kinds commonly fill in the submission response.
	if submitted.SyncFillSize > 0 {
		price := submitted.SyncFillPrice
		if price <= 0 {
			price = refPrice
		}
		log.Info("order filled synchronously",
			slog.String("order_id", submitted.OrderID),
			slog.Float64("filled_size", submitted.SyncFillSize),
		)
		return Result{
			Success:       true,
			OrderID:       submitted.OrderID,
			ExecutedSize:  submitted.SyncFillSize,
			ExecutedPrice: price,
			LastStatus:    domain.OrderStatusFilled,
		}
	}

	return e.confirm(ctx, submitted.OrderID, spec, refPrice, log)
}

// confirm polls the order at a fixed interval until it reaches a terminal
// status or the per-kind deadline passes.
func (e *Executor) confirm(ctx context.Context, orderID string, spec domain.ReplicaOrderSpec, refPrice float64, log *slog.Logger) Result {
	timeout := e.cfg.FAKTimeout
	if spec.Kind == domain.OrderKindFOK {
		timeout = e.cfg.FOKTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	last := domain.OrderState{Status: domain.OrderStatusNew}

	for {
		select {
		case <-ctx.Done():
			e.cancelQuietly(orderID, log)
			return Result{
				OrderID:        orderID,
				LastStatus:     last.Status,
				LastFilledSize: last.FilledSize,
				Err:            fmt.Errorf("executor: confirm order %s: %w", orderID, ctx.Err()),
			}

		case <-deadline.C:
			log.Warn("confirmation timed out",
				slog.String("order_id", orderID),
				slog.String("last_status", string(last.Status)),
				slog.Float64("last_filled", last.FilledSize),
			)
			e.cancelQuietly(orderID, log)
			return Result{
				OrderID:        orderID,
				LastStatus:     last.Status,
				LastFilledSize: last.FilledSize,
				TimedOut:       true,
				Err: fmt.Errorf("executor: order %s not filled (last status %s): %w",
					orderID, last.Status, domain.ErrConfirmTimeout),
			}

		case <-ticker.C:
			state, err := e.gateway.OrderStatus(ctx, orderID)
			if err != nil {
				log.Warn("status poll failed",
					slog.String("order_id", orderID),
					slog.String("error", err.Error()),
				)
				continue
			}
			last = state

			if !state.Status.Terminal() {
				// PARTIALLY_FILLED is report-only; keep polling until the
				// deadline decides.
				continue
			}

			if state.Status == domain.OrderStatusFilled {
				size := state.FilledSize
				if size <= 0 {
					size = spec.Size
				}
				price := state.AvgFillPrice
				if price <= 0 {
					price = refPrice
				}
				log.Info("order filled",
					slog.String("order_id", orderID),
					slog.Float64("filled_size", size),
					slog.Float64("avg_price", price),
				)
				return Result{
					Success:       true,
					OrderID:       orderID,
					ExecutedSize:  size,
					ExecutedPrice: price,
					LastStatus:    state.Status,
				}
			}

			log.Warn("order ended without fill",
				slog.String("order_id", orderID),
				slog.String("status", string(state.Status)),
			)
			return Result{
				OrderID:        orderID,
				LastStatus:     state.Status,
				LastFilledSize: state.FilledSize,
				Err:            fmt.Errorf("executor: order %s ended %s", orderID, state.Status),
			}
		}
	}
}

// cancelQuietly issues a best-effort cancel with a short standalone context
// so shutdown cannot strand an open order. Errors are swallowed.
func (e *Executor) cancelQuietly(orderID string, log *slog.Logger) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.gateway.CancelOrder(cancelCtx, orderID); err != nil {
		log.Debug("cancel failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
}
