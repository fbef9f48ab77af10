package trade

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mvbraga/peertrade/internal/custodian"
	"github.com/mvbraga/peertrade/internal/events"
	"github.com/mvbraga/peertrade/internal/metrics"
)

// settlerBatch bounds how many parked trades one sweep picks up.
const settlerBatch = 50

// Settler drives trades parked in payment_confirmed or refund_pending
// to their terminal phase once the custodian is reachable again.
type Settler struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSettler creates a settler polling at the given interval.
func NewSettler(service *Service, interval time.Duration, logger *slog.Logger) *Settler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Settler{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the settler loop is active.
func (s *Settler) Running() bool {
	return s.running.Load()
}

// Start launches the settlement loop. Call Stop to end it.
func (s *Settler) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.safeSweep(ctx)
			case <-s.stop:
				s.running.Store(false)
				return
			case <-ctx.Done():
				s.running.Store(false)
				return
			}
		}
	}()
}

// Stop halts the settlement loop.
func (s *Settler) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Settler) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("settler sweep panicked", "panic", r)
		}
	}()
	s.Sweep(ctx)
}

// Sweep settles one batch of parked trades in each pending phase.
func (s *Settler) Sweep(ctx context.Context) {
	for _, phase := range []Phase{PhasePaymentConfirmed, PhaseRefundPending} {
		trades, err := s.service.store.ListByPhase(ctx, phase, settlerBatch)
		if err != nil {
			s.logger.Error("settler: failed to list trades", "phase", phase, "error", err)
			continue
		}
		for _, t := range trades {
			if err := s.service.settlePending(ctx, t.ID); err != nil {
				s.logger.Warn("settler: settlement still failing",
					"trade_id", t.ID, "phase", phase, "error", err)
			}
		}
	}
}

// settlePending retries the settlement a pending trade is waiting on.
// If the custodian reports the escrow already settled, the escrow
// record is the source of truth and its direction decides the terminal
// phase.
func (s *Service) settlePending(ctx context.Context, tradeID string) error {
	unlock, err := s.locks.LockContext(ctx, tradeID)
	if err != nil {
		return err
	}
	defer unlock()

	t, err := s.store.Get(ctx, tradeID)
	if err != nil {
		return err
	}

	var (
		direction string
		target    Phase
		receipt   *custodian.Receipt
	)
	from := t.Phase
	switch t.Phase {
	case PhasePaymentConfirmed:
		direction, target = "release", PhaseCompleted
		receipt, err = s.custodian.Release(ctx, t.ID)
	case PhaseRefundPending:
		direction, target = "refund", PhaseCancelled
		receipt, err = s.custodian.Refund(ctx, t.ID)
	default:
		// Already settled by a concurrent path.
		return nil
	}

	switch {
	case err == nil:
		metrics.SettlementsTotal.WithLabelValues(direction, "success").Inc()
		t.Phase = target
		t.SettlementReceiptID = receipt.ID
	case errors.Is(err, custodian.ErrAlreadySettled):
		esc, gerr := s.custodian.Get(ctx, t.ID)
		if gerr != nil {
			return gerr
		}
		switch esc.Status {
		case custodian.StatusReleased:
			t.Phase = PhaseCompleted
		case custodian.StatusRefunded:
			t.Phase = PhaseCancelled
		default:
			return err
		}
		t.SettlementReceiptID = esc.ReceiptID
		s.logger.Warn("adopted escrow settlement direction",
			"trade_id", t.ID, "phase", t.Phase)
	default:
		metrics.SettlementsTotal.WithLabelValues(direction, "unavailable").Inc()
		return err
	}

	t.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, t); err != nil {
		return err
	}

	switch t.Phase {
	case PhaseCompleted:
		s.systemMessage(ctx, t.ID, "escrow released to buyer, trade completed")
		s.publishPhase(ctx, events.EventTradeCompleted, t, "", from)
	case PhaseCancelled:
		s.systemMessage(ctx, t.ID, "escrow refunded to seller, trade cancelled")
		s.publishPhase(ctx, events.EventTradeCancelled, t, "", from)
	}
	metrics.TradeTransitionsTotal.WithLabelValues("settle", string(t.Phase)).Inc()
	return nil
}
