// Package scheduler fires payment-window deadlines for trades.
//
// Each trade has at most one armed deadline. Arming again replaces the
// previous deadline; disarming removes it. Deadlines survive restarts
// through the durable store, and a poll loop delivers the ones that
// have come due.
//
// Delivery is at most once: the record is deleted before the handler
// runs. The handler re-checks trade state under the trade's lock, so a
// deadline that became stale between firing and handling is a no-op
// there.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

var ErrNotArmed = errors.New("no deadline armed for trade")

// Deadline is one armed timeout.
type Deadline struct {
	TradeID string    `json:"tradeId"`
	FiresAt time.Time `json:"firesAt"`
	ArmedAt time.Time `json:"armedAt"`
}

// Store persists armed deadlines.
type Store interface {
	// Upsert arms or replaces the deadline for d.TradeID.
	Upsert(ctx context.Context, d *Deadline) error

	// Delete removes a trade's deadline. It reports whether one was
	// armed.
	Delete(ctx context.Context, tradeID string) (bool, error)

	// ListDue returns up to limit deadlines with FiresAt <= now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Deadline, error)
}

// Handler receives fired deadlines.
type Handler func(ctx context.Context, tradeID string, firesAt time.Time)

// Scheduler polls the store and delivers due deadlines.
type Scheduler struct {
	store    Store
	handler  Handler
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// New creates a scheduler polling at interval.
func New(store Store, handler Handler, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		handler:  handler,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Arm schedules (or reschedules) the deadline for tradeID.
func (s *Scheduler) Arm(ctx context.Context, tradeID string, firesAt time.Time) error {
	return s.store.Upsert(ctx, &Deadline{
		TradeID: tradeID,
		FiresAt: firesAt,
		ArmedAt: time.Now(),
	})
}

// Disarm cancels the deadline for tradeID. Disarming a trade with no
// deadline is a no-op.
func (s *Scheduler) Disarm(ctx context.Context, tradeID string) error {
	_, err := s.store.Delete(ctx, tradeID)
	return err
}

// Running reports whether the poll loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start begins the poll loop. Call in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeFireDue(ctx)
		}
	}
}

// Stop signals the poll loop to stop.
func (s *Scheduler) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Scheduler) safeFireDue(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in deadline scheduler", "panic", fmt.Sprint(r))
		}
	}()
	s.fireDue(ctx)
}

func (s *Scheduler) fireDue(ctx context.Context) {
	due, err := s.store.ListDue(ctx, time.Now(), 100)
	if err != nil {
		s.logger.Warn("failed to list due deadlines", "error", err)
		return
	}

	for _, d := range due {
		// Delete before delivering so a crash mid-handler cannot
		// double-fire. The trade engine tolerates a lost firing by
		// re-arming on its next transition.
		deleted, err := s.store.Delete(ctx, d.TradeID)
		if err != nil {
			s.logger.Warn("failed to delete due deadline", "tradeId", d.TradeID, "error", err)
			continue
		}
		if !deleted {
			// Disarmed between listing and firing.
			continue
		}

		s.logger.Info("deadline fired", "tradeId", d.TradeID, "firesAt", d.FiresAt)
		s.handler(ctx, d.TradeID, d.FiresAt)
	}
}
