package expiry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/google/uuid"
)

// Invalidator terminalizes an expired payment attempt. It must re-check the
// row state itself, the scheduler only guarantees the timer fired. A non-nil
// requeueAt asks the scheduler to re-arm, used when the timer fired before
// the window truly elapsed.
type Invalidator interface {
	Invalidate(ctx context.Context, txnID uuid.UUID) (requeueAt *time.Time, err error)
}

// Scheduler owns one-shot timers keyed by transaction id. Cancelling is a map
// delete plus a best-effort timer stop; a timer that already fired neutralizes
// itself through the invalidator's own state re-check.
type Scheduler struct {
	mu          sync.Mutex
	timers      map[uuid.UUID]*time.Timer
	invalidator Invalidator
	logg        *logger.Logger
	closed      bool
}

// NewScheduler builds the expiry timer arena.
func NewScheduler(invalidator Invalidator, logg *logger.Logger) (*Scheduler, error) {
	if invalidator == nil {
		return nil, fmt.Errorf("invalidator required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Scheduler{
		timers:      make(map[uuid.UUID]*time.Timer),
		invalidator: invalidator,
		logg:        logg,
	}, nil
}

// Schedule arms a one-shot timer for the transaction. Scheduling an id that
// already has a timer replaces it.
func (s *Scheduler) Schedule(txnID uuid.UUID, fireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if existing, ok := s.timers[txnID]; ok {
		existing.Stop()
	}

	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	s.timers[txnID] = time.AfterFunc(delay, func() {
		s.fire(txnID)
	})
}

// Cancel disarms the timer for the transaction. Safe to call for unknown ids
// and after the timer has fired.
func (s *Scheduler) Cancel(txnID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[txnID]; ok {
		timer.Stop()
		delete(s.timers, txnID)
	}
}

// Close stops every outstanding timer. Pending rows left behind are picked up
// by the reseed job on the next worker start.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) fire(txnID uuid.UUID) {
	s.mu.Lock()
	delete(s.timers, txnID)
	s.mu.Unlock()

	ctx := s.logg.WithTransactionID(context.Background(), txnID.String())
	requeueAt, err := s.invalidator.Invalidate(ctx, txnID)
	if err != nil {
		s.logg.Error(ctx, "expiry invalidation failed", err)
		return
	}
	if requeueAt != nil {
		s.logg.Info(ctx, "expiry fired early, re-armed")
		s.Schedule(txnID, *requeueAt)
	}
}
