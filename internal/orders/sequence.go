package orders

import (
	"context"
	"fmt"
	"time"
)

type sequenceCounter interface {
	NextSequence(ctx context.Context, name string, day time.Time) (int64, error)
}

// Sequencer issues human-readable order numbers.
type Sequencer interface {
	Next(ctx context.Context, now time.Time) (string, error)
}

type sequencer struct {
	counter sequenceCounter
}

// NewSequencer builds the daily order-number generator backed by the shared
// counter (redis in production).
func NewSequencer(counter sequenceCounter) (Sequencer, error) {
	if counter == nil {
		return nil, fmt.Errorf("sequence counter required")
	}
	return &sequencer{counter: counter}, nil
}

// Next returns the next order number, e.g. WP-20260829-000042. The counter
// resets each day.
func (s *sequencer) Next(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counter.NextSequence(ctx, "orders", now)
	if err != nil {
		return "", fmt.Errorf("next order sequence: %w", err)
	}
	return fmt.Sprintf("WP-%s-%06d", now.UTC().Format("20060102"), seq), nil
}
