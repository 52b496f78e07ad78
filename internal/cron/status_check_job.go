package cron

import (
	"context"
	"fmt"

	"github.com/avelezcr/washpay-backend/pkg/logger"
)

type dueCompleter interface {
	CompleteDue(ctx context.Context) (int, error)
}

// NewStatusCheckJob builds the job that finishes washes whose estimated end
// has passed. It backstops the happy path where nobody polls the order.
func NewStatusCheckJob(completer dueCompleter, logg *logger.Logger) (Job, error) {
	if completer == nil {
		return nil, fmt.Errorf("due completer required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &statusCheckJob{completer: completer, logg: logg}, nil
}

type statusCheckJob struct {
	completer dueCompleter
	logg      *logger.Logger
}

func (j *statusCheckJob) Name() string { return "status-check" }

func (j *statusCheckJob) Run(ctx context.Context) error {
	completed, err := j.completer.CompleteDue(ctx)
	if err != nil {
		return fmt.Errorf("complete due orders: %w", err)
	}
	if completed > 0 {
		j.logg.Info(j.logg.WithField(ctx, "count", completed), "overdue orders completed")
	}
	return nil
}
