package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/avelezcr/washpay-backend/pkg/config"
	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/google/uuid"
)

type pendingTxnReader interface {
	FindExpiredPending(ctx context.Context, cutoff time.Time) ([]models.OrderTransaction, error)
}

type expiryScheduler interface {
	Schedule(txnID uuid.UUID, fireAt time.Time)
}

// NewExpiryReseedJob builds the job that re-arms expiry timers for pending
// payment attempts. In-memory timers die with the worker process; this job
// puts them back so abandoned attempts still terminalize after a restart.
func NewExpiryReseedJob(reader pendingTxnReader, scheduler expiryScheduler, cfg config.PaymentConfig, logg *logger.Logger) (Job, error) {
	if reader == nil {
		return nil, fmt.Errorf("pending transaction reader required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("expiry scheduler required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &expiryReseedJob{
		reader:    reader,
		scheduler: scheduler,
		cfg:       cfg,
		logg:      logg,
		now:       time.Now,
	}, nil
}

type expiryReseedJob struct {
	reader    pendingTxnReader
	scheduler expiryScheduler
	cfg       config.PaymentConfig
	logg      *logger.Logger
	now       func() time.Time
}

func (j *expiryReseedJob) Name() string { return "expiry-reseed" }

func (j *expiryReseedJob) Run(ctx context.Context) error {
	// the cutoff reaches one full window ahead so freshly opened attempts
	// are re-armed too; scheduling an id twice just replaces the timer
	cutoff := j.now().Add(j.cfg.QRWindow + j.cfg.ExpiryGrace)
	pending, err := j.reader.FindExpiredPending(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("load pending transactions: %w", err)
	}

	for _, txn := range pending {
		if txn.ExpiresAt == nil {
			continue
		}
		j.scheduler.Schedule(txn.ID, txn.ExpiresAt.Add(j.cfg.ExpiryGrace))
	}
	if len(pending) > 0 {
		j.logg.Info(j.logg.WithField(ctx, "count", len(pending)), "expiry timers reseeded")
	}
	return nil
}
