package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/outbox"
	"github.com/avelezcr/washpay-backend/pkg/outbox/payloads"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	erpResyncLookback = 7 * 24 * time.Hour
	erpResyncBatch    = 100
)

type unsyncedOrderReader interface {
	FindTerminalMissingErpGUID(ctx context.Context, since time.Time, limit int) ([]models.Order, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ErpResyncJobParams configure the ERP resync sweep.
type ErpResyncJobParams struct {
	Logger *logger.Logger
	DB     txRunner
	Reader unsyncedOrderReader
	Outbox outboxEmitter
}

// NewErpResyncJob builds the job that re-requests ERP mirroring for terminal
// orders that never got a GUID. The sync consumer is idempotent, so emitting
// for an order that syncs in the meantime is harmless.
func NewErpResyncJob(params ErpResyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("unsynced order reader required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &erpResyncJob{
		logg:   params.Logger,
		db:     params.DB,
		reader: params.Reader,
		outbox: params.Outbox,
		now:    time.Now,
	}, nil
}

type erpResyncJob struct {
	logg   *logger.Logger
	db     txRunner
	reader unsyncedOrderReader
	outbox outboxEmitter
	now    func() time.Time
}

func (j *erpResyncJob) Name() string { return "erp-resync" }

func (j *erpResyncJob) Run(ctx context.Context) error {
	since := j.now().Add(-erpResyncLookback)
	orders, err := j.reader.FindTerminalMissingErpGUID(ctx, since, erpResyncBatch)
	if err != nil {
		return fmt.Errorf("query unsynced orders: %w", err)
	}

	// one bad order must not starve the rest of the sweep
	var errs error
	count := 0
	for _, order := range orders {
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventErpSyncRequested,
				AggregateType: enums.AggregateErpObject,
				AggregateID:   order.ID,
				Version:       1,
				Actor:         &outbox.ActorRef{System: "washpay"},
				Data: payloads.ErpSyncRequestedEvent{
					ObjectType: enums.ErpObjectOrder,
					ObjectID:   order.ID,
					Action:     enums.ErpSyncActionUpsert,
				},
			})
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("emit erp resync for order %s: %w", order.ID, err))
			continue
		}
		count++
	}
	if count > 0 {
		j.logg.Info(j.logg.WithField(ctx, "count", count), "erp resync requests emitted")
	}
	return errs
}
