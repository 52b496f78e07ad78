package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/avelezcr/washpay-backend/pkg/config"
	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/outbox"
	"github.com/avelezcr/washpay-backend/pkg/outbox/payloads"
	"github.com/avelezcr/washpay-backend/pkg/outbox/registry"
)

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakePubSub struct{}

func (fakePubSub) Ping(context.Context) error            { return nil }
func (fakePubSub) Publisher(string) *gcppubsub.Publisher { return nil }

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error) {
	return f.resolved, f.err
}

type fakePublishResult struct {
	err error
}

func (r fakePublishResult) Get(context.Context) (string, error) {
	return "server-id", r.err
}

type fakePublisher struct {
	results []publishResult
	calls   int
}

func (p *fakePublisher) Publish(context.Context, *gcppubsub.Message) publishResult {
	result := p.results[p.calls%len(p.results)]
	p.calls++
	return result
}

func mustEnvelopePayload(t *testing.T, marker string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]string{"marker": marker})
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	body, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, reg registryResolver, dlq dlqRepository) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.Outbox.BatchSize = 10
	cfg.Outbox.MaxAttempts = 3
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            fakeDB{},
		PubSub:        fakePubSub{},
		Repository:    repo,
		Registry:      reg,
		DLQRepository: dlq,
		PublisherFactory: func(topic string) publisher {
			return pub
		},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service
}

func ordersEvent(t *testing.T, marker string) models.OutboxEvent {
	t.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, marker),
		CreatedAt:     time.Now(),
	}
}

func resolvedOrderPaid() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			Topic:         "orders-topic",
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    uuid.NewString(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.OrderPaidEvent{},
	}
}

func TestProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		ordersEvent(t, "event-one"),
		ordersEvent(t, "event-two"),
	}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("transient")},
		fakePublishResult{},
	}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: resolvedOrderPaid()}, dlq)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to report processed")
	}
	if len(repo.failed) != 1 || repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed rows = %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != repo.events[1].ID {
		t.Fatalf("published rows = %v", repo.published)
	}
	if len(dlq.entries) != 0 {
		t.Fatal("transient failures must not reach the dlq")
	}
}

func TestProcessBatchDeadLettersAfterMaxAttempts(t *testing.T) {
	event := ordersEvent(t, "stuck")
	event.AttemptCount = 2 // next failure crosses maxAttempts=3
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("still broken")},
	}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: resolvedOrderPaid()}, dlq)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != event.ID {
		t.Fatalf("terminal rows = %v", repo.terminal)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(dlq.entries))
	}
	if dlq.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("dlq reason = %s", dlq.entries[0].ErrorReason)
	}
}

func TestProcessBatchDeadLettersUnresolvableEvent(t *testing.T) {
	event := ordersEvent(t, "bad-schema")
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("unsupported event type"))}
	service := newTestService(t, repo, &fakePublisher{results: []publishResult{fakePublishResult{}}}, reg, dlq)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("dlq entries = %+v", dlq.entries)
	}
	if len(repo.published) != 0 {
		t.Fatal("unresolvable event must not publish")
	}
}
