package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avelezcr/washpay-backend/internal/erpsync"
	"github.com/avelezcr/washpay-backend/internal/fulfillment"
	"github.com/avelezcr/washpay-backend/pkg/config"
	"github.com/avelezcr/washpay-backend/pkg/db"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/pubsub"
	"github.com/avelezcr/washpay-backend/pkg/redis"
)

type ServiceParams struct {
	Config              *config.Config
	Logger              *logger.Logger
	DB                  *db.Client
	Redis               *redis.Client
	PubSub              *pubsub.Client
	FulfillmentConsumer *fulfillment.Consumer
	SyncConsumer        *erpsync.Consumer
}

// Service supervises the event consumers that drive fulfillment and ERP sync.
type Service struct {
	cfg         *config.Config
	logg        *logger.Logger
	db          *db.Client
	redis       *redis.Client
	pubsub      *pubsub.Client
	fulfillment *fulfillment.Consumer
	sync        *erpsync.Consumer
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Redis == nil:
		return nil, errors.New("redis client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.FulfillmentConsumer == nil:
		return nil, errors.New("fulfillment consumer is required")
	case params.SyncConsumer == nil:
		return nil, errors.New("sync consumer is required")
	}

	return &Service{
		cfg:         params.Config,
		logg:        params.Logger,
		db:          params.DB,
		redis:       params.Redis,
		pubsub:      params.PubSub,
		fulfillment: params.FulfillmentConsumer,
		sync:        params.SyncConsumer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	errCh := make(chan error, 2)
	go func() {
		errCh <- s.fulfillment.Run(ctx)
	}()
	go func() {
		errCh <- s.sync.Run(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "worker context canceled")
			return ctx.Err()
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "consumer stopped unexpectedly", err)
				return err
			}
			return err
		case <-ticker.C:
			s.logg.Info(ctx, "worker consumers alive")
		}
	}
}
