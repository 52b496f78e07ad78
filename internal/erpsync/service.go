package erpsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/avelezcr/washpay-backend/internal/orders"
	"github.com/avelezcr/washpay-backend/pkg/config"
	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/avelezcr/washpay-backend/pkg/erp"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const rateLimitScope = "erp_sync"

type erpClient interface {
	Search(ctx context.Context, objectType string, filter erp.Filter) ([]erp.Object, error)
	Create(ctx context.Context, objectType string, payload any) (string, error)
	Update(ctx context.Context, objectType, guid string, payload any) error
	Delete(ctx context.Context, objectType, guid string) error
}

type guidStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	GuidCacheKey(objectType, objectID string) string
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Service mirrors business objects into the remote ERP. Syncs are serialized
// per object and throttled globally; a throttled sync returns an error so the
// message is redelivered later.
type Service interface {
	Sync(ctx context.Context, event payloads.ErpSyncRequestedEvent) error
}

type service struct {
	repo   Repository
	orders orders.Repository
	erp    erpClient
	store  guidStore
	cfg    config.ERPConfig
	logg   *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService builds the ERP sync service.
func NewService(
	repo Repository,
	ordersRepo orders.Repository,
	client erpClient,
	store guidStore,
	cfg config.ERPConfig,
	logg *logger.Logger,
) (Service, error) {
	switch {
	case repo == nil:
		return nil, fmt.Errorf("erpsync repository required")
	case ordersRepo == nil:
		return nil, fmt.Errorf("orders repository required")
	case client == nil:
		return nil, fmt.Errorf("erp client required")
	case store == nil:
		return nil, fmt.Errorf("redis store required")
	case logg == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:   repo,
		orders: ordersRepo,
		erp:    client,
		store:  store,
		cfg:    cfg,
		logg:   logg,
		locks:  map[string]*sync.Mutex{},
	}, nil
}

func (s *service) Sync(ctx context.Context, event payloads.ErpSyncRequestedEvent) error {
	if !event.ObjectType.IsValid() || !event.Action.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid erp sync request")
	}

	allowed, _, err := s.store.FixedWindowAllow(ctx, rateLimitScope, s.cfg.RateLimit, s.cfg.RateWindow)
	if err != nil {
		s.logg.Error(ctx, "erp rate limit check failed", err)
	} else if !allowed {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "erp sync throttled")
	}

	lock := s.objectLock(event.ObjectType, event.ObjectID)
	lock.Lock()
	defer lock.Unlock()

	ctx = s.logg.WithFields(ctx, map[string]any{
		"erp_object_type": string(event.ObjectType),
		"erp_object_id":   event.ObjectID.String(),
		"erp_action":      string(event.Action),
	})

	var syncErr error
	switch event.Action {
	case enums.ErpSyncActionDelete:
		syncErr = s.delete(ctx, event)
	default:
		syncErr = s.upsert(ctx, event)
	}
	return syncErr
}

func (s *service) upsert(ctx context.Context, event payloads.ErpSyncRequestedEvent) error {
	payload, naturalKey, err := s.buildPayload(ctx, event)
	if err != nil {
		s.log(ctx, event, nil, payload, err)
		return err
	}

	guid, err := s.resolveGUID(ctx, event, naturalKey)
	if err != nil {
		s.log(ctx, event, nil, payload, err)
		return err
	}

	if guid == "" {
		guid, err = s.erp.Create(ctx, string(event.ObjectType), payload)
		if err != nil {
			s.log(ctx, event, nil, payload, err)
			return err
		}
		if err := s.persistGUID(ctx, event, guid); err != nil {
			s.logg.Error(ctx, "persist erp guid failed", err)
		}
	} else if err := s.erp.Update(ctx, string(event.ObjectType), guid, payload); err != nil {
		s.log(ctx, event, &guid, payload, err)
		return err
	}

	s.log(ctx, event, &guid, payload, nil)
	s.logg.Info(ctx, "erp object synced")
	return nil
}

func (s *service) delete(ctx context.Context, event payloads.ErpSyncRequestedEvent) error {
	guid, err := s.resolveGUID(ctx, event, nil)
	if err != nil {
		s.log(ctx, event, nil, nil, err)
		return err
	}
	if guid == "" {
		// never mirrored, nothing to remove
		s.log(ctx, event, nil, nil, nil)
		return nil
	}
	if err := s.erp.Delete(ctx, string(event.ObjectType), guid); err != nil {
		s.log(ctx, event, &guid, nil, err)
		return err
	}
	s.log(ctx, event, &guid, nil, nil)
	return nil
}

// resolveGUID walks cache, reference table, then the remote natural-key
// search. The layered lookup is what keeps retried upserts from creating
// duplicate remote objects.
func (s *service) resolveGUID(ctx context.Context, event payloads.ErpSyncRequestedEvent, naturalKey erp.Filter) (string, error) {
	cacheKey := s.store.GuidCacheKey(string(event.ObjectType), event.ObjectID.String())
	if cached, err := s.store.Get(ctx, cacheKey); err == nil && cached != "" {
		return cached, nil
	}

	ref, err := s.repo.FindReference(ctx, event.ObjectType, event.ObjectID)
	if err == nil {
		s.cacheGUID(ctx, cacheKey, ref.GUID)
		return ref.GUID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load erp reference")
	}

	if len(naturalKey) == 0 {
		return "", nil
	}
	remote, err := s.erp.Search(ctx, string(event.ObjectType), naturalKey)
	if err != nil {
		return "", err
	}
	if len(remote) == 0 {
		return "", nil
	}
	guid := remote[0].GUID
	if err := s.persistGUID(ctx, event, guid); err != nil {
		s.logg.Error(ctx, "persist erp guid failed", err)
	}
	return guid, nil
}

func (s *service) persistGUID(ctx context.Context, event payloads.ErpSyncRequestedEvent, guid string) error {
	err := s.repo.SaveReference(ctx, &models.ErpReference{
		ObjectType: event.ObjectType,
		ObjectID:   event.ObjectID,
		GUID:       guid,
	})
	if err != nil {
		return err
	}
	s.cacheGUID(ctx, s.store.GuidCacheKey(string(event.ObjectType), event.ObjectID.String()), guid)
	if event.ObjectType == enums.ErpObjectOrder {
		if err := s.orders.Update(ctx, event.ObjectID, map[string]any{"erp_guid": guid}); err != nil {
			s.logg.Error(ctx, "stamp order erp guid failed", err)
		}
	}
	return nil
}

func (s *service) cacheGUID(ctx context.Context, key, guid string) {
	if err := s.store.Set(ctx, key, guid, s.cfg.GUIDCacheTTL); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "erp guid cache write failed")
	}
}

func (s *service) buildPayload(ctx context.Context, event payloads.ErpSyncRequestedEvent) (map[string]any, erp.Filter, error) {
	switch event.ObjectType {
	case enums.ErpObjectOrder:
		order, err := s.orders.FindByID(ctx, event.ObjectID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found for erp sync")
			}
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		return orderPayload(order), erp.Filter{"sequence_no": order.SequenceNo}, nil
	default:
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("no erp payload builder for object type %s", event.ObjectType))
	}
}

func orderPayload(order *models.Order) map[string]any {
	items := make([]map[string]any, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, map[string]any{
			"name":       item.Name,
			"qty":        item.Qty,
			"unit_price": item.UnitPrice,
			"total":      item.TotalPrice,
		})
	}
	payload := map[string]any{
		"sequence_no":       order.SequenceNo,
		"customer_id":       order.CustomerID.String(),
		"status":            string(order.Status),
		"sub_total":         order.SubTotal,
		"discount_amount":   order.DiscountAmount,
		"membership_amount": order.MembershipAmount,
		"tax_amount":        order.TaxAmount,
		"extra_fee":         order.ExtraFee,
		"grand_total":       order.GrandTotal,
		"items":             items,
	}
	if order.CompletedAt != nil {
		payload["completed_at"] = order.CompletedAt
	}
	return payload
}

func (s *service) log(ctx context.Context, event payloads.ErpSyncRequestedEvent, guid *string, payload map[string]any, syncErr error) {
	entry := &models.ErpSyncLog{
		ObjectType: event.ObjectType,
		ObjectID:   event.ObjectID,
		Action:     event.Action,
		GUID:       guid,
		Success:    syncErr == nil,
	}
	if syncErr != nil {
		msg := syncErr.Error()
		entry.Error = &msg
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			entry.Payload = raw
		}
	}
	if err := s.repo.LogAttempt(ctx, entry); err != nil {
		s.logg.Error(ctx, "write erp sync log failed", err)
	}
}

func (s *service) objectLock(objectType enums.ErpObjectType, objectID uuid.UUID) *sync.Mutex {
	key := string(objectType) + ":" + objectID.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}
