package erpsync

import (
	"context"
	"errors"
	"io"
	"testing"
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
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
}

type memRepo struct {
	refs map[string]*models.ErpReference
	logs []models.ErpSyncLog
}

func refKey(objectType enums.ErpObjectType, objectID uuid.UUID) string {
	return string(objectType) + ":" + objectID.String()
}

func (s *memRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *memRepo) FindReference(ctx context.Context, objectType enums.ErpObjectType, objectID uuid.UUID) (*models.ErpReference, error) {
	if ref, ok := s.refs[refKey(objectType, objectID)]; ok {
		return ref, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memRepo) SaveReference(ctx context.Context, ref *models.ErpReference) error {
	s.refs[refKey(ref.ObjectType, ref.ObjectID)] = ref
	return nil
}

func (s *memRepo) LogAttempt(ctx context.Context, entry *models.ErpSyncLog) error {
	s.logs = append(s.logs, *entry)
	return nil
}

type memOrders struct {
	orders  map[uuid.UUID]*models.Order
	updates []map[string]any
}

func (s *memOrders) WithTx(tx *gorm.DB) orders.Repository { return s }

func (s *memOrders) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	s.orders[order.ID] = order
	return order, nil
}

func (s *memOrders) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if order, ok := s.orders[id]; ok {
		return order, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memOrders) FindBySequenceNo(ctx context.Context, sequenceNo string) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *memOrders) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]models.Order, error) {
	return nil, nil
}

func (s *memOrders) FindLiveByDevice(ctx context.Context, deviceID uuid.UUID) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *memOrders) FindProcessingPastEstimatedEnd(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	return nil, nil
}

func (s *memOrders) FindTerminalMissingErpGUID(ctx context.Context, since time.Time, limit int) ([]models.Order, error) {
	return nil, nil
}

func (s *memOrders) Transition(ctx context.Context, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, updates map[string]any) (bool, error) {
	return false, nil
}

func (s *memOrders) Update(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	s.updates = append(s.updates, updates)
	return nil
}

func (s *memOrders) ReplaceItems(ctx context.Context, orderID uuid.UUID, items []models.OrderItem) error {
	return nil
}

func (s *memOrders) StampItemStart(ctx context.Context, orderID uuid.UUID, startedAt, estimatedEndAt time.Time) error {
	return nil
}

func (s *memOrders) StampItemEnd(ctx context.Context, orderID uuid.UUID, endedAt time.Time) error {
	return nil
}

type stubErp struct {
	searchResult []erp.Object
	createGUID   string
	createErr    error

	searches int
	creates  int
	updates  int
	deletes  int
	lastGUID string
}

func (s *stubErp) Search(ctx context.Context, objectType string, filter erp.Filter) ([]erp.Object, error) {
	s.searches++
	return s.searchResult, nil
}

func (s *stubErp) Create(ctx context.Context, objectType string, payload any) (string, error) {
	s.creates++
	if s.createErr != nil {
		return "", s.createErr
	}
	return s.createGUID, nil
}

func (s *stubErp) Update(ctx context.Context, objectType, guid string, payload any) error {
	s.updates++
	s.lastGUID = guid
	return nil
}

func (s *stubErp) Delete(ctx context.Context, objectType, guid string) error {
	s.deletes++
	s.lastGUID = guid
	return nil
}

type stubStore struct {
	cache   map[string]string
	allowed bool
}

func (s *stubStore) Get(ctx context.Context, key string) (string, error) {
	if v, ok := s.cache[key]; ok {
		return v, nil
	}
	return "", errors.New("redis: nil")
}

func (s *stubStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.cache[key] = value.(string)
	return nil
}

func (s *stubStore) GuidCacheKey(objectType, objectID string) string {
	return "guid:" + objectType + ":" + objectID
}

func (s *stubStore) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	return s.allowed, 1, nil
}

type fixture struct {
	svc    Service
	repo   *memRepo
	orders *memOrders
	erp    *stubErp
	store  *stubStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   &memRepo{refs: map[string]*models.ErpReference{}},
		orders: &memOrders{orders: map[uuid.UUID]*models.Order{}},
		erp:    &stubErp{createGUID: "erp-guid-1"},
		store:  &stubStore{cache: map[string]string{}, allowed: true},
	}
	svc, err := NewService(f.repo, f.orders, f.erp, f.store,
		config.ERPConfig{RateLimit: 30, RateWindow: time.Minute, GUIDCacheTTL: time.Hour}, testLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) seedOrder() *models.Order {
	order := &models.Order{
		ID:         uuid.New(),
		SequenceNo: "WP-20260315-000042",
		CustomerID: uuid.New(),
		Status:     enums.OrderStatusCompleted,
		GrandTotal: 85000,
	}
	f.orders.orders[order.ID] = order
	return order
}

func orderEvent(orderID uuid.UUID, action enums.ErpSyncAction) payloads.ErpSyncRequestedEvent {
	return payloads.ErpSyncRequestedEvent{
		ObjectType: enums.ErpObjectOrder,
		ObjectID:   orderID,
		Action:     action,
	}
}

func TestSyncCreatesUnknownObject(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder()

	if err := f.svc.Sync(context.Background(), orderEvent(order.ID, enums.ErpSyncActionUpsert)); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if f.erp.creates != 1 || f.erp.updates != 0 {
		t.Fatalf("creates=%d updates=%d, want 1/0", f.erp.creates, f.erp.updates)
	}
	ref, ok := f.repo.refs[refKey(enums.ErpObjectOrder, order.ID)]
	if !ok || ref.GUID != "erp-guid-1" {
		t.Fatal("reference not persisted after create")
	}
	if len(f.orders.updates) != 1 || f.orders.updates[0]["erp_guid"] != "erp-guid-1" {
		t.Fatal("order erp_guid not stamped")
	}
	if len(f.repo.logs) != 1 || !f.repo.logs[0].Success {
		t.Fatal("expected one successful sync log")
	}
}

func TestSyncUpdatesKnownObject(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder()
	f.repo.refs[refKey(enums.ErpObjectOrder, order.ID)] = &models.ErpReference{
		ObjectType: enums.ErpObjectOrder,
		ObjectID:   order.ID,
		GUID:       "existing-guid",
	}

	if err := f.svc.Sync(context.Background(), orderEvent(order.ID, enums.ErpSyncActionUpsert)); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if f.erp.creates != 0 || f.erp.updates != 1 {
		t.Fatalf("creates=%d updates=%d, want 0/1", f.erp.creates, f.erp.updates)
	}
	if f.erp.lastGUID != "existing-guid" {
		t.Fatalf("updated guid = %q, want existing-guid", f.erp.lastGUID)
	}
}

func TestSyncAdoptsRemoteObjectByNaturalKey(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder()
	f.erp.searchResult = []erp.Object{{GUID: "remote-guid"}}

	if err := f.svc.Sync(context.Background(), orderEvent(order.ID, enums.ErpSyncActionUpsert)); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if f.erp.creates != 0 {
		t.Fatal("adopting a remote object must not create a duplicate")
	}
	if f.erp.updates != 1 || f.erp.lastGUID != "remote-guid" {
		t.Fatalf("update guid = %q, want remote-guid", f.erp.lastGUID)
	}
	if ref := f.repo.refs[refKey(enums.ErpObjectOrder, order.ID)]; ref == nil || ref.GUID != "remote-guid" {
		t.Fatal("adopted guid not persisted")
	}
}

func TestSyncThrottledRequestIsRejected(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder()
	f.store.allowed = false

	err := f.svc.Sync(context.Background(), orderEvent(order.ID, enums.ErpSyncActionUpsert))
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeRateLimit {
		t.Fatalf("err = %v, want rate limit", err)
	}
	if f.erp.creates+f.erp.updates+f.erp.searches != 0 {
		t.Fatal("throttled sync must not reach the erp")
	}
}

func TestSyncDeleteWithoutReferenceIsNoop(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.Sync(context.Background(), orderEvent(uuid.New(), enums.ErpSyncActionDelete)); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if f.erp.deletes != 0 {
		t.Fatal("no remote delete for an unmapped object")
	}
	if len(f.repo.logs) != 1 || !f.repo.logs[0].Success {
		t.Fatal("expected one successful log for the noop delete")
	}
}

func TestSyncFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder()
	f.erp.createErr = errors.New("erp unavailable")

	if err := f.svc.Sync(context.Background(), orderEvent(order.ID, enums.ErpSyncActionUpsert)); err == nil {
		t.Fatal("expected sync error")
	}
	if len(f.repo.logs) != 1 || f.repo.logs[0].Success {
		t.Fatal("expected one failed sync log")
	}
	if f.repo.logs[0].Error == nil {
		t.Fatal("failed log must carry the error")
	}
}
