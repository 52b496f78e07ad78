package webhooks

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/avelezcr/washpay-backend/internal/ledger"
	"github.com/avelezcr/washpay-backend/internal/orders"
	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/outbox"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type memOrders struct {
	orders map[uuid.UUID]*models.Order
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
	order, ok := s.orders[orderID]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if order.Status == f {
			order.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (s *memOrders) Update(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
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

type memLedger struct {
	txns map[uuid.UUID]*models.OrderTransaction
}

func (s *memLedger) WithTx(tx *gorm.DB) ledger.Repository { return s }

func (s *memLedger) Create(ctx context.Context, txn *models.OrderTransaction) (*models.OrderTransaction, error) {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	s.txns[txn.ID] = txn
	return txn, nil
}

func (s *memLedger) FindByID(ctx context.Context, id uuid.UUID) (*models.OrderTransaction, error) {
	if txn, ok := s.txns[id]; ok {
		return txn, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memLedger) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderTransaction, error) {
	return nil, nil
}

func (s *memLedger) FindPendingByOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderTransaction, error) {
	for _, txn := range s.txns {
		if txn.OrderID == orderID && txn.Status == enums.TransactionStatusPending {
			return txn, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memLedger) FindByProviderTxnID(ctx context.Context, providerTxnID string) (*models.OrderTransaction, error) {
	for _, txn := range s.txns {
		if txn.ProviderTxnID != nil && *txn.ProviderTxnID == providerTxnID {
			return txn, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memLedger) FindExpiredPending(ctx context.Context, cutoff time.Time) ([]models.OrderTransaction, error) {
	return nil, nil
}

func (s *memLedger) DeleteStalePendingQR(ctx context.Context, orderID uuid.UUID) error {
	return nil
}

func (s *memLedger) Terminalize(ctx context.Context, txnID uuid.UUID, from, to enums.TransactionStatus, updates map[string]any) (bool, error) {
	txn, ok := s.txns[txnID]
	if !ok || txn.Status != from {
		return false, nil
	}
	txn.Status = to
	if v, ok := updates["received_amount"]; ok {
		amount := v.(int64)
		txn.ReceivedAmount = &amount
	}
	return true, nil
}

func (s *memLedger) Update(ctx context.Context, txnID uuid.UUID, updates map[string]any) error {
	return nil
}

type stubRollbacker struct {
	calls int
}

func (s *stubRollbacker) Rollback(ctx context.Context, voucherIDs []string, orderID string) error {
	s.calls++
	return nil
}

type stubExpiry struct {
	canceled []uuid.UUID
}

func (s *stubExpiry) Cancel(txnID uuid.UUID) {
	s.canceled = append(s.canceled, txnID)
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type stubOutbox struct {
	events []enums.OutboxEventType
}

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event.EventType)
	return nil
}

func (s *stubOutbox) count(eventType enums.OutboxEventType) int {
	n := 0
	for _, e := range s.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	rec        Reconciler
	ordersRepo *memOrders
	ledgerRepo *memLedger
	rollback   *stubRollbacker
	expiry     *stubExpiry
	outbox     *stubOutbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ordersRepo := &memOrders{orders: map[uuid.UUID]*models.Order{}}
	ledgerRepo := &memLedger{txns: map[uuid.UUID]*models.OrderTransaction{}}
	ledgerSvc, err := ledger.NewService(ledgerRepo)
	if err != nil {
		t.Fatalf("ledger.NewService: %v", err)
	}
	rollback := &stubRollbacker{}
	expiry := &stubExpiry{}
	ob := &stubOutbox{}
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})

	rec, err := NewReconciler(ledgerSvc, ordersRepo, rollback, expiry, stubTxRunner{}, ob, nil, logg, "00")
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}
	return &fixture{
		rec:        rec,
		ordersRepo: ordersRepo,
		ledgerRepo: ledgerRepo,
		rollback:   rollback,
		expiry:     expiry,
		outbox:     ob,
	}
}

func (f *fixture) seed(grandTotal int64, providerTxnID string) (*models.Order, *models.OrderTransaction) {
	order := &models.Order{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		Status:     enums.OrderStatusDraft,
		GrandTotal: grandTotal,
	}
	f.ordersRepo.orders[order.ID] = order

	txn := &models.OrderTransaction{
		ID:            uuid.New(),
		OrderID:       order.ID,
		Status:        enums.TransactionStatusPending,
		PaymentMethod: enums.PaymentMethodQRPay,
		Amount:        grandTotal,
		ProviderTxnID: &providerTxnID,
	}
	f.ledgerRepo.txns[txn.ID] = txn
	return order, txn
}

func TestWebhookOverpaymentAccepted(t *testing.T) {
	f := newFixture(t)
	order, txn := f.seed(85000, "gw-1")

	err := f.rec.Process(context.Background(), Event{
		ResponseCode:  "00",
		TransactionID: "gw-1",
		Amount:        90000,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if order.Status != enums.OrderStatusPending {
		t.Fatalf("order status = %s, want pending", order.Status)
	}
	if txn.Status != enums.TransactionStatusSucceeded {
		t.Fatalf("txn status = %s, want succeeded", txn.Status)
	}
	if txn.ReceivedAmount == nil || *txn.ReceivedAmount != 90000 {
		t.Fatalf("received = %v, want 90000", txn.ReceivedAmount)
	}
	if len(f.expiry.canceled) != 1 {
		t.Fatalf("expiry cancels = %d, want 1", len(f.expiry.canceled))
	}
}

func TestWebhookUnderpaymentRejectedNoStateChange(t *testing.T) {
	f := newFixture(t)
	order, txn := f.seed(85000, "gw-1")

	err := f.rec.Process(context.Background(), Event{
		ResponseCode:  "00",
		TransactionID: "gw-1",
		Amount:        80000,
	})
	if pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if order.Status != enums.OrderStatusDraft {
		t.Fatalf("order status = %s, want draft untouched", order.Status)
	}
	if txn.Status != enums.TransactionStatusPending {
		t.Fatalf("txn status = %s, want pending untouched", txn.Status)
	}
	if len(f.outbox.events) != 0 {
		t.Fatalf("events = %v, want none", f.outbox.events)
	}
}

func TestWebhookReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seed(85000, "gw-1")

	event := Event{ResponseCode: "00", TransactionID: "gw-1", Amount: 85000}
	if err := f.rec.Process(context.Background(), event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.rec.Process(context.Background(), event); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if order.Status != enums.OrderStatusPending {
		t.Fatalf("order status = %s, want pending", order.Status)
	}
	if got := f.outbox.count(enums.EventOrderPaid); got != 1 {
		t.Fatalf("order_paid events = %d, want 1 after replay", got)
	}
	if got := f.outbox.count(enums.EventPaymentSettled); got != 1 {
		t.Fatalf("payment_settled events = %d, want 1 after replay", got)
	}
}

func TestWebhookRejectionFailsOrderAndRollsBackVoucher(t *testing.T) {
	f := newFixture(t)
	order, txn := f.seed(85000, "gw-1")
	order.DiscountIDs = []string{"v-1"}

	err := f.rec.Process(context.Background(), Event{
		ResponseCode:  "51",
		TransactionID: "gw-1",
		Amount:        0,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if order.Status != enums.OrderStatusFailed {
		t.Fatalf("order status = %s, want failed", order.Status)
	}
	if txn.Status != enums.TransactionStatusFailed {
		t.Fatalf("txn status = %s, want failed", txn.Status)
	}
	if f.rollback.calls != 1 {
		t.Fatalf("rollback calls = %d, want 1", f.rollback.calls)
	}
	if got := f.outbox.count(enums.EventErpSyncRequested); got != 1 {
		t.Fatalf("erp sync events = %d, want 1", got)
	}
}

func TestWebhookRejectionTokenizeSkipsErpResync(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seed(1000, "gw-2")
	order.Type = enums.OrderTypeTokenize

	err := f.rec.Process(context.Background(), Event{
		ResponseCode:  "05",
		TransactionID: "gw-2",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := f.outbox.count(enums.EventErpSyncRequested); got != 0 {
		t.Fatalf("erp sync events = %d, want 0 for tokenize", got)
	}
}

func TestWebhookUnknownTransaction(t *testing.T) {
	f := newFixture(t)
	err := f.rec.Process(context.Background(), Event{
		ResponseCode:  "00",
		TransactionID: "missing",
		Amount:        100,
	})
	if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
