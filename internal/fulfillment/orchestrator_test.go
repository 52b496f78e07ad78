package fulfillment

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/avelezcr/washpay-backend/internal/devices"
	"github.com/avelezcr/washpay-backend/internal/ledger"
	"github.com/avelezcr/washpay-backend/internal/orders"
	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/avelezcr/washpay-backend/pkg/gateway"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/outbox"
	"github.com/avelezcr/washpay-backend/pkg/outbox/payloads"
	"github.com/avelezcr/washpay-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
}

type memOrders struct {
	orders     map[uuid.UUID]*models.Order
	itemStarts int
	itemEnds   int
	overdue    []models.Order
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
	return s.overdue, nil
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
	s.itemStarts++
	return nil
}

func (s *memOrders) StampItemEnd(ctx context.Context, orderID uuid.UUID, endedAt time.Time) error {
	s.itemEnds++
	return nil
}

type memDevices struct {
	devices map[uuid.UUID]*models.Device
	leases  int
}

func (s *memDevices) WithTx(tx *gorm.DB) devices.Repository { return s }

func (s *memDevices) FindByID(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	if device, ok := s.devices[id]; ok {
		return device, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memDevices) FindByExternalRef(ctx context.Context, ref string) (*models.Device, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *memDevices) List(ctx context.Context) ([]models.Device, error) { return nil, nil }

func (s *memDevices) AcquireLease(ctx context.Context, deviceID, orderID uuid.UUID, startedAt time.Time) (bool, error) {
	device, ok := s.devices[deviceID]
	if !ok || device.Status != enums.DeviceStatusIdle || device.CurrentOrderID != nil {
		return false, nil
	}
	device.Status = enums.DeviceStatusBusy
	device.CurrentOrderID = &orderID
	s.leases++
	return true, nil
}

func (s *memDevices) ReleaseLease(ctx context.Context, deviceID, orderID uuid.UUID) error {
	return nil
}

func (s *memDevices) HasLiveOrder(ctx context.Context, deviceID uuid.UUID) (bool, error) {
	return false, nil
}

func (s *memDevices) UpdateStatus(ctx context.Context, deviceID uuid.UUID, status enums.DeviceStatus) error {
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
	return nil, gorm.ErrRecordNotFound
}

func (s *memLedger) FindByProviderTxnID(ctx context.Context, providerTxnID string) (*models.OrderTransaction, error) {
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
	return true, nil
}

func (s *memLedger) Update(ctx context.Context, txnID uuid.UUID, updates map[string]any) error {
	txn, ok := s.txns[txnID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if data, ok := updates["data"].(types.JSONMap); ok {
		txn.Data = data
	}
	return nil
}

type stubRollbacker struct {
	calls int
}

func (s *stubRollbacker) Rollback(ctx context.Context, voucherIDs []string, orderID string) error {
	s.calls++
	return nil
}

type stubStarter struct {
	started bool
	err     error
	calls   int
	mode    string
}

func (s *stubStarter) Start(ctx context.Context, deviceRef, orderRef, mode string, amount int64) (bool, error) {
	s.calls++
	s.mode = mode
	return s.started, s.err
}

type stubRefunder struct {
	calls  int
	params []gateway.RefundParams
	err    error
}

func (s *stubRefunder) Refund(ctx context.Context, params gateway.RefundParams) (*gateway.RefundResult, error) {
	s.calls++
	s.params = append(s.params, params)
	if s.err != nil {
		return nil, s.err
	}
	return &gateway.RefundResult{RefundID: "rf-001", Status: "refunded"}, nil
}

type stubCompleter struct {
	completed []uuid.UUID
	err       error
}

func (s *stubCompleter) CompleteOrder(ctx context.Context, orderID uuid.UUID) error {
	if s.err != nil {
		return s.err
	}
	s.completed = append(s.completed, orderID)
	return nil
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

func (s *stubOutbox) count(t enums.OutboxEventType) int {
	n := 0
	for _, e := range s.events {
		if e == t {
			n++
		}
	}
	return n
}

type fixture struct {
	orch     *Orchestrator
	orders   *memOrders
	devices  *memDevices
	ledger   *memLedger
	vouchers *stubRollbacker
	starter  *stubStarter
	complete *stubCompleter
	refunder *stubRefunder
	outbox   *stubOutbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:   &memOrders{orders: map[uuid.UUID]*models.Order{}},
		devices:  &memDevices{devices: map[uuid.UUID]*models.Device{}},
		ledger:   &memLedger{txns: map[uuid.UUID]*models.OrderTransaction{}},
		vouchers: &stubRollbacker{},
		starter:  &stubStarter{started: true},
		complete: &stubCompleter{},
		refunder: &stubRefunder{},
		outbox:   &stubOutbox{},
	}
	ledgerSvc, err := ledger.NewService(f.ledger)
	if err != nil {
		t.Fatalf("ledger.NewService: %v", err)
	}
	f.orch, err = NewOrchestrator(OrchestratorDeps{
		Orders:    f.orders,
		Devices:   f.devices,
		Ledger:    ledgerSvc,
		Vouchers:  f.vouchers,
		DeviceCtl: f.starter,
		Completer: f.complete,
		Gateway:   f.refunder,
		Tx:        stubTxRunner{},
		Outbox:    f.outbox,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return f
}

func (f *fixture) seedPaidOrder(discountIDs []string) (*models.Order, *models.Device, *models.OrderTransaction) {
	device := &models.Device{
		ID:           uuid.New(),
		ExternalRef:  "WM-001",
		Status:       enums.DeviceStatusIdle,
		DefaultMode:  "standard",
		CycleMinutes: 30,
	}
	f.devices.devices[device.ID] = device

	txn := &models.OrderTransaction{
		ID:            uuid.New(),
		Status:        enums.TransactionStatusSucceeded,
		PaymentMethod: enums.PaymentMethodQR,
		Amount:        85000,
	}
	order := &models.Order{
		ID:           uuid.New(),
		SequenceNo:   "WP-20260315-000042",
		Status:       enums.OrderStatusPending,
		DeviceID:     &device.ID,
		GrandTotal:   85000,
		DiscountIDs:  discountIDs,
		Transactions: []models.OrderTransaction{*txn},
	}
	txn.OrderID = order.ID
	f.orders.orders[order.ID] = order
	f.ledger.txns[txn.ID] = &order.Transactions[0]
	return order, device, txn
}

func TestHandleOrderPaidStartsDeviceAndAdvances(t *testing.T) {
	f := newFixture(t)
	order, device, _ := f.seedPaidOrder(nil)

	err := f.orch.HandleOrderPaid(context.Background(), payloads.OrderPaidEvent{OrderID: order.ID})
	if err != nil {
		t.Fatalf("HandleOrderPaid: %v", err)
	}
	if order.Status != enums.OrderStatusProcessing {
		t.Fatalf("order status = %s, want processing", order.Status)
	}
	if device.Status != enums.DeviceStatusBusy || device.CurrentOrderID == nil || *device.CurrentOrderID != order.ID {
		t.Fatal("device must hold the order lease")
	}
	if f.orders.itemStarts != 1 {
		t.Fatalf("item start stamps = %d, want 1", f.orders.itemStarts)
	}
	if f.starter.mode != "standard" {
		t.Fatalf("mode = %q, want device default", f.starter.mode)
	}
}

func TestHandleOrderPaidUsesItemWashMode(t *testing.T) {
	f := newFixture(t)
	order, _, _ := f.seedPaidOrder(nil)
	heavy := "heavy"
	order.Items = []models.OrderItem{{ID: uuid.New(), OrderID: order.ID, WashMode: &heavy}}

	if err := f.orch.HandleOrderPaid(context.Background(), payloads.OrderPaidEvent{OrderID: order.ID}); err != nil {
		t.Fatalf("HandleOrderPaid: %v", err)
	}
	if f.starter.mode != "heavy" {
		t.Fatalf("mode = %q, want item wash mode", f.starter.mode)
	}
}

func TestHandleOrderPaidCompensatesOnStartFailure(t *testing.T) {
	f := newFixture(t)
	f.starter.err = errors.New("controller timeout")
	order, device, txn := f.seedPaidOrder([]string{"v-1"})

	err := f.orch.HandleOrderPaid(context.Background(), payloads.OrderPaidEvent{OrderID: order.ID})
	if err != nil {
		t.Fatalf("HandleOrderPaid: %v", err)
	}
	if order.Status != enums.OrderStatusFailed {
		t.Fatalf("order status = %s, want failed", order.Status)
	}
	if device.Status != enums.DeviceStatusIdle {
		t.Fatal("failed start must not lease the device")
	}
	if f.vouchers.calls != 1 {
		t.Fatalf("voucher rollbacks = %d, want exactly 1", f.vouchers.calls)
	}
	if got := f.ledger.txns[txn.ID].Status; got != enums.TransactionStatusRefunded {
		t.Fatalf("txn status = %s, want refunded", got)
	}
	if f.outbox.count(enums.EventDeviceStartFailed) != 1 {
		t.Fatal("expected a device start failure event")
	}
	if f.outbox.count(enums.EventOrderRefunded) != 1 {
		t.Fatal("expected a refund event")
	}
}

func TestHandleOrderPaidRedeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	order, _, _ := f.seedPaidOrder(nil)

	if err := f.orch.HandleOrderPaid(context.Background(), payloads.OrderPaidEvent{OrderID: order.ID}); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.orch.HandleOrderPaid(context.Background(), payloads.OrderPaidEvent{OrderID: order.ID}); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if f.starter.calls != 1 {
		t.Fatalf("device starts = %d, want 1 across redeliveries", f.starter.calls)
	}
}

func TestHandleOrderPaidSkipsDevicelessOrder(t *testing.T) {
	f := newFixture(t)
	order := &models.Order{ID: uuid.New(), Status: enums.OrderStatusPending}
	f.orders.orders[order.ID] = order

	if err := f.orch.HandleOrderPaid(context.Background(), payloads.OrderPaidEvent{OrderID: order.ID}); err != nil {
		t.Fatalf("HandleOrderPaid: %v", err)
	}
	if f.starter.calls != 0 {
		t.Fatal("no device start for a deviceless order")
	}
}

func (f *fixture) seedSettledTxn(method enums.PaymentMethod, providerRef string) *models.OrderTransaction {
	txn := &models.OrderTransaction{
		ID:            uuid.New(),
		OrderID:       uuid.New(),
		Status:        enums.TransactionStatusSucceeded,
		PaymentMethod: method,
		Amount:        85000,
	}
	if providerRef != "" {
		txn.ProviderTxnID = &providerRef
	}
	f.ledger.txns[txn.ID] = txn
	return txn
}

func refundEvent(txn *models.OrderTransaction) payloads.OrderRefundedEvent {
	return payloads.OrderRefundedEvent{
		OrderID:       txn.OrderID,
		TransactionID: txn.ID,
		Amount:        txn.Amount,
		RefundedAt:    time.Now(),
	}
}

func TestHandleOrderRefundedReversesAtGateway(t *testing.T) {
	f := newFixture(t)
	txn := f.seedSettledTxn(enums.PaymentMethodQR, "prov-123")

	if err := f.orch.HandleOrderRefunded(context.Background(), refundEvent(txn)); err != nil {
		t.Fatalf("HandleOrderRefunded: %v", err)
	}
	if f.refunder.calls != 1 {
		t.Fatalf("gateway refunds = %d, want 1", f.refunder.calls)
	}
	if got := f.refunder.params[0].TransactionID; got != "prov-123" {
		t.Fatalf("refund ref = %q, want provider txn id", got)
	}
	if txn.Status != enums.TransactionStatusRefunded {
		t.Fatalf("txn status = %s, want refunded", txn.Status)
	}
	if txn.Data[refundReceiptKey] != "rf-001" {
		t.Fatal("refund receipt must be recorded on the row")
	}
}

func TestHandleOrderRefundedRedeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	txn := f.seedSettledTxn(enums.PaymentMethodQR, "prov-123")

	if err := f.orch.HandleOrderRefunded(context.Background(), refundEvent(txn)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.orch.HandleOrderRefunded(context.Background(), refundEvent(txn)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if f.refunder.calls != 1 {
		t.Fatalf("gateway refunds = %d, want 1 across redeliveries", f.refunder.calls)
	}
}

func TestHandleOrderRefundedAfterCompensationStillPaysBack(t *testing.T) {
	// the start-failure compensation flips the row to refunded in its own
	// transaction; the money still has to go back through the gateway
	f := newFixture(t)
	txn := f.seedSettledTxn(enums.PaymentMethodQR, "prov-123")
	txn.Status = enums.TransactionStatusRefunded

	if err := f.orch.HandleOrderRefunded(context.Background(), refundEvent(txn)); err != nil {
		t.Fatalf("HandleOrderRefunded: %v", err)
	}
	if f.refunder.calls != 1 {
		t.Fatalf("gateway refunds = %d, want 1", f.refunder.calls)
	}
}

func TestHandleOrderRefundedCashSkipsGateway(t *testing.T) {
	f := newFixture(t)
	txn := f.seedSettledTxn(enums.PaymentMethodCash, "")

	if err := f.orch.HandleOrderRefunded(context.Background(), refundEvent(txn)); err != nil {
		t.Fatalf("HandleOrderRefunded: %v", err)
	}
	if f.refunder.calls != 0 {
		t.Fatal("cash settles at the counter, no gateway refund")
	}
	if txn.Status != enums.TransactionStatusRefunded {
		t.Fatalf("txn status = %s, want refunded", txn.Status)
	}
}

func TestHandleOrderRefundedNacksOnGatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.refunder.err = errors.New("gateway timeout")
	txn := f.seedSettledTxn(enums.PaymentMethodQR, "prov-123")

	if err := f.orch.HandleOrderRefunded(context.Background(), refundEvent(txn)); err == nil {
		t.Fatal("gateway failure must propagate for redelivery")
	}
	if txn.Status != enums.TransactionStatusSucceeded {
		t.Fatal("row must stay settled until the gateway confirms")
	}
}

func TestCompleteDueCompletesOverdueOrders(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	f.orders.overdue = []models.Order{{ID: a}, {ID: b}}

	n, err := f.orch.CompleteDue(context.Background())
	if err != nil {
		t.Fatalf("CompleteDue: %v", err)
	}
	if n != 2 || len(f.complete.completed) != 2 {
		t.Fatalf("completed = %d, want 2", n)
	}
}

func TestCompleteDueContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.complete.err = errors.New("db down")
	f.orders.overdue = []models.Order{{ID: uuid.New()}}

	n, err := f.orch.CompleteDue(context.Background())
	if err != nil {
		t.Fatalf("CompleteDue: %v", err)
	}
	if n != 0 {
		t.Fatalf("completed = %d, want 0", n)
	}
}
