package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type stubLedgerRepo struct {
	txns map[uuid.UUID]*models.OrderTransaction
}

func newStubLedgerRepo() *stubLedgerRepo {
	return &stubLedgerRepo{txns: map[uuid.UUID]*models.OrderTransaction{}}
}

func (s *stubLedgerRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubLedgerRepo) Create(ctx context.Context, txn *models.OrderTransaction) (*models.OrderTransaction, error) {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	copied := *txn
	s.txns[txn.ID] = &copied
	return txn, nil
}

func (s *stubLedgerRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.OrderTransaction, error) {
	txn, ok := s.txns[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return txn, nil
}

func (s *stubLedgerRepo) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderTransaction, error) {
	var out []models.OrderTransaction
	for _, txn := range s.txns {
		if txn.OrderID == orderID {
			out = append(out, *txn)
		}
	}
	return out, nil
}

func (s *stubLedgerRepo) FindPendingByOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderTransaction, error) {
	for _, txn := range s.txns {
		if txn.OrderID == orderID && txn.Status == enums.TransactionStatusPending {
			return txn, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubLedgerRepo) FindByProviderTxnID(ctx context.Context, providerTxnID string) (*models.OrderTransaction, error) {
	for _, txn := range s.txns {
		if txn.ProviderTxnID != nil && *txn.ProviderTxnID == providerTxnID {
			return txn, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubLedgerRepo) FindExpiredPending(ctx context.Context, cutoff time.Time) ([]models.OrderTransaction, error) {
	var out []models.OrderTransaction
	for _, txn := range s.txns {
		if txn.Status == enums.TransactionStatusPending && txn.ExpiresAt != nil && !txn.ExpiresAt.After(cutoff) {
			out = append(out, *txn)
		}
	}
	return out, nil
}

func (s *stubLedgerRepo) DeleteStalePendingQR(ctx context.Context, orderID uuid.UUID) error {
	for id, txn := range s.txns {
		if txn.OrderID == orderID && txn.Status == enums.TransactionStatusPending && txn.PaymentMethod == enums.PaymentMethodQR {
			delete(s.txns, id)
		}
	}
	return nil
}

func (s *stubLedgerRepo) Terminalize(ctx context.Context, txnID uuid.UUID, from, to enums.TransactionStatus, updates map[string]any) (bool, error) {
	txn, ok := s.txns[txnID]
	if !ok || txn.Status != from {
		return false, nil
	}
	txn.Status = to
	if v, ok := updates["received_amount"]; ok {
		amount := v.(int64)
		txn.ReceivedAmount = &amount
	}
	if v, ok := updates["failure_reason"]; ok {
		reason := v.(string)
		txn.FailureReason = &reason
	}
	return true, nil
}

func (s *stubLedgerRepo) Update(ctx context.Context, txnID uuid.UUID, updates map[string]any) error {
	return nil
}

func TestOpenPendingRejectsSecondAttempt(t *testing.T) {
	repo := newStubLedgerRepo()
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	orderID := uuid.New()
	first := &models.OrderTransaction{
		OrderID:       orderID,
		PaymentMethod: enums.PaymentMethodCredit,
		Amount:        85000,
	}
	if _, err := svc.OpenPending(context.Background(), first); err != nil {
		t.Fatalf("first OpenPending: %v", err)
	}

	second := &models.OrderTransaction{
		OrderID:       orderID,
		PaymentMethod: enums.PaymentMethodQR,
		Amount:        85000,
	}
	_, err = svc.OpenPending(context.Background(), second)
	if err == nil {
		t.Fatal("expected conflict for second pending attempt")
	}
	if pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", pkgerrors.As(err).Code())
	}
}

func TestSettleIsExactlyOnce(t *testing.T) {
	repo := newStubLedgerRepo()
	svc, _ := NewService(repo)

	txn, err := svc.OpenPending(context.Background(), &models.OrderTransaction{
		OrderID:       uuid.New(),
		PaymentMethod: enums.PaymentMethodQRPay,
		Amount:        85000,
	})
	if err != nil {
		t.Fatalf("OpenPending: %v", err)
	}

	ok, err := svc.Settle(context.Background(), txn.ID, 90000)
	if err != nil || !ok {
		t.Fatalf("first settle: ok=%v err=%v", ok, err)
	}

	// webhook redelivery or a racing expiry must be a no-op
	ok, err = svc.Settle(context.Background(), txn.ID, 90000)
	if err != nil {
		t.Fatalf("second settle errored: %v", err)
	}
	if ok {
		t.Fatal("second settle should not touch the row")
	}

	ok, err = svc.Fail(context.Background(), txn.ID, "expired")
	if err != nil {
		t.Fatalf("fail after settle errored: %v", err)
	}
	if ok {
		t.Fatal("fail after settle should not touch the row")
	}

	stored := repo.txns[txn.ID]
	if stored.Status != enums.TransactionStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", stored.Status)
	}
	if stored.ReceivedAmount == nil || *stored.ReceivedAmount != 90000 {
		t.Fatalf("received amount = %v, want 90000", stored.ReceivedAmount)
	}
}

func TestRecordSucceededDefaultsReceivedAmount(t *testing.T) {
	repo := newStubLedgerRepo()
	svc, _ := NewService(repo)

	txn, err := svc.RecordSucceeded(context.Background(), &models.OrderTransaction{
		OrderID:       uuid.New(),
		PaymentMethod: enums.PaymentMethodCash,
		Amount:        12000,
	})
	if err != nil {
		t.Fatalf("RecordSucceeded: %v", err)
	}
	if txn.Status != enums.TransactionStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", txn.Status)
	}
	if txn.ReceivedAmount == nil || *txn.ReceivedAmount != 12000 {
		t.Fatalf("received amount = %v, want 12000", txn.ReceivedAmount)
	}
}
