package ledger

import (
	"context"
	"fmt"

	"github.com/avelezcr/washpay-backend/pkg/db"
	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// singlePendingIndex backs the one-outstanding-attempt rule at the database
// level. The service checks first, the index catches the race.
const singlePendingIndex = "ux_order_transactions_single_pending"

// Service guards the transaction ledger invariants: at most one pending
// attempt per order, and terminal states that are written exactly once.
type Service interface {
	WithTx(tx *gorm.DB) Service
	// OpenPending creates a new pending transaction for the order. Fails with
	// a conflict when another pending attempt already exists.
	OpenPending(ctx context.Context, txn *models.OrderTransaction) (*models.OrderTransaction, error)
	// RecordSucceeded creates a transaction already settled, used by
	// synchronous rails such as cash.
	RecordSucceeded(ctx context.Context, txn *models.OrderTransaction) (*models.OrderTransaction, error)
	// Settle moves a pending transaction to succeeded. Returns false when the
	// transaction was no longer pending.
	Settle(ctx context.Context, txnID uuid.UUID, receivedAmount int64) (bool, error)
	// Fail moves a pending transaction to failed with a reason.
	Fail(ctx context.Context, txnID uuid.UUID, reason string) (bool, error)
	// Cancel moves a pending transaction to canceled.
	Cancel(ctx context.Context, txnID uuid.UUID) (bool, error)
	// Refund marks a succeeded transaction refunded.
	Refund(ctx context.Context, txnID uuid.UUID) (bool, error)
	Repo() Repository
}

type service struct {
	repo Repository
}

// NewService builds a ledger service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) Repo() Repository {
	return s.repo
}

func (s *service) OpenPending(ctx context.Context, txn *models.OrderTransaction) (*models.OrderTransaction, error) {
	if txn.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	txn.Status = enums.TransactionStatusPending

	existing, err := s.repo.FindPendingByOrder(ctx, txn.OrderID)
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check pending transaction")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already has a pending payment")
	}

	created, err := s.repo.Create(ctx, txn)
	if err != nil {
		if db.IsUniqueViolation(err, singlePendingIndex) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already has a pending payment")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transaction")
	}
	return created, nil
}

func (s *service) RecordSucceeded(ctx context.Context, txn *models.OrderTransaction) (*models.OrderTransaction, error) {
	if txn.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	txn.Status = enums.TransactionStatusSucceeded
	if txn.ReceivedAmount == nil {
		received := txn.Amount
		txn.ReceivedAmount = &received
	}

	created, err := s.repo.Create(ctx, txn)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create settled transaction")
	}
	return created, nil
}

func (s *service) Settle(ctx context.Context, txnID uuid.UUID, receivedAmount int64) (bool, error) {
	return s.repo.Terminalize(ctx, txnID,
		enums.TransactionStatusPending, enums.TransactionStatusSucceeded,
		map[string]any{"received_amount": receivedAmount})
}

func (s *service) Fail(ctx context.Context, txnID uuid.UUID, reason string) (bool, error) {
	return s.repo.Terminalize(ctx, txnID,
		enums.TransactionStatusPending, enums.TransactionStatusFailed,
		map[string]any{"failure_reason": reason})
}

func (s *service) Cancel(ctx context.Context, txnID uuid.UUID) (bool, error) {
	return s.repo.Terminalize(ctx, txnID,
		enums.TransactionStatusPending, enums.TransactionStatusCanceled, nil)
}

func (s *service) Refund(ctx context.Context, txnID uuid.UUID) (bool, error) {
	return s.repo.Terminalize(ctx, txnID,
		enums.TransactionStatusSucceeded, enums.TransactionStatusRefunded, nil)
}
