// README: Idempotent refund credit; one REFUND transaction per order, balance credited once.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"drop/internal/types"
)

// Store is bound to the caller's transaction so the refund commits or rolls back with the order update.
type Store interface {
	FindRefund(ctx context.Context, orderID types.ID) (*Transaction, error)
	// EnsureWallet returns the user's wallet, creating an empty one if the user has none.
	EnsureWallet(ctx context.Context, userID types.ID) (*Wallet, error)
	// InsertTransaction returns false when the row collides with an existing REFUND for the same order.
	InsertTransaction(ctx context.Context, t *Transaction) (bool, error)
	Credit(ctx context.Context, walletID types.ID, amount types.Money) error
}

type RefundRequest struct {
	OrderID     types.ID
	OrderNumber string
	CustomerID  types.ID
	Amount      types.Money
	At          time.Time
}

// Refund credits the customer's wallet for an order. When a refund for the order already exists it is
// returned with credited=false and the balance is untouched.
func Refund(ctx context.Context, s Store, req RefundRequest) (*Transaction, bool, error) {
	if req.Amount.IsNegative() {
		return nil, false, fmt.Errorf("refund amount %s is negative", req.Amount)
	}
	existing, err := s.FindRefund(ctx, req.OrderID)
	if err != nil && !errors.Is(err, ErrRefundNotFound) {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	w, err := s.EnsureWallet(ctx, req.CustomerID)
	if err != nil {
		return nil, false, err
	}

	tx := &Transaction{
		ID:          types.NewID(),
		WalletID:    w.ID,
		Type:        TxRefund,
		Amount:      req.Amount,
		OrderID:     req.OrderID.Ptr(),
		Description: fmt.Sprintf("Refund for cancelled order %s", req.OrderNumber),
		CreatedAt:   req.At,
	}
	inserted, err := s.InsertTransaction(ctx, tx)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		existing, err := s.FindRefund(ctx, req.OrderID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err := s.Credit(ctx, w.ID, req.Amount); err != nil {
		return nil, false, err
	}
	return tx, true, nil
}
