// README: Wallet store backed by PostgreSQL (wallets + wallet_transactions).
package wallet

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"drop/internal/infra"
	"drop/internal/types"
)

type PGStore struct {
	db infra.DBTX
}

func NewStore(db infra.DBTX) *PGStore {
	return &PGStore{db: db}
}

// FindRefund returns ErrRefundNotFound when the order has no refund line yet.
func (s *PGStore) FindRefund(ctx context.Context, orderID types.ID) (*Transaction, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, wallet_id, type, amount, order_id, description, created_at
		FROM wallet_transactions
		WHERE order_id = $1 AND type = 'REFUND'`,
		string(orderID),
	)
	var t Transaction
	var id, walletID string
	var oid *string
	err := row.Scan(&id, &walletID, &t.Type, &t.Amount, &oid, &t.Description, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRefundNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ID = types.ID(id)
	t.WalletID = types.ID(walletID)
	if oid != nil {
		o := types.ID(*oid)
		t.OrderID = &o
	}
	return &t, nil
}

func (s *PGStore) EnsureWallet(ctx context.Context, userID types.ID) (*Wallet, error) {
	if _, err := s.db.Exec(ctx, `
		INSERT INTO wallets (id, user_id, balance)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO NOTHING`,
		string(types.NewID()), string(userID),
	); err != nil {
		return nil, err
	}

	var w Wallet
	var id, uid string
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, balance FROM wallets WHERE user_id = $1`,
		string(userID),
	).Scan(&id, &uid, &w.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	w.ID = types.ID(id)
	w.UserID = types.ID(uid)
	return &w, nil
}

func (s *PGStore) InsertTransaction(ctx context.Context, t *Transaction) (bool, error) {
	var orderID *string
	if t.OrderID != nil {
		v := string(*t.OrderID)
		orderID = &v
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, type, amount, order_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id) WHERE type = 'REFUND' DO NOTHING`,
		string(t.ID), string(t.WalletID), string(t.Type), t.Amount, orderID, t.Description, t.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) Credit(ctx context.Context, walletID types.ID, amount types.Money) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE wallets SET balance = balance + $2 WHERE id = $1`,
		string(walletID), amount,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (s *PGStore) Balance(ctx context.Context, userID types.ID) (types.Money, error) {
	var bal types.Money
	err := s.db.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id = $1`, string(userID)).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Zero, ErrWalletNotFound
	}
	return bal, err
}
