// README: Customer wallet and its append-only transaction ledger.
package wallet

import (
	"errors"
	"time"

	"drop/internal/types"
)

var (
	ErrWalletNotFound = errors.New("wallet not found")
	ErrRefundNotFound = errors.New("refund not found")
)

type TxType string

const (
	TxRefund   TxType = "REFUND"
	TxCredit   TxType = "CREDIT"
	TxDebit    TxType = "DEBIT"
	TxCashback TxType = "CASHBACK"
)

type Wallet struct {
	ID      types.ID
	UserID  types.ID
	Balance types.Money
}

// Transaction is an immutable ledger line. At most one REFUND exists per OrderID.
type Transaction struct {
	ID          types.ID    `json:"id"`
	WalletID    types.ID    `json:"wallet_id"`
	Type        TxType      `json:"type"`
	Amount      types.Money `json:"amount"`
	OrderID     *types.ID   `json:"order_id,omitempty"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
}
