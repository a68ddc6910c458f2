// README: Transactional outbox; events are written with the order mutation and relayed to Kafka later.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"drop/internal/infra"
	"drop/internal/types"
)

const (
	EventOrderPlaced         = "order.placed"
	EventOrderClaimed        = "order.claimed"
	EventOrderStatusChanged  = "order.status_changed"
	EventOrderDelivered      = "order.delivered"
	EventOrderCancelled      = "order.cancelled"
	EventWalletRefunded      = "wallet.refunded"
	EventOrderPaymentUpdated = "order.payment_updated"
)

type Event struct {
	ID        types.ID       `json:"event_id"`
	Type      string         `json:"type"`
	OrderID   types.ID       `json:"order_id"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload"`
}

type Record struct {
	ID        int64
	EventID   string
	Key       string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Writer appends events inside the caller's transaction.
type Writer interface {
	Append(ctx context.Context, e Event) error
}

type PGStore struct {
	db infra.DBTX
}

func NewStore(db infra.DBTX) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = types.NewID()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO outbox (event_id, event_type, key, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(e.ID), e.Type, string(e.OrderID), data, e.CreatedAt,
	)
	return err
}

func (s *PGStore) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, event_id, key, payload, created_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		err := row.Scan(&r.ID, &r.EventID, &r.Key, &r.Payload, &r.CreatedAt)
		return r, err
	})
}

func (s *PGStore) MarkSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `UPDATE outbox SET sent_at = NOW() WHERE id = ANY($1)`, ids)
	return err
}
