// README: Order store backed by PostgreSQL; every status change is one conditional statement plus its history row.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"drop/internal/infra"
	"drop/internal/types"
)

// errStale means a conditional update matched no row: the order moved on since it was read.
var errStale = errors.New("order changed concurrently")

// Transition is a compare-and-swap on an order's status. The update applies only while the order is in
// one of From and, when set, still bound to RiderID / owned by VendorID.
// Transition moves an order from one of From to To. RiderID and VendorID further guard the row. When
// PaymentFrom is set the payment status must be one of it, and a non-empty PaymentTo is written in the
// same statement.
type Transition struct {
	OrderID     types.ID
	From        []Status
	To          Status
	RiderID     *types.ID
	VendorID    *types.ID
	PaymentFrom []PaymentStatus
	PaymentTo   PaymentStatus
	Note        string
	Actor       Actor
	At          time.Time
}

// PaymentChange moves payment_status from one of From to To. When OrderIn is set the order status must also
// be one of OrderIn, so a payment cannot land on an order that was cancelled in between.
type PaymentChange struct {
	OrderID types.ID
	From    []PaymentStatus
	To      PaymentStatus
	OrderIn []Status
	At      time.Time
}

type FeedQuery struct {
	RiderID types.ID
	Type    FeedType
	Limit   int
	Offset  int
}

type Repository interface {
	Insert(ctx context.Context, o *Order, note string) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	History(ctx context.Context, id types.ID) ([]HistoryEntry, error)
	// Claim binds riderID to an unassigned READY_FOR_PICKUP order. It returns errStale when no row matched.
	Claim(ctx context.Context, id, riderID types.ID, at time.Time) (*Order, error)
	// Apply runs t and returns the updated order, or errStale when no row matched.
	Apply(ctx context.Context, t Transition) (*Order, error)
	// SetPaymentStatus reports whether the conditional payment update matched.
	SetPaymentStatus(ctx context.Context, c PaymentChange) (bool, error)
	ListForRider(ctx context.Context, q FeedQuery) ([]Order, int, error)
}

type Store struct {
	db infra.DBTX
}

func NewStore(db infra.DBTX) *Store {
	return &Store{db: db}
}

const orderColumns = `id, order_number, customer_id, vendor_id, rider_id, status, payment_method, payment_status,
	subtotal, delivery_fee, platform_fee, tip, total,
	created_at, updated_at, delivered_at, cancelled_at, cancel_reason`

func (s *Store) Insert(ctx context.Context, o *Order, note string) error {
	_, err := s.db.Exec(ctx, `
		WITH placed AS (
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, NULL, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13, NULL, NULL, NULL)
			RETURNING id, status, customer_id, created_at
		)
		INSERT INTO order_status_history (order_id, status, note, actor_role, actor_id, created_at)
		SELECT id, status, $14, 'system', NULL, created_at FROM placed`,
		string(o.ID),
		o.OrderNumber,
		string(o.CustomerID),
		string(o.VendorID),
		string(o.Status),
		string(o.PaymentMethod),
		string(o.PaymentStatus),
		o.Subtotal, o.DeliveryFee, o.PlatformFee, o.Tip, o.Total,
		o.CreatedAt,
		note,
	)
	if infra.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicate, o.OrderNumber)
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (s *Store) History(ctx context.Context, id types.ID) ([]HistoryEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, status, note, actor_role, actor_id, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id`, string(id))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (HistoryEntry, error) {
		var h HistoryEntry
		var actorID *string
		err := row.Scan(&h.ID, &h.OrderID, &h.Status, &h.Note, &h.ActorRole, &actorID, &h.CreatedAt)
		h.ActorID = toIDPtr(actorID)
		return h, err
	})
}

// Claim is a single statement: the conditional update and the history insert commit or fail together, and
// the affected row count is the only arbiter between racing riders.
func (s *Store) Claim(ctx context.Context, id, riderID types.ID, at time.Time) (*Order, error) {
	row := s.db.QueryRow(ctx, `
		WITH claimed AS (
			UPDATE orders
			SET rider_id = $2,
			    status = 'PICKED_UP',
			    updated_at = GREATEST(updated_at, $3)
			WHERE id = $1 AND rider_id IS NULL AND status = 'READY_FOR_PICKUP'
			RETURNING `+orderColumns+`
		), logged AS (
			INSERT INTO order_status_history (order_id, status, note, actor_role, actor_id, created_at)
			SELECT id, status, 'accepted by rider', 'rider', rider_id, $3 FROM claimed
		)
		SELECT `+orderColumns+` FROM claimed`,
		string(id), string(riderID), at,
	)
	o, err := scanOrder(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, errStale
	case infra.IsForeignKeyViolation(err):
		return nil, fmt.Errorf("%w: %s", ErrRiderNotFound, riderID)
	}
	return o, err
}

func (s *Store) Apply(ctx context.Context, t Transition) (*Order, error) {
	from := make([]string, len(t.From))
	for i, st := range t.From {
		from[i] = string(st)
	}
	var payFrom []string
	for _, p := range t.PaymentFrom {
		payFrom = append(payFrom, string(p))
	}
	row := s.db.QueryRow(ctx, `
		WITH moved AS (
			UPDATE orders
			SET status = $2,
			    payment_status = COALESCE(NULLIF($10::text, ''), payment_status),
			    updated_at = GREATEST(updated_at, $3),
			    delivered_at = CASE WHEN $2 = 'DELIVERED' THEN $3 ELSE delivered_at END,
			    cancelled_at = CASE WHEN $2 = 'CANCELLED' THEN $3 ELSE cancelled_at END,
			    cancel_reason = CASE WHEN $2 = 'CANCELLED' THEN $4 ELSE cancel_reason END
			WHERE id = $1
			  AND status = ANY($5)
			  AND ($6::text IS NULL OR rider_id = $6)
			  AND ($7::text IS NULL OR vendor_id = $7)
			  AND ($11::text[] IS NULL OR payment_status = ANY($11))
			RETURNING `+orderColumns+`
		), logged AS (
			INSERT INTO order_status_history (order_id, status, note, actor_role, actor_id, created_at)
			SELECT id, status, $4, $8, $9, $3 FROM moved
		)
		SELECT `+orderColumns+` FROM moved`,
		string(t.OrderID),
		string(t.To),
		t.At,
		t.Note,
		from,
		fromIDPtr(t.RiderID),
		fromIDPtr(t.VendorID),
		string(t.Actor.Role),
		actorIDArg(t.Actor),
		string(t.PaymentTo),
		payFrom,
	)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errStale
	}
	return o, err
}

func (s *Store) SetPaymentStatus(ctx context.Context, c PaymentChange) (bool, error) {
	from := make([]string, len(c.From))
	for i, p := range c.From {
		from[i] = string(p)
	}
	var in []string
	for _, st := range c.OrderIn {
		in = append(in, string(st))
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET payment_status = $2,
		    updated_at = GREATEST(updated_at, $3)
		WHERE id = $1
		  AND payment_status = ANY($4)
		  AND ($5::text[] IS NULL OR status = ANY($5))`,
		string(c.OrderID), string(c.To), c.At, from, in,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListForRider(ctx context.Context, q FeedQuery) ([]Order, int, error) {
	var where string
	var args []any
	switch q.Type {
	case FeedAvailable:
		where = `rider_id IS NULL AND status = 'READY_FOR_PICKUP'`
	case FeedActive:
		where = `rider_id = $1 AND status IN ('PICKED_UP', 'OUT_FOR_DELIVERY')`
		args = append(args, string(q.RiderID))
	case FeedCompleted:
		where = `rider_id = $1 AND status = 'DELIVERED'`
		args = append(args, string(q.RiderID))
	default:
		where = `rider_id = $1`
		args = append(args, string(q.RiderID))
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		orderColumns, where, n+1, n+2)
	rows, err := s.db.Query(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Order, error) {
		o, err := scanOrder(row)
		if err != nil {
			return Order{}, err
		}
		return *o, nil
	})
	return orders, total, err
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var riderID *string
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &o.VendorID, &riderID, &o.Status, &o.PaymentMethod, &o.PaymentStatus,
		&o.Subtotal, &o.DeliveryFee, &o.PlatformFee, &o.Tip, &o.Total,
		&o.CreatedAt, &o.UpdatedAt, &o.DeliveredAt, &o.CancelledAt, &o.CancelReason,
	)
	if err != nil {
		return nil, err
	}
	o.RiderID = toIDPtr(riderID)
	return &o, nil
}

func toIDPtr(v *string) *types.ID {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	id := types.ID(*v)
	return &id
}

func fromIDPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func actorIDArg(a Actor) *string {
	if a.ID == "" {
		return nil
	}
	s := string(a.ID)
	return &s
}
