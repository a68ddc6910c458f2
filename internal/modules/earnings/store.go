// README: Earnings store backed by PostgreSQL (rider_earnings + riders aggregates).
package earnings

import (
	"context"
	"errors"
	"time"

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

const recordColumns = `id, rider_id, order_id, base_earning, tip, incentive, penalty, total, date`

func (s *PGStore) Find(ctx context.Context, riderID, orderID types.ID) (*Record, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM rider_earnings
		WHERE rider_id = $1 AND order_id = $2`,
		string(riderID), string(orderID),
	)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PGStore) Insert(ctx context.Context, r *Record) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO rider_earnings (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (rider_id, order_id) DO NOTHING`,
		string(r.ID), string(r.RiderID), string(r.OrderID),
		r.BaseEarning, r.Tip, r.Incentive, r.Penalty, r.Total, r.Date,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CreditRider increments the lifetime counters in place; no recompute from rider_earnings.
func (s *PGStore) CreditRider(ctx context.Context, riderID types.ID, total types.Money) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE riders
		SET total_deliveries = total_deliveries + 1,
		    total_earnings = total_earnings + $2,
		    updated_at = NOW()
		WHERE id = $1`,
		string(riderID), total,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRiderNotFound
	}
	return nil
}

func (s *PGStore) Summary(ctx context.Context, riderID types.ID, since time.Time) (Summary, error) {
	var sum Summary
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(base_earning), 0), COALESCE(SUM(tip), 0),
		       COALESCE(SUM(incentive), 0), COALESCE(SUM(penalty), 0),
		       COALESCE(SUM(total), 0), COUNT(*)
		FROM rider_earnings
		WHERE rider_id = $1 AND date >= $2`,
		string(riderID), since,
	).Scan(&sum.BaseEarning, &sum.Tips, &sum.Incentives, &sum.Penalties, &sum.Total, &sum.Deliveries)
	return sum, err
}

func (s *PGStore) List(ctx context.Context, riderID types.ID, since time.Time, limit, offset int) ([]Record, int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+recordColumns+`
		FROM rider_earnings
		WHERE rider_id = $1 AND date >= $2
		ORDER BY date DESC
		LIMIT $3 OFFSET $4`,
		string(riderID), since, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM rider_earnings WHERE rider_id = $1 AND date >= $2`,
		string(riderID), since,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *PGStore) Lifetime(ctx context.Context, riderID types.ID) (Lifetime, error) {
	var l Lifetime
	err := s.db.QueryRow(ctx, `
		SELECT total_deliveries, total_earnings, rating FROM riders WHERE id = $1`,
		string(riderID),
	).Scan(&l.TotalDeliveries, &l.TotalEarnings, &l.Rating)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lifetime{}, ErrRiderNotFound
	}
	return l, err
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var id, riderID, orderID string
	if err := row.Scan(&id, &riderID, &orderID,
		&r.BaseEarning, &r.Tip, &r.Incentive, &r.Penalty, &r.Total, &r.Date,
	); err != nil {
		return nil, err
	}
	r.ID = types.ID(id)
	r.RiderID = types.ID(riderID)
	r.OrderID = types.ID(orderID)
	return &r, nil
}
