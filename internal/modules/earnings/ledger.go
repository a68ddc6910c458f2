// README: Earnings ledger; computes a rider's earning for a delivered order and records it exactly once.
package earnings

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"drop/internal/types"
)

// DefaultRiderShare is the rider's cut of the delivery fee; the platform keeps the rest.
var DefaultRiderShare = decimal.RequireFromString("0.8")

// Store is the write side the ledger needs. Implementations are bound to the caller's transaction.
type Store interface {
	Find(ctx context.Context, riderID, orderID types.ID) (*Record, error)
	// Insert returns false when a record for (RiderID, OrderID) already exists.
	Insert(ctx context.Context, r *Record) (bool, error)
	CreditRider(ctx context.Context, riderID types.ID, total types.Money) error
}

// Adjuster supplies incentive and penalty amounts for a delivery.
type Adjuster interface {
	Adjust(ctx context.Context, d Delivery) (incentive, penalty types.Money, err error)
}

type Ledger struct {
	share    decimal.Decimal
	adjuster Adjuster
}

// NewLedger builds a ledger. A zero share falls back to DefaultRiderShare; a nil adjuster means no
// incentives or penalties.
func NewLedger(share decimal.Decimal, adjuster Adjuster) *Ledger {
	if share.IsZero() {
		share = DefaultRiderShare
	}
	return &Ledger{share: share, adjuster: adjuster}
}

// Compute applies total = deliveryFee*share + tip + incentive - penalty. The base is rounded half-to-even
// to cents before summing, so the identity holds to the cent that NUMERIC(12,2) stores.
func (l *Ledger) Compute(d Delivery, incentive, penalty types.Money) Record {
	base := types.Round(d.DeliveryFee.Mul(l.share))
	return Record{
		RiderID:     d.RiderID,
		OrderID:     d.OrderID,
		BaseEarning: base,
		Tip:         d.Tip,
		Incentive:   incentive,
		Penalty:     penalty,
		Total:       types.Sum(base, d.Tip, incentive).Sub(penalty),
		Date:        d.At,
	}
}

// Record writes the earning for d and bumps the rider's lifetime counters. When a record already exists
// for (rider, order) the existing one is returned with created=false and the counters are left alone.
func (l *Ledger) Record(ctx context.Context, s Store, d Delivery) (*Record, bool, error) {
	existing, err := s.Find(ctx, d.RiderID, d.OrderID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	incentive, penalty := types.Zero, types.Zero
	if l.adjuster != nil {
		incentive, penalty, err = l.adjuster.Adjust(ctx, d)
		if err != nil {
			return nil, false, err
		}
	}

	rec := l.Compute(d, incentive, penalty)
	rec.ID = types.NewID()
	inserted, err := s.Insert(ctx, &rec)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		// lost a concurrent insert for the same (rider, order)
		existing, err := s.Find(ctx, d.RiderID, d.OrderID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err := s.CreditRider(ctx, rec.RiderID, rec.Total); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}
