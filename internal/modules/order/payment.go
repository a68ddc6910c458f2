// README: Payment collaborator operations; opaque paid/failed/reversed signals from the gateway.
package order

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"drop/internal/metrics"
	"drop/internal/modules/outbox"
	"drop/internal/types"
)

type PaymentOutcome string

const (
	OutcomePaid     PaymentOutcome = "paid"
	OutcomeFailed   PaymentOutcome = "failed"
	OutcomeReversed PaymentOutcome = "reversed"
)

func ParsePaymentOutcome(s string) (PaymentOutcome, error) {
	switch PaymentOutcome(s) {
	case OutcomePaid, OutcomeFailed, OutcomeReversed:
		return PaymentOutcome(s), nil
	}
	return "", fmt.Errorf("%w: unknown payment outcome %q", ErrBadRequest, s)
}

// ApplyPayment dispatches a gateway outcome.
func (s *Service) ApplyPayment(ctx context.Context, orderID types.ID, outcome PaymentOutcome, note string) (*Result, error) {
	switch outcome {
	case OutcomePaid:
		return s.MarkPaid(ctx, orderID)
	case OutcomeFailed:
		return s.MarkPaymentFailed(ctx, orderID, note)
	case OutcomeReversed:
		return s.MarkPaymentReversed(ctx, orderID, note)
	}
	return nil, fmt.Errorf("%w: unknown payment outcome %q", ErrBadRequest, outcome)
}

// MarkPaid settles a PENDING payment on a live order. Marking an already paid order succeeds.
func (s *Service) MarkPaid(ctx context.Context, orderID types.ID) (*Result, error) {
	var res *Result
	err := s.tx.Within(ctx, func(uow UnitOfWork) error {
		o, err := uow.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.PaymentStatus == PaymentCompleted {
			res = &Result{Order: o, Replayed: true}
			return nil
		}
		if o.PaymentStatus != PaymentPending || o.Status.Terminal() {
			return fmt.Errorf("%w: cannot mark payment %s paid on %s order", ErrInvalidTransition, o.PaymentStatus, o.Status)
		}

		now := s.now().UTC()
		ok, err := uow.Orders().SetPaymentStatus(ctx, PaymentChange{
			OrderID: o.ID,
			From:    []PaymentStatus{PaymentPending},
			To:      PaymentCompleted,
			OrderIn: liveStatuses(),
			At:      now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: order %s changed concurrently", ErrInvalidTransition, o.ID)
		}
		o.PaymentStatus = PaymentCompleted
		o.UpdatedAt = now
		res = &Result{Order: o}
		return uow.Events().Append(ctx, newEvent(outbox.EventOrderPaymentUpdated, o, now, map[string]any{
			"outcome": string(OutcomePaid),
		}))
	})
	if err != nil {
		return nil, s.fail("mark paid", err, zap.String("order_id", string(orderID)))
	}
	if !res.Replayed {
		s.log.Info("order payment completed", zap.String("order_id", string(orderID)))
	}
	return res, nil
}

// MarkPaymentFailed ends a PENDING order whose payment was declined.
func (s *Service) MarkPaymentFailed(ctx context.Context, orderID types.ID, note string) (*Result, error) {
	return s.closeOnPayment(ctx, orderID, StatusFailed, PaymentFailed, []PaymentStatus{PaymentPending},
		noteOr(note, "payment failed"), OutcomeFailed)
}

// MarkPaymentReversed ends an order before pickup after the gateway returned the money. No wallet credit
// is written; the funds go back through the gateway.
func (s *Service) MarkPaymentReversed(ctx context.Context, orderID types.ID, note string) (*Result, error) {
	return s.closeOnPayment(ctx, orderID, StatusRefunded, PaymentRefunded, []PaymentStatus{PaymentPending, PaymentCompleted},
		noteOr(note, "payment reversed"), OutcomeReversed)
}

func (s *Service) closeOnPayment(ctx context.Context, orderID types.ID, target Status, payment PaymentStatus,
	payFrom []PaymentStatus, note string, outcome PaymentOutcome) (*Result, error) {
	actor := Actor{Role: RoleSystem}

	var res *Result
	err := s.tx.Within(ctx, func(uow UnitOfWork) error {
		repo := uow.Orders()
		o, err := repo.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == target {
			res = &Result{Order: o, Replayed: true}
			return nil
		}
		if !CanTransition(o.Status, target, actor.Role) {
			return invalidTransition(o.Status, target, actor.Role)
		}
		if !containsPayment(payFrom, o.PaymentStatus) {
			return fmt.Errorf("%w: payment %s cannot become %s", ErrInvalidTransition, o.PaymentStatus, payment)
		}

		now := s.now().UTC()
		updated, err := repo.Apply(ctx, Transition{
			OrderID:     o.ID,
			From:        []Status{o.Status},
			To:          target,
			PaymentFrom: payFrom,
			PaymentTo:   payment,
			Note:        note,
			Actor:       actor,
			At:          now,
		})
		if errors.Is(err, errStale) {
			cur, err := repo.Get(ctx, o.ID)
			if err != nil {
				return err
			}
			if cur.Status == target {
				res = &Result{Order: cur, Replayed: true}
				return nil
			}
			return fmt.Errorf("%w: order %s moved to %s with payment %s concurrently",
				ErrInvalidTransition, o.ID, cur.Status, cur.PaymentStatus)
		}
		if err != nil {
			return err
		}
		res = &Result{Order: updated}
		return uow.Events().Append(ctx, newEvent(outbox.EventOrderPaymentUpdated, updated, now, map[string]any{
			"outcome": string(outcome),
			"note":    note,
		}))
	})
	fields := []zap.Field{zap.String("order_id", string(orderID)), zap.String("status", string(target))}
	if err != nil {
		return nil, s.fail("payment "+string(outcome), err, fields...)
	}
	if !res.Replayed {
		metrics.OrderTransitions.WithLabelValues(string(target)).Inc()
		s.log.Info("order closed by payment outcome", fields...)
	}
	return res, nil
}

// liveStatuses are the non-terminal statuses.
func liveStatuses() []Status {
	out := make([]Status, 0, len(Statuses))
	for _, st := range Statuses {
		if !st.Terminal() {
			out = append(out, st)
		}
	}
	return out
}

func containsPayment(set []PaymentStatus, p PaymentStatus) bool {
	for _, v := range set {
		if v == p {
			return true
		}
	}
	return false
}
