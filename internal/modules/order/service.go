// README: Order engine service: placement, rider claim, status advance with delivery earnings, cancellation refunds.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"drop/internal/metrics"
	"drop/internal/modules/earnings"
	"drop/internal/modules/outbox"
	"drop/internal/modules/wallet"
	"drop/internal/types"
)

type Service struct {
	tx     Transactor
	ledger *earnings.Ledger
	log    *zap.Logger
	now    func() time.Time
}

func NewService(tx Transactor, ledger *earnings.Ledger, log *zap.Logger) *Service {
	if ledger == nil {
		ledger = earnings.NewLedger(types.Zero, nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{tx: tx, ledger: ledger, log: log, now: time.Now}
}

// Result is what every mutating operation returns. Replayed is set when the call found its side effect
// already applied and returned the existing state instead.
type Result struct {
	Order    *Order              `json:"order"`
	Earning  *earnings.Record    `json:"earning,omitempty"`
	Refund   *wallet.Transaction `json:"refund,omitempty"`
	Replayed bool                `json:"replayed"`
}

type PlaceCommand struct {
	OrderNumber   string
	CustomerID    types.ID
	VendorID      types.ID
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	Subtotal      types.Money
	DeliveryFee   types.Money
	PlatformFee   types.Money
	Tip           types.Money
	// Total is optional; when given it must equal the sum of the components.
	Total *types.Money
}

type AdvanceCommand struct {
	OrderID types.ID
	Actor   Actor
	Target  Status
	Note    string
}

type CancelCommand struct {
	OrderID types.ID
	Actor   Actor
	Reason  string
}

type Detail struct {
	Order   *Order         `json:"order"`
	History []HistoryEntry `json:"history"`
}

type FeedPage struct {
	Items      []Order `json:"items"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	Total      int     `json:"total"`
	TotalPages int     `json:"total_pages"`
	HasMore    bool    `json:"has_more"`
}

func (s *Service) Place(ctx context.Context, cmd PlaceCommand) (*Order, error) {
	if cmd.CustomerID == "" || cmd.VendorID == "" {
		return nil, fmt.Errorf("%w: customer and vendor are required", ErrBadRequest)
	}
	for name, m := range map[string]types.Money{
		"subtotal":     cmd.Subtotal,
		"delivery_fee": cmd.DeliveryFee,
		"platform_fee": cmd.PlatformFee,
		"tip":          cmd.Tip,
	} {
		if m.IsNegative() {
			return nil, fmt.Errorf("%w: %s is negative", ErrBadRequest, name)
		}
	}
	total := types.Sum(cmd.Subtotal, cmd.DeliveryFee, cmd.PlatformFee, cmd.Tip)
	if cmd.Total != nil && !cmd.Total.Equal(total) {
		return nil, fmt.Errorf("%w: total %s does not match components %s", ErrBadRequest, cmd.Total, total)
	}

	method := cmd.PaymentMethod
	switch method {
	case "":
		method = PaymentCard
	case PaymentCard, PaymentWallet, PaymentCash:
	default:
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrBadRequest, method)
	}
	payment := cmd.PaymentStatus
	switch payment {
	case "":
		payment = PaymentPending
	case PaymentPending, PaymentCompleted:
	default:
		return nil, fmt.Errorf("%w: new orders cannot have payment %s", ErrBadRequest, payment)
	}

	now := s.now().UTC()
	o := &Order{
		ID:            types.NewID(),
		OrderNumber:   cmd.OrderNumber,
		CustomerID:    cmd.CustomerID,
		VendorID:      cmd.VendorID,
		Status:        StatusPending,
		PaymentMethod: method,
		PaymentStatus: payment,
		Subtotal:      cmd.Subtotal,
		DeliveryFee:   cmd.DeliveryFee,
		PlatformFee:   cmd.PlatformFee,
		Tip:           cmd.Tip,
		Total:         total,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if o.OrderNumber == "" {
		o.OrderNumber = newOrderNumber(o.ID, now)
	}

	err := s.tx.Within(ctx, func(uow UnitOfWork) error {
		if err := uow.Orders().Insert(ctx, o, "order placed"); err != nil {
			return err
		}
		return uow.Events().Append(ctx, newEvent(outbox.EventOrderPlaced, o, now, map[string]any{
			"order_number": o.OrderNumber,
			"total":        o.Total.String(),
		}))
	})
	if err != nil {
		return nil, s.fail("place", err, zap.String("order_number", o.OrderNumber))
	}
	metrics.OrderTransitions.WithLabelValues(string(StatusPending)).Inc()
	s.log.Info("order placed",
		zap.String("order_id", string(o.ID)),
		zap.String("order_number", o.OrderNumber),
		zap.String("total", o.Total.String()),
	)
	return o, nil
}

// AcceptOrder binds riderID to an unassigned READY_FOR_PICKUP order and moves it to PICKED_UP. Losers of a
// race get ErrAlreadyAssigned; retrying is always safe.
func (s *Service) AcceptOrder(ctx context.Context, orderID, riderID types.ID) (*Result, error) {
	if orderID == "" || riderID == "" {
		return nil, fmt.Errorf("%w: order and rider are required", ErrBadRequest)
	}

	var res *Result
	err := s.tx.Within(ctx, func(uow UnitOfWork) error {
		now := s.now().UTC()
		o, err := uow.Orders().Claim(ctx, orderID, riderID, now)
		if errors.Is(err, errStale) {
			return claimLoss(ctx, uow.Orders(), orderID)
		}
		if err != nil {
			return err
		}
		res = &Result{Order: o}
		return uow.Events().Append(ctx, newEvent(outbox.EventOrderClaimed, o, now, map[string]any{
			"rider_id": string(riderID),
		}))
	})
	fields := []zap.Field{zap.String("order_id", string(orderID)), zap.String("rider_id", string(riderID))}
	if err != nil {
		metrics.OrderClaims.WithLabelValues(Kind(err)).Inc()
		return nil, s.fail("accept", err, fields...)
	}
	metrics.OrderClaims.WithLabelValues("won").Inc()
	metrics.OrderTransitions.WithLabelValues(string(StatusPickedUp)).Inc()
	s.log.Info("order claimed", fields...)
	return res, nil
}

// claimLoss explains a claim that matched no row.
func claimLoss(ctx context.Context, repo Repository, id types.ID) error {
	o, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.RiderID != nil {
		return fmt.Errorf("%w: order %s", ErrAlreadyAssigned, id)
	}
	return fmt.Errorf("%w: order %s is %s", ErrInvalidState, id, o.Status)
}

// AdvanceStatus is the rider-facing transition.
func (s *Service) AdvanceStatus(ctx context.Context, orderID, riderID types.ID, target Status) (*Result, error) {
	return s.Advance(ctx, AdvanceCommand{
		OrderID: orderID,
		Actor:   Actor{ID: riderID, Role: RoleRider},
		Target:  target,
	})
}

// VendorAdvance drives the kitchen edges on an order the vendor owns.
func (s *Service) VendorAdvance(ctx context.Context, orderID, vendorID types.ID, target Status) (*Result, error) {
	return s.Advance(ctx, AdvanceCommand{
		OrderID: orderID,
		Actor:   Actor{ID: vendorID, Role: RoleVendor},
		Target:  target,
	})
}

func (s *Service) Advance(ctx context.Context, cmd AdvanceCommand) (*Result, error) {
	if cmd.OrderID == "" || cmd.Actor.ID == "" || !cmd.Actor.Role.Valid() {
		return nil, fmt.Errorf("%w: order and actor are required", ErrBadRequest)
	}
	switch {
	case cmd.Target == StatusCancelled:
		return s.CancelOrder(ctx, CancelCommand{OrderID: cmd.OrderID, Actor: cmd.Actor, Reason: cmd.Note})
	case cmd.Target == StatusPickedUp && cmd.Actor.Role == RoleRider:
		return s.AcceptOrder(ctx, cmd.OrderID, cmd.Actor.ID)
	}

	var res *Result
	var earningCreated bool
	err := s.tx.Within(ctx, func(uow UnitOfWork) error {
		o, err := uow.Orders().Get(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if err := authorize(o, cmd.Actor); err != nil {
			return err
		}
		now := s.now().UTC()

		// duplicate delivery confirmation from the bound rider
		if cmd.Target == StatusDelivered && o.Status == StatusDelivered && cmd.Actor.Role == RoleRider {
			rec, created, err := s.recordDelivery(ctx, uow, o, now)
			if err != nil {
				return err
			}
			earningCreated = created
			res = &Result{Order: o, Earning: rec, Replayed: !created}
			return nil
		}

		if !CanTransition(o.Status, cmd.Target, cmd.Actor.Role) {
			return invalidTransition(o.Status, cmd.Target, cmd.Actor.Role)
		}
		t := Transition{
			OrderID: o.ID,
			From:    []Status{o.Status},
			To:      cmd.Target,
			Note:    noteOr(cmd.Note, fmt.Sprintf("%s by %s", strings.ToLower(string(cmd.Target)), cmd.Actor.Role)),
			Actor:   cmd.Actor,
			At:      now,
		}
		switch cmd.Actor.Role {
		case RoleRider:
			t.RiderID = &cmd.Actor.ID
		case RoleVendor:
			t.VendorID = &cmd.Actor.ID
		}
		updated, err := uow.Orders().Apply(ctx, t)
		if errors.Is(err, errStale) {
			return fmt.Errorf("%w: order %s left %s concurrently", ErrInvalidTransition, o.ID, o.Status)
		}
		if err != nil {
			return err
		}
		res = &Result{Order: updated}

		if updated.Status != StatusDelivered {
			return uow.Events().Append(ctx, newEvent(outbox.EventOrderStatusChanged, updated, now, map[string]any{
				"from":       string(o.Status),
				"actor_role": string(cmd.Actor.Role),
			}))
		}
		earningCreated, err = s.settleDelivery(ctx, uow, res, now)
		return err
	})
	fields := []zap.Field{
		zap.String("order_id", string(cmd.OrderID)),
		zap.String("actor_role", string(cmd.Actor.Role)),
		zap.String("status", string(cmd.Target)),
	}
	if err != nil {
		return nil, s.fail("advance", err, fields...)
	}

	if res.Earning != nil {
		s.recordEarningOutcome(res, earningCreated)
	}
	if !res.Replayed {
		metrics.OrderTransitions.WithLabelValues(string(res.Order.Status)).Inc()
		s.log.Info("order status advanced", fields...)
	}
	return res, nil
}

// settleDelivery runs the DELIVERED side effects inside the transition's unit of work: cash on delivery
// settles, the rider's earning is recorded once.
func (s *Service) settleDelivery(ctx context.Context, uow UnitOfWork, res *Result, now time.Time) (bool, error) {
	o := res.Order
	if o.PaymentStatus == PaymentPending {
		ok, err := uow.Orders().SetPaymentStatus(ctx, PaymentChange{
			OrderID: o.ID,
			From:    []PaymentStatus{PaymentPending},
			To:      PaymentCompleted,
			At:      now,
		})
		if err != nil {
			return false, err
		}
		if ok {
			o.PaymentStatus = PaymentCompleted
		}
	}

	rec, created, err := s.recordDelivery(ctx, uow, o, now)
	if err != nil {
		return false, err
	}
	res.Earning = rec
	return created, uow.Events().Append(ctx, newEvent(outbox.EventOrderDelivered, o, now, map[string]any{
		"rider_id":      string(*o.RiderID),
		"earning_id":    string(rec.ID),
		"earning_total": rec.Total.String(),
	}))
}

func (s *Service) recordDelivery(ctx context.Context, uow UnitOfWork, o *Order, now time.Time) (*earnings.Record, bool, error) {
	if o.RiderID == nil {
		return nil, false, fmt.Errorf("%w: delivered order %s has no rider", ErrInvalidState, o.ID)
	}
	at := now
	if o.DeliveredAt != nil {
		at = *o.DeliveredAt
	}
	rec, created, err := s.ledger.Record(ctx, uow.Earnings(), earnings.Delivery{
		RiderID:     *o.RiderID,
		OrderID:     o.ID,
		DeliveryFee: o.DeliveryFee,
		Tip:         o.Tip,
		At:          at,
	})
	if errors.Is(err, earnings.ErrRiderNotFound) {
		return nil, false, fmt.Errorf("%w: %s", ErrRiderNotFound, *o.RiderID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("record earning for order %s: %w", o.ID, err)
	}
	return rec, created, nil
}

// RecordDelivery records the earning for an already delivered order. It is safe to call any number of times.
func (s *Service) RecordDelivery(ctx context.Context, orderID types.ID) (*earnings.Record, error) {
	var res Result
	var created bool
	err := s.tx.Within(ctx, func(uow UnitOfWork) error {
		o, err := uow.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusDelivered {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidState, o.ID, o.Status)
		}
		res.Order = o
		res.Earning, created, err = s.recordDelivery(ctx, uow, o, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, s.fail("record delivery", err, zap.String("order_id", string(orderID)))
	}
	s.recordEarningOutcome(&res, created)
	return res.Earning, nil
}

func (s *Service) recordEarningOutcome(res *Result, created bool) {
	if !created {
		metrics.EarningsRecorded.WithLabelValues("replayed").Inc()
		return
	}
	metrics.EarningsRecorded.WithLabelValues("created").Inc()
	s.log.Info("rider earning recorded",
		zap.String("order_id", string(res.Order.ID)),
		zap.String("rider_id", string(res.Earning.RiderID)),
		zap.String("amount", res.Earning.Total.String()),
	)
}

// CancelOrder cancels a non-terminal order. A paid order is refunded to the customer's wallet in the same
// transaction. Cancelling an already cancelled order succeeds without side effects.
func (s *Service) CancelOrder(ctx context.Context, cmd CancelCommand) (*Result, error) {
	if cmd.OrderID == "" || !cmd.Actor.Role.Valid() {
		return nil, fmt.Errorf("%w: order and actor are required", ErrBadRequest)
	}
	reason := noteOr(cmd.Reason, "cancelled by "+string(cmd.Actor.Role))

	var res *Result
	var credited bool
	err := s.tx.Within(ctx, func(uow UnitOfWork) error {
		repo := uow.Orders()
		o, err := repo.Get(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if o.Status == StatusCancelled && mayCancel(cmd.Actor.Role) {
			res, err = s.cancelReplay(ctx, uow, o)
			return err
		}
		if !CanTransition(o.Status, StatusCancelled, cmd.Actor.Role) {
			return invalidTransition(o.Status, StatusCancelled, cmd.Actor.Role)
		}

		now := s.now().UTC()
		updated, err := repo.Apply(ctx, Transition{
			OrderID: o.ID,
			From:    cancellable(),
			To:      StatusCancelled,
			Note:    reason,
			Actor:   cmd.Actor,
			At:      now,
		})
		if errors.Is(err, errStale) {
			cur, err := repo.Get(ctx, o.ID)
			if err != nil {
				return err
			}
			if cur.Status == StatusCancelled {
				res, err = s.cancelReplay(ctx, uow, cur)
				return err
			}
			return invalidTransition(cur.Status, StatusCancelled, cmd.Actor.Role)
		}
		if err != nil {
			return err
		}
		res = &Result{Order: updated}
		if err := uow.Events().Append(ctx, newEvent(outbox.EventOrderCancelled, updated, now, map[string]any{
			"reason":     reason,
			"actor_role": string(cmd.Actor.Role),
		})); err != nil {
			return err
		}

		if updated.PaymentStatus != PaymentCompleted {
			return nil
		}
		res.Refund, credited, err = s.compensate(ctx, uow, updated, now)
		return err
	})
	fields := []zap.Field{zap.String("order_id", string(cmd.OrderID)), zap.String("actor_role", string(cmd.Actor.Role))}
	if err != nil {
		return nil, s.fail("cancel", err, fields...)
	}

	switch {
	case res.Replayed:
		metrics.Refunds.WithLabelValues("replayed").Inc()
		return res, nil
	case credited:
		metrics.Refunds.WithLabelValues("credited").Inc()
		fields = append(fields, zap.String("amount", res.Refund.Amount.String()))
	case res.Refund == nil:
		metrics.Refunds.WithLabelValues("skipped").Inc()
	}
	metrics.OrderTransitions.WithLabelValues(string(StatusCancelled)).Inc()
	s.log.Info("order cancelled", append(fields, zap.String("reason", reason))...)
	return res, nil
}

// compensate flips a COMPLETED payment to REFUNDED and credits the customer's wallet by the order total.
func (s *Service) compensate(ctx context.Context, uow UnitOfWork, o *Order, now time.Time) (*wallet.Transaction, bool, error) {
	ok, err := uow.Orders().SetPaymentStatus(ctx, PaymentChange{
		OrderID: o.ID,
		From:    []PaymentStatus{PaymentCompleted},
		To:      PaymentRefunded,
		At:      now,
	})
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("%w: payment of order %s changed concurrently", ErrInvalidTransition, o.ID)
	}
	o.PaymentStatus = PaymentRefunded

	tx, credited, err := wallet.Refund(ctx, uow.Wallets(), wallet.RefundRequest{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		CustomerID:  o.CustomerID,
		Amount:      o.Total,
		At:          now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("refund order %s: %w", o.ID, err)
	}
	if !credited {
		return tx, false, nil
	}
	return tx, true, uow.Events().Append(ctx, newEvent(outbox.EventWalletRefunded, o, now, map[string]any{
		"customer_id":    string(o.CustomerID),
		"wallet_id":      string(tx.WalletID),
		"transaction_id": string(tx.ID),
		"amount":         tx.Amount.String(),
	}))
}

func (s *Service) cancelReplay(ctx context.Context, uow UnitOfWork, o *Order) (*Result, error) {
	res := &Result{Order: o, Replayed: true}
	if o.PaymentStatus != PaymentRefunded {
		return res, nil
	}
	refund, err := uow.Wallets().FindRefund(ctx, o.ID)
	if err != nil && !errors.Is(err, wallet.ErrRefundNotFound) {
		return nil, err
	}
	res.Refund = refund
	return res, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.tx.Orders().Get(ctx, id)
}

func (s *Service) GetWithHistory(ctx context.Context, id types.ID) (*Detail, error) {
	repo := s.tx.Orders()
	o, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := repo.History(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Order: o, History: history}, nil
}

func (s *Service) ListForRider(ctx context.Context, riderID types.ID, typ FeedType, page, limit int) (*FeedPage, error) {
	if riderID == "" {
		return nil, fmt.Errorf("%w: rider is required", ErrBadRequest)
	}
	page, limit = earnings.NormalizePage(page, limit)
	items, total, err := s.tx.Orders().ListForRider(ctx, FeedQuery{
		RiderID: riderID,
		Type:    typ,
		Limit:   limit,
		Offset:  (page - 1) * limit,
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Order{}
	}
	pages := (total + limit - 1) / limit
	return &FeedPage{
		Items:      items,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: pages,
		HasMore:    page < pages,
	}, nil
}

func authorize(o *Order, a Actor) error {
	switch a.Role {
	case RoleRider:
		if o.RiderID == nil || *o.RiderID != a.ID {
			return fmt.Errorf("%w: order %s is not bound to rider %s", ErrNotAuthorized, o.ID, a.ID)
		}
	case RoleVendor:
		if o.VendorID != a.ID {
			return fmt.Errorf("%w: order %s belongs to another vendor", ErrNotAuthorized, o.ID)
		}
	}
	return nil
}

func mayCancel(role Role) bool {
	return CanTransition(StatusPending, StatusCancelled, role)
}

// fail logs err at a level matching its kind and returns it unchanged.
func (s *Service) fail(op string, err error, fields ...zap.Field) error {
	kind := Kind(err)
	fields = append(fields, zap.String("kind", kind), zap.Error(err))
	if kind == KindInternal {
		s.log.Error(op+" failed", fields...)
	} else {
		s.log.Debug(op+" rejected", fields...)
	}
	return err
}

func newEvent(typ string, o *Order, at time.Time, payload map[string]any) outbox.Event {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = string(o.Status)
	payload["payment_status"] = string(o.PaymentStatus)
	return outbox.Event{
		ID:        types.NewID(),
		Type:      typ,
		OrderID:   o.ID,
		CreatedAt: at,
		Payload:   payload,
	}
}

func newOrderNumber(id types.ID, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(string(id), "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("ORD-%s-%s", at.Format("20060102"), suffix)
}

func noteOr(note, fallback string) string {
	if n := strings.TrimSpace(note); n != "" {
		return n
	}
	return fallback
}
