package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"drop/internal/modules/earnings"
	"drop/internal/modules/outbox"
	"drop/internal/modules/wallet"
	"drop/internal/types"
)

// memDB is an in-memory Transactor. Units of work are serialised and rolled back on error, which gives the
// service the same all-or-nothing behaviour as a Postgres transaction.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	orders   map[types.ID]Order
	history  []HistoryEntry
	earnings map[string]earnings.Record
	riders   map[types.ID]riderAgg
	wallets  map[types.ID]wallet.Wallet
	txs      []wallet.Transaction
	events   []outbox.Event
	nextHist int64

	failCredit error
	// afterGet runs once, right after the next Get, to commit a competing write between read and update.
	afterGet func(id types.ID)
	// snap is the open unit's rollback point.
	snap *memState
}

type riderAgg struct {
	deliveries int
	total      types.Money
}

type memState struct {
	orders   map[types.ID]Order
	history  []HistoryEntry
	earnings map[string]earnings.Record
	riders   map[types.ID]riderAgg
	wallets  map[types.ID]wallet.Wallet
	txs      []wallet.Transaction
	events   []outbox.Event
}

func newMemDB(riders ...types.ID) *memDB {
	db := &memDB{
		orders:   map[types.ID]Order{},
		earnings: map[string]earnings.Record{},
		riders:   map[types.ID]riderAgg{},
		wallets:  map[types.ID]wallet.Wallet{},
	}
	for _, r := range riders {
		db.riders[r] = riderAgg{total: types.Zero}
	}
	return db
}

func (db *memDB) Orders() Repository {
	return memOrders{db}
}

func (db *memDB) Within(ctx context.Context, fn func(uow UnitOfWork) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := db.snapshot()
	db.mu.Lock()
	db.snap = &snap
	db.mu.Unlock()
	defer func() {
		db.mu.Lock()
		db.snap = nil
		db.mu.Unlock()
	}()
	if err := fn(memUnit{db}); err != nil {
		db.restore(snap)
		return err
	}
	return nil
}

func (db *memDB) snapshot() memState {
	db.mu.Lock()
	defer db.mu.Unlock()
	s := memState{
		orders:   make(map[types.ID]Order, len(db.orders)),
		history:  append([]HistoryEntry(nil), db.history...),
		earnings: make(map[string]earnings.Record, len(db.earnings)),
		riders:   make(map[types.ID]riderAgg, len(db.riders)),
		wallets:  make(map[types.ID]wallet.Wallet, len(db.wallets)),
		txs:      append([]wallet.Transaction(nil), db.txs...),
		events:   append([]outbox.Event(nil), db.events...),
	}
	for k, v := range db.orders {
		s.orders[k] = v
	}
	for k, v := range db.earnings {
		s.earnings[k] = v
	}
	for k, v := range db.riders {
		s.riders[k] = v
	}
	for k, v := range db.wallets {
		s.wallets[k] = v
	}
	return s
}

func (db *memDB) restore(s memState) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.orders = s.orders
	db.history = s.history
	db.earnings = s.earnings
	db.riders = s.riders
	db.wallets = s.wallets
	db.txs = s.txs
	db.events = s.events
}

// interleave makes fn commit after the next order read, as a concurrent transaction would.
func (db *memDB) interleave(fn func(repo Repository, id types.ID)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.afterGet = func(id types.ID) {
		db.mu.Lock()
		mark := len(db.history)
		db.mu.Unlock()

		fn(memOrders{db}, id)

		// the competing write is committed: it survives a rollback of the open unit
		db.mu.Lock()
		defer db.mu.Unlock()
		if db.snap != nil {
			db.snap.orders[id] = db.orders[id]
			db.snap.history = append(db.snap.history, db.history[mark:]...)
		}
	}
}

// seed stores o as-is, bypassing placement.
func (db *memDB) seed(o Order) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	o.UpdatedAt = o.CreatedAt
	db.orders[o.ID] = o
	db.appendHistory(o.ID, o.Status, "seeded", Actor{Role: RoleSystem}, o.CreatedAt)
}

func (db *memDB) order(id types.ID) Order {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.orders[id]
}

func (db *memDB) rider(id types.ID) riderAgg {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.riders[id]
}

func (db *memDB) refunds(orderID types.ID) []wallet.Transaction {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []wallet.Transaction
	for _, t := range db.txs {
		if t.Type == wallet.TxRefund && t.OrderID != nil && *t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out
}

func (db *memDB) balance(userID types.ID) types.Money {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.wallets[userID].Balance
}

func (db *memDB) eventTypes(orderID types.ID) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []string
	for _, e := range db.events {
		if e.OrderID == orderID {
			out = append(out, e.Type)
		}
	}
	return out
}

// appendHistory requires db.mu.
func (db *memDB) appendHistory(id types.ID, st Status, note string, a Actor, at time.Time) {
	db.nextHist++
	var actorID *types.ID
	if a.ID != "" {
		actorID = a.ID.Ptr()
	}
	db.history = append(db.history, HistoryEntry{
		ID:        db.nextHist,
		OrderID:   id,
		Status:    st,
		Note:      note,
		ActorRole: a.Role,
		ActorID:   actorID,
		CreatedAt: at,
	})
}

type memUnit struct{ db *memDB }

func (u memUnit) Orders() Repository { return memOrders{u.db} }
func (u memUnit) Earnings() earnings.Store { return memEarnings{u.db} }
func (u memUnit) Wallets() wallet.Store { return memWallets{u.db} }
func (u memUnit) Events() outbox.Writer { return memEvents{u.db} }

type memOrders struct{ db *memDB }

func (r memOrders) Insert(_ context.Context, o *Order, note string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.orders {
		if existing.OrderNumber == o.OrderNumber {
			return fmt.Errorf("%w: %s", ErrDuplicate, o.OrderNumber)
		}
	}
	r.db.orders[o.ID] = *o
	r.db.appendHistory(o.ID, o.Status, note, Actor{Role: RoleSystem}, o.CreatedAt)
	return nil
}

func (r memOrders) Get(_ context.Context, id types.ID) (*Order, error) {
	r.db.mu.Lock()
	o, ok := r.db.orders[id]
	hook := r.db.afterGet
	r.db.afterGet = nil
	r.db.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if hook != nil {
		hook(id)
	}
	return &o, nil
}

func (r memOrders) History(_ context.Context, id types.ID) ([]HistoryEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []HistoryEntry
	for _, h := range r.db.history {
		if h.OrderID == id {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r memOrders) Claim(_ context.Context, id, riderID types.ID, at time.Time) (*Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	o, ok := r.db.orders[id]
	if !ok || o.RiderID != nil || o.Status != StatusReadyForPickup {
		return nil, errStale
	}
	if _, ok := r.db.riders[riderID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrRiderNotFound, riderID)
	}
	o.RiderID = riderID.Ptr()
	o.Status = StatusPickedUp
	o.UpdatedAt = latest(o.UpdatedAt, at)
	r.db.orders[id] = o
	r.db.appendHistory(id, o.Status, "accepted by rider", Actor{ID: riderID, Role: RoleRider}, at)
	return &o, nil
}

func (r memOrders) Apply(_ context.Context, t Transition) (*Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	o, ok := r.db.orders[t.OrderID]
	if !ok || !containsStatus(t.From, o.Status) {
		return nil, errStale
	}
	if t.RiderID != nil && (o.RiderID == nil || *o.RiderID != *t.RiderID) {
		return nil, errStale
	}
	if t.VendorID != nil && o.VendorID != *t.VendorID {
		return nil, errStale
	}
	if t.PaymentFrom != nil && !containsPayment(t.PaymentFrom, o.PaymentStatus) {
		return nil, errStale
	}
	o.Status = t.To
	if t.PaymentTo != "" {
		o.PaymentStatus = t.PaymentTo
	}
	o.UpdatedAt = latest(o.UpdatedAt, t.At)
	switch t.To {
	case StatusDelivered:
		at := t.At
		o.DeliveredAt = &at
	case StatusCancelled:
		at, reason := t.At, t.Note
		o.CancelledAt = &at
		o.CancelReason = &reason
	}
	r.db.orders[t.OrderID] = o
	r.db.appendHistory(o.ID, o.Status, t.Note, t.Actor, t.At)
	return &o, nil
}

func (r memOrders) SetPaymentStatus(_ context.Context, c PaymentChange) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	o, ok := r.db.orders[c.OrderID]
	if !ok || !containsPayment(c.From, o.PaymentStatus) {
		return false, nil
	}
	if c.OrderIn != nil && !containsStatus(c.OrderIn, o.Status) {
		return false, nil
	}
	o.PaymentStatus = c.To
	o.UpdatedAt = latest(o.UpdatedAt, c.At)
	r.db.orders[c.OrderID] = o
	return true, nil
}

func (r memOrders) ListForRider(_ context.Context, q FeedQuery) ([]Order, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var matched []Order
	for _, o := range r.db.orders {
		bound := o.RiderID != nil && *o.RiderID == q.RiderID
		var keep bool
		switch q.Type {
		case FeedAvailable:
			keep = o.RiderID == nil && o.Status == StatusReadyForPickup
		case FeedActive:
			keep = bound && (o.Status == StatusPickedUp || o.Status == StatusOutForDelivery)
		case FeedCompleted:
			keep = bound && o.Status == StatusDelivered
		default:
			keep = bound
		}
		if keep {
			matched = append(matched, o)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	if q.Offset >= total {
		return nil, total, nil
	}
	end := q.Offset + q.Limit
	if end > total {
		end = total
	}
	return matched[q.Offset:end], total, nil
}

type memEarnings struct{ db *memDB }

func earningKey(riderID, orderID types.ID) string {
	return string(riderID) + "|" + string(orderID)
}

func (s memEarnings) Find(_ context.Context, riderID, orderID types.ID) (*earnings.Record, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.earnings[earningKey(riderID, orderID)]
	if !ok {
		return nil, earnings.ErrNotFound
	}
	return &r, nil
}

func (s memEarnings) Insert(_ context.Context, r *earnings.Record) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	key := earningKey(r.RiderID, r.OrderID)
	if _, ok := s.db.earnings[key]; ok {
		return false, nil
	}
	s.db.earnings[key] = *r
	return true, nil
}

func (s memEarnings) CreditRider(_ context.Context, riderID types.ID, total types.Money) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	agg, ok := s.db.riders[riderID]
	if !ok {
		return earnings.ErrRiderNotFound
	}
	agg.deliveries++
	agg.total = agg.total.Add(total)
	s.db.riders[riderID] = agg
	return nil
}

type memWallets struct{ db *memDB }

func (s memWallets) FindRefund(_ context.Context, orderID types.ID) (*wallet.Transaction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, t := range s.db.txs {
		if t.Type == wallet.TxRefund && t.OrderID != nil && *t.OrderID == orderID {
			return &t, nil
		}
	}
	return nil, wallet.ErrRefundNotFound
}

func (s memWallets) EnsureWallet(_ context.Context, userID types.ID) (*wallet.Wallet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w, ok := s.db.wallets[userID]
	if !ok {
		w = wallet.Wallet{ID: types.NewID(), UserID: userID, Balance: types.Zero}
		s.db.wallets[userID] = w
	}
	return &w, nil
}

func (s memWallets) InsertTransaction(_ context.Context, t *wallet.Transaction) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.txs {
		if existing.Type == wallet.TxRefund && t.Type == wallet.TxRefund && *existing.OrderID == *t.OrderID {
			return false, nil
		}
	}
	s.db.txs = append(s.db.txs, *t)
	return true, nil
}

func (s memWallets) Credit(_ context.Context, walletID types.ID, amount types.Money) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failCredit != nil {
		return s.db.failCredit
	}
	for user, w := range s.db.wallets {
		if w.ID == walletID {
			w.Balance = w.Balance.Add(amount)
			s.db.wallets[user] = w
			return nil
		}
	}
	return wallet.ErrWalletNotFound
}

type memEvents struct{ db *memDB }

func (w memEvents) Append(_ context.Context, e outbox.Event) error {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	w.db.events = append(w.db.events, e)
	return nil
}

func containsStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
