// README: Route-level tests for the role handlers against a stub order engine.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	httptransport "drop/internal/http"
	"drop/internal/infra"
	"drop/internal/modules/earnings"
	"drop/internal/modules/order"
	"drop/internal/types"
)

type stubVerifier struct{}

// VerifyIDToken treats the bearer token as "uid:role".
func (stubVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.FirebaseToken, error) {
	uid, role, ok := strings.Cut(raw, ":")
	if !ok {
		return nil, errors.New("bad token")
	}
	return &infra.FirebaseToken{UID: uid, Claims: map[string]interface{}{"role": role}}, nil
}

type stubEngine struct {
	err error

	calls    int
	accepted types.ID
	rider    types.ID
	advance  order.AdvanceCommand
	cancel   order.CancelCommand
	place    order.PlaceCommand
	outcome  order.PaymentOutcome
	feed     order.FeedType
	page     int
	limit    int
	replayed bool
}

func (s *stubEngine) result(id types.ID) *order.Result {
	return &order.Result{Order: &order.Order{ID: id}, Replayed: s.replayed}
}

func (s *stubEngine) Place(_ context.Context, cmd order.PlaceCommand) (*order.Order, error) {
	s.calls++
	s.place = cmd
	if s.err != nil {
		return nil, s.err
	}
	return &order.Order{ID: "o-new", CustomerID: cmd.CustomerID, VendorID: cmd.VendorID, Status: order.StatusPending}, nil
}

func (s *stubEngine) AcceptOrder(_ context.Context, orderID, riderID types.ID) (*order.Result, error) {
	s.calls++
	s.accepted, s.rider = orderID, riderID
	if s.err != nil {
		return nil, s.err
	}
	return s.result(orderID), nil
}

func (s *stubEngine) Advance(_ context.Context, cmd order.AdvanceCommand) (*order.Result, error) {
	s.calls++
	s.advance = cmd
	if s.err != nil {
		return nil, s.err
	}
	return s.result(cmd.OrderID), nil
}

func (s *stubEngine) CancelOrder(_ context.Context, cmd order.CancelCommand) (*order.Result, error) {
	s.calls++
	s.cancel = cmd
	if s.err != nil {
		return nil, s.err
	}
	return s.result(cmd.OrderID), nil
}

func (s *stubEngine) ApplyPayment(_ context.Context, orderID types.ID, outcome order.PaymentOutcome, _ string) (*order.Result, error) {
	s.calls++
	s.outcome = outcome
	if s.err != nil {
		return nil, s.err
	}
	return s.result(orderID), nil
}

func (s *stubEngine) GetWithHistory(_ context.Context, id types.ID) (*order.Detail, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &order.Detail{Order: &order.Order{ID: id}}, nil
}

func (s *stubEngine) ListForRider(_ context.Context, riderID types.ID, typ order.FeedType, page, limit int) (*order.FeedPage, error) {
	s.calls++
	s.rider, s.feed, s.page, s.limit = riderID, typ, page, limit
	if s.err != nil {
		return nil, s.err
	}
	return &order.FeedPage{Items: []order.Order{}, Page: 1, Limit: 10}, nil
}

type stubEarnings struct {
	query earnings.OverviewQuery
	err   error
}

func (s *stubEarnings) Overview(_ context.Context, q earnings.OverviewQuery) (*earnings.Overview, error) {
	s.query = q
	if s.err != nil {
		return nil, s.err
	}
	return &earnings.Overview{Period: q.Period}, nil
}

func newRouter(t *testing.T, engine *stubEngine, earn *stubEarnings) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if earn == nil {
		earn = &stubEarnings{}
	}
	r, err := httptransport.NewRouter(httptransport.RouterDeps{
		Order:    engine,
		Earnings: earn,
		Verifier: stubVerifier{},
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return r
}

func doRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body.Kind
}

func TestHealth(t *testing.T) {
	r := newRouter(t, &stubEngine{}, nil)
	w := doRequest(r, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRiderAcceptUsesCallerAsRider(t *testing.T) {
	engine := &stubEngine{}
	r := newRouter(t, engine, nil)

	w := doRequest(r, http.MethodPost, "/api/rider/orders/o1/accept", nil, "R1:rider")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if engine.accepted != "o1" || engine.rider != "R1" {
		t.Fatalf("unexpected accept call: order=%s rider=%s", engine.accepted, engine.rider)
	}
}

func TestRoleGroupsRejectOtherRoles(t *testing.T) {
	engine := &stubEngine{}
	r := newRouter(t, engine, nil)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodPost, "/api/rider/orders/o1/accept", "", http.StatusUnauthorized},
		{"vendor on rider route", http.MethodPost, "/api/rider/orders/o1/accept", "V1:vendor", http.StatusForbidden},
		{"rider on vendor route", http.MethodPost, "/api/vendor/orders/o1/status", "R1:rider", http.StatusForbidden},
		{"rider cancels", http.MethodPost, "/api/admin/orders/o1/cancel", "R1:rider", http.StatusForbidden},
		{"vendor places", http.MethodPost, "/api/system/orders", "V1:vendor", http.StatusForbidden},
	}
	for _, tc := range cases {
		w := doRequest(r, tc.method, tc.path, map[string]any{}, tc.token)
		if w.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, w.Code)
		}
	}
	if engine.calls != 0 {
		t.Fatalf("engine should not be reached, got %d calls", engine.calls)
	}
}

func TestEngineErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
		kind string
	}{
		{fmt.Errorf("%w: o1", order.ErrAlreadyAssigned), http.StatusConflict, order.KindAlreadyAssigned},
		{fmt.Errorf("%w: o1", order.ErrNotFound), http.StatusNotFound, order.KindNotFound},
		{fmt.Errorf("%w: READY_FOR_PICKUP -> PICKED_UP", order.ErrInvalidState), http.StatusBadRequest, order.KindInvalidTransition},
		{fmt.Errorf("%w: rider R2", order.ErrNotAuthorized), http.StatusForbidden, order.KindNotAuthorized},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, order.KindTimeout},
		{errors.New("connection reset"), http.StatusInternalServerError, order.KindInternal},
	}
	for _, tc := range cases {
		r := newRouter(t, &stubEngine{err: tc.err}, nil)
		w := doRequest(r, http.MethodPost, "/api/rider/orders/o1/accept", nil, "R1:rider")
		if w.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
			continue
		}
		if kind := decodeKind(t, w); kind != tc.kind {
			t.Errorf("%v: expected kind %s, got %s", tc.err, tc.kind, kind)
		}
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	r := newRouter(t, &stubEngine{err: errors.New("pq: password authentication failed")}, nil)
	w := doRequest(r, http.MethodPost, "/api/rider/orders/o1/accept", nil, "R1:rider")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("password")) {
		t.Fatalf("internal detail leaked: %s", w.Body.String())
	}
}

func TestRiderAdvanceValidatesStatus(t *testing.T) {
	engine := &stubEngine{}
	r := newRouter(t, engine, nil)

	w := doRequest(r, http.MethodPost, "/api/rider/orders/o1/status", map[string]any{"status": "TELEPORTED"}, "R1:rider")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}
	w = doRequest(r, http.MethodPost, "/api/rider/orders/o1/status", map[string]any{}, "R1:rider")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing status, got %d", w.Code)
	}
	if engine.calls != 0 {
		t.Fatalf("engine should not be reached, got %d calls", engine.calls)
	}

	w = doRequest(r, http.MethodPost, "/api/rider/orders/o1/status", map[string]any{
		"status": "OUT_FOR_DELIVERY",
		"note":   "left the restaurant",
	}, "R1:rider")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	cmd := engine.advance
	if cmd.OrderID != "o1" || cmd.Target != order.StatusOutForDelivery || cmd.Note != "left the restaurant" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if cmd.Actor.ID != "R1" || cmd.Actor.Role != order.RoleRider {
		t.Fatalf("unexpected actor: %+v", cmd.Actor)
	}
}

func TestVendorAdvanceActsAsVendor(t *testing.T) {
	engine := &stubEngine{}
	r := newRouter(t, engine, nil)

	w := doRequest(r, http.MethodPost, "/api/vendor/orders/o1/status", map[string]any{"status": "CONFIRMED"}, "V1:vendor")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if engine.advance.Actor.Role != order.RoleVendor || engine.advance.Actor.ID != "V1" {
		t.Fatalf("unexpected actor: %+v", engine.advance.Actor)
	}
}

func TestAdminCancel(t *testing.T) {
	engine := &stubEngine{replayed: true}
	r := newRouter(t, engine, nil)

	w := doRequest(r, http.MethodPost, "/api/admin/orders/o1/cancel", map[string]any{}, "A1:admin")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reason, got %d", w.Code)
	}

	w = doRequest(r, http.MethodPost, "/api/admin/orders/o1/cancel", map[string]any{"reason": "vendor closed"}, "A1:admin")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if engine.cancel.Reason != "vendor closed" || engine.cancel.Actor.Role != order.RoleAdmin {
		t.Fatalf("unexpected cancel command: %+v", engine.cancel)
	}
	var res order.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !res.Replayed {
		t.Fatalf("expected replayed flag in response")
	}
}

func TestAdminGet(t *testing.T) {
	r := newRouter(t, &stubEngine{}, nil)
	w := doRequest(r, http.MethodGet, "/api/admin/orders/o9", nil, "A1:admin")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestSystemPlace(t *testing.T) {
	engine := &stubEngine{}
	r := newRouter(t, engine, nil)

	w := doRequest(r, http.MethodPost, "/api/system/orders", map[string]any{"vendor_id": "V1"}, "svc:system")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without customer, got %d", w.Code)
	}

	w = doRequest(r, http.MethodPost, "/api/system/orders", map[string]any{
		"customer_id":    "C1",
		"vendor_id":      "V1",
		"payment_method": "CARD",
		"subtotal":       "100.00",
		"delivery_fee":   "40",
		"tip":            "20",
	}, "svc:system")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	cmd := engine.place
	if cmd.CustomerID != "C1" || cmd.PaymentMethod != order.PaymentCard {
		t.Fatalf("unexpected place command: %+v", cmd)
	}
	if !cmd.Subtotal.Equal(types.MustMoney("100")) || !cmd.DeliveryFee.Equal(types.MustMoney("40")) || cmd.Total != nil {
		t.Fatalf("unexpected amounts: %+v", cmd)
	}
}

func TestSystemPaymentOutcome(t *testing.T) {
	engine := &stubEngine{}
	r := newRouter(t, engine, nil)

	w := doRequest(r, http.MethodPost, "/api/system/orders/o1/payment", map[string]any{"outcome": "maybe"}, "svc:system")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown outcome, got %d", w.Code)
	}
	w = doRequest(r, http.MethodPost, "/api/system/orders/o1/payment", map[string]any{"outcome": "paid"}, "svc:system")
	if w.Code != http.StatusOK || engine.outcome != order.OutcomePaid {
		t.Fatalf("expected paid outcome to reach engine, got %d %q", w.Code, engine.outcome)
	}
}

func TestRiderFeedAndEarningsQuery(t *testing.T) {
	engine := &stubEngine{}
	earn := &stubEarnings{}
	r := newRouter(t, engine, earn)

	w := doRequest(r, http.MethodGet, "/api/rider/orders?type=active&page=2&limit=5", nil, "R1:rider")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if engine.rider != "R1" || engine.feed != order.FeedActive || engine.page != 2 || engine.limit != 5 {
		t.Fatalf("unexpected feed query: rider=%s type=%s page=%d limit=%d", engine.rider, engine.feed, engine.page, engine.limit)
	}

	w = doRequest(r, http.MethodGet, "/api/rider/earnings?period=week", nil, "R1:rider")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if earn.query.RiderID != "R1" || earn.query.Period != earnings.PeriodWeek {
		t.Fatalf("unexpected earnings query: %+v", earn.query)
	}
}

func TestRiderEarningsUnknownRiderIsNotFound(t *testing.T) {
	earn := &stubEarnings{err: fmt.Errorf("lifetime: %w", earnings.ErrRiderNotFound)}
	r := newRouter(t, &stubEngine{}, earn)

	w := doRequest(r, http.MethodGet, "/api/rider/earnings", nil, "ghost:rider")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	if kind := decodeKind(t, w); kind != order.KindNotFound {
		t.Fatalf("expected kind %s, got %s", order.KindNotFound, kind)
	}
}
