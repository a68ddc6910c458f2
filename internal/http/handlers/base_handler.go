// README: Base handler utilities (JSON helpers, engine interfaces, error mapping).
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"drop/internal/modules/earnings"
	"drop/internal/modules/order"
	"drop/internal/types"
)

// OrderEngine is the slice of order.Service the handlers call.
type OrderEngine interface {
	Place(ctx context.Context, cmd order.PlaceCommand) (*order.Order, error)
	AcceptOrder(ctx context.Context, orderID, riderID types.ID) (*order.Result, error)
	Advance(ctx context.Context, cmd order.AdvanceCommand) (*order.Result, error)
	CancelOrder(ctx context.Context, cmd order.CancelCommand) (*order.Result, error)
	ApplyPayment(ctx context.Context, orderID types.ID, outcome order.PaymentOutcome, note string) (*order.Result, error)
	GetWithHistory(ctx context.Context, id types.ID) (*order.Detail, error)
	ListForRider(ctx context.Context, riderID types.ID, typ order.FeedType, page, limit int) (*order.FeedPage, error)
}

type EarningsReader interface {
	Overview(ctx context.Context, q earnings.OverviewQuery) (*earnings.Overview, error)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusClientClosed is the de facto status for requests the client abandoned.
const statusClientClosed = 499

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg, Kind: order.KindBadRequest})
}

func writeOrderError(c *gin.Context, err error) {
	kind := order.Kind(err)
	status := statusForKind(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(c, status, errorResponse{Error: msg, Kind: kind})
}

func statusForKind(kind string) int {
	switch kind {
	case order.KindNotFound:
		return http.StatusNotFound
	case order.KindInvalidTransition, order.KindBadRequest:
		return http.StatusBadRequest
	case order.KindAlreadyAssigned, order.KindDuplicate:
		return http.StatusConflict
	case order.KindNotAuthorized:
		return http.StatusForbidden
	case order.KindTimeout:
		return http.StatusGatewayTimeout
	case order.KindCanceled:
		return statusClientClosed
	default:
		return http.StatusInternalServerError
	}
}

// bindJSON decodes the body and answers 400 with the validation message on failure.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, bindMessage(err))
		return false
	}
	return true
}

func orderID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if id == "" || len(id) > 64 {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return "", false
	}
	return types.ID(id), true
}
