// README: Rider handlers: order feed, accept, status advance and earnings overview.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"drop/internal/http/middleware"
	"drop/internal/modules/earnings"
	"drop/internal/modules/order"
	"drop/internal/types"
)

type RiderHandler struct {
	order    OrderEngine
	earnings EarningsReader
}

func NewRiderHandler(orderSvc OrderEngine, earningsSvc EarningsReader) *RiderHandler {
	return &RiderHandler{order: orderSvc, earnings: earningsSvc}
}

type advanceReq struct {
	Status string `json:"status" binding:"required,order_status"`
	Note   string `json:"note" binding:"max=500"`
}

// List serves GET /api/rider/orders?type=available|active|completed&page=&limit=.
func (h *RiderHandler) List(c *gin.Context) {
	page, limit := pageParams(c)
	feed, err := h.order.ListForRider(c.Request.Context(),
		types.ID(middleware.CallerUID(c)), order.ParseFeedType(c.Query("type")), page, limit)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, feed)
}

func (h *RiderHandler) Accept(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	res, err := h.order.AcceptOrder(c.Request.Context(), id, types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *RiderHandler) Advance(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req advanceReq
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.order.Advance(c.Request.Context(), order.AdvanceCommand{
		OrderID: id,
		Actor:   order.Actor{ID: types.ID(middleware.CallerUID(c)), Role: order.RoleRider},
		Target:  order.Status(req.Status),
		Note:    req.Note,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// Earnings serves GET /api/rider/earnings?period=today|week|month|all&page=&limit=.
func (h *RiderHandler) Earnings(c *gin.Context) {
	page, limit := pageParams(c)
	out, err := h.earnings.Overview(c.Request.Context(), earnings.OverviewQuery{
		RiderID: types.ID(middleware.CallerUID(c)),
		Period:  earnings.ParsePeriod(c.Query("period")),
		Page:    page,
		Limit:   limit,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

// pageParams reads page and limit; bad values fall back to the service defaults.
func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return page, limit
}
