// README: Admin console handlers: order detail with history, forced cancellation.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"drop/internal/http/middleware"
	"drop/internal/modules/order"
	"drop/internal/types"
)

type AdminHandler struct {
	order OrderEngine
}

func NewAdminHandler(orderSvc OrderEngine) *AdminHandler {
	return &AdminHandler{order: orderSvc}
}

type cancelReq struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

func (h *AdminHandler) Get(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	detail, err := h.order.GetWithHistory(c.Request.Context(), id)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, detail)
}

func (h *AdminHandler) Cancel(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req cancelReq
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.order.CancelOrder(c.Request.Context(), order.CancelCommand{
		OrderID: id,
		Actor:   order.Actor{ID: types.ID(middleware.CallerUID(c)), Role: order.RoleAdmin},
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}
