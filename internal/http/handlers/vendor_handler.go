// README: Vendor handler; kitchen status updates on the vendor's own orders.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"drop/internal/http/middleware"
	"drop/internal/modules/order"
	"drop/internal/types"
)

type VendorHandler struct {
	order OrderEngine
}

func NewVendorHandler(orderSvc OrderEngine) *VendorHandler {
	return &VendorHandler{order: orderSvc}
}

func (h *VendorHandler) Advance(c *gin.Context) {
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
		Actor:   order.Actor{ID: types.ID(middleware.CallerUID(c)), Role: order.RoleVendor},
		Target:  order.Status(req.Status),
		Note:    req.Note,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}
