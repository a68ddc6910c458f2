// README: System handlers for the placement and payment collaborators.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"drop/internal/modules/order"
	"drop/internal/types"
)

type SystemHandler struct {
	order OrderEngine
}

func NewSystemHandler(orderSvc OrderEngine) *SystemHandler {
	return &SystemHandler{order: orderSvc}
}

type placeReq struct {
	OrderNumber   string       `json:"order_number" binding:"max=64"`
	CustomerID    string       `json:"customer_id" binding:"required,max=64"`
	VendorID      string       `json:"vendor_id" binding:"required,max=64"`
	PaymentMethod string       `json:"payment_method" binding:"omitempty,oneof=CARD WALLET CASH"`
	PaymentStatus string       `json:"payment_status" binding:"omitempty,oneof=PENDING COMPLETED"`
	Subtotal      types.Money  `json:"subtotal"`
	DeliveryFee   types.Money  `json:"delivery_fee"`
	PlatformFee   types.Money  `json:"platform_fee"`
	Tip           types.Money  `json:"tip"`
	Total         *types.Money `json:"total"`
}

type paymentReq struct {
	Outcome string `json:"outcome" binding:"required,payment_outcome"`
	Note    string `json:"note" binding:"max=500"`
}

func (h *SystemHandler) Place(c *gin.Context) {
	var req placeReq
	if !bindJSON(c, &req) {
		return
	}
	o, err := h.order.Place(c.Request.Context(), order.PlaceCommand{
		OrderNumber:   req.OrderNumber,
		CustomerID:    types.ID(req.CustomerID),
		VendorID:      types.ID(req.VendorID),
		PaymentMethod: order.PaymentMethod(req.PaymentMethod),
		PaymentStatus: order.PaymentStatus(req.PaymentStatus),
		Subtotal:      req.Subtotal,
		DeliveryFee:   req.DeliveryFee,
		PlatformFee:   req.PlatformFee,
		Tip:           req.Tip,
		Total:         req.Total,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o)
}

func (h *SystemHandler) Payment(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req paymentReq
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.order.ApplyPayment(c.Request.Context(), id, order.PaymentOutcome(req.Outcome), req.Note)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}
