package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/order-payments/pkg/logger"
)

// CheckoutHandler — ручное подтверждение оплаты со страницы успеха.
type CheckoutHandler struct {
	confirmer PaymentConfirmer
}

// NewCheckoutHandler создаёт обработчик подтверждения.
func NewCheckoutHandler(confirmer PaymentConfirmer) *CheckoutHandler {
	return &CheckoutHandler{confirmer: confirmer}
}

// ConfirmResponse — ответ на подтверждение оплаты.
type ConfirmResponse struct {
	OrderID     string `json:"order_id"`
	PaymentID   string `json:"payment_id,omitempty"`
	AlreadyPaid bool   `json:"already_paid"`
}

// ConfirmSession подтверждает оплату заказа по ID сессии.
// POST /api/v1/checkout/sessions/:session_id/confirm
func (h *CheckoutHandler) ConfirmSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	ctx := logger.WithSessionID(c.Request.Context(), sessionID)

	res, err := h.confirmer.ConfirmPayment(ctx, sessionID)
	if err != nil {
		HandleError(c, err, "ConfirmSession")
		return
	}

	c.JSON(http.StatusOK, ConfirmResponse{
		OrderID:     res.OrderID,
		PaymentID:   res.PaymentID,
		AlreadyPaid: res.AlreadyPaid,
	})
}
