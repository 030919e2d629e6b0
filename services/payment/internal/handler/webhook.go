package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"

	"example.com/order-payments/pkg/logger"
)

// maxWebhookBody — лимит тела webhook, как рекомендует Stripe.
const maxWebhookBody = 65536

// HeaderStripeSignature — заголовок с подписью webhook.
const HeaderStripeSignature = "Stripe-Signature"

// WebhookHandler принимает события Stripe.
type WebhookHandler struct {
	confirmer PaymentConfirmer
	secret    string
}

// NewWebhookHandler создаёт обработчик webhook.
func NewWebhookHandler(confirmer PaymentConfirmer, secret string) *WebhookHandler {
	return &WebhookHandler{confirmer: confirmer, secret: secret}
}

// WebhookResponse — ответ Stripe.
type WebhookResponse struct {
	Status      string `json:"status"`
	OrderID     string `json:"order_id,omitempty"`
	AlreadyPaid bool   `json:"already_paid,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Статусы обработки события.
const (
	webhookProcessed = "processed"
	webhookIgnored   = "ignored"
	webhookRejected  = "rejected"
)

// HandleStripe проверяет подпись и подтверждает оплату по событиям checkout.
// POST /webhooks/stripe
//
// Постоянные ошибки (4xx) подтверждаются ответом 200, чтобы Stripe не повторял
// доставку. Временные ошибки возвращают 5xx, и Stripe доставит событие снова.
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	log := logger.FromContext(c.Request.Context())

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось прочитать тело webhook")
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "payload_too_large",
			Message: "Слишком большое тело запроса",
		})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader(HeaderStripeSignature), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		log.Warn().Err(err).Msg("Подпись webhook Stripe не прошла проверку")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_signature",
			Message: "Некорректная подпись webhook",
		})
		return
	}

	log = log.With().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Logger()

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		log.Debug().Msg("Событие webhook не обрабатывается")
		c.JSON(http.StatusOK, WebhookResponse{Status: webhookIgnored})
		return
	}

	sessionID, err := checkoutSessionID(event)
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось разобрать checkout-сессию из события")
		c.JSON(http.StatusOK, WebhookResponse{Status: webhookRejected, Reason: "malformed_event"})
		return
	}

	ctx := logger.WithSessionID(c.Request.Context(), sessionID)
	res, err := h.confirmer.ConfirmPayment(ctx, sessionID)
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError {
			HandleError(c, err, "HandleStripe")
			return
		}

		log.Warn().Err(err).Str("session_id", sessionID).Str("reason", code).
			Msg("Событие webhook отклонено без повтора")
		c.JSON(http.StatusOK, WebhookResponse{Status: webhookRejected, Reason: code})
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{
		Status:      webhookProcessed,
		OrderID:     res.OrderID,
		AlreadyPaid: res.AlreadyPaid,
	})
}

func checkoutSessionID(event stripe.Event) (string, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return "", errors.New("пустой data.object")
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return "", err
	}
	if sess.ID == "" {
		return "", errors.New("в событии нет ID сессии")
	}
	return sess.ID, nil
}
