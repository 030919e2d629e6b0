// Package handler содержит HTTP обработчики Payment Service.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/order-payments/pkg/circuitbreaker"
	"example.com/order-payments/pkg/logger"
	"example.com/order-payments/services/payment/internal/domain"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// clientMessages — тексты ответов для клиентских ошибок. Подробности
// (ожидаемые суммы, идентификаторы) пишутся только в лог.
var clientMessages = map[string]string{
	"invalid_session_id":   "Некорректный идентификатор сессии",
	"payment_incomplete":   "Оплата ещё не завершена",
	"order_id_not_found":   "Сессия не связана с заказом",
	"order_not_found":      "Заказ не найден",
	"identity_mismatch":    "Сессия не соответствует заказу",
	"unsupported_currency": "Неподдерживаемая валюта",
	"amount_mismatch":      "Сумма оплаты не совпадает с заказом",
	"integrity_mismatch":   "Сессия не прошла проверку",
	"invalid_transition":   "Заказ нельзя перевести в оплаченный",
}

// classify сопоставляет ошибку подтверждения HTTP статусу и коду ошибки.
// Вид расхождения проверяется раньше общего ErrIntegrityMismatch.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidSessionID):
		return http.StatusBadRequest, "invalid_session_id"
	case errors.Is(err, domain.ErrPaymentIncomplete):
		return http.StatusConflict, "payment_incomplete"
	case errors.Is(err, domain.ErrOrderIDNotFound):
		return http.StatusUnprocessableEntity, "order_id_not_found"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, domain.ErrIdentityMismatch):
		return http.StatusUnprocessableEntity, "identity_mismatch"
	case errors.Is(err, domain.ErrUnsupportedCurrency):
		return http.StatusUnprocessableEntity, "unsupported_currency"
	case errors.Is(err, domain.ErrAmountMismatch):
		return http.StatusUnprocessableEntity, "amount_mismatch"
	case errors.Is(err, domain.ErrIntegrityMismatch):
		return http.StatusUnprocessableEntity, "integrity_mismatch"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, circuitbreaker.ErrUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// HandleError преобразует ошибку подтверждения в HTTP ответ.
// err не должен быть nil.
func HandleError(c *gin.Context, err error, method string) {
	log := logger.FromContext(c.Request.Context())

	if err == nil {
		log.Error().Str("method", method).Msg("HandleError вызван с nil ошибкой")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", method).Msg("Ошибка подтверждения оплаты")
		message := "Внутренняя ошибка сервера"
		if status == http.StatusServiceUnavailable {
			message = "Платёжный провайдер временно недоступен"
		}
		c.JSON(status, ErrorResponse{Error: code, Message: message})
		return
	}

	log.Warn().Err(err).Str("method", method).Str("code", code).Msg("Подтверждение оплаты отклонено")

	message, ok := clientMessages[code]
	if !ok {
		message = "Подтверждение оплаты отклонено"
	}
	c.JSON(status, ErrorResponse{Error: code, Message: message})
}
