package middleware

import "github.com/gin-gonic/gin"

// SecurityHeaders добавляет заголовки безопасности к ответам API.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Ответы содержат ID платежей, не кешируем
		h.Set("Cache-Control", "no-store")

		c.Next()
	}
}
