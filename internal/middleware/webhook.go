// Package middleware содержит HTTP middleware вебхука магазина.
package middleware

import (
	"crypto/hmac"
	"net/http"
)

// Заголовок, в котором чат-платформа передаёт секрет вебхука.
const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookAuth проверяет секретный токен вебхука. Сравнение постоянное по
// времени. При пустом секрете проверка отключена.
func WebhookAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				got := r.Header.Get(secretTokenHeader)
				if !hmac.Equal([]byte(got), []byte(secret)) {
					http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
