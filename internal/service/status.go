package service

import (
	"strings"

	"github.com/mmeshcher/smmshop-system/internal/model"
)

// MapProviderStatus приводит свободный текст статуса провайдера к локальному
// статусу заказа. Сопоставление по подстроке без учёта регистра; порядок
// проверок соответствует приоритету: completed, partial, processing, cancelled.
// Для нераспознанного текста возвращается ok = false — такой заказ
// пропускается до следующего цикла, а факт попадает в лог.
func MapProviderStatus(text string) (model.OrderStatus, bool) {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "completed"):
		return model.OrderStatusCompleted, true
	case strings.Contains(lower, "partial"):
		return model.OrderStatusPartial, true
	case strings.Contains(lower, "processing"), strings.Contains(lower, "in progress"):
		return model.OrderStatusProcessing, true
	case strings.Contains(lower, "cancel"), strings.Contains(lower, "refunded"):
		return model.OrderStatusCancelled, true
	}

	return "", false
}
