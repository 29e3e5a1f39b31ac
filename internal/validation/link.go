// Package validation содержит функции валидации входных данных.
package validation

import (
	"regexp"

	"github.com/mmeshcher/smmshop-system/internal/model"
)

var linkPattern = regexp.MustCompile(`(?i)^https?://(www\.)?instagram\.com/\S+$`)

// IsValidLink проверяет, что строка содержит ссылку на публикацию.
func IsValidLink(link string) bool {
	return linkPattern.MatchString(link)
}

// QuantityInBounds проверяет количество по фиксированным границам услуги.
func QuantityInBounds(kind model.ServiceKind, quantity int) bool {
	b, ok := model.QuantityBounds[kind]
	if !ok {
		return false
	}
	return quantity >= b.Min && quantity <= b.Max
}
