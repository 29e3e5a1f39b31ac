// Package model содержит доменные сущности магазина накрутки.
package model

import "time"

// ServiceKind описывает вид продвигаемой услуги.
type ServiceKind string

const (
	ServiceKindLikes ServiceKind = "likes"
	ServiceKindViews ServiceKind = "views"
)

// Bounds задаёт допустимый диапазон количества для услуги.
type Bounds struct {
	Min int
	Max int
}

// QuantityBounds содержит фиксированные границы количества по видам услуг.
var QuantityBounds = map[ServiceKind]Bounds{
	ServiceKindLikes: {Min: 500, Max: 50000},
	ServiceKindViews: {Min: 1000, Max: 1000000},
}

// User представляет пользователя магазина с внутренним балансом.
// Суммы хранятся в копейках.
type User struct {
	TelegramID      int64
	Username        string
	BalanceCents    int64
	TotalSpentCents int64
	Banned          bool
	CreatedAt       time.Time
}

// OrderStatus описывает локальный статус заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusPartial    OrderStatus = "partial"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Terminal сообщает, завершён ли заказ: терминальные статусы больше не опрашиваются.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusPartial, OrderStatusCancelled:
		return true
	}
	return false
}

// Order описывает заказ на накрутку. Стоимость фиксируется при создании
// и никогда не пересчитывается.
type Order struct {
	ProviderOrderID string
	UserID          int64
	Kind            ServiceKind
	Link            string
	Quantity        int
	CostCents       int64
	Status          OrderStatus
	ProviderStatus  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Deposit описывает заявку на пополнение баланса, ожидающую ручной проверки.
type Deposit struct {
	ID          string
	UserID      int64
	AmountCents int64
	ProofFileID string
	CreatedAt   time.Time
}

// Ключи настроек, изменяемых администраторами во время работы.
const (
	SettingPricePer1KLikes      = "price_per_1k_likes"
	SettingPricePer1KViews      = "price_per_1k_views"
	SettingProviderServiceLikes = "provider_service_likes"
	SettingProviderServiceViews = "provider_service_views"
	SettingNotifyChatID         = "notify_chat_id"
)

// PriceSettingKey возвращает ключ настройки цены за 1000 единиц услуги.
func PriceSettingKey(kind ServiceKind) string {
	if kind == ServiceKindViews {
		return SettingPricePer1KViews
	}
	return SettingPricePer1KLikes
}

// ProviderServiceSettingKey возвращает ключ идентификатора услуги у провайдера.
func ProviderServiceSettingKey(kind ServiceKind) string {
	if kind == ServiceKindViews {
		return SettingProviderServiceViews
	}
	return SettingProviderServiceLikes
}

// Stats содержит сводные показатели для админ-панели.
type Stats struct {
	Users          int64
	OrdersByStatus map[OrderStatus]int64
	RevenueCents   int64
}
