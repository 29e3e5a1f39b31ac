// Package service реализует бизнес-логику магазина накрутки: размещение
// заказов, правила баланса и фоновую сверку статусов с провайдером.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/smmshop-system/internal/model"
	"github.com/mmeshcher/smmshop-system/internal/pricing"
	"github.com/mmeshcher/smmshop-system/internal/provider"
	"github.com/mmeshcher/smmshop-system/internal/repository"
)

// ErrProviderUnavailable возвращается, когда провайдер не принял заказ:
// транспортный сбой, нераспознанный ответ или ответ без идентификатора.
var ErrProviderUnavailable = errors.New("provider unavailable")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error
	UpsertUser(ctx context.Context, telegramID int64, username string) (*model.User, error)
	GetUser(ctx context.Context, telegramID int64) (*model.User, error)
	DebitBalance(ctx context.Context, telegramID int64, amountCents int64) error
	CreditBalance(ctx context.Context, telegramID int64, amountCents int64) error
	SetBanned(ctx context.Context, telegramID int64, banned bool) error
	AllUserIDs(ctx context.Context) ([]int64, error)
	CreateOrder(ctx context.Context, o *model.Order) error
	ActiveOrderExists(ctx context.Context, userID int64, link string, kind model.ServiceKind) (bool, error)
	OrdersByUser(ctx context.Context, userID int64, limit int) ([]model.Order, error)
	OrdersForReconcile(ctx context.Context, limit int) ([]model.Order, error)
	TransitionOrderStatus(ctx context.Context, providerOrderID string, from, to model.OrderStatus, providerStatus string) (bool, error)
	CreateDeposit(ctx context.Context, d *model.Deposit) error
	Setting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	Stats(ctx context.Context) (*model.Stats, error)
}

// ProviderClient описывает контракт клиента сервиса накрутки.
type ProviderClient interface {
	CreateOrder(ctx context.Context, serviceID, link string, quantity int) (*provider.CreateResult, error)
	OrderStatus(ctx context.Context, orderID string) (*provider.StatusResult, error)
}

// Notifier отправляет пользователю текстовое уведомление. Доставка best-effort.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Options задаёт параметры фоновой сверки.
type Options struct {
	ReconcileInterval time.Duration
	ReconcileBatch    int
}

// Service содержит бизнес-логику магазина накрутки.
type Service struct {
	repo     Repository
	provider ProviderClient
	notifier Notifier
	logger   *zap.Logger
	opts     Options

	// reconcileMu делает циклы сверки single-flight: тик, пришедший во время
	// работающего цикла, пропускается.
	reconcileMu sync.Mutex
}

// NewService создаёт сервис с указанными репозиторием, клиентом провайдера
// и отправителем уведомлений.
func NewService(repo Repository, providerClient ProviderClient, notifier Notifier, logger *zap.Logger, opts Options) *Service {
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = 30 * time.Second
	}
	if opts.ReconcileBatch <= 0 {
		opts.ReconcileBatch = 100
	}

	return &Service{
		repo:     repo,
		provider: providerClient,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// EnsureUser регистрирует пользователя при первом событии и обновляет имя.
func (s *Service) EnsureUser(ctx context.Context, telegramID int64, username string) (*model.User, error) {
	return s.repo.UpsertUser(ctx, telegramID, username)
}

// User возвращает профиль пользователя.
func (s *Service) User(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.repo.GetUser(ctx, telegramID)
}

// QuoteCost вычисляет стоимость заказа по текущей цене услуги.
// Цена читается из настроек при каждом вызове, без кэширования.
func (s *Service) QuoteCost(ctx context.Context, kind model.ServiceKind, quantity int) (int64, error) {
	price, err := s.repo.Setting(ctx, model.PriceSettingKey(kind))
	if err != nil {
		return 0, fmt.Errorf("read price: %w", err)
	}

	cost, err := pricing.Cost(price, quantity)
	if err != nil {
		return 0, fmt.Errorf("compute cost: %w", err)
	}

	return cost, nil
}

// PlaceOrder размещает заказ: проверяет дубль, списывает стоимость,
// отправляет заявку провайдеру и сохраняет запись заказа.
// Стоимость передаётся зафиксированной в момент принятия количества.
func (s *Service) PlaceOrder(ctx context.Context, userID int64, kind model.ServiceKind, link string, quantity int, costCents int64) (*model.Order, error) {
	exists, err := s.repo.ActiveOrderExists(ctx, userID, link, kind)
	if err != nil {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}
	if exists {
		return nil, repository.ErrDuplicateOrder
	}

	serviceID, err := s.repo.Setting(ctx, model.ProviderServiceSettingKey(kind))
	if err != nil {
		return nil, fmt.Errorf("read provider service id: %w", err)
	}

	// Списание условное: при нехватке средств ни одно поле не меняется.
	if err := s.repo.DebitBalance(ctx, userID, costCents); err != nil {
		return nil, err
	}

	res, err := s.provider.CreateOrder(ctx, serviceID, link, quantity)
	if err != nil {
		s.logger.Error("provider rejected order", zap.Error(err), zap.Int64("userID", userID))
		s.refund(ctx, userID, costCents, "provider failure")
		return nil, ErrProviderUnavailable
	}

	order := &model.Order{
		ProviderOrderID: res.OrderID,
		UserID:          userID,
		Kind:            kind,
		Link:            link,
		Quantity:        quantity,
		CostCents:       costCents,
		Status:          model.OrderStatusPending,
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		s.refund(ctx, userID, costCents, "order insert failure")
		if errors.Is(err, repository.ErrDuplicateOrder) {
			return nil, err
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.announce(ctx, order)

	return order, nil
}

// refund возвращает списанную сумму после неудачного размещения.
func (s *Service) refund(ctx context.Context, userID, costCents int64, reason string) {
	if err := s.repo.CreditBalance(ctx, userID, costCents); err != nil {
		s.logger.Error("refund after failed placement did not apply",
			zap.Error(err), zap.Int64("userID", userID),
			zap.Int64("amountCents", costCents), zap.String("reason", reason))
	}
}

// announce отправляет объявление о новом заказе в настроенный чат. Best-effort.
func (s *Service) announce(ctx context.Context, order *model.Order) {
	target, err := s.repo.Setting(ctx, model.SettingNotifyChatID)
	if err != nil {
		if !errors.Is(err, repository.ErrSettingNotFound) {
			s.logger.Warn("read notify target", zap.Error(err))
		}
		return
	}

	chatID, err := parseChatID(target)
	if err != nil {
		s.logger.Warn("bad notify target", zap.String("value", target), zap.Error(err))
		return
	}

	text := fmt.Sprintf("Новый заказ #%s: %s x%d, %s",
		order.ProviderOrderID, order.Kind, order.Quantity, pricing.FormatCents(order.CostCents))
	if err := s.notifier.Notify(ctx, chatID, text); err != nil {
		s.logger.Warn("order announcement not delivered", zap.Error(err))
	}
}

func parseChatID(value string) (int64, error) {
	return strconv.ParseInt(value, 10, 64)
}

// RecordDeposit сохраняет заявку на пополнение со ссылкой на скриншот оплаты.
// Баланс не меняется: зачисление выполняет администратор после проверки.
func (s *Service) RecordDeposit(ctx context.Context, userID, amountCents int64, proofFileID string) error {
	d := &model.Deposit{
		ID:          uuid.NewString(),
		UserID:      userID,
		AmountCents: amountCents,
		ProofFileID: proofFileID,
	}

	if err := s.repo.CreateDeposit(ctx, d); err != nil {
		return fmt.Errorf("record deposit: %w", err)
	}

	return nil
}

// UserOrders возвращает последние заказы пользователя.
func (s *Service) UserOrders(ctx context.Context, userID int64, limit int) ([]model.Order, error) {
	return s.repo.OrdersByUser(ctx, userID, limit)
}

// SetSetting записывает настройку (админ-операция).
func (s *Service) SetSetting(ctx context.Context, key, value string) error {
	return s.repo.SetSetting(ctx, key, value)
}

// CreditBalance зачисляет сумму на баланс пользователя (админ-операция).
func (s *Service) CreditBalance(ctx context.Context, userID, amountCents int64) error {
	return s.repo.CreditBalance(ctx, userID, amountCents)
}

// SetBanned блокирует или разблокирует пользователя (админ-операция).
func (s *Service) SetBanned(ctx context.Context, userID int64, banned bool) error {
	return s.repo.SetBanned(ctx, userID, banned)
}

// Stats возвращает сводку для админ-панели.
func (s *Service) Stats(ctx context.Context) (*model.Stats, error) {
	return s.repo.Stats(ctx)
}

// Broadcast рассылает текст всем пользователям. Сбои доставки не прерывают
// рассылку, возвращается число недоставленных сообщений.
func (s *Service) Broadcast(ctx context.Context, text string) (failed int, err error) {
	ids, err := s.repo.AllUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	for _, id := range ids {
		if err := s.notifier.Notify(ctx, id, text); err != nil {
			failed++
		}
	}

	if failed > 0 {
		s.logger.Warn("broadcast partially delivered",
			zap.Int("total", len(ids)), zap.Int("failed", failed))
	}

	return failed, nil
}
