// Package bot реализует диалоговую машину состояний магазина поверх
// событий чат-платформы: меню, пополнение баланса и размещение заказов.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/smmshop-system/internal/model"
	"github.com/mmeshcher/smmshop-system/internal/pricing"
	"github.com/mmeshcher/smmshop-system/internal/repository"
	"github.com/mmeshcher/smmshop-system/internal/service"
	"github.com/mmeshcher/smmshop-system/internal/session"
	"github.com/mmeshcher/smmshop-system/internal/telegram"
	"github.com/mmeshcher/smmshop-system/internal/validation"
)

// Теги действий inline-кнопок.
const (
	cbTopUp      = "topup"
	cbOrderLikes = "order:likes"
	cbOrderViews = "order:views"
	cbConfirm    = "confirm"
	cbCancel     = "cancel"
	cbProfile    = "profile"
	cbOrders     = "orders"
)

const ordersPageSize = 10

// Service определяет контракт бизнес-логики, используемой обработчиками бота.
type Service interface {
	EnsureUser(ctx context.Context, telegramID int64, username string) (*model.User, error)
	User(ctx context.Context, telegramID int64) (*model.User, error)
	QuoteCost(ctx context.Context, kind model.ServiceKind, quantity int) (int64, error)
	PlaceOrder(ctx context.Context, userID int64, kind model.ServiceKind, link string, quantity int, costCents int64) (*model.Order, error)
	RecordDeposit(ctx context.Context, userID, amountCents int64, proofFileID string) error
	UserOrders(ctx context.Context, userID int64, limit int) ([]model.Order, error)
	SetSetting(ctx context.Context, key, value string) error
	CreditBalance(ctx context.Context, userID, amountCents int64) error
	SetBanned(ctx context.Context, userID int64, banned bool) error
	Stats(ctx context.Context) (*model.Stats, error)
	Broadcast(ctx context.Context, text string) (int, error)
}

// Sender отправляет ответы в чат-платформу.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error
	AnswerCallback(ctx context.Context, callbackID string) error
}

// Bot маршрутизирует входящие события по текущему шагу диалога пользователя.
type Bot struct {
	service  Service
	sender   Sender
	sessions *session.Store
	logger   *zap.Logger

	adminIDs        []int64
	minDepositCents int64
}

// New создаёт бота с указанной бизнес-логикой и отправителем.
func New(svc Service, sender Sender, sessions *session.Store, logger *zap.Logger, adminIDs []int64, minDepositCents int64) *Bot {
	return &Bot{
		service:         svc,
		sender:          sender,
		sessions:        sessions,
		logger:          logger,
		adminIDs:        adminIDs,
		minDepositCents: minDepositCents,
	}
}

// HandleUpdate обрабатывает одно входящее событие. Ошибки обработчиков
// не возвращаются наружу: вебхук всегда подтверждает доставку.
func (b *Bot) HandleUpdate(ctx context.Context, upd telegram.Update) {
	switch {
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.From != nil:
		b.handleMessage(ctx, upd.Message)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if cb.From == nil {
		return
	}

	chatID := cb.From.ID
	if cb.Message != nil {
		chatID = cb.Message.Chat.ID
	}

	user, err := b.service.EnsureUser(ctx, cb.From.ID, cb.From.Username)
	if err != nil {
		b.logger.Error("ensure user", zap.Error(err), zap.Int64("userID", cb.From.ID))
		return
	}

	if err := b.sender.AnswerCallback(ctx, cb.ID); err != nil {
		b.logger.Warn("answer callback", zap.Error(err))
	}

	if user.Banned {
		b.reply(ctx, chatID, "Доступ к магазину заблокирован.")
		return
	}

	switch cb.Data {
	case cbTopUp:
		b.startTopUp(ctx, user.TelegramID, chatID)
	case cbOrderLikes:
		b.startOrder(ctx, user.TelegramID, chatID, model.ServiceKindLikes)
	case cbOrderViews:
		b.startOrder(ctx, user.TelegramID, chatID, model.ServiceKindViews)
	case cbConfirm:
		b.confirmOrder(ctx, user.TelegramID, chatID)
	case cbCancel:
		b.sessions.Drop(user.TelegramID)
		b.reply(ctx, chatID, "Действие отменено.")
	case cbProfile:
		b.sendProfile(ctx, user, chatID)
	case cbOrders:
		b.sendOrders(ctx, user.TelegramID, chatID)
	default:
		// Незнакомый тег: событие не потребляется.
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	user, err := b.service.EnsureUser(ctx, msg.From.ID, msg.From.Username)
	if err != nil {
		b.logger.Error("ensure user", zap.Error(err), zap.Int64("userID", msg.From.ID))
		return
	}

	chatID := msg.Chat.ID

	if user.Banned {
		b.reply(ctx, chatID, "Доступ к магазину заблокирован.")
		return
	}

	if strings.HasPrefix(msg.Text, "/") {
		b.handleCommand(ctx, user, chatID, msg.Text)
		return
	}

	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, user.TelegramID, chatID, msg.Photo)
		return
	}

	if msg.Text != "" {
		b.handleText(ctx, user.TelegramID, chatID, msg.Text)
	}
}

// --- пополнение баланса ---

func (b *Bot) startTopUp(ctx context.Context, userID, chatID int64) {
	b.sessions.Put(userID, session.Session{
		State:     session.StateAwaitingAmount,
		StartedAt: time.Now(),
	})
	b.reply(ctx, chatID, fmt.Sprintf("Введите сумму пополнения (минимум %s):",
		pricing.FormatCents(b.minDepositCents)))
}

// --- размещение заказа ---

func (b *Bot) startOrder(ctx context.Context, userID, chatID int64, kind model.ServiceKind) {
	b.sessions.Put(userID, session.Session{
		State:     session.StateAwaitingLink,
		Kind:      kind,
		StartedAt: time.Now(),
	})
	b.reply(ctx, chatID, "Отправьте ссылку на публикацию:")
}

// handleText продвигает диалог по шагам. Текст вне активного диалога
// не потребляется и не считается ошибкой.
func (b *Bot) handleText(ctx context.Context, userID, chatID int64, text string) {
	s, version, ok := b.sessions.Get(userID)
	if !ok {
		return
	}

	switch s.State {
	case session.StateAwaitingAmount:
		b.stepAmount(ctx, userID, chatID, s, version, text)
	case session.StateAwaitingLink:
		b.stepLink(ctx, userID, chatID, s, version, text)
	case session.StateAwaitingQuantity:
		b.stepQuantity(ctx, userID, chatID, s, version, text)
	default:
		// На этом шаге ожидается другой тип ввода.
	}
}

func (b *Bot) stepAmount(ctx context.Context, userID, chatID int64, s session.Session, version uint64, text string) {
	amount, err := pricing.ParseAmount(strings.TrimSpace(text))
	if err != nil || amount < b.minDepositCents {
		b.reply(ctx, chatID, fmt.Sprintf("Некорректная сумма. Минимум пополнения — %s.",
			pricing.FormatCents(b.minDepositCents)))
		return
	}

	s.State = session.StateAwaitingProof
	s.DepositCents = amount
	if !b.sessions.CompareAndSwap(userID, version, s) {
		b.logger.Debug("session step lost to another event", zap.Int64("userID", userID))
		return
	}

	b.reply(ctx, chatID, fmt.Sprintf("Переведите %s и пришлите скриншот оплаты.",
		pricing.FormatCents(amount)))
}

func (b *Bot) stepLink(ctx context.Context, userID, chatID int64, s session.Session, version uint64, text string) {
	link := strings.TrimSpace(text)
	if !validation.IsValidLink(link) {
		b.reply(ctx, chatID, "Это не похоже на ссылку на публикацию. Попробуйте ещё раз.")
		return
	}

	s.State = session.StateAwaitingQuantity
	s.Link = link
	if !b.sessions.CompareAndSwap(userID, version, s) {
		b.logger.Debug("session step lost to another event", zap.Int64("userID", userID))
		return
	}

	bounds := model.QuantityBounds[s.Kind]
	b.reply(ctx, chatID, fmt.Sprintf("Введите количество (от %d до %d):", bounds.Min, bounds.Max))
}

func (b *Bot) stepQuantity(ctx context.Context, userID, chatID int64, s session.Session, version uint64, text string) {
	quantity, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || !validation.QuantityInBounds(s.Kind, quantity) {
		bounds := model.QuantityBounds[s.Kind]
		b.reply(ctx, chatID, fmt.Sprintf("Количество должно быть числом от %d до %d.", bounds.Min, bounds.Max))
		return
	}

	// Стоимость фиксируется здесь, по цене на момент принятия количества.
	cost, err := b.service.QuoteCost(ctx, s.Kind, quantity)
	if err != nil {
		b.logger.Error("quote cost", zap.Error(err), zap.Int64("userID", userID))
		b.reply(ctx, chatID, "Услуга временно недоступна. Попробуйте позже.")
		return
	}

	s.State = session.StateAwaitingConfirmation
	s.Quantity = quantity
	s.CostCents = cost
	if !b.sessions.CompareAndSwap(userID, version, s) {
		b.logger.Debug("session step lost to another event", zap.Int64("userID", userID))
		return
	}

	summary := fmt.Sprintf("Заказ: %s x%d\nСсылка: %s\nСтоимость: %s\n\nПодтвердить?",
		kindTitle(s.Kind), quantity, s.Link, pricing.FormatCents(cost))
	b.replyMarkup(ctx, chatID, summary, confirmKeyboard())
}

func (b *Bot) confirmOrder(ctx context.Context, userID, chatID int64) {
	s, version, ok := b.sessions.Get(userID)
	if !ok || s.State != session.StateAwaitingConfirmation {
		return
	}

	// Курсор очищается при любом исходе подтверждения.
	if !b.sessions.Clear(userID, version) {
		b.logger.Debug("confirmation lost to another event", zap.Int64("userID", userID))
		return
	}

	order, err := b.service.PlaceOrder(ctx, userID, s.Kind, s.Link, s.Quantity, s.CostCents)
	switch {
	case err == nil:
		b.reply(ctx, chatID, fmt.Sprintf("Заказ #%s создан, списано %s. Статус можно смотреть в «Мои заказы».",
			order.ProviderOrderID, pricing.FormatCents(order.CostCents)))
	case errors.Is(err, repository.ErrDuplicateOrder):
		b.reply(ctx, chatID, "По этой ссылке уже есть активный заказ. Дождитесь его завершения.")
	case errors.Is(err, repository.ErrInsufficientBalance):
		b.replyShortfall(ctx, userID, chatID, s.CostCents)
	case errors.Is(err, service.ErrProviderUnavailable):
		b.reply(ctx, chatID, "Не удалось создать заказ. Средства не списаны, попробуйте позже.")
	default:
		b.logger.Error("place order", zap.Error(err), zap.Int64("userID", userID))
		b.reply(ctx, chatID, "Не удалось создать заказ. Средства не списаны, попробуйте позже.")
	}
}

// replyShortfall показывает пользователю и стоимость, и текущий баланс.
func (b *Bot) replyShortfall(ctx context.Context, userID, chatID, costCents int64) {
	balance := int64(0)
	if user, err := b.service.User(ctx, userID); err == nil {
		balance = user.BalanceCents
	}
	b.reply(ctx, chatID, fmt.Sprintf("Недостаточно средств: нужно %s, на балансе %s. Пополните баланс.",
		pricing.FormatCents(costCents), pricing.FormatCents(balance)))
}

func (b *Bot) handlePhoto(ctx context.Context, userID, chatID int64, photos []telegram.PhotoSize) {
	s, version, ok := b.sessions.Get(userID)
	if !ok || s.State != session.StateAwaitingProof {
		// Фото вне диалога пополнения не потребляется.
		return
	}

	// Берём самый крупный вариант: Bot API сортирует их по возрастанию.
	fileID := photos[len(photos)-1].FileID

	if !b.sessions.Clear(userID, version) {
		b.logger.Debug("proof step lost to another event", zap.Int64("userID", userID))
		return
	}

	if err := b.service.RecordDeposit(ctx, userID, s.DepositCents, fileID); err != nil {
		b.logger.Error("record deposit", zap.Error(err), zap.Int64("userID", userID))
		b.reply(ctx, chatID, "Не удалось сохранить заявку. Попробуйте позже.")
		return
	}

	b.reply(ctx, chatID, fmt.Sprintf("Заявка на пополнение %s принята. Баланс будет пополнен после проверки.",
		pricing.FormatCents(s.DepositCents)))
}

// --- профиль и история ---

func (b *Bot) sendProfile(ctx context.Context, user *model.User, chatID int64) {
	text := fmt.Sprintf("Профиль @%s\nБаланс: %s\nПотрачено всего: %s\nС нами с %s",
		user.Username,
		pricing.FormatCents(user.BalanceCents),
		pricing.FormatCents(user.TotalSpentCents),
		user.CreatedAt.Format("02.01.2006"))
	b.reply(ctx, chatID, text)
}

func (b *Bot) sendOrders(ctx context.Context, userID, chatID int64) {
	orders, err := b.service.UserOrders(ctx, userID, ordersPageSize)
	if err != nil {
		b.logger.Error("list orders", zap.Error(err), zap.Int64("userID", userID))
		b.reply(ctx, chatID, "Не удалось получить список заказов.")
		return
	}

	if len(orders) == 0 {
		b.reply(ctx, chatID, "У вас пока нет заказов.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Ваши заказы:\n")
	for _, o := range orders {
		fmt.Fprintf(&sb, "#%s — %s x%d, %s, %s\n",
			o.ProviderOrderID, kindTitle(o.Kind), o.Quantity,
			pricing.FormatCents(o.CostCents), statusTitle(o.Status))
	}
	b.reply(ctx, chatID, sb.String())
}

// --- вспомогательное ---

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	b.replyMarkup(ctx, chatID, text, nil)
}

func (b *Bot) replyMarkup(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) {
	if err := b.sender.SendMessage(ctx, chatID, text, markup); err != nil {
		b.logger.Warn("send message", zap.Error(err), zap.Int64("chatID", chatID))
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	for _, id := range b.adminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func mainMenu() *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{
				{Text: "❤️ Лайки", CallbackData: cbOrderLikes},
				{Text: "👁 Просмотры", CallbackData: cbOrderViews},
			},
			{
				{Text: "💰 Пополнить", CallbackData: cbTopUp},
			},
			{
				{Text: "👤 Профиль", CallbackData: cbProfile},
				{Text: "📦 Мои заказы", CallbackData: cbOrders},
			},
		},
	}
}

func confirmKeyboard() *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{
				{Text: "✅ Подтвердить", CallbackData: cbConfirm},
				{Text: "❌ Отмена", CallbackData: cbCancel},
			},
		},
	}
}

func kindTitle(kind model.ServiceKind) string {
	switch kind {
	case model.ServiceKindLikes:
		return "лайки"
	case model.ServiceKindViews:
		return "просмотры"
	}
	return string(kind)
}

func statusTitle(status model.OrderStatus) string {
	switch status {
	case model.OrderStatusPending:
		return "в очереди"
	case model.OrderStatusProcessing:
		return "выполняется"
	case model.OrderStatusCompleted:
		return "выполнен"
	case model.OrderStatusPartial:
		return "выполнен частично"
	case model.OrderStatusCancelled:
		return "отменён"
	}
	return string(status)
}
