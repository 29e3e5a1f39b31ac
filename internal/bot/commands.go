package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/smmshop-system/internal/model"
	"github.com/mmeshcher/smmshop-system/internal/pricing"
)

func (b *Bot) handleCommand(ctx context.Context, user *model.User, chatID int64, text string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}

	// Команда может прийти с упоминанием бота: /start@shop_bot.
	cmd := strings.SplitN(fields[0], "@", 2)[0]
	args := fields[1:]

	switch cmd {
	case "/start":
		// Новый /start вытесняет любой незавершённый диалог.
		b.sessions.Drop(user.TelegramID)
		b.replyMarkup(ctx, chatID, "Добро пожаловать в магазин продвижения! Выберите действие:", mainMenu())
	case "/profile":
		b.sendProfile(ctx, user, chatID)
	case "/orders":
		b.sendOrders(ctx, user.TelegramID, chatID)
	case "/setprice", "/setservice", "/addbalance", "/ban", "/unban", "/broadcast", "/panel":
		if !b.isAdmin(user.TelegramID) {
			b.reply(ctx, chatID, "Команда доступна только администраторам.")
			return
		}
		b.handleAdminCommand(ctx, chatID, cmd, args, text)
	default:
		// Незнакомая команда не потребляется.
	}
}

func (b *Bot) handleAdminCommand(ctx context.Context, chatID int64, cmd string, args []string, raw string) {
	switch cmd {
	case "/setprice":
		b.adminSetPrice(ctx, chatID, args)
	case "/setservice":
		b.adminSetService(ctx, chatID, args)
	case "/addbalance":
		b.adminAddBalance(ctx, chatID, args)
	case "/ban":
		b.adminSetBanned(ctx, chatID, args, true)
	case "/unban":
		b.adminSetBanned(ctx, chatID, args, false)
	case "/broadcast":
		b.adminBroadcast(ctx, chatID, raw)
	case "/panel":
		b.adminPanel(ctx, chatID)
	}
}

func (b *Bot) adminSetPrice(ctx context.Context, chatID int64, args []string) {
	if len(args) != 2 {
		b.reply(ctx, chatID, "Использование: /setprice <likes|views> <цена за 1000>")
		return
	}

	kind, ok := parseKind(args[0])
	if !ok {
		b.reply(ctx, chatID, "Неизвестная услуга: "+args[0])
		return
	}

	cents, err := pricing.ParseAmount(args[1])
	if err != nil {
		b.reply(ctx, chatID, "Некорректная цена: "+args[1])
		return
	}

	value := pricing.FormatCents(cents)
	if err := b.service.SetSetting(ctx, model.PriceSettingKey(kind), value); err != nil {
		b.logger.Error("set price", zap.Error(err))
		b.reply(ctx, chatID, "Не удалось сохранить цену.")
		return
	}

	b.reply(ctx, chatID, fmt.Sprintf("Цена за 1000 (%s): %s", kindTitle(kind), value))
}

func (b *Bot) adminSetService(ctx context.Context, chatID int64, args []string) {
	if len(args) != 2 {
		b.reply(ctx, chatID, "Использование: /setservice <likes|views> <id услуги>")
		return
	}

	kind, ok := parseKind(args[0])
	if !ok {
		b.reply(ctx, chatID, "Неизвестная услуга: "+args[0])
		return
	}

	if err := b.service.SetSetting(ctx, model.ProviderServiceSettingKey(kind), args[1]); err != nil {
		b.logger.Error("set provider service", zap.Error(err))
		b.reply(ctx, chatID, "Не удалось сохранить идентификатор услуги.")
		return
	}

	b.reply(ctx, chatID, fmt.Sprintf("Услуга провайдера (%s): %s", kindTitle(kind), args[1]))
}

func (b *Bot) adminAddBalance(ctx context.Context, chatID int64, args []string) {
	if len(args) != 2 {
		b.reply(ctx, chatID, "Использование: /addbalance <id пользователя> <сумма>")
		return
	}

	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.reply(ctx, chatID, "Некорректный идентификатор пользователя: "+args[0])
		return
	}

	cents, err := pricing.ParseAmount(args[1])
	if err != nil {
		b.reply(ctx, chatID, "Некорректная сумма: "+args[1])
		return
	}

	if err := b.service.CreditBalance(ctx, userID, cents); err != nil {
		b.logger.Error("credit balance", zap.Error(err), zap.Int64("userID", userID))
		b.reply(ctx, chatID, "Не удалось пополнить баланс.")
		return
	}

	b.reply(ctx, chatID, fmt.Sprintf("Баланс пользователя %d пополнен на %s.", userID, pricing.FormatCents(cents)))
	b.reply(ctx, userID, fmt.Sprintf("Баланс пополнен на %s.", pricing.FormatCents(cents)))
}

func (b *Bot) adminSetBanned(ctx context.Context, chatID int64, args []string, banned bool) {
	if len(args) != 1 {
		b.reply(ctx, chatID, "Использование: /ban <id пользователя>")
		return
	}

	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.reply(ctx, chatID, "Некорректный идентификатор пользователя: "+args[0])
		return
	}

	if err := b.service.SetBanned(ctx, userID, banned); err != nil {
		b.logger.Error("set banned", zap.Error(err), zap.Int64("userID", userID))
		b.reply(ctx, chatID, "Не удалось изменить статус пользователя.")
		return
	}

	if banned {
		b.reply(ctx, chatID, fmt.Sprintf("Пользователь %d заблокирован.", userID))
	} else {
		b.reply(ctx, chatID, fmt.Sprintf("Пользователь %d разблокирован.", userID))
	}
}

func (b *Bot) adminBroadcast(ctx context.Context, chatID int64, raw string) {
	_, text, found := strings.Cut(raw, " ")
	text = strings.TrimSpace(text)
	if !found || text == "" {
		b.reply(ctx, chatID, "Использование: /broadcast <текст>")
		return
	}

	failed, err := b.service.Broadcast(ctx, text)
	if err != nil {
		b.logger.Error("broadcast", zap.Error(err))
		b.reply(ctx, chatID, "Рассылка не выполнена.")
		return
	}

	b.reply(ctx, chatID, fmt.Sprintf("Рассылка завершена, не доставлено: %d.", failed))
}

func (b *Bot) adminPanel(ctx context.Context, chatID int64) {
	stats, err := b.service.Stats(ctx)
	if err != nil {
		b.logger.Error("load stats", zap.Error(err))
		b.reply(ctx, chatID, "Не удалось получить статистику.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Пользователей: %d\n", stats.Users)
	fmt.Fprintf(&sb, "Оборот: %s\n", pricing.FormatCents(stats.RevenueCents))
	sb.WriteString("Заказы:\n")
	for _, status := range []model.OrderStatus{
		model.OrderStatusPending,
		model.OrderStatusProcessing,
		model.OrderStatusCompleted,
		model.OrderStatusPartial,
		model.OrderStatusCancelled,
	} {
		if n := stats.OrdersByStatus[status]; n > 0 {
			fmt.Fprintf(&sb, "  %s: %d\n", statusTitle(status), n)
		}
	}

	b.reply(ctx, chatID, sb.String())
}

func parseKind(s string) (model.ServiceKind, bool) {
	switch strings.ToLower(s) {
	case string(model.ServiceKindLikes):
		return model.ServiceKindLikes, true
	case string(model.ServiceKindViews):
		return model.ServiceKindViews, true
	}
	return "", false
}
