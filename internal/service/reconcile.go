package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/smmshop-system/internal/model"
	"github.com/mmeshcher/smmshop-system/internal/pricing"
)

// StartReconciliation запускает фоновую сверку незавершённых заказов
// с провайдером. Возвращается при отмене контекста.
func (s *Service) StartReconciliation(ctx context.Context) {
	ticker := time.NewTicker(s.opts.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcileOnce(ctx)
		}
	}
}

// reconcileOnce выполняет один цикл сверки. Циклы single-flight: если
// предыдущий ещё не завершился, этот тик пропускается.
func (s *Service) reconcileOnce(ctx context.Context) {
	if !s.reconcileMu.TryLock() {
		s.logger.Warn("reconciliation cycle still in flight, skipping tick")
		return
	}
	defer s.reconcileMu.Unlock()

	orders, err := s.repo.OrdersForReconcile(ctx, s.opts.ReconcileBatch)
	if err != nil {
		s.logger.Error("fetch orders for reconcile", zap.Error(err))
		return
	}

	// Заказы обрабатываются строго последовательно: не больше одного
	// запроса к провайдеру одновременно.
	for _, o := range orders {
		if ctx.Err() != nil {
			return
		}
		s.reconcileOrder(ctx, o)
	}
}

func (s *Service) reconcileOrder(ctx context.Context, o model.Order) {
	res, err := s.provider.OrderStatus(ctx, o.ProviderOrderID)
	if err != nil {
		// Сбой провайдера не ошибка цикла: заказ будет опрошен в следующем.
		s.logger.Debug("provider status poll failed",
			zap.String("order", o.ProviderOrderID), zap.Error(err))
		return
	}

	mapped, ok := MapProviderStatus(res.Status)
	if !ok {
		s.logger.Warn("unrecognized provider status",
			zap.String("order", o.ProviderOrderID), zap.String("status", res.Status))
		return
	}

	// Побочные эффекты только при фактической смене значения статуса.
	if mapped == o.Status {
		return
	}

	applied, err := s.repo.TransitionOrderStatus(ctx, o.ProviderOrderID, o.Status, mapped, res.Status)
	if err != nil {
		s.logger.Error("apply status transition",
			zap.String("order", o.ProviderOrderID), zap.Error(err))
		return
	}
	if !applied {
		// Переход выиграл кто-то другой; эффекты уже применены там.
		return
	}

	switch mapped {
	case model.OrderStatusCompleted:
		s.notifyUser(ctx, o.UserID, fmt.Sprintf("Заказ #%s выполнен ✅", o.ProviderOrderID))
	case model.OrderStatusCancelled:
		// Возврат ровно зафиксированной стоимости, ровно один раз: кредит
		// следует только за применённым переходом, а терминальный заказ
		// выпадает из выборки следующих циклов.
		if err := s.repo.CreditBalance(ctx, o.UserID, o.CostCents); err != nil {
			s.logger.Error("refund for cancelled order did not apply",
				zap.String("order", o.ProviderOrderID),
				zap.Int64("amountCents", o.CostCents), zap.Error(err))
		}
		s.notifyUser(ctx, o.UserID, fmt.Sprintf("Заказ #%s отменён, %s возвращено на баланс",
			o.ProviderOrderID, pricing.FormatCents(o.CostCents)))
	}
}

func (s *Service) notifyUser(ctx context.Context, chatID int64, text string) {
	if err := s.notifier.Notify(ctx, chatID, text); err != nil {
		s.logger.Warn("user notification not delivered",
			zap.Int64("chatID", chatID), zap.Error(err))
	}
}
