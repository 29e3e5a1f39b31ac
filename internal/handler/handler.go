// Package handler содержит HTTP-слой магазина: приём вебхука и health-check.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/smmshop-system/internal/telegram"
)

// Dispatcher обрабатывает декодированное событие чат-платформы.
type Dispatcher interface {
	HandleUpdate(ctx context.Context, upd telegram.Update)
}

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler реализует HTTP-обработчики сервиса.
type Handler struct {
	dispatcher    Dispatcher
	pinger        Pinger
	logger        *zap.Logger
	webhookSecret string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(dispatcher Dispatcher, pinger Pinger, logger *zap.Logger, webhookSecret string) *Handler {
	return &Handler{
		dispatcher:    dispatcher,
		pinger:        pinger,
		logger:        logger,
		webhookSecret: webhookSecret,
	}
}

// Webhook принимает обновление от чат-платформы и передаёт его боту.
// Платформа ретраит недоставленные обновления, поэтому любой обработанный
// запрос подтверждается статусом 200.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var upd telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.dispatcher.HandleUpdate(r.Context(), upd)

	w.WriteHeader(http.StatusOK)
}

// Healthz проверяет доступность БД.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}
