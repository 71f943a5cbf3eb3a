// Package handler содержит HTTP API аудита журнала обменов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/scambi-bot/internal/middleware"
	"github.com/mmeshcher/scambi-bot/internal/model"
	"github.com/mmeshcher/scambi-bot/internal/repository"
	"github.com/mmeshcher/scambi-bot/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error
	Threshold() int
	UserPoints(ctx context.Context, userID int64) (model.User, error)
	UserExchanges(ctx context.Context, userID int64) ([]model.Exchange, error)
	UserGifts(ctx context.Context, userID int64) ([]model.Gift, error)
	CancelExchange(ctx context.Context, adminID, exchangeID int64) (service.ExchangeReversal, error)
	CancelGift(ctx context.Context, adminID, giftID int64) (service.GiftReversal, error)
}

// Handler реализует HTTP-обработчики API аудита.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// Healthz проверяет доступность хранилища.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type userResponse struct {
	ID        int64  `json:"id"`
	Handle    string `json:"handle,omitempty"`
	Points    int    `json:"points"`
	Threshold int    `json:"threshold"`
	Total     int    `json:"total"`
}

// GetUser возвращает счётчики участника.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r)
	if !ok {
		return
	}

	u, err := h.service.UserPoints(r.Context(), userID)
	if err != nil {
		h.logger.Error("get user error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, userResponse{
		ID:        userID,
		Handle:    u.Handle,
		Points:    u.Points,
		Threshold: h.service.Threshold(),
		Total:     u.Total,
	})
}

// GetExchanges возвращает последние обмены участника.
func (h *Handler) GetExchanges(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r)
	if !ok {
		return
	}

	list, err := h.service.UserExchanges(r.Context(), userID)
	if err != nil {
		h.logger.Error("get exchanges error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, list)
}

// GetGifts возвращает последние подарки участника.
func (h *Handler) GetGifts(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r)
	if !ok {
		return
	}

	list, err := h.service.UserGifts(r.Context(), userID)
	if err != nil {
		h.logger.Error("get gifts error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, list)
}

type reversalResponse struct {
	ID        int64 `json:"id"`
	Cancelled bool  `json:"cancelled"`
	Retracted int   `json:"retracted_notifications"`
}

// CancelExchange отменяет обмен от имени администратора из токена.
func (h *Handler) CancelExchange(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetAdminIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rev, err := h.service.CancelExchange(r.Context(), adminID, id)
	if err != nil {
		h.writeCancelError(w, err, zap.Int64("exchangeID", id), zap.Int64("adminID", adminID))
		return
	}

	h.logger.Info("exchange cancelled over http", zap.Int64("exchangeID", id), zap.Int64("adminID", adminID))
	h.writeJSON(w, reversalResponse{ID: rev.Exchange.ID, Cancelled: true, Retracted: rev.Retracted})
}

// CancelGift отменяет подарок от имени администратора из токена.
func (h *Handler) CancelGift(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetAdminIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rev, err := h.service.CancelGift(r.Context(), adminID, id)
	if err != nil {
		h.writeCancelError(w, err, zap.Int64("giftID", id), zap.Int64("adminID", adminID))
		return
	}

	h.logger.Info("gift cancelled over http", zap.Int64("giftID", id), zap.Int64("adminID", adminID))
	h.writeJSON(w, reversalResponse{ID: rev.Gift.ID, Cancelled: true, Retracted: rev.Retracted})
}

func (h *Handler) writeCancelError(w http.ResponseWriter, err error, fields ...zap.Field) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, repository.ErrExchangeNotFound), errors.Is(err, repository.ErrGiftNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrAlreadyCancelled):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	default:
		h.logger.Error("cancel error", append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
