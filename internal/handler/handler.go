// Package handler содержит HTTP-обработчики API сервиса бронирования столовой.
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

	"github.com/mmeshcher/canteen-system/internal/auth"
	"github.com/mmeshcher/canteen-system/internal/middleware"
	"github.com/mmeshcher/canteen-system/internal/model"
	"github.com/mmeshcher/canteen-system/internal/repository"
	"github.com/mmeshcher/canteen-system/internal/service"
	"github.com/mmeshcher/canteen-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	MenuItems(ctx context.Context, date string) ([]model.MenuItem, error)
	UpsertMenuItem(ctx context.Context, item model.MenuItem) (model.MenuItem, error)
	SetMenuItemAvailability(ctx context.Context, id int64, available bool) error
	DeleteMenuItem(ctx context.Context, id int64) error
	CreateReservation(ctx context.Context, user model.User, selections []service.Selection, guestCount int, guestNames string) (model.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id int64, newStatus model.Status) (*model.Reservation, error)
	ReservationsByUser(ctx context.Context, email string) ([]model.Reservation, error)
	ReservationsByDateRange(ctx context.Context, start, end string) ([]model.Reservation, error)
	Metrics(ctx context.Context, start, end string) (model.Metrics, error)
	UserCapabilities(ctx context.Context, user model.User) (model.CapabilitySet, error)
	PermissionOverrides(ctx context.Context, email string) (map[model.Capability]bool, error)
	SetPermissionOverrides(ctx context.Context, email string, overrides map[model.Capability]bool) error
}

// Handler реализует HTTP-обработчики API сервиса бронирования.
type Handler struct {
	service        Service
	resolver       *auth.Resolver
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, resolver *auth.Resolver, logger *zap.Logger, authMW *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		resolver:       resolver,
		logger:         logger,
		authMiddleware: authMW,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Field: field})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type loginRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type identityResponse struct {
	Email string     `json:"email"`
	Name  string     `json:"name"`
	Role  model.Role `json:"role"`
}

// Login проверяет почтовый домен, выводит роль и выдаёт подписанный cookie.
// Подлинность адреса подтверждается внешним провайдером до обращения сюда.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required", "email")
		return
	}

	user, err := h.resolver.Resolve(req.Email, req.Name)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorizedDomain) {
			writeError(w, http.StatusUnauthorized, "email domain is not allowed", "email")
			return
		}
		h.logger.Error("login error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, user.Email, user.Name)
	writeJSON(w, http.StatusOK, identityResponse{Email: user.Email, Name: user.Name, Role: user.Role})
}

// Logout сбрасывает cookie авторизации.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

// identity извлекает пользователя из контекста; при отсутствии пишет 401.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	user, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return model.User{}, false
	}
	return user, true
}

// requireCapability проверяет наличие разрешения у текущего пользователя.
func (h *Handler) requireCapability(w http.ResponseWriter, r *http.Request, c model.Capability) (model.User, bool) {
	user, ok := h.identity(w, r)
	if !ok {
		return model.User{}, false
	}

	caps, err := h.service.UserCapabilities(r.Context(), user)
	if err != nil {
		h.logger.Error("resolve capabilities error", zap.Error(err), zap.String("email", user.Email))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return model.User{}, false
	}

	if !caps.Has(c) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return model.User{}, false
	}

	return user, true
}

type menuItemPayload struct {
	ID        int64          `json:"id,omitempty"`
	MenuDate  string         `json:"date,omitempty"`
	Name      string         `json:"name"`
	Price     int64          `json:"price"`
	Category  model.Category `json:"category"`
	Available bool           `json:"available"`
}

func toMenuItemPayload(it model.MenuItem) menuItemPayload {
	return menuItemPayload{
		ID:        it.ID,
		MenuDate:  it.MenuDate,
		Name:      it.Name,
		Price:     it.Price,
		Category:  it.Category,
		Available: it.Available,
	}
}

// GetMenu возвращает меню на указанную дату (по умолчанию на сегодня).
func (h *Handler) GetMenu(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.identity(w, r); !ok {
		return
	}

	items, err := h.service.MenuItems(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.handleServiceError(w, err, "get menu")
		return
	}

	resp := make([]menuItemPayload, 0, len(items))
	for _, it := range items {
		resp = append(resp, toMenuItemPayload(it))
	}

	writeJSON(w, http.StatusOK, resp)
}

// UpsertMenuItem создаёт или заменяет позицию меню.
func (h *Handler) UpsertMenuItem(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCapability(w, r, model.CapManageMenu); !ok {
		return
	}

	var req menuItemPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	item, err := h.service.UpsertMenuItem(r.Context(), model.MenuItem{
		ID:        req.ID,
		MenuDate:  req.MenuDate,
		Name:      req.Name,
		Price:     req.Price,
		Category:  req.Category,
		Available: req.Available,
	})
	if err != nil {
		h.handleServiceError(w, err, "upsert menu item")
		return
	}

	writeJSON(w, http.StatusOK, toMenuItemPayload(item))
}

type availabilityRequest struct {
	Available bool `json:"available"`
}

// SetAvailability выставляет признак доступности позиции меню.
func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCapability(w, r, model.CapManageMenu); !ok {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetMenuItemAvailability(r.Context(), id, req.Available); err != nil {
		h.handleServiceError(w, err, "set availability")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteMenuItem удаляет позицию меню.
func (h *Handler) DeleteMenuItem(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCapability(w, r, model.CapManageMenu); !ok {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteMenuItem(r.Context(), id); err != nil {
		h.handleServiceError(w, err, "delete menu item")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type selectionPayload struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

type createReservationRequest struct {
	Selections []selectionPayload `json:"selections"`
	GuestCount int                `json:"guest_count"`
	GuestNames string             `json:"guest_names,omitempty"`
}

type orderLinePayload struct {
	MenuItemID int64  `json:"menu_item_id"`
	Name       string `json:"name"`
	Price      int64  `json:"price"`
	Quantity   int    `json:"quantity"`
}

type reservationPayload struct {
	ID           int64              `json:"id"`
	UserEmail    string             `json:"user_email"`
	UserName     string             `json:"user_name"`
	Department   string             `json:"department,omitempty"`
	Lines        []orderLinePayload `json:"lines"`
	GuestCount   int                `json:"guest_count"`
	GuestNames   string             `json:"guest_names,omitempty"`
	Date         string             `json:"date"`
	Time         string             `json:"time"`
	TotalAmount  int64              `json:"total_amount"`
	Status       model.Status       `json:"status"`
	IsPastCutoff bool               `json:"is_past_cutoff"`
	CreatedAt    string             `json:"created_at"`
}

func toReservationPayload(res model.Reservation) reservationPayload {
	lines := make([]orderLinePayload, 0, len(res.Lines))
	for _, l := range res.Lines {
		lines = append(lines, orderLinePayload{
			MenuItemID: l.MenuItemID,
			Name:       l.NameSnapshot,
			Price:      l.PriceSnapshot,
			Quantity:   l.Quantity,
		})
	}

	return reservationPayload{
		ID:           res.ID,
		UserEmail:    res.UserEmail,
		UserName:     res.UserName,
		Department:   res.Department,
		Lines:        lines,
		GuestCount:   res.GuestCount,
		GuestNames:   res.GuestNames,
		Date:         res.Date,
		Time:         res.Time,
		TotalAmount:  res.TotalAmount,
		Status:       res.Status,
		IsPastCutoff: res.IsPastCutoff,
		CreatedAt:    res.CreatedAt.Format(time.RFC3339),
	}
}

// CreateReservation создаёт бронирование для текущего пользователя.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req createReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	selections := make([]service.Selection, 0, len(req.Selections))
	for _, sel := range req.Selections {
		selections = append(selections, service.Selection{
			ItemID:   sel.ItemID,
			Quantity: sel.Quantity,
		})
	}

	res, err := h.service.CreateReservation(r.Context(), user, selections, req.GuestCount, req.GuestNames)
	if err != nil {
		h.handleServiceError(w, err, "create reservation")
		return
	}

	writeJSON(w, http.StatusCreated, toReservationPayload(res))
}

// GetReservations возвращает бронирования: собственные для текущего
// пользователя, либо по диапазону дат для пользователей с правом просмотра отчётов.
func (h *Handler) GetReservations(w http.ResponseWriter, r *http.Request) {
	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")

	var reservations []model.Reservation
	var err error

	if start != "" || end != "" {
		if _, ok := h.requireCapability(w, r, model.CapViewReports); !ok {
			return
		}
		reservations, err = h.service.ReservationsByDateRange(r.Context(), start, end)
	} else {
		user, ok := h.identity(w, r)
		if !ok {
			return
		}
		reservations, err = h.service.ReservationsByUser(r.Context(), user.Email)
	}

	if err != nil {
		h.handleServiceError(w, err, "get reservations")
		return
	}

	resp := make([]reservationPayload, 0, len(reservations))
	for _, res := range reservations {
		resp = append(resp, toReservationPayload(res))
	}

	writeJSON(w, http.StatusOK, resp)
}

type statusRequest struct {
	Status model.Status `json:"status"`
}

// UpdateReservationStatus переводит бронирование в новый статус.
func (h *Handler) UpdateReservationStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCapability(w, r, model.CapApproveReservations); !ok {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.UpdateReservationStatus(r.Context(), id, req.Status)
	if err != nil {
		h.handleServiceError(w, err, "update reservation status")
		return
	}

	writeJSON(w, http.StatusOK, toReservationPayload(*res))
}

// GetMetrics возвращает показатели по бронированиям в диапазоне дат.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCapability(w, r, model.CapViewReports); !ok {
		return
	}

	metrics, err := h.service.Metrics(r.Context(), r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		h.handleServiceError(w, err, "get metrics")
		return
	}

	writeJSON(w, http.StatusOK, metrics)
}

type permissionsResponse struct {
	Email        string                    `json:"email"`
	Role         model.Role                `json:"role"`
	Capabilities model.CapabilitySet       `json:"capabilities"`
	Overrides    map[model.Capability]bool `json:"overrides"`
}

// GetPermissions возвращает итоговые разрешения пользователя и его переопределения.
func (h *Handler) GetPermissions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCapability(w, r, model.CapManageUsers); !ok {
		return
	}

	email := chi.URLParam(r, "email")

	target, err := h.resolver.Resolve(email, "")
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorizedDomain) {
			writeError(w, http.StatusNotFound, "user is outside the allowed domain", "email")
			return
		}
		h.logger.Error("resolve user error", zap.Error(err), zap.String("email", email))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	overrides, err := h.service.PermissionOverrides(r.Context(), target.Email)
	if err != nil {
		h.handleServiceError(w, err, "get permissions")
		return
	}

	caps, err := h.service.UserCapabilities(r.Context(), *target)
	if err != nil {
		h.handleServiceError(w, err, "get permissions")
		return
	}

	writeJSON(w, http.StatusOK, permissionsResponse{
		Email:        target.Email,
		Role:         target.Role,
		Capabilities: caps,
		Overrides:    overrides,
	})
}

type putPermissionsRequest struct {
	Overrides map[model.Capability]bool `json:"overrides"`
}

// PutPermissions заменяет переопределения разрешений пользователя.
func (h *Handler) PutPermissions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCapability(w, r, model.CapManageUsers); !ok {
		return
	}

	email := chi.URLParam(r, "email")

	target, err := h.resolver.Resolve(email, "")
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorizedDomain) {
			writeError(w, http.StatusNotFound, "user is outside the allowed domain", "email")
			return
		}
		h.logger.Error("resolve user error", zap.Error(err), zap.String("email", email))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req putPermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetPermissionOverrides(r.Context(), target.Email, req.Overrides); err != nil {
		h.handleServiceError(w, err, "put permissions")
		return
	}

	caps, err := h.service.UserCapabilities(r.Context(), *target)
	if err != nil {
		h.handleServiceError(w, err, "put permissions")
		return
	}

	writeJSON(w, http.StatusOK, permissionsResponse{
		Email:        target.Email,
		Role:         target.Role,
		Capabilities: caps,
		Overrides:    req.Overrides,
	})
}

// handleServiceError переводит ошибки бизнес-логики в HTTP-статусы.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error, op string) {
	var vErr validation.ValidationError
	switch {
	case errors.Is(err, service.ErrEmptySelection):
		writeError(w, http.StatusBadRequest, "selection is empty", "selections")
	case errors.Is(err, service.ErrUnavailableItem):
		writeError(w, http.StatusBadRequest, err.Error(), "selections")
	case errors.As(err, &vErr):
		writeError(w, http.StatusUnprocessableEntity, vErr.Message, vErr.Field)
	case errors.Is(err, repository.ErrMenuItemNotFound),
		errors.Is(err, repository.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, repository.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error(), "")
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
