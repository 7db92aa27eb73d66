// Package service реализует бизнес-логику сервиса бронирования столовой.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/canteen-system/internal/auth"
	"github.com/mmeshcher/canteen-system/internal/directory"
	"github.com/mmeshcher/canteen-system/internal/model"
	"github.com/mmeshcher/canteen-system/internal/notifier"
	"github.com/mmeshcher/canteen-system/internal/report"
	"github.com/mmeshcher/canteen-system/internal/validation"
)

// ErrEmptySelection возвращается при попытке создать бронирование без позиций.
var (
	ErrEmptySelection = errors.New("selection is empty")
	// ErrUnavailableItem возвращается, если выбранная позиция отсутствует
	// в меню на сегодня или помечена недоступной.
	ErrUnavailableItem = errors.New("menu item is unavailable")
	// ErrInvalidTransition возвращается при недопустимом переходе статуса.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetMenuItems(ctx context.Context, date string) ([]model.MenuItem, error)
	UpsertMenuItem(ctx context.Context, item model.MenuItem) (model.MenuItem, error)
	SetMenuItemAvailability(ctx context.Context, id int64, available bool) error
	DeleteMenuItem(ctx context.Context, id int64) error
	CreateReservation(ctx context.Context, res model.Reservation) (model.Reservation, error)
	GetReservation(ctx context.Context, id int64) (*model.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id int64, status model.Status, version int64) (*model.Reservation, error)
	GetReservationsByUser(ctx context.Context, email string) ([]model.Reservation, error)
	GetReservationsByDateRange(ctx context.Context, start, end string) ([]model.Reservation, error)
	GetAllReservations(ctx context.Context) ([]model.Reservation, error)
	GetPermissionOverrides(ctx context.Context, email string) (map[model.Capability]bool, error)
	SetPermissionOverrides(ctx context.Context, email string, overrides map[model.Capability]bool) error
}

// Selection описывает одну выбранную позицию в запросе на бронирование.
type Selection struct {
	ItemID   int64
	Quantity int
}

// Service содержит бизнес-логику сервиса бронирования.
type Service struct {
	repo            Repository
	directoryClient *directory.Client
	events          *notifier.Notifier
	now             func() time.Time
}

// NewService создаёт сервис. Клиент справочника и издатель событий необязательны.
func NewService(repo Repository, directoryClient *directory.Client, events *notifier.Notifier) *Service {
	return &Service{
		repo:            repo,
		directoryClient: directoryClient,
		events:          events,
		now:             time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.events != nil {
		s.events.Close()
	}
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// MenuItems возвращает меню на указанную дату; пустая дата означает сегодня.
func (s *Service) MenuItems(ctx context.Context, date string) ([]model.MenuItem, error) {
	if date == "" {
		date = s.today()
	}
	if !validation.IsValidDate(date) {
		return nil, validation.ValidationError{Field: "date", Message: "must be yyyy-MM-dd"}
	}
	return s.repo.GetMenuItems(ctx, date)
}

// UpsertMenuItem создаёт позицию меню или заменяет поля существующей.
func (s *Service) UpsertMenuItem(ctx context.Context, item model.MenuItem) (model.MenuItem, error) {
	if item.Name == "" {
		return model.MenuItem{}, validation.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if item.Price <= 0 {
		return model.MenuItem{}, validation.ValidationError{Field: "price", Message: "must be positive"}
	}
	if !model.ValidCategory(item.Category) {
		return model.MenuItem{}, validation.ValidationError{Field: "category", Message: "unknown category"}
	}
	if item.MenuDate == "" {
		item.MenuDate = s.today()
	}
	if !validation.IsValidDate(item.MenuDate) {
		return model.MenuItem{}, validation.ValidationError{Field: "menu_date", Message: "must be yyyy-MM-dd"}
	}

	return s.repo.UpsertMenuItem(ctx, item)
}

// SetMenuItemAvailability выставляет признак доступности позиции меню.
func (s *Service) SetMenuItemAvailability(ctx context.Context, id int64, available bool) error {
	return s.repo.SetMenuItemAvailability(ctx, id, available)
}

// DeleteMenuItem удаляет позицию меню. Снимки существующих бронирований
// не изменяются.
func (s *Service) DeleteMenuItem(ctx context.Context, id int64) error {
	return s.repo.DeleteMenuItem(ctx, id)
}

// CreateReservation проверяет выбор по сегодняшнему меню и создаёт бронирование
// в статусе pending. Порядок проверок: пустой выбор, доступность позиций,
// количество, число гостей.
func (s *Service) CreateReservation(ctx context.Context, user model.User, selections []Selection, guestCount int, guestNames string) (model.Reservation, error) {
	if len(selections) == 0 {
		return model.Reservation{}, ErrEmptySelection
	}

	today := s.today()

	items, err := s.repo.GetMenuItems(ctx, today)
	if err != nil {
		return model.Reservation{}, err
	}

	byID := make(map[int64]model.MenuItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	for _, sel := range selections {
		it, ok := byID[sel.ItemID]
		if !ok || !it.Available {
			return model.Reservation{}, fmt.Errorf("%w: %d", ErrUnavailableItem, sel.ItemID)
		}
	}

	for _, sel := range selections {
		if sel.Quantity < 1 {
			return model.Reservation{}, validation.ValidationError{Field: "quantity", Message: "must be at least 1"}
		}
	}

	if guestCount < 0 {
		return model.Reservation{}, validation.ValidationError{Field: "guest_count", Message: "must not be negative"}
	}

	lines := make([]model.OrderLine, 0, len(selections))
	for _, sel := range selections {
		it := byID[sel.ItemID]
		lines = append(lines, model.OrderLine{
			MenuItemID:    it.ID,
			NameSnapshot:  it.Name,
			PriceSnapshot: it.Price,
			Quantity:      sel.Quantity,
		})
	}

	now := s.now()
	resTime := now.Format("15:04")

	res := model.Reservation{
		UserEmail:    user.Email,
		UserName:     user.Name,
		Department:   s.lookupDepartment(ctx, user.Email),
		Lines:        lines,
		GuestCount:   guestCount,
		GuestNames:   guestNames,
		Date:         today,
		Time:         resTime,
		TotalAmount:  model.ComputeTotal(lines, guestCount),
		Status:       model.StatusPending,
		IsPastCutoff: model.IsPastCutoff(today, resTime, today),
		CreatedAt:    now,
	}

	created, err := s.repo.CreateReservation(ctx, res)
	if err != nil {
		return model.Reservation{}, err
	}

	// Публикация события не влияет на результат создания.
	_ = s.events.ReservationCreated(ctx, created)

	return created, nil
}

// lookupDepartment запрашивает подразделение сотрудника у справочника.
// Недоступность справочника не мешает созданию бронирования.
func (s *Service) lookupDepartment(ctx context.Context, email string) string {
	if s.directoryClient == nil {
		return ""
	}

	profile, err := s.directoryClient.GetEmployee(ctx, email)
	if err != nil || profile == nil {
		return ""
	}

	return profile.Department
}

// UpdateReservationStatus переводит бронирование в новый статус по конечному
// автомату. Конечные статусы поглощающие: любой переход из них запрещён.
func (s *Service) UpdateReservationStatus(ctx context.Context, id int64, newStatus model.Status) (*model.Reservation, error) {
	if !model.ValidStatus(newStatus) {
		return nil, validation.ValidationError{Field: "status", Message: "unknown status"}
	}

	res, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	if !res.Status.CanTransitionTo(newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, res.Status, newStatus)
	}

	updated, err := s.repo.UpdateReservationStatus(ctx, id, newStatus, res.Version)
	if err != nil {
		return nil, err
	}

	_ = s.events.ReservationStatusChanged(ctx, *updated)

	return updated, nil
}

// ReservationsByUser возвращает бронирования пользователя в порядке создания.
func (s *Service) ReservationsByUser(ctx context.Context, email string) ([]model.Reservation, error) {
	return s.repo.GetReservationsByUser(ctx, email)
}

// ReservationsByDateRange возвращает бронирования в диапазоне дат включительно.
func (s *Service) ReservationsByDateRange(ctx context.Context, start, end string) ([]model.Reservation, error) {
	if !validation.IsValidDate(start) {
		return nil, validation.ValidationError{Field: "start", Message: "must be yyyy-MM-dd"}
	}
	if !validation.IsValidDate(end) {
		return nil, validation.ValidationError{Field: "end", Message: "must be yyyy-MM-dd"}
	}
	return s.repo.GetReservationsByDateRange(ctx, start, end)
}

// AllReservations возвращает полный снимок журнала бронирований.
func (s *Service) AllReservations(ctx context.Context) ([]model.Reservation, error) {
	return s.repo.GetAllReservations(ctx)
}

// Metrics вычисляет показатели по бронированиям в диапазоне дат.
func (s *Service) Metrics(ctx context.Context, start, end string) (model.Metrics, error) {
	reservations, err := s.ReservationsByDateRange(ctx, start, end)
	if err != nil {
		return model.Metrics{}, err
	}
	return report.ComputeMetrics(reservations), nil
}

// UserCapabilities возвращает итоговый набор разрешений пользователя:
// значения по умолчанию для роли плюс сохранённые переопределения.
func (s *Service) UserCapabilities(ctx context.Context, user model.User) (model.CapabilitySet, error) {
	overrides, err := s.repo.GetPermissionOverrides(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	return auth.ResolveCapabilities(user.Role, overrides), nil
}

// PermissionOverrides возвращает сохранённые переопределения разрешений пользователя.
func (s *Service) PermissionOverrides(ctx context.Context, email string) (map[model.Capability]bool, error) {
	return s.repo.GetPermissionOverrides(ctx, email)
}

// SetPermissionOverrides заменяет переопределения разрешений пользователя.
func (s *Service) SetPermissionOverrides(ctx context.Context, email string, overrides map[model.Capability]bool) error {
	for c := range overrides {
		if !model.ValidCapability(c) {
			return validation.ValidationError{Field: "capability", Message: fmt.Sprintf("unknown capability %q", c)}
		}
	}
	return s.repo.SetPermissionOverrides(ctx, email, overrides)
}

func (s *Service) today() string {
	return s.now().Format("2006-01-02")
}
