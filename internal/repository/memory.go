package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mmeshcher/canteen-system/internal/model"
)

// MemoryRepository — потокобезопасное хранилище в памяти. Используется для
// локального запуска без базы данных и в тестах. Мутации атомарны на уровне
// отдельной записи: читатели видят запись либо целиком до, либо целиком
// после изменения.
type MemoryRepository struct {
	mu sync.RWMutex

	menuItems    map[int64]model.MenuItem
	reservations map[int64]model.Reservation
	overrides    map[string]map[model.Capability]bool

	nextMenuItemID    int64
	nextReservationID int64
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		menuItems:         make(map[int64]model.MenuItem),
		reservations:      make(map[int64]model.Reservation),
		overrides:         make(map[string]map[model.Capability]bool),
		nextMenuItemID:    1,
		nextReservationID: 1,
	}
}

// Close ничего не освобождает: хранилище живёт в памяти процесса.
func (r *MemoryRepository) Close() error {
	return nil
}

// GetMenuItems возвращает все позиции меню на указанную дату.
func (r *MemoryRepository) GetMenuItems(ctx context.Context, date string) ([]model.MenuItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := []model.MenuItem{}
	for id := int64(1); id < r.nextMenuItemID; id++ {
		if it, ok := r.menuItems[id]; ok && it.MenuDate == date {
			items = append(items, it)
		}
	}
	return items, nil
}

// UpsertMenuItem создаёт позицию меню или заменяет поля существующей.
func (r *MemoryRepository) UpsertMenuItem(ctx context.Context, item model.MenuItem) (model.MenuItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item.ID == 0 {
		item.ID = r.nextMenuItemID
		r.nextMenuItemID++
	} else if item.ID >= r.nextMenuItemID {
		r.nextMenuItemID = item.ID + 1
	}

	r.menuItems[item.ID] = item
	return item, nil
}

// SetMenuItemAvailability выставляет признак доступности позиции. Идемпотентна.
func (r *MemoryRepository) SetMenuItemAvailability(ctx context.Context, id int64, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.menuItems[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrMenuItemNotFound, id)
	}

	it.Available = available
	r.menuItems[id] = it
	return nil
}

// DeleteMenuItem удаляет позицию меню. Снимки в бронированиях не затрагиваются.
func (r *MemoryRepository) DeleteMenuItem(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.menuItems[id]; !ok {
		return fmt.Errorf("%w: %d", ErrMenuItemNotFound, id)
	}

	delete(r.menuItems, id)
	return nil
}

// CreateReservation сохраняет бронирование и присваивает идентификатор.
func (r *MemoryRepository) CreateReservation(ctx context.Context, res model.Reservation) (model.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res.ID = r.nextReservationID
	r.nextReservationID++
	res.Version = 1
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}

	res.Lines = cloneLines(res.Lines)
	r.reservations[res.ID] = res

	return res, nil
}

// GetReservation возвращает бронирование по идентификатору.
func (r *MemoryRepository) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.reservations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrReservationNotFound, id)
	}

	res.Lines = cloneLines(res.Lines)
	return &res, nil
}

// UpdateReservationStatus переводит бронирование в новый статус с проверкой версии.
func (r *MemoryRepository) UpdateReservationStatus(ctx context.Context, id int64, status model.Status, version int64) (*model.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrReservationNotFound, id)
	}

	if res.Version != version {
		return nil, fmt.Errorf("%w: %d", ErrVersionConflict, id)
	}

	res.Status = status
	res.Version++
	r.reservations[id] = res

	res.Lines = cloneLines(res.Lines)
	return &res, nil
}

// GetReservationsByUser возвращает бронирования пользователя в порядке создания.
func (r *MemoryRepository) GetReservationsByUser(ctx context.Context, email string) ([]model.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Reservation
	for id := int64(1); id < r.nextReservationID; id++ {
		if rv, ok := r.reservations[id]; ok && rv.UserEmail == email {
			rv.Lines = cloneLines(rv.Lines)
			res = append(res, rv)
		}
	}
	return res, nil
}

// GetReservationsByDateRange возвращает бронирования в диапазоне дат включительно.
func (r *MemoryRepository) GetReservationsByDateRange(ctx context.Context, start, end string) ([]model.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Reservation
	for id := int64(1); id < r.nextReservationID; id++ {
		if rv, ok := r.reservations[id]; ok && rv.Date >= start && rv.Date <= end {
			rv.Lines = cloneLines(rv.Lines)
			res = append(res, rv)
		}
	}
	return res, nil
}

// GetAllReservations возвращает полный снимок журнала бронирований.
func (r *MemoryRepository) GetAllReservations(ctx context.Context) ([]model.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Reservation
	for id := int64(1); id < r.nextReservationID; id++ {
		if rv, ok := r.reservations[id]; ok {
			rv.Lines = cloneLines(rv.Lines)
			res = append(res, rv)
		}
	}
	return res, nil
}

// GetPermissionOverrides возвращает персональные переопределения разрешений.
func (r *MemoryRepository) GetPermissionOverrides(ctx context.Context, email string) (map[model.Capability]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	overrides := make(map[model.Capability]bool, len(r.overrides[email]))
	for c, allowed := range r.overrides[email] {
		overrides[c] = allowed
	}
	return overrides, nil
}

// SetPermissionOverrides заменяет набор переопределений пользователя целиком.
func (r *MemoryRepository) SetPermissionOverrides(ctx context.Context, email string, overrides map[model.Capability]bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := make(map[model.Capability]bool, len(overrides))
	for c, allowed := range overrides {
		copied[c] = allowed
	}
	r.overrides[email] = copied
	return nil
}

func cloneLines(lines []model.OrderLine) []model.OrderLine {
	if lines == nil {
		return nil
	}
	out := make([]model.OrderLine, len(lines))
	copy(out, lines)
	return out
}
