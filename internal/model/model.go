// Package model содержит доменные сущности сервиса бронирования столовой.
package model

import "time"

// CutoffTime — граница отсечки 10:00 локального времени: бронирования на
// текущий день, созданные позже, помечаются как поздние (но не отклоняются).
const CutoffTime = "10:00"

// Category описывает категорию позиции меню.
type Category string

const (
	CategoryMainCourse Category = "main_course"
	CategorySideDish   Category = "side_dish"
	CategoryBeverage   Category = "beverage"
	CategoryDessert    Category = "dessert"
)

// ValidCategory сообщает, является ли строка известной категорией меню.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryMainCourse, CategorySideDish, CategoryBeverage, CategoryDessert:
		return true
	}
	return false
}

// MenuItem описывает позицию меню на конкретную дату.
// Цена хранится в минимальных денежных единицах.
type MenuItem struct {
	ID        int64
	MenuDate  string
	Name      string
	Price     int64
	Category  Category
	Available bool
}

// OrderLine — снимок выбранной позиции меню на момент создания бронирования.
// Последующие изменения каталога не влияют на сохранённые снимки.
type OrderLine struct {
	MenuItemID    int64
	NameSnapshot  string
	PriceSnapshot int64
	Quantity      int
}

// Status описывает статус бронирования.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// ValidStatus сообщает, является ли строка известным статусом.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// Terminal сообщает, является ли статус конечным.
// Из конечного статуса переходы запрещены.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusCompleted
}

// CanTransitionTo проверяет допустимость перехода по конечному автомату статусов:
// pending -> confirmed|canceled, confirmed -> completed|canceled.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCanceled
	case StatusConfirmed:
		return next == StatusCompleted || next == StatusCanceled
	}
	return false
}

// Reservation описывает бронирование сотрудника.
// Запись неизменяема после создания, меняется только статус (и версия).
type Reservation struct {
	ID           int64
	UserEmail    string
	UserName     string
	Department   string
	Lines        []OrderLine
	GuestCount   int
	GuestNames   string
	Date         string
	Time         string
	TotalAmount  int64
	Status       Status
	IsPastCutoff bool
	Version      int64
	CreatedAt    time.Time
}

// ComputeTotal вычисляет итоговую сумму по снимкам позиций: каждая строка
// умножается на количество, каждый гость дополнительно оплачивает по одной
// порции каждой выбранной позиции (без учёта её количества).
func ComputeTotal(lines []OrderLine, guestCount int) int64 {
	var itemsTotal, perGuest int64
	for _, l := range lines {
		itemsTotal += l.PriceSnapshot * int64(l.Quantity)
		perGuest += l.PriceSnapshot
	}
	return itemsTotal + int64(guestCount)*perGuest
}

// IsPastCutoff вычисляет признак позднего бронирования: дата совпадает с
// текущей и время строго позже границы отсечки. Дата и время сравниваются
// лексикографически (формат yyyy-MM-dd / HH:mm гарантируется построением).
func IsPastCutoff(date, tm, today string) bool {
	return date == today && tm > CutoffTime
}

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// User описывает аутентифицированного пользователя.
type User struct {
	Email string
	Name  string
	Role  Role
}

// Capability — отдельное разрешение пользователя.
type Capability string

const (
	CapManageUsers         Capability = "manage_users"
	CapManageMenu          Capability = "manage_menu"
	CapViewReports         Capability = "view_reports"
	CapApproveReservations Capability = "approve_reservations"
	CapDeleteData          Capability = "delete_data"
)

// Capabilities перечисляет все известные разрешения.
var Capabilities = []Capability{
	CapManageUsers,
	CapManageMenu,
	CapViewReports,
	CapApproveReservations,
	CapDeleteData,
}

// ValidCapability сообщает, является ли строка известным разрешением.
func ValidCapability(c Capability) bool {
	for _, known := range Capabilities {
		if c == known {
			return true
		}
	}
	return false
}

// CapabilitySet — набор разрешений, вычисленный из роли и переопределений.
type CapabilitySet map[Capability]bool

// Has сообщает, входит ли разрешение в набор.
func (cs CapabilitySet) Has(c Capability) bool {
	return cs[c]
}

// DailyRevenue содержит выручку за один день.
type DailyRevenue struct {
	Date   string `json:"date"`
	Amount int64  `json:"amount"`
}

// Metrics содержит агрегированные показатели по набору бронирований.
type Metrics struct {
	TotalReservations      int            `json:"total_reservations"`
	TotalRevenue           int64          `json:"total_revenue"`
	AverageOrderValue      int64          `json:"average_order_value"`
	PeakHour               string         `json:"peak_hour"`
	TopItem                string         `json:"top_item"`
	StatusDistribution     map[Status]int `json:"status_distribution"`
	DepartmentDistribution map[string]int `json:"department_distribution"`
	DailyRevenue           []DailyRevenue `json:"daily_revenue"`
}
