// Package report вычисляет агрегированные показатели по снимку журнала
// бронирований. Пакет не изменяет данные и безопасен для параллельных вызовов.
package report

import (
	"sort"
	"strings"

	"github.com/mmeshcher/canteen-system/internal/model"
)

// EmptySentinel возвращается вместо пикового часа и самой популярной позиции,
// когда отфильтрованный набор бронирований пуст.
const EmptySentinel = "-"

// ComputeMetrics строит показатели по переданному снимку бронирований.
// При равных счётчиках пиковый час и популярная позиция выбираются
// по лексикографически наименьшему значению, чтобы результат был детерминирован.
func ComputeMetrics(reservations []model.Reservation) model.Metrics {
	metrics := model.Metrics{
		PeakHour:               EmptySentinel,
		TopItem:                EmptySentinel,
		StatusDistribution:     map[model.Status]int{},
		DepartmentDistribution: map[string]int{},
		DailyRevenue:           []model.DailyRevenue{},
	}

	if len(reservations) == 0 {
		return metrics
	}

	metrics.TotalReservations = len(reservations)

	hourCounts := map[string]int{}
	itemCounts := map[string]int{}
	dailyRevenue := map[string]int64{}

	for _, r := range reservations {
		metrics.TotalRevenue += r.TotalAmount
		metrics.StatusDistribution[r.Status]++

		department := r.Department
		if department == "" {
			department = "Unknown"
		}
		metrics.DepartmentDistribution[department]++

		if hour, _, found := strings.Cut(r.Time, ":"); found {
			hourCounts[hour]++
		}

		for _, l := range r.Lines {
			itemCounts[l.NameSnapshot] += l.Quantity
		}

		dailyRevenue[r.Date] += r.TotalAmount
	}

	metrics.AverageOrderValue = metrics.TotalRevenue / int64(len(reservations))

	if hour := topKey(hourCounts); hour != "" {
		metrics.PeakHour = hour + ":00"
	}
	if item := topKey(itemCounts); item != "" {
		metrics.TopItem = item
	}

	for date, amount := range dailyRevenue {
		metrics.DailyRevenue = append(metrics.DailyRevenue, model.DailyRevenue{
			Date:   date,
			Amount: amount,
		})
	}
	sort.Slice(metrics.DailyRevenue, func(i, j int) bool {
		return metrics.DailyRevenue[i].Date < metrics.DailyRevenue[j].Date
	})

	return metrics
}

// topKey возвращает ключ с наибольшим счётчиком; при равенстве побеждает
// лексикографически наименьший ключ.
func topKey(counts map[string]int) string {
	var best string
	bestCount := -1

	for k, c := range counts {
		if c > bestCount || (c == bestCount && k < best) {
			best = k
			bestCount = c
		}
	}

	return best
}
