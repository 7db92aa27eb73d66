package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/canteen-system/internal/model"
)

// defaultMenu — стартовое меню для локального запуска без наполненного каталога.
var defaultMenu = []model.MenuItem{
	{Name: "Chicken Biryani", Price: 120, Category: model.CategoryMainCourse, Available: true},
	{Name: "Beef Curry", Price: 100, Category: model.CategoryMainCourse, Available: true},
	{Name: "Fish Fry", Price: 80, Category: model.CategoryMainCourse, Available: true},
	{Name: "Vegetable Curry", Price: 60, Category: model.CategoryMainCourse, Available: true},
	{Name: "Dal", Price: 40, Category: model.CategorySideDish, Available: true},
	{Name: "Rice", Price: 30, Category: model.CategorySideDish, Available: true},
	{Name: "Naan", Price: 20, Category: model.CategorySideDish, Available: true},
	{Name: "Salad", Price: 25, Category: model.CategorySideDish, Available: true},
	{Name: "Tea", Price: 15, Category: model.CategoryBeverage, Available: true},
	{Name: "Coffee", Price: 25, Category: model.CategoryBeverage, Available: true},
	{Name: "Borhani", Price: 30, Category: model.CategoryBeverage, Available: true},
	{Name: "Gulab Jamun", Price: 40, Category: model.CategoryDessert, Available: true},
}

// SeedTodayMenu наполняет сегодняшнее меню стартовыми позициями,
// если каталог на сегодня пуст. Иначе ничего не делает.
func (s *Service) SeedTodayMenu(ctx context.Context) error {
	today := s.today()

	existing, err := s.repo.GetMenuItems(ctx, today)
	if err != nil {
		return fmt.Errorf("check today menu: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	for _, it := range defaultMenu {
		it.MenuDate = today
		if _, err := s.repo.UpsertMenuItem(ctx, it); err != nil {
			return fmt.Errorf("seed menu item %q: %w", it.Name, err)
		}
	}

	return nil
}
