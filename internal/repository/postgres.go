// Package repository содержит реализации хранилища данных сервиса столовой.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/canteen-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrMenuItemNotFound возвращается, если позиция меню не найдена.
var (
	ErrMenuItemNotFound = errors.New("menu item not found")
	// ErrReservationNotFound возвращается, если бронирование не найдено.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrVersionConflict возвращается при несовпадении версии записи
	// (параллельное изменение той же брони другим сотрудником).
	ErrVersionConflict = errors.New("reservation version conflict")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при сбоях сериализации и дедлоках.
// Остальные ошибки возвращаются сразу.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) &&
			(pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected) {
			return retry.RetryableError(err)
		}

		return err
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetMenuItems возвращает все позиции меню на указанную дату.
// Отсутствие позиций не является ошибкой: возвращается пустой список.
func (r *PostgresRepository) GetMenuItems(ctx context.Context, date string) ([]model.MenuItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, menu_date, name, price, category, available
		 FROM menu_items
		 WHERE menu_date = $1
		 ORDER BY id`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("select menu items: %w", err)
	}
	defer rows.Close()

	items := []model.MenuItem{}
	for rows.Next() {
		var it model.MenuItem
		var category string
		if err := rows.Scan(&it.ID, &it.MenuDate, &it.Name, &it.Price, &category, &it.Available); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		it.Category = model.Category(category)
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// UpsertMenuItem создаёт позицию меню или заменяет поля существующей.
func (r *PostgresRepository) UpsertMenuItem(ctx context.Context, item model.MenuItem) (model.MenuItem, error) {
	if item.ID == 0 {
		err := r.pool.QueryRow(ctx,
			`INSERT INTO menu_items (menu_date, name, price, category, available)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id`,
			item.MenuDate, item.Name, item.Price, string(item.Category), item.Available,
		).Scan(&item.ID)
		if err != nil {
			return model.MenuItem{}, fmt.Errorf("insert menu item: %w", err)
		}
		return item, nil
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO menu_items (id, menu_date, name, price, category, available)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET menu_date = EXCLUDED.menu_date,
		     name = EXCLUDED.name,
		     price = EXCLUDED.price,
		     category = EXCLUDED.category,
		     available = EXCLUDED.available`,
		item.ID, item.MenuDate, item.Name, item.Price, string(item.Category), item.Available,
	)
	if err != nil {
		return model.MenuItem{}, fmt.Errorf("upsert menu item: %w", err)
	}

	// Вставка с явным id не двигает последовательность; выравниваем её,
	// чтобы следующая вставка без id не получила уже занятый идентификатор.
	_, err = r.pool.Exec(ctx,
		`SELECT setval(pg_get_serial_sequence('menu_items', 'id'),
		        GREATEST((SELECT MAX(id) FROM menu_items), 1))`,
	)
	if err != nil {
		return model.MenuItem{}, fmt.Errorf("sync menu items sequence: %w", err)
	}

	return item, nil
}

// SetMenuItemAvailability выставляет признак доступности позиции. Идемпотентна.
func (r *PostgresRepository) SetMenuItemAvailability(ctx context.Context, id int64, available bool) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE menu_items SET available = $2 WHERE id = $1`,
		id, available,
	)
	if err != nil {
		return fmt.Errorf("update availability: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrMenuItemNotFound, id)
	}

	return nil
}

// DeleteMenuItem удаляет позицию меню. Снимки в существующих бронированиях
// хранятся отдельно и не затрагиваются.
func (r *PostgresRepository) DeleteMenuItem(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM menu_items WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("delete menu item: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrMenuItemNotFound, id)
	}

	return nil
}

// CreateReservation сохраняет бронирование вместе со снимками позиций
// и возвращает запись с присвоенным идентификатором.
func (r *PostgresRepository) CreateReservation(ctx context.Context, res model.Reservation) (model.Reservation, error) {
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = tx.QueryRow(ctx,
			`INSERT INTO reservations
			 (user_email, user_name, department, guest_count, guest_names,
			  res_date, res_time, total_amount, status, past_cutoff)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING id, version, created_at`,
			res.UserEmail, res.UserName, res.Department, res.GuestCount, res.GuestNames,
			res.Date, res.Time, res.TotalAmount, string(res.Status), res.IsPastCutoff,
		).Scan(&res.ID, &res.Version, &res.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}

		for _, l := range res.Lines {
			_, err = tx.Exec(ctx,
				`INSERT INTO reservation_lines (reservation_id, menu_item_id, name, price, quantity)
				 VALUES ($1, $2, $3, $4, $5)`,
				res.ID, l.MenuItemID, l.NameSnapshot, l.PriceSnapshot, l.Quantity,
			)
			if err != nil {
				return fmt.Errorf("insert reservation line: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return model.Reservation{}, err
	}

	return res, nil
}

// GetReservation возвращает бронирование по идентификатору.
func (r *PostgresRepository) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	res, err := r.queryReservations(ctx,
		`SELECT id, user_email, user_name, department, guest_count, guest_names,
		        res_date, res_time, total_amount, status, past_cutoff, version, created_at
		 FROM reservations
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrReservationNotFound, id)
	}

	return &res[0], nil
}

// UpdateReservationStatus переводит бронирование в новый статус с оптимистичной
// проверкой версии. При несовпадении версии возвращает ErrVersionConflict.
func (r *PostgresRepository) UpdateReservationStatus(ctx context.Context, id int64, status model.Status, version int64) (*model.Reservation, error) {
	var updated *model.Reservation

	err := r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE reservations
			 SET status = $2, version = version + 1
			 WHERE id = $1 AND version = $3`,
			id, string(status), version,
		)
		if err != nil {
			return fmt.Errorf("update reservation status: %w", err)
		}

		if cmdTag.RowsAffected() == 0 {
			var exists int
			err = r.pool.QueryRow(ctx, `SELECT 1 FROM reservations WHERE id = $1`, id).Scan(&exists)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %d", ErrReservationNotFound, id)
			}
			if err != nil {
				return fmt.Errorf("check reservation: %w", err)
			}
			return fmt.Errorf("%w: %d", ErrVersionConflict, id)
		}

		updated, err = r.GetReservation(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// GetReservationsByUser возвращает бронирования пользователя в порядке создания.
func (r *PostgresRepository) GetReservationsByUser(ctx context.Context, email string) ([]model.Reservation, error) {
	return r.queryReservations(ctx,
		`SELECT id, user_email, user_name, department, guest_count, guest_names,
		        res_date, res_time, total_amount, status, past_cutoff, version, created_at
		 FROM reservations
		 WHERE user_email = $1
		 ORDER BY id`,
		email,
	)
}

// GetReservationsByDateRange возвращает бронирования в диапазоне дат,
// включительно с обеих сторон.
func (r *PostgresRepository) GetReservationsByDateRange(ctx context.Context, start, end string) ([]model.Reservation, error) {
	return r.queryReservations(ctx,
		`SELECT id, user_email, user_name, department, guest_count, guest_names,
		        res_date, res_time, total_amount, status, past_cutoff, version, created_at
		 FROM reservations
		 WHERE res_date >= $1 AND res_date <= $2
		 ORDER BY id`,
		start, end,
	)
}

// GetAllReservations возвращает полный снимок журнала бронирований.
func (r *PostgresRepository) GetAllReservations(ctx context.Context) ([]model.Reservation, error) {
	return r.queryReservations(ctx,
		`SELECT id, user_email, user_name, department, guest_count, guest_names,
		        res_date, res_time, total_amount, status, past_cutoff, version, created_at
		 FROM reservations
		 ORDER BY id`,
	)
}

func (r *PostgresRepository) queryReservations(ctx context.Context, query string, args ...any) ([]model.Reservation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select reservations: %w", err)
	}
	defer rows.Close()

	var res []model.Reservation
	ids := []int64{}
	for rows.Next() {
		var rv model.Reservation
		var status string
		if err := rows.Scan(
			&rv.ID, &rv.UserEmail, &rv.UserName, &rv.Department, &rv.GuestCount, &rv.GuestNames,
			&rv.Date, &rv.Time, &rv.TotalAmount, &status, &rv.IsPastCutoff, &rv.Version, &rv.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		rv.Status = model.Status(status)
		res = append(res, rv)
		ids = append(ids, rv.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(res) == 0 {
		return res, nil
	}

	lines, err := r.queryLines(ctx, ids)
	if err != nil {
		return nil, err
	}

	for i := range res {
		res[i].Lines = lines[res[i].ID]
	}

	return res, nil
}

func (r *PostgresRepository) queryLines(ctx context.Context, ids []int64) (map[int64][]model.OrderLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT reservation_id, menu_item_id, name, price, quantity
		 FROM reservation_lines
		 WHERE reservation_id = ANY($1)
		 ORDER BY id`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select reservation lines: %w", err)
	}
	defer rows.Close()

	lines := make(map[int64][]model.OrderLine, len(ids))
	for rows.Next() {
		var resID int64
		var l model.OrderLine
		if err := rows.Scan(&resID, &l.MenuItemID, &l.NameSnapshot, &l.PriceSnapshot, &l.Quantity); err != nil {
			return nil, fmt.Errorf("scan reservation line: %w", err)
		}
		lines[resID] = append(lines[resID], l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

// GetPermissionOverrides возвращает персональные переопределения разрешений пользователя.
func (r *PostgresRepository) GetPermissionOverrides(ctx context.Context, email string) (map[model.Capability]bool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT capability, allowed FROM permission_overrides WHERE user_email = $1`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("select permission overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[model.Capability]bool)
	for rows.Next() {
		var capability string
		var allowed bool
		if err := rows.Scan(&capability, &allowed); err != nil {
			return nil, fmt.Errorf("scan permission override: %w", err)
		}
		overrides[model.Capability(capability)] = allowed
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return overrides, nil
}

// SetPermissionOverrides заменяет набор переопределений пользователя целиком.
func (r *PostgresRepository) SetPermissionOverrides(ctx context.Context, email string, overrides map[model.Capability]bool) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx, `DELETE FROM permission_overrides WHERE user_email = $1`, email)
		if err != nil {
			return fmt.Errorf("delete permission overrides: %w", err)
		}

		for c, allowed := range overrides {
			_, err = tx.Exec(ctx,
				`INSERT INTO permission_overrides (user_email, capability, allowed) VALUES ($1, $2, $3)`,
				email, string(c), allowed,
			)
			if err != nil {
				return fmt.Errorf("insert permission override: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}
