package diet

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"Kurashi-Agents/internal/intent"
	"Kurashi-Agents/internal/storage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate 执行饮食智能体的表结构迁移。
func Migrate(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	return storage.Migrate(ctx, db, Name, sub)
}

// Meal 是一条饮食记录。
type Meal struct {
	ID          int64
	UserID      string
	EatenOn     time.Time
	MealType    string
	Description string
	Calories    sql.NullInt64
	CreatedAt   int64
}

// Weight 是一条体重记录。
type Weight struct {
	ID         int64
	UserID     string
	MeasuredOn time.Time
	WeightKg   float64
	CreatedAt  int64
}

// MealTotal 是某一餐别的汇总。
type MealTotal struct {
	MealType string
	Count    int
	Calories int64
	Unknown  int
}

// Store 封装饮食数据的读写。
type Store struct {
	db  *sql.DB
	loc *time.Location
}

// NewStore 创建存储。
func NewStore(db *sql.DB, loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{db: db, loc: loc}
}

// AddMeal 写入一条饮食记录并返回自增 ID。
func (s *Store) AddMeal(ctx context.Context, meal Meal) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO meals (user_id, eaten_on, meal_type, description, calories, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		meal.UserID, intent.FormatDate(meal.EatenOn), meal.MealType, meal.Description, meal.Calories, meal.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("写入饮食记录失败: %w", err)
	}
	return res.LastInsertId()
}

// DeleteMeal 删除用户自己的记录，返回是否存在。
func (s *Store) DeleteMeal(ctx context.Context, userID string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM meals WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("删除饮食记录失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListMeals 返回区间内的饮食记录，按日期与 ID 升序。
func (s *Store) ListMeals(ctx context.Context, userID string, period intent.Period) ([]Meal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, eaten_on, meal_type, description, calories, created_at
         FROM meals WHERE user_id = ? AND eaten_on >= ? AND eaten_on < ?
         ORDER BY eaten_on ASC, id ASC`,
		userID, intent.FormatDate(period.Start), intent.FormatDate(period.End),
	)
	if err != nil {
		return nil, fmt.Errorf("查询饮食记录失败: %w", err)
	}
	defer rows.Close()

	var meals []Meal
	for rows.Next() {
		var (
			meal    Meal
			eatenOn string
		)
		if err := rows.Scan(&meal.ID, &meal.UserID, &eatenOn, &meal.MealType, &meal.Description, &meal.Calories, &meal.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析饮食记录失败: %w", err)
		}
		if meal.EatenOn, err = intent.ParseStoredDate(eatenOn, s.loc); err != nil {
			return nil, fmt.Errorf("解析日期 %q 失败: %w", eatenOn, err)
		}
		meals = append(meals, meal)
	}
	return meals, rows.Err()
}

// Totals 按餐别汇总区间内的热量。
func (s *Store) Totals(ctx context.Context, userID string, period intent.Period) ([]MealTotal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT meal_type, COUNT(*), COALESCE(SUM(calories), 0), SUM(CASE WHEN calories IS NULL THEN 1 ELSE 0 END)
         FROM meals WHERE user_id = ? AND eaten_on >= ? AND eaten_on < ?
         GROUP BY meal_type`,
		userID, intent.FormatDate(period.Start), intent.FormatDate(period.End),
	)
	if err != nil {
		return nil, fmt.Errorf("汇总饮食记录失败: %w", err)
	}
	defer rows.Close()

	var totals []MealTotal
	for rows.Next() {
		var total MealTotal
		if err := rows.Scan(&total.MealType, &total.Count, &total.Calories, &total.Unknown); err != nil {
			return nil, fmt.Errorf("解析汇总结果失败: %w", err)
		}
		totals = append(totals, total)
	}
	return totals, rows.Err()
}

// SaveWeight 写入或覆盖当天的体重，返回此前最近一次（早于该日）的记录。
func (s *Store) SaveWeight(ctx context.Context, weight Weight) (*Weight, error) {
	var previous *Weight
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var (
			prev       Weight
			measuredOn string
		)
		err := tx.QueryRowContext(ctx,
			`SELECT id, user_id, measured_on, weight_kg, created_at FROM weights
             WHERE user_id = ? AND measured_on < ? ORDER BY measured_on DESC LIMIT 1`,
			weight.UserID, intent.FormatDate(weight.MeasuredOn),
		).Scan(&prev.ID, &prev.UserID, &measuredOn, &prev.WeightKg, &prev.CreatedAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("查询上次体重失败: %w", err)
		default:
			if prev.MeasuredOn, err = intent.ParseStoredDate(measuredOn, s.loc); err != nil {
				return err
			}
			previous = &prev
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO weights (user_id, measured_on, weight_kg, created_at) VALUES (?, ?, ?, ?)
             ON CONFLICT (user_id, measured_on) DO UPDATE SET weight_kg = excluded.weight_kg, created_at = excluded.created_at`,
			weight.UserID, intent.FormatDate(weight.MeasuredOn), weight.WeightKg, weight.CreatedAt,
		); err != nil {
			return fmt.Errorf("写入体重失败: %w", err)
		}
		return nil
	})
	return previous, err
}

// RecentWeights 返回最近 limit 条体重记录，按日期升序。
func (s *Store) RecentWeights(ctx context.Context, userID string, limit int) ([]Weight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, measured_on, weight_kg, created_at FROM (
             SELECT id, user_id, measured_on, weight_kg, created_at FROM weights
             WHERE user_id = ? ORDER BY measured_on DESC LIMIT ?
         ) ORDER BY measured_on ASC`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("查询体重记录失败: %w", err)
	}
	defer rows.Close()

	var weights []Weight
	for rows.Next() {
		var (
			w          Weight
			measuredOn string
		)
		if err := rows.Scan(&w.ID, &w.UserID, &measuredOn, &w.WeightKg, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析体重记录失败: %w", err)
		}
		if w.MeasuredOn, err = intent.ParseStoredDate(measuredOn, s.loc); err != nil {
			return nil, err
		}
		weights = append(weights, w)
	}
	return weights, rows.Err()
}
