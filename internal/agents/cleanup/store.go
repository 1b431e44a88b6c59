package cleanup

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

// Migrate 执行清扫智能体的表结构迁移。
func Migrate(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	return storage.Migrate(ctx, db, Name, sub)
}

// Cleaning 是一次清扫记录。
type Cleaning struct {
	ID        int64
	UserID    string
	Area      string
	DoneOn    time.Time
	Minutes   sql.NullInt64
	Note      string
	CreatedAt int64
}

// AreaState 汇总某个区域的间隔设置与最近一次清扫。
type AreaState struct {
	Area         string
	IntervalDays int
	Configured   bool
	LastDone     time.Time
	HasLast      bool
}

// Store 封装清扫数据的读写。
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

// SetInterval 设置区域的清扫间隔。
func (s *Store) SetInterval(ctx context.Context, userID, area string, days int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO areas (user_id, area, interval_days) VALUES (?, ?, ?)
         ON CONFLICT (user_id, area) DO UPDATE SET interval_days = excluded.interval_days`,
		userID, area, days,
	)
	if err != nil {
		return fmt.Errorf("保存清扫间隔失败: %w", err)
	}
	return nil
}

// Interval 返回区域的间隔设置，未设置时返回 defaultDays。
func (s *Store) Interval(ctx context.Context, userID, area string, defaultDays int) (int, error) {
	var days int
	err := s.db.QueryRowContext(ctx,
		`SELECT interval_days FROM areas WHERE user_id = ? AND area = ?`, userID, area,
	).Scan(&days)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultDays, nil
	}
	if err != nil {
		return 0, fmt.Errorf("查询清扫间隔失败: %w", err)
	}
	return days, nil
}

// AddCleaning 写入清扫记录。
func (s *Store) AddCleaning(ctx context.Context, c Cleaning) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO cleanings (user_id, area, done_on, minutes, note, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.UserID, c.Area, intent.FormatDate(c.DoneOn), c.Minutes, c.Note, c.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("写入清扫记录失败: %w", err)
	}
	return res.LastInsertId()
}

// DeleteCleaning 删除用户自己的记录。
func (s *Store) DeleteCleaning(ctx context.Context, userID string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cleanings WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("删除清扫记录失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListCleanings 返回区间内的清扫记录；area 为空表示全部区域。
func (s *Store) ListCleanings(ctx context.Context, userID, area string, period intent.Period) ([]Cleaning, error) {
	query := `SELECT id, user_id, area, done_on, minutes, note, created_at FROM cleanings
         WHERE user_id = ? AND done_on >= ? AND done_on < ?`
	args := []any{userID, intent.FormatDate(period.Start), intent.FormatDate(period.End)}
	if area != "" {
		query += ` AND area = ?`
		args = append(args, area)
	}
	query += ` ORDER BY done_on ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询清扫记录失败: %w", err)
	}
	defer rows.Close()

	var cleanings []Cleaning
	for rows.Next() {
		var (
			c      Cleaning
			doneOn string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Area, &doneOn, &c.Minutes, &c.Note, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析清扫记录失败: %w", err)
		}
		if c.DoneOn, err = intent.ParseStoredDate(doneOn, s.loc); err != nil {
			return nil, err
		}
		cleanings = append(cleanings, c)
	}
	return cleanings, rows.Err()
}

// States 返回用户设置过间隔或清扫过的所有区域。
func (s *Store) States(ctx context.Context, userID string, defaultDays int) ([]AreaState, error) {
	states := make(map[string]*AreaState)

	rows, err := s.db.QueryContext(ctx, `SELECT area, interval_days FROM areas WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("查询清扫间隔失败: %w", err)
	}
	for rows.Next() {
		state := &AreaState{Configured: true}
		if err := rows.Scan(&state.Area, &state.IntervalDays); err != nil {
			rows.Close()
			return nil, fmt.Errorf("解析清扫间隔失败: %w", err)
		}
		states[state.Area] = state
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT area, MAX(done_on) FROM cleanings WHERE user_id = ? GROUP BY area`, userID)
	if err != nil {
		return nil, fmt.Errorf("查询最近清扫失败: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var area, last string
		if err := rows.Scan(&area, &last); err != nil {
			return nil, fmt.Errorf("解析最近清扫失败: %w", err)
		}
		state, ok := states[area]
		if !ok {
			state = &AreaState{Area: area, IntervalDays: defaultDays}
			states[area] = state
		}
		if state.LastDone, err = intent.ParseStoredDate(last, s.loc); err != nil {
			return nil, err
		}
		state.HasLast = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]AreaState, 0, len(states))
	for _, state := range states {
		result = append(result, *state)
	}
	return result, nil
}
