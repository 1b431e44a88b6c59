package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"Kurashi-Agents/internal/intent"
	"Kurashi-Agents/internal/storage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate 执行日记智能体的表结构迁移。
func Migrate(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	return storage.Migrate(ctx, db, Name, sub)
}

// Entry 是一篇日记。
type Entry struct {
	ID        int64
	UserID    string
	EntryDate time.Time
	Mood      sql.NullString
	Body      string
	CreatedAt int64
	UpdatedAt int64
}

// MoodCount 是某种心情的出现次数；Mood 为空表示未记录心情。
type MoodCount struct {
	Mood  string
	Count int
}

// Store 封装日记数据的读写。
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

// Add 写入日记。
func (s *Store) Add(ctx context.Context, e Entry) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (user_id, entry_date, mood, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.UserID, intent.FormatDate(e.EntryDate), e.Mood, e.Body, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("写入日记失败: %w", err)
	}
	return res.LastInsertId()
}

// Delete 删除用户自己的日记。
func (s *Store) Delete(ctx context.Context, userID string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("删除日记失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// List 返回区间内的日记，按日期与 ID 升序。
func (s *Store) List(ctx context.Context, userID string, period intent.Period) ([]Entry, error) {
	return s.query(ctx,
		`SELECT id, user_id, entry_date, mood, body, created_at, updated_at FROM entries
         WHERE user_id = ? AND entry_date >= ? AND entry_date < ?
         ORDER BY entry_date ASC, id ASC`,
		userID, intent.FormatDate(period.Start), intent.FormatDate(period.End),
	)
}

// Search 按关键字搜索，最新的在前。
func (s *Store) Search(ctx context.Context, userID, keyword string, limit int) ([]Entry, error) {
	return s.query(ctx,
		`SELECT id, user_id, entry_date, mood, body, created_at, updated_at FROM entries
         WHERE user_id = ? AND body LIKE ? ESCAPE '\'
         ORDER BY entry_date DESC, id DESC LIMIT ?`,
		userID, "%"+storage.EscapeLike(keyword)+"%", limit,
	)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询日记失败: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			date string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &date, &e.Mood, &e.Body, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("解析日记失败: %w", err)
		}
		if e.EntryDate, err = intent.ParseStoredDate(date, s.loc); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MoodCounts 统计区间内各心情的次数。
func (s *Store) MoodCounts(ctx context.Context, userID string, period intent.Period) ([]MoodCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(mood, ''), COUNT(*) FROM entries
         WHERE user_id = ? AND entry_date >= ? AND entry_date < ?
         GROUP BY COALESCE(mood, '')`,
		userID, intent.FormatDate(period.Start), intent.FormatDate(period.End),
	)
	if err != nil {
		return nil, fmt.Errorf("统计心情失败: %w", err)
	}
	defer rows.Close()

	var counts []MoodCount
	for rows.Next() {
		var c MoodCount
		if err := rows.Scan(&c.Mood, &c.Count); err != nil {
			return nil, fmt.Errorf("解析心情统计失败: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
