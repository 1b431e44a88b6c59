package generic

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Record 是数据驱动表中的一行，Fields 以字符串保存各列的值（NULL 不出现）。
type Record struct {
	ID        int64
	Fields    map[string]string
	CreatedAt int64
	UpdatedAt int64
}

func sqlType(t ColumnType) string {
	switch t {
	case TypeInt:
		return "INTEGER"
	case TypeReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

func quote(ident string) string {
	return `"` + ident + `"`
}

// EnsureTable 创建数据表，并为定义中新增的列执行 ALTER TABLE ADD COLUMN。
//
// 已存在但定义中删除的列保持不动。
func EnsureTable(ctx context.Context, db *sql.DB, def Definition) error {
	columns := []string{
		"id INTEGER PRIMARY KEY AUTOINCREMENT",
		"user_id TEXT NOT NULL",
	}
	for _, col := range def.Columns {
		columns = append(columns, quote(col.Name)+" "+sqlType(col.Type)+" NULL")
	}
	columns = append(columns, "created_at INTEGER NOT NULL", "updated_at INTEGER NOT NULL")

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", quote(def.Table), strings.Join(columns, ",\n    "))
	if _, err := db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("创建数据表 %s 失败: %w", def.Table, err)
	}
	index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (user_id, id)", quote("idx_"+def.Table+"_user"), quote(def.Table))
	if _, err := db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("创建索引失败: %w", err)
	}

	existing, err := tableColumns(ctx, db, def.Table)
	if err != nil {
		return err
	}
	for _, col := range def.Columns {
		if _, ok := existing[col.Name]; ok {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s NULL", quote(def.Table), quote(col.Name), sqlType(col.Type))
		if _, err := db.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("为 %s 添加列 %s 失败: %w", def.Table, col.Name, err)
		}
	}
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("读取表结构失败: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("解析表结构失败: %w", err)
		}
		columns[name] = struct{}{}
	}
	return columns, rows.Err()
}

// Store 负责单个定义对应数据表的读写。
type Store struct {
	db  *sql.DB
	def Definition
}

// NewStore 创建存储。
func NewStore(db *sql.DB, def Definition) *Store {
	return &Store{db: db, def: def}
}

// Insert 写入一行，values 的键必须是定义中的列。
func (s *Store) Insert(ctx context.Context, userID string, values map[string]any, now int64) (int64, error) {
	names := []string{"user_id"}
	args := []any{userID}
	for _, col := range s.def.Columns {
		value, ok := values[col.Name]
		if !ok {
			continue
		}
		names = append(names, quote(col.Name))
		args = append(args, value)
	}
	names = append(names, "created_at", "updated_at")
	args = append(args, now, now)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(s.def.Table), strings.Join(names, ", "), placeholders)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("写入 %s 失败: %w", s.def.Table, err)
	}
	return res.LastInsertId()
}

// Update 更新用户自己的一行，返回是否存在。
func (s *Store) Update(ctx context.Context, userID string, id int64, values map[string]any, now int64) (bool, error) {
	var (
		sets []string
		args []any
	)
	for _, col := range s.def.Columns {
		value, ok := values[col.Name]
		if !ok {
			continue
		}
		sets = append(sets, quote(col.Name)+" = ?")
		args = append(args, value)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, now, id, userID)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND user_id = ?", quote(s.def.Table), strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("更新 %s 失败: %w", s.def.Table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Delete 删除用户自己的一行。
func (s *Store) Delete(ctx context.Context, userID string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ? AND user_id = ?", quote(s.def.Table)), id, userID)
	if err != nil {
		return false, fmt.Errorf("删除 %s 失败: %w", s.def.Table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) selectColumns() string {
	names := []string{"id"}
	for _, col := range s.def.Columns {
		names = append(names, quote(col.Name))
	}
	names = append(names, "created_at", "updated_at")
	return strings.Join(names, ", ")
}

// Get 返回用户自己的一行；不存在时返回 nil。
func (s *Store) Get(ctx context.Context, userID string, id int64) (*Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ? AND user_id = ?", s.selectColumns(), quote(s.def.Table))
	records, err := s.query(ctx, query, id, userID)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

// Recent 返回最新的 limit 行，最新的在前。
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE user_id = ? ORDER BY id DESC LIMIT ?", s.selectColumns(), quote(s.def.Table))
	return s.query(ctx, query, userID, limit)
}

// Count 返回用户的总行数。
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE user_id = ?", quote(s.def.Table)), userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("统计 %s 失败: %w", s.def.Table, err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询 %s 失败: %w", s.def.Table, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record := Record{Fields: make(map[string]string, len(s.def.Columns))}
		values := make([]sql.NullString, len(s.def.Columns))
		dest := []any{&record.ID}
		for i := range values {
			dest = append(dest, &values[i])
		}
		dest = append(dest, &record.CreatedAt, &record.UpdatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("解析 %s 失败: %w", s.def.Table, err)
		}
		for i, col := range s.def.Columns {
			if values[i].Valid {
				record.Fields[col.Name] = values[i].String
			}
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
