package dispatch

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"Kurashi-Agents/deploy/migrations"
	xerrors "Kurashi-Agents/internal/errors"
	"Kurashi-Agents/internal/storage"
	mysqlstore "Kurashi-Agents/internal/storage/mysql"
	sqlitestore "Kurashi-Agents/internal/storage/sqlite"
)

// dialect 描述 SQLite 与 MySQL 之间的差异。
type dialect struct {
	name        string
	isDuplicate func(error) bool
	likeEscape  string
}

var (
	sqliteDialect = dialect{name: "sqlite", isDuplicate: sqlitestore.IsUniqueViolation, likeEscape: `ESCAPE '\'`}
	mysqlDialect  = dialect{name: "mysql", isDuplicate: mysqlstore.IsDuplicate, likeEscape: `ESCAPE '\\'`}
)

// SQLStore 使用关系型数据库记录任务状态。连接由调用方管理，Close 不会关闭它。
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLiteStore 执行迁移并创建基于 SQLite 的任务存储。
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	if err := storage.Migrate(ctx, db, migrations.Namespace, migrations.SQLite()); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 jobs 表失败")
	}
	return &SQLStore{db: db, dialect: sqliteDialect}, nil
}

// NewMySQLStore 执行迁移并创建基于 MySQL 的任务存储。
func NewMySQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	if err := storage.Migrate(ctx, db, migrations.Namespace, migrations.MySQL()); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 jobs 表失败")
	}
	return &SQLStore{db: db, dialect: mysqlDialect}, nil
}

const jobColumns = `id, source, user_id, channel_id, message_text, status, attempts, max_retries,
        agent, action, reply, rejected, last_error, error_code, received_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	if err := row.Scan(
		&job.ID,
		&job.Source,
		&job.UserID,
		&job.ChannelID,
		&job.Text,
		&job.Status,
		&job.Attempts,
		&job.MaxRetries,
		&job.Agent,
		&job.Action,
		&job.Reply,
		&job.Rejected,
		&job.LastError,
		&job.ErrorCode,
		&job.ReceivedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

// Create 插入新的任务记录。
func (s *SQLStore) Create(ctx context.Context, job *Job) error {
	if err := validateNewJob(job); err != nil {
		return err
	}

	now := time.Now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	const stmt = `INSERT INTO jobs
        (id, source, user_id, channel_id, message_text, status, attempts, max_retries,
         agent, action, reply, rejected, last_error, error_code, received_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', '', 0, '', '', ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		job.ID,
		job.Source,
		job.UserID,
		job.ChannelID,
		job.Text,
		job.Status,
		job.Attempts,
		job.MaxRetries,
		job.ReceivedAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if s.dialect.isDuplicate(err) {
			return ErrJobConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return job, nil
}

// Claim 将任务标记为运行中并返回最新状态。
func (s *SQLStore) Claim(ctx context.Context, id string) (*Job, error) {
	const stmt = `UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ?
        WHERE id = ? AND status = ? AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, stmt, StatusRunning, time.Now().Unix(), id, StatusPending)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}

	job, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if affected > 0 {
		return job, nil
	}
	switch job.Status {
	case StatusSucceeded, StatusFailed:
		return job, ErrJobCompleted
	case StatusRunning:
		return job, ErrJobConflict
	default:
		if job.Attempts >= job.MaxRetries {
			return job, ErrJobExhausted
		}
		return job, ErrJobConflict
	}
}

// MarkSucceeded 将任务标记为成功。
func (s *SQLStore) MarkSucceeded(ctx context.Context, id string, outcome Outcome) error {
	const stmt = `UPDATE jobs SET status = ?, agent = ?, action = ?, reply = ?, rejected = ?,
        last_error = '', error_code = '', updated_at = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		StatusSucceeded,
		outcome.Agent,
		outcome.Action,
		outcome.Reply,
		outcome.Rejected,
		time.Now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkFailed 记录失败；非终止失败将任务放回 pending。
func (s *SQLStore) MarkFailed(ctx context.Context, id string, failure Failure) error {
	var (
		res sql.Result
		err error
		now = time.Now().Unix()
	)
	if failure.Terminal {
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, reply = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`,
			StatusFailed, failure.Reply, failure.Error, string(failure.Code), now, id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`,
			StatusPending, failure.Error, string(failure.Code), now, id)
	}
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// List 返回符合条件的任务。
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()

	query := `SELECT ` + jobColumns + ` FROM jobs`
	clause, args := s.buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	jobs := make([]*Job, 0, opts.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return jobs, nil
}

// Stats 返回符合过滤条件的任务聚合信息。
func (s *SQLStore) Stats(ctx context.Context, opts ListOptions) (JobStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN rejected = 1 THEN 1 ELSE 0 END), 0),
        COALESCE(MIN(updated_at), 0),
        COALESCE(MAX(updated_at), 0)
        FROM jobs`

	clause, filterArgs := s.buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats JobStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.Rejected,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return JobStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	return stats, nil
}

// Close 实现 Store 接口。
func (s *SQLStore) Close() error {
	return nil
}

func (s *SQLStore) buildFilterClause(opts ListOptions) (string, []any) {
	var (
		conditions []string
		args       []any
	)

	if len(opts.Statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(opts.Statuses)), ",")
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", placeholders))
		for _, status := range opts.Statuses {
			args = append(args, string(status))
		}
	}
	for column, value := range map[string]string{"source": opts.Source, "user_id": opts.UserID, "agent": opts.Agent} {
		if value != "" {
			conditions = append(conditions, column+" = ?")
			args = append(args, value)
		}
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.Rejected != nil {
		conditions = append(conditions, "rejected = ?")
		args = append(args, *opts.Rejected)
	}
	if opts.Query != "" {
		pattern := "%" + storage.EscapeLike(opts.Query) + "%"
		like := "LIKE ? " + s.dialect.likeEscape
		conditions = append(conditions, fmt.Sprintf("(message_text %s OR reply %s OR last_error %s)", like, like, like))
		args = append(args, pattern, pattern, pattern)
	}

	return strings.Join(conditions, " AND "), args
}

var _ Store = (*SQLStore)(nil)
