package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// WithTx 在事务中执行 fn，fn 返回错误或 panic 时回滚。
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, rbErr)
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("提交事务失败: %w", commitErr)
		}
	}()
	return fn(tx)
}

// EscapeLike 转义 LIKE 通配符，配合 `ESCAPE '\'` 使用。
func EscapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
