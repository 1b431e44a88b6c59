// Package migrations embeds the SQL migrations of the dispatch job store, one
// directory per database dialect.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sqlite/*.sql mysql/*.sql
var files embed.FS

// Namespace 是任务表迁移在 schema_migrations 中的命名空间。
const Namespace = "dispatch"

// SQLite 返回 SQLite 方言的迁移文件。
func SQLite() fs.FS {
	return sub("sqlite")
}

// MySQL 返回 MySQL 方言的迁移文件。
func MySQL() fs.FS {
	return sub("mysql")
}

func sub(dir string) fs.FS {
	fsys, err := fs.Sub(files, dir)
	if err != nil {
		panic(err)
	}
	return fsys
}
