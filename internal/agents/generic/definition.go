// Package generic turns YAML agent definitions into working CRUD agents: each
// definition names a table and its typed columns, and the agent accepts
// add/list/show/update/delete commands with key=value arguments. Definitions
// can be reloaded at runtime without restarting the service.
package generic

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "Kurashi-Agents/internal/errors"
)

// ColumnType 是列的取值类型。
type ColumnType string

const (
	TypeText ColumnType = "text"
	TypeInt  ColumnType = "int"
	TypeReal ColumnType = "real"
	TypeDate ColumnType = "date"
)

var identifier = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

var (
	reservedColumns = map[string]struct{}{
		"id": {}, "user_id": {}, "created_at": {}, "updated_at": {},
	}
	reservedTables = map[string]struct{}{
		"meals": {}, "weights": {}, "areas": {}, "cleanings": {}, "entries": {},
		"jobs": {}, "schema_migrations": {}, "sqlite_master": {}, "sqlite_sequence": {},
	}
)

// Column 描述一列。
type Column struct {
	Name     string     `yaml:"name"`
	Label    string     `yaml:"label"`
	Type     ColumnType `yaml:"type"`
	Required bool       `yaml:"required"`
	// Min/Max 对 int/real 约束取值，对 text 约束字符数。
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`
}

// DisplayName 返回列的展示名。
func (c Column) DisplayName() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Name
}

// Definition 描述一个数据驱动的智能体。
type Definition struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Aliases     []string `yaml:"aliases"`
	Table       string   `yaml:"table"`
	Columns     []Column `yaml:"columns"`
}

// Column 按名称查找列。
func (d Definition) Column(name string) (Column, bool) {
	for _, col := range d.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// TextColumn 返回接收无键文本的列：优先第一个必填文本列，其次第一个文本列。
func (d Definition) TextColumn() (Column, bool) {
	var fallback *Column
	for i, col := range d.Columns {
		if col.Type != TypeText {
			continue
		}
		if col.Required {
			return col, true
		}
		if fallback == nil {
			fallback = &d.Columns[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Column{}, false
}

type file struct {
	Agents []Definition `yaml:"agents"`
}

// LoadDefinitions 读取并校验定义文件。
func LoadDefinitions(path string) ([]Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取智能体定义失败",
			xerrors.WithMetadata("path", path))
	}
	return ParseDefinitions(content)
}

// ParseDefinitions 解析 YAML 定义。
func ParseDefinitions(content []byte) ([]Definition, error) {
	var f file
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析智能体定义失败")
	}

	names := make(map[string]struct{})
	tables := make(map[string]struct{})
	for i := range f.Agents {
		def := &f.Agents[i]
		def.Name = strings.TrimSpace(def.Name)
		if def.Table == "" {
			def.Table = def.Name
		}
		for j := range def.Columns {
			if def.Columns[j].Type == "" {
				def.Columns[j].Type = TypeText
			}
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := names[def.Name]; dup {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("智能体 %s 重复定义", def.Name))
		}
		if _, dup := tables[def.Table]; dup {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("数据表 %s 被多个智能体使用", def.Table))
		}
		names[def.Name] = struct{}{}
		tables[def.Table] = struct{}{}
	}
	return f.Agents, nil
}

// Validate 校验标识符、列类型与取值范围。
func (d Definition) Validate() error {
	invalid := func(format string, args ...any) error {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf(format, args...),
			xerrors.WithMetadata("agent", d.Name))
	}
	if !identifier.MatchString(d.Name) {
		return invalid("智能体名称 %q 不合法", d.Name)
	}
	if !identifier.MatchString(d.Table) {
		return invalid("数据表名称 %q 不合法", d.Table)
	}
	if _, reserved := reservedTables[d.Table]; reserved {
		return invalid("数据表名称 %s 为保留名称", d.Table)
	}
	if len(d.Columns) == 0 {
		return invalid("智能体 %s 至少需要一列", d.Name)
	}

	seen := make(map[string]struct{}, len(d.Columns))
	for _, col := range d.Columns {
		if !identifier.MatchString(col.Name) {
			return invalid("列名 %q 不合法", col.Name)
		}
		if _, reserved := reservedColumns[col.Name]; reserved {
			return invalid("列名 %s 为保留名称", col.Name)
		}
		if _, dup := seen[col.Name]; dup {
			return invalid("列 %s 重复", col.Name)
		}
		seen[col.Name] = struct{}{}

		switch col.Type {
		case TypeText, TypeInt, TypeReal, TypeDate:
		default:
			return invalid("列 %s 的类型 %q 不受支持", col.Name, col.Type)
		}
		if col.Min != nil && col.Max != nil && *col.Min > *col.Max {
			return invalid("列 %s 的 min 大于 max", col.Name)
		}
	}
	return nil
}
