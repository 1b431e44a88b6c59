package generic

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"Kurashi-Agents/internal/agent"
	"Kurashi-Agents/internal/observability/metrics"
	"Kurashi-Agents/pkg/logger"
)

// Group 是数据驱动智能体在注册表中的分组名。
const Group = "definitions"

// Build 为每个定义建表并创建智能体。
func Build(ctx context.Context, db *sql.DB, defs []Definition, loc *time.Location) ([]agent.Agent, error) {
	agents := make([]agent.Agent, 0, len(defs))
	for _, def := range defs {
		ag, err := New(ctx, db, def, loc)
		if err != nil {
			return nil, err
		}
		agents = append(agents, ag)
	}
	return agents, nil
}

// Loader 从定义文件加载智能体并整体替换注册表中的分组。
type Loader struct {
	path     string
	db       *sql.DB
	loc      *time.Location
	registry *agent.Registry

	mu sync.Mutex
}

// NewLoader 创建加载器。
func NewLoader(path string, db *sql.DB, loc *time.Location, registry *agent.Registry) *Loader {
	return &Loader{path: path, db: db, loc: loc, registry: registry}
}

// Path 返回定义文件路径。
func (l *Loader) Path() string {
	return l.path
}

// Reload 重新读取定义文件。任一步骤失败时保留原有智能体。
func (l *Loader) Reload(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	defs, err := LoadDefinitions(l.path)
	if err != nil {
		return err
	}
	agents, err := Build(ctx, l.db, defs, l.loc)
	if err != nil {
		return err
	}
	if err := l.registry.Replace(Group, agents); err != nil {
		return err
	}

	metrics.SetRegisteredAgents(Group, len(agents))
	names := make([]string, 0, len(agents))
	for _, ag := range agents {
		names = append(names, ag.Name())
	}
	logger.L().Info("数据驱动智能体已加载", "path", l.path, "agents", names)
	return nil
}
