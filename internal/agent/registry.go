package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	xerrors "Kurashi-Agents/internal/errors"
)

// BuiltinGroup 是内置智能体所在的分组。
const BuiltinGroup = "builtin"

type entry struct {
	agent Agent
	group string
}

// Registry 保存可用的智能体，支持按分组整体替换（用于热加载）。
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	aliases map[string]string
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
		aliases: make(map[string]string),
	}
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register 将智能体加入内置分组。名称或别名冲突时返回 CONFLICT。
func (r *Registry) Register(agents ...Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, aliases := r.snapshot()
	for _, ag := range agents {
		if err := add(entries, aliases, ag, BuiltinGroup); err != nil {
			return err
		}
	}
	r.entries, r.aliases = entries, aliases
	return nil
}

// Replace 用 agents 整体替换 group 分组的内容；失败时注册表保持不变。
func (r *Registry) Replace(group string, agents []Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make(map[string]entry, len(r.entries))
	for name, e := range r.entries {
		if e.group != group {
			entries[name] = e
		}
	}
	aliases := make(map[string]string, len(r.aliases))
	for alias, name := range r.aliases {
		if _, ok := entries[name]; ok {
			aliases[alias] = name
		}
	}
	for _, ag := range agents {
		if err := add(entries, aliases, ag, group); err != nil {
			return err
		}
	}
	r.entries, r.aliases = entries, aliases
	return nil
}

func (r *Registry) snapshot() (map[string]entry, map[string]string) {
	entries := make(map[string]entry, len(r.entries))
	for k, v := range r.entries {
		entries[k] = v
	}
	aliases := make(map[string]string, len(r.aliases))
	for k, v := range r.aliases {
		aliases[k] = v
	}
	return entries, aliases
}

func add(entries map[string]entry, aliases map[string]string, ag Agent, group string) error {
	if ag == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "智能体不能为空")
	}
	name := key(ag.Name())
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "智能体名称不能为空")
	}
	if _, exists := entries[name]; exists {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("智能体 %s 已存在", name))
	}
	if owner, exists := aliases[name]; exists {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("智能体名称 %s 与 %s 的别名冲突", name, owner))
	}
	var added []string
	for _, alias := range ag.Aliases() {
		alias = key(alias)
		if alias == "" || alias == name {
			continue
		}
		if owner, ok := aliases[alias]; ok && owner == name {
			continue
		}
		_, nameClash := entries[alias]
		_, aliasClash := aliases[alias]
		if nameClash || aliasClash {
			for _, a := range added {
				delete(aliases, a)
			}
			return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("别名 %s 已被占用", alias))
		}
		aliases[alias] = name
		added = append(added, alias)
	}
	entries[name] = entry{agent: ag, group: group}
	return nil
}

// Lookup 按名称或别名（大小写不敏感）查找智能体。
func (r *Registry) Lookup(nameOrAlias string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k := key(nameOrAlias)
	if e, ok := r.entries[k]; ok {
		return e.agent, true
	}
	if name, ok := r.aliases[k]; ok {
		return r.entries[name].agent, true
	}
	return nil, false
}

// Get 与 Lookup 相同，但未找到时返回 AGENT_NOT_FOUND。
func (r *Registry) Get(nameOrAlias string) (Agent, error) {
	ag, ok := r.Lookup(nameOrAlias)
	if !ok {
		return nil, xerrors.New(CodeAgentNotFound, fmt.Sprintf("未找到智能体 %s", nameOrAlias),
			xerrors.WithMetadata("agent", nameOrAlias))
	}
	return ag, nil
}

// List 返回按名称排序的智能体信息。
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, Info{
			Name:        e.agent.Name(),
			Description: e.agent.Description(),
			Aliases:     append([]string(nil), e.agent.Aliases()...),
			Group:       e.group,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Len 返回已注册的智能体数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
