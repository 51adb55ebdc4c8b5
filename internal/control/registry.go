package control

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// CommandFunc 控制命令执行函数
type CommandFunc func(args map[string]any) (any, error)

// Executor 控制面命令执行器
type Executor interface {
	Execute(command string, args map[string]any) (any, error)
	Register(name string, fn CommandFunc)
	Commands() []string
}

// Registry 命令注册表
type Registry struct {
	mu       sync.RWMutex
	commands map[string]CommandFunc
}

func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]CommandFunc),
	}
}

func (r *Registry) Register(name string, fn CommandFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = fn
}

func (r *Registry) Execute(command string, args map[string]any) (any, error) {
	r.mu.RLock()
	fn, ok := r.commands[command]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, command)
	}
	if args == nil {
		args = map[string]any{}
	}
	return fn(args)
}

// Commands returns the registered command names, sorted.
func (r *Registry) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// 错误定义
var (
	ErrCommandNotFound = errors.New("command not found")
	ErrInvalidArgs     = errors.New("invalid arguments")
)
