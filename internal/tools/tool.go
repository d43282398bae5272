package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"umlgen/internal/domain/entity"
)

var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrToolExists    = errors.New("tool already registered")
	ErrInvalidParams = errors.New("invalid tool arguments")
)

// Result is what a tool hands back to the conversation. Artifacts lists
// files the tool wrote.
type Result struct {
	Content   string
	Artifacts []string
}

// Tool is a function the model may ask to call.
type Tool interface {
	Definition() entity.ToolDefinition
	Run(ctx context.Context, args json.RawMessage) (Result, error)
}

// Registry resolves tools by name. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(t Tool) error {
	name := t.Definition().Name
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrToolExists, name)
	}
	r.tools[name] = t
	return nil
}

func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// Definitions returns every tool descriptor sorted by name.
func (r *Registry) Definitions() []entity.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]entity.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
