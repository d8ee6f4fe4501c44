package engine

import (
	"errors"
	"fmt"
	"sort"

	"extractkit/internal/taskspec"
)

var (
	// ErrUnknownEngine is returned when no factory is registered for an id.
	ErrUnknownEngine = errors.New("unknown engine")
	// ErrUnavailable is returned for engines registered without a usable
	// backend in this build or deployment.
	ErrUnavailable = errors.New("engine unavailable")
)

// Factory builds an engine instance from a task's merged config map.
type Factory func(cfg map[string]any) (Engine, error)

// Info describes one registry entry.
type Info struct {
	ID        string
	Available bool
	Backend   string
	Reason    string
}

type entry struct {
	factory Factory
	info    Info
}

// Registry maps engine ids to factories. It is populated once at startup and
// read-only afterwards, so lookups need no locking.
type Registry struct {
	entries map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register binds id to f. backend is a short label shown in listings.
func (r *Registry) Register(id, backend string, f Factory) {
	r.entries[id] = entry{
		factory: f,
		info:    Info{ID: id, Available: true, Backend: backend},
	}
}

// RegisterUnavailable records id as known but not usable, with the reason.
func (r *Registry) RegisterUnavailable(id, backend, reason string) {
	r.entries[id] = entry{info: Info{ID: id, Backend: backend, Reason: reason}}
}

// Available reports whether id resolves to a usable engine.
func (r *Registry) Available(id string) bool {
	e, ok := r.entries[id]
	return ok && e.info.Available
}

// Resolve instantiates the engine named by t.Engine with t.Config().
func (r *Registry) Resolve(t taskspec.Task) (Engine, error) {
	e, ok := r.entries[t.Engine]
	if !ok {
		return nil, fmt.Errorf("resolve %s: %w: %s", t.Name, ErrUnknownEngine, t.Engine)
	}
	if !e.info.Available {
		return nil, fmt.Errorf("resolve %s: %w: %s (%s)", t.Name, ErrUnavailable, t.Engine, e.info.Reason)
	}
	eng, err := e.factory(t.Config())
	if err != nil {
		return nil, fmt.Errorf("build engine %s: %w", t.Engine, err)
	}
	return eng, nil
}

// Infos lists every registered engine sorted by id.
func (r *Registry) Infos() []Info {
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
