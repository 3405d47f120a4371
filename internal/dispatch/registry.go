// Package dispatch maps grid positions to stable click handlers.
//
// A Registry hands out one Handler per (room, slot) for its whole lifetime.
// Handlers delegate to the registry's current Strategy at call time, so an
// interaction-mode change never invalidates handlers already attached to
// grid cells, and detaching by handler identity keeps working.
//
// A Registry belongs to a single page render and is not safe for concurrent use.
package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoStrategy is returned when a handler fires before any strategy is set.
var ErrNoStrategy = errors.New("no click strategy configured")

// Key addresses one cell of a day grid.
type Key struct {
	Room int
	Slot int
}

func (k Key) String() string {
	return fmt.Sprintf("%d-%d", k.Room, k.Slot)
}

// CellState is the display state of the clicked cell at click time.
type CellState string

// Click is one user interaction with a grid cell.
type Click struct {
	Date  string
	Room  int
	Slot  int
	State CellState
}

// ActionKind tells the page what to do after a click.
type ActionKind string

const (
	ActionNone     ActionKind = "none"
	ActionNotice   ActionKind = "notice"
	ActionRedirect ActionKind = "redirect"
	ActionSelect   ActionKind = "select"
)

// Action is the outcome of a click.
type Action struct {
	Kind     ActionKind        `json:"kind"`
	Message  string            `json:"message,omitempty"`
	Location string            `json:"location,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Strategy is the behaviour behind every handler of a registry.
type Strategy interface {
	HandleSlot(ctx context.Context, click Click) (Action, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, click Click) (Action, error)

func (f StrategyFunc) HandleSlot(ctx context.Context, click Click) (Action, error) {
	return f(ctx, click)
}

// Handler is the stable listener of one grid position.
type Handler struct {
	key      Key
	registry *Registry
}

func (h *Handler) Key() Key {
	return h.key
}

// Handle runs the registry's current strategy.
func (h *Handler) Handle(ctx context.Context, click Click) (Action, error) {
	if h.registry.strategy == nil {
		return Action{Kind: ActionNone}, ErrNoStrategy
	}
	return h.registry.strategy.HandleSlot(ctx, click)
}

// Registry memoizes handlers per Key.
type Registry struct {
	strategy Strategy
	handlers map[Key]*Handler
}

func NewRegistry(strategy Strategy) *Registry {
	return &Registry{
		strategy: strategy,
		handlers: make(map[Key]*Handler),
	}
}

// HandlerFor returns the handler of (room, slot). Repeated calls with the
// same arguments return the identical pointer.
func (r *Registry) HandlerFor(room, slot int) *Handler {
	key := Key{Room: room, Slot: slot}
	if h, ok := r.handlers[key]; ok {
		return h
	}
	h := &Handler{key: key, registry: r}
	r.handlers[key] = h
	return h
}

// SetStrategy swaps the behaviour of every handler, past and future.
func (r *Registry) SetStrategy(s Strategy) {
	r.strategy = s
}

func (r *Registry) Strategy() Strategy {
	return r.strategy
}

// Len is the number of handlers issued so far.
func (r *Registry) Len() int {
	return len(r.handlers)
}
