// Package executor dispatches approved records to registered handlers with
// bounded, taxonomy-aware retries.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Handler executes one kind of action. The payload is the record's free-form
// body; the returned map becomes the record's result.
type Handler interface {
	Execute(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)

func (f HandlerFunc) Execute(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	return f(ctx, payload)
}

// ErrNoHandler - dispatch of an action type nothing registered for. This is
// a terminal, non-retryable failure.
var ErrNoHandler = errors.New("executor: no handler registered")

// Registry binds one handler per action type and is validated at startup so
// a missing binding fails the boot, not the record.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler. Rebinding an action type is a programming error.
func (r *Registry) Register(actionType string, h Handler) error {
	if actionType == "" {
		return fmt.Errorf("executor: empty action type")
	}
	if h == nil {
		return fmt.Errorf("executor: nil handler for %q", actionType)
	}
	if _, exists := r.handlers[actionType]; exists {
		return fmt.Errorf("executor: handler already registered for %q", actionType)
	}
	r.handlers[actionType] = h
	return nil
}

// Resolve returns the handler bound to actionType.
func (r *Registry) Resolve(actionType string) (Handler, bool) {
	h, ok := r.handlers[actionType]
	return h, ok
}

// Validate fails if any of the required action types is unbound. Called at
// executor startup with the configured action set.
func (r *Registry) Validate(required []string) error {
	var missing []string
	for _, actionType := range required {
		if _, ok := r.handlers[actionType]; !ok {
			missing = append(missing, actionType)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("executor: unbound action types: %v", missing)
	}
	return nil
}

// Types lists the registered action types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
