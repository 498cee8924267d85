package stage

import (
	"context"
	"fmt"
	"strings"

	"remotedev/internal/services"
)

// Registry holds stage handlers in pipeline order. It is built once at
// startup and read concurrently afterwards.
type Registry struct {
	order    []string
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register appends h to the pipeline order.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return services.Wrap(services.ErrConfiguration, "stage", "register", "handler is nil", nil)
	}
	name := strings.TrimSpace(h.Name())
	if name == "" {
		return services.Wrap(services.ErrConfiguration, "stage", "register", "handler has no stage name", nil)
	}
	if _, exists := r.handlers[name]; exists {
		return services.Wrap(services.ErrConfiguration, "stage", "register", fmt.Sprintf("stage %s registered twice", name), nil)
	}
	r.order = append(r.order, name)
	r.handlers[name] = h
	return nil
}

// Get returns the handler bound to name.
func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Stages returns stage names in pipeline order.
func (r *Registry) Stages() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Handlers returns handlers in pipeline order.
func (r *Registry) Handlers() []Handler {
	out := make([]Handler, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.handlers[name])
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.order)
}

// Health reports readiness for every stage. Handlers without a health check
// are reported ready.
func (r *Registry) Health(ctx context.Context) []Health {
	out := make([]Health, 0, len(r.order))
	for _, h := range r.Handlers() {
		if checker, ok := h.(HealthChecker); ok {
			out = append(out, checker.HealthCheck(ctx))
			continue
		}
		out = append(out, Healthy(h.Name()))
	}
	return out
}
