package agent

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry holds the library's resident agents.
type Registry struct {
	agents map[string]*Controller
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewRegistry creates an empty agent registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*Controller),
		logger: logger,
	}
}

// Register adds a controller, assigning a persona ID if missing.
func (r *Registry) Register(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.persona.ID == "" {
		c.persona.ID = uuid.New().String()
	}
	r.agents[c.persona.ID] = c
	r.logger.Info("registered agent",
		zap.String("id", c.persona.ID),
		zap.String("name", c.persona.Name))
}

// Get returns a controller by agent ID.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.agents[id]
	return c, ok
}

// GetByName returns a controller by persona name.
func (r *Registry) GetByName(name string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.agents {
		if c.persona.Name == name {
			return c, true
		}
	}
	return nil, false
}

// List returns all registered controllers.
func (r *Registry) List() []*Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Controller, 0, len(r.agents))
	for _, c := range r.agents {
		out = append(out, c)
	}
	return out
}
