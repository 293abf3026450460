package registry

import (
	"sort"
	"sync"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// TemplateStore holds template definitions with a simple version chain:
// re-registering a name appends a new version and the latest wins.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*types.Template   // by id
	chains    map[string][]*types.Template // by name, oldest first
}

func NewTemplateStore() *TemplateStore {
	return &TemplateStore{
		templates: make(map[string]*types.Template),
		chains:    make(map[string][]*types.Template),
	}
}

// Create stores a template. A repeated name extends that name's version chain.
func (s *TemplateStore) Create(t *types.Template) (*types.Template, error) {
	if t == nil || t.Name == "" || t.Body == "" {
		return nil, types.NewError(types.ErrBadInput, "template name and body are required")
	}
	switch t.Kind {
	case types.TemplateKindAgent, types.TemplateKindTool, types.TemplateKindWorkflow:
	default:
		return nil, types.NewError(types.ErrBadInput, "unknown template kind %q", t.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *t
	if c.ID == "" {
		c.ID = clock.NewID()
	}
	if _, exists := s.templates[c.ID]; exists {
		return nil, types.NewError(types.ErrConflict, "template %s already exists", c.ID)
	}
	if c.Version == "" {
		if chain := s.chains[c.Name]; len(chain) > 0 {
			c.Version = nextVersion(chain[len(chain)-1].Version)
		} else {
			c.Version = "1.0.0"
		}
	}

	s.templates[c.ID] = &c
	s.chains[c.Name] = append(s.chains[c.Name], &c)
	out := c
	return &out, nil
}

// Get returns a copy of the template by id.
func (s *TemplateStore) Get(id string) (*types.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "template %s not found", id)
	}
	c := *t
	return &c, nil
}

// Latest returns the newest version registered under name.
func (s *TemplateStore) Latest(name string) (*types.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[name]
	if len(chain) == 0 {
		return nil, types.NewError(types.ErrNotFound, "template %q not found", name)
	}
	c := *chain[len(chain)-1]
	return &c, nil
}

// List returns all templates sorted by (name, version order).
func (s *TemplateStore) List() []*types.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Template
	names := make([]string, 0, len(s.chains))
	for name := range s.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, t := range s.chains[name] {
			c := *t
			out = append(out, &c)
		}
	}
	return out
}

// Delete removes one template version by id.
func (s *TemplateStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return types.NewError(types.ErrNotFound, "template %s not found", id)
	}
	delete(s.templates, id)
	chain := s.chains[t.Name]
	for i, v := range chain {
		if v.ID == id {
			s.chains[t.Name] = append(chain[:i], chain[i+1:]...)
			break
		}
	}
	if len(s.chains[t.Name]) == 0 {
		delete(s.chains, t.Name)
	}
	return nil
}
