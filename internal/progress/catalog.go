package progress

import (
	"fmt"
	"strings"
)

// Step is one entry of the static journey catalog.
type Step struct {
	ID          int                    `json:"id" yaml:"id"`
	Name        string                 `json:"name" yaml:"name"`
	Title       string                 `json:"title" yaml:"title"`
	Description string                 `json:"description,omitempty" yaml:"description"`
	Topic       string                 `json:"topic,omitempty" yaml:"topic"`
	Payload     map[string]interface{} `json:"payload,omitempty" yaml:"payload"`
}

// Catalog is the ordered, immutable list of journey steps.
type Catalog struct {
	steps []Step
	index map[int]int
	names map[string]int
}

// NewCatalog validates steps and builds a catalog. Ids must start at 1 and
// increase by one; names must be unique.
func NewCatalog(steps []Step) (*Catalog, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("catalog: at least one step is required")
	}

	c := &Catalog{
		steps: make([]Step, len(steps)),
		index: make(map[int]int, len(steps)),
		names: make(map[string]int, len(steps)),
	}
	copy(c.steps, steps)

	for i, step := range c.steps {
		if step.ID != i+1 {
			return nil, fmt.Errorf("catalog: step %d has id %d, want %d", i, step.ID, i+1)
		}
		if strings.TrimSpace(step.Name) == "" {
			return nil, fmt.Errorf("catalog: step %d: name is required", step.ID)
		}
		if strings.TrimSpace(step.Title) == "" {
			c.steps[i].Title = step.Name
		}
		if _, dup := c.names[step.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate step name %q", step.Name)
		}
		c.index[step.ID] = i
		c.names[step.Name] = i
	}
	return c, nil
}

// MustCatalog is NewCatalog that panics on invalid input. Used for built-in catalogs.
func MustCatalog(steps []Step) *Catalog {
	c, err := NewCatalog(steps)
	if err != nil {
		panic(err)
	}
	return c
}

// Len returns the number of steps.
func (c *Catalog) Len() int {
	return len(c.steps)
}

// List returns a copy of the steps in order.
func (c *Catalog) List() []Step {
	out := make([]Step, len(c.steps))
	copy(out, c.steps)
	return out
}

// Get returns the step with the given id.
func (c *Catalog) Get(id int) (Step, bool) {
	i, ok := c.index[id]
	if !ok {
		return Step{}, false
	}
	return c.steps[i], true
}

// Exists reports whether id is a catalog step.
func (c *Catalog) Exists(id int) bool {
	_, ok := c.index[id]
	return ok
}

// Next returns the step after id.
func (c *Catalog) Next(id int) (Step, bool) {
	return c.Get(id + 1)
}

// ByName returns the step with the given name.
func (c *Catalog) ByName(name string) (Step, bool) {
	i, ok := c.names[name]
	if !ok {
		return Step{}, false
	}
	return c.steps[i], true
}

// ByTopic returns the step that owns a topic form.
func (c *Catalog) ByTopic(topic string) (Step, bool) {
	for _, step := range c.steps {
		if step.Topic == topic {
			return step, true
		}
	}
	return Step{}, false
}

// First returns the first step.
func (c *Catalog) First() Step {
	return c.steps[0]
}

// Last returns the final step.
func (c *Catalog) Last() Step {
	return c.steps[len(c.steps)-1]
}
