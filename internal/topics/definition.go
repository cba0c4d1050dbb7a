// Package topics stores the answers of the per-step questionnaire forms. Every
// topic is described by a Definition mapping answer keys to table columns, so
// one repository serves all of them.
package topics

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// FieldKind is the value type of a topic field.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindList   FieldKind = "list"
)

var (
	// ErrUnknownTopic is returned for topic names missing from the registry.
	ErrUnknownTopic = errors.New("topics: unknown topic")
	// ErrInvalidAnswers is returned when answers do not match the definition.
	ErrInvalidAnswers = errors.New("topics: invalid answers")
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// reservedColumns are managed by the store and cannot be mapped.
var reservedColumns = map[string]bool{"id": true, "user_id": true, "created_at": true, "updated_at": true}

// Field maps one answer key to a column.
type Field struct {
	Key      string    `yaml:"key" json:"key"`
	Column   string    `yaml:"column" json:"column"`
	Kind     FieldKind `yaml:"kind" json:"kind"`
	Required bool      `yaml:"required" json:"required,omitempty"`
	// MaxLength bounds string values and list items. Zero means 2000.
	MaxLength int `yaml:"max_length" json:"max_length,omitempty"`
}

// Definition describes a topic table.
type Definition struct {
	Name   string  `yaml:"name" json:"name"`
	Table  string  `yaml:"table" json:"table"`
	Fields []Field `yaml:"fields" json:"fields"`
}

// Answers are the submitted values keyed by field key.
type Answers map[string]interface{}

// Validate checks identifiers and field kinds.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("topic: name is required")
	}
	if !identifierPattern.MatchString(d.Table) {
		return fmt.Errorf("topic %s: invalid table name %q", d.Name, d.Table)
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("topic %s: at least one field is required", d.Name)
	}
	keys := make(map[string]bool, len(d.Fields))
	columns := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if f.Key == "" {
			return fmt.Errorf("topic %s: field key is required", d.Name)
		}
		if !identifierPattern.MatchString(f.Column) || reservedColumns[f.Column] {
			return fmt.Errorf("topic %s: invalid column %q", d.Name, f.Column)
		}
		switch f.Kind {
		case KindString, KindNumber, KindBool, KindList:
		default:
			return fmt.Errorf("topic %s: field %s has unknown kind %q", d.Name, f.Key, f.Kind)
		}
		if keys[f.Key] || columns[f.Column] {
			return fmt.Errorf("topic %s: duplicate field %s", d.Name, f.Key)
		}
		keys[f.Key] = true
		columns[f.Column] = true
	}
	return nil
}

// HasListFields reports whether the topic stores list values. Such topics
// are saved by replacing the user's rows instead of upserting them.
func (d Definition) HasListFields() bool {
	for _, f := range d.Fields {
		if f.Kind == KindList {
			return true
		}
	}
	return false
}

// Columns returns the mapped column names in field order.
func (d Definition) Columns() []string {
	cols := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		cols[i] = f.Column
	}
	return cols
}

// ToRow validates answers and maps them to a column keyed row for userID.
func (d Definition) ToRow(userID string, answers Answers) (map[string]interface{}, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidAnswers)
	}

	var problems []string
	known := make(map[string]bool, len(d.Fields))
	row := map[string]interface{}{"user_id": userID}

	for _, f := range d.Fields {
		known[f.Key] = true
		raw, present := answers[f.Key]
		if !present || raw == nil {
			if f.Required {
				problems = append(problems, fmt.Sprintf("%s is required", f.Key))
			}
			if f.Kind == KindList {
				row[f.Column] = []string{}
			} else {
				row[f.Column] = nil
			}
			continue
		}
		value, err := f.normalize(raw)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		row[f.Column] = value
	}

	var unknown []string
	for key := range answers {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		problems = append(problems, fmt.Sprintf("%s is not a field of %s", key, d.Name))
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAnswers, strings.Join(problems, "; "))
	}
	return row, nil
}

// FromRow maps a stored row back to answers. Missing columns are omitted.
func (d Definition) FromRow(row map[string]interface{}) Answers {
	if row == nil {
		return nil
	}
	answers := make(Answers, len(d.Fields))
	for _, f := range d.Fields {
		v, ok := row[f.Column]
		if !ok {
			continue
		}
		if f.Kind == KindList {
			v = toStringSlice(v)
		}
		answers[f.Key] = v
	}
	return answers
}

func (f Field) maxLength() int {
	if f.MaxLength > 0 {
		return f.MaxLength
	}
	return 2000
}

func (f Field) normalize(raw interface{}) (interface{}, error) {
	switch f.Kind {
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string", f.Key)
		}
		s = strings.TrimSpace(s)
		if len(s) > f.maxLength() {
			return nil, fmt.Errorf("%s exceeds %d characters", f.Key, f.maxLength())
		}
		if f.Required && s == "" {
			return nil, fmt.Errorf("%s is required", f.Key)
		}
		return s, nil

	case KindNumber:
		switch n := raw.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
		return nil, fmt.Errorf("%s must be a number", f.Key)

	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("%s must be a boolean", f.Key)
		}
		return b, nil

	case KindList:
		var items []string
		switch list := raw.(type) {
		case []string:
			items = list
		case []interface{}:
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%s must be a list of strings", f.Key)
				}
				items = append(items, s)
			}
		default:
			return nil, fmt.Errorf("%s must be a list", f.Key)
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			if len(item) > f.maxLength() {
				return nil, fmt.Errorf("%s item exceeds %d characters", f.Key, f.maxLength())
			}
			out = append(out, item)
		}
		if f.Required && len(out) == 0 {
			return nil, fmt.Errorf("%s needs at least one item", f.Key)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s has unknown kind %q", f.Key, f.Kind)
}

func toStringSlice(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

// =============================================================================
// Registry
// =============================================================================

// Registry holds the topic definitions of a deployment.
type Registry struct {
	defs  map[string]Definition
	order []string
}

// NewRegistry validates definitions and indexes them by name.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	tables := make(map[string]string, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.defs[d.Name]; dup {
			return nil, fmt.Errorf("topic %s: defined twice", d.Name)
		}
		if other, dup := tables[d.Table]; dup {
			return nil, fmt.Errorf("topic %s: table %s already used by %s", d.Name, d.Table, other)
		}
		r.defs[d.Name] = d
		tables[d.Table] = d.Name
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// Get returns a definition by name.
func (r *Registry) Get(name string) (Definition, error) {
	d, ok := r.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownTopic, name)
	}
	return d, nil
}

// List returns the definitions in declaration order.
func (r *Registry) List() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}
