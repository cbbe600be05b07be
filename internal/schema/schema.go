// Package schema provides class schemas to the persistence layers. Schemas
// are registered in code or loaded from a TOML file.
package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/kilupskalvis/persistence/internal/models"
	"github.com/pelletier/go-toml/v2"
)

// Provider returns the schema of a class.
type Provider interface {
	ClassSchema(className string) (*models.ClassSchema, error)
}

// Registry is an in-memory Provider.
type Registry struct {
	classes map[string]*models.ClassSchema
}

// NewRegistry creates a registry holding schemas.
func NewRegistry(schemas ...*models.ClassSchema) *Registry {
	r := &Registry{classes: make(map[string]*models.ClassSchema)}
	for _, cs := range schemas {
		r.Register(cs)
	}
	return r
}

// Register adds or replaces a class schema.
func (r *Registry) Register(cs *models.ClassSchema) {
	r.classes[cs.ClassName] = cs
}

// ClassSchema implements Provider.
func (r *Registry) ClassSchema(className string) (*models.ClassSchema, error) {
	cs, ok := r.classes[className]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownClass, className)
	}
	return cs, nil
}

// Has reports whether className is registered.
func (r *Registry) Has(className string) bool {
	_, ok := r.classes[className]
	return ok
}

// ClassNames returns the registered class names, sorted.
func (r *Registry) ClassNames() []string {
	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// classFile is the TOML layout of a schema file:
//
//	[[class]]
//	name = "Post"
//	model = "entity"
//	aggregate_root = true
//
//	[[class.property]]
//	name = "title"
//	type = "string"
type classFile struct {
	Classes []classEntry `toml:"class"`
}

type classEntry struct {
	Name          string                  `toml:"name"`
	Model         string                  `toml:"model"`
	AggregateRoot bool                    `toml:"aggregate_root"`
	LazyLoadable  bool                    `toml:"lazy_loadable"`
	Properties    []models.PropertySchema `toml:"property"`
}

// Load parses a TOML schema document.
func Load(data []byte) (*Registry, error) {
	var file classFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	r := NewRegistry()
	for _, entry := range file.Classes {
		if entry.Name == "" {
			return nil, fmt.Errorf("schema: class without name")
		}
		var modelType models.ModelType
		switch strings.ToLower(entry.Model) {
		case "", "entity":
			modelType = models.ModelTypeEntity
		case "valueobject", "value_object":
			modelType = models.ModelTypeValueObject
		default:
			return nil, fmt.Errorf("schema: class %s: unknown model %q", entry.Name, entry.Model)
		}
		cs := models.NewClassSchema(entry.Name, modelType)
		cs.AggregateRoot = entry.AggregateRoot
		cs.LazyLoadable = entry.LazyLoadable
		for _, p := range entry.Properties {
			if p.Name == "" || p.Type == "" {
				return nil, fmt.Errorf("schema: class %s: property needs name and type", entry.Name)
			}
			cs.AddProperty(p)
		}
		r.Register(cs)
	}
	return r, nil
}

// LoadFile reads and parses a TOML schema file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	return Load(data)
}
