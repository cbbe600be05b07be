package models

// ModelType distinguishes entities from value objects.
type ModelType int

const (
	ModelTypeEntity ModelType = iota
	ModelTypeValueObject
)

// String returns the schema file spelling of the model type.
func (t ModelType) String() string {
	if t == ModelTypeValueObject {
		return "valueobject"
	}
	return "entity"
}

// PropertySchema describes one persisted property of a class.
type PropertySchema struct {
	Name        string `toml:"name"`
	Type        string `toml:"type"`
	ElementType string `toml:"element_type,omitempty"` // member class of arrays and reference sets
	MultiValued bool   `toml:"multi_valued,omitempty"`
	Identity    bool   `toml:"identity,omitempty"`
	Lazy        bool   `toml:"lazy,omitempty"`
	Transient   bool   `toml:"transient,omitempty"`
}

// ClassSchema describes a persistable class.
type ClassSchema struct {
	ClassName     string
	ModelType     ModelType
	AggregateRoot bool
	LazyLoadable  bool

	properties map[string]*PropertySchema
	order      []string
}

// NewClassSchema creates an empty schema for className.
func NewClassSchema(className string, modelType ModelType) *ClassSchema {
	return &ClassSchema{
		ClassName:  className,
		ModelType:  modelType,
		properties: make(map[string]*PropertySchema),
	}
}

// AddProperty adds or replaces a property. Container types are always multi-valued.
func (c *ClassSchema) AddProperty(p PropertySchema) *ClassSchema {
	if IsContainerType(p.Type) {
		p.MultiValued = true
	}
	if _, exists := c.properties[p.Name]; !exists {
		c.order = append(c.order, p.Name)
	}
	c.properties[p.Name] = &p
	return c
}

// HasProperty reports whether the class declares name.
func (c *ClassSchema) HasProperty(name string) bool {
	_, ok := c.properties[name]
	return ok
}

// Property returns the schema of name, or nil.
func (c *ClassSchema) Property(name string) *PropertySchema {
	return c.properties[name]
}

// PropertyNames returns property names in declaration order.
func (c *ClassSchema) PropertyNames() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Properties returns property schemas in declaration order.
func (c *ClassSchema) Properties() []*PropertySchema {
	out := make([]*PropertySchema, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.properties[name])
	}
	return out
}

// IsMultiValuedProperty reports whether name is declared multi-valued.
func (c *ClassSchema) IsMultiValuedProperty(name string) bool {
	p := c.properties[name]
	return p != nil && p.MultiValued
}

// IsPropertyLazy reports whether name is declared lazy.
func (c *ClassSchema) IsPropertyLazy(name string) bool {
	p := c.properties[name]
	return p != nil && p.Lazy
}

// IsPropertyTransient reports whether name is declared transient.
func (c *ClassSchema) IsPropertyTransient(name string) bool {
	p := c.properties[name]
	return p != nil && p.Transient
}

// IdentityProperties returns the names of properties flagged as identity.
func (c *ClassSchema) IdentityProperties() []string {
	var out []string
	for _, name := range c.order {
		if c.properties[name].Identity {
			out = append(out, name)
		}
	}
	return out
}
