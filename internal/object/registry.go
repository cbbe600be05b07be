package object

// Factory allocates a blank instance. It must not run domain constructor logic:
// the mapper populates the instance after registering it.
type Factory func() Object

// Registry maps class names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register sets the factory for className.
func (r *Registry) Register(className string, f Factory) {
	r.factories[className] = f
}

// Instantiate allocates a blank object of className. Classes without a
// registered factory are instantiated as Dynamic.
func (r *Registry) Instantiate(className string) Object {
	if r != nil {
		if f, ok := r.factories[className]; ok {
			return f()
		}
	}
	return NewDynamic(className)
}
