package object

import (
	"fmt"
	"log/slog"
)

// Dynamic is a map-backed Object usable for any schema class.
type Dynamic struct {
	State
	class string
	props map[string]any
}

// NewDynamic creates an empty object of class.
func NewDynamic(class string) *Dynamic {
	return &Dynamic{class: class, props: make(map[string]any)}
}

// ClassName implements Object.
func (d *Dynamic) ClassName() string { return d.class }

// GetProperty implements Object. It does not trigger a pending thaw.
func (d *Dynamic) GetProperty(name string) (any, bool) {
	v, ok := d.props[name]
	return v, ok
}

// SetProperty implements Object.
func (d *Dynamic) SetProperty(name string, value any) error {
	if d.props == nil {
		d.props = make(map[string]any)
	}
	d.props[name] = value
	return nil
}

// Get returns a property after loading pending data.
func (d *Dynamic) Get(name string) any {
	if err := d.Activate(); err != nil {
		slog.Warn("lazy thaw failed", "class", d.class, "error", err)
		return nil
	}
	return d.props[name]
}

// Set assigns a property after loading pending data, so the assignment is not
// overwritten by a later thaw.
func (d *Dynamic) Set(name string, value any) {
	if err := d.Activate(); err != nil {
		slog.Warn("lazy thaw failed", "class", d.class, "error", err)
	}
	_ = d.SetProperty(name, value)
}

// Names returns the names of the properties currently set.
func (d *Dynamic) Names() []string {
	out := make([]string, 0, len(d.props))
	for name := range d.props {
		out = append(out, name)
	}
	return out
}

func (d *Dynamic) String() string {
	return fmt.Sprintf("%s(%s)", d.class, d.Identifier())
}
