package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/kilupskalvis/persistence/internal/models"
	"github.com/kilupskalvis/persistence/internal/object"
)

// objectLoader loads referenced objects by identifier.
type objectLoader interface {
	GetObjectByIdentifier(ctx context.Context, identifier, objectType string) (object.Object, error)
}

// assign parses prop=value pairs against cs and sets them on obj.
func assign(ctx context.Context, loader objectLoader, cs *models.ClassSchema, obj object.Object, pairs []string) error {
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("expected prop=value, got %q", pair)
		}
		prop := cs.Property(name)
		if prop == nil {
			return fmt.Errorf("%w: %s has no property %q", models.ErrInvalidArgument, cs.ClassName, name)
		}
		value, err := parseValue(ctx, loader, prop, raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d, ok := obj.(*object.Dynamic); ok {
			d.Set(name, value)
			continue
		}
		if err := obj.SetProperty(name, value); err != nil {
			return err
		}
	}
	return nil
}

// parseValue converts a command line value to the Go value of prop.
func parseValue(ctx context.Context, loader objectLoader, prop *models.PropertySchema, raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	switch {
	case models.IsSimpleType(prop.Type):
		return object.Coerce(prop.Type, raw)
	case prop.Type == models.TypeDateTime:
		return parseTime(raw)
	case prop.Type == models.TypeArray:
		arr := object.NewArray()
		for _, part := range strings.Split(raw, ",") {
			arr.Append(strings.TrimSpace(part))
		}
		return arr, nil
	case prop.Type == models.TypeReferenceSet:
		set := object.NewStorage()
		for _, id := range strings.Split(raw, ",") {
			member, err := loader.GetObjectByIdentifier(ctx, strings.TrimSpace(id), prop.ElementType)
			if err != nil {
				return nil, err
			}
			set.Attach(member)
		}
		return set, nil
	default:
		return loader.GetObjectByIdentifier(ctx, raw, prop.Type)
	}
}
