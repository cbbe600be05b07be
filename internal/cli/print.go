package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/kilupskalvis/persistence/internal/object"
	"github.com/kilupskalvis/persistence/internal/schema"
)

// identifierSource maps objects to their identifiers.
type identifierSource interface {
	GetIdentifierByObject(obj object.Object) string
}

// printObject writes obj with its properties in declaration order. Related
// objects are shown by class and identifier; unresolved lazy reference sets
// are shown by size only.
func printObject(w io.Writer, ids identifierSource, schemas schema.Provider, obj object.Object) error {
	cs, err := schemas.ClassSchema(obj.ClassName())
	if err != nil {
		return err
	}

	yellow := color.New(color.FgYellow)
	yellow.Fprintf(w, "%s %s\n", cs.ClassName, ids.GetIdentifierByObject(obj))

	for _, prop := range cs.Properties() {
		if prop.Transient {
			continue
		}
		v, err := object.Property(obj, prop.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "    %-20s %s\n", prop.Name, formatValue(ids, v))
	}
	return nil
}

func formatValue(ids identifierSource, v any) string {
	switch tv := v.(type) {
	case nil:
		return color.New(color.Faint).Sprint("null")
	case string:
		return strconv.Quote(tv)
	case time.Time:
		return tv.UTC().Format(time.RFC3339)
	case *object.LazyStorage:
		if !tv.IsInitialized() {
			return fmt.Sprintf("{%d not loaded}", tv.Count())
		}
		return formatSet(ids, tv)
	case object.ReferenceSet:
		return formatSet(ids, tv)
	case *object.Array:
		parts := make([]string, 0, tv.Len())
		for key, el := range tv.All() {
			parts = append(parts, fmt.Sprintf("%v: %s", key, formatValue(ids, el)))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case object.Object:
		return formatReference(ids, tv)
	}
	return fmt.Sprint(v)
}

func formatSet(ids identifierSource, set object.ReferenceSet) string {
	parts := make([]string, 0, set.Count())
	for member := range set.All() {
		parts = append(parts, formatReference(ids, member))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatReference(ids identifierSource, obj object.Object) string {
	return color.New(color.FgCyan).Sprintf("-> %s %s", obj.ClassName(), shortID(ids.GetIdentifierByObject(obj)))
}
