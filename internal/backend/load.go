package backend

import (
	"errors"

	"github.com/kilupskalvis/persistence/internal/models"
)

// expand returns a copy of rec with references replaced by what the mapper
// needs: an identifier for objects already emitted or known to the session,
// a stub for lazy-loadable targets of lazy properties, the full nested record
// otherwise, and Absent for records that no longer exist. Properties follow
// schema declaration order so that the first occurrence of an object is the
// expanded one.
func (b *Backend) expand(rec *models.RecordData, emitted map[string]bool) (*models.RecordData, error) {
	emitted[rec.Identifier] = true

	cs, err := b.classSchema(rec.Classname)
	if err != nil {
		return nil, err
	}
	out := &models.RecordData{
		Identifier: rec.Identifier,
		Classname:  rec.Classname,
		Properties: make(map[string]*models.PropertyDatum, len(rec.Properties)),
		Metadata:   rec.Metadata,
	}
	for _, prop := range cs.Properties() {
		datum, ok := rec.Properties[prop.Name]
		if !ok || datum == nil {
			continue
		}
		v, err := b.expandValue(datum.Type, datum.Value, prop.Lazy, emitted)
		if err != nil {
			return nil, err
		}
		out.Properties[prop.Name] = &models.PropertyDatum{Type: datum.Type, Multivalue: datum.Multivalue, Value: v}
	}
	return out, nil
}

func (b *Backend) expandValue(typ string, value models.Value, lazy bool, emitted map[string]bool) (models.Value, error) {
	switch tv := value.(type) {
	case *models.RecordData:
		return b.expandReference(tv, lazy, emitted)
	case models.Elements:
		out := make(models.Elements, 0, len(tv))
		for _, el := range tv {
			v, err := b.expandElement(typ, el, lazy, emitted)
			if err != nil {
				return nil, err
			}
			if v == nil && typ == models.TypeReferenceSet {
				continue
			}
			out = append(out, &models.Element{Index: el.Index, Type: el.Type, Value: v})
		}
		return out, nil
	default:
		return value, nil
	}
}

func (b *Backend) expandElement(containerType string, el *models.Element, lazy bool, emitted map[string]bool) (models.Value, error) {
	ref, ok := el.Value.(*models.RecordData)
	if !ok {
		return b.expandValue(el.Type, el.Value, false, emitted)
	}
	if containerType == models.TypeReferenceSet {
		if lazy {
			return ref.Reference(), nil
		}
		v, err := b.expandReference(ref, false, emitted)
		if _, missing := v.(models.Absent); missing {
			b.logger.Debug("skipping missing reference set member", "identifier", ref.Identifier)
			return nil, err
		}
		return v, err
	}
	return b.expandReference(ref, false, emitted)
}

func (b *Backend) expandReference(ref *models.RecordData, lazy bool, emitted map[string]bool) (models.Value, error) {
	if emitted[ref.Identifier] || b.session.HasIdentifier(ref.Identifier) {
		return ref.Reference(), nil
	}
	if lazy {
		if cs, err := b.classSchema(ref.Classname); err == nil && cs.LazyLoadable {
			return ref.Reference(), nil
		}
	}
	rec, err := b.store.Get(ref.Identifier)
	if errors.Is(err, models.ErrUnknownObject) {
		return models.Absent{}, nil
	}
	if err != nil {
		return nil, err
	}
	return b.expand(rec, emitted)
}
