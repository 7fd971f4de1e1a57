package fieldkit

import "reflect"

// FieldMap is one entity's flattened field values. Aliased so records
// flow between the schema, store and filter packages without casts.
type FieldMap = map[string]any

func cloneFields(m FieldMap) FieldMap {
	out := make(FieldMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// fieldEq is the structural equality replay and emission diff against.
// reflect.DeepEqual is cycle-safe.
func fieldEq(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Identifier names one entity inside a relationship field. Meta holds
// server-assigned revision-tracking fields spliced in at commit time.
type Identifier struct {
	EntityKind string   `json:"entity_kind,omitempty"`
	Type       string   `json:"type,omitempty"`
	ID         string   `json:"id"`
	Meta       FieldMap `json:"meta,omitempty"`
}

func (idf Identifier) Valid() bool {
	return idf.ID != ""
}

type RelShape int

const (
	RelEmpty RelShape = iota
	RelSingle
	RelMany
)

// RelValue is a relationship field value with its arity made explicit:
// empty, a single identifier, or an ordered identifier list.
type RelValue struct {
	Shape RelShape
	One   Identifier
	List  []Identifier
}

func identifierOf(v any) (idf Identifier, ok bool) {
	switch t := v.(type) {
	case Identifier:
		return t, true
	case *Identifier:
		if t != nil {
			return *t, true
		}
	case map[string]any:
		// records fresh off the JSON codec
		idf.ID, _ = t["id"].(string)
		idf.Type, _ = t["type"].(string)
		idf.EntityKind, _ = t["entity_kind"].(string)
		if meta, mok := t["meta"].(map[string]any); mok {
			idf.Meta = meta
		}
		return idf, true
	}
	return idf, false
}

// RelOf normalizes whatever sits in a relationship field.
func RelOf(v any) RelValue {
	if v == nil {
		return RelValue{}
	}
	switch t := v.(type) {
	case []Identifier:
		return RelValue{Shape: RelMany, List: t}
	case []any:
		list := make([]Identifier, 0, len(t))
		for _, el := range t {
			if idf, ok := identifierOf(el); ok {
				list = append(list, idf)
			}
		}
		return RelValue{Shape: RelMany, List: list}
	}
	if idf, ok := identifierOf(v); ok {
		if !idf.Valid() && idf.Type == "" {
			return RelValue{}
		}
		return RelValue{Shape: RelSingle, One: idf}
	}
	return RelValue{}
}

// Value re-encodes the relationship for storage in a field map.
func (rv RelValue) Value() any {
	switch rv.Shape {
	case RelSingle:
		return rv.One
	case RelMany:
		return rv.List
	default:
		return nil
	}
}
