package schema

// A bundle declares the fields of one entity type within a kind.
// Each Field has a value type. New fields can be appended to a bundle,
// but never removed; renaming a field keeps its value type.

import "unicode/utf8"

type FieldType byte

const (
	String     FieldType = 'S'
	Integer    FieldType = 'I'
	Float      FieldType = 'F'
	Boolean    FieldType = 'B'
	Timestamp  FieldType = 'T'
	Map        FieldType = 'M'
	Reference  FieldType = 'R' // to-one relationship
	References FieldType = 'L' // to-many relationship
)

type Field struct {
	Name    string
	Type    FieldType
	Default any
}

type Fields []Field

func (f Field) Valid() bool {
	for _, l := range f.Name { // has unsafe chars
		if l < ' ' {
			return false
		}
	}

	return (f.Type >= 'A' && f.Type <= 'Z' &&
		len(f.Name) > 0 && utf8.ValidString(f.Name))
}

func (f Field) Relationship() bool {
	return f.Type == Reference || f.Type == References
}

func (fs Fields) FindName(name string) (ndx int) {
	for i := 0; i < len(fs); i++ {
		if fs[i].Name == name {
			return i
		}
	}
	return -1
}

// zero returns the value an absent field starts out with.
func (f Field) zero() any {
	if f.Default != nil {
		return f.Default
	}
	switch f.Type {
	case String:
		return ""
	case Integer:
		return int64(0)
	case Float:
		return float64(0)
	case Boolean:
		return false
	case Map:
		return map[string]any{}
	default:
		return nil
	}
}
