package filter

import (
	"encoding/json"
	"reflect"

	"github.com/cespare/xxhash"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Filter selects entities by id, bundle type, and exact field values.
// The zero Filter matches everything.
type Filter struct {
	ID     string         `json:"id,omitempty"`
	IDs    []string       `json:"ids,omitempty"`
	Type   string         `json:"type,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func ByID(id string) Filter {
	return Filter{ID: id}
}

func ByIDs(ids []string) Filter {
	return Filter{IDs: ids}
}

func ByType(typ string) Filter {
	return Filter{Type: typ}
}

func (f Filter) Empty() bool {
	return f.ID == "" && len(f.IDs) == 0 && f.Type == "" && len(f.Fields) == 0
}

// Key is a stable hash of the canonical encoding; json.Marshal sorts
// map keys, so equal filters always collide.
func (f Filter) Key() uint64 {
	raw, err := json.Marshal(f)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(raw)
}

func (f Filter) String() string {
	raw, _ := json.Marshal(f)
	return string(raw)
}

// Predicate reports whether a flattened record matches.
type Predicate func(record map[string]any) bool

var compiled, _ = lru.New[uint64, Predicate](1024)

// Compile builds (or re-uses) the predicate for a filter.
func Compile(f Filter) Predicate {
	key := f.Key()
	if p, ok := compiled.Get(key); ok {
		return p
	}
	p := func(record map[string]any) bool {
		if f.ID != "" && record["id"] != f.ID {
			return false
		}
		if len(f.IDs) > 0 {
			id, _ := record["id"].(string)
			found := false
			for _, want := range f.IDs {
				if id == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		if f.Type != "" && record["type"] != f.Type {
			return false
		}
		for name, want := range f.Fields {
			if !reflect.DeepEqual(record[name], want) {
				return false
			}
		}
		return true
	}
	compiled.Add(key, p)
	return p
}

// Match is a one-shot Compile-and-apply.
func Match(f Filter, record map[string]any) bool {
	return Compile(f)(record)
}
