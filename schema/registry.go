package schema

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrUnknownKind = errors.New("unknown entity kind")
var ErrUnknownBundle = errors.New("unknown bundle for the kind")
var ErrBadBundle = errors.New("bad bundle description")

type Bundle struct {
	Kind   string
	Type   string
	Fields Fields
}

// Registry knows every entity kind and the field declarations of each
// of its bundles. It is safe for concurrent use.
type Registry struct {
	kinds map[string]map[string]*Bundle
	lock  sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]map[string]*Bundle)}
}

func (r *Registry) Register(b Bundle) error {
	if len(b.Kind) == 0 || len(b.Type) == 0 {
		return ErrBadBundle
	}
	for _, f := range b.Fields {
		if !f.Valid() {
			return errors.Wrap(ErrBadBundle, f.Name)
		}
	}
	r.lock.Lock()
	bundles := r.kinds[b.Kind]
	if bundles == nil {
		bundles = make(map[string]*Bundle)
		r.kinds[b.Kind] = bundles
	}
	bundles[b.Type] = &b
	r.lock.Unlock()
	return nil
}

func (r *Registry) Knows(kind string) bool {
	r.lock.RLock()
	_, ok := r.kinds[kind]
	r.lock.RUnlock()
	return ok
}

func (r *Registry) Bundle(kind, typ string) (*Bundle, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	bundles, ok := r.kinds[kind]
	if !ok {
		return nil, ErrUnknownKind
	}
	b, ok := bundles[typ]
	if !ok {
		return nil, ErrUnknownBundle
	}
	return b, nil
}

// Defaults builds the initial field map for a fresh entity. Unknown
// bundles still get the id/type envelope so brand-new local types work.
func (r *Registry) Defaults(kind, typ, id string) map[string]any {
	record := map[string]any{
		"id":   id,
		"type": typ,
	}
	b, err := r.Bundle(kind, typ)
	if err != nil {
		return record
	}
	for _, f := range b.Fields {
		record[f.Name] = f.zero()
	}
	return record
}

// Apply is the update algebra: fold a field delta into the previous
// record, refreshing the changed stamp. Neither input is mutated.
func Apply(prev, delta map[string]any) map[string]any {
	next := make(map[string]any, len(prev)+len(delta))
	for k, v := range prev {
		next[k] = v
	}
	for k, v := range delta {
		next[k] = v
	}
	if len(delta) > 0 {
		next["changed"] = time.Now().Unix()
	}
	return next
}
