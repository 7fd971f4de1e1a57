package fieldkit

import (
	"sync"

	"github.com/jgaehring/field-kit/filter"
	"github.com/jgaehring/field-kit/utils"
)

// ColRef is an opaque handle to one checked-out, filtered set of
// entities. Member order is display order.
type ColRef struct {
	token uint64
}

// CollectionHandler receives the member list as of the notification.
type CollectionHandler func(members []*Ref)

type colListener struct {
	event Event
	fn    CollectionHandler
}

type collection struct {
	kind   string
	filter filter.Filter

	lock    sync.Mutex
	members []*Ref
	index   map[string]*Ref // entity id -> member
	lst     map[uint64]colListener
	seq     uint64

	chain utils.Chain
}

func newCollection(kind string, f filter.Filter) *collection {
	return &collection{
		kind:   kind,
		filter: f,
		index:  make(map[string]*Ref),
		lst:    make(map[uint64]colListener),
	}
}

func (col *collection) refs() []*Ref {
	col.lock.Lock()
	out := make([]*Ref, len(col.members))
	copy(out, col.members)
	col.lock.Unlock()
	return out
}

func (col *collection) member(id string) (*Ref, bool) {
	col.lock.Lock()
	ref, ok := col.index[id]
	col.lock.Unlock()
	return ref, ok
}

// append adds a member unless its id is already present.
func (col *collection) append(id string, ref *Ref) bool {
	col.lock.Lock()
	defer col.lock.Unlock()
	if _, ok := col.index[id]; ok {
		return false
	}
	col.members = append(col.members, ref)
	col.index[id] = ref
	return true
}

func (col *collection) remove(id string) (*Ref, bool) {
	col.lock.Lock()
	defer col.lock.Unlock()
	ref, ok := col.index[id]
	if !ok {
		return nil, false
	}
	delete(col.index, id)
	for i, m := range col.members {
		if m == ref {
			col.members = append(col.members[:i], col.members[i+1:]...)
			break
		}
	}
	return ref, true
}

func (col *collection) listen(event Event, fn CollectionHandler) (entry uint64) {
	col.lock.Lock()
	col.seq++
	entry = col.seq
	col.lst[entry] = colListener{event: event, fn: fn}
	col.lock.Unlock()
	return
}

func (col *collection) unlisten(entry uint64) {
	col.lock.Lock()
	delete(col.lst, entry)
	col.lock.Unlock()
}

func (col *collection) notify(log utils.Logger, event Event) {
	col.lock.Lock()
	var fire []CollectionHandler
	for _, l := range col.lst {
		if l.event == event {
			fire = append(fire, l.fn)
		}
	}
	col.lock.Unlock()
	members := col.refs()
	for _, fn := range fire {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("collection listener panicked", "event", string(event), "kind", col.kind, "panic", r)
				}
			}()
			fn(members)
		}()
	}
}
