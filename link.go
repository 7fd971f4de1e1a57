package fieldkit

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jgaehring/field-kit/filter"
)

// LinkRef is an opaque handle to a satellite reference that mirrors a
// relationship field on another checked-out entity.
type LinkRef struct {
	token uint64
}

type linkState int

const (
	linkEmpty linkState = iota
	linkResolving
	linkResolved
)

// linkage tracks one relationship field on a source revision and keeps
// a satellite reference structurally in sync with it. Updates are
// queued and processed one at a time: a Revise issued from inside a
// pass (the synthesized-id splice) re-enters through the queue and is
// handled as exactly one more pass, never recursively.
type linkage struct {
	e      *Engine
	src    *revision
	srcRef *Ref
	rel    string
	kind   string

	lock     sync.Mutex
	state    linkState
	queue    []any
	updating bool

	prev    RelValue
	ent     *revision // resolved to-one target
	entTok  uint64    // satellite entity token, rebound on change
	colRef  *ColRef   // satellite collection once the field turns list-shaped
	watch   uint64
	pending map[string]bool // synthesized client ids awaiting their second pass
}

// Link derives a satellite reference tracking src's relationship
// field. The source must be a live checked-out reference.
func (e *Engine) Link(src *Ref, rel, kind string) (*LinkRef, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	rev := e.rev(src)
	if rev == nil {
		return nil, ErrInvalidReferent
	}
	l := &linkage{
		e:       e,
		src:     rev,
		srcRef:  src,
		rel:     rel,
		kind:    kind,
		pending: make(map[string]bool),
	}
	// the satellite starts out blank; listeners attached before the
	// relationship resolves migrate to the target when it does
	l.entTok = e.nextToken()
	e.revs.Store(l.entTok, newRevision(kind, "", "", e.reg.Defaults(kind, "", "")))

	token := e.nextToken()
	e.links.Store(token, l)
	l.watch = rev.watch(func(changed FieldMap) {
		if v, ok := changed[rel]; ok {
			l.update(v)
		}
	})
	l.update(rev.get(rel))
	return &LinkRef{token: token}, nil
}

// Unlink stops the observation. No entity is deleted.
func (e *Engine) Unlink(lr *LinkRef) error {
	if lr == nil {
		return ErrNotLinked
	}
	l, ok := e.links.LoadAndDelete(lr.token)
	if !ok {
		return ErrNotLinked
	}
	l.src.unwatch(l.watch)
	return nil
}

// Resolve returns the satellite's current backing: the entity
// reference for a to-one relationship, the collection reference once
// the relationship has turned out to be to-many.
func (e *Engine) Resolve(lr *LinkRef) (*Ref, *ColRef, error) {
	if lr == nil {
		return nil, nil, ErrNotLinked
	}
	l, ok := e.links.Load(lr.token)
	if !ok {
		return nil, nil, ErrNotLinked
	}
	l.lock.Lock()
	col := l.colRef
	l.lock.Unlock()
	return &Ref{token: l.entTok}, col, nil
}

// update queues one observed relationship value. Only one pass runs at
// a time; values arriving mid-pass (including our own splice) are
// drained afterwards, in order.
func (l *linkage) update(v any) {
	l.lock.Lock()
	l.queue = append(l.queue, v)
	if l.updating {
		l.lock.Unlock()
		return
	}
	l.updating = true
	for len(l.queue) > 0 {
		next := l.queue[0]
		l.queue = l.queue[1:]
		l.lock.Unlock()
		l.step(next)
		l.lock.Lock()
	}
	l.updating = false
	l.lock.Unlock()
}

func (l *linkage) step(v any) {
	next := RelOf(v)
	prev := l.prev
	l.lock.Lock()
	many := l.colRef != nil
	l.lock.Unlock()
	if next.Shape == RelMany || prev.Shape == RelMany || many {
		l.stepMany(next)
		l.prev = next
		return
	}

	switch next.Shape {
	case RelEmpty:
		if prev.Shape == RelSingle && prev.One.Valid() {
			l.clearSingle()
		}
	case RelSingle:
		if !next.One.Valid() {
			// no id to resolve yet; stay as we are
			break
		}
		if prev.Shape == RelSingle && prev.One.ID == next.One.ID {
			break
		}
		l.resolveSingle(next.One)
	}
	l.prev = next
}

func (l *linkage) clearSingle() {
	if l.ent != nil {
		l.src.dropDep(l.ent)
		l.ent = nil
	}
	blank := newRevision(l.kind, "", "", l.e.reg.Defaults(l.kind, "", ""))
	if old, ok := l.e.revs.Load(l.entTok); ok {
		blank.adoptListeners(old, l.entTok)
	}
	l.e.revs.Store(l.entTok, blank)
	l.setState(linkEmpty)
}

func (l *linkage) resolveSingle(idf Identifier) {
	l.setState(linkResolving)
	if l.ent != nil {
		l.src.dropDep(l.ent)
	}
	ref, err := l.e.Checkout(l.kind, idf.Type, idf.ID)
	if err != nil {
		l.e.log.Warn("link target checkout failed", "kind", l.kind, "id", idf.ID, "err", err)
		l.setState(linkEmpty)
		return
	}
	tgt := l.e.rev(ref)
	if old, ok := l.e.revs.Load(l.entTok); ok && old != tgt {
		tgt.adoptListeners(old, l.entTok)
	}
	l.e.revs.Store(l.entTok, tgt)
	l.ent = tgt
	l.src.addDep(tgt, l.rel)
	l.setState(linkResolved)
}

func (l *linkage) stepMany(next RelValue) {
	l.lock.Lock()
	colRef := l.colRef
	l.lock.Unlock()
	if colRef == nil {
		var ids []string
		for _, idf := range next.List {
			if idf.Valid() {
				ids = append(ids, idf.ID)
			}
		}
		fresh, err := l.e.CheckoutAll(l.kind, filter.ByIDs(ids))
		if err != nil {
			l.e.log.Warn("link collection checkout failed", "kind", l.kind, "err", err)
			return
		}
		l.lock.Lock()
		l.colRef = fresh
		l.state = linkResolving
		l.lock.Unlock()
		colRef = fresh
	}
	col := l.e.col(colRef)

	nextIDs := make(map[string]bool, len(next.List))
	for _, idf := range next.List {
		if idf.Valid() {
			nextIDs[idf.ID] = true
		}
	}
	// removals first
	for _, idf := range l.prev.List {
		if idf.Valid() && !nextIDs[idf.ID] {
			if member, ok := col.remove(idf.ID); ok {
				l.src.dropDep(l.e.rev(member))
			}
		}
	}
	// then additions; id-less elements get a client id spliced back
	// through the source, which re-triggers one more pass
	for i, idf := range next.List {
		if idf.Valid() {
			synthesized := l.pending[idf.ID]
			delete(l.pending, idf.ID)
			if _, ok := col.member(idf.ID); ok {
				continue
			}
			ref, err := l.e.Checkout(l.kind, idf.Type, idf.ID)
			if err != nil {
				l.e.log.Warn("link member checkout failed", "kind", l.kind, "id", idf.ID, "err", err)
				continue
			}
			member := l.e.rev(ref)
			if synthesized {
				// a client-generated id names an entity the server
				// has never seen; it must commit before its source
				member.setLocal(true)
			}
			col.append(idf.ID, ref)
			l.src.addDep(member, l.rel)
			continue
		}
		nid := uuid.NewString()
		l.pending[nid] = true
		if err := l.e.Revise(l.srcRef, assignID(l.rel, i, nid)); err != nil {
			l.e.log.Warn("client id splice failed", "rel", l.rel, "err", err)
			delete(l.pending, nid)
		}
	}
	l.setState(linkResolved)
}

func (l *linkage) setState(s linkState) {
	l.lock.Lock()
	l.state = s
	l.lock.Unlock()
}

// assignID writes a synthesized client id onto the idx-th element of
// the relationship list. It resolves against the live state it is
// handed, never the captured value: if the element already gained an
// id, the first still id-less element gets it instead.
func assignID(rel string, idx int, nid string) Transaction {
	return func(state FieldMap) (FieldMap, error) {
		rv := RelOf(state[rel])
		if rv.Shape != RelMany {
			return FieldMap{}, nil
		}
		list := slices.Clone(rv.List)
		if idx < len(list) && list[idx].ID == "" {
			list[idx].ID = nid
			return FieldMap{rel: list}, nil
		}
		for i := range list {
			if list[i].ID == "" {
				list[i].ID = nid
				return FieldMap{rel: list}, nil
			}
		}
		return FieldMap{}, nil
	}
}
