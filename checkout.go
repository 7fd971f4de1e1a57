package fieldkit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jgaehring/field-kit/filter"
	"github.com/jgaehring/field-kit/transport"
	"github.com/pkg/errors"
)

func validID(id string) bool {
	return id != ""
}

func revKey(kind, id string) string {
	return kind + "/" + id
}

// Checkout returns a live reference to one entity. The reference is
// usable immediately; cached and server-confirmed fields arrive later
// through load and sync notifications. An empty or invalid id means a
// brand-new, locally-originated entity: it gets a client-generated id
// and never touches the cache or the network until committed.
func (e *Engine) Checkout(kind, typ, id string) (*Ref, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if !e.reg.Knows(kind) {
		return nil, errors.Wrap(ErrUnknownEntity, kind)
	}

	brandNew := !validID(id)
	backupID := id
	if brandNew {
		id = uuid.NewString()
	}

	// publication must be atomic: two first checkouts of one id must
	// share a single revision, never diverge on an orphan
	fresh := false
	rev, _ := e.byKey.LoadOrCompute(revKey(kind, id), func() *revision {
		fresh = true
		r := newRevision(kind, typ, id, e.reg.Defaults(kind, typ, id))
		r.local = brandNew
		return r
	})
	if !fresh {
		return e.newRef(rev), nil
	}

	e.restoreBackup(rev, backupID)
	ref := e.newRef(rev)

	if brandNew {
		CheckoutCount.WithLabelValues(kind, "new").Inc()
		return ref, nil
	}
	CheckoutCount.WithLabelValues(kind, "entity").Inc()

	rev.chain.Enqueue(e.ctx, func(ctx context.Context, _ any) (any, error) {
		records, gerr := e.st.Get(kind, filter.ByID(id))
		if gerr != nil {
			e.log.Warn("cache read failed", "kind", kind, "id", id, "err", gerr)
		}
		if len(records) > 0 {
			changed := e.emitMerged(rev, records[0])
			rev.notify(e.log, EventLoad, changed)
		}
		eval, serr := e.tr.Sync(ctx, kind, transport.Request{Filter: filter.ByID(id)})
		if serr != nil {
			return nil, errors.Wrap(serr, "checkout sync")
		}
		e.interpret(eval, target{rev: rev})
		return rev.snapshot(), nil
	})
	return ref, nil
}

// CheckoutAll returns a live reference to the ordered set of entities
// matching the filter. Cached matches are upserted by id first, the
// filter-scoped sync response after; member-level pending edits are
// replayed last so the snapshot never clobbers them.
func (e *Engine) CheckoutAll(kind string, f filter.Filter) (*ColRef, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if !e.reg.Knows(kind) {
		return nil, errors.Wrap(ErrUnknownEntity, kind)
	}
	CheckoutCount.WithLabelValues(kind, "collection").Inc()

	col := newCollection(kind, f)
	token := e.nextToken()
	e.cols.Store(token, col)
	ref := &ColRef{token: token}

	col.chain.Enqueue(e.ctx, func(ctx context.Context, _ any) (any, error) {
		records, gerr := e.st.Get(kind, f)
		if gerr != nil {
			e.log.Warn("cache read failed", "kind", kind, "filter", f.String(), "err", gerr)
		}
		for _, record := range records {
			e.upsertMember(col, record)
		}
		col.notify(e.log, EventLoad)

		eval, serr := e.tr.Sync(ctx, kind, transport.Request{Filter: f})
		if serr != nil {
			return nil, errors.Wrap(serr, "collection sync")
		}
		e.interpret(eval, target{col: col})
		return len(col.refs()), nil
	})
	return ref, nil
}

// restoreBackup replays the deltas recorded for the entity before the
// last shutdown and arms the revision's backup handle, so every edit
// from here on is durable.
func (e *Engine) restoreBackup(rev *revision, backupID string) {
	handle, restored, err := e.st.Restore(rev.kind, rev.typ, backupID, e.opts.Route)
	if err != nil {
		e.log.Warn("backup restore failed", "kind", rev.kind, "id", rev.id, "err", err)
	}
	rev.backup = handle
	for _, delta := range restored {
		rev.appendTxn(Patch(delta))
	}
	if len(restored) > 0 {
		if delta, rerr := Replay(rev.snapshot(), rev.pendingLog()); rerr == nil {
			rev.emit(delta)
		} else {
			e.log.Warn("restored edits failed to replay", "kind", rev.kind, "id", rev.id, "err", rerr)
		}
	}
}

// adopt finds or creates the revision for a known id without touching
// the network; collection snapshots hydrate members this way. Adopted
// members carry the same backup contract as direct checkouts.
func (e *Engine) adopt(kind string, record FieldMap) *Ref {
	id, _ := record["id"].(string)
	typ, _ := record["type"].(string)
	fresh := false
	rev, _ := e.byKey.LoadOrCompute(revKey(kind, id), func() *revision {
		fresh = true
		return newRevision(kind, typ, id, e.reg.Defaults(kind, typ, id))
	})
	if fresh {
		e.restoreBackup(rev, id)
	}
	return e.newRef(rev)
}

// upsertMember merges one record into the collection, appending a
// fresh member checkout for unseen ids, and replays the member's own
// pending edits over the just-arrived fields.
func (e *Engine) upsertMember(col *collection, record FieldMap) *Ref {
	id, _ := record["id"].(string)
	if id == "" {
		return nil
	}
	ref, ok := col.member(id)
	if !ok {
		ref = e.adopt(col.kind, record)
		col.append(id, ref)
	}
	rev := e.rev(ref)
	e.emitMerged(rev, record)
	return ref
}

// Add creates a brand-new entity of the collection's kind and appends
// it as a member.
func (e *Engine) Add(colRef *ColRef, typ string) (*Ref, error) {
	col := e.col(colRef)
	if col == nil {
		return nil, ErrInvalidReferent
	}
	ref, err := e.Checkout(col.kind, typ, "")
	if err != nil {
		return nil, err
	}
	rev := e.rev(ref)
	col.append(rev.id, ref)
	return ref, nil
}

// Append adds an already checked-out entity to the collection. The
// entity must carry a stable id; brand-new checkouts always do.
func (e *Engine) Append(colRef *ColRef, ref *Ref) error {
	col := e.col(colRef)
	rev := e.rev(ref)
	if col == nil || rev == nil {
		return ErrInvalidReferent
	}
	if !validID(rev.id) {
		return ErrBadIdentifier
	}
	col.append(rev.id, ref)
	return nil
}

// Drop removes a member from the collection. The entity itself stays
// checked out; nothing is deleted.
func (e *Engine) Drop(colRef *ColRef, ref *Ref) error {
	col := e.col(colRef)
	rev := e.rev(ref)
	if col == nil || rev == nil {
		return ErrInvalidReferent
	}
	col.remove(rev.id)
	return nil
}
