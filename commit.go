package fieldkit

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/jgaehring/field-kit/filter"
	"github.com/jgaehring/field-kit/schema"
	"github.com/jgaehring/field-kit/transport"
	pkgerrors "github.com/pkg/errors"
)

// Commit drains each reference's queued transactions, persists and
// sends the result, and merges the server's answer back into state.
// With several references it settles them all: one failing never
// short-circuits the rest, and the aggregate error names every
// failure.
func (e *Engine) Commit(ctx context.Context, refs ...*Ref) error {
	if e.closed.Load() {
		return ErrClosed
	}
	var errs []error
	for _, ref := range refs {
		rev := e.rev(ref)
		if rev == nil {
			errs = append(errs, ErrInvalidReferent)
			continue
		}
		if _, err := e.commitRevision(ctx, rev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// commitRevision swaps the transaction log for an empty one before
// anything else: a Revise landing mid-commit goes into the next
// commit, never this one, never nowhere. The work itself runs on the
// entity's chain, serialized with its loads. A revision already being
// committed further up the dependency walk is skipped, not awaited;
// mutually linked entities would otherwise wait on each other forever.
func (e *Engine) commitRevision(ctx context.Context, rev *revision) (FieldMap, error) {
	if !rev.beginCommit() {
		return nil, nil
	}
	captured := rev.drainLog()
	out := rev.chain.Enqueue(ctx, func(ctx context.Context, _ any) (any, error) {
		return e.runCommit(ctx, rev, captured)
	})
	res := <-out
	rev.endCommit()
	if res.Err != nil {
		return nil, res.Err
	}
	confirmed, _ := res.Value.(FieldMap)
	return confirmed, nil
}

func (e *Engine) runCommit(ctx context.Context, rev *revision, captured []Transaction) (FieldMap, error) {
	start := time.Now()
	baseline := rev.snapshot()
	delta, err := Replay(baseline, captured)
	ReplayDuration.WithLabelValues(rev.kind).Observe(time.Since(start).Seconds())
	if err != nil {
		CommitCount.WithLabelValues(rev.kind, "replay_error").Inc()
		return nil, pkgerrors.Wrap(err, "replaying transactions")
	}

	rev.emit(delta)
	merged := schema.Apply(baseline, delta)

	if perr := e.st.Put(rev.kind, merged); perr != nil {
		e.opts.Alerter.Alert("failed to cache committed entity: " + perr.Error())
	}
	if rev.backup != nil {
		if cerr := e.st.Clear(rev.backup); cerr != nil {
			e.log.Warn("backup clear failed", "kind", rev.kind, "id", rev.id, "err", cerr)
		}
	}

	// dependents first: a relationship target the server has never
	// accepted must settle before this entity goes out
	byRel := make(map[string][]*revision)
	for dep, rel := range rev.depsSnapshot() {
		if dep.uncommitted() {
			byRel[rel] = append(byRel[rel], dep)
		}
	}
	spliced := FieldMap{}
	for rel, deps := range byRel {
		value := merged[rel]
		did := false
		for _, dep := range deps {
			confirmed, derr := e.commitRevision(ctx, dep)
			if derr != nil {
				e.log.Warn("dependent commit failed", "kind", dep.kind, "id", dep.id, "err", derr)
				continue
			}
			if next, ok := spliceMeta(value, confirmed); ok {
				value = next
				did = true
			}
		}
		if did {
			spliced[rel] = value
		}
	}
	if len(spliced) > 0 {
		rev.emit(spliced)
		merged = schema.Apply(merged, spliced)
	}

	eval, serr := e.tr.Sync(ctx, rev.kind, transport.Request{
		Record: merged,
		Filter: filter.Filter{ID: rev.id, Type: rev.typ},
	})
	if serr != nil {
		CommitCount.WithLabelValues(rev.kind, "sync_error").Inc()
		return nil, pkgerrors.Wrap(serr, "commit sync")
	}
	e.interpret(eval, target{rev: rev})
	CommitCount.WithLabelValues(rev.kind, "ok").Inc()

	for _, record := range eval.Data {
		if record["id"] == rev.id {
			return record, nil
		}
	}
	if len(eval.Data) > 0 {
		return eval.Data[0], nil
	}
	return merged, nil
}

// spliceMeta folds a dependent's server-assigned revision metadata
// onto the matching identifier inside a relationship value. Absent
// metadata or an unexpected id is a skip, not a failure.
func spliceMeta(value any, confirmed FieldMap) (any, bool) {
	cid, _ := confirmed["id"].(string)
	meta, _ := confirmed["meta"].(map[string]any)
	if cid == "" || len(meta) == 0 {
		return value, false
	}
	rv := RelOf(value)
	switch rv.Shape {
	case RelSingle:
		if rv.One.ID != cid {
			return value, false
		}
		one := rv.One
		one.Meta = mergeMeta(one.Meta, meta)
		return one, true
	case RelMany:
		list := slices.Clone(rv.List)
		for i := range list {
			if list[i].ID == cid {
				list[i].Meta = mergeMeta(list[i].Meta, meta)
				return list, true
			}
		}
	}
	return value, false
}

func mergeMeta(prev, meta FieldMap) FieldMap {
	next := make(FieldMap, len(prev)+len(meta))
	for k, v := range prev {
		next[k] = v
	}
	for k, v := range meta {
		next[k] = v
	}
	return next
}
