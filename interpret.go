package fieldkit

import (
	"github.com/jgaehring/field-kit/transport"
)

// target is whatever bookkeeping record a sync response lands on.
type target struct {
	rev *revision
	col *collection
}

// interpret turns one normalized sync evaluation into side effects,
// in order: connectivity status, warnings, retry subscriptions for
// repeatable sub-requests, login redirect, data merge plus cache
// write-back. A late retry result is folded back through this same
// path, exactly as an original response would be.
func (e *Engine) interpret(eval transport.Evaluation, tgt target) {
	kind := e.targetKind(tgt)

	if eval.Connectivity != transport.StatusUnknown {
		e.connectivity.Store(int32(eval.Connectivity))
		ConnectivityStatus.Set(float64(eval.Connectivity))
	}

	for _, warning := range eval.Warnings {
		SyncWarningCount.WithLabelValues(kind).Inc()
		e.opts.Alerter.Alert(warning)
	}

	if e.rs != nil {
		for _, scope := range eval.Repeatable {
			RetrySubscriptionCount.WithLabelValues(scope.Kind).Inc()
			attach := e.rs.Subscribe(scope.Kind, scope.Type, scope.Filter)
			attach(func(late transport.Evaluation) {
				e.interpret(late, tgt)
			})
		}
	}

	if eval.LoginRequired {
		e.opts.Navigator.RedirectToLogin()
	}

	if len(eval.Data) == 0 {
		return
	}
	switch {
	case tgt.rev != nil:
		e.mergeEntity(eval.Data, tgt.rev)
	case tgt.col != nil:
		e.mergeCollection(eval.Data, tgt.col)
	}
}

func (e *Engine) targetKind(tgt target) string {
	switch {
	case tgt.rev != nil:
		return tgt.rev.kind
	case tgt.col != nil:
		return tgt.col.kind
	}
	return ""
}

// emitMerged folds an arriving record into a revision's state and then
// replays the still-pending transaction log over it, so a local edit
// is never clobbered by cache hydration or a sync snapshot.
func (e *Engine) emitMerged(rev *revision, record FieldMap) FieldMap {
	changed := rev.emit(record)
	if delta, err := Replay(rev.snapshot(), rev.pendingLog()); err == nil {
		for name, value := range rev.emit(delta) {
			changed[name] = value
		}
	} else {
		e.log.Warn("pending edits failed to replay", "kind", rev.kind, "id", rev.id, "err", err)
	}
	return changed
}

// mergeEntity folds server data into one revision's state, notifies
// sync listeners, and writes the result back to the cache.
func (e *Engine) mergeEntity(data []FieldMap, rev *revision) {
	record := data[0]
	for _, candidate := range data {
		if candidate["id"] == rev.id {
			record = candidate
			break
		}
	}
	changed := e.emitMerged(rev, record)
	rev.setLocal(false)
	rev.notify(e.log, EventSync, changed)
	if err := e.st.Put(rev.kind, rev.snapshot()); err != nil {
		e.opts.Alerter.Alert("failed to cache synced entity: " + err.Error())
	}
}

// mergeCollection upserts each returned record into the member list
// (reused ids updated in place, new ids appended), caches them, and
// notifies the collection's sync listeners once.
func (e *Engine) mergeCollection(data []FieldMap, col *collection) {
	for _, record := range data {
		ref := e.upsertMember(col, record)
		if ref == nil {
			continue
		}
		if err := e.st.Put(col.kind, e.rev(ref).snapshot()); err != nil {
			e.opts.Alerter.Alert("failed to cache synced entity: " + err.Error())
		}
	}
	col.notify(e.log, EventSync)
}
