package fieldkit

import (
	"sync"

	"github.com/jgaehring/field-kit/store"
	"github.com/jgaehring/field-kit/utils"
)

// Event names the two notification points a reference can observe.
type Event string

const (
	EventLoad Event = "load" // cached fields arrived
	EventSync Event = "sync" // server-confirmed fields arrived
)

// Handler receives the fields that actually changed.
type Handler func(fields FieldMap)

// Ref is an opaque handle to one checked-out entity. All bookkeeping
// stays inside the engine's arena; holders can only reach it through
// the engine's methods.
type Ref struct {
	token uint64
}

type listener struct {
	token uint64 // the Ref the handler was attached through
	event Event
	fn    Handler
}

// revision is the authoritative bookkeeping unit for one checked-out
// entity. It is owned by the engine and never handed out.
type revision struct {
	kind  string
	typ   string
	id    string
	local bool // brand-new, never synced

	lock       sync.Mutex
	state      FieldMap
	committing bool
	log        []Transaction
	deps       map[*revision]string // dependent revision -> relationship field
	lst        map[uint64]listener
	watchers   map[uint64]func(changed FieldMap)
	seq        uint64

	chain  utils.Chain
	backup *store.Handle
}

func newRevision(kind, typ, id string, defaults FieldMap) *revision {
	return &revision{
		kind:     kind,
		typ:      typ,
		id:       id,
		state:    defaults,
		deps:     make(map[*revision]string),
		lst:      make(map[uint64]listener),
		watchers: make(map[uint64]func(FieldMap)),
	}
}

// uncommitted reports whether the entity has never been accepted by
// the server or still carries queued edits.
func (rev *revision) uncommitted() bool {
	rev.lock.Lock()
	defer rev.lock.Unlock()
	return rev.local || len(rev.log) > 0
}

// beginCommit claims the revision for one commit pass; false means a
// commit higher up the dependency walk already holds it, so a cycle of
// links must not wait on itself.
func (rev *revision) beginCommit() bool {
	rev.lock.Lock()
	defer rev.lock.Unlock()
	if rev.committing {
		return false
	}
	rev.committing = true
	return true
}

func (rev *revision) endCommit() {
	rev.lock.Lock()
	rev.committing = false
	rev.lock.Unlock()
}

func (rev *revision) setLocal(local bool) {
	rev.lock.Lock()
	rev.local = local
	rev.lock.Unlock()
}

func (rev *revision) snapshot() FieldMap {
	rev.lock.Lock()
	defer rev.lock.Unlock()
	return cloneFields(rev.state)
}

func (rev *revision) get(name string) any {
	rev.lock.Lock()
	defer rev.lock.Unlock()
	return rev.state[name]
}

// emit folds a delta into live state and returns the fields that
// actually changed. Watchers observe the change synchronously, after
// the lock is released.
func (rev *revision) emit(delta FieldMap) FieldMap {
	if len(delta) == 0 {
		return FieldMap{}
	}
	rev.lock.Lock()
	changed := FieldMap{}
	for name, value := range delta {
		if !fieldEq(rev.state[name], value) {
			rev.state[name] = value
			changed[name] = value
		}
	}
	var watchers []func(FieldMap)
	if len(changed) > 0 {
		for _, w := range rev.watchers {
			watchers = append(watchers, w)
		}
	}
	rev.lock.Unlock()
	for _, w := range watchers {
		w(changed)
	}
	return changed
}

// notify invokes the event's listeners defensively: a panicking
// handler never unwinds into the engine.
func (rev *revision) notify(log utils.Logger, event Event, fields FieldMap) {
	rev.lock.Lock()
	var fire []Handler
	for _, l := range rev.lst {
		if l.event == event {
			fire = append(fire, l.fn)
		}
	}
	rev.lock.Unlock()
	for _, fn := range fire {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("listener panicked", "event", string(event), "kind", rev.kind, "panic", r)
				}
			}()
			fn(fields)
		}()
	}
}

func (rev *revision) listen(token uint64, event Event, fn Handler) (entry uint64) {
	rev.lock.Lock()
	rev.seq++
	entry = rev.seq
	rev.lst[entry] = listener{token: token, event: event, fn: fn}
	rev.lock.Unlock()
	return
}

func (rev *revision) unlisten(entry uint64) {
	rev.lock.Lock()
	delete(rev.lst, entry)
	rev.lock.Unlock()
}

// adoptListeners moves the listeners attached through a satellite
// token onto another revision, preserving their entries.
func (rev *revision) adoptListeners(from *revision, token uint64) {
	from.lock.Lock()
	moved := make(map[uint64]listener)
	for entry, l := range from.lst {
		if l.token == token {
			moved[entry] = l
			delete(from.lst, entry)
		}
	}
	from.lock.Unlock()
	rev.lock.Lock()
	for entry, l := range moved {
		if entry > rev.seq {
			rev.seq = entry
		}
		rev.lst[entry] = l
	}
	rev.lock.Unlock()
}

func (rev *revision) watch(fn func(changed FieldMap)) (entry uint64) {
	rev.lock.Lock()
	rev.seq++
	entry = rev.seq
	rev.watchers[entry] = fn
	rev.lock.Unlock()
	return
}

func (rev *revision) unwatch(entry uint64) {
	rev.lock.Lock()
	delete(rev.watchers, entry)
	rev.lock.Unlock()
}

func (rev *revision) appendTxn(txn Transaction) {
	rev.lock.Lock()
	rev.log = append(rev.log, txn)
	rev.lock.Unlock()
}

// drainLog atomically swaps the transaction log for an empty one.
// Anything appended afterwards belongs to the next commit.
func (rev *revision) drainLog() []Transaction {
	rev.lock.Lock()
	log := rev.log
	rev.log = nil
	rev.lock.Unlock()
	return log
}

// pendingLog copies the log without draining it.
func (rev *revision) pendingLog() []Transaction {
	rev.lock.Lock()
	log := make([]Transaction, len(rev.log))
	copy(log, rev.log)
	rev.lock.Unlock()
	return log
}

func (rev *revision) addDep(dep *revision, rel string) {
	rev.lock.Lock()
	rev.deps[dep] = rel
	rev.lock.Unlock()
}

func (rev *revision) dropDep(dep *revision) {
	rev.lock.Lock()
	delete(rev.deps, dep)
	rev.lock.Unlock()
}

func (rev *revision) depsSnapshot() map[*revision]string {
	rev.lock.Lock()
	deps := make(map[*revision]string, len(rev.deps))
	for dep, rel := range rev.deps {
		deps[dep] = rel
	}
	rev.lock.Unlock()
	return deps
}
