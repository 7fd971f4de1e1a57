// Package fieldkit is an offline-first synchronization engine for farm
// entities. Callers check out entities or filtered collections, queue
// local edits as transactions, and commit them once connectivity
// allows; the engine merges local intent with server-confirmed state,
// orders multi-entity commits by data dependency, and recovers from
// partial sync failures through retry subscriptions.
package fieldkit

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/jgaehring/field-kit/filter"
	"github.com/jgaehring/field-kit/schema"
	"github.com/jgaehring/field-kit/store"
	"github.com/jgaehring/field-kit/transport"
	"github.com/jgaehring/field-kit/utils"
	"github.com/puzpuzpuz/xsync/v3"
)

// Alerter surfaces non-fatal trouble (warnings, cache write failures)
// to whatever presentation layer the app has.
type Alerter interface {
	Alert(msg string)
}

// Navigator handles the login redirect when the server demands
// re-authentication.
type Navigator interface {
	RedirectToLogin()
}

// RetryScheduler re-issues failed sync sub-requests; retry.Scheduler
// is the production implementation.
type RetryScheduler interface {
	Subscribe(kind, typ string, f filter.Filter) func(onResult func(transport.Evaluation))
}

type logAlerter struct{ log utils.Logger }

func (a logAlerter) Alert(msg string) { a.log.Warn(msg) }

type noNavigator struct{}

func (noNavigator) RedirectToLogin() {}

type Options struct {
	Logger    utils.Logger
	Alerter   Alerter
	Navigator Navigator
	// Route keys brand-new entities' backups, so an interrupted
	// creation is restored to the page that started it.
	Route string
}

func (o *Options) SetDefaults() {
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelError)
	}
	if o.Alerter == nil {
		o.Alerter = logAlerter{log: o.Logger}
	}
	if o.Navigator == nil {
		o.Navigator = noNavigator{}
	}
}

// Engine owns every checked-out entity's bookkeeping. References are
// opaque tokens into its arenas; no caller can enumerate or mutate a
// revision except through the engine's own methods.
type Engine struct {
	reg *schema.Registry
	st  *store.Store
	tr  transport.Transport
	rs  RetryScheduler
	log utils.Logger

	opts Options

	tokens atomic.Uint64
	revs   *xsync.MapOf[uint64, *revision]
	cols   *xsync.MapOf[uint64, *collection]
	links  *xsync.MapOf[uint64, *linkage]
	byKey  *xsync.MapOf[string, *revision] // kind/id -> checked-out revision

	connectivity atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

func New(reg *schema.Registry, st *store.Store, tr transport.Transport, rs RetryScheduler, opts Options) *Engine {
	opts.SetDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		reg:    reg,
		st:     st,
		tr:     tr,
		rs:     rs,
		log:    opts.Logger,
		opts:   opts,
		revs:   xsync.NewMapOf[uint64, *revision](),
		cols:   xsync.NewMapOf[uint64, *collection](),
		links:  xsync.NewMapOf[uint64, *linkage](),
		byKey:  xsync.NewMapOf[string, *revision](),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close stops background work. The store, transport and scheduler are
// injected, so their lifetime stays with the caller.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	e.cancel()
	e.revs.Range(func(_ uint64, rev *revision) bool {
		rev.chain.Await()
		return true
	})
	e.cols.Range(func(_ uint64, col *collection) bool {
		col.chain.Await()
		return true
	})
	return nil
}

// Connectivity reports the last status any sync response carried.
func (e *Engine) Connectivity() transport.Connectivity {
	return transport.Connectivity(e.connectivity.Load())
}

func (e *Engine) nextToken() uint64 {
	return e.tokens.Add(1)
}

func (e *Engine) newRef(rev *revision) *Ref {
	token := e.nextToken()
	e.revs.Store(token, rev)
	return &Ref{token: token}
}

func (e *Engine) rev(ref *Ref) *revision {
	if ref == nil {
		return nil
	}
	rev, _ := e.revs.Load(ref.token)
	return rev
}

func (e *Engine) col(ref *ColRef) *collection {
	if ref == nil {
		return nil
	}
	col, _ := e.cols.Load(ref.token)
	return col
}

// State returns a read-only snapshot of the entity's live fields.
func (e *Engine) State(ref *Ref) (FieldMap, error) {
	rev := e.rev(ref)
	if rev == nil {
		return nil, ErrInvalidReferent
	}
	return rev.snapshot(), nil
}

// ID returns the entity id behind a reference; brand-new entities
// carry their client-generated id.
func (e *Engine) ID(ref *Ref) (string, error) {
	rev := e.rev(ref)
	if rev == nil {
		return "", ErrInvalidReferent
	}
	return rev.id, nil
}

// Members returns the collection's current member list in order.
func (e *Engine) Members(ref *ColRef) ([]*Ref, error) {
	col := e.col(ref)
	if col == nil {
		return nil, ErrInvalidReferent
	}
	return col.refs(), nil
}

// On subscribes to an entity reference's load or sync notifications.
// The returned function unsubscribes.
func (e *Engine) On(ref *Ref, event Event, fn Handler) (func(), error) {
	rev := e.rev(ref)
	if rev == nil {
		return nil, ErrInvalidReferent
	}
	entry := rev.listen(ref.token, event, fn)
	token := ref.token
	return func() {
		if cur, ok := e.revs.Load(token); ok {
			cur.unlisten(entry)
		}
	}, nil
}

// OnCollection subscribes to a collection's load or sync notifications.
func (e *Engine) OnCollection(ref *ColRef, event Event, fn CollectionHandler) (func(), error) {
	col := e.col(ref)
	if col == nil {
		return nil, ErrInvalidReferent
	}
	entry := col.listen(event, fn)
	return func() { col.unlisten(entry) }, nil
}

// Revise queues one local edit and applies it to live state at once,
// so the edit is visible before any network round trip and survives a
// reload through the backup store.
func (e *Engine) Revise(ref *Ref, txn Transaction) error {
	rev := e.rev(ref)
	if rev == nil {
		return ErrInvalidReferent
	}
	delta, err := Replay(rev.snapshot(), []Transaction{txn})
	if err != nil {
		return err
	}
	rev.appendTxn(txn)
	changed := rev.emit(delta)
	if rev.backup != nil && len(changed) > 0 {
		if berr := e.st.Record(rev.backup, changed); berr != nil {
			e.opts.Alerter.Alert("failed to back up edits: " + berr.Error())
		}
	}
	return nil
}

// ReviseFields is Revise with a constant delta.
func (e *Engine) ReviseFields(ref *Ref, delta FieldMap) error {
	return e.Revise(ref, Patch(delta))
}
