package fieldkit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jgaehring/field-kit/filter"
	"github.com/jgaehring/field-kit/schema"
	"github.com/jgaehring/field-kit/store"
	"github.com/jgaehring/field-kit/transport"
	"github.com/stretchr/testify/require"
)

type syncCall struct {
	kind string
	req  transport.Request
}

// fakeTransport scripts sync responses through fn and records every
// call. When gate is set, Sync signals entered and blocks until the
// gate closes, so tests can interleave work with an in-flight sync.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []syncCall
	fn      func(kind string, req transport.Request) (transport.Evaluation, error)
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeTransport) Sync(ctx context.Context, kind string, req transport.Request) (transport.Evaluation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, syncCall{kind: kind, req: req})
	fn := f.fn
	entered := f.entered
	gate := f.gate
	f.mu.Unlock()
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return transport.Evaluation{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(kind, req)
	}
	return transport.Evaluation{Connectivity: transport.StatusOnline}, nil
}

func (f *fakeTransport) snapshot() []syncCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]syncCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// pushes returns the calls that carried a record, in order.
func (f *fakeTransport) pushes() []syncCall {
	var out []syncCall
	for _, call := range f.snapshot() {
		if call.req.Record != nil {
			out = append(out, call)
		}
	}
	return out
}

type fakeSub struct {
	scope transport.Scope
	mu    sync.Mutex
	cbs   []func(transport.Evaluation)
}

func (sub *fakeSub) fire(eval transport.Evaluation) {
	sub.mu.Lock()
	cbs := append([]func(transport.Evaluation){}, sub.cbs...)
	sub.mu.Unlock()
	for _, cb := range cbs {
		cb(eval)
	}
}

// fakeScheduler records subscriptions and lets tests deliver late
// results by hand.
type fakeScheduler struct {
	mu   sync.Mutex
	subs []*fakeSub
}

func (s *fakeScheduler) Subscribe(kind, typ string, f filter.Filter) func(onResult func(transport.Evaluation)) {
	sub := &fakeSub{scope: transport.Scope{Kind: kind, Type: typ, Filter: f}}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return func(onResult func(transport.Evaluation)) {
		sub.mu.Lock()
		sub.cbs = append(sub.cbs, onResult)
		sub.mu.Unlock()
	}
}

func (s *fakeScheduler) all() []*fakeSub {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeSub{}, s.subs...)
}

type memAlerter struct {
	mu   sync.Mutex
	msgs []string
}

func (a *memAlerter) Alert(msg string) {
	a.mu.Lock()
	a.msgs = append(a.msgs, msg)
	a.mu.Unlock()
}

func (a *memAlerter) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.msgs...)
}

type memNavigator struct {
	redirects atomic.Int32
}

func (n *memNavigator) RedirectToLogin() {
	n.redirects.Add(1)
}

type harness struct {
	e   *Engine
	st  *store.Store
	tr  *fakeTransport
	rs  *fakeScheduler
	al  *memAlerter
	nav *memNavigator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(t.TempDir(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	h := &harness{
		st:  st,
		tr:  &fakeTransport{},
		rs:  &fakeScheduler{},
		al:  &memAlerter{},
		nav: &memNavigator{},
	}
	h.e = New(schema.Farm(), st, h.tr, h.rs, Options{
		Alerter:   h.al,
		Navigator: h.nav,
		Route:     "tests",
	})
	t.Cleanup(func() { _ = h.e.Close() })
	return h
}

// await drains the entity's serialized work queue.
func (h *harness) await(ref *Ref) {
	h.e.rev(ref).chain.Await()
}

func (h *harness) awaitCol(ref *ColRef) {
	h.e.col(ref).chain.Await()
}

func (h *harness) state(t *testing.T, ref *Ref) FieldMap {
	t.Helper()
	fields, err := h.e.State(ref)
	require.NoError(t, err)
	return fields
}
