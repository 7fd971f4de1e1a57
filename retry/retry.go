// Package retry re-issues failed sync sub-requests out of band and
// hands their late results back to whoever subscribed for the scope.
package retry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"github.com/jgaehring/field-kit/filter"
	"github.com/jgaehring/field-kit/transport"
	"github.com/jgaehring/field-kit/utils"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	MinRetryPeriod = time.Second / 2
	MaxRetryPeriod = time.Minute
)

type Options struct {
	Min    time.Duration
	Max    time.Duration
	Logger utils.Logger
}

func (o *Options) SetDefaults() {
	if o.Min == 0 {
		o.Min = MinRetryPeriod
	}
	if o.Max == 0 {
		o.Max = MaxRetryPeriod
	}
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelError)
	}
}

type subscription struct {
	scope     transport.Scope
	delay     time.Duration
	lock      sync.Mutex
	callbacks []func(transport.Evaluation)
}

func (sub *subscription) add(cb func(transport.Evaluation)) {
	sub.lock.Lock()
	sub.callbacks = append(sub.callbacks, cb)
	sub.lock.Unlock()
}

func (sub *subscription) fire(log utils.Logger, eval transport.Evaluation) {
	sub.lock.Lock()
	callbacks := sub.callbacks
	sub.lock.Unlock()
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("retry callback panicked", "panic", r)
				}
			}()
			cb(eval)
		}()
	}
}

// Scheduler retries failed sub-request scopes against the transport
// with capped exponential backoff. It is constructed and injected
// explicitly; there is no package-level instance.
type Scheduler struct {
	tr   transport.Transport
	log  utils.Logger
	opts Options

	subs *xsync.MapOf[uint64, *subscription]

	lock sync.Mutex
	due  utils.KeyedHeap[int64, uint64] // wake time -> scope key
	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(tr transport.Transport, opts Options) *Scheduler {
	opts.SetDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		tr:     tr,
		log:    opts.Logger,
		opts:   opts,
		subs:   xsync.NewMapOf[uint64, *subscription](),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	s.wg.Add(1)
	go func() {
		s.run()
		s.wg.Done()
	}()
	return s
}

func (s *Scheduler) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func scopeKey(scope transport.Scope) uint64 {
	raw, err := json.Marshal(scope)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(raw)
}

// Subscribe registers a failed scope for retry and returns a function
// that attaches result callbacks. The scope is retried until one
// attempt comes back usable; every callback then sees that evaluation.
func (s *Scheduler) Subscribe(kind, typ string, f filter.Filter) func(onResult func(transport.Evaluation)) {
	scope := transport.Scope{Kind: kind, Type: typ, Filter: f}
	key := scopeKey(scope)
	sub, loaded := s.subs.LoadOrStore(key, &subscription{scope: scope, delay: s.opts.Min})
	if !loaded {
		s.schedule(key, sub.delay)
	}
	return func(onResult func(transport.Evaluation)) {
		sub.add(onResult)
	}
}

func (s *Scheduler) schedule(key uint64, delay time.Duration) {
	s.lock.Lock()
	s.due.Push(time.Now().Add(delay).UnixNano(), key)
	s.lock.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	timer := time.NewTimer(s.opts.Max)
	defer timer.Stop()
	for {
		s.lock.Lock()
		next, ok := s.due.Peek()
		s.lock.Unlock()

		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.ctx.Done():
				return
			}
		}

		wait := time.Until(time.Unix(0, next.Key))
		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-s.wake:
				continue
			case <-s.ctx.Done():
				return
			}
		}

		s.lock.Lock()
		item := s.due.Pop()
		s.lock.Unlock()
		s.attempt(item.Value)
	}
}

func (s *Scheduler) attempt(key uint64) {
	sub, ok := s.subs.Load(key)
	if !ok {
		return
	}
	f := sub.scope.Filter
	if f.Empty() && sub.scope.Type != "" {
		f = filter.ByType(sub.scope.Type)
	}
	eval, err := s.tr.Sync(s.ctx, sub.scope.Kind, transport.Request{Filter: f})
	if err == nil && eval.Connectivity != transport.StatusOffline && len(eval.Repeatable) == 0 {
		s.subs.Delete(key)
		sub.fire(s.log, eval)
		return
	}
	if err != nil {
		s.log.Debug("retry attempt failed", "kind", sub.scope.Kind, "err", err)
	}
	sub.delay *= 2
	if sub.delay > s.opts.Max {
		sub.delay = s.opts.Max
	}
	s.schedule(key, sub.delay)
}
