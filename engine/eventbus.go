package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"questkit/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

const (
	defaultQueueSize = 2048
	defaultWorkers   = 4
)

type subscription struct {
	id int64
	fn func(context.Context, core.Event)
}

// BusOption tunes an EventBus.
type BusOption func(*EventBus)

// WithBusLogger sets the logger used for drops and handler panics.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(e *EventBus) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithQueue sets the async queue capacity and worker count.
func WithQueue(size, workers int) BusOption {
	return func(e *EventBus) {
		if size > 0 {
			e.queueSize = size
		}
		if workers > 0 {
			e.workers = workers
		}
	}
}

// EventBus fans domain events out to subscribers. In async mode events are
// queued and handled by a fixed worker pool; a full queue drops the event.
type EventBus struct {
	mode      DispatchMode
	logger    *slog.Logger
	queueSize int
	workers   int

	mu     sync.RWMutex
	subs   map[core.EventType]map[int64]subscription
	nextID int64

	queue     chan queued
	dropped   atomic.Int64
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type queued struct {
	ctx context.Context
	ev  core.Event
}

func NewEventBus(mode DispatchMode, opts ...BusOption) *EventBus {
	eb := &EventBus{
		mode:      mode,
		logger:    slog.Default(),
		queueSize: defaultQueueSize,
		workers:   defaultWorkers,
		subs:      make(map[core.EventType]map[int64]subscription),
		stop:      make(chan struct{}),
	}
	for _, o := range opts {
		o(eb)
	}
	if mode == DispatchAsync {
		eb.queue = make(chan queued, eb.queueSize)
		for range eb.workers {
			eb.wg.Add(1)
			go eb.work()
		}
	}
	return eb
}

func (e *EventBus) work() {
	defer e.wg.Done()
	for {
		select {
		case q := <-e.queue:
			e.dispatch(q.ctx, q.ev)
		case <-e.stop:
			return
		}
	}
}

// Close stops async workers and waits for them to exit. Queued events not yet
// picked up are discarded.
func (e *EventBus) Close() {
	e.closeOnce.Do(func() {
		close(e.stop)
		e.wg.Wait()
	})
}

// Subscribe registers a handler for an event type. Returns unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.subs[typ] == nil {
		e.subs[typ] = make(map[int64]subscription)
	}
	e.subs[typ][id] = subscription{id: id, fn: handler}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if m := e.subs[typ]; m != nil {
			delete(m, id)
		}
	}
}

// SubscribeAll registers handler for every domain event type.
func (e *EventBus) SubscribeAll(handler func(context.Context, core.Event)) func() {
	types := core.EventTypes()
	unsubs := make([]func(), 0, len(types))
	for _, typ := range types {
		unsubs = append(unsubs, e.Subscribe(typ, handler))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish delivers ev to its subscribers, inline in sync mode. Async
// handlers get ctx detached from its cancellation.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e.mode != DispatchAsync {
		e.dispatch(ctx, ev)
		return
	}
	select {
	case e.queue <- queued{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		e.dropped.Add(1)
		e.logger.Warn("event bus queue full, dropping event", "type", ev.Type, "user_id", ev.UserID)
	}
}

// Dropped returns how many async events were discarded on a full queue.
func (e *EventBus) Dropped() int64 { return e.dropped.Load() }

func (e *EventBus) dispatch(ctx context.Context, ev core.Event) {
	e.mu.RLock()
	handlers := make([]func(context.Context, core.Event), 0, len(e.subs[ev.Type]))
	for _, s := range e.subs[ev.Type] {
		handlers = append(handlers, s.fn)
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		e.call(ctx, h, ev)
	}
}

// call runs one handler; a panic is logged and does not reach the publisher.
func (e *EventBus) call(ctx context.Context, h func(context.Context, core.Event), ev core.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", "type", ev.Type, "panic", r)
		}
	}()
	h(ctx, ev)
}
