// Package questkit assembles a ready-to-use quest service from its parts.
package questkit

import (
	"log/slog"
	"time"

	"questkit/adapters/memory"
	"questkit/analytics"
	"questkit/criteria"
	"questkit/engine"
	"questkit/integrations/webhook"
	"questkit/realtime"
)

// Option configures the quest service builder.
type Option func(*config)

type config struct {
	storage  engine.Storage
	mode     engine.DispatchMode
	hub      *realtime.Hub
	hooks    []analytics.Hook
	webhook  *webhook.Sink
	sinks    []criteria.DiagnosticSink
	logger   *slog.Logger
	loc      *time.Location
	parallel int
	now      func() time.Time
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithHooks feeds every engine event to the given analytics hooks.
func WithHooks(hooks ...analytics.Hook) Option {
	return func(c *config) { c.hooks = append(c.hooks, hooks...) }
}

// WithWebhook delivers accepted events to s.
func WithWebhook(s *webhook.Sink) Option { return func(c *config) { c.webhook = s } }

// WithDiagnosticSink adds a sink next to the logging and event sinks.
func WithDiagnosticSink(s criteria.DiagnosticSink) Option {
	return func(c *config) { c.sinks = append(c.sinks, s) }
}

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithDefaultTimezone sets the zone used for actions that carry none.
func WithDefaultTimezone(loc *time.Location) Option { return func(c *config) { c.loc = loc } }

// WithParallelism bounds per-action quest fan-out.
func WithParallelism(n int) Option { return func(c *config) { c.parallel = n } }

// WithClock overrides the service time source.
func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }

// New builds a configured QuestService. If not provided, defaults are used:
//   - storage: in-memory
//   - dispatch: async
//   - timezone: UTC
//
// Diagnostics are logged and republished as criterion_rejected events.
func New(opts ...Option) *engine.QuestService {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = memory.New()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	bus := engine.NewEventBus(cfg.mode, engine.WithBusLogger(cfg.logger))
	sinks := append([]criteria.DiagnosticSink{
		criteria.LogSink(cfg.logger),
		engine.DiagnosticPublisher(bus),
	}, cfg.sinks...)
	evaluator := criteria.New(
		criteria.WithLogger(cfg.logger),
		criteria.WithDiagnosticSink(criteria.MultiSink(sinks...)),
	)

	svc := engine.NewQuestService(cfg.storage, bus, evaluator,
		engine.WithServiceLogger(cfg.logger),
		engine.WithDefaultTimezone(cfg.loc),
		engine.WithParallelism(cfg.parallel),
		engine.WithClock(cfg.now),
	)

	if cfg.hub != nil {
		bus.SubscribeAll(cfg.hub.Broadcast)
	}
	if len(cfg.hooks) > 0 {
		bus.SubscribeAll(analytics.NewBridge(cfg.hooks...).OnEvent)
	}
	if cfg.webhook != nil {
		bus.SubscribeAll(cfg.webhook.OnEvent)
	}
	return svc
}
