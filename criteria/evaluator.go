// Package criteria decides whether a user action advances a quest criterion.
//
// Evaluation is pure: it reads the criterion and the event and recommends a
// progress increment or a met override. Malformed input never surfaces as an
// error; it is reported to a DiagnosticSink and treated as not applicable, so
// one bad criterion cannot abort the evaluation of its siblings.
package criteria

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"questkit/core"
)

// Request carries everything a rule may consult. UserID, Timezone and
// ActivatedAt are resolved by the caller and passed through untouched; no
// current rule reads them.
type Request struct {
	Criterion   core.Criterion
	Event       map[string]any
	UserID      core.UserID
	QuestID     core.QuestID
	Timezone    string
	ActivatedAt time.Time
}

// Evaluator dispatches requests to the rule registered for the criterion type.
// It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	sink   DiagnosticSink
	logger *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithDiagnosticSink routes diagnostics to s instead of the logger.
func WithDiagnosticSink(s DiagnosticSink) Option {
	return func(e *Evaluator) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithLogger sets the logger used for the default sink and debug output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// New builds an Evaluator. Diagnostics are logged as warnings unless a sink is given.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	if e.sink == nil {
		e.sink = LogSink(e.logger)
	}
	return e
}

// Evaluate returns the result recommended for req, or nil when the criterion
// does not apply to the event.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) *core.Result {
	res, diag := e.Check(ctx, req)
	if diag != nil {
		e.Report(ctx, *diag)
	}
	return res
}

// Check evaluates req like Evaluate but returns the diagnostic instead of
// delivering it, so callers holding a lock can report after releasing it.
func (e *Evaluator) Check(ctx context.Context, req Request) (*core.Result, *Diagnostic) {
	typ := req.Criterion.Type
	rule, ok := ruleFor(typ)
	if !ok {
		return nil, diagnosticFor(req, &ValidationError{
			Kind:   DiagnosticUnknownType,
			Reason: fmt.Sprintf("no rule registered for criterion type %q", typ),
		})
	}
	if typ.Reserved() {
		e.logger.DebugContext(ctx, "criterion type reserved, skipping",
			"criterion_id", req.Criterion.ID, "criterion_type", typ)
	}
	res, err := rule.Evaluate(req)
	if err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			verr = &ValidationError{Kind: DiagnosticInvalidEvent, Reason: err.Error()}
		}
		return nil, diagnosticFor(req, verr)
	}
	return res, nil
}

// Report delivers diagnostics to the configured sink.
func (e *Evaluator) Report(ctx context.Context, diags ...Diagnostic) {
	for _, d := range diags {
		e.sink.Report(ctx, d)
	}
}

// ValidateConfig checks a criterion config against its type without an event.
// Unknown types are rejected; reserved types accept any config.
func ValidateConfig(typ core.CriterionType, config map[string]any) error {
	rule, ok := ruleFor(typ)
	if !ok {
		return &ValidationError{Kind: DiagnosticUnknownType, Reason: fmt.Sprintf("unknown criterion type %q", typ)}
	}
	return rule.ValidateConfig(config)
}

func diagnosticFor(req Request, verr *ValidationError) *Diagnostic {
	return &Diagnostic{
		Kind:          verr.Kind,
		UserID:        req.UserID,
		QuestID:       req.QuestID,
		CriterionID:   req.Criterion.ID,
		CriterionType: req.Criterion.Type,
		Field:         verr.Field,
		Reason:        verr.Reason,
	}
}
