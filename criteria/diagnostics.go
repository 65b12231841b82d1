package criteria

import (
	"context"
	"log/slog"

	"questkit/core"
)

// DiagnosticKind classifies why a criterion was declined for malformed input.
type DiagnosticKind string

const (
	DiagnosticUnknownType   DiagnosticKind = "unknown_criterion_type"
	DiagnosticInvalidConfig DiagnosticKind = "invalid_config"
	DiagnosticInvalidEvent  DiagnosticKind = "invalid_event"
)

// Diagnostic describes a swallowed evaluation failure. It never affects the
// evaluation outcome, which is always "not applicable" in these cases.
type Diagnostic struct {
	Kind          DiagnosticKind     `json:"kind"`
	UserID        core.UserID        `json:"user_id,omitempty"`
	QuestID       core.QuestID       `json:"quest_id,omitempty"`
	CriterionID   core.CriterionID   `json:"criterion_id,omitempty"`
	CriterionType core.CriterionType `json:"criterion_type"`
	Field         string             `json:"field,omitempty"`
	Reason        string             `json:"reason"`
}

// DiagnosticSink receives diagnostics emitted during evaluation.
type DiagnosticSink interface {
	Report(ctx context.Context, d Diagnostic)
}

// DiagnosticFunc adapts a function to DiagnosticSink.
type DiagnosticFunc func(ctx context.Context, d Diagnostic)

func (f DiagnosticFunc) Report(ctx context.Context, d Diagnostic) { f(ctx, d) }

// LogSink writes diagnostics as structured warnings.
func LogSink(logger *slog.Logger) DiagnosticSink {
	if logger == nil {
		logger = slog.Default()
	}
	return DiagnosticFunc(func(ctx context.Context, d Diagnostic) {
		logger.WarnContext(ctx, "criterion evaluation declined",
			"kind", d.Kind,
			"criterion_id", d.CriterionID,
			"criterion_type", d.CriterionType,
			"quest_id", d.QuestID,
			"user_id", d.UserID,
			"field", d.Field,
			"reason", d.Reason)
	})
}

// MultiSink fans a diagnostic out to every non-nil sink.
func MultiSink(sinks ...DiagnosticSink) DiagnosticSink {
	return DiagnosticFunc(func(ctx context.Context, d Diagnostic) {
		for _, s := range sinks {
			if s != nil {
				s.Report(ctx, d)
			}
		}
	})
}

// DiscardSink drops all diagnostics.
var DiscardSink DiagnosticSink = DiagnosticFunc(func(context.Context, Diagnostic) {})
