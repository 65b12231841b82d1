package engine

import (
	"context"

	"questkit/core"
	"questkit/criteria"
)

// DiagnosticPublisher turns evaluation diagnostics into criterion_rejected events.
func DiagnosticPublisher(bus *EventBus) criteria.DiagnosticSink {
	return criteria.DiagnosticFunc(func(ctx context.Context, d criteria.Diagnostic) {
		detail := d.Reason
		if d.Field != "" {
			detail = d.Field + " " + d.Reason
		}
		bus.Publish(ctx, core.NewCriterionRejected(d.UserID, d.QuestID, d.CriterionID, d.CriterionType, string(d.Kind), detail))
	})
}
