package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"questkit/core"
	"questkit/criteria"
)

type evaluateFlags struct {
	typ      string
	config   string
	event    string
	progress int64
	target   int64
	user     string
	timezone string
	strict   bool
}

func newEvaluateCmd(c *cli) *cobra.Command {
	f := &evaluateFlags{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one criterion against one event",
		Long: `Evaluates a criterion of --type with --config against --event and prints
the recommended result as JSON, or null when the event does not apply.
Pass --event - to read the event from stdin. Diagnostics go to stderr.`,
		Example: `  questkit evaluate --type habit_check --config '{"habit_id":"h1"}' --event '{"habitId":"h1"}'`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluate(cmd.Context(), c, f)
		},
	}
	cmd.Flags().StringVar(&f.typ, "type", "", "criterion type")
	cmd.Flags().StringVar(&f.config, "config", "{}", "criterion config as a JSON object")
	cmd.Flags().StringVar(&f.event, "event", "", "event payload as a JSON object, or - for stdin")
	cmd.Flags().Int64Var(&f.progress, "progress", 0, "current progress of the criterion")
	cmd.Flags().Int64Var(&f.target, "target", 1, "target count of the criterion")
	cmd.Flags().StringVar(&f.user, "user", "", "user id passed through to the evaluator")
	cmd.Flags().StringVar(&f.timezone, "timezone", "", "user timezone passed through to the evaluator")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "exit non-zero when a diagnostic is reported")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func runEvaluate(ctx context.Context, c *cli, f *evaluateFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	config, err := parseObject("config", strings.NewReader(f.config))
	if err != nil {
		return err
	}
	eventSrc := io.Reader(strings.NewReader(f.event))
	if f.event == "-" {
		eventSrc = c.in
	}
	event, err := parseObject("event", eventSrc)
	if err != nil {
		return err
	}

	var reported atomic.Int64
	counter := criteria.DiagnosticFunc(func(context.Context, criteria.Diagnostic) { reported.Add(1) })
	logger := c.logger()
	eval := criteria.New(
		criteria.WithLogger(logger),
		criteria.WithDiagnosticSink(criteria.MultiSink(criteria.LogSink(logger), counter)),
	)
	res := eval.Evaluate(ctx, criteria.Request{
		Criterion: core.Criterion{
			ID:              "cli",
			Type:            core.CriterionType(f.typ),
			Config:          config,
			CurrentProgress: f.progress,
			TargetCount:     f.target,
		},
		Event:    event,
		UserID:   core.UserID(f.user),
		Timezone: f.timezone,
	})

	out, err := json.Marshal(res)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, string(out))
	if f.strict && reported.Load() > 0 {
		return fmt.Errorf("%d diagnostic(s) reported", reported.Load())
	}
	return nil
}

// parseObject decodes r as JSON. A JSON null is passed through as a nil map
// so the evaluator can report it; any other non-object is an error.
func parseObject(name string, r io.Reader) (map[string]any, error) {
	var v any
	dec := json.NewDecoder(r)
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse --%s: %w", name, err)
	}
	switch obj := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return obj, nil
	default:
		return nil, fmt.Errorf("parse --%s: want a JSON object, got %T", name, v)
	}
}
