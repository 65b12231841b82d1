package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questkit/catalog"
	"questkit/core"
)

var testCatalog = filepath.Join("..", "..", "catalog", "testdata", "quests.yaml")

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestEvaluateCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		want     string
		wantDiag string
	}{
		{
			name: "habit match",
			args: []string{"--type", "habit_check", "--config", `{"habit_id":"h1"}`, "--event", `{"habitId":"h1"}`},
			want: `{"progressIncrement":1}`,
		},
		{
			name: "habit mismatch",
			args: []string{"--type", "habit_check", "--config", `{"habit_id":"h1"}`, "--event", `{"habitId":"h2"}`},
			want: "null",
		},
		{
			name: "todo count",
			args: []string{"--type", "todo_complete", "--event", `{"count":3}`, "--target", "5"},
			want: `{"progressIncrement":3}`,
		},
		{
			name: "steps below target",
			args: []string{"--type", "steps_reach", "--config", `{"target_steps":10000}`, "--event", `{"date":"2024-01-01","steps":9999}`},
			want: "null",
		},
		{
			name: "under allowance",
			args: []string{"--type", "finance_under_allowance", "--event", `{"date":"2024-01-01","spent":10,"allowance":10}`},
			want: `{"isMetOverride":true}`,
		},
		{
			name:     "malformed event",
			args:     []string{"--type", "todo_complete", "--event", `{"count":"three"}`},
			want:     "null",
			wantDiag: "invalid_event",
		},
		{
			name:     "unknown type",
			args:     []string{"--type", "meditation", "--event", `{}`},
			want:     "null",
			wantDiag: "unknown_criterion_type",
		},
		{
			name:     "null config declines",
			args:     []string{"--type", "todo_complete", "--config", "null", "--event", `{"count":1}`},
			want:     "null",
			wantDiag: "invalid_config",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, err := run(t, "", append([]string{"evaluate"}, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, strings.TrimSpace(out))
			if tt.wantDiag == "" {
				assert.Empty(t, errOut)
			} else {
				assert.Contains(t, errOut, tt.wantDiag)
			}
		})
	}
}

func TestEvaluateReadsEventFromStdin(t *testing.T) {
	out, _, err := run(t, `{"habitId":"h1","entryDate":"2024-01-01"}`,
		"evaluate", "--type", "habit_check", "--config", `{"habit_id":"h1"}`, "--event", "-")
	require.NoError(t, err)
	assert.Equal(t, `{"progressIncrement":1}`, strings.TrimSpace(out))
}

func TestEvaluateErrors(t *testing.T) {
	_, _, err := run(t, "", "evaluate", "--type", "habit_check", "--event", `[1]`)
	assert.ErrorContains(t, err, "want a JSON object")

	_, _, err = run(t, "", "evaluate", "--type", "habit_check", "--event", `{`)
	assert.ErrorContains(t, err, "parse --event")

	_, _, err = run(t, "", "evaluate", "--event", `{}`)
	assert.ErrorContains(t, err, "type")

	out, _, err := run(t, "", "evaluate", "--strict", "--type", "steps_reach", "--event", `{}`)
	assert.ErrorContains(t, err, "diagnostic")
	assert.Equal(t, "null", strings.TrimSpace(out))
}

func TestCatalogValidate(t *testing.T) {
	out, _, err := run(t, "", "catalog", "validate", testCatalog)
	require.NoError(t, err)
	assert.Contains(t, out, "2 template(s) ok")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`templates:
  - id: walk
    title: Walk
    criteria:
      - id: steps
        type: steps_reach
        config: {target_steps: many}
        target_count: 1
`), 0o644))
	_, _, err = run(t, "", "catalog", "validate", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target_steps")
}

func TestCatalogShow(t *testing.T) {
	out, _, err := run(t, "", "catalog", "show", testCatalog)
	require.NoError(t, err)
	assert.Contains(t, out, "wellness-week")
	assert.Contains(t, out, "frugal-day")

	out, _, err = run(t, "", "catalog", "show", testCatalog, "-f", "json", "-t", "frugal-day")
	require.NoError(t, err)
	var templates []catalog.Template
	require.NoError(t, json.Unmarshal([]byte(out), &templates))
	require.Len(t, templates, 1)
	assert.Equal(t, int64(40), templates[0].RewardXP)

	out, _, err = run(t, "", "catalog", "show", testCatalog, "--format", "yaml")
	require.NoError(t, err)
	parsed, err := catalog.Parse(strings.NewReader(out))
	require.NoError(t, err, "yaml output parses back as a catalog")
	assert.Equal(t, 2, parsed.Len())

	_, _, err = run(t, "", "catalog", "show", testCatalog, "-t", "missing")
	assert.ErrorIs(t, err, catalog.ErrTemplateNotFound)

	_, _, err = run(t, "", "catalog", "show", testCatalog, "-f", "xml")
	assert.Error(t, err)
}

func TestCatalogInstantiate(t *testing.T) {
	out, _, err := run(t, "", "catalog", "instantiate", testCatalog, "wellness-week", "--user", "Dana")
	require.NoError(t, err)
	var q core.Quest
	require.NoError(t, json.Unmarshal([]byte(out), &q))
	assert.Equal(t, core.UserID("dana"), q.UserID)
	assert.Len(t, q.Criteria, 3)

	_, _, err = run(t, "", "catalog", "instantiate", testCatalog, "wellness-week")
	assert.Error(t, err)
}
