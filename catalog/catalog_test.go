package catalog

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questkit/core"
)

func TestLoadTestdata(t *testing.T) {
	c, err := Load("testdata/quests.yaml")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"frugal-day", "wellness-week"}, c.IDs())

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "wellness-week", list[0].ID, "file order preserved")
	assert.Len(t, list[0].Criteria, 3)
}

func TestInstantiate(t *testing.T) {
	c, err := Load("testdata/quests.yaml")
	require.NoError(t, err)
	now := time.Date(2024, 5, 1, 8, 30, 0, 0, time.FixedZone("CEST", 2*3600))

	q, err := c.Instantiate("wellness-week", "alice", now)
	require.NoError(t, err)

	want := core.Quest{
		UserID:      "alice",
		Title:       "Wellness week",
		Description: "Drink water, walk, and clear the backlog.",
		Status:      core.QuestActive,
		RewardXP:    150,
		ActivatedAt: now.UTC(),
		Criteria: []core.Criterion{
			{ID: "water", Type: core.CriterionHabitCheck, Config: map[string]any{"habit_id": "water"}, TargetCount: 5},
			{ID: "walk", Type: core.CriterionStepsReach, Config: map[string]any{"target_steps": 8000.0}, TargetCount: 1},
			{ID: "backlog", Type: core.CriterionTodoComplete, Config: map[string]any{}, TargetCount: 10},
		},
	}
	if diff := cmp.Diff(want, q); diff != "" {
		t.Fatalf("instantiated quest mismatch (-want +got):\n%s", diff)
	}

	frugal, err := c.Instantiate("frugal-day", "alice", now)
	require.NoError(t, err)
	assert.NotNil(t, frugal.Criteria[0].Config, "missing config becomes an empty object")

	_, err = c.Instantiate("nope", "alice", now)
	assert.True(t, errors.Is(err, ErrTemplateNotFound))
}

func TestInstantiateDoesNotShareConfig(t *testing.T) {
	c, err := Load("testdata/quests.yaml")
	require.NoError(t, err)
	a, _ := c.Instantiate("wellness-week", "a", time.Now())
	a.Criteria[0].Config["habit_id"] = "changed"
	b, _ := c.Instantiate("wellness-week", "b", time.Now())
	assert.Equal(t, "water", b.Criteria[0].Config["habit_id"])
}

func TestParseRejectsInvalidTemplates(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown type",
			yaml: `
templates:
  - id: t1
    title: T
    criteria:
      - {id: c1, type: sleep_hours, target_count: 1}
`,
			want: "unknown criterion type",
		},
		{
			name: "bad config",
			yaml: `
templates:
  - id: t1
    title: T
    criteria:
      - {id: c1, type: steps_reach, config: {target_steps: lots}, target_count: 1}
`,
			want: "target_steps",
		},
		{
			name: "duplicate template",
			yaml: `
templates:
  - {id: t1, title: T, criteria: [{id: c1, type: todo_complete, target_count: 1}]}
  - {id: t1, title: U, criteria: [{id: c1, type: todo_complete, target_count: 1}]}
`,
			want: "duplicate id",
		},
		{
			name: "zero target",
			yaml: `
templates:
  - {id: t1, title: T, criteria: [{id: c1, type: todo_complete, target_count: 0}]}
`,
			want: "target_count",
		},
		{
			name: "unknown field",
			yaml: `
templates:
  - {id: t1, title: T, rewards: 3, criteria: [{id: c1, type: todo_complete, target_count: 1}]}
`,
			want: "decode catalog",
		},
		{
			name: "missing title",
			yaml: `
templates:
  - {id: t1, criteria: [{id: c1, type: todo_complete, target_count: 1}]}
`,
			want: "title is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, c.Len())
}
