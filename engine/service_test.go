package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "questkit/adapters/memory"
	"questkit/core"
	"questkit/criteria"
)

var activation = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type eventLog struct {
	mu     sync.Mutex
	events []core.Event
}

func (l *eventLog) record(_ context.Context, e core.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count(typ core.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T) (*QuestService, *eventLog) {
	t.Helper()
	bus := NewEventBus(DispatchSync)
	eval := criteria.New(criteria.WithDiagnosticSink(DiagnosticPublisher(bus)))
	svc := NewQuestService(mem.New(), bus, eval,
		WithClock(func() time.Time { return activation.Add(48 * time.Hour) }))
	log := &eventLog{}
	bus.SubscribeAll(log.record)
	t.Cleanup(svc.Close)
	return svc, log
}

func wellnessQuest() core.Quest {
	return core.Quest{
		UserID:      "Alice",
		Title:       "Wellness week",
		ActivatedAt: activation,
		RewardXP:    50,
		Criteria: []core.Criterion{
			{ID: "water", Type: core.CriterionHabitCheck, Config: map[string]any{"habit_id": "h1"}, TargetCount: 2},
			{ID: "walk", Type: core.CriterionStepsReach, Config: map[string]any{"target_steps": 10000.0}, TargetCount: 1},
			{ID: "tasks", Type: core.CriterionTodoComplete, TargetCount: 5},
		},
	}
}

func TestCreateQuestNormalizes(t *testing.T) {
	svc, log := newTestService(t)
	in := wellnessQuest()
	in.Criteria[0].CurrentProgress = 7
	in.Criteria[0].IsMet = true

	q, err := svc.CreateQuest(context.Background(), in)
	require.NoError(t, err)
	assert.NotEmpty(t, q.ID)
	assert.Equal(t, core.UserID("alice"), q.UserID)
	assert.Equal(t, core.QuestActive, q.Status)
	assert.Zero(t, q.Criteria[0].CurrentProgress)
	assert.False(t, q.Criteria[0].IsMet)
	assert.NotNil(t, q.Criteria[2].Config, "nil config becomes an empty object")
	assert.Equal(t, 1, log.count(core.EventQuestCreated))

	stored, err := svc.GetQuest(context.Background(), "ALICE", q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.Title, stored.Title)
}

func TestCreateQuestRejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bad := wellnessQuest()
	bad.Criteria[1].Config = map[string]any{"target_steps": "many"}
	_, err := svc.CreateQuest(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidQuest)

	bad = wellnessQuest()
	bad.Criteria[0].Type = "sleep_hours"
	_, err = svc.CreateQuest(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidQuest)

	bad = wellnessQuest()
	bad.UserID = " "
	_, err = svc.CreateQuest(ctx, bad)
	assert.Error(t, err)
}

func TestRecordActionProgressesAndCompletes(t *testing.T) {
	svc, log := newTestService(t)
	ctx := context.Background()
	q, err := svc.CreateQuest(ctx, wellnessQuest())
	require.NoError(t, err)

	habit := core.Action{Type: core.CriterionHabitCheck, Payload: map[string]any{"habitId": "h1", "entryDate": "2024-01-02"}}
	out, err := svc.RecordAction(ctx, "alice", habit)
	require.NoError(t, err)
	require.Len(t, out.Updates, 1)
	assert.Equal(t, int64(1), out.Updates[0].Progress)
	assert.False(t, out.Updates[0].IsMet)

	out, err = svc.RecordAction(ctx, "alice", habit)
	require.NoError(t, err)
	require.Len(t, out.Updates, 1)
	assert.True(t, out.Updates[0].IsMet)

	out, err = svc.RecordAction(ctx, "alice", habit)
	require.NoError(t, err)
	assert.Empty(t, out.Updates, "met criteria are skipped")

	out, err = svc.RecordAction(ctx, "alice", core.Action{Type: core.CriterionStepsReach, Payload: map[string]any{"date": "2024-01-02", "steps": 12000.0}})
	require.NoError(t, err)
	require.Len(t, out.Updates, 1)
	assert.True(t, out.Updates[0].Result.IsMetOverride)
	assert.Zero(t, out.Updates[0].Progress, "override leaves progress untouched")

	out, err = svc.RecordAction(ctx, "alice", core.Action{Type: core.CriterionTodoComplete, Payload: map[string]any{"count": 5.0}})
	require.NoError(t, err)
	assert.Equal(t, []core.QuestID{q.ID}, out.CompletedQuests)

	stored, err := svc.GetQuest(ctx, "alice", q.ID)
	require.NoError(t, err)
	assert.Equal(t, core.QuestCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, 1, log.count(core.EventQuestCompleted))
	assert.Equal(t, 3, log.count(core.EventCriterionMet))

	out, err = svc.RecordAction(ctx, "alice", core.Action{Type: core.CriterionTodoComplete, Payload: map[string]any{"count": 1.0}})
	require.NoError(t, err)
	assert.Empty(t, out.Updates)
	assert.Equal(t, 1, log.count(core.EventQuestCompleted), "quest completes exactly once")
}

func TestRecordActionRespectsActivationWindow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateQuest(ctx, wellnessQuest())
	require.NoError(t, err)

	out, err := svc.RecordAction(ctx, "alice", core.Action{Type: core.CriterionStepsReach, Payload: map[string]any{"date": "2023-12-31", "steps": 20000.0}})
	require.NoError(t, err)
	assert.Empty(t, out.Updates)

	out, err = svc.RecordAction(ctx, "alice", core.Action{
		Type:       core.CriterionTodoComplete,
		Payload:    map[string]any{"count": 2.0},
		OccurredAt: activation.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, out.Updates)
}

func TestRecordActionMalformedEventIsNotAnError(t *testing.T) {
	svc, log := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateQuest(ctx, wellnessQuest())
	require.NoError(t, err)

	out, err := svc.RecordAction(ctx, "alice", core.Action{Type: core.CriterionTodoComplete, Payload: map[string]any{"count": "lots"}})
	require.NoError(t, err)
	assert.Empty(t, out.Updates)
	assert.Equal(t, 1, log.count(core.EventCriterionRejected))
}

func TestRejectionHandlerCanReadStorage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	created, err := svc.CreateQuest(ctx, wellnessQuest())
	require.NoError(t, err)

	var seen []core.Quest
	svc.Subscribe(core.EventCriterionRejected, func(ctx context.Context, e core.Event) {
		q, err := svc.GetQuest(ctx, e.UserID, e.QuestID)
		if err == nil {
			seen = append(seen, q)
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := svc.RecordAction(ctx, "alice", core.Action{Type: core.CriterionHabitCheck, Payload: map[string]any{"habitId": 7.0}})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RecordAction blocked while a rejection handler read the quest")
	}
	require.Len(t, seen, 1)
	assert.Equal(t, created.ID, seen[0].ID)
}

func TestRecordActionAcrossQuests(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.CreateQuest(ctx, core.Quest{
			UserID:      "bob",
			Title:       "Inbox zero",
			ActivatedAt: activation,
			Criteria:    []core.Criterion{{ID: "todos", Type: core.CriterionTodoComplete, TargetCount: 3}},
		})
		require.NoError(t, err)
	}
	out, err := svc.RecordAction(ctx, "bob", core.Action{Type: core.CriterionTodoComplete, Payload: map[string]any{"count": 3.0}})
	require.NoError(t, err)
	assert.Len(t, out.Updates, 3)
	assert.Len(t, out.CompletedQuests, 3)
}

func TestRecordActionConcurrentIncrements(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	q, err := svc.CreateQuest(ctx, core.Quest{
		UserID:      "carol",
		Title:       "Deep work",
		ActivatedAt: activation,
		Criteria:    []core.Criterion{{ID: "todos", Type: core.CriterionTodoComplete, TargetCount: 1000}},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordAction(ctx, "carol", core.Action{Type: core.CriterionTodoComplete, Payload: map[string]any{"count": 2.0}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := svc.GetQuest(ctx, "carol", q.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(80), stored.Criteria[0].CurrentProgress)
}

func TestRecordActionValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordAction(ctx, "alice", core.Action{})
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = svc.RecordAction(ctx, "alice", core.Action{Type: core.CriterionTodoComplete, Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, ErrInvalidTimezone)

	out, err := svc.RecordAction(ctx, "nobody", core.Action{Type: core.CriterionTodoComplete, Payload: map[string]any{"count": 1.0}})
	require.NoError(t, err)
	assert.Empty(t, out.Updates)
}

func TestDeleteQuest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	q, err := svc.CreateQuest(ctx, wellnessQuest())
	require.NoError(t, err)
	require.NoError(t, svc.DeleteQuest(ctx, "alice", q.ID))
	_, err = svc.GetQuest(ctx, "alice", q.ID)
	assert.True(t, errors.Is(err, core.ErrQuestNotFound))
}
