package sdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questkit/analytics"
	"questkit/api/httpapi"
	"questkit/catalog"
	"questkit/core"
	"questkit/engine"
	"questkit/leaderboard"
	"questkit/questkit"
	"questkit/realtime"
)

const templates = `
templates:
  - id: inbox-zero
    title: Inbox zero
    reward_xp: 10
    criteria:
      - id: todos
        type: todo_complete
        target_count: 2
`

type testServer struct {
	*httptest.Server
	hub *realtime.Hub
}

func newTestServer(t *testing.T, opts httpapi.Options) testServer {
	t.Helper()
	cat, err := catalog.Parse(strings.NewReader(templates))
	require.NoError(t, err)
	hub := realtime.NewHub()
	metrics := analytics.NewQuestMetrics()
	board := leaderboard.New()
	svc := questkit.New(
		questkit.WithDispatchMode(engine.DispatchSync),
		questkit.WithRealtime(hub),
		questkit.WithHooks(metrics, board),
	)
	opts.PathPrefix = "/api"
	opts.Catalog = cat
	opts.Metrics = metrics
	opts.Leaderboard = board
	srv := httptest.NewServer(httpapi.NewMux(svc, hub, opts))
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
	})
	return testServer{Server: srv, hub: hub}
}

func TestClientQuestFlow(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{APIKeys: []string{"k1"}})
	client, err := NewClient(srv.URL+"/api/", WithAPIKey("k1"))
	require.NoError(t, err)
	ctx := context.Background()

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)

	tpls, err := client.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, tpls, 1)

	q, err := client.CreateQuestFromTemplate(ctx, "alice", "inbox-zero", "q1")
	require.NoError(t, err)
	assert.Equal(t, core.QuestID("q1"), q.ID)

	custom, err := client.CreateQuest(ctx, "alice", Quest{
		Title: "Drink water",
		Criteria: []core.Criterion{
			{ID: "water", Type: core.CriterionHabitCheck, Config: map[string]any{"habit_id": "water"}, TargetCount: 1},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, custom.ID)

	quests, err := client.ListQuests(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, quests, 2)

	out, err := client.RecordAction(ctx, "alice", Action{
		Type:    core.CriterionTodoComplete,
		Payload: map[string]any{"count": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, []core.QuestID{"q1"}, out.CompletedQuests)

	got, err := client.GetQuest(ctx, "alice", "q1")
	require.NoError(t, err)
	assert.Equal(t, core.QuestCompleted, got.Status)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.QuestsCompleted)

	lb, err := client.Leaderboard(ctx, 5, "alice")
	require.NoError(t, err)
	require.Len(t, lb.Entries, 1)
	assert.Equal(t, int64(10), lb.Entries[0].XP)
	require.NotNil(t, lb.User)
	assert.Equal(t, 1, lb.User.Rank)

	require.NoError(t, client.DeleteQuest(ctx, "alice", "q1"))
	_, err = client.GetQuest(ctx, "alice", "q1")
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	_, err = client.CreateQuestFromTemplate(ctx, "alice", "marathon", "")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "unknown_template", apiErr.Code)
}

func TestClientEvaluate(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)

	resp, err := client.Evaluate(context.Background(), EvaluateRequest{
		Type:   core.CriterionStepsReach,
		Config: map[string]any{"target_steps": 8000},
		Event:  map[string]any{"date": "2024-01-01", "steps": 9000},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Result)
	assert.Equal(t, int64(1), resp.Result.ProgressIncrement)

	resp, err = client.Evaluate(context.Background(), EvaluateRequest{
		Type:   core.CriterionStepsReach,
		Config: map[string]any{},
		Event:  map[string]any{"date": "2024-01-01", "steps": 9000},
	})
	require.NoError(t, err)
	assert.Nil(t, resp.Result)
	require.Len(t, resp.Diagnostics, 1)
	assert.Equal(t, "target_steps", resp.Diagnostics[0].Field)
}

func TestClientRequiresUser(t *testing.T) {
	client, err := NewClient("http://localhost:8080/api")
	require.NoError(t, err)
	_, err = client.ListQuests(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyUserID)

	_, err = NewClient("")
	assert.Error(t, err)
}

func TestClientUnauthorized(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{APIKeys: []string{"k1"}})
	client, err := NewClient(srv.URL+"/api", WithAuthToken("nope"))
	require.NoError(t, err)

	_, err = client.Health(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestClientSubscribeEvents(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx, "Alice")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	srv.hub.Broadcast(ctx, core.Event{Type: core.EventQuestCreated, UserID: "bob", QuestID: "b1"})
	srv.hub.Broadcast(ctx, core.Event{Type: core.EventQuestCreated, UserID: "alice", QuestID: "a1"})

	select {
	case evt := <-events:
		assert.Equal(t, core.QuestID("a1"), evt.QuestID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	cancel()
	for range events {
	}
}

func TestDeriveWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/api/ws", deriveWSURL("http://localhost:8080/api"))
	assert.Equal(t, "wss://quests.example/ws", deriveWSURL("https://quests.example"))
}
