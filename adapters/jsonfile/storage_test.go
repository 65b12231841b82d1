package jsonfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"questkit/core"
)

func TestStorePersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "quests.json")
	ctx := context.Background()

	store, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	q := core.Quest{
		ID:          "q1",
		UserID:      "alice",
		Title:       "Hydrate",
		Status:      core.QuestActive,
		ActivatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Criteria: []core.Criterion{
			{ID: "water", Type: core.CriterionHabitCheck, Config: map[string]any{"habit_id": "h1"}, TargetCount: 3},
		},
	}
	if err := store.CreateQuest(ctx, q); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateQuest(ctx, q); !errors.Is(err, core.ErrQuestExists) {
		t.Fatalf("expected ErrQuestExists, got %v", err)
	}

	if _, err := store.UpdateQuest(ctx, "alice", "q1", func(q *core.Quest) error {
		q.Criteria[0].CurrentProgress = 2
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s", path)
	}

	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, err := reloaded.GetQuest(ctx, "alice", "q1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Criteria[0].CurrentProgress != 2 {
		t.Fatalf("expected progress 2, got %d", got.Criteria[0].CurrentProgress)
	}
	if got.Criteria[0].Config["habit_id"] != "h1" {
		t.Fatalf("config lost on reload: %v", got.Criteria[0].Config)
	}

	if err := reloaded.DeleteQuest(ctx, "alice", "q1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, _ := reloaded.ListQuests(ctx, "alice")
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}
}

func TestStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quests.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}

func TestUpdateMissingQuest(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "quests.json"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.UpdateQuest(context.Background(), "bob", "nope", func(*core.Quest) error { return nil })
	if !errors.Is(err, core.ErrQuestNotFound) {
		t.Fatalf("expected ErrQuestNotFound, got %v", err)
	}
}
