package engine

import (
	"context"

	"questkit/core"
)

// Storage abstracts persistence for quests and their criteria.
type Storage interface {
	// CreateQuest stores a new quest; core.ErrQuestExists on duplicate id.
	CreateQuest(ctx context.Context, quest core.Quest) error
	// GetQuest returns core.ErrQuestNotFound when the quest is absent.
	GetQuest(ctx context.Context, user core.UserID, id core.QuestID) (core.Quest, error)
	// ListQuests returns the user's quests ordered by activation time then id.
	ListQuests(ctx context.Context, user core.UserID) ([]core.Quest, error)
	// UpdateQuest applies fn to the stored quest atomically with respect to
	// other updates of the same quest. fn may run more than once on adapters
	// with optimistic concurrency, so it must not have side effects beyond q.
	UpdateQuest(ctx context.Context, user core.UserID, id core.QuestID, fn func(q *core.Quest) error) (core.Quest, error)
	DeleteQuest(ctx context.Context, user core.UserID, id core.QuestID) error
}
