package memory

import (
	"context"
	"sort"
	"sync"

	"questkit/core"
)

// Store is a concurrent in-memory Storage implementation.
type Store struct {
	users sync.Map // map[core.UserID]*userRecord
}

type userRecord struct {
	mu     sync.Mutex
	quests map[core.QuestID]core.Quest
}

func New() *Store { return &Store{} }

func (s *Store) getOrCreate(user core.UserID) *userRecord {
	if v, ok := s.users.Load(user); ok {
		return v.(*userRecord)
	}
	rec := &userRecord{quests: map[core.QuestID]core.Quest{}}
	actual, _ := s.users.LoadOrStore(user, rec)
	return actual.(*userRecord)
}

// lookup returns the user's record without creating one.
func (s *Store) lookup(user core.UserID) (*userRecord, bool) {
	v, ok := s.users.Load(user)
	if !ok {
		return nil, false
	}
	return v.(*userRecord), true
}

func (s *Store) CreateQuest(_ context.Context, q core.Quest) error {
	rec := s.getOrCreate(q.UserID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, exists := rec.quests[q.ID]; exists {
		return core.ErrQuestExists
	}
	rec.quests[q.ID] = q.Clone()
	return nil
}

func (s *Store) GetQuest(_ context.Context, user core.UserID, id core.QuestID) (core.Quest, error) {
	rec, ok := s.lookup(user)
	if !ok {
		return core.Quest{}, core.ErrQuestNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	q, ok := rec.quests[id]
	if !ok {
		return core.Quest{}, core.ErrQuestNotFound
	}
	return q.Clone(), nil
}

func (s *Store) ListQuests(_ context.Context, user core.UserID) ([]core.Quest, error) {
	rec, ok := s.lookup(user)
	if !ok {
		return []core.Quest{}, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]core.Quest, 0, len(rec.quests))
	for _, q := range rec.quests {
		out = append(out, q.Clone())
	}
	SortQuests(out)
	return out, nil
}

// UpdateQuest runs fn under the user's lock on a private copy and stores the
// copy only when fn succeeds.
func (s *Store) UpdateQuest(_ context.Context, user core.UserID, id core.QuestID, fn func(*core.Quest) error) (core.Quest, error) {
	rec, ok := s.lookup(user)
	if !ok {
		return core.Quest{}, core.ErrQuestNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	q, ok := rec.quests[id]
	if !ok {
		return core.Quest{}, core.ErrQuestNotFound
	}
	next := q.Clone()
	if err := fn(&next); err != nil {
		return core.Quest{}, err
	}
	next.ID, next.UserID = q.ID, q.UserID
	rec.quests[id] = next.Clone()
	return next, nil
}

func (s *Store) DeleteQuest(_ context.Context, user core.UserID, id core.QuestID) error {
	rec, ok := s.lookup(user)
	if !ok {
		return core.ErrQuestNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.quests[id]; !ok {
		return core.ErrQuestNotFound
	}
	delete(rec.quests, id)
	return nil
}

// SortQuests orders quests by activation time, then id.
func SortQuests(qs []core.Quest) {
	sort.Slice(qs, func(i, j int) bool {
		if !qs[i].ActivatedAt.Equal(qs[j].ActivatedAt) {
			return qs[i].ActivatedAt.Before(qs[j].ActivatedAt)
		}
		return qs[i].ID < qs[j].ID
	})
}

var _ interface {
	CreateQuest(context.Context, core.Quest) error
	GetQuest(context.Context, core.UserID, core.QuestID) (core.Quest, error)
	ListQuests(context.Context, core.UserID) ([]core.Quest, error)
	UpdateQuest(context.Context, core.UserID, core.QuestID, func(*core.Quest) error) (core.Quest, error)
	DeleteQuest(context.Context, core.UserID, core.QuestID) error
} = (*Store)(nil)
