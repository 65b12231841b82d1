package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"questkit/adapters/memory"
	"questkit/core"
)

// Store keeps every user's quests in one JSON document on disk.
// Suitable for demos and single-node deployments.
type Store struct {
	path string
	mu   sync.Mutex
	data map[core.UserID]map[core.QuestID]core.Quest
}

func New(path string) (*Store, error) {
	s := &Store{path: path, data: map[core.UserID]map[core.QuestID]core.Quest{}}
	if err := s.load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var raw map[string][]core.Quest
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for user, quests := range raw {
		m := make(map[core.QuestID]core.Quest, len(quests))
		for _, q := range quests {
			m[q.ID] = q
		}
		s.data[core.UserID(user)] = m
	}
	return nil
}

// persist writes the whole document through a temp file and rename so a crash
// never leaves a truncated file behind.
func (s *Store) persist() error {
	raw := make(map[string][]core.Quest, len(s.data))
	for user, quests := range s.data {
		list := make([]core.Quest, 0, len(quests))
		for _, q := range quests {
			list = append(list, q)
		}
		memory.SortQuests(list)
		raw[string(user)] = list
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) CreateQuest(_ context.Context, q core.Quest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	quests := s.data[q.UserID]
	if quests == nil {
		quests = map[core.QuestID]core.Quest{}
		s.data[q.UserID] = quests
	}
	if _, exists := quests[q.ID]; exists {
		return core.ErrQuestExists
	}
	quests[q.ID] = q.Clone()
	if err := s.persist(); err != nil {
		delete(quests, q.ID)
		return err
	}
	return nil
}

func (s *Store) GetQuest(_ context.Context, user core.UserID, id core.QuestID) (core.Quest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.data[user][id]
	if !ok {
		return core.Quest{}, core.ErrQuestNotFound
	}
	return q.Clone(), nil
}

func (s *Store) ListQuests(_ context.Context, user core.UserID) ([]core.Quest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Quest, 0, len(s.data[user]))
	for _, q := range s.data[user] {
		out = append(out, q.Clone())
	}
	memory.SortQuests(out)
	return out, nil
}

// UpdateQuest applies fn to a copy and keeps it only if fn and the write to
// disk both succeed.
func (s *Store) UpdateQuest(_ context.Context, user core.UserID, id core.QuestID, fn func(*core.Quest) error) (core.Quest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.data[user][id]
	if !ok {
		return core.Quest{}, core.ErrQuestNotFound
	}
	next := prev.Clone()
	if err := fn(&next); err != nil {
		return core.Quest{}, err
	}
	next.ID, next.UserID = prev.ID, prev.UserID
	s.data[user][id] = next.Clone()
	if err := s.persist(); err != nil {
		s.data[user][id] = prev
		return core.Quest{}, err
	}
	return next, nil
}

func (s *Store) DeleteQuest(_ context.Context, user core.UserID, id core.QuestID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.data[user][id]
	if !ok {
		return core.ErrQuestNotFound
	}
	delete(s.data[user], id)
	if err := s.persist(); err != nil {
		s.data[user][id] = prev
		return err
	}
	return nil
}
