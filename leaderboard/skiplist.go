// Package leaderboard ranks users by the reward XP of the quests they complete.
package leaderboard

import (
	"context"
	"math/rand/v2"
	"sync"

	"questkit/core"
)

// Entry is one user's standing.
type Entry struct {
	Rank   int         `json:"rank"`
	User   core.UserID `json:"user_id"`
	XP     int64       `json:"xp"`
	Quests int64       `json:"quests_completed"`
}

// Skip list ordered by (xp desc, quests desc, user asc).

const (
	maxLevel = 16
	pFactor  = 0.25
)

type node struct {
	e    Entry
	next [maxLevel]*node
}

// Board is a concurrency-safe XP leaderboard with O(log n) updates.
type Board struct {
	mu     sync.RWMutex
	head   *node
	lvl    int
	byUser map[core.UserID]*node
	rng    *rand.Rand
}

func New() *Board {
	return &Board{
		head:   &node{},
		lvl:    1,
		byUser: map[core.UserID]*node{},
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (b *Board) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && b.rng.Float64() < pFactor {
		lvl++
	}
	return lvl
}

func ahead(a, b Entry) bool {
	switch {
	case a.XP != b.XP:
		return a.XP > b.XP
	case a.Quests != b.Quests:
		return a.Quests > b.Quests
	default:
		return a.User < b.User
	}
}

// OnEvent credits the user of every quest_completed event with its reward.
func (b *Board) OnEvent(_ context.Context, e core.Event) {
	if e.Type != core.EventQuestCompleted || e.UserID == "" {
		return
	}
	b.Add(e.UserID, e.RewardXP, 1)
}

// Add credits user with xp and completed quests, saturating instead of overflowing.
func (b *Board) Add(user core.UserID, xp, quests int64) Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := Entry{User: user}
	if old, ok := b.byUser[user]; ok {
		e = old.e
		b.removeLocked(old.e)
	}
	if next, err := core.AddSafe(e.XP, xp); err == nil {
		e.XP = next
	}
	if next, err := core.AddSafe(e.Quests, quests); err == nil {
		e.Quests = next
	}
	b.insertLocked(e)
	return e
}

func (b *Board) insertLocked(e Entry) {
	update := [maxLevel]*node{}
	cur := b.head
	for i := b.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && ahead(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	lvl := b.randomLevel()
	if lvl > b.lvl {
		for i := b.lvl; i < lvl; i++ {
			update[i] = b.head
		}
		b.lvl = lvl
	}
	n := &node{e: e}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}
	b.byUser[e.User] = n
}

func (b *Board) removeLocked(e Entry) {
	update := [maxLevel]*node{}
	cur := b.head
	for i := b.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && ahead(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	target := update[0].next[0]
	if target == nil || target.e.User != e.User {
		return
	}
	for i := 0; i < b.lvl; i++ {
		if update[i].next[i] == target {
			update[i].next[i] = target.next[i]
		}
	}
	delete(b.byUser, e.User)
	for b.lvl > 1 && b.head.next[b.lvl-1] == nil {
		b.lvl--
	}
}

// Remove drops user from the board.
func (b *Board) Remove(user core.UserID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.byUser[user]; ok {
		b.removeLocked(n.e)
	}
}

// TopN returns up to n leading entries with 1-based ranks.
func (b *Board) TopN(n int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 {
		return []Entry{}
	}
	out := make([]Entry, 0, min(n, len(b.byUser)))
	for cur := b.head.next[0]; cur != nil && len(out) < n; cur = cur.next[0] {
		e := cur.e
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	return out
}

// Get returns the user's entry and rank.
func (b *Board) Get(user core.UserID) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.byUser[user]; !ok {
		return Entry{}, false
	}
	rank := 1
	for cur := b.head.next[0]; cur != nil; cur = cur.next[0] {
		if cur.e.User == user {
			e := cur.e
			e.Rank = rank
			return e, true
		}
		rank++
	}
	return Entry{}, false
}

// Len returns the number of ranked users.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byUser)
}
