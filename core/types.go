package core

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a user owning quests.
type UserID string

// QuestID identifies a quest within a user's quest log.
type QuestID string

// CriterionID identifies a criterion within a quest.
type CriterionID string

// CriterionType tags the rule a criterion is evaluated with.
type CriterionType string

const (
	CriterionHabitCheck            CriterionType = "habit_check"
	CriterionStepsReach            CriterionType = "steps_reach"
	CriterionFinanceUnderAllowance CriterionType = "finance_under_allowance"
	CriterionTodoComplete          CriterionType = "todo_complete"
	// CriterionPomodoroSession is reserved; it never produces a result.
	CriterionPomodoroSession CriterionType = "pomodoro_session"
)

// CriterionTypes lists every declared criterion type, reserved ones included.
func CriterionTypes() []CriterionType {
	return []CriterionType{
		CriterionHabitCheck,
		CriterionStepsReach,
		CriterionFinanceUnderAllowance,
		CriterionTodoComplete,
		CriterionPomodoroSession,
	}
}

// Known reports whether t is one of the declared criterion types.
func (t CriterionType) Known() bool {
	for _, k := range CriterionTypes() {
		if t == k {
			return true
		}
	}
	return false
}

// Reserved reports whether t is declared but disabled.
func (t CriterionType) Reserved() bool { return t == CriterionPomodoroSession }

// QuestStatus is the lifecycle state of a quest.
type QuestStatus string

const (
	QuestActive    QuestStatus = "active"
	QuestCompleted QuestStatus = "completed"
)

var (
	ErrQuestNotFound = errors.New("quest not found")
	ErrQuestExists   = errors.New("quest already exists")
	ErrInvalidUserID = errors.New("invalid user id")
)

// Criterion is one measurable condition of a quest. Progress fields are owned
// by the quest service; evaluation only recommends changes.
type Criterion struct {
	ID              CriterionID    `json:"id"`
	Type            CriterionType  `json:"type"`
	Config          map[string]any `json:"config"`
	TargetCount     int64          `json:"target_count"`
	CurrentProgress int64          `json:"current_progress"`
	IsMet           bool           `json:"is_met"`
	MetAt           *time.Time     `json:"met_at,omitempty"`
}

// Quest groups criteria under a single goal for one user.
type Quest struct {
	ID          QuestID     `json:"id"`
	UserID      UserID      `json:"user_id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Status      QuestStatus `json:"status"`
	RewardXP    int64       `json:"reward_xp,omitempty"`
	ActivatedAt time.Time   `json:"activated_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Criteria    []Criterion `json:"criteria"`
	Updated     time.Time   `json:"updated"`
}

// Clone returns a deep copy so stores never share criterion slices or configs.
func (q Quest) Clone() Quest {
	cp := q
	if q.CompletedAt != nil {
		t := *q.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Criteria = make([]Criterion, len(q.Criteria))
	for i, c := range q.Criteria {
		cp.Criteria[i] = c.Clone()
	}
	return cp
}

// Clone returns a copy of the criterion with its own config map.
func (c Criterion) Clone() Criterion {
	cp := c
	if c.Config != nil {
		cp.Config = maps.Clone(c.Config)
	}
	if c.MetAt != nil {
		t := *c.MetAt
		cp.MetAt = &t
	}
	return cp
}

// AllMet reports whether every criterion of the quest is met.
func (q Quest) AllMet() bool {
	if len(q.Criteria) == 0 {
		return false
	}
	for _, c := range q.Criteria {
		if !c.IsMet {
			return false
		}
	}
	return true
}

// HasOpenCriterion reports whether the quest has an unmet criterion of type t.
func (q Quest) HasOpenCriterion(t CriterionType) bool {
	for _, c := range q.Criteria {
		if c.Type == t && !c.IsMet {
			return true
		}
	}
	return false
}

// Complete marks the quest completed at the given time.
func (q *Quest) Complete(at time.Time) {
	q.Status = QuestCompleted
	t := at
	q.CompletedAt = &t
}

// ApplyResult folds an evaluation result into the criterion. It returns false
// when the criterion was already met and nothing changed.
func ApplyResult(c *Criterion, r Result, at time.Time) (bool, error) {
	if c.IsMet {
		return false, nil
	}
	switch {
	case r.IsMetOverride:
		c.IsMet = true
	case r.ProgressIncrement > 0:
		next, err := AddSafe(c.CurrentProgress, r.ProgressIncrement)
		if err != nil {
			return false, err
		}
		c.CurrentProgress = next
		c.IsMet = c.CurrentProgress >= c.TargetCount
	default:
		return false, nil
	}
	if c.IsMet {
		t := at
		c.MetAt = &t
	}
	return true, nil
}

// ValidateQuest checks the structural invariants of a quest definition.
func ValidateQuest(q Quest) error {
	var errs []string
	if strings.TrimSpace(string(q.ID)) == "" {
		errs = append(errs, "id cannot be empty")
	}
	if strings.TrimSpace(q.Title) == "" {
		errs = append(errs, "title cannot be empty")
	}
	if len(q.Criteria) == 0 {
		errs = append(errs, "at least one criterion is required")
	}
	seen := make(map[CriterionID]struct{}, len(q.Criteria))
	for i, c := range q.Criteria {
		if strings.TrimSpace(string(c.ID)) == "" {
			errs = append(errs, fmt.Sprintf("criteria[%d]: id cannot be empty", i))
		} else if _, dup := seen[c.ID]; dup {
			errs = append(errs, fmt.Sprintf("criteria[%d]: duplicate id %q", i, c.ID))
		}
		seen[c.ID] = struct{}{}
		if !c.Type.Known() {
			errs = append(errs, fmt.Sprintf("criteria[%d]: unknown type %q", i, c.Type))
		}
		if c.TargetCount < 1 {
			errs = append(errs, fmt.Sprintf("criteria[%d]: target_count must be >= 1", i))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	return UserID(strings.ToLower(s)), nil
}

// ValidateSlug ensures a non-empty identifier made of alnum, dash and underscore.
func ValidateSlug(kind, s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("empty %s", kind)
	}
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return fmt.Errorf("invalid %s", kind)
	}
	return nil
}
