package analytics

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"questkit/core"
)

// Hook receives domain events for KPI aggregation.
type Hook interface {
	OnEvent(ctx context.Context, e core.Event)
}

// Snapshot is a point-in-time copy of the quest KPIs.
type Snapshot struct {
	QuestsCreated     int64                        `json:"quests_created"`
	QuestsCompleted   int64                        `json:"quests_completed"`
	XPAwarded         int64                        `json:"xp_awarded"`
	CompletedByDay    map[string]int64             `json:"completed_by_day"`
	CriteriaMetByType map[core.CriterionType]int64 `json:"criteria_met_by_type"`
	ProgressByType    map[core.CriterionType]int64 `json:"progress_by_type"`
	RejectionsByKind  map[string]int64             `json:"rejections_by_kind"`
	DailyActiveUsers  map[string]int               `json:"daily_active_users"`
	WeeklyActiveUsers map[string]int               `json:"weekly_active_users"`
	CompletionRate    float64                      `json:"completion_rate"`
	LastEventAt       *time.Time                   `json:"last_event_at,omitempty"`
}

// QuestMetrics aggregates quest lifecycle events in memory.
type QuestMetrics struct {
	mu sync.RWMutex

	dailyActiveUsers  map[string]map[core.UserID]struct{}
	weeklyActiveUsers map[string]map[core.UserID]struct{}

	questsCreated   int64
	questsCompleted int64
	xpAwarded       int64
	completedByDay  map[string]int64

	criteriaMetByType map[core.CriterionType]int64
	progressByType    map[core.CriterionType]int64
	rejectionsByKind  map[string]int64

	lastEvent time.Time
}

func NewQuestMetrics() *QuestMetrics {
	return &QuestMetrics{
		dailyActiveUsers:  make(map[string]map[core.UserID]struct{}),
		weeklyActiveUsers: make(map[string]map[core.UserID]struct{}),
		completedByDay:    make(map[string]int64),
		criteriaMetByType: make(map[core.CriterionType]int64),
		progressByType:    make(map[core.CriterionType]int64),
		rejectionsByKind:  make(map[string]int64),
	}
}

func (qm *QuestMetrics) OnEvent(_ context.Context, e core.Event) {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	day := dayKey(e.Time)
	qm.trackUserEngagement(e.UserID, day, weekKey(e.Time))
	if e.Time.After(qm.lastEvent) {
		qm.lastEvent = e.Time
	}

	switch e.Type {
	case core.EventQuestCreated:
		qm.questsCreated++
	case core.EventCriterionProgressed:
		if e.Delta > 0 {
			qm.progressByType[e.CriterionType] += e.Delta
		}
	case core.EventCriterionMet:
		qm.criteriaMetByType[e.CriterionType]++
	case core.EventQuestCompleted:
		qm.questsCompleted++
		qm.completedByDay[day]++
		qm.xpAwarded += e.RewardXP
	case core.EventCriterionRejected:
		qm.rejectionsByKind[e.Reason]++
	}
}

func (qm *QuestMetrics) trackUserEngagement(userID core.UserID, day, week string) {
	if userID == "" {
		return
	}
	if qm.dailyActiveUsers[day] == nil {
		qm.dailyActiveUsers[day] = make(map[core.UserID]struct{})
	}
	qm.dailyActiveUsers[day][userID] = struct{}{}

	if qm.weeklyActiveUsers[week] == nil {
		qm.weeklyActiveUsers[week] = make(map[core.UserID]struct{})
	}
	qm.weeklyActiveUsers[week][userID] = struct{}{}
}

// GetDailyActiveUsers returns the count of daily active users for a specific day
func (qm *QuestMetrics) GetDailyActiveUsers(day string) int {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	return len(qm.dailyActiveUsers[day])
}

// GetWeeklyActiveUsers returns the count of weekly active users for a specific week
func (qm *QuestMetrics) GetWeeklyActiveUsers(week string) int {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	return len(qm.weeklyActiveUsers[week])
}

// GetCriteriaMet returns how many criteria of typ were met.
func (qm *QuestMetrics) GetCriteriaMet(typ core.CriterionType) int64 {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	return qm.criteriaMetByType[typ]
}

// Snapshot copies the current counters.
func (qm *QuestMetrics) Snapshot() Snapshot {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	s := Snapshot{
		QuestsCreated:     qm.questsCreated,
		QuestsCompleted:   qm.questsCompleted,
		XPAwarded:         qm.xpAwarded,
		CompletedByDay:    maps.Clone(qm.completedByDay),
		CriteriaMetByType: maps.Clone(qm.criteriaMetByType),
		ProgressByType:    maps.Clone(qm.progressByType),
		RejectionsByKind:  maps.Clone(qm.rejectionsByKind),
		DailyActiveUsers:  countUsers(qm.dailyActiveUsers),
		WeeklyActiveUsers: countUsers(qm.weeklyActiveUsers),
	}
	if qm.questsCreated > 0 {
		s.CompletionRate = float64(qm.questsCompleted) / float64(qm.questsCreated)
	}
	if !qm.lastEvent.IsZero() {
		t := qm.lastEvent
		s.LastEventAt = &t
	}
	return s
}

func dayKey(t time.Time) string {
	return t.UTC().Format(core.DateLayout)
}

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func countUsers(m map[string]map[core.UserID]struct{}) map[string]int {
	out := make(map[string]int, len(m))
	for k, users := range m {
		out[k] = len(users)
	}
	return out
}
