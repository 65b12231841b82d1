package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventQuestCreated        EventType = "quest_created"
	EventCriterionProgressed EventType = "criterion_progressed"
	EventCriterionMet        EventType = "criterion_met"
	EventQuestCompleted      EventType = "quest_completed"
	EventCriterionRejected   EventType = "criterion_rejected"
)

// EventTypes lists every domain event type.
func EventTypes() []EventType {
	return []EventType{
		EventQuestCreated,
		EventCriterionProgressed,
		EventCriterionMet,
		EventQuestCompleted,
		EventCriterionRejected,
	}
}

// Event represents an immutable domain event.
type Event struct {
	Type          EventType      `json:"type"`
	Time          time.Time      `json:"time"`
	UserID        UserID         `json:"user_id"`
	QuestID       QuestID        `json:"quest_id,omitempty"`
	CriterionID   CriterionID    `json:"criterion_id,omitempty"`
	CriterionType CriterionType  `json:"criterion_type,omitempty"`
	Delta         int64          `json:"delta,omitempty"`
	Progress      int64          `json:"progress,omitempty"`
	Target        int64          `json:"target,omitempty"`
	RewardXP      int64          `json:"reward_xp,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func NewQuestCreated(q Quest) Event {
	return Event{Type: EventQuestCreated, Time: time.Now().UTC(), UserID: q.UserID, QuestID: q.ID}
}

func NewCriterionProgressed(user UserID, quest QuestID, c Criterion, delta int64) Event {
	return Event{
		Type:          EventCriterionProgressed,
		Time:          time.Now().UTC(),
		UserID:        user,
		QuestID:       quest,
		CriterionID:   c.ID,
		CriterionType: c.Type,
		Delta:         delta,
		Progress:      c.CurrentProgress,
		Target:        c.TargetCount,
	}
}

func NewCriterionMet(user UserID, quest QuestID, c Criterion) Event {
	return Event{
		Type:          EventCriterionMet,
		Time:          time.Now().UTC(),
		UserID:        user,
		QuestID:       quest,
		CriterionID:   c.ID,
		CriterionType: c.Type,
		Progress:      c.CurrentProgress,
		Target:        c.TargetCount,
	}
}

func NewQuestCompleted(q Quest) Event {
	return Event{Type: EventQuestCompleted, Time: time.Now().UTC(), UserID: q.UserID, QuestID: q.ID, RewardXP: q.RewardXP}
}

// NewCriterionRejected carries an evaluation diagnostic; kind goes into Reason
// and the detail into Metadata.
func NewCriterionRejected(user UserID, quest QuestID, id CriterionID, typ CriterionType, kind, detail string) Event {
	return Event{
		Type:          EventCriterionRejected,
		Time:          time.Now().UTC(),
		UserID:        user,
		QuestID:       quest,
		CriterionID:   id,
		CriterionType: typ,
		Reason:        kind,
		Metadata:      map[string]any{"detail": detail},
	}
}
