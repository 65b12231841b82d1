package core

import "time"

// DateLayout is the calendar-day format carried in action payloads.
const DateLayout = "2006-01-02"

// Action is something the user just did, addressed at criteria of Type.
// Payload is the type-specific event object.
type Action struct {
	Type       CriterionType  `json:"type"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at,omitempty"`
	Timezone   string         `json:"timezone,omitempty"`
}

// Day returns the calendar day the action refers to. Payload "date" or
// "entryDate" wins over OccurredAt; ok is false when neither yields a day.
func (a Action) Day(loc *time.Location) (time.Time, bool) {
	for _, key := range []string{"date", "entryDate"} {
		s, isStr := a.Payload[key].(string)
		if !isStr {
			continue
		}
		if d, err := time.ParseInLocation(DateLayout, s, loc); err == nil {
			return d, true
		}
	}
	if a.OccurredAt.IsZero() {
		return time.Time{}, false
	}
	return startOfDay(a.OccurredAt.In(loc)), true
}

// Covers reports whether the action falls inside the quest's activation
// window, evaluated in loc. Day-stamped actions count from the activation day;
// the rest must not precede the activation instant.
func (q Quest) Covers(a Action, loc *time.Location) bool {
	if q.Status != QuestActive {
		return false
	}
	if q.ActivatedAt.IsZero() {
		return true
	}
	if a.Payload["date"] != nil || a.Payload["entryDate"] != nil {
		day, ok := a.Day(loc)
		if !ok {
			return false
		}
		return !day.Before(startOfDay(q.ActivatedAt.In(loc)))
	}
	if a.OccurredAt.IsZero() {
		return true
	}
	return !a.OccurredAt.Before(q.ActivatedAt)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
