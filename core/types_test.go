package core

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestAddSafe(t *testing.T) {
	if v, err := AddSafe(10, 5); err != nil || v != 15 {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := AddSafe(math.MaxInt64, 1); err == nil {
		t.Fatalf("expected overflow")
	}
}

func TestNormalizeUserID(t *testing.T) {
	id, err := NormalizeUserID(" Alice ")
	if err != nil || id != "alice" {
		t.Fatalf("got %v %v", id, err)
	}
	if _, err := NormalizeUserID("   "); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestValidateSlug(t *testing.T) {
	if err := ValidateSlug("template id", "daily_steps-1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := ValidateSlug("template id", "bad id"); err == nil {
		t.Fatalf("expected invalid slug err")
	}
}

func TestCriterionTypes(t *testing.T) {
	for _, typ := range CriterionTypes() {
		if !typ.Known() {
			t.Fatalf("%s should be known", typ)
		}
	}
	if CriterionType("sleep_hours").Known() {
		t.Fatal("undeclared type reported as known")
	}
	if !CriterionPomodoroSession.Reserved() || CriterionHabitCheck.Reserved() {
		t.Fatal("only pomodoro_session is reserved")
	}
}

func TestApplyResultIncrementReachesTarget(t *testing.T) {
	now := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	c := Criterion{ID: "c1", Type: CriterionHabitCheck, TargetCount: 2}

	changed, err := ApplyResult(&c, *Increment(1), now)
	if err != nil || !changed {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	if c.IsMet || c.CurrentProgress != 1 {
		t.Fatalf("unexpected criterion after first increment: %+v", c)
	}

	if _, err := ApplyResult(&c, *Increment(1), now); err != nil {
		t.Fatal(err)
	}
	if !c.IsMet || c.MetAt == nil || !c.MetAt.Equal(now) {
		t.Fatalf("expected criterion met at %s: %+v", now, c)
	}

	changed, _ = ApplyResult(&c, *Increment(1), now)
	if changed || c.CurrentProgress != 2 {
		t.Fatalf("met criterion must not change: %+v", c)
	}
}

func TestApplyResultOverrideLeavesProgress(t *testing.T) {
	c := Criterion{ID: "c1", Type: CriterionStepsReach, TargetCount: 7, CurrentProgress: 3}
	changed, err := ApplyResult(&c, *MetOverride(), time.Now())
	if err != nil || !changed {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	if !c.IsMet || c.CurrentProgress != 3 {
		t.Fatalf("override should mark met without touching progress: %+v", c)
	}
}

func TestApplyResultOverflow(t *testing.T) {
	c := Criterion{ID: "c1", Type: CriterionTodoComplete, TargetCount: math.MaxInt64, CurrentProgress: math.MaxInt64 - 1}
	if _, err := ApplyResult(&c, *Increment(5), time.Now()); err == nil {
		t.Fatal("expected overflow error")
	}
}

func TestIncrementRejectsNonPositive(t *testing.T) {
	if Increment(0) != nil || Increment(-3) != nil {
		t.Fatal("non-positive increments are not applicable")
	}
}

func TestQuestCloneIsDeep(t *testing.T) {
	done := time.Now().UTC()
	q := Quest{
		ID:          "q1",
		UserID:      "alice",
		Title:       "Walk",
		CompletedAt: &done,
		Criteria: []Criterion{{
			ID: "c1", Type: CriterionStepsReach, Config: map[string]any{"target_steps": 10000}, TargetCount: 1,
		}},
	}
	cp := q.Clone()
	if diff := cmp.Diff(q, cp); diff != "" {
		t.Fatalf("clone differs (-want +got):\n%s", diff)
	}
	cp.Criteria[0].Config["target_steps"] = 1
	cp.Criteria[0].IsMet = true
	if q.Criteria[0].Config["target_steps"] != 10000 || q.Criteria[0].IsMet {
		t.Fatal("mutating clone leaked into original")
	}
}

func TestValidateQuest(t *testing.T) {
	valid := Quest{
		ID:    "q1",
		Title: "Hydrate",
		Criteria: []Criterion{
			{ID: "c1", Type: CriterionHabitCheck, TargetCount: 3},
			{ID: "c2", Type: CriterionTodoComplete, TargetCount: 5},
		},
	}
	if err := ValidateQuest(valid); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	bad := valid.Clone()
	bad.Title = ""
	bad.Criteria[1].ID = "c1"
	bad.Criteria[1].TargetCount = 0
	bad.Criteria = append(bad.Criteria, Criterion{ID: "c3", Type: "sleep", TargetCount: 1})
	if err := ValidateQuest(bad); err == nil {
		t.Fatal("expected validation error")
	}

	empty := Quest{ID: "q2", Title: "Nothing"}
	if err := ValidateQuest(empty); err == nil {
		t.Fatal("quest without criteria must be rejected")
	}
}

func TestAllMet(t *testing.T) {
	q := Quest{Criteria: []Criterion{{IsMet: true}, {IsMet: false}}}
	if q.AllMet() {
		t.Fatal("one criterion still open")
	}
	q.Criteria[1].IsMet = true
	if !q.AllMet() {
		t.Fatal("all criteria met")
	}
	if (Quest{}).AllMet() {
		t.Fatal("empty quest is never complete")
	}
}
