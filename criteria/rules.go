package criteria

import "questkit/core"

// Rule decides how one criterion type reacts to an action event. Implementations
// parse config and event into typed values and return a *ValidationError when
// either is malformed; a nil result means the event does not apply.
type Rule interface {
	Type() core.CriterionType
	ValidateConfig(config map[string]any) error
	Evaluate(req Request) (*core.Result, error)
}

// ruleFor is the closed dispatch table over declared criterion types. Adding a
// type to core.CriterionTypes without a case here fails TestEveryTypeHasRule.
func ruleFor(t core.CriterionType) (Rule, bool) {
	switch t {
	case core.CriterionHabitCheck:
		return habitCheck{}, true
	case core.CriterionStepsReach:
		return stepsReach{}, true
	case core.CriterionFinanceUnderAllowance:
		return financeUnderAllowance{}, true
	case core.CriterionTodoComplete:
		return todoComplete{}, true
	case core.CriterionPomodoroSession:
		return reserved{typ: t}, true
	}
	return nil, false
}

// reserved stands in for declared-but-disabled types: always not applicable.
type reserved struct{ typ core.CriterionType }

func (r reserved) Type() core.CriterionType { return r.typ }

func (reserved) ValidateConfig(map[string]any) error { return nil }

func (reserved) Evaluate(Request) (*core.Result, error) { return nil, nil }

// HabitCheckConfig is the config of a habit_check criterion.
type HabitCheckConfig struct {
	HabitID string `json:"habit_id"`
}

// HabitLoggedEvent is the event a habit_check criterion consumes.
type HabitLoggedEvent struct {
	HabitID   string `json:"habitId"`
	EntryDate string `json:"entryDate,omitempty"`
}

func ParseHabitCheckConfig(m map[string]any) (HabitCheckConfig, error) {
	p, err := configPayload(m)
	if err != nil {
		return HabitCheckConfig{}, err
	}
	id, err := p.str("habit_id")
	if err != nil {
		return HabitCheckConfig{}, err
	}
	return HabitCheckConfig{HabitID: id}, nil
}

func ParseHabitLoggedEvent(m map[string]any) (HabitLoggedEvent, error) {
	p, err := eventPayload(m)
	if err != nil {
		return HabitLoggedEvent{}, err
	}
	id, err := p.str("habitId")
	if err != nil {
		return HabitLoggedEvent{}, err
	}
	ev := HabitLoggedEvent{HabitID: id}
	if d, ok := m["entryDate"].(string); ok {
		ev.EntryDate = d
	}
	return ev, nil
}

type habitCheck struct{}

func (habitCheck) Type() core.CriterionType { return core.CriterionHabitCheck }

func (habitCheck) ValidateConfig(m map[string]any) error {
	_, err := ParseHabitCheckConfig(m)
	return err
}

func (habitCheck) Evaluate(req Request) (*core.Result, error) {
	cfg, err := ParseHabitCheckConfig(req.Criterion.Config)
	if err != nil {
		return nil, err
	}
	ev, err := ParseHabitLoggedEvent(req.Event)
	if err != nil {
		return nil, err
	}
	if ev.HabitID != cfg.HabitID {
		return nil, nil
	}
	return core.Increment(1), nil
}

// StepsReachConfig is the config of a steps_reach criterion.
type StepsReachConfig struct {
	TargetSteps float64 `json:"target_steps"`
}

// StepsLoggedEvent reports the step count of one day.
type StepsLoggedEvent struct {
	Date  string  `json:"date"`
	Steps float64 `json:"steps"`
}

func ParseStepsReachConfig(m map[string]any) (StepsReachConfig, error) {
	p, err := configPayload(m)
	if err != nil {
		return StepsReachConfig{}, err
	}
	target, err := p.number("target_steps")
	if err != nil {
		return StepsReachConfig{}, err
	}
	return StepsReachConfig{TargetSteps: target}, nil
}

func ParseStepsLoggedEvent(m map[string]any) (StepsLoggedEvent, error) {
	p, err := eventPayload(m)
	if err != nil {
		return StepsLoggedEvent{}, err
	}
	date, err := p.str("date")
	if err != nil {
		return StepsLoggedEvent{}, err
	}
	steps, err := p.number("steps")
	if err != nil {
		return StepsLoggedEvent{}, err
	}
	return StepsLoggedEvent{Date: date, Steps: steps}, nil
}

type stepsReach struct{}

func (stepsReach) Type() core.CriterionType { return core.CriterionStepsReach }

func (stepsReach) ValidateConfig(m map[string]any) error {
	_, err := ParseStepsReachConfig(m)
	return err
}

// Evaluate is a per-day threshold: one qualifying day satisfies the criterion.
func (stepsReach) Evaluate(req Request) (*core.Result, error) {
	cfg, err := ParseStepsReachConfig(req.Criterion.Config)
	if err != nil {
		return nil, err
	}
	ev, err := ParseStepsLoggedEvent(req.Event)
	if err != nil {
		return nil, err
	}
	if ev.Steps >= cfg.TargetSteps {
		return core.MetOverride(), nil
	}
	return nil, nil
}

// FinanceConfig is the config of a finance_under_allowance criterion. It has
// no fields yet; only its presence as an object is checked.
type FinanceConfig struct{}

// ExpenseLoggedEvent reports a day's spending against that day's allowance.
type ExpenseLoggedEvent struct {
	Date      string  `json:"date"`
	Spent     float64 `json:"spent"`
	Allowance float64 `json:"allowance"`
}

func ParseFinanceConfig(m map[string]any) (FinanceConfig, error) {
	if _, err := configPayload(m); err != nil {
		return FinanceConfig{}, err
	}
	return FinanceConfig{}, nil
}

func ParseExpenseLoggedEvent(m map[string]any) (ExpenseLoggedEvent, error) {
	p, err := eventPayload(m)
	if err != nil {
		return ExpenseLoggedEvent{}, err
	}
	date, err := p.str("date")
	if err != nil {
		return ExpenseLoggedEvent{}, err
	}
	spent, err := p.number("spent")
	if err != nil {
		return ExpenseLoggedEvent{}, err
	}
	allowance, err := p.number("allowance")
	if err != nil {
		return ExpenseLoggedEvent{}, err
	}
	return ExpenseLoggedEvent{Date: date, Spent: spent, Allowance: allowance}, nil
}

type financeUnderAllowance struct{}

func (financeUnderAllowance) Type() core.CriterionType { return core.CriterionFinanceUnderAllowance }

func (financeUnderAllowance) ValidateConfig(m map[string]any) error {
	_, err := ParseFinanceConfig(m)
	return err
}

func (financeUnderAllowance) Evaluate(req Request) (*core.Result, error) {
	if _, err := ParseFinanceConfig(req.Criterion.Config); err != nil {
		return nil, err
	}
	ev, err := ParseExpenseLoggedEvent(req.Event)
	if err != nil {
		return nil, err
	}
	if ev.Spent <= ev.Allowance {
		return core.MetOverride(), nil
	}
	return nil, nil
}

// TodoCompleteConfig is the config of a todo_complete criterion; like
// FinanceConfig it only has to be an object.
type TodoCompleteConfig struct{}

// TodoCompletedEvent reports how many todos were completed at once.
type TodoCompletedEvent struct {
	Count int64 `json:"count"`
}

func ParseTodoCompleteConfig(m map[string]any) (TodoCompleteConfig, error) {
	if _, err := configPayload(m); err != nil {
		return TodoCompleteConfig{}, err
	}
	return TodoCompleteConfig{}, nil
}

func ParseTodoCompletedEvent(m map[string]any) (TodoCompletedEvent, error) {
	p, err := eventPayload(m)
	if err != nil {
		return TodoCompletedEvent{}, err
	}
	n, err := p.wholeNumber("count")
	if err != nil {
		return TodoCompletedEvent{}, err
	}
	if n <= 0 {
		return TodoCompletedEvent{}, eventError("count", "must be > 0, got %d", n)
	}
	return TodoCompletedEvent{Count: n}, nil
}

type todoComplete struct{}

func (todoComplete) Type() core.CriterionType { return core.CriterionTodoComplete }

func (todoComplete) ValidateConfig(m map[string]any) error {
	_, err := ParseTodoCompleteConfig(m)
	return err
}

func (todoComplete) Evaluate(req Request) (*core.Result, error) {
	if _, err := ParseTodoCompleteConfig(req.Criterion.Config); err != nil {
		return nil, err
	}
	ev, err := ParseTodoCompletedEvent(req.Event)
	if err != nil {
		return nil, err
	}
	return core.Increment(ev.Count), nil
}
