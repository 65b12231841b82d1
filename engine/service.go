package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"questkit/core"
	"questkit/criteria"
)

var (
	ErrInvalidQuest    = errors.New("invalid quest")
	ErrInvalidAction   = errors.New("invalid action")
	ErrInvalidTimezone = errors.New("invalid timezone")
)

// CriterionUpdate reports one criterion changed by an action.
type CriterionUpdate struct {
	QuestID       core.QuestID       `json:"quest_id"`
	CriterionID   core.CriterionID   `json:"criterion_id"`
	CriterionType core.CriterionType `json:"criterion_type"`
	Result        core.Result        `json:"result"`
	Progress      int64              `json:"progress"`
	Target        int64              `json:"target"`
	IsMet         bool               `json:"is_met"`
}

// ActionOutcome summarizes what an action changed across the user's quests.
type ActionOutcome struct {
	Updates         []CriterionUpdate `json:"updates"`
	CompletedQuests []core.QuestID    `json:"completed_quests"`
}

// ServiceOption configures a QuestService.
type ServiceOption func(*QuestService)

// WithDefaultTimezone sets the timezone used when an action carries none.
func WithDefaultTimezone(loc *time.Location) ServiceOption {
	return func(s *QuestService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithParallelism bounds how many quests one action updates concurrently.
func WithParallelism(n int) ServiceOption {
	return func(s *QuestService) {
		if n > 0 {
			s.parallel = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *QuestService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *QuestService) {
		if l != nil {
			s.logger = l
		}
	}
}

// QuestService wires storage, event bus, and the criterion evaluator into the
// quest lifecycle: it owns progress counters and applies evaluation results.
type QuestService struct {
	storage   Storage
	bus       *EventBus
	evaluator *criteria.Evaluator
	logger    *slog.Logger
	loc       *time.Location
	now       func() time.Time
	parallel  int
}

func NewQuestService(storage Storage, bus *EventBus, evaluator *criteria.Evaluator, opts ...ServiceOption) *QuestService {
	if storage == nil || bus == nil || evaluator == nil {
		panic("NewQuestService requires non-nil storage, bus, and evaluator")
	}
	s := &QuestService{
		storage:   storage,
		bus:       bus,
		evaluator: evaluator,
		logger:    slog.Default(),
		loc:       time.UTC,
		now:       func() time.Time { return time.Now().UTC() },
		parallel:  4,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe convenience method.
func (s *QuestService) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *QuestService) Publish(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
}

// Evaluate runs the stateless evaluator without touching storage.
func (s *QuestService) Evaluate(ctx context.Context, req criteria.Request) *core.Result {
	return s.evaluator.Evaluate(ctx, req)
}

// CreateQuest normalizes, validates and stores a new active quest. Missing ids
// are generated, progress is reset and a nil config becomes an empty object.
func (s *QuestService) CreateQuest(ctx context.Context, q core.Quest) (core.Quest, error) {
	user, err := core.NormalizeUserID(q.UserID)
	if err != nil {
		return core.Quest{}, err
	}
	q = q.Clone()
	q.UserID = user
	if strings.TrimSpace(string(q.ID)) == "" {
		q.ID = core.QuestID(uuid.NewString())
	}
	now := s.now()
	if q.ActivatedAt.IsZero() {
		q.ActivatedAt = now
	}
	q.ActivatedAt = q.ActivatedAt.UTC()
	q.Status = core.QuestActive
	q.CompletedAt = nil
	q.Updated = now
	for i := range q.Criteria {
		c := &q.Criteria[i]
		if strings.TrimSpace(string(c.ID)) == "" {
			c.ID = core.CriterionID(uuid.NewString())
		}
		if c.Config == nil {
			c.Config = map[string]any{}
		}
		c.CurrentProgress = 0
		c.IsMet = false
		c.MetAt = nil
	}
	if err := core.ValidateQuest(q); err != nil {
		return core.Quest{}, fmt.Errorf("%w: %v", ErrInvalidQuest, err)
	}
	for i, c := range q.Criteria {
		if err := criteria.ValidateConfig(c.Type, c.Config); err != nil {
			return core.Quest{}, fmt.Errorf("%w: criteria[%d]: %v", ErrInvalidQuest, i, err)
		}
	}
	if err := s.storage.CreateQuest(ctx, q); err != nil {
		return core.Quest{}, err
	}
	s.logger.InfoContext(ctx, "quest created", "user_id", user, "quest_id", q.ID, "criteria", len(q.Criteria))
	s.bus.Publish(ctx, core.NewQuestCreated(q))
	return q, nil
}

func (s *QuestService) GetQuest(ctx context.Context, user core.UserID, id core.QuestID) (core.Quest, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.Quest{}, err
	}
	return s.storage.GetQuest(ctx, normalized, id)
}

func (s *QuestService) ListQuests(ctx context.Context, user core.UserID) ([]core.Quest, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	return s.storage.ListQuests(ctx, normalized)
}

func (s *QuestService) DeleteQuest(ctx context.Context, user core.UserID, id core.QuestID) error {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return err
	}
	return s.storage.DeleteQuest(ctx, normalized, id)
}

// RecordAction evaluates an action against every active quest of the user
// that has an open criterion of the action's type and whose activation window
// covers it, and persists the resulting progress.
func (s *QuestService) RecordAction(ctx context.Context, user core.UserID, action core.Action) (ActionOutcome, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return ActionOutcome{}, err
	}
	if strings.TrimSpace(string(action.Type)) == "" {
		return ActionOutcome{}, fmt.Errorf("%w: type is required", ErrInvalidAction)
	}
	loc, err := s.location(action.Timezone)
	if err != nil {
		return ActionOutcome{}, err
	}
	if action.OccurredAt.IsZero() {
		action.OccurredAt = s.now()
	}

	quests, err := s.storage.ListQuests(ctx, normalized)
	if err != nil {
		return ActionOutcome{}, fmt.Errorf("list quests: %w", err)
	}
	var candidates []core.QuestID
	for _, q := range quests {
		if q.HasOpenCriterion(action.Type) && q.Covers(action, loc) {
			candidates = append(candidates, q.ID)
		}
	}
	outcome := ActionOutcome{Updates: []CriterionUpdate{}, CompletedQuests: []core.QuestID{}}
	if len(candidates) == 0 {
		s.logger.DebugContext(ctx, "action matched no open criteria", "user_id", normalized, "type", action.Type)
		return outcome, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for _, id := range candidates {
		g.Go(func() error {
			res, err := s.applyAction(gctx, normalized, id, action, loc)
			if errors.Is(err, core.ErrQuestNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("quest %s: %w", id, err)
			}
			mu.Lock()
			defer mu.Unlock()
			outcome.Updates = append(outcome.Updates, res.updates...)
			if res.completed {
				outcome.CompletedQuests = append(outcome.CompletedQuests, id)
			}
			return nil
		})
	}
	err = g.Wait()
	sort.SliceStable(outcome.Updates, func(i, j int) bool { return outcome.Updates[i].QuestID < outcome.Updates[j].QuestID })
	sort.Slice(outcome.CompletedQuests, func(i, j int) bool { return outcome.CompletedQuests[i] < outcome.CompletedQuests[j] })
	return outcome, err
}

type questResult struct {
	updates   []CriterionUpdate
	completed bool
}

func (s *QuestService) applyAction(ctx context.Context, user core.UserID, id core.QuestID, action core.Action, loc *time.Location) (questResult, error) {
	var (
		res    questResult
		events []core.Event
		diags  []criteria.Diagnostic
	)
	now := s.now()
	_, err := s.storage.UpdateQuest(ctx, user, id, func(q *core.Quest) error {
		res = questResult{}
		events = nil
		diags = nil
		if !q.Covers(action, loc) {
			return nil
		}
		for i := range q.Criteria {
			c := &q.Criteria[i]
			if c.Type != action.Type || c.IsMet {
				continue
			}
			r, diag := s.evaluator.Check(ctx, criteria.Request{
				Criterion:   c.Clone(),
				Event:       action.Payload,
				UserID:      user,
				QuestID:     q.ID,
				Timezone:    loc.String(),
				ActivatedAt: q.ActivatedAt,
			})
			if diag != nil {
				diags = append(diags, *diag)
			}
			if r == nil {
				continue
			}
			changed, err := core.ApplyResult(c, *r, now)
			if err != nil {
				return fmt.Errorf("criterion %s: %w", c.ID, err)
			}
			if !changed {
				continue
			}
			res.updates = append(res.updates, CriterionUpdate{
				QuestID:       q.ID,
				CriterionID:   c.ID,
				CriterionType: c.Type,
				Result:        *r,
				Progress:      c.CurrentProgress,
				Target:        c.TargetCount,
				IsMet:         c.IsMet,
			})
			events = append(events, core.NewCriterionProgressed(user, q.ID, *c, r.ProgressIncrement))
			if c.IsMet {
				events = append(events, core.NewCriterionMet(user, q.ID, *c))
			}
		}
		if len(res.updates) == 0 {
			return nil
		}
		q.Updated = now
		if q.AllMet() {
			q.Complete(now)
			res.completed = true
			events = append(events, core.NewQuestCompleted(*q))
		}
		return nil
	})
	if err != nil {
		return questResult{}, err
	}
	// sinks may publish or read storage, so they run after the update commits
	s.evaluator.Report(ctx, diags...)
	if res.completed {
		s.logger.InfoContext(ctx, "quest completed", "user_id", user, "quest_id", id)
	}
	for _, ev := range events {
		s.bus.Publish(ctx, ev)
	}
	return res, nil
}

func (s *QuestService) location(name string) (*time.Location, error) {
	if name == "" {
		return s.loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

func (s *QuestService) Close() { s.bus.Close() }
