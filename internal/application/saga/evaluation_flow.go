// Package saga contains complex business processes that orchestrate
// multiple domain operations in a coordinated manner.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dnflvus-wq/engTest/internal/application/command"
	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION FLOW SAGA
// Flow: Load Catalog → Load Unlocked Tiers → Select By Trigger →
//
//	(per achievement) Evaluate → Update Progress → Unlock + Badge → Publish Summary
//
// A failure while handling one achievement is logged and skipped; the rest of
// the run continues. The run never fails the code path that triggered it.
// ══════════════════════════════════════════════════════════════════════════════

// EvaluationInput contains data needed to start a run.
type EvaluationInput struct {
	// UserID - the user to evaluate.
	UserID int64

	// Trigger - the life-cycle event that started the run.
	Trigger achievement.Trigger

	// RunID - correlation id stamped on every event of the run.
	RunID string
}

// Validate checks if the input is valid.
func (i EvaluationInput) Validate() error {
	if i.UserID <= 0 {
		return errors.New("evaluation_flow: user ID is required")
	}
	return nil
}

// EvaluationOutcome is what happened to one achievement during a run.
type EvaluationOutcome struct {
	AchievementID string
	Value         int
	NewTier       achievement.Tier
	Unlocked      int
	BadgeAwarded  bool
	Err           error
}

// EvaluationResult contains the result of a run.
type EvaluationResult struct {
	UserID    int64
	Trigger   achievement.Trigger
	RunID     string
	Evaluated int
	Unlocked  int
	Failed    int
	Outcomes  []EvaluationOutcome
	Duration  time.Duration
}

// EvaluationStep represents a step in the evaluation flow.
type EvaluationStep string

const (
	StepLoadCatalog      EvaluationStep = "load_catalog"
	StepLoadUnlocked     EvaluationStep = "load_unlocked"
	StepSelectByTrigger  EvaluationStep = "select_by_trigger"
	StepEvaluate         EvaluationStep = "evaluate"
	StepPublishSummary   EvaluationStep = "publish_summary"
	StepEvaluationFinish EvaluationStep = "complete"
)

// EvaluationState tracks the current state of the evaluation saga.
type EvaluationState struct {
	CurrentStep EvaluationStep
	Input       EvaluationInput
	Definitions []achievement.Definition
	BestTiers   map[string]achievement.Tier
	Seen        map[string]bool
	Selected    []achievement.Definition
	Result      *EvaluationResult
	StartedAt   time.Time
	Error       error
	FailedStep  EvaluationStep
}

// CategoryGate switches whole categories off, optionally per user.
type CategoryGate interface {
	CategoryEnabled(category achievement.Category, userID int64) bool
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION FLOW SAGA IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// EvaluationFlowSaga runs the evaluator over the catalog for one user.
type EvaluationFlowSaga struct {
	// Dependencies
	catalog   achievement.DefinitionSource
	unlocks   achievement.UnlockRepository
	evaluator *achievement.Evaluator
	progress  *command.UpdateProgressHandler
	unlocker  *command.UnlockAchievementHandler
	gate      CategoryGate
	eventBus  shared.EventPublisher
	logger    *logger.Logger

	// Configuration
	updateProgress bool
	runTimeout     time.Duration
}

// EvaluationFlowConfig contains configuration for the evaluation saga.
type EvaluationFlowConfig struct {
	// UpdateProgress refreshes the progress cache for every tiered entry.
	UpdateProgress bool

	// RunTimeout bounds one run. Zero means no limit.
	RunTimeout time.Duration
}

// DefaultEvaluationFlowConfig returns default configuration.
func DefaultEvaluationFlowConfig() EvaluationFlowConfig {
	return EvaluationFlowConfig{
		UpdateProgress: true,
		RunTimeout:     30 * time.Second,
	}
}

// NewEvaluationFlowSaga creates a new evaluation saga with all dependencies.
// progress and gate may be nil.
func NewEvaluationFlowSaga(
	catalog achievement.DefinitionSource,
	unlocks achievement.UnlockRepository,
	evaluator *achievement.Evaluator,
	progress *command.UpdateProgressHandler,
	unlocker *command.UnlockAchievementHandler,
	gate CategoryGate,
	eventBus shared.EventPublisher,
	log *logger.Logger,
	config EvaluationFlowConfig,
) *EvaluationFlowSaga {
	if eventBus == nil {
		eventBus = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &EvaluationFlowSaga{
		catalog:        catalog,
		unlocks:        unlocks,
		evaluator:      evaluator,
		progress:       progress,
		unlocker:       unlocker,
		gate:           gate,
		eventBus:       eventBus,
		logger:         log.With(logger.Component("evaluation_flow")),
		updateProgress: config.UpdateProgress && progress != nil,
		runTimeout:     config.RunTimeout,
	}
}

// Run executes the saga and swallows every error after logging it. It is the
// entry point used by the evaluation queue.
func (s *EvaluationFlowSaga) Run(ctx context.Context, input EvaluationInput) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("evaluation run panicked",
				logger.UserID(input.UserID),
				logger.Trigger(string(input.Trigger)),
				logger.RunID(input.RunID),
				logger.Any("panic", r),
			)
		}
	}()

	if _, err := s.Execute(ctx, input); err != nil {
		s.logger.Error("evaluation run failed",
			logger.UserID(input.UserID),
			logger.Trigger(string(input.Trigger)),
			logger.RunID(input.RunID),
			logger.Err(err),
		)
	}
}

// RunEvaluation adapts Run to the evaluation queue's runner signature.
func (s *EvaluationFlowSaga) RunEvaluation(ctx context.Context, userID int64, trigger achievement.Trigger, runID string) {
	s.Run(ctx, EvaluationInput{UserID: userID, Trigger: trigger, RunID: runID})
}

// Execute runs the complete evaluation process. Only failures that prevent
// the run from starting (invalid input, catalog or unlock store unavailable)
// are returned; per-achievement failures are counted in the result.
func (s *EvaluationFlowSaga) Execute(ctx context.Context, input EvaluationInput) (*EvaluationResult, error) {
	if input.Trigger == "" {
		input.Trigger = achievement.TriggerAll
	}
	state := &EvaluationState{
		CurrentStep: StepLoadCatalog,
		Input:       input,
		StartedAt:   time.Now(),
		Result: &EvaluationResult{
			UserID:  input.UserID,
			Trigger: input.Trigger,
			RunID:   input.RunID,
		},
	}

	if err := input.Validate(); err != nil {
		state.FailedStep = StepLoadCatalog
		state.Error = err
		return nil, s.wrapError(state, err)
	}

	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	// Step 1: Load catalog
	if err := s.stepLoadCatalog(ctx, state); err != nil {
		return nil, s.wrapError(state, err)
	}

	// Step 2: Load best unlocked tier per achievement
	state.CurrentStep = StepLoadUnlocked
	if err := s.stepLoadUnlocked(ctx, state); err != nil {
		return nil, s.wrapError(state, err)
	}

	// Step 3: Select achievements for the trigger
	state.CurrentStep = StepSelectByTrigger
	s.stepSelectByTrigger(state)

	// Step 4: Evaluate each achievement in isolation
	state.CurrentStep = StepEvaluate
	for _, def := range state.Selected {
		if ctx.Err() != nil {
			s.logger.Warn("evaluation run cancelled",
				logger.UserID(input.UserID),
				logger.RunID(input.RunID),
				logger.Int("remaining", len(state.Selected)-state.Result.Evaluated),
			)
			break
		}
		outcome := s.evaluateOne(ctx, state, def)
		state.Result.Evaluated++
		state.Result.Unlocked += outcome.Unlocked
		if outcome.Err != nil {
			state.Result.Failed++
		}
		state.Result.Outcomes = append(state.Result.Outcomes, outcome)
	}

	// Step 5: Publish run summary
	state.CurrentStep = StepPublishSummary
	state.Result.Duration = time.Since(state.StartedAt)
	s.stepPublishSummary(state)

	state.CurrentStep = StepEvaluationFinish
	return state.Result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SAGA STEPS
// ══════════════════════════════════════════════════════════════════════════════

func (s *EvaluationFlowSaga) stepLoadCatalog(ctx context.Context, state *EvaluationState) error {
	defs, err := s.catalog.Definitions(ctx)
	if err != nil {
		return shared.WrapError("achievement", "Evaluate", shared.ErrServiceUnavailable,
			shared.ErrCatalogUnavailable.Message, err)
	}
	state.Definitions = defs
	return nil
}

func (s *EvaluationFlowSaga) stepLoadUnlocked(ctx context.Context, state *EvaluationState) error {
	records, err := s.unlocks.FindByUser(ctx, state.Input.UserID)
	if err != nil {
		return fmt.Errorf("failed to load unlock records: %w", err)
	}
	state.BestTiers, state.Seen = achievement.BestTiers(records)
	return nil
}

func (s *EvaluationFlowSaga) stepSelectByTrigger(state *EvaluationState) {
	categories := state.Input.Trigger.Categories()
	state.Selected = make([]achievement.Definition, 0, len(state.Definitions))
	for _, def := range state.Definitions {
		if !categories[def.Category] {
			continue
		}
		if s.gate != nil && !s.gate.CategoryEnabled(def.Category, state.Input.UserID) {
			continue
		}
		state.Selected = append(state.Selected, def)
	}
}

// evaluateOne handles a single achievement. Panics are converted into the
// outcome's error so one broken derivation cannot end the run.
func (s *EvaluationFlowSaga) evaluateOne(ctx context.Context, state *EvaluationState, def achievement.Definition) (outcome EvaluationOutcome) {
	outcome.AchievementID = def.ID
	userID := state.Input.UserID

	defer func() {
		if r := recover(); r != nil {
			outcome.Err = fmt.Errorf("panic while evaluating %s: %v", def.ID, r)
		}
		if outcome.Err != nil {
			s.logger.Error("achievement evaluation failed",
				logger.UserID(userID),
				logger.AchievementID(def.ID),
				logger.RunID(state.Input.RunID),
				logger.Err(outcome.Err),
			)
		}
	}()

	current := state.BestTiers[def.ID]
	res, err := s.evaluator.Evaluate(ctx, userID, def, current, state.Seen[def.ID])
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Value = res.Value

	if s.updateProgress && def.Tiered {
		if _, err := s.progress.Handle(ctx, command.UpdateProgressCommand{
			UserID:     userID,
			Definition: def,
			Value:      res.Value,
		}); err != nil {
			// Progress is a display cache; the unlock still proceeds.
			s.logger.Warn("progress update failed",
				logger.UserID(userID),
				logger.AchievementID(def.ID),
				logger.Err(err),
			)
		}
	}

	tier := res.NewTier
	if !res.Changed {
		if !s.badgePending(def, current, state.Seen[def.ID]) {
			return outcome
		}
		// The tier is already stored; the unlocker only repeats the grant.
		tier = current
	} else {
		outcome.NewTier = res.NewTier
	}

	result, err := s.unlocker.Handle(ctx, command.UnlockAchievementCommand{
		UserID:        userID,
		Definition:    def,
		Tier:          tier,
		Value:         res.Value,
		CorrelationID: state.Input.RunID,
	})
	if result != nil {
		outcome.Unlocked = len(result.Unlocked)
		outcome.BadgeAwarded = result.BadgeAwarded
	}
	if err != nil {
		outcome.Err = err
	}
	return outcome
}

// badgePending reports whether the stored best tier satisfies the badge
// policy. The grant is idempotent, so a badge lost to a failed award is
// picked up by the next run.
func (s *EvaluationFlowSaga) badgePending(def achievement.Definition, best achievement.Tier, seen bool) bool {
	if !seen || !def.HasBadge() || def.Tiered == best.IsNone() {
		return false
	}
	return def.GrantsBadgeAt.Grants(best)
}

func (s *EvaluationFlowSaga) stepPublishSummary(state *EvaluationState) {
	r := state.Result
	s.logger.Info("evaluation run completed",
		logger.UserID(r.UserID),
		logger.Trigger(string(r.Trigger)),
		logger.RunID(r.RunID),
		logger.Int("evaluated", r.Evaluated),
		logger.Int("unlocked", r.Unlocked),
		logger.Int("failed", r.Failed),
		logger.Latency(r.Duration),
	)

	event := shared.EvaluationCompletedEvent{
		BaseEvent: shared.NewUserEvent(shared.EventEvaluationCompleted, r.UserID),
		UserID:    r.UserID,
		Trigger:   string(r.Trigger),
		Evaluated: r.Evaluated,
		Unlocked:  r.Unlocked,
		Failed:    r.Failed,
		Duration:  r.Duration,
	}
	if r.RunID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(r.RunID)
	}
	_ = s.eventBus.Publish(event)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *EvaluationFlowSaga) wrapError(state *EvaluationState, err error) error {
	if state.FailedStep == "" {
		state.FailedStep = state.CurrentStep
	}
	state.Error = err
	return fmt.Errorf("evaluation_flow failed at step %s: %w", state.FailedStep, err)
}
