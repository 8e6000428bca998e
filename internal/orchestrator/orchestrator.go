package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vampirenirmal/storyforge/internal/assembly"
	"github.com/vampirenirmal/storyforge/internal/knowledge"
	"github.com/vampirenirmal/storyforge/internal/provider"
	"github.com/vampirenirmal/storyforge/internal/quality"
	"github.com/vampirenirmal/storyforge/internal/repair"
	"github.com/vampirenirmal/storyforge/internal/storage"
	"github.com/vampirenirmal/storyforge/internal/tokens"
)

// Orchestrator drives units through generate, validate, repair and commit.
// One orchestrator serves many works; fact stores are created per work so
// parallel works can never contaminate each other's universes.
type Orchestrator struct {
	gate          *quality.Gate
	engine        *repair.Engine
	archive       *storage.Archive
	estimator     *tokens.Estimator
	budgets       assembly.Budgets
	emitter       Emitter
	logger        *slog.Logger
	defaultBudget float64
}

type Option func(*Orchestrator)

func WithEmitter(e Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithBudget sets the default per-work spend cap in USD, used when the work
// file does not carry its own.
func WithBudget(usd float64) Option {
	return func(o *Orchestrator) { o.defaultBudget = usd }
}

func WithAssemblyBudgets(b assembly.Budgets) Option {
	return func(o *Orchestrator) { o.budgets = b }
}

func WithEstimator(e *tokens.Estimator) Option {
	return func(o *Orchestrator) { o.estimator = e }
}

func New(gate *quality.Gate, engine *repair.Engine, archive *storage.Archive, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gate:      gate,
		engine:    engine,
		archive:   archive,
		estimator: tokens.NewEstimator(tokens.ModelProfile{}),
		budgets:   assembly.DefaultBudgets(),
		emitter:   nopEmitter{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")
	return o
}

// workState bundles the per-work collaborators threaded through unit runs.
type workState struct {
	workID  string
	facts   *knowledge.Store
	checker *knowledge.Checker
	asm     *assembly.Assembler
	costs   *CostTracker
	tracker *WorkTracker
}

// RunWork generates every unit of the work in order. Units already completed
// by a previous run are skipped; their facts are re-seeded from stored content
// so later units still see them.
func (o *Orchestrator) RunWork(ctx context.Context, work *Work, pool *assembly.Pool) (*WorkResult, error) {
	if err := work.Validate(); err != nil {
		return nil, err
	}

	budget := work.BudgetUSD
	if budget <= 0 {
		budget = o.defaultBudget
	}

	units := work.UnitSpecs()
	facts := knowledge.NewStore(o.logger)
	st := &workState{
		workID:  work.ID,
		facts:   facts,
		checker: knowledge.NewChecker(facts, pool.EntityNames(), o.logger),
		asm:     assembly.NewAssembler(facts, o.estimator, o.budgets, o.logger),
		costs:   NewCostTracker(budget),
		tracker: NewWorkTracker(o.archive, work.ID, len(units)),
	}
	if err := st.tracker.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading progress for work %s: %w", work.ID, err)
	}

	result := &WorkResult{WorkID: work.ID}
	previous := ""

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if st.tracker.IsCompleted(unit.ID()) {
			content, err := st.tracker.CompletedContent(ctx, unit.ID())
			if err != nil {
				return nil, fmt.Errorf("resuming unit %s: %w", unit.ID(), err)
			}
			check := st.checker.Check(content, unit.ID())
			st.facts.Commit(check.Staged)
			previous = content
			o.logger.Info("unit already completed, skipping",
				"work", work.ID, "unit", unit.ID())
			continue
		}

		unitResult, err := o.runUnit(ctx, st, unit, pool, previous)
		if err != nil {
			return nil, err
		}

		result.Units = append(result.Units, *unitResult)
		if unitResult.IsFallback {
			result.FallbackUnits++
		}
		previous = unitResult.Content
	}

	result.TotalCost = st.costs.Total()
	result.FactCount = st.facts.Len()

	if err := o.archive.SaveJSON(ctx, storage.FactsPath(work.ID), st.facts.All()); err != nil {
		o.logger.Warn("saving fact snapshot failed", "work", work.ID, "error", err)
	}

	o.logger.Info("work finished",
		"work", work.ID,
		"units", len(result.Units),
		"fallbacks", result.FallbackUnits,
		"facts", result.FactCount,
		"cost", result.TotalCost)

	return result, nil
}

// runUnit walks the escalation ladder for one unit. Facts stay staged until a
// draft is accepted; exhausting the ladder always terminates in a fallback
// result rather than an error.
func (o *Orchestrator) runUnit(ctx context.Context, st *workState, unit assembly.UnitSpec, pool *assembly.Pool, previous string) (*UnitResult, error) {
	o.emit(Event{Type: EventUnitStarted, WorkID: st.workID, UnitID: unit.ID()})

	pack, err := st.asm.Build(unit, pool, previous)
	if err != nil {
		return nil, fmt.Errorf("assembling context for %s: %w", unit.ID(), err)
	}

	var history []GenerationAttempt
	var lastIssues []quality.Issue

	for attempt := 1; ; attempt++ {
		strat, ok := repair.ForAttempt(attempt)
		if !ok {
			break
		}

		o.emit(Event{Type: EventAttemptStarted, WorkID: st.workID, UnitID: unit.ID(), Attempt: attempt})
		start := time.Now()

		resp, genErr := o.engine.Generate(ctx, unit, pack, strat, lastIssues)
		if genErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			history = append(history, failedAttempt(attempt, strat, start, genErr))
			if err := st.tracker.MarkFailed(ctx, unit.ID(), attempt, genErr, provider.IsTransient(genErr)); err != nil {
				return nil, err
			}
			o.logger.Warn("attempt failed before scoring",
				"unit", unit.ID(), "attempt", attempt, "error", genErr)
			continue
		}

		total := st.costs.Add(resp.Cost)
		o.emit(Event{Type: EventCostUpdated, WorkID: st.workID, UnitID: unit.ID(), Cost: total})
		if st.costs.OverBudget() {
			return nil, fmt.Errorf("work %s at $%.4f: %w", st.workID, total, ErrBudgetExceeded)
		}

		check := st.checker.Check(resp.Text, unit.ID())
		report, valErr := o.gate.Validate(ctx, resp.Text, unit, check)
		if valErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			history = append(history, failedAttempt(attempt, strat, start, valErr))
			if err := st.tracker.MarkFailed(ctx, unit.ID(), attempt, valErr, provider.IsTransient(valErr)); err != nil {
				return nil, err
			}
			continue
		}

		o.emit(Event{
			Type:    EventAttemptScored,
			WorkID:  st.workID,
			UnitID:  unit.ID(),
			Attempt: attempt,
			Score:   report.WeightedTotal,
			Status:  string(report.Status),
		})

		history = append(history, GenerationAttempt{
			AttemptNumber: attempt,
			Strategy:      strat.Name,
			Tier:          int(strat.Tier),
			ContextSize:   string(strat.Context),
			OutputText:    resp.Text,
			Report:        report,
			Cost:          resp.Cost,
			DurationMS:    time.Since(start).Milliseconds(),
		})

		if err := o.archive.SaveJSON(ctx, storage.ReportPath(st.workID, unit.ID(), attempt), report); err != nil {
			o.logger.Warn("saving report failed", "unit", unit.ID(), "attempt", attempt, "error", err)
		}

		if report.Status == quality.StatusAccept {
			committed := st.facts.Commit(check.Staged)
			result := UnitResult{
				WorkID:         st.workID,
				UnitID:         unit.ID(),
				Content:        resp.Text,
				Attempts:       attempt,
				FinalStrategy:  strat.Name,
				QualityScore:   report.WeightedTotal,
				FactsCommitted: committed,
				History:        history,
				CompletedAt:    time.Now(),
			}
			if err := st.tracker.MarkCompleted(ctx, result); err != nil {
				return nil, err
			}
			o.emit(Event{
				Type:   EventUnitAccepted,
				WorkID: st.workID,
				UnitID: unit.ID(),
				Score:  report.WeightedTotal,
				Status: string(quality.StatusAccept),
			})
			return &result, nil
		}

		lastIssues = report.Issues
	}

	return o.fallbackUnit(ctx, st, unit, pack, history)
}

// fallbackUnit is the guaranteed-progress terminal path. It spends no provider
// budget and commits no facts; the content exists so the work can continue and
// a human can rework the unit later.
func (o *Orchestrator) fallbackUnit(ctx context.Context, st *workState, unit assembly.UnitSpec, pack *assembly.ContextPack, history []GenerationAttempt) (*UnitResult, error) {
	best := 0.0
	for _, a := range history {
		if a.Report != nil && a.Report.WeightedTotal > best {
			best = a.Report.WeightedTotal
		}
	}

	result := UnitResult{
		WorkID:              st.workID,
		UnitID:              unit.ID(),
		Content:             repair.Fallback(unit, pack),
		Attempts:            repair.MaxContentAttempts + 1,
		FinalStrategy:       repair.FallbackStrategy().Name,
		QualityScore:        best,
		IsFallback:          true,
		RequiresHumanReview: true,
		History:             history,
		CompletedAt:         time.Now(),
	}
	if err := st.tracker.MarkCompleted(ctx, result); err != nil {
		return nil, err
	}

	o.emit(Event{
		Type:   EventUnitFallback,
		WorkID: st.workID,
		UnitID: unit.ID(),
		Score:  best,
	})
	o.logger.Warn("unit fell back after exhausting attempts",
		"unit", unit.ID(), "best_score", best)

	return &result, nil
}

func failedAttempt(attempt int, strat repair.Strategy, start time.Time, err error) GenerationAttempt {
	return GenerationAttempt{
		AttemptNumber: attempt,
		Strategy:      strat.Name,
		Tier:          int(strat.Tier),
		ContextSize:   string(strat.Context),
		DurationMS:    time.Since(start).Milliseconds(),
		Error:         err.Error(),
	}
}

func (o *Orchestrator) emit(e Event) {
	e.At = time.Now()
	o.emitter.Emit(e)
}

// WorkRun pairs a work with its entity pool for batch execution.
type WorkRun struct {
	Work *Work
	Pool *assembly.Pool
}

// RunWorks executes several works concurrently, up to the given limit. The
// first failing work cancels the rest.
func (o *Orchestrator) RunWorks(ctx context.Context, runs []WorkRun, concurrency int) ([]*WorkResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	results := make([]*WorkResult, len(runs))
	for i, run := range runs {
		i, run := i, run
		g.Go(func() error {
			result, err := o.RunWork(ctx, run.Work, run.Pool)
			if err != nil {
				return fmt.Errorf("work %s: %w", run.Work.ID, err)
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
