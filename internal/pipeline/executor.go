// Package pipeline runs the violation analysis workflow for a single image
// and reports its progress as a lazy sequence of events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"thirdeye-service/internal/domain/violation"
	"thirdeye-service/internal/matcher"
)

// maxSteps bounds the stage loop; the graph has no cycles so a healthy run
// needs five.
const maxSteps = 16

var (
	ErrEmptyImage      = errors.New("image is empty")
	ErrEmptyAssessment = errors.New("vision model returned no assessment")
	ErrStagePanic      = errors.New("stage panicked")
)

type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (*violation.Assessment, error)
}

type RuleMatcher interface {
	Match(ctx context.Context, text string) ([]violation.RuleMatch, error)
}

type RecordWriter interface {
	Persist(ctx context.Context, a *violation.Assessment, matches []violation.RuleMatch) (*violation.PersistResult, error)
}

type Executor struct {
	analyzer Analyzer
	matcher  RuleMatcher
	writer   RecordWriter
	observer StageObserver
	log      zerolog.Logger
	now      func() time.Time
}

type Option func(*Executor)

func WithStageObserver(observer StageObserver) Option {
	return func(e *Executor) {
		e.observer = observer
	}
}

// WithClock replaces the time source used for event timestamps and stage
// durations.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

func NewExecutor(analyzer Analyzer, ruleMatcher RuleMatcher, writer RecordWriter, log zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		analyzer: analyzer,
		matcher:  ruleMatcher,
		writer:   writer,
		log:      log.With().Str("component", "pipeline").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run returns the progress events of one run. Stages execute as the sequence
// is consumed; the sequence ends after exactly one final_result or error event.
func (e *Executor) Run(ctx context.Context, runID string, image []byte) iter.Seq[violation.ProgressEvent] {
	return func(yield func(violation.ProgressEvent) bool) {
		log := e.log.With().Str("run_id", runID).Logger()
		em := newEmitter(yield, e.now)
		st := newRunState(image)

		fatal := func(err error) {
			log.Error().Err(err).Msg("run aborted")
			st.Formatted = Format(st)
			em.fail(err.Error(), st.Formatted)
		}

		if len(image) == 0 {
			fatal(ErrEmptyImage)
			return
		}

		stage := StageAnalyze
		for step := 0; stage != StageEnd; step++ {
			if step >= maxSteps {
				fatal(fmt.Errorf("run exceeded %d stages", maxSteps))
				return
			}
			if err := ctx.Err(); err != nil {
				fatal(fmt.Errorf("run cancelled before %s: %w", stage, err))
				return
			}
			if !em.stageStart(stage) {
				return
			}

			err := e.invoke(ctx, stage, st)
			switch {
			case err == nil:
			case errors.Is(err, ErrStagePanic):
				fatal(err)
				return
			case stage == StageAnalyze:
				log.Warn().Err(err).Msg("image analysis failed")
				st.Failure = err
			case stage == StageMatchRules:
				log.Warn().Err(err).Msg("rule matching failed, continuing without matches")
				st.Matches = []violation.RuleMatch{}
			default:
				fatal(fmt.Errorf("%s: %w", stage, err))
				return
			}

			if !em.stageEnd(stage, stageSummary(stage, st)) {
				return
			}

			nextStage, err := next(stage, st)
			if err != nil {
				fatal(err)
				return
			}
			stage = nextStage
		}

		if st.Failure != nil {
			em.fail(st.Failure.Error(), st.Formatted)
			return
		}
		log.Info().
			Bool("skipped", st.Skip).
			Int("matches", len(st.Matches)).
			Str("status", st.Formatted.Status).
			Msg("run finished")
		em.final(st.Formatted)
	}
}

func (e *Executor) invoke(ctx context.Context, stage Stage, st *RunState) (err error) {
	started := e.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrStagePanic, stage, r)
		}
		if e.observer != nil {
			e.observer.ObserveStage(stage, e.now().Sub(started), err)
		}
	}()

	switch stage {
	case StageAnalyze:
		a, err := e.analyzer.Analyze(ctx, st.Image)
		if err != nil {
			return err
		}
		if a == nil {
			return ErrEmptyAssessment
		}
		st.Assessment = a
	case StageValidate:
		if st.Assessment == nil {
			return errors.New("no assessment to validate")
		}
		st.Skip = skipFor(st.Assessment)
	case StageMatchRules:
		matches, err := e.matcher.Match(ctx, matcher.QueryText(st.Assessment))
		if err != nil {
			return err
		}
		if matches != nil {
			st.Matches = matches
		}
	case StageWriteRecord:
		res, err := e.writer.Persist(ctx, st.Assessment, st.Matches)
		if err != nil {
			return err
		}
		st.Persisted = res
	case StageFormat:
		st.Formatted = Format(st)
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
	return nil
}

func stageSummary(stage Stage, st *RunState) any {
	switch stage {
	case StageAnalyze:
		if st.Failure != nil {
			return map[string]any{"error": st.Failure.Error()}
		}
		return st.Assessment
	case StageValidate:
		return map[string]any{"skip": st.Skip}
	case StageMatchRules:
		return map[string]any{"matches": len(st.Matches)}
	case StageWriteRecord:
		return st.Persisted
	case StageFormat:
		return map[string]any{"status": st.Formatted.Status}
	}
	return nil
}
