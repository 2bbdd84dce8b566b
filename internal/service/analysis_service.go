package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"thirdeye-service/internal/domain/violation"
	"thirdeye-service/internal/repository"
)

type SessionStore interface {
	CreateSession(ctx context.Context, id string) (*violation.SessionSnapshot, error)
	GetSnapshot(ctx context.Context, id string) (*violation.SessionSnapshot, error)
	Claim(ctx context.Context, id string) error
}

type Runner interface {
	Run(ctx context.Context, runID string, image []byte) iter.Seq[violation.ProgressEvent]
}

type Publisher interface {
	Publish(ctx context.Context, runID string, ev violation.ProgressEvent) error
}

type Subscriber interface {
	Subscribe(runID string) (<-chan violation.ProgressEvent, func(), error)
}

// AnalysisService owns the lifecycle of runs: it registers sessions, starts
// each run in the background and exposes the durable snapshot.
type AnalysisService struct {
	sessions SessionStore
	runner   Runner
	sink     Publisher
	live     Subscriber
	log      zerolog.Logger

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

func NewAnalysisService(sessions SessionStore, runner Runner, sink Publisher, live Subscriber, log zerolog.Logger) *AnalysisService {
	return &AnalysisService{
		sessions: sessions,
		runner:   runner,
		sink:     sink,
		live:     live,
		log:      log.With().Str("component", "analysis").Logger(),
		active:   make(map[string]struct{}),
	}
}

func (s *AnalysisService) CreateSession(ctx context.Context) (*violation.SessionSnapshot, error) {
	snapshot, err := s.sessions.CreateSession(ctx, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.log.Info().Str("session_id", snapshot.ID).Msg("session created")
	return snapshot, nil
}

func (s *AnalysisService) GetSnapshot(ctx context.Context, sessionID string) (*violation.SessionSnapshot, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, fmt.Errorf("%w: session id must be a UUID", ErrInvalidInput)
	}
	snapshot, err := s.sessions.GetSnapshot(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return snapshot, nil
}

// StartRun executes the pipeline for sessionID in the background and returns
// its live event channel. The channel is closed after the terminal event;
// calling stop detaches it early without affecting the run.
//
// A session runs at most once. The session is claimed in the store before
// the run starts, so neither a finished session nor one whose terminal
// write was lost can be executed again.
func (s *AnalysisService) StartRun(ctx context.Context, sessionID string, image []byte) (<-chan violation.ProgressEvent, func(), error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, nil, fmt.Errorf("%w: session id must be a UUID", ErrInvalidInput)
	}

	s.mu.Lock()
	if _, running := s.active[sessionID]; running {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: session %s", ErrRunInProgress, sessionID)
	}
	s.active[sessionID] = struct{}{}
	s.mu.Unlock()

	events, stop, err := s.live.Subscribe(sessionID)
	if err != nil {
		s.release(sessionID)
		return nil, nil, fmt.Errorf("subscribe to session %s: %w", sessionID, err)
	}

	if err := s.sessions.Claim(ctx, sessionID); err != nil {
		stop()
		s.release(sessionID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		case errors.Is(err, repository.ErrAlreadyClaimed):
			return nil, nil, fmt.Errorf("%w: session %s was already started", ErrSessionClosed, sessionID)
		}
		return nil, nil, fmt.Errorf("failed to claim session: %w", err)
	}

	s.wg.Add(1)
	go s.execute(context.WithoutCancel(ctx), sessionID, image)

	return events, stop, nil
}

func (s *AnalysisService) execute(ctx context.Context, sessionID string, image []byte) {
	defer s.wg.Done()
	defer s.release(sessionID)

	log := s.log.With().Str("session_id", sessionID).Logger()
	log.Info().Int("image_bytes", len(image)).Msg("run started")

	var last violation.ProgressEvent
	for ev := range s.runner.Run(ctx, sessionID, image) {
		last = ev
		if err := s.sink.Publish(ctx, sessionID, ev); err != nil {
			log.Error().Err(err).Str("event", string(ev.Type)).Msg("progress not recorded")
		}
	}
	log.Info().Str("outcome", string(last.Type)).Msg("run finished")
}

func (s *AnalysisService) release(sessionID string) {
	s.mu.Lock()
	delete(s.active, sessionID)
	s.mu.Unlock()
}

// Wait blocks until every started run has finished or ctx is done.
func (s *AnalysisService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
