// Package progress delivers run events to a live subscriber and to the
// durable session log.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"thirdeye-service/internal/domain/violation"
	"thirdeye-service/internal/repository"
)

type SessionStore interface {
	AppendEvent(ctx context.Context, id string, event violation.ProgressEvent) error
	Complete(ctx context.Context, id string, event violation.ProgressEvent, result *violation.FormattedResult) error
	Fail(ctx context.Context, id string, event violation.ProgressEvent, message string, result *violation.FormattedResult) error
}

const (
	DefaultRetries    = 2
	DefaultRetryDelay = 100 * time.Millisecond
)

// Sink publishes events for runs. Callers must publish a run's events from a
// single goroutine; the durable log is then written in event order.
type Sink struct {
	store   SessionStore
	hub     *Hub
	retries int
	delay   time.Duration
	log     zerolog.Logger
}

func NewSink(store SessionStore, hub *Hub, retries int, delay time.Duration, log zerolog.Logger) *Sink {
	if retries < 1 {
		retries = 1
	}
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &Sink{
		store:   store,
		hub:     hub,
		retries: retries,
		delay:   delay,
		log:     log.With().Str("component", "progress_sink").Logger(),
	}
}

// Publish appends ev to the durable log of runID, then offers it to the live
// subscriber. A terminal event also finishes the session and detaches the
// subscriber. The returned error only concerns the durable write.
func (s *Sink) Publish(ctx context.Context, runID string, ev violation.ProgressEvent) error {
	err := s.persist(ctx, runID, ev)
	switch {
	case err == nil:
	case ev.Terminal():
		err = s.finishAfterFailure(ctx, runID, ev, err)
	default:
		s.log.Warn().
			Err(err).
			Str("run_id", runID).
			Str("event", string(ev.Type)).
			Str("stage", ev.Stage).
			Msg("failed to persist progress event")
	}

	if !s.hub.Send(runID, ev) {
		s.log.Debug().
			Str("run_id", runID).
			Str("event", string(ev.Type)).
			Msg("live event dropped")
	}
	if ev.Terminal() {
		s.hub.Close(runID)
	}
	return err
}

func (s *Sink) persist(ctx context.Context, runID string, ev violation.ProgressEvent) error {
	write := func() error {
		return s.store.AppendEvent(ctx, runID, ev)
	}
	switch ev.Type {
	case violation.EventFinalResult:
		result, _ := ev.Data.(*violation.FormattedResult)
		write = func() error {
			return s.store.Complete(ctx, runID, ev, result)
		}
	case violation.EventError:
		message, result := errorDetails(ev.Data)
		write = func() error {
			return s.store.Fail(ctx, runID, ev, message, result)
		}
	}
	return s.withRetry(ctx, write)
}

// finishAfterFailure handles a terminal write that exhausted its retries.
// One more Fail write without the result is attempted so pollers still see a
// terminal session; if that fails too the session stays processing.
func (s *Sink) finishAfterFailure(ctx context.Context, runID string, ev violation.ProgressEvent, cause error) error {
	log := s.log.With().Str("run_id", runID).Str("event", string(ev.Type)).Logger()
	if errors.Is(cause, repository.ErrNotFound) {
		log.Error().Err(cause).Msg("terminal event rejected, session already finished")
		return cause
	}

	message := "failed to record run outcome: " + cause.Error()
	if err := s.store.Fail(ctx, runID, ev, message, nil); err != nil {
		log.Error().
			Err(err).
			AnErr("cause", cause).
			Bool("session_unfinished", true).
			Msg("session left processing, terminal state not recorded")
		return errors.Join(cause, err)
	}
	log.Error().Err(cause).Msg("terminal write failed, session marked failed")
	return cause
}

func (s *Sink) withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.delay
	policy.RandomizationFactor = 0
	policy.Multiplier = 2

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := fn()
		// a session that is no longer processing will not become writable
		if errors.Is(err, repository.ErrNotFound) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(s.retries+1)))
	if err != nil {
		return fmt.Errorf("persist progress after %d attempts: %w", attempts, err)
	}
	return nil
}

func errorDetails(data any) (string, *violation.FormattedResult) {
	switch v := data.(type) {
	case violation.ErrorPayload:
		return v.Message, v.Result
	case *violation.ErrorPayload:
		if v != nil {
			return v.Message, v.Result
		}
	case error:
		return v.Error(), nil
	case string:
		return v, nil
	}
	return fmt.Sprint(data), nil
}
