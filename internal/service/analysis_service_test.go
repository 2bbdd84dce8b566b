package service

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thirdeye-service/internal/domain/violation"
	"thirdeye-service/internal/pipeline"
	"thirdeye-service/internal/progress"
	"thirdeye-service/internal/repository"
)

// memSessions keeps sessions in memory and serves both the service and the
// progress sink.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*violation.SessionSnapshot
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: map[string]*violation.SessionSnapshot{}}
}

func (m *memSessions) Claim(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if s.Status != violation.SessionProcessing || s.StartedAt != nil {
		return repository.ErrAlreadyClaimed
	}
	now := time.Now()
	s.StartedAt = &now
	return nil
}

func (m *memSessions) CreateSession(_ context.Context, id string) (*violation.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &violation.SessionSnapshot{ID: id, Status: violation.SessionProcessing, Events: []violation.ProgressEvent{}, CreatedAt: time.Now()}
	m.sessions[id] = s
	cp := *s
	return &cp, nil
}

func (m *memSessions) GetSnapshot(_ context.Context, id string) (*violation.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	cp.Events = append([]violation.ProgressEvent(nil), s.Events...)
	return &cp, nil
}

func (m *memSessions) append(id string, ev violation.ProgressEvent, status violation.SessionStatus, result *violation.FormattedResult, message *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != violation.SessionProcessing {
		return repository.ErrNotFound
	}
	s.Events = append(s.Events, ev)
	s.Status = status
	if result != nil {
		s.Result = result
	}
	s.Error = message
	return nil
}

func (m *memSessions) AppendEvent(_ context.Context, id string, ev violation.ProgressEvent) error {
	return m.append(id, ev, violation.SessionProcessing, nil, nil)
}

func (m *memSessions) Complete(_ context.Context, id string, ev violation.ProgressEvent, result *violation.FormattedResult) error {
	return m.append(id, ev, violation.SessionComplete, result, nil)
}

func (m *memSessions) Fail(_ context.Context, id string, ev violation.ProgressEvent, message string, result *violation.FormattedResult) error {
	return m.append(id, ev, violation.SessionFailed, result, &message)
}

type stubAnalyzer struct {
	a   *violation.Assessment
	err error
}

func (s stubAnalyzer) Analyze(context.Context, []byte) (*violation.Assessment, error) {
	return s.a, s.err
}

type stubMatcher struct{ matches []violation.RuleMatch }

func (s stubMatcher) Match(context.Context, string) ([]violation.RuleMatch, error) {
	return s.matches, nil
}

type testRig struct {
	sessions *memSessions
	service  *AnalysisService
	reports  *fakeViolationStore
	hub      *progress.Hub
}

func newRig(t *testing.T, analyzer pipeline.Analyzer, matches []violation.RuleMatch) *testRig {
	t.Helper()
	sessions := newMemSessions()
	reports := &fakeViolationStore{}
	hub := progress.NewHub(8, 32)
	sink := progress.NewSink(sessions, hub, 1, time.Millisecond, zerolog.Nop())
	exec := pipeline.NewExecutor(analyzer, stubMatcher{matches: matches}, NewViolationService(reports, zerolog.Nop()), zerolog.Nop())
	return &testRig{
		sessions: sessions,
		service:  NewAnalysisService(sessions, exec, sink, hub, zerolog.Nop()),
		reports:  reports,
		hub:      hub,
	}
}

func drain(t *testing.T, events <-chan violation.ProgressEvent) []violation.ProgressEvent {
	t.Helper()
	var got []violation.ProgressEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("live stream did not close")
		}
	}
}

func validStubAssessment(confidence float64) *violation.Assessment {
	a := assessment(confidence)
	a.ViolationTypes = "red_light"
	return a
}

func TestAnalysisService_RunCompletes(t *testing.T) {
	rig := newRig(t, stubAnalyzer{a: validStubAssessment(0.65)}, []violation.RuleMatch{
		{RuleID: "mva-section-5", FineAmount: 1000, Similarity: 0.8},
	})
	ctx := context.Background()

	session, err := rig.service.CreateSession(ctx)
	require.NoError(t, err)

	events, stop, err := rig.service.StartRun(ctx, session.ID, []byte("jpeg"))
	require.NoError(t, err)
	defer stop()

	live := drain(t, events)
	require.NoError(t, rig.service.Wait(ctx))

	require.NotEmpty(t, live)
	assert.Equal(t, violation.EventFinalResult, live[len(live)-1].Type)

	snapshot, err := rig.service.GetSnapshot(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, violation.SessionComplete, snapshot.Status)
	assert.Equal(t, live, snapshot.Events)
	require.NotNil(t, snapshot.Result)
	assert.Equal(t, int64(1000), snapshot.Result.RecommendedFine)
	assert.NotNil(t, rig.reports.escalation)
	assert.Zero(t, rig.hub.Len())
}

func TestAnalysisService_VisionErrorFailsSession(t *testing.T) {
	rig := newRig(t, stubAnalyzer{err: errors.New("model unavailable")}, nil)
	ctx := context.Background()

	session, err := rig.service.CreateSession(ctx)
	require.NoError(t, err)
	events, _, err := rig.service.StartRun(ctx, session.ID, []byte("jpeg"))
	require.NoError(t, err)
	drain(t, events)
	require.NoError(t, rig.service.Wait(ctx))

	snapshot, err := rig.service.GetSnapshot(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, violation.SessionFailed, snapshot.Status)
	require.NotNil(t, snapshot.Error)
	assert.Contains(t, *snapshot.Error, "model unavailable")
	require.NotNil(t, snapshot.Result)
	assert.Equal(t, "incomplete", snapshot.Result.Status)
	assert.Nil(t, rig.reports.record)
}

func TestAnalysisService_DetachedStreamStillFinishes(t *testing.T) {
	rig := newRig(t, stubAnalyzer{a: validStubAssessment(0.9)}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	session, err := rig.service.CreateSession(ctx)
	require.NoError(t, err)
	_, stop, err := rig.service.StartRun(ctx, session.ID, []byte("jpeg"))
	require.NoError(t, err)
	stop()
	cancel()

	require.NoError(t, rig.service.Wait(context.Background()))
	snapshot, err := rig.service.GetSnapshot(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, violation.SessionComplete, snapshot.Status)
	assert.Equal(t, violation.EventFinalResult, snapshot.Events[len(snapshot.Events)-1].Type)
}

func TestAnalysisService_EmptyImageFailsSession(t *testing.T) {
	rig := newRig(t, stubAnalyzer{a: validStubAssessment(0.9)}, nil)
	ctx := context.Background()

	session, err := rig.service.CreateSession(ctx)
	require.NoError(t, err)
	events, _, err := rig.service.StartRun(ctx, session.ID, nil)
	require.NoError(t, err)
	live := drain(t, events)
	require.NoError(t, rig.service.Wait(ctx))

	require.Len(t, live, 1)
	assert.Equal(t, violation.EventError, live[0].Type)
	snapshot, _ := rig.service.GetSnapshot(ctx, session.ID)
	assert.Equal(t, violation.SessionFailed, snapshot.Status)
}

func TestAnalysisService_FinishedSessionRejected(t *testing.T) {
	rig := newRig(t, stubAnalyzer{a: validStubAssessment(0.9)}, nil)
	ctx := context.Background()

	session, _ := rig.service.CreateSession(ctx)
	events, _, err := rig.service.StartRun(ctx, session.ID, []byte("jpeg"))
	require.NoError(t, err)
	drain(t, events)
	require.NoError(t, rig.service.Wait(ctx))

	_, _, err = rig.service.StartRun(ctx, session.ID, []byte("jpeg"))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, 1, rig.reports.created)
}

// lossySessions drops every terminal write, leaving sessions processing.
type lossySessions struct {
	*memSessions
}

func (l lossySessions) Complete(context.Context, string, violation.ProgressEvent, *violation.FormattedResult) error {
	return errors.New("connection reset")
}

func (l lossySessions) Fail(context.Context, string, violation.ProgressEvent, string, *violation.FormattedResult) error {
	return errors.New("connection reset")
}

func TestAnalysisService_LostTerminalWriteDoesNotAllowRerun(t *testing.T) {
	sessions := newMemSessions()
	reports := &fakeViolationStore{}
	hub := progress.NewHub(8, 32)
	sink := progress.NewSink(lossySessions{sessions}, hub, 1, time.Millisecond, zerolog.Nop())
	exec := pipeline.NewExecutor(stubAnalyzer{a: validStubAssessment(0.9)}, stubMatcher{}, NewViolationService(reports, zerolog.Nop()), zerolog.Nop())
	svc := NewAnalysisService(sessions, exec, sink, hub, zerolog.Nop())
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	events, _, err := svc.StartRun(ctx, session.ID, []byte("jpeg"))
	require.NoError(t, err)
	drain(t, events)
	require.NoError(t, svc.Wait(ctx))

	snapshot, err := svc.GetSnapshot(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, violation.SessionProcessing, snapshot.Status)

	_, _, err = svc.StartRun(ctx, session.ID, []byte("jpeg"))
	assert.ErrorIs(t, err, ErrSessionClosed)
	require.NoError(t, svc.Wait(ctx))
	assert.Equal(t, 1, reports.created)
}

func TestAnalysisService_ClaimIsSharedAcrossInstances(t *testing.T) {
	sessions := newMemSessions()
	hub := progress.NewHub(8, 8)
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	sink := progress.NewSink(sessions, hub, 1, time.Millisecond, zerolog.Nop())
	first := NewAnalysisService(sessions, runner, sink, hub, zerolog.Nop())
	// a second instance has its own in-memory bookkeeping but the same store
	second := NewAnalysisService(sessions, runner, sink, progress.NewHub(8, 8), zerolog.Nop())
	ctx := context.Background()

	session, err := first.CreateSession(ctx)
	require.NoError(t, err)
	_, stop, err := first.StartRun(ctx, session.ID, []byte("jpeg"))
	require.NoError(t, err)
	defer stop()
	<-runner.started

	snapshot, err := second.GetSnapshot(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, violation.SessionProcessing, snapshot.Status)

	_, _, err = second.StartRun(ctx, session.ID, []byte("jpeg"))
	assert.ErrorIs(t, err, ErrSessionClosed)

	close(runner.release)
	require.NoError(t, first.Wait(ctx))
	require.NoError(t, second.Wait(ctx))
}

func TestAnalysisService_ConcurrentStartsPersistOnce(t *testing.T) {
	rig := newRig(t, stubAnalyzer{a: validStubAssessment(0.65)}, []violation.RuleMatch{
		{RuleID: "mva-section-5", FineAmount: 1000, Similarity: 0.8},
	})
	ctx := context.Background()
	session, err := rig.service.CreateSession(ctx)
	require.NoError(t, err)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			events, _, err := rig.service.StartRun(ctx, session.ID, []byte("jpeg"))
			if err != nil {
				return
			}
			mu.Lock()
			started++
			mu.Unlock()
			for range events {
			}
		}()
	}
	wg.Wait()
	require.NoError(t, rig.service.Wait(ctx))

	assert.Equal(t, 1, started)
	assert.Equal(t, 1, rig.reports.created)
	snapshot, err := rig.service.GetSnapshot(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, violation.SessionComplete, snapshot.Status)
}

func TestAnalysisService_UnknownAndInvalidSessions(t *testing.T) {
	rig := newRig(t, stubAnalyzer{}, nil)
	ctx := context.Background()

	_, err := rig.service.GetSnapshot(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = rig.service.StartRun(ctx, "0b6f5a2e-9a53-4a55-a8c6-6b7f0c1b2a33", []byte("jpeg"))
	assert.ErrorIs(t, err, ErrNotFound)
}

// blockingRunner holds the run open until release is closed.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingRunner) Run(context.Context, string, []byte) iter.Seq[violation.ProgressEvent] {
	return func(yield func(violation.ProgressEvent) bool) {
		close(b.started)
		<-b.release
		yield(violation.ProgressEvent{Type: violation.EventFinalResult, Data: &violation.FormattedResult{}})
	}
}

func TestAnalysisService_RunExecutesOnce(t *testing.T) {
	sessions := newMemSessions()
	hub := progress.NewHub(8, 8)
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	svc := NewAnalysisService(sessions, runner, progress.NewSink(sessions, hub, 1, time.Millisecond, zerolog.Nop()), hub, zerolog.Nop())
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	_, stop, err := svc.StartRun(ctx, session.ID, []byte("jpeg"))
	require.NoError(t, err)
	defer stop()
	<-runner.started

	_, _, err = svc.StartRun(ctx, session.ID, []byte("jpeg"))
	assert.ErrorIs(t, err, ErrRunInProgress)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Wait(waitCtx), context.DeadlineExceeded)

	close(runner.release)
	require.NoError(t, svc.Wait(ctx))
}

func TestAnalysisService_HubFullReleasesSession(t *testing.T) {
	sessions := newMemSessions()
	hub := progress.NewHub(1, 1)
	svc := NewAnalysisService(sessions, &blockingRunner{}, progress.NewSink(sessions, hub, 1, time.Millisecond, zerolog.Nop()), hub, zerolog.Nop())
	ctx := context.Background()

	_, _, err := hub.Subscribe("someone-else")
	require.NoError(t, err)

	session, _ := svc.CreateSession(ctx)
	_, _, err = svc.StartRun(ctx, session.ID, []byte("jpeg"))
	assert.ErrorIs(t, err, progress.ErrHubFull)

	svc.mu.Lock()
	assert.Empty(t, svc.active)
	svc.mu.Unlock()
}
