package pipeline

import (
	"time"

	"thirdeye-service/internal/domain/violation"
)

// emitter enforces the event discipline of a run: at most one stage_start
// and one stage_end per stage, and nothing after the first terminal event.
type emitter struct {
	yield   func(violation.ProgressEvent) bool
	now     func() time.Time
	seen    map[string]struct{}
	done    bool
	stopped bool
}

func newEmitter(yield func(violation.ProgressEvent) bool, now func() time.Time) *emitter {
	return &emitter{yield: yield, now: now, seen: make(map[string]struct{})}
}

// emit reports whether the run should keep going.
func (e *emitter) emit(typ violation.EventType, stage Stage, data any) bool {
	if e.done || e.stopped {
		return false
	}
	if stage != "" {
		key := string(stage) + ":" + string(typ)
		if _, dup := e.seen[key]; dup {
			return true
		}
		e.seen[key] = struct{}{}
	}
	ev := violation.ProgressEvent{
		Type:      typ,
		Stage:     string(stage),
		Data:      data,
		Timestamp: e.now().UnixMilli(),
	}
	if ev.Terminal() {
		e.done = true
	}
	if !e.yield(ev) {
		e.stopped = true
		return false
	}
	return !e.done
}

func (e *emitter) stageStart(stage Stage) bool {
	return e.emit(violation.EventStageStart, stage, stage.Description())
}

func (e *emitter) stageEnd(stage Stage, data any) bool {
	return e.emit(violation.EventStageEnd, stage, data)
}

func (e *emitter) final(result *violation.FormattedResult) {
	e.emit(violation.EventFinalResult, "", result)
}

func (e *emitter) fail(message string, result *violation.FormattedResult) {
	e.emit(violation.EventError, "", violation.ErrorPayload{Message: message, Result: result})
}
