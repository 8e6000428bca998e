package orchestrator

import (
	"log/slog"
	"time"
)

// EventType names one step in a work's ordered progress stream.
type EventType string

const (
	EventUnitStarted    EventType = "unit_started"
	EventAttemptStarted EventType = "attempt_started"
	EventAttemptScored  EventType = "attempt_scored"
	EventUnitAccepted   EventType = "unit_accepted"
	EventUnitFallback   EventType = "unit_fallback"
	EventCostUpdated    EventType = "cost_updated"
)

// Event is one progress notification. Fields beyond Type/WorkID/At are set
// only where they apply.
type Event struct {
	Type    EventType `json:"type"`
	WorkID  string    `json:"work_id"`
	UnitID  string    `json:"unit_id,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Score   float64   `json:"score,omitempty"`
	Status  string    `json:"status,omitempty"`
	Cost    float64   `json:"cost,omitempty"` // running total for cost_updated
	At      time.Time `json:"at"`
}

// Emitter consumes the progress stream. The pipeline depends only on this
// interface; a CLI, a web layer or a log sink can all sit behind it.
type Emitter interface {
	Emit(Event)
}

// Emitters fans one event out to several sinks in order.
type Emitters []Emitter

func (es Emitters) Emit(e Event) {
	for _, emitter := range es {
		emitter.Emit(e)
	}
}

// LogEmitter writes every event to structured logs.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger.With("component", "events")}
}

func (l *LogEmitter) Emit(e Event) {
	l.logger.Info(string(e.Type),
		"work", e.WorkID,
		"unit", e.UnitID,
		"attempt", e.Attempt,
		"score", e.Score,
		"status", e.Status,
		"cost", e.Cost)
}

// nopEmitter keeps the emit path nil-safe when no sink is configured.
type nopEmitter struct{}

func (nopEmitter) Emit(Event) {}
