package events

import (
	"context"

	"github.com/orchis-io/orchis/pkg/engine"
	"github.com/orchis-io/orchis/pkg/telemetry"
)

// LogSink writes events to the structured log. It is the default sink
// when no message bus is configured.
type LogSink struct {
	log *telemetry.Logger
}

// NewLogSink creates a sink that logs every event at info level.
func NewLogSink(log *telemetry.Logger) *LogSink {
	if log == nil {
		log = telemetry.NewNopLogger()
	}
	return &LogSink{log: log.NewComponentLogger("eventlog")}
}

// Deliver implements Sink.
func (s *LogSink) Deliver(_ context.Context, event engine.Event) error {
	entry := s.log.WithPlanID(event.PlanID)
	if event.TaskID != "" {
		entry = entry.WithTaskID(event.TaskID)
	}
	entry.Infof("event %s", event.Kind)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error {
	return nil
}

// EventRecorder persists events. The store package implements it.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event engine.Event) error
}

// RecorderSink persists events through an EventRecorder, giving the
// status surface its durable event history.
type RecorderSink struct {
	recorder EventRecorder
}

// NewRecorderSink creates a sink backed by a persistent recorder.
func NewRecorderSink(recorder EventRecorder) *RecorderSink {
	return &RecorderSink{recorder: recorder}
}

// Deliver implements Sink.
func (s *RecorderSink) Deliver(ctx context.Context, event engine.Event) error {
	return s.recorder.RecordEvent(ctx, event)
}

// Close implements Sink.
func (s *RecorderSink) Close() error {
	return nil
}

// MultiSink fans one event out to several sinks in order. A failing sink
// fails the delivery, so the publisher's retry covers all of them;
// already-delivered sinks must tolerate the duplicate.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Deliver implements Sink.
func (s *MultiSink) Deliver(ctx context.Context, event engine.Event) error {
	for _, sink := range s.sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Sink. Every sink is closed; the first error wins.
func (s *MultiSink) Close() error {
	var first error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
