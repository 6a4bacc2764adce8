package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the pipeline's OTEL instruments.
type metrics struct {
	missionsStarted  metric.Int64Counter
	missionsFinished metric.Int64Counter
	missionDuration  metric.Float64Histogram
	phaseDuration    metric.Float64Histogram
	tasksByOutcome   metric.Int64Counter
	memoryCandidates metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter("missiond/pipeline")

	started, err := meter.Int64Counter("missiond.missions.started",
		metric.WithDescription("Missions launched"))
	if err != nil {
		panic(err)
	}
	finished, err := meter.Int64Counter("missiond.missions.finished",
		metric.WithDescription("Missions reaching a terminal status"))
	if err != nil {
		panic(err)
	}
	duration, err := meter.Float64Histogram("missiond.mission.duration",
		metric.WithDescription("Mission wall time"),
		metric.WithUnit("s"))
	if err != nil {
		panic(err)
	}
	phase, err := meter.Float64Histogram("missiond.phase.duration",
		metric.WithDescription("Phase wall time"),
		metric.WithUnit("s"))
	if err != nil {
		panic(err)
	}
	tasks, err := meter.Int64Counter("missiond.tasks.finished",
		metric.WithDescription("Tasks by outcome"))
	if err != nil {
		panic(err)
	}
	candidates, err := meter.Int64Counter("missiond.memory.candidates_proposed",
		metric.WithDescription("Memory candidates proposed by the memory phase"))
	if err != nil {
		panic(err)
	}

	return &metrics{
		missionsStarted:  started,
		missionsFinished: finished,
		missionDuration:  duration,
		phaseDuration:    phase,
		tasksByOutcome:   tasks,
		memoryCandidates: candidates,
	}
}

func (m *metrics) recordFinished(ctx context.Context, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.missionsFinished.Add(ctx, 1, attrs)
	m.missionDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *metrics) recordPhase(ctx context.Context, phase string, elapsed time.Duration) {
	m.phaseDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("phase", phase)))
}

func taskOutcomeAttr(outcome string) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", outcome))
}
