package telemetry

import "go.opentelemetry.io/otel/metric"

// Metrics holds all Loom metrics instruments.
type Metrics struct {
	TaskDuration     metric.Float64Histogram
	AiRequests       metric.Int64Counter
	AiCallDuration   metric.Float64Histogram
	TokensUsed       metric.Int64Counter
	CostMicrodollars metric.Int64Counter
	ToolCallDuration metric.Float64Histogram
	ToolCalls        metric.Int64Counter
	ToolCallErrors   metric.Int64Counter
	ActiveTasks      metric.Int64UpDownCounter
	StreamDeltas     metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TaskDuration, err = meter.Float64Histogram("loom.task.duration",
		metric.WithDescription("Task processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.AiRequests, err = meter.Int64Counter("loom.ai.requests",
		metric.WithDescription("AI requests issued, by provider and model"),
	)
	if err != nil {
		return nil, err
	}

	m.AiCallDuration, err = meter.Float64Histogram("loom.ai.duration",
		metric.WithDescription("AI provider call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TokensUsed, err = meter.Int64Counter("loom.ai.tokens",
		metric.WithDescription("Total tokens consumed"),
	)
	if err != nil {
		return nil, err
	}

	m.CostMicrodollars, err = meter.Int64Counter("loom.ai.cost_microdollars",
		metric.WithDescription("Accumulated AI spend in microdollars"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallDuration, err = meter.Float64Histogram("loom.tool.duration",
		metric.WithDescription("Tool call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("loom.tool.calls",
		metric.WithDescription("Tool calls executed"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallErrors, err = meter.Int64Counter("loom.tool.errors",
		metric.WithDescription("Tool call error count"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveTasks, err = meter.Int64UpDownCounter("loom.task.active",
		metric.WithDescription("Number of tasks currently executing"),
	)
	if err != nil {
		return nil, err
	}

	m.StreamDeltas, err = meter.Int64Counter("loom.stream.deltas",
		metric.WithDescription("Streaming text deltas delivered"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
