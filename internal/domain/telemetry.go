package domain

import "time"

// PipelineEvent is a discrete occurrence reported by a pipeline component,
// evaluated by event and pattern rules.
type PipelineEvent struct {
	EventType   string                 `json:"event_type"`
	Source      string                 `json:"source,omitempty"`
	Component   string                 `json:"component,omitempty"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// MetricPoint is one sample of a pipeline metric, persisted to the metric
// history store and served back as historical series.
type MetricPoint struct {
	Metric      string            `json:"metric"`
	Component   string            `json:"component,omitempty"`
	ExecutionID string            `json:"execution_id,omitempty"`
	Value       float64           `json:"value"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}
