package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	metricsv1 "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func strAttr(key, value string) *commonv1.KeyValue {
	return &commonv1.KeyValue{
		Key:   key,
		Value: &commonv1.AnyValue{Value: &commonv1.AnyValue_StringValue{StringValue: value}},
	}
}

func TestExtractAttributes(t *testing.T) {
	attrs := []*commonv1.KeyValue{
		strAttr("service.name", "ingestion"),
		{
			Key:   "retries",
			Value: &commonv1.AnyValue{Value: &commonv1.AnyValue_IntValue{IntValue: 3}},
		},
		{
			Key:   "ratio",
			Value: &commonv1.AnyValue{Value: &commonv1.AnyValue_DoubleValue{DoubleValue: 0.25}},
		},
		{
			Key:   "dry_run",
			Value: &commonv1.AnyValue{Value: &commonv1.AnyValue_BoolValue{BoolValue: true}},
		},
		{Key: "empty", Value: nil},
	}

	got := extractAttributes(attrs)
	assert.Equal(t, map[string]string{
		"service.name": "ingestion",
		"retries":      "3",
		"ratio":        "0.25",
		"dry_run":      "true",
	}, got)
}

func TestNumberDataPoints(t *testing.T) {
	gauge := &metricsv1.Metric{
		Name: "pipeline.lag_seconds",
		Data: &metricsv1.Metric_Gauge{Gauge: &metricsv1.Gauge{
			DataPoints: []*metricsv1.NumberDataPoint{{}},
		}},
	}
	sum := &metricsv1.Metric{
		Name: "pipeline.rows_processed",
		Data: &metricsv1.Metric_Sum{Sum: &metricsv1.Sum{
			DataPoints: []*metricsv1.NumberDataPoint{{}, {}},
		}},
	}
	histogram := &metricsv1.Metric{
		Name: "pipeline.duration",
		Data: &metricsv1.Metric_Histogram{Histogram: &metricsv1.Histogram{
			DataPoints: []*metricsv1.HistogramDataPoint{{}, {}, {}},
		}},
	}

	dps, ok := numberDataPoints(gauge)
	assert.True(t, ok)
	assert.Len(t, dps, 1)

	dps, ok = numberDataPoints(sum)
	assert.True(t, ok)
	assert.Len(t, dps, 2)

	_, ok = numberDataPoints(histogram)
	assert.False(t, ok)
	assert.Equal(t, int64(3), dataPointCount(histogram))
	assert.Equal(t, int64(0), dataPointCount(gauge))
}

func TestConvertDataPoint(t *testing.T) {
	svc := NewOTLPMetricsService(nil, nil, nil, zap.NewNop())
	at := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		dp            *metricsv1.NumberDataPoint
		component     string
		resourceAttrs map[string]string
		wantValue     float64
		wantComponent string
		wantExecution string
	}{
		{
			name: "double value with resource component",
			dp: &metricsv1.NumberDataPoint{
				TimeUnixNano: uint64(at.UnixNano()),
				Value:        &metricsv1.NumberDataPoint_AsDouble{AsDouble: 12.5},
			},
			component:     "ingestion",
			resourceAttrs: map[string]string{"service.name": "ingestion"},
			wantValue:     12.5,
			wantComponent: "ingestion",
		},
		{
			name: "int value, point attrs override component",
			dp: &metricsv1.NumberDataPoint{
				TimeUnixNano: uint64(at.UnixNano()),
				Attributes: []*commonv1.KeyValue{
					strAttr("pipeline.component", "transform"),
					strAttr("pipeline.execution_id", "exec-42"),
				},
				Value: &metricsv1.NumberDataPoint_AsInt{AsInt: 7},
			},
			component:     "ingestion",
			resourceAttrs: map[string]string{"service.name": "ingestion"},
			wantValue:     7,
			wantComponent: "transform",
			wantExecution: "exec-42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			point := svc.convertDataPoint("pipeline.lag_seconds", tt.dp, tt.component, tt.resourceAttrs)
			assert.Equal(t, "pipeline.lag_seconds", point.Metric)
			assert.Equal(t, tt.wantValue, point.Value)
			assert.Equal(t, tt.wantComponent, point.Component)
			assert.Equal(t, tt.wantExecution, point.ExecutionID)
			assert.Equal(t, at, point.Timestamp)
		})
	}
}

func TestConvertDataPointMissingTimestamp(t *testing.T) {
	svc := NewOTLPMetricsService(nil, nil, nil, zap.NewNop())

	before := time.Now().UTC()
	point := svc.convertDataPoint("m", &metricsv1.NumberDataPoint{
		Value: &metricsv1.NumberDataPoint_AsDouble{AsDouble: 1},
	}, "", nil)
	after := time.Now().UTC()

	assert.False(t, point.Timestamp.Before(before))
	assert.False(t, point.Timestamp.After(after))
}

func TestExportRejectsNilRequest(t *testing.T) {
	svc := NewOTLPMetricsService(nil, nil, nil, zap.NewNop())

	_, err := svc.Export(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
