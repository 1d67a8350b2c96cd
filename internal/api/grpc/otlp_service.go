package grpc

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	metricsv1 "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pipeguard/pipeguard/internal/domain"
	"github.com/pipeguard/pipeguard/internal/observability"
	"github.com/pipeguard/pipeguard/internal/service"
)

// MetricWriter buffers metric samples for the history store.
type MetricWriter interface {
	WritePoints(ctx context.Context, points []*domain.MetricPoint) error
}

// OTLPMetricsService implements the OTLP gRPC metrics collector service.
// Gauge and sum samples are buffered for the history store and evaluated
// against the rule set, one evaluation per resource. Histogram, summary
// and exponential histogram points are rejected.
type OTLPMetricsService struct {
	collectormetrics.UnimplementedMetricsServiceServer
	alerts  *service.AlertService
	writer  MetricWriter
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewOTLPMetricsService creates a new OTLP metrics service
func NewOTLPMetricsService(alerts *service.AlertService, writer MetricWriter, metrics *observability.Metrics, logger *zap.Logger) *OTLPMetricsService {
	return &OTLPMetricsService{
		alerts:  alerts,
		writer:  writer,
		metrics: metrics,
		logger:  logger,
	}
}

// Export implements the OTLP MetricsService Export RPC
func (s *OTLPMetricsService) Export(ctx context.Context, req *collectormetrics.ExportMetricsServiceRequest) (*collectormetrics.ExportMetricsServiceResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is nil")
	}

	var (
		points   []*domain.MetricPoint
		rejected int64
	)

	type resourceBatch struct {
		values    map[string]interface{}
		component string
	}
	var batches []resourceBatch

	for _, rm := range req.GetResourceMetrics() {
		resourceAttrs := extractAttributes(rm.GetResource().GetAttributes())
		component := attrString(resourceAttrs, "pipeline.component", "service.name")

		values := make(map[string]interface{})
		for _, sm := range rm.GetScopeMetrics() {
			for _, metric := range sm.GetMetrics() {
				dps, ok := numberDataPoints(metric)
				if !ok {
					rejected += dataPointCount(metric)
					s.logger.Debug("unsupported otlp metric kind",
						zap.String("metric", metric.GetName()),
					)
					continue
				}
				for _, dp := range dps {
					point := s.convertDataPoint(metric.GetName(), dp, component, resourceAttrs)
					points = append(points, point)
					values[point.Metric] = point.Value
				}
			}
		}
		if len(values) > 0 {
			batches = append(batches, resourceBatch{values: values, component: component})
		}
	}

	if len(points) > 0 {
		if err := s.writer.WritePoints(ctx, points); err != nil {
			s.logger.Error("failed to buffer otlp metrics", zap.Error(err))
			return nil, status.Error(codes.Internal, "failed to ingest metrics")
		}
		s.metrics.PointsIngested("otlp", len(points))
	}

	for _, batch := range batches {
		var callerCtx map[string]interface{}
		if batch.component != "" {
			callerCtx = map[string]interface{}{"component": batch.component}
		}
		if _, err := s.alerts.ProcessMetrics(ctx, batch.values, callerCtx); err != nil {
			// The samples are already accepted; alerting failures must not
			// bounce the producer.
			s.logger.Warn("otlp metric evaluation produced errors", zap.Error(err))
		}
	}

	s.logger.Debug("ingested metrics via gRPC",
		zap.Int("points", len(points)),
		zap.Int64("rejected", rejected),
	)

	resp := &collectormetrics.ExportMetricsServiceResponse{}
	if rejected > 0 {
		resp.PartialSuccess = &collectormetrics.ExportMetricsPartialSuccess{
			RejectedDataPoints: rejected,
			ErrorMessage:       "unsupported metric kinds were dropped; only gauge and sum are ingested",
		}
	}
	return resp, nil
}

// convertDataPoint maps one OTLP number data point onto a metric sample.
// Data point attributes win over resource attributes on key collisions.
func (s *OTLPMetricsService) convertDataPoint(name string, dp *metricsv1.NumberDataPoint, component string, resourceAttrs map[string]string) *domain.MetricPoint {
	attrs := make(map[string]string, len(resourceAttrs))
	for k, v := range resourceAttrs {
		attrs[k] = v
	}
	for k, v := range extractAttributes(dp.GetAttributes()) {
		attrs[k] = v
	}

	if c := attrString(attrs, "pipeline.component", "component"); c != "" {
		component = c
	}
	executionID := attrString(attrs, "pipeline.execution_id", "execution.id", "execution_id")

	var value float64
	switch v := dp.GetValue().(type) {
	case *metricsv1.NumberDataPoint_AsDouble:
		value = v.AsDouble
	case *metricsv1.NumberDataPoint_AsInt:
		value = float64(v.AsInt)
	}

	ts := time.Unix(0, int64(dp.GetTimeUnixNano())).UTC()
	if dp.GetTimeUnixNano() == 0 {
		ts = time.Now().UTC()
	}

	return &domain.MetricPoint{
		Metric:      name,
		Component:   component,
		ExecutionID: executionID,
		Value:       value,
		Attributes:  attrs,
		Timestamp:   ts,
	}
}

// numberDataPoints returns the data points of a gauge or sum metric.
func numberDataPoints(metric *metricsv1.Metric) ([]*metricsv1.NumberDataPoint, bool) {
	switch data := metric.GetData().(type) {
	case *metricsv1.Metric_Gauge:
		return data.Gauge.GetDataPoints(), true
	case *metricsv1.Metric_Sum:
		return data.Sum.GetDataPoints(), true
	default:
		return nil, false
	}
}

// dataPointCount counts the points of the metric kinds we reject.
func dataPointCount(metric *metricsv1.Metric) int64 {
	switch data := metric.GetData().(type) {
	case *metricsv1.Metric_Histogram:
		return int64(len(data.Histogram.GetDataPoints()))
	case *metricsv1.Metric_ExponentialHistogram:
		return int64(len(data.ExponentialHistogram.GetDataPoints()))
	case *metricsv1.Metric_Summary:
		return int64(len(data.Summary.GetDataPoints()))
	default:
		return 0
	}
}

// extractAttributes converts OTLP attributes to a string map
func extractAttributes(attrs []*commonv1.KeyValue) map[string]string {
	result := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		key := attr.GetKey()
		value := attr.GetValue()
		if value == nil {
			continue
		}

		switch v := value.Value.(type) {
		case *commonv1.AnyValue_StringValue:
			result[key] = v.StringValue
		case *commonv1.AnyValue_IntValue:
			result[key] = strconv.FormatInt(v.IntValue, 10)
		case *commonv1.AnyValue_DoubleValue:
			result[key] = strconv.FormatFloat(v.DoubleValue, 'f', -1, 64)
		case *commonv1.AnyValue_BoolValue:
			result[key] = strconv.FormatBool(v.BoolValue)
		}
	}
	return result
}

// attrString returns the first non-empty attribute among keys.
func attrString(attrs map[string]string, keys ...string) string {
	for _, key := range keys {
		if v, ok := attrs[key]; ok && v != "" {
			return v
		}
	}
	return ""
}
