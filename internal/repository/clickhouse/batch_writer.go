package clickhouse

import (
	"context"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// BatchWriterConfig contains configuration for the batch writer
type BatchWriterConfig struct {
	BatchSize     int           `envconfig:"CLICKHOUSE_BATCH_SIZE" default:"1000"`
	FlushInterval time.Duration `envconfig:"CLICKHOUSE_FLUSH_INTERVAL" default:"5s"`
	MaxRetries    int           `envconfig:"CLICKHOUSE_MAX_RETRIES" default:"3"`
	RetryDelay    time.Duration `envconfig:"CLICKHOUSE_RETRY_DELAY" default:"1s"`
}

// DefaultBatchWriterConfig returns default configuration
func DefaultBatchWriterConfig() *BatchWriterConfig {
	return &BatchWriterConfig{
		BatchSize:     1000,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Second,
	}
}

// MetricBatchWriter handles async batched writes of pipeline metric
// samples to ClickHouse. Ingest handlers append points; a background
// loop flushes them on a timer or when the buffer fills.
type MetricBatchWriter struct {
	conn   driver.Conn
	config *BatchWriterConfig
	logger *zap.Logger

	buffer []*domain.MetricPoint
	mu     sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup

	pointsWritten int64
	flushCount    int64
	errorCount    int64
	statsMu       sync.RWMutex
}

// NewMetricBatchWriter creates a new batch writer
func NewMetricBatchWriter(conn driver.Conn, config *BatchWriterConfig, logger *zap.Logger) *MetricBatchWriter {
	if config == nil {
		config = DefaultBatchWriterConfig()
	}

	return &MetricBatchWriter{
		conn:   conn,
		config: config,
		logger: logger,
		buffer: make([]*domain.MetricPoint, 0, config.BatchSize),
		stopCh: make(chan struct{}),
	}
}

// Start begins the background flush goroutine
func (w *MetricBatchWriter) Start() {
	w.wg.Add(1)
	go w.flushLoop()
	w.logger.Info("metric batch writer started",
		zap.Int("batch_size", w.config.BatchSize),
		zap.Duration("flush_interval", w.config.FlushInterval),
	)
}

// Stop gracefully stops the batch writer, flushing any remaining data
func (w *MetricBatchWriter) Stop(ctx context.Context) error {
	close(w.stopCh)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if err := w.Flush(ctx); err != nil {
			w.logger.Error("failed to flush remaining metrics on shutdown", zap.Error(err))
			return err
		}
		w.logger.Info("metric batch writer stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *MetricBatchWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := w.Flush(ctx); err != nil {
				w.logger.Error("periodic metric flush failed", zap.Error(err))
			}
			cancel()
		case <-w.stopCh:
			return
		}
	}
}

// Write adds one metric point to the buffer
func (w *MetricBatchWriter) Write(ctx context.Context, point *domain.MetricPoint) error {
	w.mu.Lock()
	w.buffer = append(w.buffer, point)
	shouldFlush := len(w.buffer) >= w.config.BatchSize
	w.mu.Unlock()

	if shouldFlush {
		return w.Flush(ctx)
	}
	return nil
}

// WritePoints adds multiple metric points to the buffer
func (w *MetricBatchWriter) WritePoints(ctx context.Context, points []*domain.MetricPoint) error {
	w.mu.Lock()
	w.buffer = append(w.buffer, points...)
	shouldFlush := len(w.buffer) >= w.config.BatchSize
	w.mu.Unlock()

	if shouldFlush {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered points to ClickHouse
func (w *MetricBatchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}

	// Swap out the buffer
	points := w.buffer
	w.buffer = make([]*domain.MetricPoint, 0, w.config.BatchSize)
	w.mu.Unlock()

	err := w.writeWithRetry(ctx, points)
	if err != nil {
		w.incrementErrorCount()
		// Re-add points to buffer on failure
		w.mu.Lock()
		w.buffer = append(points, w.buffer...)
		w.mu.Unlock()
		return err
	}

	w.incrementPointsWritten(int64(len(points)))
	w.incrementFlushCount()

	w.logger.Debug("flushed metric points",
		zap.Int("count", len(points)),
	)

	return nil
}

func (w *MetricBatchWriter) writeWithRetry(ctx context.Context, points []*domain.MetricPoint) error {
	var lastErr error

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.config.RetryDelay * time.Duration(attempt)):
			}
			w.logger.Debug("retrying metric write",
				zap.Int("attempt", attempt),
				zap.Int("count", len(points)),
			)
		}

		batch, err := w.conn.PrepareBatch(ctx, `
			INSERT INTO pipeline_metrics (ts, metric, component, execution_id, value, attrs)
		`)
		if err != nil {
			lastErr = err
			continue
		}

		lastErr = nil
		for _, point := range points {
			attrs := point.Attributes
			if attrs == nil {
				attrs = map[string]string{}
			}
			err := batch.Append(
				point.Timestamp,
				point.Metric,
				point.Component,
				point.ExecutionID,
				point.Value,
				attrs,
			)
			if err != nil {
				lastErr = err
				break
			}
		}

		if lastErr != nil {
			continue
		}

		if err := batch.Send(); err != nil {
			lastErr = err
			continue
		}

		return nil
	}

	return lastErr
}

// Stats reports lifetime writer counters.
func (w *MetricBatchWriter) Stats() (pointsWritten, flushCount, errorCount int64) {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.pointsWritten, w.flushCount, w.errorCount
}

func (w *MetricBatchWriter) incrementPointsWritten(n int64) {
	w.statsMu.Lock()
	w.pointsWritten += n
	w.statsMu.Unlock()
}

func (w *MetricBatchWriter) incrementFlushCount() {
	w.statsMu.Lock()
	w.flushCount++
	w.statsMu.Unlock()
}

func (w *MetricBatchWriter) incrementErrorCount() {
	w.statsMu.Lock()
	w.errorCount++
	w.statsMu.Unlock()
}
