package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/specifiedcodes/devos-orchestrator/internal/common/logger"
	"github.com/specifiedcodes/devos-orchestrator/internal/events/bus"
)

const (
	defaultMaxBatchSize   = 50
	defaultBatchWindow    = 100 * time.Millisecond
	defaultRetryAttempts  = 3
	defaultRetryDelayBase = 100 * time.Millisecond
	defaultPublishTimeout = 500 * time.Millisecond
)

// channelPrefix is the pub/sub subject family for StreamEvents:
// "cli-events:{workspaceId}".
const channelPrefix = "cli-events:"

func channelName(workspaceID string) string {
	return channelPrefix + workspaceID
}

// PublisherConfig bundles the Publisher's batching and retry tunables.
type PublisherConfig struct {
	MaxBatchSize   int
	BatchWindow    time.Duration
	RetryAttempts  int
	RetryDelayBase time.Duration
	PublishTimeout time.Duration
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = defaultMaxBatchSize
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = defaultBatchWindow
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
	if c.RetryDelayBase <= 0 {
		c.RetryDelayBase = defaultRetryDelayBase
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
	return c
}

// Metrics is a read-only snapshot of the Publisher's observation surface.
type Metrics struct {
	EventsPublished     int64
	BatchesPublished    int64
	AvgBatchSize        float64
	AvgPublishLatencyMs float64
	PublishFailures     int64
	LastPublishAt       time.Time
}

// Publisher transforms OutputEvents into StreamEvents and batches them
// onto the shared event bus. Flushing is serialized by a single-flight
// mutex: a flush in progress when new events arrive schedules exactly
// one follow-up flush on completion, rather than a racy in-progress flag.
type Publisher struct {
	bus bus.EventBus
	log *logger.Logger
	cfg PublisherConfig

	mu         sync.Mutex
	pending    []StreamEvent
	timer      *time.Timer
	flushing   bool
	flushAgain bool
	drained    bool

	metricsMu sync.Mutex
	metrics   Metrics
}

// NewPublisher wires a Publisher onto an already-connected EventBus.
func NewPublisher(b bus.EventBus, log *logger.Logger, cfg PublisherConfig) *Publisher {
	return &Publisher{bus: b, log: log, cfg: cfg.withDefaults()}
}

// Enqueue adds one StreamEvent to the pending batch. It triggers an
// immediate flush once the batch reaches MaxBatchSize, or starts the
// rolling BatchWindow timer on the first event of a new batch cycle.
// A no-op once Shutdown has drained the publisher.
func (p *Publisher) Enqueue(e StreamEvent) {
	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		return
	}
	p.pending = append(p.pending, e)
	trigger := false
	if len(p.pending) == 1 {
		p.timer = time.AfterFunc(p.cfg.BatchWindow, p.flush)
	}
	if len(p.pending) >= p.cfg.MaxBatchSize {
		trigger = true
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
	}
	p.mu.Unlock()

	if trigger {
		go p.flush()
	}
}

// flush is the single-flight critical section: only one flush runs at a
// time; a caller that finds one already in progress marks flushAgain and
// returns immediately, trusting the in-flight flush to pick up anything
// left pending once it completes.
func (p *Publisher) flush() {
	p.mu.Lock()
	if p.flushing {
		p.flushAgain = true
		p.mu.Unlock()
		return
	}
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	p.flushing = true
	batch := p.pending
	p.pending = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	p.publishBatch(batch)

	p.mu.Lock()
	p.flushing = false
	again := p.flushAgain
	p.flushAgain = false
	hasMore := len(p.pending) > 0
	p.mu.Unlock()

	if again && hasMore {
		p.flush()
	}
}

// publishBatch publishes every event in the batch independently (each
// with its own retry/backoff), then records batch-level
// metrics once for the whole group.
func (p *Publisher) publishBatch(batch []StreamEvent) {
	for _, e := range batch {
		p.publishOne(e)
	}
	p.metricsMu.Lock()
	p.metrics.BatchesPublished++
	n := float64(len(batch))
	count := float64(p.metrics.BatchesPublished)
	p.metrics.AvgBatchSize += (n - p.metrics.AvgBatchSize) / count
	p.metricsMu.Unlock()
}

// publishOne publishes a single StreamEvent with up to cfg.RetryAttempts
// attempts, each racing a cfg.PublishTimeout deadline, separated by an
// exponential back-off of RetryDelayBase * 2^attempt (attempt 0-indexed).
// Exhausting all attempts drops the message and increments the failure
// counter — publish failures never propagate to the producer path.
func (p *Publisher) publishOne(e StreamEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Error("marshal stream event failed", zap.Error(err))
		p.recordFailure()
		return
	}

	subject := channelName(e.WorkspaceID)
	envelope := bus.NewEvent("stream_event", "stream-publisher", map[string]interface{}{
		"payload": json.RawMessage(payload),
	})

	var lastErr error
	for attempt := 0; attempt < p.cfg.RetryAttempts; attempt++ {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
		err := p.publishWithDeadline(ctx, subject, envelope)
		cancel()

		if err == nil {
			p.recordSuccess(time.Since(start))
			return
		}
		lastErr = err
		delay := p.cfg.RetryDelayBase * time.Duration(1<<uint(attempt))
		time.Sleep(delay)
	}

	p.log.Warn("publish exhausted retries, dropping message",
		zap.String("subject", subject), zap.String("session_id", e.SessionID), zap.Error(lastErr))
	p.recordFailure()
}

// publishWithDeadline races the bus publish call against ctx's deadline,
// since not every EventBus implementation necessarily honors context
// cancellation internally.
func (p *Publisher) publishWithDeadline(ctx context.Context, subject string, event *bus.Event) error {
	resultCh := make(chan error, 1)
	go func() { resultCh <- p.bus.Publish(ctx, subject, event) }()

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("publish timed out: %w", ctx.Err())
	}
}

func (p *Publisher) recordSuccess(latency time.Duration) {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	p.metrics.EventsPublished++
	count := float64(p.metrics.EventsPublished)
	ms := float64(latency.Milliseconds())
	p.metrics.AvgPublishLatencyMs += (ms - p.metrics.AvgPublishLatencyMs) / count
	p.metrics.LastPublishAt = time.Now().UTC()
}

func (p *Publisher) recordFailure() {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	p.metrics.PublishFailures++
}

// Snapshot returns a read-only copy of the Publisher's current metrics.
func (p *Publisher) Snapshot() Metrics {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	return p.metrics
}

// Shutdown marks the Publisher drained (further Enqueue calls are no-ops),
// cancels any pending batch timer, and performs one final synchronous
// flush of whatever remains pending.
func (p *Publisher) Shutdown() {
	p.mu.Lock()
	p.drained = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	p.flush()
}
