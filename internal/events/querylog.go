package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/logger"
)

// QueryEvent records one answered search.
type QueryEvent struct {
	Query      string    `json:"query"`
	Strategy   string    `json:"strategy"`
	Generation int64     `json:"generation"`
	Total      int       `json:"total"`
	Returned   int       `json:"returned"`
	CacheHit   bool      `json:"cacheHit"`
	LatencyMs  int64     `json:"latencyMs"`
	RequestID  string    `json:"requestId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// QueryLog ships QueryEvents to Kafka off the request path. Track never
// blocks; events are dropped when the buffer is full or after Close.
type QueryLog struct {
	producer EventPublisher
	events   chan QueryEvent
	done     chan struct{}
	logger   *slog.Logger

	// mu guards closed and the close of events against concurrent Track.
	mu     sync.RWMutex
	closed bool
}

func NewQueryLog(producer EventPublisher, bufferSize int) *QueryLog {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &QueryLog{
		producer: producer,
		events:   make(chan QueryEvent, bufferSize),
		done:     make(chan struct{}),
		logger:   logger.WithComponent("query-log"),
	}
}

// Start publishes until Close is called.
func (q *QueryLog) Start(ctx context.Context) {
	go func() {
		defer close(q.done)
		for event := range q.events {
			q.publish(ctx, event)
		}
	}()
}

func (q *QueryLog) publish(ctx context.Context, event QueryEvent) {
	if ctx.Err() != nil {
		// Shutting down; flush what is left without the cancelled context.
		ctx = context.Background()
	}
	err := q.producer.Publish(ctx, kafka.Event{Key: event.Strategy, Value: event})
	if err != nil {
		q.logger.Warn("failed to publish query event", "error", err)
	}
}

func (q *QueryLog) Track(event QueryEvent) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Debug("query event dropped, log closed")
		return
	}
	select {
	case q.events <- event:
	default:
		q.logger.Warn("query event dropped, buffer full")
	}
}

// Close stops accepting events and waits for the buffer to drain. Start
// must have been called.
func (q *QueryLog) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()
	<-q.done
}
