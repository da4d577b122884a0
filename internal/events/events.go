// Package events announces finished index builds on Kafka and turns those
// announcements back into reloads on the searching side.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/kafka"
)

// IndexBuilt is the payload published after a pair was persisted.
type IndexBuilt struct {
	Manifest    artifact.Manifest `json:"manifest"`
	Host        string            `json:"host"`
	PublishedAt time.Time         `json:"publishedAt"`
}

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher implements indexer.Notifier over Kafka.
type Publisher struct {
	producer EventPublisher
	host     string
}

func NewPublisher(producer EventPublisher) *Publisher {
	host, _ := os.Hostname()
	return &Publisher{producer: producer, host: host}
}

func (p *Publisher) NotifyBuilt(ctx context.Context, manifest artifact.Manifest) error {
	return p.producer.Publish(ctx, kafka.Event{
		Key: strconv.FormatInt(manifest.Generation, 10),
		Value: IndexBuilt{
			Manifest:    manifest,
			Host:        p.host,
			PublishedAt: time.Now().UTC(),
		},
	})
}

// HandleIndexBuilt returns a MessageHandler that passes each announced
// manifest to onBuilt. Undecodable messages are logged and committed;
// onBuilt failures leave the message uncommitted.
func HandleIndexBuilt(onBuilt func(ctx context.Context, manifest artifact.Manifest) error) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-events")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[IndexBuilt](value)
		if err != nil {
			logger.Error("failed to decode index built event", "key", string(key), "error", err)
			return nil
		}
		logger.Info("index build announced",
			"store_generation", event.Manifest.Generation,
			"documents", event.Manifest.Documents,
			"host", event.Host,
		)
		if err := onBuilt(ctx, event.Manifest); err != nil {
			return fmt.Errorf("applying build %d: %w", event.Manifest.Generation, err)
		}
		return nil
	}
}

// InstanceGroup derives a consumer group unique to this process, so every
// searcher sees every announcement.
func InstanceGroup(base string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s-%d", base, host, os.Getpid())
}
