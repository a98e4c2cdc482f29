// Package notify publishes release events to Kafka
package notify

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/geomirror/pkg/config"
	jsonpool "github.com/ajitpratap0/geomirror/pkg/json"
	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
	"github.com/ajitpratap0/geomirror/pkg/stats"
)

const (
	contentType     = "application/json"
	producerRetry   = 3
	producerTimeout = 10 * time.Second
)

// ReleaseEvent announces the artifacts of one run
type ReleaseEvent struct {
	RunID            string                  `json:"run_id"`
	Dataset          string                  `json:"dataset"`
	Status           string                  `json:"status"`
	IsUpdate         bool                    `json:"is_update"`
	Title            string                  `json:"title"`
	Stats            stats.DatasetStatistics `json:"stats"`
	PreviousChecksum string                  `json:"previous_checksum,omitempty"`
	Mirrored         []string                `json:"mirrored,omitempty"`
	PublishedAt      time.Time               `json:"published_at"`
}

// Notifier sends events with a synchronous producer
type Notifier struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewNotifier connects a producer to cfg.Brokers
func NewNotifier(cfg config.NotifyConfig, logger *zap.Logger) (*Notifier, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, buildSaramaConfig(cfg))
	if err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "failed to create Kafka producer").
			WithDetail("brokers", cfg.Brokers)
	}
	return NewNotifierWithProducer(producer, cfg.Topic, logger), nil
}

// NewNotifierWithProducer uses an existing producer
func NewNotifierWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		producer: producer,
		topic:    topic,
		logger:   logger.With(zap.String("component", "notify"), zap.String("topic", topic)),
	}
}

// buildSaramaConfig builds the producer configuration. Every event must be
// acknowledged by all in-sync replicas.
func buildSaramaConfig(cfg config.NotifyConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = producerRetry
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Timeout = producerTimeout
	sc.Net.DialTimeout = producerTimeout
	return sc
}

// Publish sends ev keyed by its dataset
func (n *Notifier) Publish(ctx context.Context, ev *ReleaseEvent) error {
	if err := ctx.Err(); err != nil {
		return mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "publish canceled")
	}

	msg, err := n.buildProducerMessage(ev)
	if err != nil {
		return err
	}

	partition, offset, err := n.producer.SendMessage(msg)
	if err != nil {
		return mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "failed to publish release event").
			WithDetail("topic", n.topic)
	}

	n.logger.Info("release event published",
		zap.String("run_id", ev.RunID),
		zap.String("status", ev.Status),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (n *Notifier) buildProducerMessage(ev *ReleaseEvent) (*sarama.ProducerMessage, error) {
	value, err := jsonpool.Marshal(ev)
	if err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeInternal, "failed to encode release event")
	}

	return &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(ev.Dataset),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte(contentType)},
			{Key: []byte("run-id"), Value: []byte(ev.RunID)},
			{Key: []byte("status"), Value: []byte(ev.Status)},
		},
		Timestamp: ev.PublishedAt,
	}, nil
}

// Close closes the producer
func (n *Notifier) Close() error {
	return n.producer.Close()
}
