package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/cyderes/event-archive-ingestion/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaNotifier publishes events as JSON messages keyed by prefix and table,
// so events of one journal stay ordered within a partition
type KafkaNotifier struct {
	writer messageWriter
}

// NewKafkaNotifier constructs a notifier from the given configuration
func NewKafkaNotifier(cfg config.KafkaConfig) *KafkaNotifier {
	return NewKafkaNotifierWithWriter(&kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafkago.RequireAll,
		Compression:  CompressionFromString(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
	})
}

// NewKafkaNotifierWithWriter wraps an existing writer
func NewKafkaNotifierWithWriter(w messageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w}
}

func (k *KafkaNotifier) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}

	msg := kafkago.Message{
		Key:   []byte(ev.Prefix + "|" + ev.Table),
		Value: value,
		Time:  time.Now().UTC(),
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "run_id", Value: []byte(ev.RunID)},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
	}
	return nil
}

// Close flushes and closes the underlying writer
func (k *KafkaNotifier) Close(ctx context.Context) error {
	return k.writer.Close()
}

// CompressionFromString maps textual codec to kafka-go value
func CompressionFromString(name string) kafkago.Compression {
	switch strings.ToLower(name) {
	case "gzip":
		return kafkago.Gzip
	case "snappy":
		return kafkago.Snappy
	case "lz4":
		return kafkago.Lz4
	case "zstd":
		return kafkago.Zstd
	default:
		return kafkago.Snappy
	}
}

// New returns a Kafka notifier when brokers are configured, otherwise Nop
func New(cfg config.KafkaConfig) Notifier {
	if len(cfg.Brokers) == 0 {
		return Nop{}
	}
	return NewKafkaNotifier(cfg)
}
