// Package kafka builds segmentio/kafka-go readers and writers from the
// growrack Kafka configuration. Kafka is an optional second bus: it can
// feed readings into the engine and carry automation events out.
package kafka

import (
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/nerrad567/growrack-core/internal/infrastructure/config"
)

// ErrDisabled is returned when Kafka is switched off in configuration.
var ErrDisabled = errors.New("kafka: disabled in configuration")

const (
	readerMinBytes = 1
	readerMaxBytes = 10e6
	readerMaxWait  = 500 * time.Millisecond
	writerTimeout  = 10 * time.Second
)

// Bus hands out readers and writers bound to the configured brokers.
type Bus struct {
	cfg config.KafkaConfig
}

// New returns a Bus, or ErrDisabled if Kafka is not enabled.
func New(cfg config.KafkaConfig) (*Bus, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	return &Bus{cfg: cfg}, nil
}

// Reader returns a consumer-group reader for topic.
func (b *Bus) Reader(topic string) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  b.cfg.Brokers,
		GroupID:  b.cfg.GroupID,
		Topic:    topic,
		MinBytes: readerMinBytes,
		MaxBytes: readerMaxBytes,
		MaxWait:  readerMaxWait,
	})
}

// Writer returns a synchronous writer for topic. Messages with the same
// key land on the same partition, so per-rack ordering holds when callers
// key by rack ID.
func (b *Bus) Writer(topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(b.cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		WriteTimeout: writerTimeout,
		Async:        false,
	}
}

// ReadingsReader is the reader for inbound sensor readings.
func (b *Bus) ReadingsReader() *kafkago.Reader {
	return b.Reader(b.cfg.ReadingsTopic)
}

// EventsWriter is the writer for outbound automation events.
func (b *Bus) EventsWriter() *kafkago.Writer {
	return b.Writer(b.cfg.EventsTopic)
}
