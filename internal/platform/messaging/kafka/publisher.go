package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/labtasker/labtasker/internal/platform/logger"
	"github.com/labtasker/labtasker/internal/shared/events"
)

// EventPublisher publishes queue lifecycle events to Kafka
type EventPublisher struct {
	client   sarama.Client
	producer sarama.AsyncProducer
	config   *Config
	log      logger.Logger
	errors   chan error
}

// Config holds Kafka configuration
type Config struct {
	Brokers []string
	Topic   string
}

// NewEventPublisher creates a new Kafka event publisher
func NewEventPublisher(config *Config, log logger.Logger) (*EventPublisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Version = sarama.V3_3_1_0

	client, err := sarama.NewClient(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	producer, err := sarama.NewAsyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	publisher := &EventPublisher{
		client:   client,
		producer: producer,
		config:   config,
		log:      log,
		errors:   make(chan error, 100),
	}

	go publisher.handleErrors()
	go publisher.handleSuccesses()

	return publisher, nil
}

// Publish publishes an event. Messages are keyed by queue so consumers
// observe per-queue ordering.
func (p *EventPublisher) Publish(ctx context.Context, event *events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.config.Topic,
		Key:   sarama.StringEncoder(event.QueueID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("eventType"),
				Value: []byte(event.Type),
			},
			{
				Key:   []byte("queueId"),
				Value: []byte(event.QueueID),
			},
		},
		Timestamp: event.Timestamp,
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case err := <-p.errors:
		return fmt.Errorf("producer error: %w", err)
	}
}

// Health reports broker connectivity by refreshing topic metadata.
func (p *EventPublisher) Health(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- p.client.RefreshMetadata(p.config.Topic)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("kafka metadata refresh: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the publisher. Closing the producer does not close the
// shared client, so both are closed here.
func (p *EventPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		p.client.Close()
		return fmt.Errorf("failed to close producer: %w", err)
	}
	close(p.errors)
	return p.client.Close()
}

func (p *EventPublisher) handleErrors() {
	for err := range p.producer.Errors() {
		select {
		case p.errors <- fmt.Errorf("kafka producer error: %w", err.Err):
		default:
			p.log.Error("kafka producer error dropped", "error", err.Err)
		}
	}
}

func (p *EventPublisher) handleSuccesses() {
	for msg := range p.producer.Successes() {
		p.log.Debug("event delivered",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
	}
}
