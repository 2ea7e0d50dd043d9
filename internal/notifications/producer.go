package notifications

import (
	"context"
	"fmt"
	"log"
	"time"

	"classbook/internal/shared/config"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Publisher is the outbound edge to the external notifier.
type Publisher interface {
	Publish(ctx context.Context, message *Message) error
	PublishBatch(ctx context.Context, messages []*Message) error
	Close() error
	HealthCheck(ctx context.Context) error
}

// ProducerConfig contains configuration for the Kafka publisher
type ProducerConfig struct {
	Brokers          []string
	Topic            string
	ClientID         string
	RetryMax         int
	TimeoutMs        int
	RequiredAcks     sarama.RequiredAcks
	Compression      sarama.CompressionCodec
	IdempotentWrites bool
	MaxMessageBytes  int
}

// DefaultProducerConfig returns a default publisher configuration
func DefaultProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		Brokers:          []string{"localhost:9092"},
		Topic:            "booking-notifications",
		ClientID:         "classbook-core",
		RetryMax:         3,
		TimeoutMs:        10000,             // 10 seconds
		RequiredAcks:     sarama.WaitForAll, // Wait for all in-sync replicas
		Compression:      sarama.CompressionSnappy,
		IdempotentWrites: true,
		MaxMessageBytes:  1000000, // 1MB
	}
}

// ProducerConfigFrom overlays the environment's Kafka settings on the
// defaults.
func ProducerConfigFrom(cfg config.KafkaConfig) *ProducerConfig {
	pc := DefaultProducerConfig()
	if len(cfg.Brokers) > 0 {
		pc.Brokers = cfg.Brokers
	}
	if cfg.Topic != "" {
		pc.Topic = cfg.Topic
	}
	if cfg.ClientID != "" {
		pc.ClientID = cfg.ClientID
	}
	return pc
}

// kafkaPublisher publishes booking lifecycle messages to Kafka
type kafkaPublisher struct {
	producer sarama.SyncProducer
	config   *ProducerConfig
}

// NewKafkaPublisher creates a new Kafka publisher
func NewKafkaPublisher(config *ProducerConfig) (Publisher, error) {
	saramaConfig := sarama.NewConfig()

	// Producer configuration
	saramaConfig.ClientID = config.ClientID
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = config.RequiredAcks
	saramaConfig.Producer.Compression = config.Compression
	saramaConfig.Producer.Retry.Max = config.RetryMax
	saramaConfig.Producer.Timeout = time.Duration(config.TimeoutMs) * time.Millisecond
	saramaConfig.Producer.Idempotent = config.IdempotentWrites
	saramaConfig.Producer.MaxMessageBytes = config.MaxMessageBytes

	// Enable idempotent producer
	if config.IdempotentWrites {
		saramaConfig.Net.MaxOpenRequests = 1
	}

	// Hash partitioner keeps one member's messages on one partition
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Printf("📤 Kafka notification publisher created successfully")
	return &kafkaPublisher{producer: producer, config: config}, nil
}

// Publish publishes a single message to the notifications topic
func (kp *kafkaPublisher) Publish(ctx context.Context, message *Message) error {
	messageBytes, err := message.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal notification message: %w", err)
	}

	producerMessage := &sarama.ProducerMessage{
		Topic:     kp.config.Topic,
		Key:       sarama.StringEncoder(message.GetPartitionKey()),
		Value:     sarama.ByteEncoder(messageBytes),
		Headers:   kp.createHeaders(message),
		Timestamp: message.CreatedAt,
	}

	partition, offset, err := kp.producer.SendMessage(producerMessage)
	if err != nil {
		return fmt.Errorf("failed to send notification to Kafka: %w", err)
	}

	log.Printf("📤 Notification published - Topic: %s, Partition: %d, Offset: %d, Type: %s, Member: %s",
		kp.config.Topic, partition, offset, message.Type, message.MemberID)

	return nil
}

// PublishBatch publishes multiple messages in one producer call
func (kp *kafkaPublisher) PublishBatch(ctx context.Context, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}

	producerMessages := make([]*sarama.ProducerMessage, 0, len(messages))
	for _, message := range messages {
		messageBytes, err := message.ToJSON()
		if err != nil {
			log.Printf("Failed to marshal notification for member %s: %v", message.MemberID, err)
			continue
		}

		producerMessages = append(producerMessages, &sarama.ProducerMessage{
			Topic:     kp.config.Topic,
			Key:       sarama.StringEncoder(message.GetPartitionKey()),
			Value:     sarama.ByteEncoder(messageBytes),
			Headers:   kp.createHeaders(message),
			Timestamp: message.CreatedAt,
		})
	}

	if err := kp.producer.SendMessages(producerMessages); err != nil {
		return fmt.Errorf("failed to send batch notifications to Kafka: %w", err)
	}

	log.Printf("📤 Batch of %d notifications published to Kafka topic: %s", len(producerMessages), kp.config.Topic)
	return nil
}

// createHeaders creates Kafka headers for a message
func (kp *kafkaPublisher) createHeaders(message *Message) []sarama.RecordHeader {
	headers := []sarama.RecordHeader{
		{Key: []byte("message_id"), Value: []byte(message.ID.String())},
		{Key: []byte("message_type"), Value: []byte(message.Type)},
		{Key: []byte("priority"), Value: []byte(message.Priority)},
		{Key: []byte("member_id"), Value: []byte(message.MemberID.String())},
		{Key: []byte("version"), Value: []byte("1.0")},
		{Key: []byte("producer"), Value: []byte(kp.config.ClientID)},
		{Key: []byte("created_at"), Value: []byte(message.CreatedAt.Format(time.RFC3339))},
	}

	if message.ReservationID != nil {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte("reservation_id"),
			Value: []byte(message.ReservationID.String()),
		})
	}

	if message.ClassInstanceID != nil {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte("class_instance_id"),
			Value: []byte(message.ClassInstanceID.String()),
		})
	}

	if message.ExpiresAt != nil {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte("expires_at"),
			Value: []byte(message.ExpiresAt.Format(time.RFC3339)),
		})
	}

	return headers
}

// Close closes the Kafka producer
func (kp *kafkaPublisher) Close() error {
	if kp.producer != nil {
		if err := kp.producer.Close(); err != nil {
			return fmt.Errorf("failed to close Kafka producer: %w", err)
		}
		log.Printf("📤 Kafka notification publisher closed")
	}
	return nil
}

// HealthCheck validates that messages can still be built and encoded. It
// does not send anything to avoid noise on the topic.
func (kp *kafkaPublisher) HealthCheck(ctx context.Context) error {
	if kp.producer == nil {
		return fmt.Errorf("kafka producer is not initialized")
	}

	probe := NewMessage(TypeReservationBooked, uuid.Nil)
	if _, err := probe.ToJSON(); err != nil {
		return fmt.Errorf("health check failed - JSON marshaling error: %w", err)
	}
	return nil
}

// nopPublisher drops every message. Wired when KAFKA_ENABLED is false so
// development setups run without a broker.
type nopPublisher struct{}

func NewNopPublisher() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(ctx context.Context, message *Message) error {
	return nil
}

func (nopPublisher) PublishBatch(ctx context.Context, messages []*Message) error {
	return nil
}

func (nopPublisher) Close() error {
	return nil
}

func (nopPublisher) HealthCheck(ctx context.Context) error {
	return nil
}
