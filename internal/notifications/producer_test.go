package notifications

import (
	"context"
	"encoding/json"
	"testing"

	"classbook/internal/shared/config"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPublisher(t *testing.T) (*kafkaPublisher, *mocks.SyncProducer) {
	saramaConfig := mocks.NewTestConfig()
	saramaConfig.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, saramaConfig)
	return &kafkaPublisher{producer: producer, config: DefaultProducerConfig()}, producer
}

func TestPublishSendsMemberKeyedMessage(t *testing.T) {
	publisher, producer := newMockPublisher(t)
	memberID := uuid.New()
	reservationID := uuid.New()

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var decoded Message
		if err := json.Unmarshal(val, &decoded); err != nil {
			return err
		}
		assert.Equal(t, TypePromotionOffer, decoded.Type)
		assert.Equal(t, memberID, decoded.MemberID)
		require.NotNil(t, decoded.ReservationID)
		assert.Equal(t, reservationID, *decoded.ReservationID)
		return nil
	})

	msg := NewMessage(TypePromotionOffer, memberID).WithReservation(reservationID)
	err := publisher.Publish(context.Background(), msg)

	require.NoError(t, err)
	require.NoError(t, producer.Close())
}

func TestPublishSurfacesBrokerError(t *testing.T) {
	publisher, producer := newMockPublisher(t)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := publisher.Publish(context.Background(), NewMessage(TypeReservationBooked, uuid.New()))

	assert.Error(t, err)
	require.NoError(t, producer.Close())
}

func TestPublishBatchSendsEveryMessage(t *testing.T) {
	publisher, producer := newMockPublisher(t)
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()

	msgs := []*Message{
		NewMessage(TypePromotionOffer, uuid.New()),
		NewMessage(TypePromotionOffer, uuid.New()),
		NewMessage(TypePromotionExpired, uuid.New()),
	}
	err := publisher.PublishBatch(context.Background(), msgs)

	require.NoError(t, err)
	require.NoError(t, producer.Close())
}

func TestPublishBatchEmptyIsNoOp(t *testing.T) {
	publisher, producer := newMockPublisher(t)

	require.NoError(t, publisher.PublishBatch(context.Background(), nil))
	require.NoError(t, producer.Close())
}

func TestHealthCheckNeedsNoBrokerRoundTrip(t *testing.T) {
	publisher, producer := newMockPublisher(t)

	require.NoError(t, publisher.HealthCheck(context.Background()))
	require.NoError(t, producer.Close())
}

func TestNopPublisherDropsEverything(t *testing.T) {
	publisher := NewNopPublisher()

	assert.NoError(t, publisher.Publish(context.Background(), NewMessage(TypeReservationBooked, uuid.New())))
	assert.NoError(t, publisher.PublishBatch(context.Background(), []*Message{NewMessage(TypeLateFeeCharged, uuid.New())}))
	assert.NoError(t, publisher.HealthCheck(context.Background()))
	assert.NoError(t, publisher.Close())
}

func TestProducerConfigFromOverlaysEnvironment(t *testing.T) {
	pc := ProducerConfigFrom(config.KafkaConfig{
		Brokers:  []string{"kafka-1:9092", "kafka-2:9092"},
		Topic:    "bookings",
		ClientID: "classbook-test",
	})

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, pc.Brokers)
	assert.Equal(t, "bookings", pc.Topic)
	assert.Equal(t, "classbook-test", pc.ClientID)
	assert.Equal(t, sarama.WaitForAll, pc.RequiredAcks, "defaults survive the overlay")
}

func TestProducerConfigFromKeepsDefaults(t *testing.T) {
	pc := ProducerConfigFrom(config.KafkaConfig{})

	defaults := DefaultProducerConfig()
	assert.Equal(t, defaults.Brokers, pc.Brokers)
	assert.Equal(t, defaults.Topic, pc.Topic)
	assert.Equal(t, defaults.ClientID, pc.ClientID)
}

func TestMessagePartitionKeyIsTheMember(t *testing.T) {
	memberID := uuid.New()
	msg := NewMessage(TypeReservationCancelled, memberID)

	assert.Equal(t, memberID.String(), msg.GetPartitionKey())
}

func TestDefaultPriorityFlagsTimeSensitiveTypes(t *testing.T) {
	assert.Equal(t, PriorityHigh, GetDefaultPriority(TypePromotionOffer))
	assert.Equal(t, PriorityHigh, GetDefaultPriority(TypeClassCancelled))
	assert.Equal(t, PriorityNormal, GetDefaultPriority(TypeReservationBooked))
	assert.Equal(t, PriorityNormal, GetDefaultPriority(TypeLateFeeCharged))
}
