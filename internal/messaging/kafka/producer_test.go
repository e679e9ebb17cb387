package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestRecordMessage(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.May, 4, 12, 0, 0, 0, time.UTC)
	msg, err := Record{
		Topic:   TopicOrderEvents,
		Key:     "42",
		Value:   map[string]any{"orderId": 42},
		Headers: map[string]string{HeaderMessageID: "m-1", HeaderEventType: "order.created"},
	}.message(now)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}

	key, _ := msg.Key.Encode()
	value, _ := msg.Value.Encode()
	if string(key) != "42" || string(value) != `{"orderId":42}` || !msg.Timestamp.Equal(now) {
		t.Fatalf("unexpected message: key=%q value=%q ts=%s", key, value, msg.Timestamp)
	}
	if len(msg.Headers) != 2 ||
		string(msg.Headers[0].Key) != HeaderEventType ||
		string(msg.Headers[1].Key) != HeaderMessageID {
		t.Fatalf("headers must be sorted by key: %+v", msg.Headers)
	}
}

func TestRecordMessage_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string]Record{
		"no topic":      {Value: 1},
		"unmarshalable": {Topic: TopicOrderEvents, Value: make(chan int)},
	}
	for name, record := range tests {
		if _, err := record.message(time.Now()); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestRecordMessage_EmptyKeyLeavesPartitionerFree(t *testing.T) {
	t.Parallel()

	msg, err := Record{Topic: TopicOrderEvents, Value: "x"}.message(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if msg.Key != nil {
		t.Fatalf("expected nil key, got %v", msg.Key)
	}
}

func TestProducerConfig(t *testing.T) {
	t.Parallel()

	cfg := producerConfig("orders-test")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("producer config must be valid: %v", err)
	}
	if !cfg.Producer.Idempotent || cfg.Producer.RequiredAcks != sarama.WaitForAll || cfg.Net.MaxOpenRequests != 1 {
		t.Fatalf("idempotent producer settings are not applied: %+v", cfg.Producer)
	}
	if cfg.ClientID != "orders-test" {
		t.Fatalf("client id = %q", cfg.ClientID)
	}
}

func TestProducer_Send(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerWithClient(mockProducer, log.WithField("component", "kafka-producer-test"))

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			return errors.New("wrong topic " + msg.Topic)
		}
		return nil
	})
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	record := Record{Topic: TopicOrderEvents, Key: "1", Value: map[string]any{"orderId": 1}}
	if err := producer.Send(context.Background(), record); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := producer.Send(context.Background(), record); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("second send must wrap broker error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_SendCanceledContext(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerWithClient(mockProducer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := producer.Send(ctx, Record{Topic: TopicOrderEvents, Value: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// Ожиданий нет: Close упадёт, если сообщение всё же ушло.
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}
