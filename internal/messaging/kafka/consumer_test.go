package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error {
	return m.errorsCh
}

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string)  {}
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.marked = append(m.marked, msg)
}

type mockClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return m.topic }
func (m *mockClaim) Partition() int32                         { return m.partition }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

// orderMessage собирает сообщение topic заказов так, как его пишет EventPublisher.
func orderMessage(t *testing.T, orderID int64, offset int64, retryCount int) *sarama.ConsumerMessage {
	t.Helper()

	event := sampleEvent()
	event.OrderID = orderID
	msg, err := domain.NewOrderCreatedMessage(event)
	if err != nil {
		t.Fatalf("build outbox message: %v", err)
	}
	value, err := json.Marshal(NewEnvelope(msg))
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	consumerMessage := &sarama.ConsumerMessage{
		Topic:     TopicOrderEvents,
		Partition: 0,
		Offset:    offset,
		Key:       []byte(strconv.FormatInt(orderID, 10)),
		Value:     value,
	}
	if retryCount > 0 {
		consumerMessage.Headers = []*sarama.RecordHeader{
			{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(retryCount))},
		}
	}
	return consumerMessage
}

func TestNewConsumer_InvalidBroker(t *testing.T) {
	handler := func(context.Context, *sarama.ConsumerMessage) error { return nil }
	if _, err := NewConsumer([]string{"invalid-broker:9092"}, "orders-read-projector", []string{TopicOrderEvents}, handler); err == nil {
		t.Fatal("expected new consumer error")
	}
	if _, err := NewConsumerWithOptions([]string{"invalid-broker:9092"}, "orders-read-projector", []string{TopicOrderEvents}, handler, ConsumerOptions{MaxRetries: 3}); err == nil {
		t.Fatal("expected new consumer with options error")
	}
}

func TestNewConsumer_Defaults(t *testing.T) {
	consumer := newConsumer(&mockConsumerGroup{}, []string{TopicOrderEvents}, nil, ConsumerOptions{RetryDelay: -time.Second})
	if consumer.maxRetries != defaultMaxRetries {
		t.Fatalf("expected default max retries %d, got %d", defaultMaxRetries, consumer.maxRetries)
	}
	if consumer.retryDelay != 0 {
		t.Fatalf("negative retry delay should be clamped, got %v", consumer.retryDelay)
	}
	if consumer.logger == nil {
		t.Fatal("expected default logger")
	}
}

func TestConsumer_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumed := make(chan []string, 1)
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(_ context.Context, topics []string, _ sarama.ConsumerGroupHandler) error {
			select {
			case consumed <- topics:
			default:
			}
			cancel()
			return nil
		},
		closeFn: func() error {
			close(errorsCh)
			return nil
		},
	}
	consumer := newConsumer(group, []string{TopicOrderEvents}, func(context.Context, *sarama.ConsumerMessage) error { return nil }, ConsumerOptions{
		Logger: log.WithField("test", "consumer"),
	})

	errorsCh <- errors.New("rebalance error")
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case topics := <-consumed:
		if len(topics) != 1 || topics[0] != TopicOrderEvents {
			t.Fatalf("consumed topics = %v", topics)
		}
	case <-time.After(time.Second):
		t.Fatal("expected consume call")
	}

	if err := consumer.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestConsumer_StopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := &Consumer{consumer: group, logger: log.WithField("test", "stop")}
	if err := consumer.Stop(); err == nil {
		t.Fatal("expected stop error")
	}
}

func TestConsumer_SetupCleanup(t *testing.T) {
	consumer := &Consumer{}
	if err := consumer.Setup(nil); err != nil {
		t.Fatalf("setup should return nil: %v", err)
	}
	if err := consumer.Cleanup(nil); err != nil {
		t.Fatalf("cleanup should return nil: %v", err)
	}
}

func TestConsumeClaim_MarksOnlyHandledOrderEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var projected []int64
	consumer := &Consumer{
		handler: func(_ context.Context, message *sarama.ConsumerMessage) error {
			event, err := ParseOrderCreated(message)
			if err != nil {
				return err
			}
			projected = append(projected, event.OrderID)
			return nil
		},
		logger:     log.WithField("test", "claim"),
		maxRetries: 1,
	}

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicOrderEvents, messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- orderMessage(t, 1, 10, 0)
	claim.messages <- &sarama.ConsumerMessage{Topic: TopicOrderEvents, Offset: 11, Key: []byte("2"), Value: []byte("{broken")}
	claim.messages <- orderMessage(t, 3, 12, 0)
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(projected) != 2 || projected[0] != 1 || projected[1] != 3 {
		t.Fatalf("projected orders = %v, want [1 3]", projected)
	}
	if len(session.marked) != 2 {
		t.Fatalf("expected two marked messages, got %d", len(session.marked))
	}
	for _, msg := range session.marked {
		if msg.Offset == 11 {
			t.Fatal("malformed message must not be marked")
		}
	}
}

func TestConsumeClaim_StopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:     log.WithField("test", "claim-stop"),
		maxRetries: 1,
	}
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicOrderEvents, messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}

func TestHandleMessageWithRetry(t *testing.T) {
	const permanent = -1

	tests := []struct {
		name         string
		retryCount   int
		failures     int
		dlq          string
		wantErr      bool
		wantAttempts int
	}{
		{name: "first delivery recovers within budget", failures: 2, wantAttempts: 3},
		{name: "redelivery gets remaining budget", retryCount: 1, failures: permanent, wantErr: true, wantAttempts: 2},
		{name: "spent budget without dlq keeps error", retryCount: 3, failures: permanent, wantErr: true, wantAttempts: 1},
		{name: "spent budget goes to dlq", retryCount: 3, failures: permanent, dlq: "ok", wantAttempts: 1},
		{name: "first delivery exhausts into dlq", failures: permanent, dlq: "ok", wantAttempts: 3},
		{name: "dlq failure is returned", retryCount: 3, failures: permanent, dlq: "fail", wantErr: true, wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			consumer := &Consumer{
				handler: func(context.Context, *sarama.ConsumerMessage) error {
					attempts++
					if tt.failures == permanent || attempts <= tt.failures {
						return errors.New("read store unavailable")
					}
					return nil
				},
				logger:     log.WithField("test", tt.name),
				maxRetries: 3,
			}

			var mockProducer *mocks.SyncProducer
			if tt.dlq != "" {
				mockProducer = mocks.NewSyncProducer(t, nil)
				if tt.dlq == "ok" {
					mockProducer.ExpectSendMessageAndSucceed()
				} else {
					mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
				}
				consumer.dlqProducer = NewProducerWithClient(mockProducer, log.WithField("test", "dlq"))
			}

			err := consumer.handleMessageWithRetry(context.Background(), orderMessage(t, 7, 1, tt.retryCount))
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if attempts != tt.wantAttempts {
				t.Fatalf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
			if mockProducer != nil {
				if err := mockProducer.Close(); err != nil {
					t.Fatal(err)
				}
			}
		})
	}
}

func TestHandleMessageWithRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := &Consumer{
		handler: func(context.Context, *sarama.ConsumerMessage) error {
			cancel()
			return errors.New("temporary")
		},
		logger:     log.WithField("test", "retry-cancel"),
		maxRetries: 5,
		retryDelay: time.Second,
	}
	if err := consumer.handleMessageWithRetry(ctx, orderMessage(t, 1, 1, 0)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGetRetryCount(t *testing.T) {
	consumer := &Consumer{}

	tests := []struct {
		name  string
		value string
		want  int
	}{
		{name: "numeric", value: "5", want: 5},
		{name: "invalid falls back to zero", value: "bad", want: 0},
	}
	for _, tt := range tests {
		msg := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte(tt.value)}}}
		if got := consumer.getRetryCount(msg); got != tt.want {
			t.Errorf("%s: retry count = %d, want %d", tt.name, got, tt.want)
		}
	}
	if got := consumer.getRetryCount(orderMessage(t, 1, 1, 0)); got != 0 {
		t.Errorf("message without header: retry count = %d, want 0", got)
	}
}

func TestConsumerConfig(t *testing.T) {
	cfg := consumerConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("consumer config must be valid: %v", err)
	}
	if cfg.Consumer.Offsets.Initial != sarama.OffsetOldest || !cfg.Consumer.Return.Errors {
		t.Fatalf("unexpected consumer settings: %+v", cfg.Consumer)
	}
}

func TestSendToDLQ_CarriesOriginalMessage(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	original := orderMessage(t, 42, 99, 3)

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicDeadLetterQueue {
			return errors.New("dlq message sent to wrong topic " + msg.Topic)
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return err
		}
		if payload["original_topic"] != TopicOrderEvents {
			return errors.New("original_topic is missing")
		}
		if payload["original_offset"] != float64(99) {
			return errors.New("original_offset is wrong")
		}
		if payload["error_message"] != "projection failed" {
			return errors.New("error_message is wrong")
		}
		if payload["original_value"] != string(original.Value) {
			return errors.New("original_value is not preserved")
		}

		headers := map[string]string{}
		for _, header := range msg.Headers {
			headers[string(header.Key)] = string(header.Value)
		}
		if headers[HeaderOriginalTopic] != TopicOrderEvents || headers[HeaderRetryCount] != "3" {
			return errors.New("dlq headers are incomplete")
		}
		return nil
	})

	consumer := &Consumer{
		dlqProducer: NewProducerWithClient(mockProducer, log.WithField("test", "send-dlq")),
		logger:      log.WithField("test", "consumer-send-dlq"),
		maxRetries:  3,
	}
	if err := consumer.sendToDLQ(context.Background(), original, errors.New("projection failed")); err != nil {
		t.Fatalf("sendToDLQ failed: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}
