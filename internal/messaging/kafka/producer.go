package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultClientID = "orders-cqrs"

// Record — одно сообщение для Kafka. Value сериализуется в JSON.
type Record struct {
	Topic   string
	Key     string
	Value   any
	Headers map[string]string
}

// message собирает ProducerMessage. Заголовки сортируются по ключу, чтобы
// порядок не зависел от обхода map.
func (r Record) message(now time.Time) (*sarama.ProducerMessage, error) {
	if r.Topic == "" {
		return nil, fmt.Errorf("kafka record has no topic")
	}
	value, err := json.Marshal(r.Value)
	if err != nil {
		return nil, fmt.Errorf("marshal %s record: %w", r.Topic, err)
	}

	keys := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	headers := make([]sarama.RecordHeader, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(r.Headers[k])})
	}

	msg := &sarama.ProducerMessage{
		Topic:     r.Topic,
		Value:     sarama.ByteEncoder(value),
		Headers:   headers,
		Timestamp: now,
	}
	if r.Key != "" {
		msg.Key = sarama.StringEncoder(r.Key)
	}
	return msg, nil
}

// Producer синхронно публикует записи: Send возвращается после ack всех ISR.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
	now      func() time.Time
}

// producerConfig настраивает идемпотентный producer: acks=all и не больше
// одного запроса в полёте на соединение.
func producerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(brokers, producerConfig(defaultClientID))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducerWithClient(sp, nil), nil
}

// NewProducerWithClient оборачивает готовый SyncProducer (например, mocks.SyncProducer).
func NewProducerWithClient(producer sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{producer: producer, logger: logger, now: time.Now}
}

type sendResult struct {
	partition int32
	offset    int64
	err       error
}

// Send публикует запись и ждёт ack не дольше, чем живёт ctx. SyncProducer
// контекст не принимает, поэтому SendMessage выполняется в отдельной горутине;
// при отмене Send сразу возвращает ошибку ctx, а запись может быть доставлена
// позже (at-least-once).
func (p *Producer) Send(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := r.message(p.now())
	if err != nil {
		return err
	}

	fields := log.Fields{"topic": r.Topic, "key": r.Key}
	done := make(chan sendResult, 1)
	go func() {
		partition, offset, err := p.producer.SendMessage(msg)
		done <- sendResult{partition: partition, offset: offset, err: err}
	}()

	var res sendResult
	select {
	case <-ctx.Done():
		p.logger.WithError(ctx.Err()).WithFields(fields).Warn("kafka send abandoned before ack")
		return fmt.Errorf("send to %s: %w", r.Topic, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		p.logger.WithError(res.err).WithFields(fields).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", r.Topic, res.err)
	}

	fields["partition"] = res.partition
	fields["offset"] = res.offset
	p.logger.WithFields(fields).Debug("kafka record acknowledged")
	return nil
}

// Close сбрасывает буферы и закрывает соединения.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
