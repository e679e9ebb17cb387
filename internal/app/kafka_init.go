package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/messaging/kafka"
)

// initKafkaProducer подключается к Kafka. Пустой список брокеров означает
// работу без Kafka: возвращается nil, nil.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := normalizeBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka сбрасывает буфер producer при остановке.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// stopKafkaConsumer останавливает consumer group проектора.
func stopKafkaConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}

// normalizeBrokers принимает как список, так и элементы вида "a:9092,b:9092";
// пустые и повторяющиеся адреса отбрасываются с сохранением порядка.
func normalizeBrokers(brokers []string) []string {
	seen := make(map[string]struct{}, len(brokers))
	result := make([]string, 0, len(brokers))
	for _, item := range brokers {
		for _, b := range strings.Split(item, ",") {
			b = strings.TrimSpace(b)
			if b == "" {
				continue
			}
			if _, dup := seen[b]; dup {
				continue
			}
			seen[b] = struct{}{}
			result = append(result, b)
		}
	}
	return result
}
