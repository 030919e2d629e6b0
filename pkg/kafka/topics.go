package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"

	"example.com/order-payments/pkg/logger"
)

// DefaultTopics возвращает топики, в которые пишет Payment Service.
func DefaultTopics() []string {
	return []string{TopicOrderEvents, TopicEmailNotifications, TopicAnalyticsEvents}
}

// EnsureTopics создаёт топики через контроллер кластера, если их ещё нет.
func EnsureTopics(ctx context.Context, brokers []string, topics []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("не указаны брокеры Kafka")
	}

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("ошибка подключения к брокеру Kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("ошибка получения контроллера Kafka: %w", err)
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := kafka.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		return fmt.Errorf("ошибка подключения к контроллеру Kafka: %w", err)
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, len(topics))
	for i, topic := range topics {
		configs[i] = kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     3,
			ReplicationFactor: 1,
		}
	}

	if err := controllerConn.CreateTopics(configs...); err != nil {
		if errors.Is(err, kafka.TopicAlreadyExists) {
			logger.Debug().Strs("topics", topics).Msg("Топики Kafka уже существуют")
			return nil
		}
		return fmt.Errorf("ошибка создания топиков Kafka: %w", err)
	}

	logger.Info().Strs("topics", topics).Msg("Топики Kafka созданы")
	return nil
}
