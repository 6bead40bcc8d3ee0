package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	logger.Info("Creating Kafka event publisher",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic))

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug("Kafka writer log", zap.String("msg", fmt.Sprintf(msg, args...)))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error("Kafka writer error", zap.String("msg", fmt.Sprintf(msg, args...)))
		}),
	}
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

// Publish writes the events keyed by person so one person's events stay on
// one partition and keep their order.
func (p *KafkaPublisher) Publish(ctx context.Context, evts []Event) error {
	if len(evts) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(evts))
	for _, evt := range evts {
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", evt.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(evt.PersonID.String()),
			Value: data,
			Time:  evt.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte(evt.Type)},
				{Key: "event-id", Value: []byte(evt.ID.String())},
			},
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("Failed to publish events",
			zap.Error(err),
			zap.Int("count", len(msgs)),
			zap.Duration("duration", time.Since(start)))
		return err
	}
	p.logger.Debug("Events published",
		zap.String("topic", p.topic),
		zap.Int("count", len(msgs)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing Kafka event publisher")
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
