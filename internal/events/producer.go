package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Producer struct {
	writer  *kafka.Writer
	brokers []string
	logger  *zap.Logger
}

func NewProducer(brokers, topic string, logger *zap.Logger) *Producer {
	brokerList := strings.Split(brokers, ",")
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokerList...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &Producer{
		writer:  writer,
		brokers: brokerList,
		logger:  logger,
	}
}

func (p *Producer) PublishPaymentStatusChanged(event PaymentStatusChangedEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal payment event", zap.Error(err))
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.PaymentID),
		Value: eventBytes,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(ctx, msg)
	if err != nil {
		p.logger.Error("Failed to publish payment event",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return err
	}

	p.logger.Info("Payment event published",
		zap.String("event_id", event.EventID),
		zap.String("payment_id", event.PaymentID),
		zap.String("new_status", event.NewStatus))

	return nil
}

func (p *Producer) HealthCheck() error {
	conn, err := kafka.Dial("tcp", p.brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
