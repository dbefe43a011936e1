package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"paygate/entity"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// Producer publishes payment events, keyed by order so one order's events
// stay on one partition in commit order.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	log      zerolog.Logger
}

const connectAttempts = 5

// NewProducer connects to brokers, retrying while Kafka starts up.
func NewProducer(brokers []string, topic string, logger zerolog.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.ClientID = "paygate"

	var (
		producer sarama.SyncProducer
		err      error
	)
	for i := 1; i <= connectAttempts; i++ {
		producer, err = sarama.NewSyncProducer(brokers, config)
		if err == nil {
			logger.Info().Strs("brokers", brokers).Str("topic", topic).Msg("kafka producer ready")
			return NewProducerFrom(producer, topic, logger), nil
		}
		logger.Warn().Err(err).Int("attempt", i).Msg("waiting for kafka")
		time.Sleep(time.Duration(i) * time.Second)
	}
	return nil, fmt.Errorf("kafka producer: %w", err)
}

func NewProducerFrom(producer sarama.SyncProducer, topic string, logger zerolog.Logger) *Producer {
	return &Producer{producer: producer, topic: topic, log: logger.With().Str("component", "kafka").Logger()}
}

func (p *Producer) Publish(ctx context.Context, ev entity.PaymentEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.OrderRef),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(ev.Type)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send %s: %w", ev.Type, err)
	}
	p.log.Debug().
		Str("type", ev.Type).
		Str("payment", ev.PaymentID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("event published")
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
