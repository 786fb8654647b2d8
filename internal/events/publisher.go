// Package events publishes settlement events to Kafka for downstream
// consumers (risk, analytics, bonus engines).
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"crashfair/internal/game"
)

type KafkaPublisher struct {
	roundWriter *kafka.Writer
	betWriter   *kafka.Writer
}

func NewKafkaPublisher(brokers, roundTopic, betTopic string) *KafkaPublisher {
	return &KafkaPublisher{
		roundWriter: newWriter(brokers, roundTopic),
		betWriter:   newWriter(brokers, betTopic),
	}
}

func newWriter(brokers, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

func (p *KafkaPublisher) PublishRoundCrashed(ctx context.Context, ev game.RoundCrashedEvent) error {
	if ev.TsUnixMs == 0 {
		ev.TsUnixMs = time.Now().UnixMilli()
	}
	b, _ := json.Marshal(ev)
	return p.roundWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.RoundID),
		Value: b,
		Time:  time.Now(),
	})
}

func (p *KafkaPublisher) PublishBetSettled(ctx context.Context, ev game.BetSettledEvent) error {
	if ev.TsUnixMs == 0 {
		ev.TsUnixMs = time.Now().UnixMilli()
	}
	b, _ := json.Marshal(ev)
	return p.betWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: b,
		Time:  time.Now(),
	})
}

func (p *KafkaPublisher) Close() error {
	if err := p.roundWriter.Close(); err != nil {
		return err
	}
	return p.betWriter.Close()
}

var _ game.EventPublisher = (*KafkaPublisher)(nil)
