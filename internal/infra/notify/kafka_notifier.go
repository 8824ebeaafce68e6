package notify

import (
	"context"
	"encoding/json"
	"time"

	"marketplace/internal/domain/model"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// kafka.Writer のうち使う部分だけ
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier は注文イベントを Kafka のトピックへ流す。
// キーは注文IDなので同じ注文のイベントは同じパーティションに並ぶ。
type KafkaNotifier struct {
	w messageWriter
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Error().Err(err).Int("messages", len(msgs)).Str("topic", topic).Msg("order event delivery failed")
			}
		},
	}
	return &KafkaNotifier{w: w}
}

// 失敗しても注文処理には影響させない
func (n *KafkaNotifier) Publish(ctx context.Context, ev model.OrderEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("order_id", ev.OrderID).Msg("order event encode failed")
		return
	}
	msg := kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: data,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := n.w.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		log.Error().Err(err).Str("order_id", ev.OrderID).Str("event_type", string(ev.Type)).Msg("order event publish failed")
	}
}

func (n *KafkaNotifier) Close() error {
	return n.w.Close()
}
