package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// KafkaProducer publishes domain events for asynchronous consumers: ride
// requests that found no reachable driver and raw driver location updates.
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// Publish hands a ride request to the async matching channel. Fire-and-forget
// with a short deadline; the caller treats failure as non-fatal.
func (k *KafkaProducer) Publish(ctx context.Context, req models.RideRequest) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(req)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(req.BookingID), Value: b})
}

// PublishLocation streams a driver position update.
func (k *KafkaProducer) PublishLocation(pos models.DriverPosition) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(pos)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(pos.DriverID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
