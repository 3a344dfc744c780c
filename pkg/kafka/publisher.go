/**
 * @description
 * Kafka publisher for ledger events, an alternative to the RabbitMQ producer.
 *
 * @dependencies
 * - github.com/segmentio/kafka-go: Kafka writer.
 */

package kafka

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher writes ledger events to Kafka. The exchange name is used as the topic and
// the routing key travels as a header. Bodies that carry a PartitionKey are keyed by
// it, so events for the same account land on one partition in order.
type Publisher struct {
	writer *kafka.Writer
}

// RoutingKeyHeader carries the routing key of every published message.
const RoutingKeyHeader = "routing_key"

type partitionKeyer interface {
	PartitionKey() string
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			WriteTimeout:           5 * time.Second,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, topic, routingKey string, body interface{}) error {
	msg, err := buildMessage(topic, routingKey, body)
	if err != nil {
		log.Printf("level=error component=kafka_producer msg=\"json marshal failed\" topic=%s routing_key=%s err=%v", topic, routingKey, err)
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func buildMessage(topic, routingKey string, body interface{}) (kafka.Message, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return kafka.Message{}, err
	}

	key := routingKey
	if k, ok := body.(partitionKeyer); ok && k.PartitionKey() != "" {
		key = k.PartitionKey()
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   data,
		Headers: []kafka.Header{{Key: RoutingKeyHeader, Value: []byte(routingKey)}},
		Time:    time.Now(),
	}, nil
}

func (p *Publisher) Close() {
	if err := p.writer.Close(); err != nil {
		log.Printf("level=warn component=kafka_producer msg=\"writer close failed\" err=%v", err)
	}
}
