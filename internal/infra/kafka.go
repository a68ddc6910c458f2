// README: Kafka writer construction for the outbox relay.
package infra

import (
	"errors"

	"github.com/segmentio/kafka-go"
)

var ErrKafkaDisabled = errors.New("kafka disabled: no brokers configured")

func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, ErrKafkaDisabled
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}, nil
}
