package rabbitmq

import (
	"context"
	amqp "github.com/rabbitmq/amqp091-go"
	"vod-orchestrator/config"
)

// Publisher publishes persistent messages to one exchange. A channel is
// opened per publish; amqp channels are not safe for concurrent use and the
// orchestrator publishes from multiple workflow branches at once.
type Publisher struct {
	conn     *amqp.Connection
	cfg      *config.RabbitMQ
	exchange string
}

func NewPublisher(conn *amqp.Connection, cfg *config.RabbitMQ, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, cfg.Kind, true, false, false, false, nil); err != nil {
		return nil, err
	}

	return &Publisher{
		conn:     conn,
		cfg:      cfg,
		exchange: exchange,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return ch.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
}
