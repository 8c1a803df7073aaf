package rabbitmq

import (
	"context"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"sync"
	"vod-orchestrator/config"
)

// QueueSpec names the exchange/queue/binding a consumer listens on. When
// DeadLetter is set, a DLX and DLQ are declared alongside and rejected
// messages are routed there instead of being dropped.
type QueueSpec struct {
	Exchange      string
	Queue         string
	RoutingKey    string
	DeadLetter    bool
	DLXName       string
	DLQName       string
	DLQRoutingKey string
}

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type consumer[T any] struct {
	conn       *amqp.Connection
	cfg        *config.RabbitMQ
	spec       QueueSpec
	handler    func(ctx context.Context, msg amqp.Delivery, dependencies T) error
	numWorkers int
}

func (c consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	err = ch.ExchangeDeclare(c.spec.Exchange, c.cfg.Kind, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", c.spec.Exchange).Msg("failed to declare exchange")
		return err
	}

	var args amqp.Table
	if c.spec.DeadLetter {
		err = ch.ExchangeDeclare(c.spec.DLXName, c.cfg.Kind, true, false, false, false, nil)
		if err != nil {
			zerolog.Ctx(ctx).Error().Str("exchange", c.spec.DLXName).Msg("failed to declare dlx")
			return err
		}

		dlq, err := ch.QueueDeclare(c.spec.DLQName, true, false, false, false, nil)
		if err != nil {
			zerolog.Ctx(ctx).Error().Str("queue", c.spec.DLQName).Msg("failed to declare dlq")
			return err
		}

		err = ch.QueueBind(dlq.Name, c.spec.DLQRoutingKey, c.spec.DLXName, false, nil)
		if err != nil {
			zerolog.Ctx(ctx).Error().Msg("failed to bind dlq")
			return err
		}

		args = amqp.Table{
			"x-dead-letter-exchange":    c.spec.DLXName,
			"x-dead-letter-routing-key": c.spec.DLQRoutingKey,
		}
	}

	q, err := ch.QueueDeclare(c.spec.Queue, true, false, false, false, args)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.spec.Queue).Msg("failed to declare queue")
		return err
	}

	err = ch.QueueBind(q.Name, c.spec.RoutingKey, c.spec.Exchange, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.spec.Queue).Msg("failed to bind queue")
		return err
	}

	err = ch.Qos(c.numWorkers, 0, false)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.spec.Queue).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(c.spec.Queue, "", false, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.spec.Queue).Msg("failed to consume queue")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("queue", c.spec.Queue).
		Str("exchange", c.spec.Exchange).
		Str("routing_key", c.spec.RoutingKey).
		Int("workers", c.numWorkers).
		Msg("consumer started")

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for msg := range jobs {
				if err := c.handler(ctx, msg, dependencies); err != nil {
					zerolog.Ctx(ctx).Error().Err(err).Int("worker_id", workerId).Msg("failed to handle message")
					if c.spec.DeadLetter {
						if nackErr := msg.Nack(false, false); nackErr != nil {
							zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
						}
						continue
					}
				}
				if err := msg.Ack(false); err != nil {
					zerolog.Ctx(ctx).Error().Msg("failed to acknowledge message")
				}
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}

			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

func NewConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	spec QueueSpec,
	numWorkers int,
	handler func(ctx context.Context, msg amqp.Delivery, dependencies T) error,
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &consumer[T]{
		conn:       conn,
		cfg:        cfg,
		spec:       spec,
		handler:    handler,
		numWorkers: numWorkers,
	}
}
