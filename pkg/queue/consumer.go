package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Subscription is a consumer bound to an exchange on its own channel.
// Closing it ends the Deliveries stream.
type Subscription struct {
	ch         *amqp.Channel
	Deliveries <-chan amqp.Delivery
}

func (s *Subscription) Close() error {
	return s.ch.Close()
}

// Subscribe opens a channel on conn, binds a queue to exchange and starts
// consuming with auto-ack. An empty queueName declares an exclusive,
// server-named queue that disappears with the subscription; a named queue
// is durable and shared by every consumer using that name.
func Subscribe(conn *amqp.Connection, exchange, queueName string) (*Subscription, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareFanout(ch, exchange); err != nil {
		ch.Close()
		return nil, err
	}

	durable, exclusive := true, false
	if queueName == "" {
		durable, exclusive = false, true
	}
	q, err := ch.QueueDeclare(queueName, durable, !durable, exclusive, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue %s: %w", q.Name, err)
	}

	msgs, err := ch.Consume(q.Name, "", true, exclusive, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	return &Subscription{ch: ch, Deliveries: msgs}, nil
}
