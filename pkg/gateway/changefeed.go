package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"civic-reporting/pkg/models"
	"civic-reporting/pkg/queue"
)

// AMQPChangeFeed carries change events over a fanout exchange. Every
// subscriber gets its own exclusive queue.
type AMQPChangeFeed struct {
	conn     *amqp.Connection
	exchange string
	log      *slog.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

// NewAMQPChangeFeed declares the exchange on a dedicated publishing channel.
func NewAMQPChangeFeed(conn *amqp.Connection, exchange string, log *slog.Logger) (*AMQPChangeFeed, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := queue.DeclareFanout(ch, exchange); err != nil {
		ch.Close()
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &AMQPChangeFeed{conn: conn, exchange: exchange, log: log.With("component", "changefeed"), ch: ch}, nil
}

func (f *AMQPChangeFeed) Publish(ctx context.Context, event models.ChangeEvent) error {
	// amqp channels are not safe for concurrent publishing.
	f.mu.Lock()
	defer f.mu.Unlock()
	return queue.PublishMessage(ctx, f.ch, f.exchange, event)
}

func (f *AMQPChangeFeed) Subscribe(onEvent func(models.ChangeEvent)) (func(), error) {
	sub, err := queue.Subscribe(f.conn, f.exchange, "")
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for d := range sub.Deliveries {
			event, ok := DecodeChangeEvent(d.Body, f.log)
			if ok {
				onEvent(event)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := sub.Close(); err != nil {
				f.log.Debug("close subscription", "error", err)
			}
			<-done
		})
	}, nil
}

func (f *AMQPChangeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch.Close()
}

// DecodeChangeEvent parses and validates a change message. Malformed
// messages are logged and dropped.
func DecodeChangeEvent(body []byte, log *slog.Logger) (models.ChangeEvent, bool) {
	var event models.ChangeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Warn("dropping undecodable change event", "error", err)
		return models.ChangeEvent{}, false
	}
	if err := event.Validate(); err != nil {
		log.Warn("dropping invalid change event", "error", err)
		return models.ChangeEvent{}, false
	}
	return event, true
}
