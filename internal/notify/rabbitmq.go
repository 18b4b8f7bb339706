package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// publisher is the slice of *amqp.Channel the notifier uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQ publishes outcome records as persistent JSON messages on a durable
// topic exchange.
type RabbitMQ struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	pub      publisher
	exchange string
	log      zerolog.Logger
}

// NewRabbitMQ dials url and declares the exchange.
func NewRabbitMQ(url, exchange string, log zerolog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	log.Info().Str("exchange", exchange).Msg("RabbitMQ notifier initialized")

	return &RabbitMQ{
		conn:     conn,
		channel:  ch,
		pub:      ch,
		exchange: exchange,
		log:      log.With().Str("component", "notify.rabbitmq").Logger(),
	}, nil
}

// Notify publishes rec with routing key task.<status>.
func (r *RabbitMQ) Notify(ctx context.Context, rec domain.TaskStatusRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal task record: %w", err)
	}

	key := RoutingKey(rec)
	err = r.pub.PublishWithContext(ctx,
		r.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    rec.ModifiedAt,
			MessageId:    fmt.Sprintf("%s/%s/%s", rec.WorkflowID, rec.RunID, rec.TaskID),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}

	r.log.Debug().Str("routing_key", key).Str("workflow_id", rec.WorkflowID).Msg("published task outcome")
	return nil
}

// Close closes the channel and the connection.
func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.log.Warn().Err(err).Msg("failed to close channel")
		}
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

var _ Notifier = (*RabbitMQ)(nil)
