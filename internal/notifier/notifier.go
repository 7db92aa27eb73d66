// Package notifier публикует события бронирований в RabbitMQ.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/canteen-system/internal/model"
)

const (
	exchangeName = "canteen.events"

	routingKeyCreated       = "reservation.created"
	routingKeyStatusChanged = "reservation.status_changed"
)

// Notifier публикует события журнала бронирований в durable topic-обменник.
type Notifier struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// ReservationEvent — полезная нагрузка события бронирования.
type ReservationEvent struct {
	ReservationID int64        `json:"reservation_id"`
	UserEmail     string       `json:"user_email"`
	Status        model.Status `json:"status"`
	TotalAmount   int64        `json:"total_amount"`
	Date          string       `json:"date"`
	Time          string       `json:"time"`
	OccurredAt    string       `json:"occurred_at"`
}

// New подключается к RabbitMQ с повторами и объявляет обменник событий.
func New(ctx context.Context, url string) (*Notifier, error) {
	var conn *amqp091.Connection

	backoff := retry.WithMaxRetries(5, retry.NewExponential(1*time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var dialErr error
		conn, dialErr = amqp091.Dial(url)
		if dialErr != nil {
			return retry.RetryableError(dialErr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Notifier{
		conn:    conn,
		channel: channel,
	}, nil
}

// Close закрывает канал и соединение с брокером.
func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

// ReservationCreated публикует событие о создании бронирования.
func (n *Notifier) ReservationCreated(ctx context.Context, res model.Reservation) error {
	return n.publish(ctx, routingKeyCreated, res)
}

// ReservationStatusChanged публикует событие о смене статуса бронирования.
func (n *Notifier) ReservationStatusChanged(ctx context.Context, res model.Reservation) error {
	return n.publish(ctx, routingKeyStatusChanged, res)
}

func (n *Notifier) publish(ctx context.Context, routingKey string, res model.Reservation) error {
	if n == nil || n.channel == nil {
		return nil
	}

	event := ReservationEvent{
		ReservationID: res.ID,
		UserEmail:     res.UserEmail,
		Status:        res.Status,
		TotalAmount:   res.TotalAmount,
		Date:          res.Date,
		Time:          res.Time,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = n.channel.PublishWithContext(ctx,
		exchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	return nil
}
