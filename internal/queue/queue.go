package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgqa/internal/util"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExtractQueue = "extract_queue"
	DeleteQueue  = "delete_queue"
	QueryQueue   = "query_queue"
	CancelQueue  = "cancel_queue"

	retrySuffix = "_retry"
	dlqSuffix   = "_dlq"
	retryTTLms  = 10000
)

// Queues lists every work queue a worker consumes from.
var Queues = []string{ExtractQueue, DeleteQueue, QueryQueue, CancelQueue}

// Init dials RabbitMQ using RABBITMQ_URL, or the RABBITMQ_USER,
// RABBITMQ_PASSWORD, RABBITMQ_HOST and RABBITMQ_PORT variables.
func Init() (*amqp091.Connection, error) {
	connURL := util.GetEnv("RABBITMQ_URL")
	if connURL == "" {
		connURL = fmt.Sprintf(
			"amqp://%s:%s@%s:%s/",
			util.GetEnvString("RABBITMQ_USER", "guest"),
			util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
			util.GetEnvString("RABBITMQ_HOST", "localhost"),
			util.GetEnvString("RABBITMQ_PORT", "5672"),
		)
	}

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return conn, nil
}

// SetupQueues declares every queue with its retry and dead-letter queue.
// Messages published to the retry queue return to the work queue after
// ten seconds.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}

		dlqName := name + dlqSuffix
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", dlqName, err)
		}

		retryName := name + retrySuffix
		if _, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryTTLms),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		); err != nil {
			return fmt.Errorf("declare %s: %w", retryName, err)
		}
	}
	return nil
}

// Publisher is the part of *amqp091.Channel used to publish messages.
type Publisher interface {
	PublishWithContext(
		ctx context.Context,
		exchange, key string,
		mandatory, immediate bool,
		msg amqp091.Publishing,
	) error
}

// PublishFIFO publishes a persistent JSON message to a work queue.
func PublishFIFO(ctx context.Context, pub Publisher, queueName string, data []byte) error {
	return pub.PublishWithContext(ctx, "", queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}

func publishReply(ctx context.Context, pub Publisher, replyTo, correlationID string, data []byte) error {
	return pub.PublishWithContext(ctx, "", replyTo, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		Body:          data,
		Timestamp:     time.Now(),
	})
}
