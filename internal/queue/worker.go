package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kgqa/pkg/ai"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	maxRetries    = 10
	retriesHeader = "x-retries"
	errorHeader   = "x-error"
)

// Worker consumes the work queues. Extract and delete messages are handled
// one at a time; cancel and query messages are consumed on a separate
// channel so they are served while an extraction runs.
type Worker struct {
	conn     *amqp091.Connection
	handler  *Handler
	aiClient ai.GraphAIClient
}

type NewWorkerParams struct {
	Conn     *amqp091.Connection
	Handler  *Handler
	AIClient ai.GraphAIClient
}

func NewWorker(params NewWorkerParams) *Worker {
	return &Worker{conn: params.Conn, handler: params.Handler, aiClient: params.AIClient}
}

type queuedMessage struct {
	msg       amqp091.Delivery
	queueName string
}

// Run blocks until ctx is cancelled or a channel fails.
func (w *Worker) Run(ctx context.Context) error {
	pubCh, err := w.conn.Channel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	defer pubCh.Close()

	if err := SetupQueues(pubCh, Queues); err != nil {
		return err
	}

	// a single consumer channel with prefetch=1 delivers one message at a
	// time across the work queues
	workCh, err := w.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer workCh.Close()
	if err := workCh.Qos(1, 0, true); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	controlCh, err := w.conn.Channel()
	if err != nil {
		return fmt.Errorf("open control channel: %w", err)
	}
	defer controlCh.Close()
	if err := controlCh.Qos(4, 0, true); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan queuedMessage)
	control := make(chan queuedMessage)
	errCh := make(chan error, len(Queues))

	var wg sync.WaitGroup
	consume := func(ch *amqp091.Channel, queueName string, out chan<- queuedMessage) {
		defer wg.Done()
		msgs, err := ch.Consume(
			queueName,
			queueName+"_consumer",
			false, // autoAck
			false, // exclusive
			false, // noLocal
			false, // noWait
			nil,   // args
		)
		if err != nil {
			errCh <- fmt.Errorf("consume %s: %w", queueName, err)
			return
		}
		for {
			select {
			case <-ctx.Done():
				logger.Info("[Queue] Stopping consumer", "queue", queueName)
				return
			case msg, ok := <-msgs:
				if !ok {
					errCh <- fmt.Errorf("message channel of %s closed", queueName)
					return
				}
				select {
				case out <- queuedMessage{msg: msg, queueName: queueName}:
				case <-ctx.Done():
					return
				}
			}
		}
	}

	wg.Add(4)
	go consume(workCh, ExtractQueue, work)
	go consume(workCh, DeleteQueue, work)
	go consume(controlCh, CancelQueue, control)
	go consume(controlCh, QueryQueue, control)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case qm := <-control:
				w.process(ctx, pubCh, qm)
			}
		}
	}()

	logger.Info("[Queue] Listening for messages")

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping message processor")
			break loop
		case runErr = <-errCh:
			break loop
		case qm := <-work:
			w.process(ctx, pubCh, qm)
			w.logMetrics()
			logger.Info("[Queue] Waiting for next message")
		}
	}

	cancel()
	wg.Wait()
	return runErr
}

func (w *Worker) process(ctx context.Context, pub Publisher, qm queuedMessage) {
	start := time.Now()
	logger.Info("[Queue] Received message", "queue", qm.queueName)

	var err error
	switch qm.queueName {
	case ExtractQueue:
		err = w.handler.ProcessExtract(ctx, qm.msg.Body)
	case DeleteQueue:
		err = w.handler.ProcessDelete(ctx, qm.msg.Body)
	case CancelQueue:
		err = w.handler.ProcessCancel(ctx, qm.msg.Body)
	case QueryQueue:
		err = w.answer(ctx, pub, qm.msg)
	default:
		err = fmt.Errorf("%w: unknown queue %s", ErrInvalidMessage, qm.queueName)
	}

	if err != nil {
		logger.Error("[Queue] Error processing message", "queue", qm.queueName, "err", err)
		handleProcessingError(ctx, pub, qm.msg, qm.queueName, err)
	} else {
		if err := qm.msg.Ack(false); err != nil {
			logger.Error("[Queue] Failed to ack message", "err", err)
		}
		logger.Info("[Queue] Message processed successfully", "queue", qm.queueName)
	}
	logger.Info("[Queue] Processing time", "duration", formatDuration(time.Since(start)))
}

type errorReply struct {
	Error string `json:"error"`
}

// answer replies to ReplyTo when the caller set one. A failed query is
// answered with an error body instead of being retried, since the caller
// is waiting for it.
func (w *Worker) answer(ctx context.Context, pub Publisher, msg amqp091.Delivery) error {
	reply, err := w.handler.ProcessQuery(ctx, msg.Body)
	if msg.ReplyTo == "" {
		return err
	}
	if err != nil {
		logger.Error("[Queue] Query failed", "correlation_id", msg.CorrelationId, "err", err)
		reply, _ = json.Marshal(errorReply{Error: err.Error()})
	}
	if err := publishReply(ctx, pub, msg.ReplyTo, msg.CorrelationId, reply); err != nil {
		return fmt.Errorf("publish reply: %w", err)
	}
	return nil
}

func (w *Worker) logMetrics() {
	if w.aiClient == nil {
		return
	}
	metrics := w.aiClient.GetMetrics()
	logger.Info(
		"[Queue] AI Metrics",
		"input_tokens", metrics.InputTokens,
		"output_tokens", metrics.OutputTokens,
		"total_tokens", metrics.TotalTokens,
		"duration", formatDuration(time.Duration(metrics.DurationMs)*time.Millisecond),
	)
	w.aiClient.ResetMetrics()
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// retryCount reads the retry header. Its integer type depends on who
// published the message last.
func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// handleProcessingError moves a failed message to the retry queue, or to
// the dead-letter queue once it ran out of retries or can never succeed.
// The original delivery is acked after the copy was published.
func handleProcessingError(ctx context.Context, pub Publisher, msg amqp091.Delivery, queueName string, procErr error) {
	retries := retryCount(msg.Headers)

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	target := queueName + retrySuffix
	if errors.Is(procErr, ErrInvalidMessage) || retries >= maxRetries {
		target = queueName + dlqSuffix
		headers[errorHeader] = procErr.Error()
		logger.Info("[Queue] Sending message to DLQ", "dlq", target, "retries", retries)
	} else {
		headers[retriesHeader] = int32(retries + 1)
	}

	err := pub.PublishWithContext(ctx, "", target, false, false, amqp091.Publishing{
		ContentType:   msg.ContentType,
		Body:          msg.Body,
		Headers:       headers,
		DeliveryMode:  amqp091.Persistent,
		ReplyTo:       msg.ReplyTo,
		CorrelationId: msg.CorrelationId,
	})
	if err != nil {
		logger.Error("[Queue] Failed to publish failed message", "queue", target, "err", err)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to nack message", "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}
