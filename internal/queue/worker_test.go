package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

func TestRetryCount(t *testing.T) {
	tests := []struct {
		headers amqp091.Table
		want    int
	}{
		{nil, 0},
		{amqp091.Table{}, 0},
		{amqp091.Table{retriesHeader: 3}, 3},
		{amqp091.Table{retriesHeader: int32(4)}, 4},
		{amqp091.Table{retriesHeader: int64(5)}, 5},
		{amqp091.Table{retriesHeader: int16(6)}, 6},
		{amqp091.Table{retriesHeader: "7"}, 0},
	}
	for _, tt := range tests {
		if got := retryCount(tt.headers); got != tt.want {
			t.Fatalf("retryCount(%v) = %d, want %d", tt.headers, got, tt.want)
		}
	}
}

func TestHandleProcessingError(t *testing.T) {
	failure := errors.New("model unavailable")
	tests := []struct {
		name      string
		headers   amqp091.Table
		err       error
		wantKey   string
		wantRetry int
	}{
		{"first failure", nil, failure, ExtractQueue + retrySuffix, 1},
		{"int header", amqp091.Table{retriesHeader: 9}, failure, ExtractQueue + retrySuffix, 10},
		{"retries exhausted", amqp091.Table{retriesHeader: int32(10)}, failure, ExtractQueue + dlqSuffix, 10},
		{"invalid message", nil, fmt.Errorf("%w: no doc id", ErrInvalidMessage), ExtractQueue + dlqSuffix, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			ack := &fakeAcknowledger{}
			msg := amqp091.Delivery{Acknowledger: ack, Headers: tt.headers, Body: []byte(`{}`)}

			handleProcessingError(context.Background(), pub, msg, ExtractQueue, tt.err)

			if len(pub.msgs) != 1 || pub.msgs[0].key != tt.wantKey {
				t.Fatalf("published = %+v, want one message to %s", pub.msgs, tt.wantKey)
			}
			if got := retryCount(pub.msgs[0].msg.Headers); got != tt.wantRetry {
				t.Fatalf("retries = %d, want %d", got, tt.wantRetry)
			}
			if tt.wantKey == ExtractQueue+dlqSuffix && pub.msgs[0].msg.Headers[errorHeader] != tt.err.Error() {
				t.Fatalf("error header = %v", pub.msgs[0].msg.Headers[errorHeader])
			}
			if ack.acks != 1 || ack.nacks != 0 {
				t.Fatalf("acks = %d, nacks = %d", ack.acks, ack.nacks)
			}
		})
	}
}

func TestHandleProcessingErrorKeepsOriginalHeaders(t *testing.T) {
	pub := &fakePublisher{}
	headers := amqp091.Table{retriesHeader: int32(2)}
	msg := amqp091.Delivery{Acknowledger: &fakeAcknowledger{}, Headers: headers}

	handleProcessingError(context.Background(), pub, msg, DeleteQueue, errors.New("boom"))

	if headers[retriesHeader] != int32(2) {
		t.Fatalf("delivery headers modified: %v", headers)
	}
	if got := retryCount(pub.msgs[0].msg.Headers); got != 3 {
		t.Fatalf("retries = %d, want 3", got)
	}
}

func TestHandleProcessingErrorRequeuesOnPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	ack := &fakeAcknowledger{}
	msg := amqp091.Delivery{Acknowledger: ack}

	handleProcessingError(context.Background(), pub, msg, ExtractQueue, errors.New("boom"))

	if ack.acks != 0 || ack.nacks != 1 || !ack.requeue {
		t.Fatalf("acks = %d, nacks = %d, requeue = %v", ack.acks, ack.nacks, ack.requeue)
	}
}

func TestAnswerReplies(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &fakeOracle{answer: "答案"})
	w := NewWorker(NewWorkerParams{Handler: env.handler})

	tests := []struct {
		name      string
		body      string
		wantError bool
	}{
		{"answered", `{"question":"定投是什么？","mode":"rag_only"}`, false},
		{"invalid", `{"mode":"rag_only"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			msg := amqp091.Delivery{ReplyTo: "amq.rabbitmq.reply-to", CorrelationId: "c1", Body: []byte(tt.body)}
			if err := w.answer(ctx, pub, msg); err != nil {
				t.Fatalf("answer() error = %v", err)
			}
			if len(pub.msgs) != 1 {
				t.Fatalf("published = %d", len(pub.msgs))
			}
			out := pub.msgs[0]
			if out.key != "amq.rabbitmq.reply-to" || out.msg.CorrelationId != "c1" {
				t.Fatalf("reply routed to %s with correlation %q", out.key, out.msg.CorrelationId)
			}

			var body map[string]any
			if err := json.Unmarshal(out.msg.Body, &body); err != nil {
				t.Fatalf("reply body %s: %v", out.msg.Body, err)
			}
			_, hasError := body["error"]
			if hasError != tt.wantError {
				t.Fatalf("reply body = %v", body)
			}
		})
	}

	// empty store: a fixed answer without passages
	pub := &fakePublisher{}
	msg := amqp091.Delivery{ReplyTo: "r", Body: []byte(`{"question":"定投是什么？","mode":"rag_only"}`)}
	if err := w.answer(ctx, pub, msg); err != nil {
		t.Fatal(err)
	}
	var reply QueryReply
	if err := json.Unmarshal(pub.msgs[0].msg.Body, &reply); err != nil {
		t.Fatal(err)
	}
	if !reply.Answer.NoInformation || reply.Answer.Text == "答案" {
		t.Fatalf("answer on empty store = %+v", reply.Answer)
	}
}

func TestAnswerWithoutReplyTo(t *testing.T) {
	env := newTestEnv(t, &fakeOracle{})
	w := NewWorker(NewWorkerParams{Handler: env.handler})
	pub := &fakePublisher{}

	err := w.answer(context.Background(), pub, amqp091.Delivery{Body: []byte(`{}`)})
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("answer() error = %v, want ErrInvalidMessage", err)
	}
	if len(pub.msgs) != 0 {
		t.Fatalf("published %d replies", len(pub.msgs))
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(time.Hour + 2*time.Minute + 3*time.Second); got != "01:02:03" {
		t.Fatalf("formatDuration() = %q", got)
	}
}
