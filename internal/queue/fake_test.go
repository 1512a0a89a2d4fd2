package queue

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/kgqa/pkg/ai"

	"github.com/rabbitmq/amqp091-go"
)

var topicPromptPrefix = strings.SplitN(ai.DocumentTopicPrompt, "%s", 2)[0]

const extraction = `{"entities":[{"name":"李笑来","type":"Person"},{"name":"定投","type":"Strategy"}],` +
	`"relations":[{"source":"李笑来","target":"定投","relation":"主张"}]}`

// fakeOracle extracts the same two entities from every chunk and answers
// questions with answer.
type fakeOracle struct {
	answer string
	// block delays extraction until it is closed or ctx ends.
	block chan struct{}
}

func (f *fakeOracle) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	o := ai.ApplyOptions(ai.GenerateOptions{}, opts...)
	if len(o.SystemPrompts) > 0 && o.SystemPrompts[0] == ai.AnswerSystemPrompt {
		return f.answer, nil
	}
	if strings.HasPrefix(prompt, topicPromptPrefix) {
		return "讲定投的文档", nil
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return extraction, nil
}

func (f *fakeOracle) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	return errors.New("not supported")
}

func (f *fakeOracle) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return fakeEmbedding(string(input)), nil
}

func (f *fakeOracle) GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = fakeEmbedding(in)
	}
	return out, nil
}

func (f *fakeOracle) ResetMetrics() {}

func (f *fakeOracle) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func fakeEmbedding(s string) []float32 {
	v := make([]float32, 4)
	for i, r := range s {
		v[i%4] += float32(r%7) + 1
	}
	return v
}

type published struct {
	key string
	msg amqp091.Publishing
}

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	msgs []published
}

func (p *fakePublisher) PublishWithContext(
	ctx context.Context,
	exchange, key string,
	mandatory, immediate bool,
	msg amqp091.Publishing,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{key: key, msg: msg})
	return nil
}

type fakeAcknowledger struct {
	acks    int
	nacks   int
	requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}
