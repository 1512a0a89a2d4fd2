package graph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OFFIS-RIT/kgqa/pkg/ai"
	"github.com/OFFIS-RIT/kgqa/pkg/common"
)

var (
	chunkMarker       = regexp.MustCompile(`chunk-(\d+)`)
	topicPromptPrefix = strings.SplitN(ai.DocumentTopicPrompt, "%s", 2)[0]
)

// fakeOracle answers extraction prompts for texts containing "chunk-N" with
// the entities 实体N and 实体N+1 joined by 包含. Topic prompts and prompts
// without a marker get topic.
type fakeOracle struct {
	delay time.Duration
	topic string
	// fail returns an error for the given chunk and attempt (1-based).
	fail func(chunk, attempt int) error
	// after receives the number of successful calls so far.
	after func(call int)

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu       sync.Mutex
	attempts map[int]int
	prompts  map[int]string
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		topic:    "讲投资的文档",
		attempts: make(map[int]int),
		prompts:  make(map[int]string),
	}
}

func chunkAnswer(i int) string {
	return fmt.Sprintf("```json\n{\"entities\":[{\"name\":\"实体%d\",\"type\":\"Concept\"},{\"name\":\"实体%d\",\"type\":\"Concept\"}],"+
		"\"relations\":[{\"source\":\"实体%d\",\"target\":\"实体%d\",\"relation\":\"包含\"}]}\n```", i, i+1, i, i+1)
}

func (f *fakeOracle) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	m := chunkMarker.FindStringSubmatch(prompt)
	if m == nil || strings.HasPrefix(prompt, topicPromptPrefix) {
		return f.topic, nil
	}
	idx, _ := strconv.Atoi(m[1])

	f.mu.Lock()
	f.attempts[idx]++
	attempt := f.attempts[idx]
	f.prompts[idx] = prompt
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(idx, attempt); err != nil {
			return "", err
		}
	}
	call := int(f.calls.Add(1))
	if f.after != nil {
		f.after(call)
	}
	return chunkAnswer(idx), nil
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

func (f *fakeOracle) attemptsFor(chunk int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[chunk]
}

func (f *fakeOracle) promptFor(chunk int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[chunk]
}

func fakeEmbedding(s string) []float32 {
	v := make([]float32, 4)
	for i, r := range s {
		v[i%4] += float32(r % 7)
	}
	return v
}

func markedChunks(n int) []common.Chunk {
	chunks := make([]common.Chunk, n)
	for i := range chunks {
		text := fmt.Sprintf("这是第%d段。chunk-%d", i, i)
		chunks[i] = common.Chunk{Index: i, Text: text, Length: len([]rune(text))}
	}
	return chunks
}

// memCheckpoints is a checkpoint.Store that records every Put.
type memCheckpoints struct {
	mu      sync.Mutex
	data    map[string]map[int]common.ExtractionResult
	puts    []int
	cleared []string
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{data: make(map[string]map[int]common.ExtractionResult)}
}

func (m *memCheckpoints) Put(ctx context.Context, docID string, index int, result common.ExtractionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[docID] == nil {
		m.data[docID] = make(map[int]common.ExtractionResult)
	}
	m.data[docID][index] = result
	m.puts = append(m.puts, index)
	return nil
}

func (m *memCheckpoints) GetAll(ctx context.Context, docID string, count int) ([]*common.ExtractionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*common.ExtractionResult, count)
	for i, r := range m.data[docID] {
		if i < count {
			out[i] = &r
		}
	}
	return out, nil
}

func (m *memCheckpoints) Clear(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, docID)
	m.cleared = append(m.cleared, docID)
	return nil
}
