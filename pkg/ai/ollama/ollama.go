package ollama

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kgqa/pkg/ai"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDimensions     = 1024
	defaultRequestTimeout = 5 * time.Minute
	defaultTokenEncoder   = "o200k_base"
	// Ollama's default context window; prompts above it get num_ctx raised.
	defaultContextTokens = 4096
	replyTokenReserve    = 1024
)

// GraphOllamaClient implements the ai.GraphAIClient interface using Ollama as the backend.
// It supports text generation and embeddings via locally-hosted models.
type GraphOllamaClient struct {
	embeddingModel   string
	descriptionModel string
	dimensions       int
	timeout          time.Duration

	reqLock *semaphore.Weighted

	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	EmbeddingModel   string
	DescriptionModel string

	BaseURL string
	ApiKey  string

	Dimensions            int
	MaxConcurrentRequests int64
	RequestTimeout        time.Duration
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient creates a new Ollama-based AI client with the specified configuration.
// It connects to the Ollama server at the given BaseURL (or the default if empty).
//
// Example:
//
//	client, err := ollama.NewGraphOllamaClient(ollama.NewGraphOllamaClientParams{
//		EmbeddingModel:        "bge-m3",
//		DescriptionModel:      "qwen2.5:14b",
//		BaseURL:               "http://localhost:11434",
//		MaxConcurrentRequests: 4,
//	})
func NewGraphOllamaClient(
	params NewGraphOllamaClientParams,
) (*GraphOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	transport := http.DefaultTransport
	if params.ApiKey != "" {
		transport = &headerTransport{
			headers: map[string]string{
				"Authorization": "Bearer " + params.ApiKey,
			},
			rt: http.DefaultTransport,
		}
	}
	httpClient := &http.Client{Transport: transport}

	concurrent := params.MaxConcurrentRequests
	if concurrent <= 0 {
		concurrent = 1
	}
	dim := params.Dimensions
	if dim <= 0 {
		dim = defaultDimensions
	}
	timeout := params.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &GraphOllamaClient{
		embeddingModel:   params.EmbeddingModel,
		descriptionModel: params.DescriptionModel,
		dimensions:       dim,
		timeout:          timeout,

		reqLock: semaphore.NewWeighted(concurrent),

		Client: api.NewClient(u, httpClient),
	}, nil
}

// countTokens uses the tiktoken encoding when it can be loaded and falls
// back to one token per rune, which overestimates for latin text.
func (c *GraphOllamaClient) countTokens(prompt string) int {
	c.encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(defaultTokenEncoder)
		if err == nil {
			c.encoder = enc
		}
	})
	if c.encoder == nil {
		return len([]rune(prompt))
	}
	return len(c.encoder.Encode(prompt, nil, nil))
}

// contextWindow returns the num_ctx to request for prompt, or 0 when the
// model default is large enough.
func (c *GraphOllamaClient) contextWindow(prompt string) int {
	tokens := c.countTokens(prompt) + replyTokenReserve
	if tokens <= defaultContextTokens {
		return 0
	}
	return tokens
}
