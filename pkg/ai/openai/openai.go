package openai

import (
	"sync"
	"time"

	"github.com/OFFIS-RIT/kgqa/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDimensions      = 1536
	defaultEmbedBatchSize  = 64
	defaultEmbedParallel   = 4
	defaultRequestTimeout  = 5 * time.Minute
	defaultChatTemperature = 0.3
)

// GraphOpenAIClient talks to any OpenAI compatible endpoint. Chat and
// embedding traffic may go to different hosts with different keys.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	embeddingModel   string
	descriptionModel string
	dimensions       int
	batchSize        int
	timeout          time.Duration

	embeddingLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for creating
// a new GraphOpenAIClient.
//
// DescriptionModel is the default chat model; callers that need a different
// model for extraction pass ai.WithModel per request.
// Dimensions fixes the embedding width so it matches the vector index.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel   string
	DescriptionModel string

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	Dimensions     int
	EmbedBatchSize int
	ParallelEmbeds int
	RequestTimeout time.Duration
}

// NewGraphOpenAIClient creates and returns a new GraphOpenAIClient configured with
// the provided parameters.
//
// Example:
//
//	client := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		EmbeddingModel:   "text-embedding-3-small",
//		DescriptionModel: "gpt-4o-mini",
//		EmbeddingKey:     os.Getenv("OPENAI_API_KEY"),
//		ChatKey:          os.Getenv("OPENAI_API_KEY"),
//		Dimensions:       1536,
//	})
func NewGraphOpenAIClient(
	params NewGraphOpenAIClientParams,
) *GraphOpenAIClient {
	dim := params.Dimensions
	if dim <= 0 {
		dim = defaultDimensions
	}
	batch := params.EmbedBatchSize
	if batch <= 0 {
		batch = defaultEmbedBatchSize
	}
	parallel := params.ParallelEmbeds
	if parallel <= 0 {
		parallel = defaultEmbedParallel
	}
	timeout := params.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &GraphOpenAIClient{
		embeddingModel:   params.EmbeddingModel,
		descriptionModel: params.DescriptionModel,
		dimensions:       dim,
		batchSize:        batch,
		timeout:          timeout,

		embeddingLock: semaphore.NewWeighted(int64(parallel)),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}
