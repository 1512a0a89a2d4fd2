package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/kgqa/internal/migrations"
	"github.com/OFFIS-RIT/kgqa/internal/queue"
	"github.com/OFFIS-RIT/kgqa/internal/util"
	"github.com/OFFIS-RIT/kgqa/pkg/ai"
	oai "github.com/OFFIS-RIT/kgqa/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/kgqa/pkg/ai/openai"
	"github.com/OFFIS-RIT/kgqa/pkg/checkpoint"
	rcheckpoint "github.com/OFFIS-RIT/kgqa/pkg/checkpoint/redis"
	"github.com/OFFIS-RIT/kgqa/pkg/graph"
	"github.com/OFFIS-RIT/kgqa/pkg/leaselock"
	"github.com/OFFIS-RIT/kgqa/pkg/loader"
	loaderio "github.com/OFFIS-RIT/kgqa/pkg/loader/io"
	loaders3 "github.com/OFFIS-RIT/kgqa/pkg/loader/s3"
	"github.com/OFFIS-RIT/kgqa/pkg/loader/web"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"
	"github.com/OFFIS-RIT/kgqa/pkg/logger/console"
	"github.com/OFFIS-RIT/kgqa/pkg/progress"
	rprogress "github.com/OFFIS-RIT/kgqa/pkg/progress/redis"
	"github.com/OFFIS-RIT/kgqa/pkg/query"
	"github.com/OFFIS-RIT/kgqa/pkg/store"
	"github.com/OFFIS-RIT/kgqa/pkg/store/memory"
	"github.com/OFFIS-RIT/kgqa/pkg/store/neo4j"
	pgxstore "github.com/OFFIS-RIT/kgqa/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	aiClient := newAIClient()

	// Init pgx client and schema
	var pool *pgxpool.Pool
	if dbURL := util.GetEnv("DATABASE_URL"); dbURL != "" {
		if util.GetEnvBool("DATABASE_MIGRATE", true) {
			if err := migrations.Up(dbURL); err != nil {
				logger.Fatal("Failed to migrate database", "err", err)
			}
		}
		p, err := pgxstore.NewPool(ctx, dbURL)
		if err != nil {
			logger.Fatal("Unable to connect to database", "err", err)
		}
		defer p.Close()
		pool = p
	}

	rdb := newRedisClient()
	if rdb != nil {
		defer rdb.Close()
	}

	graphStore, vectorStore := newStores(ctx, pool)
	defer graphStore.Close(context.Background())

	var checkpoints checkpoint.Store
	switch util.GetEnvString("CHECKPOINT_BACKEND", "file") {
	case "redis":
		if rdb == nil {
			logger.Fatal("CHECKPOINT_BACKEND=redis requires REDIS_URL or REDIS_ADDR")
		}
		checkpoints = rcheckpoint.NewStore(rcheckpoint.NewStoreParams{Client: rdb})
	default:
		checkpoints = checkpoint.NewFileStore(util.GetEnvString("CHECKPOINT_DIR", "./data/checkpoints"))
	}

	var tracker progress.Tracker = progress.NewMemoryTracker()
	if rdb != nil {
		tracker = rprogress.NewTracker(rprogress.NewStoreParams{Client: rdb})
	}

	var locks *leaselock.Client
	switch util.GetEnvString("LOCK_BACKEND", "postgres") {
	case "redis":
		if rdb != nil {
			locks = leaselock.NewRedis(rdb)
		}
	case "postgres":
		if pool != nil {
			locks = leaselock.NewPostgres(pool)
		}
	}
	if locks == nil {
		logger.Warn("No lease lock backend configured, documents are not guarded across workers")
	}

	graphClient, err := graph.NewGraphClient(graph.NewGraphClientParams{
		AIClient:           aiClient,
		GraphStore:         graphStore,
		VectorStore:        vectorStore,
		Checkpoints:        checkpoints,
		Progress:           tracker,
		TokenEncoder:       util.GetEnvString("TOKEN_ENCODER", "o200k_base"),
		ChunkSize:          util.GetEnvInt("CHUNK_SIZE", graph.DefaultChunkSize),
		OverlapRatio:       util.GetEnvNumeric("CHUNK_OVERLAP_RATIO", graph.DefaultOverlapRatio),
		ParallelAiRequests: util.GetEnvInt("CONCURRENT_REQUESTS", 5),
		MaxRetries:         util.GetEnvInt("MAX_RETRIES", 3),
		RetryBase:          util.GetEnvMillis("RETRY_BASE_MS", time.Second),
	})
	if err != nil {
		logger.Fatal("Could not create graph client", "err", err)
	}

	retriever, err := query.NewRetriever(query.NewRetrieverParams{
		AIClient:    aiClient,
		GraphStore:  graphStore,
		VectorStore: vectorStore,
		TopK:        util.GetEnvInt("RAG_TOP_K", 5),
		Hops:        util.GetEnvInt("KG_HOPS", 1),
	})
	if err != nil {
		logger.Fatal("Could not create retriever", "err", err)
	}
	engine, err := query.NewEngine(query.NewEngineParams{
		Retriever: retriever,
		AIClient:  aiClient,
		Model:     util.GetEnv("AI_CHAT_ANSWER_MODEL"),
	})
	if err != nil {
		logger.Fatal("Could not create answer engine", "err", err)
	}

	handler, err := queue.NewHandler(queue.NewHandlerParams{
		GraphClient: graphClient,
		Engine:      engine,
		Progress:    tracker,
		Locks:       locks,
		Files:       newFileLoader(ctx),
		Web:         web.NewWebGraphLoader(&http.Client{Timeout: 30 * time.Second}),
		LeaseTTL:    util.GetEnvMillis("LEASE_TTL_MS", 10*time.Minute),
		CancelPoll:  util.GetEnvMillis("CANCEL_POLL_MS", time.Second),
	})
	if err != nil {
		logger.Fatal("Could not create queue handler", "err", err)
	}

	// Init rabbitmq
	conn, err := queue.Init()
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	worker := queue.NewWorker(queue.NewWorkerParams{Conn: conn, Handler: handler, AIClient: aiClient})
	if err := worker.Run(ctx); err != nil {
		logger.Fatal("Worker stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}

func newAIClient() ai.GraphAIClient {
	timeout := util.GetEnvMillis("AI_TIMEOUT_MS", 2*time.Minute)
	dims := util.GetEnvInt("AI_EMBED_DIMENSIONS", 0)

	switch util.GetEnvString("AI_ADAPTER", "openai") {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:   util.GetEnv("AI_EMBED_MODEL"),
			DescriptionModel: util.GetEnv("AI_CHAT_DESCRIBE_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			Dimensions:            dims,
			MaxConcurrentRequests: int64(util.GetEnvInt("CONCURRENT_REQUESTS", 5)),
			RequestTimeout:        timeout,
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		return client
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:   util.GetEnv("AI_EMBED_MODEL"),
			DescriptionModel: util.GetEnv("AI_CHAT_DESCRIBE_MODEL"),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),

			Dimensions:     dims,
			RequestTimeout: timeout,
		})
	}
}

// newRedisClient prefers REDIS_URL and falls back to REDIS_ADDR. It returns
// nil when neither is set.
func newRedisClient() *goredis.Client {
	if u := util.GetEnv("REDIS_URL"); u != "" {
		opts, err := goredis.ParseURL(u)
		if err != nil {
			logger.Fatal("Invalid REDIS_URL", "err", err)
		}
		return goredis.NewClient(opts)
	}
	if addr := util.GetEnv("REDIS_ADDR"); addr != "" {
		return goredis.NewClient(&goredis.Options{
			Addr:     addr,
			Password: util.GetEnv("REDIS_PASSWORD"),
			DB:       util.GetEnvInt("REDIS_DB", 0),
		})
	}
	return nil
}

// newStores picks the graph store from GRAPH_BACKEND. Vectors live in
// Postgres when a pool is configured, in memory otherwise.
func newStores(ctx context.Context, pool *pgxpool.Pool) (store.GraphStore, store.VectorStore) {
	var vectorStore store.VectorStore
	mem := memory.New()
	if pool != nil {
		vectorStore = pgxstore.NewVectorDBStorage(pool)
	} else {
		logger.Warn("DATABASE_URL not set, vectors are kept in memory")
		vectorStore = mem
	}

	switch backend := util.GetEnvString("GRAPH_BACKEND", "neo4j"); backend {
	case "neo4j":
		gs, err := neo4j.NewGraphStore(ctx, neo4j.NewGraphStoreParams{
			URI:      util.GetEnvString("NEO4J_URI", "bolt://localhost:7687"),
			User:     util.GetEnvString("NEO4J_USER", "neo4j"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnv("NEO4J_DATABASE"),
		})
		if err != nil {
			logger.Fatal("Could not connect to Neo4j", "err", err)
		}
		return gs, vectorStore
	case "pgx":
		if pool == nil {
			logger.Fatal("GRAPH_BACKEND=pgx requires DATABASE_URL")
		}
		return pgxstore.NewGraphDBStorage(pool), vectorStore
	case "memory":
		return mem, vectorStore
	default:
		logger.Fatal("Unknown GRAPH_BACKEND", "backend", backend)
		return nil, nil
	}
}

// newFileLoader reads documents from S3 when AWS_BUCKET is set and from
// DOCUMENT_ROOT otherwise.
func newFileLoader(ctx context.Context) loader.GraphFileLoader {
	bucket := util.GetEnv("AWS_BUCKET")
	if bucket == "" {
		return loaderio.NewIOGraphFileLoader(util.GetEnvString("DOCUMENT_ROOT", "./data/documents"))
	}
	l, err := loaders3.NewS3GraphFileLoader(ctx, loaders3.NewS3GraphFileLoaderParams{
		Bucket:    bucket,
		Endpoint:  util.GetEnv("AWS_ENDPOINT"),
		Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
		AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
		SecretKey: util.GetEnv("AWS_SECRET_KEY"),
	})
	if err != nil {
		logger.Fatal("Could not create S3 client", "err", err)
	}
	return l
}
