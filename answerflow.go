// Package answerflow provides a top-level convenience entry point for
// assembling the question-answer engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/answerflow"
//
//	engine, err := answerflow.New(router, embedder, store, generator)
//	engine, err := answerflow.New(router, embedder, store, generator,
//	    answerflow.WithLogger(logger),
//	    answerflow.WithCheckpoints(writer),
//	)
//
// Callers bring their own service implementations (see the rag package
// interfaces); everything else gets sane defaults. The cmd/answerflow
// binary wires the same pieces from configuration instead.
package answerflow

import (
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/cache"
	"github.com/BaSui01/answerflow/checkpoint"
	"github.com/BaSui01/answerflow/rag"
	"github.com/BaSui01/answerflow/workflow"
)

// Option configures the engine created by [New].
type Option func(*builder)

type builder struct {
	logger      *zap.Logger
	config      workflow.Config
	checkpoints *checkpoint.Writer
	tokenizer   rag.Tokenizer
	cacheOff    bool
	rerankOff   bool
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *builder) { b.logger = logger }
}

// WithConfig overrides the workflow configuration.
func WithConfig(config workflow.Config) Option {
	return func(b *builder) { b.config = config }
}

// WithCheckpoints enables asynchronous state checkpointing.
func WithCheckpoints(writer *checkpoint.Writer) Option {
	return func(b *builder) { b.checkpoints = writer }
}

// WithTokenizer sets the tokenizer used for the prompt context budget.
// Defaults to [rag.NewTiktokenTokenizer] with the cl100k_base encoding.
func WithTokenizer(tokenizer rag.Tokenizer) Option {
	return func(b *builder) { b.tokenizer = tokenizer }
}

// WithoutConversationCache disables the conversation-history cache.
func WithoutConversationCache() Option {
	return func(b *builder) { b.cacheOff = true }
}

// WithoutReranker disables LLM reranking of retrieved passages.
func WithoutReranker() Option {
	return func(b *builder) { b.rerankOff = true }
}

// New assembles a [workflow.Engine] from the four required services.
func New(
	router rag.CategoryRouter,
	embedder rag.EmbeddingService,
	store rag.VectorStore,
	generator rag.AnswerGenerator,
	opts ...Option,
) (*workflow.Engine, error) {
	if router == nil || embedder == nil || store == nil || generator == nil {
		return nil, errors.New("answerflow: router, embedder, store and generator are all required")
	}

	b := &builder{
		logger: zap.NewNop(),
		config: workflow.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.tokenizer == nil {
		b.tokenizer = rag.NewTiktokenTokenizer("cl100k_base", b.logger)
	}

	deps := workflow.Dependencies{
		Router:      router,
		Embedder:    embedder,
		Store:       store,
		Generator:   generator,
		Retriever:   rag.NewHybridRetriever(rag.DefaultHybridConfig(), embedder, store, b.logger),
		Evaluator:   rag.NewQualityEvaluator(rag.DefaultQualityConfig(), b.logger),
		Checkpoints: b.checkpoints,
		Tokenizer:   b.tokenizer,
	}
	if !b.rerankOff {
		deps.Reranker = rag.NewReranker(generator, rag.DefaultRerankConfig(), b.logger)
	}
	if !b.cacheOff {
		deps.ConvCache = cache.NewConversationCache(cache.DefaultConfig(), b.logger)
	}

	return workflow.NewEngine(b.config, deps, b.logger), nil
}
