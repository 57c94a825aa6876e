package embed

import (
	"context"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxInputRunes caps embedding input length. Longer content is
	// truncated silently before submission, so only the leading portion of
	// very long records gets embedded. Known lossy policy, not a bug.
	DefaultMaxInputRunes = 8000

	// DefaultMaxRetries bounds retry attempts after the first call.
	DefaultMaxRetries = 3

	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultBatchWorkers   = 8
)

// modelDims maps supported embedding models to their fixed dimensionality.
var modelDims = map[string]int{
	string(openai.AdaEmbeddingV2):  1536,
	string(openai.SmallEmbedding3): 1536,
	string(openai.LargeEmbedding3): 3072,
}

// OpenAIConfig configures the OpenAI embedding adapter.
type OpenAIConfig struct {
	APIKey            string
	Model             string
	MaxInputRunes     int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RequestsPerSecond float64 // 0 disables rate limiting
}

// OpenAI computes embeddings through the OpenAI API. A single instance pins
// one model, so every vector it produces is dimensionally consistent.
type OpenAI struct {
	client        *openai.Client
	model         string
	dim           int
	maxInputRunes int
	maxRetries    int
	baseDelay     time.Duration
	limiter       *rate.Limiter
}

// NewOpenAI creates an OpenAI embedding adapter.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embed: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	dim, ok := modelDims[cfg.Model]
	if !ok {
		return nil, errors.New("embed: unsupported embedding model " + cfg.Model)
	}
	if cfg.MaxInputRunes <= 0 {
		cfg.MaxInputRunes = DefaultMaxInputRunes
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &OpenAI{
		client:        openai.NewClient(cfg.APIKey),
		model:         cfg.Model,
		dim:           dim,
		maxInputRunes: cfg.MaxInputRunes,
		maxRetries:    cfg.MaxRetries,
		baseDelay:     cfg.RetryBaseDelay,
		limiter:       limiter,
	}, nil
}

// Embed converts text into a fixed-length vector. Blank input returns
// ErrEmptyText; transient provider failures are retried with exponential
// backoff before the final cause is wrapped in *Error.
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	text = Truncate(text, e.maxInputRunes)

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			delay := e.baseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, &Error{Model: e.model, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, &Error{Model: e.model, Err: err}
			}
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: []string{text},
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(resp.Data) == 0 {
			lastErr = errors.New("no embedding data in response")
			continue
		}
		return resp.Data[0].Embedding, nil
	}

	return nil, &Error{Model: e.model, Err: lastErr}
}

// EmbedBatch embeds several texts with bounded concurrency. The first failure
// cancels the remaining calls.
func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultBatchWorkers)
	for i, text := range texts {
		g.Go(func() error {
			vector, err := e.Embed(gctx, text)
			if err != nil {
				return err
			}
			vectors[i] = vector
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Dim returns the vector dimensionality of the configured model.
func (e *OpenAI) Dim() int {
	return e.dim
}

// Model returns the model identity, recorded so stores can guard against
// mixing vectors from different models.
func (e *OpenAI) Model() string {
	return e.model
}

// Truncate deterministically cuts text to at most maxRunes runes.
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes])
}
