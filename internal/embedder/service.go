package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/floringheorghiu/multilingual-rag/internal/retry"
	"github.com/floringheorghiu/multilingual-rag/internal/tokens"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

// Progress stages reported by EmbedBatch
const (
	StagePreparing = "preparing"
	StageEmbedding = "embedding"
	StageCompleted = "completed"
)

const (
	DefaultBatchSize   = 16
	DefaultMaxChars    = 32000
	DefaultConcurrency = 4
)

// Config configures a Service.
type Config struct {
	BatchSize       int // provider-sized sub-batch
	MaxChars        int
	TokensPerMinute int // 0 disables the token limiter
	Window          time.Duration
	Concurrency     int // sub-batches in flight
	CacheSize       int // 0 disables the cache
}

// Service embeds texts through a Provider with validation, caching, a token
// budget and bounded sub-batch concurrency.
type Service struct {
	provider Provider
	cfg      Config
	cache    *Cache
	limiter  *TokenLimiter
	counter  tokens.Counter
	policy   *retry.Policy
	pool     *ants.Pool
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRetryPolicy sets the retry policy for provider calls.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithCounter sets the token counter used for budget reservations.
func WithCounter(c tokens.Counter) Option {
	return func(s *Service) { s.counter = c }
}

// WithLimiter replaces the limiter built from Config.TokensPerMinute.
func WithLimiter(l *TokenLimiter) Option {
	return func(s *Service) { s.limiter = l }
}

// New creates a Service. Close releases its worker pool.
func New(provider Provider, cfg Config, opts ...Option) (*Service, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	s := &Service{
		provider: provider,
		cfg:      cfg,
		limiter:  NewTokenLimiter(cfg.TokensPerMinute, cfg.Window),
		counter:  tokens.Estimate{},
		policy:   retry.New(retry.DefaultConfig()),
		logger:   slog.Default(),
	}
	if cfg.CacheSize > 0 {
		s.cache = NewCache(cfg.CacheSize)
	}
	for _, opt := range opts {
		opt(s)
	}
	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}
	s.pool = pool
	return s, nil
}

// Embed embeds a single text.
func (s *Service) Embed(ctx context.Context, text, id string) (*EmbeddingResult, error) {
	if err := ValidateText(text, s.cfg.MaxChars); err != nil {
		return nil, err
	}
	key := CacheKey(s.provider.Model(), text)
	if v, ok := s.cache.Get(key); ok {
		return &EmbeddingResult{ID: id, Vector: v, Model: s.provider.Model(), Cached: true}, nil
	}
	resp, err := s.call(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	v := resp.Vectors[0]
	if err := s.checkDimension(v); err != nil {
		return nil, err
	}
	s.cache.Set(key, v)
	return &EmbeddingResult{ID: id, Vector: v, Model: resp.Model}, nil
}

// EmbedBatch validates reqs, serves cached vectors, and sends the rest to the
// provider in sub-batches of batchSize. A failed sub-batch fails only its own
// members. Progress always starts with StagePreparing and ends with
// StageCompleted.
func (s *Service) EmbedBatch(ctx context.Context, reqs []Request, batchSize int, onProgress types.ProgressFunc) *types.BatchResult[EmbeddingResult] {
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}
	result := &types.BatchResult[EmbeddingResult]{}
	prog := &progress{fn: onProgress, total: len(reqs)}
	prog.emit(StagePreparing, 0)

	model := s.provider.Model()
	pending := make([]int, 0, len(reqs))
	for i, r := range reqs {
		if err := ValidateText(r.Text, s.cfg.MaxChars); err != nil {
			result.Skip(types.NewItemError(i, r.ID, err))
			continue
		}
		if v, ok := s.cache.Get(CacheKey(model, r.Text)); ok {
			result.Add(i, EmbeddingResult{ID: r.ID, Index: i, Vector: v, Model: model, Cached: true})
			continue
		}
		pending = append(pending, i)
	}
	prog.advance(len(reqs) - len(pending))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for start := 0; start < len(pending); start += batchSize {
		members := pending[start:min(start+batchSize, len(pending))]
		task := func() {
			defer wg.Done()
			s.runSubBatch(ctx, reqs, members, result, &mu)
			prog.advance(len(members))
		}
		wg.Add(1)
		if err := s.pool.Submit(task); err != nil {
			wg.Done()
			mu.Lock()
			for _, i := range members {
				result.Fail(types.NewItemError(i, reqs[i].ID, fmt.Errorf("submit sub-batch: %w", err)))
			}
			mu.Unlock()
			prog.advance(len(members))
		}
	}
	wg.Wait()

	sortBatch(result)
	prog.emit(StageCompleted, len(reqs))
	s.logger.Debug("embedding batch complete",
		"total", len(reqs), "processed", result.Processed, "failed", result.Failed, "skipped", result.Skipped)
	return result
}

func (s *Service) runSubBatch(ctx context.Context, reqs []Request, members []int, result *types.BatchResult[EmbeddingResult], mu *sync.Mutex) {
	texts := make([]string, len(members))
	for j, i := range members {
		texts[j] = reqs[i].Text
	}

	resp, err := s.call(ctx, texts)

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		s.logger.Warn("embedding sub-batch failed", "size", len(members), "error", err)
		for _, i := range members {
			result.Fail(types.NewItemError(i, reqs[i].ID, err))
		}
		return
	}
	for j, i := range members {
		v := resp.Vectors[j]
		if err := s.checkDimension(v); err != nil {
			result.Fail(types.NewItemError(i, reqs[i].ID, err))
			continue
		}
		s.cache.Set(CacheKey(s.provider.Model(), texts[j]), v)
		result.Add(i, EmbeddingResult{ID: reqs[i].ID, Index: i, Vector: v, Model: resp.Model})
	}
}

// call invokes the provider under the retry policy. Every attempt reserves
// its own token budget, since a retried request is sent and billed again;
// successful attempts are reconciled with the usage the provider reports.
func (s *Service) call(ctx context.Context, texts []string) (*ProviderResponse, error) {
	estimate := 0
	for _, t := range texts {
		estimate += s.counter.Count(t)
	}
	resp, err := retry.Do(ctx, s.policy, func(ctx context.Context) (*ProviderResponse, error) {
		res, err := s.limiter.Reserve(ctx, estimate)
		if err != nil {
			return nil, err
		}
		resp, err := s.provider.CreateEmbeddings(ctx, texts)
		if err != nil {
			return nil, err
		}
		s.limiter.Reconcile(res, resp.TotalTokens)
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Vectors) != len(texts) {
		return nil, types.NewError(types.KindServerError, types.CodeUnknown,
			fmt.Sprintf("%s: got %d vectors for %d texts", ErrEmptyResponse, len(resp.Vectors), len(texts)))
	}
	return resp, nil
}

func (s *Service) checkDimension(v []float32) error {
	if want := s.provider.Dimension(); want > 0 && len(v) != want {
		return types.WrapError(types.KindUnknown, types.CodeUnknown,
			fmt.Errorf("%w: got %d, want %d", types.ErrDimensionMismatch, len(v), want))
	}
	return nil
}

// Limiter returns the token limiter.
func (s *Service) Limiter() *TokenLimiter {
	return s.limiter
}

func (s *Service) Dimension() int {
	return s.provider.Dimension()
}

func (s *Service) Provider() string {
	return s.provider.Name()
}

func (s *Service) Model() string {
	return s.provider.Model()
}

// Close releases the worker pool and the provider.
func (s *Service) Close() error {
	s.pool.Release()
	return s.provider.Close()
}

// progress serializes callbacks so processed counts never go backwards.
type progress struct {
	mu        sync.Mutex
	fn        types.ProgressFunc
	total     int
	processed int
}

func (p *progress) emit(stage string, processed int) {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = max(p.processed, processed)
	p.fn(types.Progress{Stage: stage, Processed: p.processed, Total: p.total})
}

func (p *progress) advance(n int) {
	if p.fn == nil || n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed += n
	p.fn(types.Progress{Stage: StageEmbedding, Processed: p.processed, Total: p.total})
}

// sortBatch orders results and errors by input index.
func sortBatch(b *types.BatchResult[EmbeddingResult]) {
	sort.Sort(byIndex{b})
	sort.SliceStable(b.Errors, func(i, j int) bool { return b.Errors[i].Index < b.Errors[j].Index })
}

type byIndex struct {
	b *types.BatchResult[EmbeddingResult]
}

func (s byIndex) Len() int           { return len(s.b.Results) }
func (s byIndex) Less(i, j int) bool { return s.b.Indices[i] < s.b.Indices[j] }
func (s byIndex) Swap(i, j int) {
	s.b.Results[i], s.b.Results[j] = s.b.Results[j], s.b.Results[i]
	s.b.Indices[i], s.b.Indices[j] = s.b.Indices[j], s.b.Indices[i]
}

var _ Embedder = (*Service)(nil)
