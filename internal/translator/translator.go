package translator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/floringheorghiu/multilingual-rag/internal/detector"
	"github.com/floringheorghiu/multilingual-rag/internal/retry"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

const (
	DefaultBatchSize          = 25
	DefaultMaxCharsPerRequest = 5000
)

// Provider translates a batch of texts. The result must be aligned with texts.
type Provider interface {
	Translate(ctx context.Context, texts []string, from, to string) ([]string, error)
}

// Config configures a Translator.
type Config struct {
	BatchSize          int
	MaxCharsPerRequest int
	SupportedLanguages []string
}

// Translator converts text between languages in batches.
type Translator struct {
	provider  Provider
	policy    *retry.Policy
	cfg       Config
	supported map[string]bool
	logger    *slog.Logger
}

// Option configures a Translator.
type Option func(*Translator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) { t.logger = l }
}

// WithRetryPolicy sets the retry policy for provider calls.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(t *Translator) { t.policy = p }
}

// New creates a Translator.
func New(provider Provider, cfg Config, opts ...Option) *Translator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxCharsPerRequest <= 0 {
		cfg.MaxCharsPerRequest = DefaultMaxCharsPerRequest
	}
	t := &Translator{
		provider: provider,
		policy:   retry.New(retry.DefaultConfig()),
		cfg:      cfg,
		logger:   slog.Default(),
	}
	if len(cfg.SupportedLanguages) > 0 {
		t.supported = make(map[string]bool, len(cfg.SupportedLanguages))
		for _, l := range cfg.SupportedLanguages {
			t.supported[detector.NormalizeCode(l)] = true
		}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Supports reports whether lang is in the supported set.
func (t *Translator) Supports(lang string) bool {
	return t.supported == nil || detector.InSet(t.supported, lang)
}

func (t *Translator) validatePair(from, to string) (string, string, error) {
	from, to = detector.NormalizeCode(from), detector.NormalizeCode(to)
	if to == "" {
		return "", "", types.NewError(types.KindValidation, types.CodeUnsupportedLanguage, "target language is required")
	}
	if from != "" && !t.Supports(from) {
		return "", "", types.NewError(types.KindUnsupported, types.CodeUnsupportedLanguage,
			fmt.Sprintf("source language %q is not supported", from))
	}
	if !t.Supports(to) {
		return "", "", types.NewError(types.KindUnsupported, types.CodeUnsupportedLanguage,
			fmt.Sprintf("target language %q is not supported", to))
	}
	if from == to {
		return "", "", types.NewError(types.KindValidation, types.CodeSameLanguage, types.ErrSameLanguage.Error())
	}
	return from, to, nil
}

// Translate translates one text. Texts longer than the per-request limit are
// split at paragraph, sentence or word boundaries and reassembled in order.
func (t *Translator) Translate(ctx context.Context, text, from, to string) (types.TranslationResult, error) {
	from, to, err := t.validatePair(from, to)
	if err != nil {
		return types.TranslationResult{}, err
	}
	if strings.TrimSpace(text) == "" {
		return types.TranslationResult{}, types.NewError(types.KindValidation, types.CodeEmptyText, "text is empty")
	}

	segments := SplitText(text, t.cfg.MaxCharsPerRequest)
	var out strings.Builder
	for start := 0; start < len(segments); start += t.cfg.BatchSize {
		end := min(start+t.cfg.BatchSize, len(segments))
		translated, err := t.callProvider(ctx, segments[start:end], from, to)
		if err != nil {
			return types.TranslationResult{}, fmt.Errorf("translation failed: %w", err)
		}
		for _, s := range translated {
			out.WriteString(s)
		}
	}

	return types.TranslationResult{
		Text:           out.String(),
		SourceLanguage: from,
		TargetLanguage: to,
		Confidence:     1,
	}, nil
}

// TranslateBatch translates texts in provider batches. A batch that exhausts
// its retries fails only its own members; empty texts fail individually
// without being sent.
func (t *Translator) TranslateBatch(ctx context.Context, texts []string, from, to string) types.BatchResult[types.TranslationResult] {
	var result types.BatchResult[types.TranslationResult]

	from, to, err := t.validatePair(from, to)
	if err != nil {
		for i := range texts {
			result.Fail(types.NewItemError(i, "", err))
		}
		return result
	}

	var batch []string
	var positions []int
	flush := func() {
		if len(batch) == 0 {
			return
		}
		translated, err := t.callProvider(ctx, batch, from, to)
		if err != nil {
			t.logger.Warn("translation batch failed",
				"items", len(batch), "kind", types.KindOf(err), "error", err)
			for _, idx := range positions {
				result.Fail(types.NewItemError(idx, "", err))
			}
		} else {
			for j, idx := range positions {
				result.Add(idx, types.TranslationResult{
					Text:           translated[j],
					SourceLanguage: from,
					TargetLanguage: to,
					Confidence:     1,
				})
			}
		}
		batch, positions = nil, nil
	}

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			result.Fail(types.NewItemError(i, "", types.NewError(types.KindValidation, types.CodeEmptyText, "text is empty")))
			continue
		}
		if utf8.RuneCountInString(text) > t.cfg.MaxCharsPerRequest {
			flush()
			tr, err := t.Translate(ctx, text, from, to)
			if err != nil {
				result.Fail(types.NewItemError(i, "", err))
			} else {
				result.Add(i, tr)
			}
			continue
		}
		batch = append(batch, text)
		positions = append(positions, i)
		if len(batch) == t.cfg.BatchSize {
			flush()
		}
	}
	flush()

	t.logger.Debug("translation batch complete",
		"from", from, "to", to, "processed", result.Processed, "failed", result.Failed)
	return result
}

// callProvider sends one batch through the retry policy. The provider error
// is classified once for the whole batch.
func (t *Translator) callProvider(ctx context.Context, texts []string, from, to string) ([]string, error) {
	translated, err := retry.Do(ctx, t.policy, func(ctx context.Context) ([]string, error) {
		return t.provider.Translate(ctx, texts, from, to)
	})
	if err != nil {
		return nil, err
	}
	if len(translated) != len(texts) {
		return nil, types.NewError(types.KindServerError, types.CodeUnknown,
			fmt.Sprintf("provider returned %d translations for %d texts", len(translated), len(texts)))
	}
	return translated, nil
}

// SplitText cuts text into pieces of at most maxRunes runes whose concatenation is
// the original text. Cuts prefer paragraph breaks, then sentence ends, then
// spaces.
func SplitText(text string, maxRunes int) []string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return []string{text}
	}
	var pieces []string
	rest := text
	for utf8.RuneCountInString(rest) > maxRunes {
		window := runePrefix(rest, maxRunes)
		cut := lastBoundary(window)
		if cut <= 0 {
			cut = len(window)
		}
		pieces = append(pieces, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		pieces = append(pieces, rest)
	}
	return pieces
}

// lastBoundary returns the byte offset just after the best cut point in s.
func lastBoundary(s string) int {
	half := len(s) / 2
	if i := strings.LastIndex(s, "\n\n"); i > half {
		return i + 2
	}
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if i := strings.LastIndex(s, sep); i > half {
			return i + len(sep)
		}
	}
	if i := strings.LastIndexByte(s, ' '); i > 0 {
		return i + 1
	}
	return 0
}

func runePrefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
