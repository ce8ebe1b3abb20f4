package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/language"

	"github.com/floringheorghiu/multilingual-rag/internal/retry"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

const (
	DefaultThreshold   = 0.5
	DefaultSampleRunes = 1000
)

// Provider answers language detection requests. The result slice must be
// aligned with texts.
type Provider interface {
	Detect(ctx context.Context, texts []string) ([]types.Detection, error)
	Name() string
}

// Config configures a Detector.
type Config struct {
	Threshold          float64
	SupportedLanguages []string // empty allows every language the provider can translate
	SampleRunes        int
}

// Detector classifies text into a language and rejects low-confidence answers.
type Detector struct {
	provider Provider
	policy   *retry.Policy
	cfg      Config
	allowed  map[string]bool
	logger   *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// WithRetryPolicy sets the retry policy used for provider calls.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(d *Detector) { d.policy = p }
}

// New creates a Detector over provider.
func New(provider Provider, cfg Config, opts ...Option) *Detector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.SampleRunes <= 0 {
		cfg.SampleRunes = DefaultSampleRunes
	}
	d := &Detector{
		provider: provider,
		policy:   retry.New(retry.DefaultConfig()),
		cfg:      cfg,
		logger:   slog.Default(),
	}
	if len(cfg.SupportedLanguages) > 0 {
		d.allowed = make(map[string]bool, len(cfg.SupportedLanguages))
		for _, l := range cfg.SupportedLanguages {
			d.allowed[NormalizeCode(l)] = true
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Threshold returns the minimum accepted confidence.
func (d *Detector) Threshold() float64 {
	return d.cfg.Threshold
}

// Provider returns the provider name.
func (d *Detector) Provider() string {
	return d.provider.Name()
}

// Detect classifies a single text. When the confidence is below the
// threshold the result is returned together with a low-confidence error, so
// callers can still inspect what the provider answered.
func (d *Detector) Detect(ctx context.Context, text string) (types.LanguageResult, error) {
	if strings.TrimSpace(text) == "" {
		return types.LanguageResult{}, types.NewError(types.KindValidation, types.CodeEmptyText, "text is empty")
	}

	detections, err := retry.Do(ctx, d.policy, func(ctx context.Context) ([]types.Detection, error) {
		return d.provider.Detect(ctx, []string{Sample(text, d.cfg.SampleRunes)})
	})
	if err != nil {
		return types.LanguageResult{}, fmt.Errorf("language detection failed: %w", err)
	}
	if len(detections) == 0 {
		return types.LanguageResult{}, types.NewError(types.KindServerError, types.CodeUnknown, "provider returned no detection")
	}

	return d.accept(detections[0])
}

// DetectBatch classifies texts in one provider call. Results keep the index
// of the text they belong to; empty texts are rejected without being sent.
func (d *Detector) DetectBatch(ctx context.Context, texts []string) types.BatchResult[types.LanguageResult] {
	var result types.BatchResult[types.LanguageResult]

	valid := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			result.Skip(types.NewItemError(i, "", types.NewError(types.KindValidation, types.CodeEmptyText, "text is empty")))
			continue
		}
		valid = append(valid, Sample(text, d.cfg.SampleRunes))
		positions = append(positions, i)
	}
	if len(valid) == 0 {
		return result
	}

	detections, err := retry.Do(ctx, d.policy, func(ctx context.Context) ([]types.Detection, error) {
		return d.provider.Detect(ctx, valid)
	})
	if err != nil {
		d.logger.Warn("batch language detection failed", "provider", d.provider.Name(), "items", len(valid), "error", err)
		for _, idx := range positions {
			result.Fail(types.NewItemError(idx, "", err))
		}
		return result
	}

	for j, idx := range positions {
		if j >= len(detections) {
			result.Fail(types.NewItemError(idx, "", types.NewError(types.KindServerError, types.CodeUnknown, "provider returned no detection")))
			continue
		}
		lr, err := d.accept(detections[j])
		if err != nil {
			result.Fail(types.NewItemError(idx, "", err))
			continue
		}
		result.Add(idx, lr)
	}
	return result
}

func (d *Detector) accept(det types.Detection) (types.LanguageResult, error) {
	lang := NormalizeCode(det.Language)
	lr := types.LanguageResult{
		Language:   lang,
		Confidence: clamp(det.Score),
		Supported:  det.TranslationSupported && (d.allowed == nil || InSet(d.allowed, lang)),
	}
	if lang == "" || lr.Confidence < d.cfg.Threshold {
		return lr, &types.Error{
			Kind:    types.KindLowConfidence,
			Code:    types.CodeLowConfidence,
			Message: fmt.Sprintf("confidence %.2f for %q below threshold %.2f", lr.Confidence, lang, d.cfg.Threshold),
		}
	}
	return lr, nil
}

// IsLowConfidence reports whether err rejected a detection on confidence.
func IsLowConfidence(err error) bool {
	var e *types.Error
	return errors.As(err, &e) && e.Kind == types.KindLowConfidence
}

// NormalizeCode canonicalises a BCP 47 tag to its base language plus an
// explicit script subtag ("EN-us" -> "en", "zh-hant-TW" -> "zh-Hant").
// Regions are dropped. Unparseable codes are lower-cased and returned as is.
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return strings.ToLower(code)
	}
	base, _ := tag.Base()
	if script, conf := tag.Script(); conf == language.Exact {
		return base.String() + "-" + script.String()
	}
	return base.String()
}

// BaseCode returns only the base language of code ("zh-Hans" -> "zh").
func BaseCode(code string) string {
	code = NormalizeCode(code)
	if i := strings.IndexByte(code, '-'); i > 0 {
		return code[:i]
	}
	return code
}

// InSet reports whether code, or its base language, is a key of set.
func InSet(set map[string]bool, code string) bool {
	code = NormalizeCode(code)
	return set[code] || set[BaseCode(code)]
}

// Sample truncates text to at most n runes, cutting at a word boundary when
// one exists.
func Sample(text string, n int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if n <= 0 || len(runes) <= n {
		return text
	}
	cut := n
	for i := n; i > n/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return string(runes[:cut])
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
