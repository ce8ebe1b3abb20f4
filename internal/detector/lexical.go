package detector

import (
	"context"
	"strings"
	"unicode"

	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

// stopWords are high-frequency function words per language.
var stopWords = map[string][]string{
	"en": {"the", "and", "is", "are", "was", "were", "of", "to", "in", "that", "it", "with", "for", "this", "have", "has", "not", "be", "by", "from", "which", "you", "they", "will", "would", "an", "or", "at", "hello", "what", "how"},
	"es": {"el", "los", "las", "y", "es", "son", "del", "que", "por", "para", "con", "una", "su", "como", "pero", "muy", "está", "también", "hola", "qué", "cuando", "donde", "porque", "esto"},
	"fr": {"le", "les", "et", "est", "sont", "des", "du", "que", "pour", "avec", "une", "dans", "sur", "pas", "qui", "nous", "vous", "ce", "cette", "bonjour", "mais", "aussi", "très", "être"},
	"de": {"der", "die", "das", "und", "ist", "sind", "nicht", "mit", "für", "auf", "ein", "eine", "dem", "den", "zu", "von", "auch", "wir", "sie", "ich", "hallo", "wie", "oder", "sehr"},
	"it": {"il", "gli", "della", "delle", "che", "sono", "per", "con", "una", "non", "di", "è", "anche", "come", "più", "questo", "ciao", "molto", "nel", "alla"},
	"pt": {"os", "as", "da", "do", "das", "dos", "que", "não", "com", "uma", "para", "em", "é", "são", "também", "olá", "muito", "isso", "você", "mas"},
	"nl": {"de", "het", "een", "en", "is", "zijn", "niet", "met", "voor", "op", "van", "ook", "wij", "dat", "hallo", "maar", "zeer", "bij", "naar"},
	"ro": {"și", "este", "sunt", "cu", "pentru", "care", "nu", "în", "la", "pe", "mai", "acest", "această", "bună", "foarte", "dar", "din", "sau"},
}

// LexicalProvider detects languages by scoring stop-word hits. It needs no
// network access and plugs in wherever a remote provider would.
type LexicalProvider struct {
	words map[string]map[string]bool
}

// NewLexicalProvider builds the provider from the built-in word lists.
// Words listed for more than one language are dropped so that every hit is
// evidence for exactly one language.
func NewLexicalProvider() *LexicalProvider {
	seen := make(map[string]int)
	for _, list := range stopWords {
		for _, w := range list {
			seen[w]++
		}
	}
	p := &LexicalProvider{words: make(map[string]map[string]bool, len(stopWords))}
	for lang, list := range stopWords {
		set := make(map[string]bool, len(list))
		for _, w := range list {
			if seen[w] == 1 {
				set[w] = true
			}
		}
		p.words[lang] = set
	}
	return p
}

// Name returns the provider name.
func (p *LexicalProvider) Name() string {
	return "lexical"
}

// Detect scores each text independently.
func (p *LexicalProvider) Detect(ctx context.Context, texts []string) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.TimeoutError(err)
	}
	out := make([]types.Detection, len(texts))
	for i, text := range texts {
		out[i] = p.score(text)
	}
	return out, nil
}

// score returns the language with the most hits. Confidence is the share of
// hits won by that language, scaled down when few of the words are stop
// words at all.
func (p *LexicalProvider) score(text string) types.Detection {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(tokens) == 0 {
		return types.Detection{}
	}

	hits := make(map[string]int, len(p.words))
	total := 0
	for _, tok := range tokens {
		for lang, set := range p.words {
			if set[tok] {
				hits[lang]++
				total++
			}
		}
	}
	if total == 0 {
		return types.Detection{}
	}

	best, bestHits := "", 0
	for lang, n := range hits {
		if n > bestHits || (n == bestHits && lang < best) {
			best, bestHits = lang, n
		}
	}

	share := float64(bestHits) / float64(total)
	coverage := float64(bestHits) / float64(len(tokens)) / 0.25
	if coverage > 1 {
		coverage = 1
	}
	// a single word is never conclusive
	if len(tokens) < 3 {
		coverage *= 0.5
	}
	return types.Detection{
		Language:             best,
		Score:                share * coverage,
		TranslationSupported: true,
	}
}
