package types

// LanguageResult is the outcome of language detection for one text.
type LanguageResult struct {
	Language   string  // normalised base code, e.g. "en"
	Confidence float64 // in [0, 1]
	Supported  bool    // allow-listed and translatable by the provider
}

// Validate checks the confidence range.
func (r LanguageResult) Validate() error {
	if r.Confidence < 0 || r.Confidence > 1 {
		return ErrInvalidConfidence
	}
	return nil
}

// Detection is a raw provider answer before threshold and allow-list checks.
type Detection struct {
	Language             string
	Score                float64
	TranslationSupported bool
}

// TranslationResult is the outcome of translating one text.
type TranslationResult struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
	Confidence     float64
}

// Validate checks that the translation changed language.
func (r TranslationResult) Validate() error {
	if r.SourceLanguage == r.TargetLanguage {
		return ErrSameLanguage
	}
	return nil
}

// SourceFile is an input file as seen by the orchestrator.
type SourceFile struct {
	Path      string
	Size      int64
	Type      DocumentType
	Supported bool
}

// ExtractedContent is the text pulled out of a source file.
type ExtractedContent struct {
	Text   string
	Title  string
	Images map[string]string
}
