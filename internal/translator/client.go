package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/floringheorghiu/multilingual-rag/internal/retry"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

const (
	DefaultAPIVersion        = "3.0"
	DefaultTimeout           = 30 * time.Second
	DefaultRequestsPerSecond = 10.0

	// Azure Translator error code for an exhausted free-tier or plan quota.
	quotaExceededCode = 403001
)

// ClientConfig configures the translation provider client.
type ClientConfig struct {
	Endpoint          string
	SubscriptionKey   string
	Region            string
	APIVersion        string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client talks to an Azure Translator compatible service. It implements both
// Provider and the detector's Provider interface.
type Client struct {
	endpoint   string
	key        string
	region     string
	apiVersion string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a translation provider client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" || cfg.SubscriptionKey == "" {
		return nil, fmt.Errorf("translator: %w", types.ErrProviderNotEnabled)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		key:        cfg.SubscriptionKey,
		region:     cfg.Region,
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "azure-translator"
}

type textItem struct {
	Text string `json:"Text"`
}

type detectResponseItem struct {
	Language               string  `json:"language"`
	Score                  float64 `json:"score"`
	IsTranslationSupported bool    `json:"isTranslationSupported"`
}

type translateResponseItem struct {
	DetectedLanguage *struct {
		Language string  `json:"language"`
		Score    float64 `json:"score"`
	} `json:"detectedLanguage,omitempty"`
	Translations []struct {
		Text string `json:"text"`
		To   string `json:"to"`
	} `json:"translations"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Detect calls the detect operation for texts.
func (c *Client) Detect(ctx context.Context, texts []string) ([]types.Detection, error) {
	var resp []detectResponseItem
	if err := c.post(ctx, "/detect", url.Values{}, texts, &resp); err != nil {
		return nil, err
	}
	if len(resp) != len(texts) {
		return nil, types.NewError(types.KindServerError, types.CodeUnknown,
			fmt.Sprintf("detect returned %d results for %d texts", len(resp), len(texts)))
	}
	out := make([]types.Detection, len(resp))
	for i, r := range resp {
		out[i] = types.Detection{
			Language:             r.Language,
			Score:                r.Score,
			TranslationSupported: r.IsTranslationSupported,
		}
	}
	return out, nil
}

// Translate calls the translate operation for texts.
func (c *Client) Translate(ctx context.Context, texts []string, from, to string) ([]string, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	q.Set("to", to)

	var resp []translateResponseItem
	if err := c.post(ctx, "/translate", q, texts, &resp); err != nil {
		return nil, err
	}
	if len(resp) != len(texts) {
		return nil, types.NewError(types.KindServerError, types.CodeUnknown,
			fmt.Sprintf("translate returned %d results for %d texts", len(resp), len(texts)))
	}
	out := make([]string, len(resp))
	for i, r := range resp {
		if len(r.Translations) == 0 {
			return nil, types.NewError(types.KindServerError, types.CodeUnknown,
				fmt.Sprintf("translate returned no translation for item %d", i))
		}
		out[i] = r.Translations[0].Text
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, q url.Values, texts []string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return types.TimeoutError(err)
	}

	body := make([]textItem, len(texts))
	for i, t := range texts {
		body[i] = textItem{Text: t}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	q.Set("api-version", c.apiVersion)
	endpoint := c.endpoint + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	if c.region != "" {
		req.Header.Set("Ocp-Apim-Subscription-Region", c.region)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.TransportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.TransportError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return classify(resp, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return types.WrapError(types.KindServerError, types.CodeUnknown, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// classify maps a failed response onto rate-limited, quota-exceeded,
// server-error or client-error.
func classify(resp *http.Response, body []byte) error {
	e := retry.StatusError(resp, body)
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error.Code != 0 {
		e.Message = fmt.Sprintf("api error %d: %s", er.Error.Code, er.Error.Message)
		if er.Error.Code == quotaExceededCode {
			e.Kind = types.KindQuotaExceeded
			e.Code = types.CodeQuotaExceeded
		}
	}
	return e
}
