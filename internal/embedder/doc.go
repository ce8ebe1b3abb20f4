// Package embedder turns chunk text into fixed-dimension vectors.
//
// A Service wraps a Provider with input validation, an LRU cache, a token
// budget and a bounded worker pool for sub-batches.
//
// # Basic Usage
//
//	provider, err := embedder.NewProvider(embedder.ProviderConfig{
//	    Endpoint: "https://my-openai.openai.azure.com",
//	    APIKey:   key,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := embedder.New(provider, embedder.Config{
//	    BatchSize:       16,
//	    TokensPerMinute: 120000,
//	    CacheSize:       10000,
//	})
//	defer svc.Close()
//
//	res := svc.EmbedBatch(ctx, reqs, 0, func(p types.Progress) {
//	    fmt.Printf("%s %d/%d\n", p.Stage, p.Processed, p.Total)
//	})
//
// # Provider Selection
//
// DetectProvider picks a provider when none is named:
//
//  1. ProviderConfig.Provider if set (azure, openai, local)
//  2. azure when an endpoint and an API key are set
//  3. openai when only an API key is set
//  4. local otherwise
//
// Azure OpenAI deployments authenticate with the api-key header, OpenAI with
// a bearer token. The local provider hashes the text into a unit vector and
// needs no network.
//
// # Batching
//
// EmbedBatch validates every request first: empty text fails with
// EMPTY_TEXT and text over Config.MaxChars with TEXT_TOO_LONG, and neither
// reaches the provider. The remaining requests are sent in sub-batches of
// batchSize, at most Config.Concurrency at a time. A sub-batch that fails
// after retries fails only its own members.
//
// Progress events are serialized and never go backwards. The first event has
// stage "preparing" and the last "completed", whatever failed in between.
//
// # Rate Limiting
//
// TokenLimiter counts tokens per fixed window (one minute by default).
// Usage at time T counts toward the window containing T and the count resets
// at the window boundary. A call that would overrun the budget waits for the
// next window. Reservations are estimates and are corrected with the
// provider's usage.total_tokens once the call returns.
//
// # Errors
//
// Non-2xx responses map to BAD_REQUEST, UNAUTHORIZED, FORBIDDEN, NOT_FOUND,
// RATE_LIMITED, INTERNAL_SERVER_ERROR, BAD_GATEWAY, SERVICE_UNAVAILABLE,
// GATEWAY_TIMEOUT, SERVER_ERROR or UNKNOWN. 429 and 5xx are retried.
package embedder
