package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// maxContinuations bounds how many continuation re-prompts are issued for a
// truncated JSON response before giving up.
const maxContinuations = 2

// GatewayConfig tunes retry and concurrency behavior.
type GatewayConfig struct {
	// RetryMaxAttempts caps total attempts per call (default 3).
	RetryMaxAttempts int
	// RetryBase is the initial backoff interval (default 500ms).
	RetryBase time.Duration
	// GlobalConcurrency caps concurrent in-flight calls (default 16).
	GlobalConcurrency int
	// PerItineraryConcurrency caps concurrent calls per itinerary (default 4).
	PerItineraryConcurrency int
	// RequestsPerSecond smooths the outgoing call rate (0 disables).
	RequestsPerSecond float64
	// Temperature applies to requests that leave it unset.
	Temperature float32
	// MaxTokens applies to requests that leave it unset (0 keeps the
	// provider default).
	MaxTokens int
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.GlobalConcurrency <= 0 {
		c.GlobalConcurrency = 16
	}
	if c.PerItineraryConcurrency <= 0 {
		c.PerItineraryConcurrency = 4
	}
	return c
}

// Gateway is the single entry point for model calls. All agent LLM traffic
// goes through GenerateText or GenerateStructured.
type Gateway struct {
	client  Client
	cfg     GatewayConfig
	global  *semaphore.Weighted
	limiter *rate.Limiter

	itinMu  sync.Mutex
	perItin map[string]*semaphore.Weighted

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// NewGateway creates a gateway over the given transport client.
func NewGateway(client Client, cfg GatewayConfig) *Gateway {
	cfg = cfg.withDefaults()
	g := &Gateway{
		client:  client,
		cfg:     cfg,
		global:  semaphore.NewWeighted(int64(cfg.GlobalConcurrency)),
		perItin: make(map[string]*semaphore.Weighted),
		schemas: make(map[string]*jsonschema.Schema),
	}
	if cfg.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.GlobalConcurrency)
	}
	return g
}

// Close releases the underlying client.
func (g *Gateway) Close() error { return g.client.Close() }

// GenerateText performs a plain-text completion with retry.
func (g *Gateway) GenerateText(ctx context.Context, req *Request) (string, error) {
	release, err := g.acquire(ctx, req.ItineraryID)
	if err != nil {
		return "", err
	}
	defer release()

	return g.completeWithRetry(ctx, req)
}

// GenerateStructured performs a completion constrained by a JSON schema.
// Truncated responses trigger continuation re-prompts; the concatenated
// output is validated against the schema. Fails with
// ErrInvalidStructuredResponse when validation cannot be satisfied.
func (g *Gateway) GenerateStructured(ctx context.Context, req *Request, schemaJSON []byte) (map[string]any, error) {
	release, err := g.acquire(ctx, req.ItineraryID)
	if err != nil {
		return nil, err
	}
	defer release()

	raw, err := g.completeWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	text := extractJSON(raw)

	// Continuation loop: when the JSON finishes mid-structure, re-prompt with
	// the partial output and concatenate.
	for i := 0; i < maxContinuations && !jsonComplete(text); i++ {
		slog.Debug("Structured response truncated, requesting continuation",
			"itinerary_id", req.ItineraryID, "attempt", i+1, "len", len(text))
		contReq := &Request{
			ItineraryID: req.ItineraryID,
			System:      req.System,
			User:        continuationPrompt(req.User, text),
			Model:       req.Model,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			MockKey:     continuationMockKey(req.MockKey, i),
		}
		more, err := g.completeWithRetry(ctx, contReq)
		if err != nil {
			return nil, err
		}
		text += extractJSON(more)
	}

	if !jsonComplete(text) {
		return nil, fmt.Errorf("%w: output still truncated after %d continuations",
			ErrInvalidStructuredResponse, maxContinuations)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStructuredResponse, err)
	}

	if len(schemaJSON) > 0 {
		schema, err := g.compileSchema(schemaJSON)
		if err != nil {
			return nil, fmt.Errorf("compiling response schema: %w", err)
		}
		// Validate against the generic decoded form.
		var doc any
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStructuredResponse, err)
		}
		if err := schema.Validate(doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStructuredResponse, err)
		}
	}

	return obj, nil
}

// completeWithRetry retries transient failures with exponential backoff and
// jitter, up to RetryMaxAttempts total attempts.
func (g *Gateway) completeWithRetry(ctx context.Context, req *Request) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}

	r := *req
	if r.Temperature == 0 {
		r.Temperature = g.cfg.Temperature
	}
	if r.MaxTokens == 0 {
		r.MaxTokens = g.cfg.MaxTokens
	}

	var out string
	operation := func() error {
		resp, err := g.client.Complete(ctx, &r)
		if err != nil {
			if retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = resp
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(g.cfg.RetryBase),
				backoff.WithMultiplier(2),
			),
			uint64(g.cfg.RetryMaxAttempts-1),
		), ctx)

	if err := backoff.Retry(operation, bo); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return "", perm.Err
		}
		return "", err
	}
	return out, nil
}

// acquire takes the global and per-itinerary concurrency slots.
func (g *Gateway) acquire(ctx context.Context, itineraryID string) (func(), error) {
	if err := g.global.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if itineraryID == "" {
		return func() { g.global.Release(1) }, nil
	}

	g.itinMu.Lock()
	sem, ok := g.perItin[itineraryID]
	if !ok {
		sem = semaphore.NewWeighted(int64(g.cfg.PerItineraryConcurrency))
		g.perItin[itineraryID] = sem
	}
	g.itinMu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		g.global.Release(1)
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return func() {
		sem.Release(1)
		g.global.Release(1)
	}, nil
}

// compileSchema compiles and caches a JSON schema keyed by its raw bytes.
func (g *Gateway) compileSchema(schemaJSON []byte) (*jsonschema.Schema, error) {
	key := string(schemaJSON)
	g.schemaMu.Lock()
	defer g.schemaMu.Unlock()
	if s, ok := g.schemas[key]; ok {
		return s, nil
	}

	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	g.schemas[key] = schema
	return schema, nil
}

func continuationPrompt(original, partial string) string {
	return fmt.Sprintf(
		"%s\n\nYour previous response was cut off mid-JSON. Here is the partial output:\n%s\n\nContinue EXACTLY from where it stopped. Output ONLY the remaining characters needed to complete the JSON document. Do not repeat any part of the partial output.",
		original, partial)
}

// continuationMockKey derives the mock key for the Nth continuation call so
// scripted tests can serve the remainder deterministically.
func continuationMockKey(key string, n int) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("%s_cont%d", key, n+1)
}
