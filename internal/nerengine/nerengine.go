// Package nerengine wraps an external statistical tagger behind selective
// gating, a thread-safe model cache, a circuit breaker and a hard timeout.
//
// The engine never returns an error to the orchestrator: every failure mode
// is converted into a skip reason and the pipeline continues with the
// remaining engines.
package nerengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/triagelab/extract/pkg/config"
	"github.com/triagelab/extract/pkg/types"
)

// Skip reasons recorded in meta.fallbacks. Extract reports at most one per
// call: the first gate that fails wins, in the order documented on Extract.
const (
	SkipDisabled        = "ner_disabled"
	SkipLangUnknown     = "language_unknown"
	SkipLangUnsupported = "language_unsupported"
	SkipTextTooShort    = "text_too_short"
	SkipModelLoad       = "model_load_failed"
	SkipTimeout         = "ner_timeout"
	SkipCircuitOpen     = "ner_circuit_open"
	SkipRateLimited     = "ner_rate_limited"
)

// Engine runs the statistical NER model under the pipeline's guards.
// An Engine is safe for concurrent use; per-call state stays on the stack
// and shared state is limited to the model cache and the breaker.
type Engine struct {
	cache   *ModelCache
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// Option configures an Engine.
type Option func(*Engine)

// WithRateLimiter bounds inference QPS, protecting a shared model backend.
// A denied reservation becomes the ner_rate_limited skip reason.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(e *Engine) { e.limiter = limiter }
}

// NewEngine creates an engine loading models through loader.
// Inference runs behind a circuit breaker: after three consecutive
// failures the circuit opens for thirty seconds and calls are skipped
// with ner_circuit_open instead of hitting the model.
func NewEngine(loader Loader, opts ...Option) *Engine {
	e := &Engine{
		cache: NewModelCache(loader),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "NERInference",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ClearCache drains the model cache. Exposed for test isolation.
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// errTimeout marks an inference call that exceeded the configured bound.
var errTimeout = errors.New("nerengine: inference timed out")

// Extract runs the tagger on text if every gate passes. It never returns
// an error: the second result lists the skip reasons (empty when NER ran).
//
// Gates, in order: engine flag, language known, language supported, minimum
// text length, model load, rate limit, circuit state. Inference itself is
// bounded by cfg.NERTimeout via a goroutine and channel; a timeout leaks no
// resources because the worker goroutine owns only its result channel.
func (e *Engine) Extract(ctx context.Context, text string, language *string, cfg *config.PipelineConfig) ([]types.Entity, []string) {
	if !cfg.EngineNEREnabled {
		return nil, []string{SkipDisabled}
	}
	if language == nil {
		return nil, []string{SkipLangUnknown}
	}
	if !cfg.IsLanguageSupported(*language) {
		return nil, []string{SkipLangUnsupported}
	}
	if len(text) < cfg.MinTextLengthForNER {
		return nil, []string{SkipTextTooShort}
	}

	tagger, err := e.cache.Get(cfg.NERModelName)
	if err != nil || tagger == nil {
		return nil, []string{SkipModelLoad}
	}

	if e.limiter != nil && !e.limiter.Allow() {
		return nil, []string{SkipRateLimited}
	}

	tags, err := e.infer(ctx, tagger, text, cfg.NERTimeout)
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, []string{SkipCircuitOpen}
		case errors.Is(err, errTimeout):
			return nil, []string{SkipTimeout}
		default:
			return nil, []string{fmt.Sprintf("ner_error:%T", err)}
		}
	}

	return e.buildEntities(tags, cfg), nil
}

// infer runs one bounded tagger call through the circuit breaker.
// The tagger runs in its own goroutine; expiry of the deadline abandons the
// call cooperatively through ctx and reports errTimeout. Panics inside the
// tagger surface as ordinary errors.
func (e *Engine) infer(ctx context.Context, tagger Tagger, text string, timeout time.Duration) ([]Tag, error) {
	result, err := e.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		type inference struct {
			tags []Tag
			err  error
		}
		done := make(chan inference, 1)

		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- inference{err: fmt.Errorf("nerengine: tagger panic: %v", r)}
				}
			}()
			tags, err := tagger.Tag(callCtx, text)
			done <- inference{tags: tags, err: err}
		}()

		select {
		case res := <-done:
			return res.tags, res.err
		case <-callCtx.Done():
			return nil, errTimeout
		}
	})
	if err != nil {
		return nil, err
	}
	tags, _ := result.([]Tag)
	return tags, nil
}

// buildEntities converts tagger output to entities, clamping confidence to
// [cfg.NERConfidence, 1.0] and dropping empty or whitespace values.
func (e *Engine) buildEntities(tags []Tag, cfg *config.PipelineConfig) []types.Entity {
	entities := make([]types.Entity, 0, len(tags))
	for _, tag := range tags {
		if strings.TrimSpace(tag.Text) == "" {
			continue
		}
		confidence := tag.Confidence
		if confidence < cfg.NERConfidence {
			confidence = cfg.NERConfidence
		}
		if confidence > 1.0 {
			confidence = 1.0
		}
		entities = append(entities, types.Entity{
			Type:       tag.Label,
			Value:      tag.Text,
			Span:       types.Span{Start: tag.Start, End: tag.End},
			Confidence: confidence,
			Source:     types.SourceNER,
			Version:    cfg.NERModelName,
		})
	}
	return entities
}
