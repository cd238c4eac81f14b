// Package pipeline orchestrates the seven-step entity extraction flow:
// input validation, text normalization, the three engines (regex,
// statistical NER, lexicon), deterministic merge, post-filters, and
// envelope serialization.
//
// The orchestrator is the pipeline's fault barrier: no internal failure
// ever escapes to the caller. Every run returns an ExtractionOutput that
// serializes to valid JSON, with meta.status set to "failed" when a hard
// error occurred.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/triagelab/extract/internal/lexicon"
	"github.com/triagelab/extract/internal/nerengine"
	"github.com/triagelab/extract/internal/normalize"
	"github.com/triagelab/extract/internal/observability"
	"github.com/triagelab/extract/internal/postfilter"
	"github.com/triagelab/extract/internal/regexengine"
	"github.com/triagelab/extract/internal/resolver"
	"github.com/triagelab/extract/internal/validate"
	"github.com/triagelab/extract/pkg/config"
	"github.com/triagelab/extract/pkg/types"
)

// unknownID is stamped into the envelope when validation fails before the
// identifiers could be read.
const unknownID = "UNKNOWN"

// Pipeline owns the engines and collaborators for extraction runs.
// A Pipeline is safe for concurrent use: per-call state is confined to the
// call and shared state is limited to the read-only config and the NER
// model cache.
type Pipeline struct {
	cfg     *config.PipelineConfig
	rules   []regexengine.Rule
	lexicon lexicon.Lexicon
	ner     *nerengine.Engine
	metrics observability.Metrics
	logOut  io.Writer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.PipelineConfig) Option {
	return func(p *Pipeline) { p.cfg = cfg }
}

// WithRules replaces the default regex rule set.
func WithRules(rules []regexengine.Rule) Option {
	return func(p *Pipeline) { p.rules = rules }
}

// WithLexicon sets the gazetteer used by the lexicon engine.
func WithLexicon(lex lexicon.Lexicon) Option {
	return func(p *Pipeline) { p.lexicon = lex }
}

// WithTaggerLoader wires the statistical NER model adapter.
func WithTaggerLoader(loader nerengine.Loader) Option {
	return func(p *Pipeline) { p.ner = nerengine.NewEngine(loader) }
}

// WithNEREngine replaces the NER engine wholesale, e.g. to attach a rate
// limiter.
func WithNEREngine(engine *nerengine.Engine) Option {
	return func(p *Pipeline) { p.ner = engine }
}

// WithMetrics attaches a metrics sink. Default: no-op.
func WithMetrics(m observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogWriter redirects structured log output. Default: stderr.
func WithLogWriter(out io.Writer) Option {
	return func(p *Pipeline) { p.logOut = out }
}

// New creates a pipeline with the default configuration, the curated regex
// rule set, an empty lexicon, and no NER model (every NER call that passes
// the flag, language and length gates skips with model_load_failed until a
// tagger loader is wired).
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:     config.Default(),
		rules:   regexengine.DefaultRules(),
		lexicon: lexicon.Lexicon{},
		metrics: observability.NopMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.ner == nil {
		p.ner = nerengine.NewEngine(func(string) (nerengine.Tagger, error) {
			return nil, fmt.Errorf("pipeline: no tagger loader configured")
		})
	}
	return p
}

// Run executes the full pipeline on a raw input payload and returns the
// output envelope. It never panics and never returns an error: every
// failure mode is reported inside the envelope.
func (p *Pipeline) Run(ctx context.Context, raw map[string]any) (out *types.ExtractionOutput) {
	idConv, idMsg := peekIDs(raw)

	// Fault barrier: any escaping failure after validation becomes a
	// failed envelope, never a panic in the caller.
	defer func() {
		if r := recover(); r != nil {
			out = types.NewExtractionOutput(idConv, idMsg, config.LayerVersion, p.cfg.FeatureFlags())
			out.SetFailed("pipeline", fmt.Sprintf("unexpected error: %v", r), "internal")
			out.Finalize()
			p.metrics.IncError("hard", "pipeline")
			p.metrics.IncPipelineRun(types.StatusFailed)
		}
	}()

	// Step 1 — input validation
	in, warnings, err := validate.Input(raw, p.cfg)
	if err != nil {
		out = types.NewExtractionOutput(idConv, idMsg, config.LayerVersion, p.cfg.FeatureFlags())
		if verr, ok := err.(*validate.ValidationError); ok {
			for _, fe := range verr.Errors {
				out.AddError(fe)
			}
		}
		out.Meta.Status = types.StatusFailed
		out.Finalize()
		p.metrics.IncError("hard", "input_validator")
		p.metrics.IncPipelineRun(types.StatusFailed)
		return out
	}

	idConv, idMsg = in.IDConversazione, in.IDMessaggio
	out = types.NewExtractionOutput(idConv, idMsg, config.LayerVersion, p.cfg.FeatureFlags())
	log := observability.NewPipelineLogger(p.logOut, idConv, idMsg)

	for _, w := range warnings {
		out.AddError(w)
		p.metrics.IncError("soft", "input_validator")
	}

	// Step 2 — normalization
	timer := observability.StartTimer()
	text, normLog := normalize.Text(in.TestoNormalizzato)
	out.RecordTiming("normalize", timer.Stop(p.metrics, "normalize"))
	log.Debug("text_normalized", map[string]any{"steps": len(normLog.Steps), "chars": len(text)})

	// Step 3 — regex engine
	var regexEntities []types.Entity
	if p.cfg.EngineRegexEnabled {
		timer = observability.StartTimer()
		regexEntities = regexengine.Extract(text, p.rules, p.cfg)
		out.RecordTiming("regex", timer.Stop(p.metrics, "regex"))
		log.Debug("regex_done", map[string]any{"count": len(regexEntities)})
	} else {
		out.AddFallback("regex_disabled")
		log.LogFallback("regex", "regex_disabled")
	}

	// Step 4 — selective NER engine
	timer = observability.StartTimer()
	nerEntities, skipReasons := p.ner.Extract(ctx, text, in.Lingua, p.cfg)
	out.RecordTiming("ner", timer.Stop(p.metrics, "ner"))
	for _, reason := range skipReasons {
		out.AddFallback(reason)
		log.LogFallback("ner", reason)
		p.metrics.IncNERSkip(observability.NormalizeSkipReason(reason))
	}
	log.Debug("ner_done", map[string]any{"count": len(nerEntities), "skipped": len(skipReasons) > 0})

	// Step 5 — lexicon engine
	var lexiconEntities []types.Entity
	if p.cfg.EngineLexiconEnabled {
		timer = observability.StartTimer()
		lexiconEntities = lexicon.Extract(text, p.lexicon, p.cfg)
		out.RecordTiming("lexicon", timer.Stop(p.metrics, "lexicon"))
		log.Debug("lexicon_done", map[string]any{"count": len(lexiconEntities)})
	} else {
		out.AddFallback("lexicon_disabled")
		log.LogFallback("lexicon", "lexicon_disabled")
	}

	// Step 6 — deterministic merge
	candidates := make([]types.Entity, 0, len(regexEntities)+len(nerEntities)+len(lexiconEntities))
	candidates = append(candidates, regexEntities...)
	candidates = append(candidates, nerEntities...)
	candidates = append(candidates, lexiconEntities...)
	timer = observability.StartTimer()
	merged := resolver.Merge(candidates, p.cfg)
	out.RecordTiming("merge", timer.Stop(p.metrics, "merge"))
	log.Debug("merge_done", map[string]any{"count": len(merged)})

	// Step 7 — post-filters and envelope
	timer = observability.StartTimer()
	filtered := postfilter.ApplyAll(merged, p.cfg)
	out.RecordTiming("filter", timer.Stop(p.metrics, "filter"))

	out.SetEntities(filtered)
	out.Finalize()

	recordEntityCounts(p.metrics, filtered)
	log.LogEntitySummary(filtered)
	p.metrics.IncPipelineRun(types.StatusOK)
	return out
}

// ExtractAllEntities is the legacy convenience entry point: it wraps a bare
// text in a minimal input payload and returns only the entity list. For
// production use prefer Run, which returns the full envelope.
func (p *Pipeline) ExtractAllEntities(ctx context.Context, text string) []types.Entity {
	raw := map[string]any{
		"id_conversazione":   uuid.NewString(),
		"id_messaggio":       uuid.NewString(),
		"testo_normalizzato": text,
		"lingua":             nil,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"mittente":           "unknown",
		"destinatario":       "unknown",
	}
	out := p.Run(ctx, raw)
	return out.Entities
}

// Run executes the pipeline once with the given config (nil for defaults)
// and no NER model wired. Primary package-level entry point.
func Run(ctx context.Context, raw map[string]any, cfg *config.PipelineConfig) *types.ExtractionOutput {
	opts := []Option{}
	if cfg != nil {
		opts = append(opts, WithConfig(cfg))
	}
	return New(opts...).Run(ctx, raw)
}

// peekIDs reads the identifiers from the raw payload before validation so
// failed envelopes can still be correlated.
func peekIDs(raw map[string]any) (string, string) {
	idConv, idMsg := unknownID, unknownID
	if s, ok := raw["id_conversazione"].(string); ok && s != "" {
		idConv = s
	}
	if s, ok := raw["id_messaggio"].(string); ok && s != "" {
		idMsg = s
	}
	return idConv, idMsg
}

// recordEntityCounts feeds the entities_per_mail histogram, one observation
// per entity type present in the output.
func recordEntityCounts(m observability.Metrics, entities []types.Entity) {
	byType := map[string]int{}
	for _, e := range entities {
		byType[e.Type]++
	}
	for entityType, count := range byType {
		m.ObserveEntitiesPerMail(entityType, count)
	}
}
