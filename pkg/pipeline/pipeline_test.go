package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagelab/extract/internal/lexicon"
	"github.com/triagelab/extract/internal/nerengine"
	"github.com/triagelab/extract/internal/observability"
	"github.com/triagelab/extract/internal/regexengine"
	"github.com/triagelab/extract/pkg/config"
	"github.com/triagelab/extract/pkg/pipeline"
	"github.com/triagelab/extract/pkg/types"
)

func rawInput(text string) map[string]any {
	return map[string]any{
		"id_conversazione":   "conv-1",
		"id_messaggio":       "msg-1",
		"testo_normalizzato": text,
		"lingua":             "it",
		"timestamp":          "2026-02-03T10:00:00Z",
		"mittente":           "mario.rossi@example.com",
		"destinatario":       "support@azienda.it",
	}
}

func findByType(entities []types.Entity, entityType string) []types.Entity {
	var out []types.Entity
	for _, e := range entities {
		if e.Type == entityType {
			out = append(out, e)
		}
	}
	return out
}

// erroringTagger simulates a statistical model that fails at inference time.
type erroringTagger struct{}

func (erroringTagger) Tag(ctx context.Context, text string) ([]nerengine.Tag, error) {
	return nil, errors.New("inference backend unavailable")
}

func TestRun_EmailAndPartitaIVA(t *testing.T) {
	// Scenario: regex finds both the address and the prefixed VAT number.
	out := pipeline.New().Run(context.Background(),
		rawInput("Contatto: mario.rossi@example.com, P.IVA IT12345678901"))

	assert.Equal(t, types.StatusOK, out.Meta.Status)

	emails := findByType(out.Entities, "EMAIL")
	require.Len(t, emails, 1)
	assert.Equal(t, "mario.rossi@example.com", emails[0].Value)

	vats := findByType(out.Entities, "PARTITAIVA")
	require.Len(t, vats, 1)
	assert.Equal(t, "IT12345678901", vats[0].Value)
}

func TestRun_BareElevenDigitsProduceNoPartitaIVA(t *testing.T) {
	out := pipeline.New().Run(context.Background(),
		rawInput("Numero cliente 12345678901 in archivio da tempo"))

	assert.Equal(t, types.StatusOK, out.Meta.Status)
	assert.Empty(t, findByType(out.Entities, "PARTITAIVA"))
}

func TestRun_DateAndAmountAreCanonicalized(t *testing.T) {
	out := pipeline.New().Run(context.Background(),
		rawInput("Scadenza 03/02/2026, importo € 1.234,56 da saldare"))

	dates := findByType(out.Entities, "DATA")
	require.Len(t, dates, 1)
	assert.Equal(t, "2026-02-03", dates[0].Value)

	amounts := findByType(out.Entities, "IMPORTO")
	require.Len(t, amounts, 1)
	assert.Equal(t, "1234.56", amounts[0].Value)
}

func TestRun_EmptyTextFailsWithEnvelope(t *testing.T) {
	for _, text := range []string{"", "   \n\t  "} {
		out := pipeline.New().Run(context.Background(), rawInput(text))

		assert.Equal(t, types.StatusFailed, out.Meta.Status)
		assert.NotEmpty(t, out.Errors)
		assert.Empty(t, out.Entities)
		assert.Equal(t, "conv-1", out.Meta.IDConversazione,
			"failed envelopes still carry the identifiers")
	}
}

func TestRun_NullLinguaProceedsWithLanguageUnknownFallback(t *testing.T) {
	raw := rawInput("Contattare mario.rossi@example.com per la pratica in oggetto")
	raw["lingua"] = nil

	out := pipeline.New().Run(context.Background(), raw)

	assert.Equal(t, types.StatusOK, out.Meta.Status)
	assert.NotEmpty(t, findByType(out.Entities, "EMAIL"))
	assert.Contains(t, out.Meta.Fallbacks, "language_unknown")

	var warningTypes []string
	for _, e := range out.Errors {
		warningTypes = append(warningTypes, e.Type)
	}
	assert.Contains(t, warningTypes, "null_language")
}

func TestRun_LexiconLabelsByCategory(t *testing.T) {
	p := pipeline.New(pipeline.WithLexicon(lexicon.Lexicon{
		"AZIENDA": {{Lemma: "ACME"}},
	}))
	out := p.Run(context.Background(),
		rawInput("Buongiorno, scrivo per conto di ACME in merito all'ordine"))

	matches := findByType(out.Entities, "AZIENDA")
	require.Len(t, matches, 1)
	assert.Equal(t, "ACME", matches[0].Value)
	assert.Empty(t, findByType(out.Entities, "ACME"),
		"the lemma must never be used as the entity type")
}

func TestRun_NERFailureDegradesToRegexAndLexicon(t *testing.T) {
	p := pipeline.New(
		pipeline.WithTaggerLoader(func(string) (nerengine.Tagger, error) {
			return erroringTagger{}, nil
		}),
		pipeline.WithLexicon(lexicon.Lexicon{"AZIENDA": {{Lemma: "ACME"}}}),
	)
	out := p.Run(context.Background(),
		rawInput("ACME segnala la fattura: contattare mario.rossi@example.com"))

	assert.Equal(t, types.StatusOK, out.Meta.Status)
	assert.NotEmpty(t, findByType(out.Entities, "EMAIL"))
	assert.NotEmpty(t, findByType(out.Entities, "AZIENDA"))

	var hasNERError bool
	for _, fb := range out.Meta.Fallbacks {
		if strings.HasPrefix(fb, "ner_error:") {
			hasNERError = true
		}
	}
	assert.True(t, hasNERError, "the inference failure must surface as a fallback, fallbacks=%v", out.Meta.Fallbacks)
}

func TestRun_TextTooLong(t *testing.T) {
	cfg := config.Default()
	cfg.MaxTextLength = 100

	out := pipeline.New(pipeline.WithConfig(cfg)).Run(context.Background(),
		rawInput(strings.Repeat("a", 101)))

	assert.Equal(t, types.StatusFailed, out.Meta.Status)
	require.NotEmpty(t, out.Errors)
	assert.Equal(t, "text_too_long", out.Errors[0].Type)
	assert.Empty(t, out.Entities)
}

func TestRun_InternalPanicIsCaughtByBarrier(t *testing.T) {
	// A rule with a nil pattern makes the regex engine panic mid-run.
	p := pipeline.New(pipeline.WithRules([]regexengine.Rule{{Type: "EMAIL"}}))

	var out *types.ExtractionOutput
	assert.NotPanics(t, func() {
		out = p.Run(context.Background(), rawInput("testo abbastanza lungo per superare i controlli"))
	})

	assert.Equal(t, types.StatusFailed, out.Meta.Status)
	require.NotEmpty(t, out.Errors)
	assert.Equal(t, "internal", out.Errors[0].Type)
	assert.Equal(t, "pipeline", out.Errors[0].Component)
	assert.Empty(t, out.Entities)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.ToJSON(), &decoded),
		"even the barrier envelope must serialize to valid JSON")
}

func TestRun_MalformedInputStillYieldsEnvelope(t *testing.T) {
	inputs := []map[string]any{
		nil,
		{},
		{"id_conversazione": 12, "testo_normalizzato": []string{"x"}},
		{"testo_normalizzato": "ciao"},
	}
	for _, raw := range inputs {
		out := pipeline.New().Run(context.Background(), raw)
		assert.Equal(t, types.StatusFailed, out.Meta.Status)
		assert.NotEmpty(t, out.Errors)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(out.ToJSON(), &decoded))
	}
}

func TestRun_Deterministic(t *testing.T) {
	p := pipeline.New(pipeline.WithLexicon(lexicon.Lexicon{
		"AZIENDA": {{Lemma: "ACME", SurfaceForms: []string{"ACME", "ACME S.p.A."}}},
	}))
	raw := rawInput("ACME S.p.A. (P.IVA IT12345678901) scade il 03/02/2026, " +
		"importo € 1.234,56, contatto mario.rossi@example.com o +39 0612345678")

	first, err := json.Marshal(p.Run(context.Background(), raw).Entities)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := json.Marshal(p.Run(context.Background(), raw).Entities)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again),
			"two runs with fixed config and input must serialize identically")
	}
}

func TestRun_OutputProperties(t *testing.T) {
	p := pipeline.New(pipeline.WithLexicon(lexicon.Lexicon{
		"AZIENDA": {{Lemma: "ACME"}},
	}))
	raw := rawInput("ACME: pagare € 99 entro il 03/02/2026, rif N. 556677, " +
		"tel 3331234567, IBAN IT60X0542811101000000123456, CF RSSMRA85M01H501Z")

	out := p.Run(context.Background(), raw)
	require.Equal(t, types.StatusOK, out.Meta.Status)
	require.NotEmpty(t, out.Entities)

	// Every entity is valid and its span lies inside the normalized text.
	normalizedLen := len(raw["testo_normalizzato"].(string))
	for _, e := range out.Entities {
		assert.True(t, e.IsValid(), "entity %v", e)
		assert.LessOrEqual(t, e.Span.End, normalizedLen)
	}

	// No two entities share (type, value, span).
	seen := map[string]bool{}
	for _, e := range out.Entities {
		key := fmt.Sprintf("%s|%s|%d:%d", e.Type, e.Value, e.Span.Start, e.Span.End)
		assert.False(t, seen[key], "duplicate entity %v", e)
		seen[key] = true
	}

	// Output is sorted by (span.start, type, source).
	sorted := sort.SliceIsSorted(out.Entities, func(i, j int) bool {
		a, b := out.Entities[i], out.Entities[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Source < b.Source
	})
	assert.True(t, sorted, "entities must be ordered by (start, type, source)")
}

func TestRun_DisabledTypeAbsentFromOutput(t *testing.T) {
	cfg := config.Default()
	cfg.EntityTypesEnabled = map[string]bool{"EMAIL": false}

	out := pipeline.New(pipeline.WithConfig(cfg)).Run(context.Background(),
		rawInput("scrivere a mario.rossi@example.com entro il 03/02/2026"))

	assert.Empty(t, findByType(out.Entities, "EMAIL"))
	assert.NotEmpty(t, findByType(out.Entities, "DATA"))
}

func TestRun_BlacklistedValueAbsentFromOutput(t *testing.T) {
	cfg := config.Default()
	cfg.BlacklistValues = []string{"NOREPLY@example.com"}

	out := pipeline.New(pipeline.WithConfig(cfg)).Run(context.Background(),
		rawInput("da noreply@example.com a mario.rossi@example.com"))

	emails := findByType(out.Entities, "EMAIL")
	require.Len(t, emails, 1)
	assert.Equal(t, "mario.rossi@example.com", emails[0].Value)
}

func TestRun_TimingsAndFeatureFlagsInMeta(t *testing.T) {
	out := pipeline.New().Run(context.Background(),
		rawInput("testo sufficiente per tutti i componenti della catena"))

	for _, component := range []string{"normalize", "regex", "ner", "lexicon", "merge", "filter"} {
		assert.Contains(t, out.Meta.ComponentTimingsMs, component)
	}
	assert.Equal(t, map[string]bool{
		"engine_regex":   true,
		"engine_ner":     true,
		"engine_lexicon": true,
	}, out.Meta.FeatureFlags)
	assert.Equal(t, config.LayerVersion, out.Meta.LayerVersion)
}

func TestRun_DisabledEnginesRecordFallbacks(t *testing.T) {
	cfg := config.Default()
	cfg.EngineRegexEnabled = false
	cfg.EngineNEREnabled = false
	cfg.EngineLexiconEnabled = false

	out := pipeline.New(pipeline.WithConfig(cfg)).Run(context.Background(),
		rawInput("testo con mario.rossi@example.com dentro"))

	assert.Equal(t, types.StatusOK, out.Meta.Status)
	assert.Empty(t, out.Entities)
	assert.Contains(t, out.Meta.Fallbacks, "regex_disabled")
	assert.Contains(t, out.Meta.Fallbacks, "ner_disabled")
	assert.Contains(t, out.Meta.Fallbacks, "lexicon_disabled")
}

func TestRun_MetricsAreRecorded(t *testing.T) {
	metrics := observability.NewInMemoryMetrics()
	raw := rawInput("scrivere a mario.rossi@example.com per la pratica")
	raw["lingua"] = nil

	out := pipeline.New(pipeline.WithMetrics(metrics)).Run(context.Background(), raw)
	require.Equal(t, types.StatusOK, out.Meta.Status)

	assert.Equal(t, 1, metrics.PipelineRuns["ok"])
	assert.Equal(t, 1, metrics.NERSkips["language_unknown"])
	assert.Equal(t, 1, metrics.Errors["soft/input_validator"])
	assert.Equal(t, []int{1}, metrics.EntitiesPerMail["EMAIL"])
	assert.NotEmpty(t, metrics.Latencies["regex"])
}

func TestRun_FailedRunMetrics(t *testing.T) {
	metrics := observability.NewInMemoryMetrics()
	out := pipeline.New(pipeline.WithMetrics(metrics)).Run(context.Background(), rawInput(""))

	assert.Equal(t, types.StatusFailed, out.Meta.Status)
	assert.Equal(t, 1, metrics.PipelineRuns["failed"])
	assert.Equal(t, 1, metrics.Errors["hard/input_validator"])
}

func TestRun_LogsAreJSONLines(t *testing.T) {
	var buf bytes.Buffer
	out := pipeline.New(pipeline.WithLogWriter(&buf)).Run(context.Background(),
		rawInput("contattare mario.rossi@example.com al più presto"))
	require.Equal(t, types.StatusOK, out.Meta.Status)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, l := range lines {
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &record), "line %q", l)
		assert.Equal(t, "conv-1", record["id_conversazione"])
	}
}

func TestExtractAllEntities(t *testing.T) {
	p := pipeline.New()
	entities := p.ExtractAllEntities(context.Background(),
		"scrivere a mario.rossi@example.com, P.IVA IT12345678901")

	assert.NotEmpty(t, findByType(entities, "EMAIL"))
	assert.NotEmpty(t, findByType(entities, "PARTITAIVA"))
}

func TestExtractAllEntities_EmptyTextYieldsEmptyList(t *testing.T) {
	entities := pipeline.New().ExtractAllEntities(context.Background(), "   ")
	assert.Empty(t, entities)
}

func TestRunPackageLevel(t *testing.T) {
	out := pipeline.Run(context.Background(),
		rawInput("contatto: mario.rossi@example.com"), nil)
	assert.Equal(t, types.StatusOK, out.Meta.Status)
	assert.NotEmpty(t, out.Entities)
}
