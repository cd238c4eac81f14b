package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagelab/extract/pkg/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, 0.95, cfg.RegexConfidence)
	assert.Equal(t, 0.70, cfg.NERConfidence)
	assert.Equal(t, 0.90, cfg.LexiconConfidence)
	assert.Equal(t, 20, cfg.MinTextLengthForNER)
	assert.Equal(t, 2*time.Second, cfg.NERTimeout)
	assert.Equal(t, 100_000, cfg.MaxTextLength)
	assert.Equal(t, []string{"it", "en"}, cfg.SupportedNERLanguages)
	assert.Equal(t, []string{"regex", "ner", "lexicon"}, cfg.SourcePriority)
	assert.True(t, cfg.EngineRegexEnabled)
	assert.True(t, cfg.EngineNEREnabled)
	assert.True(t, cfg.EngineLexiconEnabled)
	assert.Empty(t, cfg.BlacklistValues)
	assert.Equal(t, "regex-v1.0", cfg.RegexRuleVersion)
	assert.Equal(t, "lexicon-v1.0", cfg.LexiconVersion)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("NER_REGEX_CONFIDENCE", "0.8")
	t.Setenv("NER_NER_CONFIDENCE", "0.6")
	t.Setenv("NER_LEXICON_CONFIDENCE", "0.85")
	t.Setenv("NER_MIN_TEXT_LENGTH_FOR_NER", "50")
	t.Setenv("NER_NER_TIMEOUT_SECONDS", "0.5")
	t.Setenv("NER_MAX_TEXT_LENGTH", "5000")
	t.Setenv("NER_SUPPORTED_LANGUAGES", "it, en, fr")
	t.Setenv("NER_SOURCE_PRIORITY", "lexicon,regex,ner")
	t.Setenv("NER_ENGINE_NER_ENABLED", "false")
	t.Setenv("NER_BLACKLIST", "noreply@example.com, spam")
	t.Setenv("NER_MODEL_NAME", "it-core-v3")

	cfg, warnings := config.FromEnv()
	assert.Empty(t, warnings)

	assert.Equal(t, 0.8, cfg.RegexConfidence)
	assert.Equal(t, 0.6, cfg.NERConfidence)
	assert.Equal(t, 0.85, cfg.LexiconConfidence)
	assert.Equal(t, 50, cfg.MinTextLengthForNER)
	assert.Equal(t, 500*time.Millisecond, cfg.NERTimeout)
	assert.Equal(t, 5000, cfg.MaxTextLength)
	assert.Equal(t, []string{"it", "en", "fr"}, cfg.SupportedNERLanguages)
	assert.Equal(t, []string{"lexicon", "regex", "ner"}, cfg.SourcePriority)
	assert.False(t, cfg.EngineNEREnabled)
	assert.Equal(t, []string{"noreply@example.com", "spam"}, cfg.BlacklistValues)
	assert.Equal(t, "it-core-v3", cfg.NERModelName)
}

func TestFromEnv_UnparseableValueFallsBackToDefault(t *testing.T) {
	t.Setenv("NER_MAX_TEXT_LENGTH", "molto")
	cfg, _ := config.FromEnv()
	assert.Equal(t, 100_000, cfg.MaxTextLength)
}

func TestFromEnv_YAMLConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	content := `
regex_confidence: 0.9
ner_timeout_seconds: 1.5
supported_ner_languages: [it]
entity_types_enabled:
  TELEFONO: false
blacklist_values: [noreply@example.com]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("NER_CONFIG_FILE", path)

	cfg, warnings := config.FromEnv()
	assert.Empty(t, warnings)
	assert.Equal(t, 0.9, cfg.RegexConfidence)
	assert.Equal(t, 1500*time.Millisecond, cfg.NERTimeout)
	assert.Equal(t, []string{"it"}, cfg.SupportedNERLanguages)
	assert.False(t, cfg.IsEntityTypeEnabled("TELEFONO"))
	assert.Equal(t, []string{"noreply@example.com"}, cfg.BlacklistValues)
	// Untouched keys keep their defaults.
	assert.Equal(t, 0.70, cfg.NERConfidence)
}

func TestFromEnv_JSONConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.json")
	content := `{"ner_confidence": 0.65, "ner_model_name": "it-core-v3"}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("NER_CONFIG_FILE", path)

	cfg, warnings := config.FromEnv()
	assert.Empty(t, warnings)
	assert.Equal(t, 0.65, cfg.NERConfidence)
	assert.Equal(t, "it-core-v3", cfg.NERModelName)
}

func TestFromEnv_UnknownFileKeyWarns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("regex_confidence: 0.9\nmisspelled_key: 1\n"), 0o600))
	t.Setenv("NER_CONFIG_FILE", path)

	cfg, warnings := config.FromEnv()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "misspelled_key")
	assert.Equal(t, 0.9, cfg.RegexConfidence, "known keys still apply")
}

func TestFromEnv_MissingFileWarnsAndContinues(t *testing.T) {
	t.Setenv("NER_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("NER_REGEX_CONFIDENCE", "0.8")

	cfg, warnings := config.FromEnv()
	require.Len(t, warnings, 1)
	assert.Equal(t, 0.8, cfg.RegexConfidence, "env overrides still apply after a file warning")
}

func TestFromEnv_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("regex_confidence: 0.5\n"), 0o600))
	t.Setenv("NER_CONFIG_FILE", path)
	t.Setenv("NER_REGEX_CONFIDENCE", "0.99")

	cfg, _ := config.FromEnv()
	assert.Equal(t, 0.99, cfg.RegexConfidence)
}

func TestIsEntityTypeEnabled_UnknownDefaultsToTrue(t *testing.T) {
	cfg := config.Default()
	cfg.EntityTypesEnabled = map[string]bool{"EMAIL": false}

	assert.False(t, cfg.IsEntityTypeEnabled("EMAIL"))
	assert.True(t, cfg.IsEntityTypeEnabled("TIPO_MAI_VISTO"))
}

func TestIsLanguageSupported(t *testing.T) {
	cfg := config.Default()
	assert.True(t, cfg.IsLanguageSupported("it"))
	assert.True(t, cfg.IsLanguageSupported("IT"))
	assert.True(t, cfg.IsLanguageSupported("en"))
	assert.False(t, cfg.IsLanguageSupported("de"))
}

func TestSourceRank(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 0, cfg.SourceRank("regex"))
	assert.Equal(t, 1, cfg.SourceRank("ner"))
	assert.Equal(t, 2, cfg.SourceRank("lexicon"))
	assert.Equal(t, 3, cfg.SourceRank("sconosciuto"), "unknown sources rank last")
}
