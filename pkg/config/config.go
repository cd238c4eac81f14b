// Package config provides configuration for the entity extraction pipeline.
// It loads settings from environment variables with the NER_ prefix, with an
// optional YAML or JSON file named by NER_CONFIG_FILE, and provides sensible
// defaults for all options.
//
// A PipelineConfig is built once at pipeline entry and is read-only for the
// duration of a run; it is safe to share across concurrent calls.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LayerVersion identifies the extraction layer contract. Bumped on every
// significant rule or model change.
const LayerVersion = "1.0.0"

// PipelineConfig holds all runtime-tunable parameters for the pipeline.
type PipelineConfig struct {
	// Confidence per engine
	RegexConfidence   float64 `yaml:"regex_confidence"`   // Confidence assigned to regex hits (default: 0.95)
	NERConfidence     float64 `yaml:"ner_confidence"`     // Floor for NER hits (default: 0.70)
	LexiconConfidence float64 `yaml:"lexicon_confidence"` // Confidence for lexicon hits (default: 0.90)

	// NER selective-execution guards
	MinTextLengthForNER int           `yaml:"min_text_length_for_ner"` // Below this, NER is skipped (default: 20)
	NERTimeout          time.Duration `yaml:"-"`                       // Hard cap per NER invocation (default: 2s); file key: ner_timeout_seconds

	// Input limits
	MaxTextLength int `yaml:"max_text_length"` // Hard cap on accepted text length (default: 100000)

	// Languages the NER engine may run on (ISO codes, lowercase).
	SupportedNERLanguages []string `yaml:"supported_ner_languages"`

	// SourcePriority orders extraction sources, highest priority first.
	// Default: regex, ner, lexicon.
	SourcePriority []string `yaml:"source_priority"`

	// Engine master switches
	EngineRegexEnabled   bool `yaml:"engine_regex_enabled"`
	EngineNEREnabled     bool `yaml:"engine_ner_enabled"`
	EngineLexiconEnabled bool `yaml:"engine_lexicon_enabled"`

	// EntityTypesEnabled maps entity type to enabled flag.
	// Types absent from the map default to enabled.
	EntityTypesEnabled map[string]bool `yaml:"entity_types_enabled"`

	// BlacklistValues lists entity values dropped case-insensitively.
	BlacklistValues []string `yaml:"blacklist_values"`

	// NERModelName is the identifier passed to the NER adapter. It is also
	// stamped as the version of every NER-produced entity.
	NERModelName string `yaml:"ner_model_name"`

	// Rule versioning
	RegexRuleVersion string `yaml:"regex_rule_version"`
	LexiconVersion   string `yaml:"lexicon_version"`
}

// Default returns a config with all built-in defaults.
func Default() *PipelineConfig {
	return &PipelineConfig{
		RegexConfidence:       0.95,
		NERConfidence:         0.70,
		LexiconConfidence:     0.90,
		MinTextLengthForNER:   20,
		NERTimeout:            2 * time.Second,
		MaxTextLength:         100_000,
		SupportedNERLanguages: []string{"it", "en"},
		SourcePriority:        []string{"regex", "ner", "lexicon"},
		EngineRegexEnabled:    true,
		EngineNEREnabled:      true,
		EngineLexiconEnabled:  true,
		EntityTypesEnabled:    map[string]bool{},
		BlacklistValues:       []string{},
		NERModelName:          "",
		RegexRuleVersion:      "regex-v1.0",
		LexiconVersion:        "lexicon-v1.0",
	}
}

// FromEnv builds a config from defaults, then an optional config file named
// by NER_CONFIG_FILE (YAML or JSON), then individual NER_* environment
// variable overrides. It never fails: an unreadable or malformed file is
// reported as a warning and the remaining sources still apply; an
// unparseable environment value is ignored without a warning and the
// previous value is kept.
func FromEnv() (*PipelineConfig, []string) {
	cfg := Default()
	var warnings []string

	if path := os.Getenv("NER_CONFIG_FILE"); path != "" {
		warnings = append(warnings, cfg.applyFile(path)...)
	}
	cfg.applyEnvOverrides()
	return cfg, warnings
}

// applyFile merges a YAML or JSON config file into cfg. Unknown keys are
// ignored with a warning. YAML is a superset of JSON, so a single decoder
// covers both formats.
func (c *PipelineConfig) applyFile(path string) []string {
	var warnings []string

	data, err := os.ReadFile(path)
	if err != nil {
		return []string{fmt.Sprintf("config: cannot read %s: %v", path, err)}
	}

	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return []string{fmt.Sprintf("config: cannot parse %s: %v", path, err)}
	}
	for key := range raw {
		if !knownFileKeys[key] {
			warnings = append(warnings, fmt.Sprintf("config: unknown key %q in %s ignored", key, path))
		}
	}

	// ner_timeout_seconds is a float in the file contract; decode it apart
	// from the duration field.
	var file struct {
		PipelineConfig    `yaml:",inline"`
		NERTimeoutSeconds *float64 `yaml:"ner_timeout_seconds"`
	}
	file.PipelineConfig = *c
	file.NERTimeoutSeconds = nil
	if err := yaml.Unmarshal(data, &file); err != nil {
		return append(warnings, fmt.Sprintf("config: cannot decode %s: %v", path, err))
	}
	*c = file.PipelineConfig
	if file.NERTimeoutSeconds != nil {
		c.NERTimeout = time.Duration(*file.NERTimeoutSeconds * float64(time.Second))
	}
	return warnings
}

// knownFileKeys enumerates the accepted config file keys.
var knownFileKeys = map[string]bool{
	"regex_confidence":        true,
	"ner_confidence":          true,
	"lexicon_confidence":      true,
	"min_text_length_for_ner": true,
	"ner_timeout_seconds":     true,
	"max_text_length":         true,
	"supported_ner_languages": true,
	"source_priority":         true,
	"engine_regex_enabled":    true,
	"engine_ner_enabled":      true,
	"engine_lexicon_enabled":  true,
	"entity_types_enabled":    true,
	"blacklist_values":        true,
	"ner_model_name":          true,
	"regex_rule_version":      true,
	"lexicon_version":         true,
}

// applyEnvOverrides applies individual NER_* environment variables to cfg.
func (c *PipelineConfig) applyEnvOverrides() {
	c.RegexConfidence = getEnvFloat("NER_REGEX_CONFIDENCE", c.RegexConfidence)
	c.NERConfidence = getEnvFloat("NER_NER_CONFIDENCE", c.NERConfidence)
	c.LexiconConfidence = getEnvFloat("NER_LEXICON_CONFIDENCE", c.LexiconConfidence)
	c.MinTextLengthForNER = getEnvInt("NER_MIN_TEXT_LENGTH_FOR_NER", c.MinTextLengthForNER)
	c.MaxTextLength = getEnvInt("NER_MAX_TEXT_LENGTH", c.MaxTextLength)
	c.NERModelName = getEnv("NER_MODEL_NAME", c.NERModelName)

	if secs := getEnvFloat("NER_NER_TIMEOUT_SECONDS", -1); secs >= 0 {
		c.NERTimeout = time.Duration(secs * float64(time.Second))
	}
	if langs := getEnvCSV("NER_SUPPORTED_LANGUAGES"); langs != nil {
		c.SupportedNERLanguages = langs
	}
	if priority := getEnvCSV("NER_SOURCE_PRIORITY"); priority != nil {
		c.SourcePriority = priority
	}
	if blacklist := getEnvCSV("NER_BLACKLIST"); blacklist != nil {
		c.BlacklistValues = blacklist
	}

	c.EngineRegexEnabled = getEnvBool("NER_ENGINE_REGEX_ENABLED", c.EngineRegexEnabled)
	c.EngineNEREnabled = getEnvBool("NER_ENGINE_NER_ENABLED", c.EngineNEREnabled)
	c.EngineLexiconEnabled = getEnvBool("NER_ENGINE_LEXICON_ENABLED", c.EngineLexiconEnabled)
}

// IsEntityTypeEnabled reports whether the given entity type is enabled.
// Unknown types default to enabled.
func (c *PipelineConfig) IsEntityTypeEnabled(entityType string) bool {
	enabled, ok := c.EntityTypesEnabled[entityType]
	if !ok {
		return true
	}
	return enabled
}

// IsLanguageSupported reports whether the NER engine may run for language.
func (c *PipelineConfig) IsLanguageSupported(language string) bool {
	language = strings.ToLower(language)
	for _, l := range c.SupportedNERLanguages {
		if strings.ToLower(l) == language {
			return true
		}
	}
	return false
}

// SourceRank returns the priority rank of a source: lower is higher priority.
// Sources absent from SourcePriority rank after every listed source.
func (c *PipelineConfig) SourceRank(source string) int {
	for i, s := range c.SourcePriority {
		if s == source {
			return i
		}
	}
	return len(c.SourcePriority)
}

// FeatureFlags returns the engine flags as reported in the output envelope.
func (c *PipelineConfig) FeatureFlags() map[string]bool {
	return map[string]bool{
		"engine_regex":   c.EngineRegexEnabled,
		"engine_ner":     c.EngineNEREnabled,
		"engine_lexicon": c.EngineLexiconEnabled,
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value when unset or unparseable.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value when unset or unparseable.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" and "false", "0", "no"
// (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultValue
}

// getEnvCSV retrieves a comma-separated environment variable as a trimmed
// slice, or nil when unset.
func getEnvCSV(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
