// Package regexengine produces candidate entities from a curated regex
// rule set applied to the normalized text. It is the high-precision engine
// of the pipeline: patterns are anchored so ambiguous digit runs never
// match, and the resolver gives regex hits the highest default priority.
package regexengine

import (
	"strings"

	"github.com/triagelab/extract/pkg/config"
	"github.com/triagelab/extract/pkg/types"
)

// Extract applies rules to text and returns candidate entities with
// source=regex. Rules whose entity type is disabled in the config are not
// evaluated. Empty or whitespace-only matches are dropped.
func Extract(text string, rules []Rule, cfg *config.PipelineConfig) []types.Entity {
	// ~1 entity per 200 bytes is a workable pre-allocation heuristic.
	entities := make([]types.Entity, 0, len(text)/200+8)

	for _, rule := range rules {
		if !cfg.IsEntityTypeEnabled(rule.Type) {
			continue
		}

		confidence := rule.Confidence
		if confidence == 0 {
			confidence = cfg.RegexConfidence
		}
		version := rule.Version
		if version == "" {
			version = cfg.RegexRuleVersion
		}

		for _, m := range rule.Pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			if rule.Group > 0 && 2*rule.Group+1 < len(m) && m[2*rule.Group] >= 0 {
				start, end = m[2*rule.Group], m[2*rule.Group+1]
			}
			value := text[start:end]
			if strings.TrimSpace(value) == "" {
				continue
			}
			if rule.Uppercase {
				value = strings.ToUpper(value)
			}

			entities = append(entities, types.Entity{
				Type:       rule.Type,
				Value:      value,
				Span:       types.Span{Start: start, End: end},
				Confidence: confidence,
				Source:     types.SourceRegex,
				Version:    version,
			})
		}
	}

	return entities
}
