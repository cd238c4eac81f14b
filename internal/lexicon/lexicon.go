// Package lexicon implements gazetteer-based entity lookup. A lexicon maps
// an entity label (category) to lemma entries with their surface forms;
// matches are case-insensitive on whole words and the produced entity keeps
// the original casing from the text.
//
// The entity type is always the category key, never the lemma: a lexicon
// {"AZIENDA": [{Lemma: "ACME"}]} yields entities of type AZIENDA with
// value "ACME".
package lexicon

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/triagelab/extract/pkg/config"
	"github.com/triagelab/extract/pkg/types"
)

// Entry is one gazetteer lemma with optional alternative surface forms.
// When SurfaceForms is empty, the lemma itself is the only form matched.
type Entry struct {
	Lemma        string   `yaml:"lemma" json:"lemma"`
	SurfaceForms []string `yaml:"surface_forms,omitempty" json:"surface_forms,omitempty"`
	Confidence   float64  `yaml:"confidence,omitempty" json:"confidence,omitempty"` // 0 = use config default
}

// Lexicon maps entity labels to their gazetteer entries.
type Lexicon map[string][]Entry

// Extract scans text for every surface form in the lexicon and returns
// matched entities with source=lexicon. Labels are scanned in sorted order
// so candidate ordering is deterministic across runs.
func Extract(text string, lex Lexicon, cfg *config.PipelineConfig) []types.Entity {
	if len(lex) == 0 {
		return nil
	}

	// strings.ToLower preserves byte offsets for the character repertoire
	// of triage lexicons; fall back to case-sensitive scanning otherwise.
	lowerText := strings.ToLower(text)
	foldCase := len(lowerText) == len(text)
	if !foldCase {
		lowerText = text
	}

	labels := make([]string, 0, len(lex))
	for label := range lex {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var entities []types.Entity
	for _, label := range labels {
		if !cfg.IsEntityTypeEnabled(label) {
			continue
		}
		for _, entry := range lex[label] {
			confidence := entry.Confidence
			if confidence == 0 {
				confidence = cfg.LexiconConfidence
			}
			for _, form := range entry.forms() {
				entities = appendMatches(entities, text, lowerText, form, label, confidence, foldCase, cfg)
			}
		}
	}
	return entities
}

// forms returns the surface forms to match for this entry.
func (e Entry) forms() []string {
	if len(e.SurfaceForms) > 0 {
		return e.SurfaceForms
	}
	if e.Lemma != "" {
		return []string{e.Lemma}
	}
	return nil
}

// appendMatches finds whole-word occurrences of form and appends one entity
// per match. The value is sliced from the original text, preserving casing.
func appendMatches(entities []types.Entity, text, lowerText, form, label string, confidence float64, foldCase bool, cfg *config.PipelineConfig) []types.Entity {
	lowerForm := strings.ToLower(form)
	if !foldCase || lowerForm == "" || len(lowerForm) != len(form) {
		lowerForm = form
	}

	for pos := 0; pos < len(lowerText); {
		idx := strings.Index(lowerText[pos:], lowerForm)
		if idx < 0 {
			break
		}
		start := pos + idx
		end := start + len(lowerForm)

		if isWordBoundary(lowerText, start, end) {
			value := text[start:end]
			if strings.TrimSpace(value) != "" {
				entities = append(entities, types.Entity{
					Type:       label,
					Value:      value,
					Span:       types.Span{Start: start, End: end},
					Confidence: confidence,
					Source:     types.SourceLexicon,
					Version:    cfg.LexiconVersion,
				})
			}
		}
		pos = start + 1
	}
	return entities
}

// isWordBoundary reports whether s[start:end] is not glued to adjacent
// letters or digits.
func isWordBoundary(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
