// Package normalize applies deterministic text canonicalization before
// entity extraction. It never contradicts upstream normalization, it only
// completes it.
//
// Four steps run in a fixed order:
//
//  1. Unicode NFKC compatibility normalization.
//  2. Strip leading/trailing whitespace.
//  3. Collapse runs of spaces and tabs to a single space.
//  4. Collapse runs of newlines to a single newline.
//
// The transformation is idempotent: normalizing an already-normalized text
// is a no-op. Every step is recorded in a Log so the transformation can be
// replayed offline for audit.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	multiSpaceRE   = regexp.MustCompile(`[ \t]+`)
	multiNewlineRE = regexp.MustCompile(`\n{2,}`)
)

// Step records a single transformation applied to the text.
type Step struct {
	Name        string `json:"name"`         // Short identifier, e.g. "strip"
	Description string `json:"description"`  // What was changed
	CharsBefore int    `json:"chars_before"` // Text length before this step
	CharsAfter  int    `json:"chars_after"`  // Text length after this step
}

// Log is the ordered list of transformations applied during one run.
// It lives only for the duration of the run and feeds audit logging.
type Log struct {
	Steps []Step `json:"steps"`
}

func (l *Log) add(name, description string, before, after int) {
	l.Steps = append(l.Steps, Step{
		Name:        name,
		Description: description,
		CharsBefore: before,
		CharsAfter:  after,
	})
}

// Text normalizes the input and returns the transformed text together with
// the replayable step log. All four steps are always applied and logged,
// also when they change nothing.
func Text(text string) (string, *Log) {
	log := &Log{}
	current := text

	before := len(current)
	current = norm.NFKC.String(current)
	log.add("unicode_nfkc",
		"Unicode NFKC normalization (resolves ligatures, full-width chars)",
		before, len(current))

	before = len(current)
	current = strings.TrimSpace(current)
	log.add("strip",
		"Stripped leading and trailing whitespace",
		before, len(current))

	before = len(current)
	current = multiSpaceRE.ReplaceAllString(current, " ")
	log.add("dedup_spaces",
		"Collapsed runs of spaces and tabs to a single space",
		before, len(current))

	before = len(current)
	current = multiNewlineRE.ReplaceAllString(current, "\n")
	log.add("dedup_newlines",
		"Collapsed runs of newlines to a single newline",
		before, len(current))

	return current, log
}
