// Package postfilter applies the post-extraction filters after the
// resolver, in fixed order: empty-guard, blacklist, type flags, canonical
// format. Canonicalization rewrites only the value; spans keep pointing at
// the original substring of the normalized text.
package postfilter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/triagelab/extract/pkg/config"
	"github.com/triagelab/extract/pkg/types"
)

// ApplyAll runs every post-extraction filter in the canonical order.
func ApplyAll(entities []types.Entity, cfg *config.PipelineConfig) []types.Entity {
	entities = FilterEmpty(entities)
	entities = ApplyBlacklist(entities, cfg.BlacklistValues)
	entities = ApplyTypeFlags(entities, cfg)
	entities = CanonicalFormat(entities)
	return entities
}

// FilterEmpty drops entities with an empty or whitespace-only value.
// Final safety net: the resolver already enforces this, but filters run on
// whatever list they are handed.
func FilterEmpty(entities []types.Entity) []types.Entity {
	out := make([]types.Entity, 0, len(entities))
	for _, e := range entities {
		if e.IsValid() {
			out = append(out, e)
		}
	}
	return out
}

// ApplyBlacklist drops entities whose value matches a blacklist entry,
// case-insensitively.
func ApplyBlacklist(entities []types.Entity, blacklist []string) []types.Entity {
	if len(blacklist) == 0 {
		return entities
	}
	blocked := make(map[string]bool, len(blacklist))
	for _, v := range blacklist {
		blocked[strings.ToLower(v)] = true
	}
	out := make([]types.Entity, 0, len(entities))
	for _, e := range entities {
		if !blocked[strings.ToLower(e.Value)] {
			out = append(out, e)
		}
	}
	return out
}

// ApplyTypeFlags drops entities whose type is explicitly disabled.
// Unknown types default to enabled.
func ApplyTypeFlags(entities []types.Entity, cfg *config.PipelineConfig) []types.Entity {
	out := make([]types.Entity, 0, len(entities))
	for _, e := range entities {
		if cfg.IsEntityTypeEnabled(e.Type) {
			out = append(out, e)
		}
	}
	return out
}

var (
	dateRE = regexp.MustCompile(`^(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{2,4})$`)
	// Amount with dot-grouped thousands and an optional comma decimal part.
	amountCommaRE = regexp.MustCompile(`^(\d{1,3}(?:\.\d{3})*|\d+)(?:,(\d{1,2}))?$`)
	// Amount written with a decimal point and no comma.
	amountPointRE = regexp.MustCompile(`^(\d+)\.(\d{1,2})$`)
)

// CanonicalFormat rewrites values to their canonical representation:
//
//   - DATA: ISO 8601 YYYY-MM-DD; two-digit years expand 00-49 to 2000s and
//     50-99 to 1900s.
//   - IMPORTO: plain decimal with dot separator and two fraction digits.
//   - CODICEFISCALE, PARTITAIVA: uppercase with whitespace removed.
//
// Values that do not parse are passed through unchanged; every other type
// is untouched.
func CanonicalFormat(entities []types.Entity) []types.Entity {
	out := make([]types.Entity, 0, len(entities))
	for _, e := range entities {
		switch e.Type {
		case "DATA":
			e = e.WithValue(canonicalDate(e.Value))
		case "IMPORTO":
			e = e.WithValue(canonicalAmount(e.Value))
		case "CODICEFISCALE", "PARTITAIVA":
			e = e.WithValue(strings.ToUpper(removeWhitespace(e.Value)))
		}
		out = append(out, e)
	}
	return out
}

// canonicalDate converts dd/mm/yyyy (or dd-mm-yyyy) to YYYY-MM-DD.
func canonicalDate(value string) string {
	m := dateRE.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return value
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if len(m[3]) == 2 {
		if year < 50 {
			year += 2000
		} else {
			year += 1900
		}
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}

// canonicalAmount converts euro amounts ("€ 1.234,56", "1500,5 €", "10.50")
// to a dot-decimal value with exactly two fraction digits.
func canonicalAmount(value string) string {
	cleaned := removeWhitespace(strings.ReplaceAll(value, "€", ""))

	if m := amountCommaRE.FindStringSubmatch(cleaned); m != nil {
		intPart := strings.ReplaceAll(m[1], ".", "")
		return intPart + "." + padDecimals(m[2])
	}
	if m := amountPointRE.FindStringSubmatch(cleaned); m != nil {
		return m[1] + "." + padDecimals(m[2])
	}
	return value
}

// padDecimals right-pads a decimal part to two digits ("" → "00", "5" → "50").
func padDecimals(dec string) string {
	switch len(dec) {
	case 0:
		return "00"
	case 1:
		return dec + "0"
	default:
		return dec
	}
}

func removeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
