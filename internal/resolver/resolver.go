// Package resolver merges the candidate lists from every engine into the
// canonical entity list. It deduplicates exact matches, resolves same-type
// span conflicts by source priority, and emits a deterministically ordered
// result. Input entities are never mutated; the resolver reassembles a new
// list.
package resolver

import (
	"sort"
	"strings"

	"github.com/triagelab/extract/pkg/config"
	"github.com/triagelab/extract/pkg/types"
)

// dedupKey identifies an exact duplicate: same type, same value ignoring
// case, same span.
type dedupKey struct {
	entityType string
	value      string
	start, end int
}

// Merge resolves the merged candidate list into the canonical output list.
//
// Steps:
//  1. Drop invalid entities (empty value or malformed span).
//  2. Exact dedup by (type, lowercased value, span); the representative is
//     chosen by source priority, then higher confidence, then input order.
//  3. Conflict resolution on overlapping spans of the same type: source
//     priority, then confidence, then longer span, then earlier start.
//  4. Stable sort by (span.start, type, source).
//
// Overlapping entities of different types are both kept: the tie-break
// between type semantics belongs downstream, not to this layer.
func Merge(candidates []types.Entity, cfg *config.PipelineConfig) []types.Entity {
	valid := make([]types.Entity, 0, len(candidates))
	for _, e := range candidates {
		if e.IsValid() {
			valid = append(valid, e)
		}
	}
	if len(valid) == 0 {
		return []types.Entity{}
	}

	deduped := dedupExact(valid, cfg)

	// Deterministic processing order for the greedy conflict pass: position,
	// then longest span, then source priority, then confidence. Stable sort
	// keeps input order as the final tie-break.
	sort.SliceStable(deduped, func(i, j int) bool {
		a, b := deduped[i], deduped[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Span.End != b.Span.End {
			return a.Span.End > b.Span.End
		}
		if ra, rb := cfg.SourceRank(a.Source), cfg.SourceRank(b.Source); ra != rb {
			return ra < rb
		}
		return a.Confidence > b.Confidence
	})

	merged := resolveConflicts(deduped, cfg)

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Source < b.Source
	})
	return merged
}

// dedupExact keeps one representative per (type, lowercased value, span)
// group. Within a group the winner has the highest-priority source, then
// the highest confidence; on full ties the earliest input entity stays.
func dedupExact(entities []types.Entity, cfg *config.PipelineConfig) []types.Entity {
	byKey := make(map[dedupKey]int, len(entities))
	out := make([]types.Entity, 0, len(entities))

	for _, e := range entities {
		key := dedupKey{
			entityType: e.Type,
			value:      strings.ToLower(e.Value),
			start:      e.Span.Start,
			end:        e.Span.End,
		}
		idx, seen := byKey[key]
		if !seen {
			byKey[key] = len(out)
			out = append(out, e)
			continue
		}
		if prefers(e, out[idx], cfg) {
			out[idx] = e
		}
	}
	return out
}

// prefers reports whether candidate should replace incumbent inside a
// dedup group: strictly better source priority, or same priority with
// strictly higher confidence. Equal entities keep the incumbent, which
// preserves stable input order.
func prefers(candidate, incumbent types.Entity, cfg *config.PipelineConfig) bool {
	rc, ri := cfg.SourceRank(candidate.Source), cfg.SourceRank(incumbent.Source)
	if rc != ri {
		return rc < ri
	}
	return candidate.Confidence > incumbent.Confidence
}

// resolveConflicts runs the greedy same-type overlap resolution over
// candidates already sorted into deterministic processing order.
func resolveConflicts(candidates []types.Entity, cfg *config.PipelineConfig) []types.Entity {
	merged := make([]types.Entity, 0, len(candidates))

	for _, candidate := range candidates {
		conflict := -1
		for i, existing := range merged {
			if existing.Type == candidate.Type && candidate.Overlaps(existing) {
				conflict = i
				break
			}
		}
		if conflict < 0 {
			merged = append(merged, candidate)
			continue
		}
		merged[conflict] = pickWinner(merged[conflict], candidate, cfg)
	}
	return merged
}

// pickWinner applies the conflict rules between two overlapping entities of
// the same type: source priority, then confidence, then longer span, then
// earlier start.
func pickWinner(a, b types.Entity, cfg *config.PipelineConfig) types.Entity {
	if ra, rb := cfg.SourceRank(a.Source), cfg.SourceRank(b.Source); ra != rb {
		if ra < rb {
			return a
		}
		return b
	}
	if a.Confidence != b.Confidence {
		if a.Confidence > b.Confidence {
			return a
		}
		return b
	}
	if a.Span.Length() != b.Span.Length() {
		if a.Span.Length() > b.Span.Length() {
			return a
		}
		return b
	}
	if a.Span.Start <= b.Span.Start {
		return a
	}
	return b
}
