package lexicon

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a gazetteer from a YAML (or JSON) file shaped as
//
//	AZIENDA:
//	  - lemma: ACME
//	    surface_forms: [ACME, "ACME S.p.A."]
//
// Entries without a lemma and without surface forms are rejected.
func LoadFile(path string) (Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: read %s: %w", path, err)
	}
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("lexicon: parse %s: %w", path, err)
	}
	for label, entries := range lex {
		for i, entry := range entries {
			if entry.Lemma == "" && len(entry.SurfaceForms) == 0 {
				return nil, fmt.Errorf("lexicon: %s entry %d has no lemma and no surface forms", label, i)
			}
		}
	}
	return lex, nil
}
