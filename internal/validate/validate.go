// Package validate checks the raw input payload for the extraction pipeline
// and converts it into a typed ExtractionInput. Validation failures become
// values, never panics: hard failures are reported through ValidationError
// so the orchestrator can always emit a well-formed envelope.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/triagelab/extract/pkg/config"
	"github.com/triagelab/extract/pkg/types"
)

// htmlTagRE detects raw HTML tags. Upstream must strip HTML before this
// layer; any tag match rejects the input.
var htmlTagRE = regexp.MustCompile(`<[a-zA-Z/][^>]*>`)

// ValidationError carries every hard validation failure for one input.
type ValidationError struct {
	Errors []types.ExtractionError
}

// Error joins the individual field errors into one message.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Message)
	}
	return "validate: input validation failed: " + strings.Join(parts, "; ")
}

// requiredFields lists mandatory string fields in check order.
var requiredFields = []string{
	"id_conversazione",
	"id_messaggio",
	"testo_normalizzato",
	"timestamp",
	"mittente",
	"destinatario",
}

// Input validates a raw key-value payload against the input contract.
//
// Rules are checked in order: required-field presence, type coherence, text
// not whitespace-only, text length within bounds, no HTML tag pattern.
// A null lingua is a soft warning, not a rejection.
//
// On success it returns the typed input and any non-blocking warnings.
// On hard failure it returns a *ValidationError listing every field error.
func Input(raw map[string]any, cfg *config.PipelineConfig) (*types.ExtractionInput, []types.ExtractionError, error) {
	var errs []types.ExtractionError
	var warnings []types.ExtractionError

	fields := map[string]string{}
	for _, name := range requiredFields {
		value, ok := raw[name]
		if !ok || value == nil {
			errs = append(errs, fieldError(name, "required field is missing", "missing_field"))
			continue
		}
		s, ok := value.(string)
		if !ok {
			errs = append(errs, fieldError(name, fmt.Sprintf("expected string, got %T", value), "invalid_type"))
			continue
		}
		if name != "testo_normalizzato" && strings.TrimSpace(s) == "" {
			errs = append(errs, fieldError(name, "must not be empty", "empty_field"))
			continue
		}
		fields[name] = s
	}

	if text, ok := fields["testo_normalizzato"]; ok {
		switch {
		case strings.TrimSpace(text) == "":
			errs = append(errs, fieldError("testo_normalizzato",
				"must not be empty or whitespace-only", "empty_text"))
		case len(text) > cfg.MaxTextLength:
			errs = append(errs, fieldError("testo_normalizzato",
				fmt.Sprintf("exceeds maximum allowed length of %d chars (got %d)",
					cfg.MaxTextLength, len(text)), "text_too_long"))
		case htmlTagRE.MatchString(text):
			errs = append(errs, fieldError("testo_normalizzato",
				"must not contain raw HTML tags; strip HTML upstream", "html_detected"))
		}
	}

	lingua, linguaWarn, linguaErr := validateLingua(raw["lingua"])
	if linguaErr != nil {
		errs = append(errs, *linguaErr)
	}
	if linguaWarn != nil {
		warnings = append(warnings, *linguaWarn)
	}

	if len(errs) > 0 {
		return nil, warnings, &ValidationError{Errors: errs}
	}

	in := &types.ExtractionInput{
		IDConversazione:   fields["id_conversazione"],
		IDMessaggio:       fields["id_messaggio"],
		TestoNormalizzato: fields["testo_normalizzato"],
		Lingua:            lingua,
		Timestamp:         fields["timestamp"],
		Mittente:          fields["mittente"],
		Destinatario:      fields["destinatario"],
	}
	warnings = append(warnings, applyOptionalFields(in, raw)...)
	return in, warnings, nil
}

// validateLingua handles the nullable language field. Null or absent is a
// soft warning; a present non-string or empty string is a hard error.
// Accepted values are lowercased.
func validateLingua(value any) (*string, *types.ExtractionError, *types.ExtractionError) {
	if value == nil {
		w := fieldError("lingua",
			"lingua is null; NER engine will be skipped for this message", "null_language")
		return nil, &w, nil
	}
	s, ok := value.(string)
	if !ok {
		e := fieldError("lingua", fmt.Sprintf("expected string or null, got %T", value), "invalid_type")
		return nil, nil, &e
	}
	if strings.TrimSpace(s) == "" {
		e := fieldError("lingua", "must be a non-empty string or null", "empty_field")
		return nil, nil, &e
	}
	lower := strings.ToLower(s)
	return &lower, nil, nil
}

// applyOptionalFields copies optional upstream fields onto the input.
// Wrong-typed optional fields are ignored with a warning.
func applyOptionalFields(in *types.ExtractionInput, raw map[string]any) []types.ExtractionError {
	var warnings []types.ExtractionError

	if value, ok := raw["pre_annotazioni"]; ok && value != nil {
		if list, ok := toMapSlice(value); ok {
			in.PreAnnotazioni = list
		} else {
			warnings = append(warnings, fieldError("pre_annotazioni",
				"expected list of objects; field ignored", "invalid_type"))
		}
	}
	if value, ok := raw["regole_routing"]; ok && value != nil {
		if list, ok := toStringSlice(value); ok {
			in.RegoleRouting = list
		} else {
			warnings = append(warnings, fieldError("regole_routing",
				"expected list of strings; field ignored", "invalid_type"))
		}
	}
	if value, ok := raw["tag_upstream"]; ok && value != nil {
		if list, ok := toStringSlice(value); ok {
			in.TagUpstream = list
		} else {
			warnings = append(warnings, fieldError("tag_upstream",
				"expected list of strings; field ignored", "invalid_type"))
		}
	}
	return warnings
}

func toStringSlice(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func toMapSlice(value any) ([]map[string]any, bool) {
	switch v := value.(type) {
	case []map[string]any:
		return v, true
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	}
	return nil, false
}

func fieldError(field, message, errType string) types.ExtractionError {
	return types.ExtractionError{Field: field, Message: message, Type: errType}
}
