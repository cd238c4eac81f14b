package regexengine

import "regexp"

// Rule is a single curated pattern producing entities of one type.
// Confidence and Version override the config-level defaults when set,
// so deployments can ship per-rule calibration without a code change.
type Rule struct {
	Type       string         // Entity type emitted by this rule
	Pattern    *regexp.Regexp // Compiled pattern
	Group      int            // Submatch group to emit; 0 = whole match
	Uppercase  bool           // Uppercase the matched value on output
	Confidence float64        // Optional per-rule confidence override (0 = use config)
	Version    string         // Optional per-rule version override ("" = use config)
}

// Compiled patterns for the default rule set.
//
// Order matters for documentation only: the resolver, not rule order,
// decides conflicts. Anchoring decisions:
//
//   - PARTITAIVA requires an IT prefix or a P.IVA label anchor; bare
//     11-digit runs must not match.
//   - TELEFONO is three disjoint shapes (+39 international, 0-prefixed
//     landline, 3-prefixed mobile); arbitrary digit runs must not match.
var (
	// RFC-5322-lite: local part, @, domain with at least one dot.
	reEmail = regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`)

	// Italian fiscal code: 6 letters, 2 digits, 1 letter, 2 digits,
	// 1 letter, 3 digits, 1 control letter.
	reCodiceFiscale = regexp.MustCompile(`(?i)\b[A-Z]{6}\d{2}[A-Z]\d{2}[A-Z]\d{3}[A-Z]\b`)

	// VAT number with explicit IT country prefix.
	rePartitaIVAPrefixed = regexp.MustCompile(`(?i)\bIT\s?\d{11}\b`)
	// VAT number anchored by a P.IVA / partita iva label within a small
	// window; only the digits are emitted.
	rePartitaIVALabeled = regexp.MustCompile(`(?i)(?:P\.?\s?IVA|partita\s+iva)[\s:]{0,3}(\d{11})\b`)

	// IBAN: country code, check digits, 11-30 alphanumerics (15-34 total).
	reIBAN = regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)

	// Phone, international: +39 with optional space, then 9-10 digits.
	rePhoneIntl = regexp.MustCompile(`\+39 ?\d{9,10}\b`)
	// Phone, landline: leading 0, area code, separator, subscriber digits.
	rePhoneLandline = regexp.MustCompile(`\b0\d{1,3}[ .\-]?\d{6,8}\b`)
	// Phone, mobile: leading 3, then 9 more digits with optional separators.
	rePhoneMobile = regexp.MustCompile(`\b3\d{2}[ .\-]?\d{3}[ .\-]?\d{4}\b`)

	// Date: dd/mm/yyyy or dd-mm-yyyy with valid day/month ranges.
	// Two-digit years are accepted and expanded during canonicalization.
	reDate = regexp.MustCompile(`\b(?:0?[1-9]|[12]\d|3[01])[/\-](?:0?[1-9]|1[0-2])[/\-](?:\d{4}|\d{2})\b`)

	// Amount adjacent to the euro sign, prefix or suffix form. Accepts
	// thousands-dot grouping and a comma or point decimal part.
	reAmountPrefix = regexp.MustCompile(`€ ?(?:\d{1,3}(?:\.\d{3})+|\d+)(?:[.,]\d{1,2})?`)
	reAmountSuffix = regexp.MustCompile(`(?:\d{1,3}(?:\.\d{3})+|\d+)(?:[.,]\d{1,2})? ?€`)

	// Case reference: PRAT-style label followed by a digit-led reference,
	// or a generic "N. 123456" reference. The digit requirement keeps plain
	// prose after the word "pratica" from matching.
	rePraticaLabeled  = regexp.MustCompile(`(?i)\b(?:PRATICA|PRAT|PRT)[ /\-.]?\d[\dA-Z\-]{3,}\b`)
	rePraticaNumbered = regexp.MustCompile(`(?i)\bNr?\. ?\d{4,10}\b`)
)

// DefaultRules returns the curated pattern set for Italian email triage.
// The slice is freshly allocated on every call; callers may reorder or
// extend it without affecting other runs.
func DefaultRules() []Rule {
	return []Rule{
		{Type: "EMAIL", Pattern: reEmail},
		{Type: "CODICEFISCALE", Pattern: reCodiceFiscale, Uppercase: true},
		{Type: "PARTITAIVA", Pattern: rePartitaIVAPrefixed, Uppercase: true},
		{Type: "PARTITAIVA", Pattern: rePartitaIVALabeled, Group: 1},
		{Type: "IBAN", Pattern: reIBAN},
		{Type: "TELEFONO", Pattern: rePhoneIntl},
		{Type: "TELEFONO", Pattern: rePhoneLandline},
		{Type: "TELEFONO", Pattern: rePhoneMobile},
		{Type: "DATA", Pattern: reDate},
		{Type: "IMPORTO", Pattern: reAmountPrefix},
		{Type: "IMPORTO", Pattern: reAmountSuffix},
		{Type: "NUMERO_PRATICA", Pattern: rePraticaLabeled},
		{Type: "NUMERO_PRATICA", Pattern: rePraticaNumbered},
	}
}
