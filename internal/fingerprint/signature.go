package fingerprint

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/unicode/norm"
)

// signatureSeparator joins the sorted field:value pairs.
const signatureSeparator = "|"

var (
	foldCaser   = cases.Fold()
	markStripper = runes.Remove(runes.In(unicode.Mn))
)

// NormalizeFieldName collapses a field name to a canonical token so that
// variants like "Loan #", "loan_number" and "LoanNumber" collide. The name
// is NFD-decomposed, stripped of combining marks, case-folded, and reduced
// to letters and digits.
func NormalizeFieldName(name string) string {
	s := norm.NFD.String(name)
	s = markStripper.String(s)
	s = foldCaser.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	// Common field-name suffix noise: "number" vs "no" vs "num" stay
	// distinct; only separators and case are normalized away.
	return b.String()
}

// normalizeValue canonicalizes an extracted value for signature purposes:
// case-folded with collapsed whitespace.
func normalizeValue(v string) string {
	fields := strings.Fields(foldCaser.String(v))
	return strings.Join(fields, " ")
}

// ContentSignature builds the ordered, normalized field:value concatenation
// for a structured-extraction payload. Pairs are sorted so the signature is
// independent of extraction order. Returns "" for an empty payload.
func ContentSignature(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}

	var root any
	if err := json.Unmarshal(payload, &root); err != nil {
		return "", eris.Wrap(err, "fingerprint: parse extraction payload")
	}

	pairs := flattenPayload("", root)
	if len(pairs) == 0 {
		return "", nil
	}
	sort.Strings(pairs)
	return strings.Join(pairs, signatureSeparator), nil
}

// flattenPayload walks an arbitrary decoded JSON value and emits normalized
// "field:value" tokens. Nested object keys are joined before normalization
// so "borrower.name" and "borrowerName" collide.
func flattenPayload(prefix string, v any) []string {
	switch val := v.(type) {
	case map[string]any:
		var out []string
		for k, child := range val {
			key := k
			if prefix != "" {
				key = prefix + " " + k
			}
			out = append(out, flattenPayload(key, child)...)
		}
		return out
	case []any:
		var out []string
		for _, child := range val {
			out = append(out, flattenPayload(prefix, child)...)
		}
		return out
	case nil:
		return nil
	default:
		field := NormalizeFieldName(prefix)
		value := normalizeValue(fmt.Sprintf("%v", val))
		if field == "" && value == "" {
			return nil
		}
		return []string{field + ":" + value}
	}
}

// SignatureTokens splits a content signature into its field:value token set
// for Jaccard comparison.
func SignatureTokens(signature string) map[string]bool {
	tokens := make(map[string]bool)
	if signature == "" {
		return tokens
	}
	for _, tok := range strings.Split(signature, signatureSeparator) {
		if tok != "" {
			tokens[tok] = true
		}
	}
	return tokens
}
