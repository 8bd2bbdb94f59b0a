package resolve

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Tuning holds the keyword tables that map extracted indicator strings to
// sort-key scores. The defaults implement the standard ladder (final=3,
// unset=2, preliminary=1, draft=0 and complete=3, partial=2, incomplete=1,
// unknown=0); a YAML override file can extend them with lender-specific
// vocabulary without a release.
type Tuning struct {
	VersionPriority map[string]int `yaml:"version_priority"`
	Completeness    map[string]int `yaml:"completeness"`
}

const (
	versionPriorityUnset = 2
	completenessUnknown  = 0
)

// DefaultTuning returns the built-in keyword tables.
func DefaultTuning() Tuning {
	return Tuning{
		VersionPriority: map[string]int{
			"final":       3,
			"executed":    3,
			"preliminary": 1,
			"prelim":      1,
			"draft":       0,
		},
		Completeness: map[string]int{
			"complete":   3,
			"partial":    2,
			"incomplete": 1,
		},
	}
}

// LoadTuning reads a YAML override file and merges it over the defaults.
// An empty path returns the defaults unchanged.
func LoadTuning(path string) (Tuning, error) {
	tuning := DefaultTuning()
	if path == "" {
		return tuning, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tuning, eris.Wrap(err, "resolve: read tuning file")
	}

	var override Tuning
	if err := yaml.Unmarshal(data, &override); err != nil {
		return tuning, eris.Wrap(err, "resolve: parse tuning file")
	}

	for k, v := range override.VersionPriority {
		tuning.VersionPriority[normalizeKeyword(k)] = v
	}
	for k, v := range override.Completeness {
		tuning.Completeness[normalizeKeyword(k)] = v
	}
	return tuning, nil
}

// VersionScore maps a version-indicator string to its priority. Unset and
// unrecognized indicators both score as the middle rung: a document that
// says nothing about its version outranks an admitted draft.
func (t Tuning) VersionScore(indicator string) int {
	key := normalizeKeyword(indicator)
	if key == "" {
		return versionPriorityUnset
	}
	if score, ok := t.VersionPriority[key]; ok {
		return score
	}
	return versionPriorityUnset
}

// CompletenessScore maps a completeness string to its score; unknown is 0.
func (t Tuning) CompletenessScore(completeness string) int {
	if score, ok := t.Completeness[normalizeKeyword(completeness)]; ok {
		return score
	}
	return completenessUnknown
}

// VersionWord returns the canonical display word for a scored indicator,
// used when assembling audit reasons.
func (t Tuning) VersionWord(indicator string) string {
	return normalizeKeyword(indicator)
}

func normalizeKeyword(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
