package resolvers

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed synonyms.yaml
var synonymsYAML []byte

type Synonym struct {
	Canonical string   `yaml:"canonical"`
	Synonyms  []string `yaml:"synonyms"`
}

// SynonymTable is ordered: the first matching entry names the treatment.
type SynonymTable []Synonym

func LoadSynonyms(b []byte) (SynonymTable, error) {
	var t SynonymTable
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("parse synonyms: %w", err)
	}
	for i := range t {
		t[i].Canonical = strings.ToLower(strings.TrimSpace(t[i].Canonical))
		if t[i].Canonical == "" {
			return nil, fmt.Errorf("parse synonyms: entry %d has no canonical name", i)
		}
		for j, s := range t[i].Synonyms {
			t[i].Synonyms[j] = strings.ToLower(strings.TrimSpace(s))
		}
	}
	return t, nil
}

var defaultSynonyms = mustLoadSynonyms(synonymsYAML)

func mustLoadSynonyms(b []byte) SynonymTable {
	t, err := LoadSynonyms(b)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultSynonyms returns the embedded table.
func DefaultSynonyms() SynonymTable { return defaultSynonyms }

// NormalizeTreatmentName maps free text like "RCT-32,33" to "Root Canal Treatment".
func NormalizeTreatmentName(name string) string {
	return defaultSynonyms.Normalize(name)
}

func (t SynonymTable) Normalize(treatmentName string) string {
	name := strings.ToLower(strings.TrimSpace(treatmentName))
	if name == "" {
		return "Unknown Treatment"
	}
	for _, e := range t {
		if strings.Contains(name, strings.Replace(e.Canonical, " ", "", 1)) || e.mentionedIn(name) {
			return titleWords(e.Canonical)
		}
	}
	switch {
	case strings.Contains(name, "ract"), strings.Contains(name, "rct"), strings.Contains(name, "root"):
		return "Root Canal Treatment"
	case strings.Contains(name, "impaction"):
		return "Extraction"
	case strings.Contains(name, "implant"):
		return "Implant"
	}
	return titleCase(strings.TrimSpace(treatmentName))
}

func (e Synonym) mentionedIn(s string) bool {
	for _, syn := range e.Synonyms {
		if syn != "" && strings.Contains(s, syn) {
			return true
		}
	}
	return false
}

// related reports whether s names this entry by canonical or synonym.
func (e Synonym) related(s string) bool {
	return strings.Contains(s, e.Canonical) || e.mentionedIn(s)
}

// Matches reports whether a stored treatment answers a search term.
func (t SynonymTable) Matches(search, original, normalized string) bool {
	q := strings.ToLower(strings.TrimSpace(search))
	orig := strings.ToLower(original)
	norm := strings.ToLower(normalized)
	if q == "" {
		return false
	}
	if strings.Contains(orig, q) || strings.Contains(norm, q) {
		return true
	}
	for _, e := range t {
		if !e.related(q) {
			continue
		}
		if strings.Contains(norm, e.Canonical) || e.related(orig) {
			return true
		}
	}
	return false
}

var (
	fdiToothRe    = regexp.MustCompile(`\b([1-4][1-8])\b`)
	toothListRe   = regexp.MustCompile(`[-\s](\d+(?:[,\s]+\d+)+)`)
	toothSplitter = regexp.MustCompile(`[,\s]+`)
)

// ToothCount is the number of distinct FDI teeth (11-48) a treatment names,
// falling back to a plain number list, and 1 when none is written.
func ToothCount(treatmentName string) int {
	if treatmentName == "" {
		return 1
	}
	if matches := fdiToothRe.FindAllString(treatmentName, -1); len(matches) > 0 {
		seen := make(map[string]struct{}, len(matches))
		for _, m := range matches {
			seen[m] = struct{}{}
		}
		return len(seen)
	}
	if m := toothListRe.FindStringSubmatch(treatmentName); m != nil {
		n := 0
		for _, part := range toothSplitter.Split(m[1], -1) {
			if strings.TrimSpace(part) != "" {
				n++
			}
		}
		if n > 0 {
			return n
		}
	}
	return 1
}

func upperFirst(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	if r == utf8.RuneError {
		return w
	}
	return string(unicode.ToUpper(r)) + w[size:]
}

// titleWords upper-cases the first letter of each word.
func titleWords(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		words[i] = upperFirst(w)
	}
	return strings.Join(words, " ")
}

// titleCase also lower-cases the rest of each word.
func titleCase(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		words[i] = upperFirst(strings.ToLower(w))
	}
	return strings.Join(words, " ")
}
