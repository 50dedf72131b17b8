package extractors

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aitastack/aita-fusion/internal/models"
)

// Vocabulary holds the attack-pattern terms matched against threat text.
type Vocabulary struct {
	MalwareFamilies  []string `yaml:"malware_families"`
	AttackTechniques []string `yaml:"attack_techniques"`
	AttackVectors    []string `yaml:"attack_vectors"`
}

// DefaultVocabulary returns the built-in attack-pattern vocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		MalwareFamilies: []string{
			"wannacry", "petya", "notpetya", "ryuk", "maze", "revil", "conti",
			"emotet", "trickbot", "qakbot", "dridex", "zeus", "carbanak",
		},
		AttackTechniques: []string{
			"sql injection", "xss", "csrf", "lfi", "rfi", "xxe", "ssrf",
			"privilege escalation", "lateral movement", "data exfiltration",
			"command injection", "buffer overflow", "heap overflow",
		},
		AttackVectors: []string{
			"phishing", "spear phishing", "watering hole", "drive by download",
			"supply chain", "insider threat", "social engineering",
		},
	}
}

// LoadVocabulary reads a YAML vocabulary. An empty or missing path yields the defaults;
// categories omitted from the file keep their default terms.
func LoadVocabulary(path string) (Vocabulary, error) {
	vocab := DefaultVocabulary()
	if path == "" {
		return vocab, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return vocab, nil
		}
		return Vocabulary{}, fmt.Errorf("read vocabulary: %w", err)
	}
	var file Vocabulary
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Vocabulary{}, fmt.Errorf("parse vocabulary: %w", err)
	}
	if len(file.MalwareFamilies) > 0 {
		vocab.MalwareFamilies = file.MalwareFamilies
	}
	if len(file.AttackTechniques) > 0 {
		vocab.AttackTechniques = file.AttackTechniques
	}
	if len(file.AttackVectors) > 0 {
		vocab.AttackVectors = file.AttackVectors
	}
	return vocab, nil
}

func (v Vocabulary) terms(category models.PatternCategory) []string {
	switch category {
	case models.PatternMalwareFamilies:
		return v.MalwareFamilies
	case models.PatternAttackTechniques:
		return v.AttackTechniques
	case models.PatternAttackVectors:
		return v.AttackVectors
	}
	return nil
}

// Match records every vocabulary term found as a case-insensitive substring of text,
// keyed by category in vocabulary order.
func (v Vocabulary) Match(text string) map[models.PatternCategory][]string {
	lower := strings.ToLower(text)
	out := make(map[models.PatternCategory][]string, len(models.PatternCategories))
	for _, category := range models.PatternCategories {
		hits := []string{}
		for _, term := range dedupe(v.terms(category)) {
			if term != "" && strings.Contains(lower, strings.ToLower(term)) {
				hits = append(hits, term)
			}
		}
		out[category] = hits
	}
	return out
}
