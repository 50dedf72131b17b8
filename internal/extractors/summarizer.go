package extractors

import (
	"sort"
	"strings"
	"unicode"
)

// InsufficientText is returned for inputs too short to summarise.
const InsufficientText = "Insufficient text for summarization"

// SummaryConfidence is the fixed confidence attached to extractive summaries.
const SummaryConfidence = 0.70

const minSummaryInput = 100

var summaryKeywords = map[string]struct{}{
	"threat": {}, "vulnerability": {}, "attack": {}, "malware": {}, "exploit": {},
	"security": {}, "risk": {}, "compromise": {}, "breach": {}, "suspicious": {},
	"malicious": {}, "dangerous": {}, "critical": {}, "high": {}, "severe": {},
}

// Summary is an extractive digest of threat text.
type Summary struct {
	Text       string
	Confidence float64
}

type scoredSentence struct {
	score int
	index int
	text  string
}

// Summarize keeps the three highest scoring sentences in their original order. Sentences
// score one point per keyword occurrence, one for containing a digit and one for a
// length between 50 and 200 characters.
func Summarize(text string, maxChars int) Summary {
	if len(strings.TrimSpace(text)) < minSummaryInput {
		return Summary{Text: InsufficientText}
	}
	if maxChars <= 0 {
		maxChars = 300
	}

	sentences := strings.Split(text, ". ")
	scored := make([]scoredSentence, 0, len(sentences))
	for i, s := range sentences {
		scored = append(scored, scoredSentence{score: scoreSentence(s), index: i, text: s})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > 3 {
		scored = scored[:3]
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].index < scored[j].index })

	parts := make([]string, 0, len(scored))
	for _, s := range scored {
		parts = append(parts, s.text)
	}
	summary := strings.Join(parts, ". ")
	if runes := []rune(summary); len(runes) > maxChars {
		summary = string(runes[:maxChars]) + "..."
	}
	return Summary{Text: summary, Confidence: SummaryConfidence}
}

func scoreSentence(sentence string) int {
	score := 0
	// Keywords count as whole whitespace tokens; "threat," is not "threat".
	for _, word := range strings.Fields(strings.ToLower(sentence)) {
		if _, ok := summaryKeywords[word]; ok {
			score++
		}
	}
	if strings.IndexFunc(sentence, unicode.IsDigit) >= 0 {
		score++
	}
	if n := len(sentence); n >= 50 && n <= 200 {
		score++
	}
	return score
}
