package ml

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/spaolacci/murmur3"
)

const defaultHashDim = 1 << 12

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "in": {}, "into": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "their": {}, "to": {}, "was": {},
	"were": {}, "with": {}, "this": {}, "these": {}, "unless": {}, "every": {},
}

type sparseEntry struct {
	Index int
	Value float64
}

// hashingVectorizer maps text to L2-normalised TF-IDF weights over murmur3 buckets.
type hashingVectorizer struct {
	Dim int       `json:"dim"`
	IDF []float64 `json:"idf"`
}

func tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, 2*len(words))
	prev := ""
	for _, w := range words {
		if len(w) < 2 {
			prev = ""
			continue
		}
		if _, stop := stopwords[w]; stop {
			prev = ""
			continue
		}
		tokens = append(tokens, w)
		if prev != "" {
			tokens = append(tokens, prev+" "+w)
		}
		prev = w
	}
	return tokens
}

func (v *hashingVectorizer) bucket(token string) int {
	return int(murmur3.Sum32([]byte(token)) % uint32(v.Dim))
}

func (v *hashingVectorizer) counts(text string) map[int]float64 {
	out := make(map[int]float64)
	for _, tok := range tokenize(text) {
		out[v.bucket(tok)]++
	}
	return out
}

// fit computes smoothed inverse document frequencies: ln((1+n)/(1+df)) + 1.
func (v *hashingVectorizer) fit(docs []string) {
	if v.Dim <= 0 {
		v.Dim = defaultHashDim
	}
	df := make([]float64, v.Dim)
	for _, doc := range docs {
		for idx := range v.counts(doc) {
			df[idx]++
		}
	}
	n := float64(len(docs))
	v.IDF = make([]float64, v.Dim)
	for i := range df {
		v.IDF[i] = math.Log((1+n)/(1+df[i])) + 1
	}
}

func (v *hashingVectorizer) transform(text string) []sparseEntry {
	counts := v.counts(text)
	out := make([]sparseEntry, 0, len(counts))
	norm := 0.0
	for idx, tf := range counts {
		w := tf * v.IDF[idx]
		out = append(out, sparseEntry{Index: idx, Value: w})
		norm += w * w
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range out {
			out[i].Value /= norm
		}
	}
	return out
}
