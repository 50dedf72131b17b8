package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/aitastack/aita-fusion/internal/models"
	"github.com/aitastack/aita-fusion/internal/utils"
)

// Scores are accumulated in hundredths so threshold comparisons are exact.
const (
	pointsIP     = 40
	pointsDomain = 30
	pointsURL    = 30
	pointsHash   = 50
	pointsWeek   = 10
	pointsMonth  = 5
	pointsMax    = 100

	correlationThreshold = 70
	alertThreshold       = 80
)

var severityPoints = map[models.Severity]int{
	models.SeverityCritical: 20,
	models.SeverityHigh:     15,
	models.SeverityMedium:   10,
	models.SeverityLow:      5,
}

// maxInexactPoints is the best score reachable without an exact IP, domain or hash hit.
const maxInexactPoints = pointsURL + pointsWeek + 20

type candidate struct {
	threat  models.ThreatRecord
	ips     map[string]struct{}
	domains map[string]struct{}
	hashes  map[string]struct{}
	urls    []string
}

// CandidateSet is a read-only snapshot of the threats a batch correlates against.
type CandidateSet struct {
	candidates []candidate
	filter     *bloom.BloomFilter
}

// NewCandidateSet indexes threats in the given order. Order decides ties, so callers
// should pass a stable ordering. With prefilter set, exact indicators are also loaded
// into a Bloom filter used to skip events that cannot reach the threshold.
func NewCandidateSet(threats []models.ThreatRecord, prefilter bool) *CandidateSet {
	set := &CandidateSet{candidates: make([]candidate, 0, len(threats))}
	if prefilter && maxInexactPoints <= correlationThreshold {
		set.filter = bloom.NewWithEstimates(uint(4*len(threats)+1), 0.01)
	}
	for _, t := range threats {
		c := candidate{
			threat:  t,
			ips:     toSet(t.EffectiveIPs()),
			domains: toLowerSet(t.EffectiveDomains()),
			hashes:  toLowerSet(t.EffectiveHashes()),
			urls:    t.EffectiveURLs(),
		}
		if set.filter != nil {
			for v := range c.ips {
				set.filter.AddString("ip:" + v)
			}
			for v := range c.domains {
				set.filter.AddString("domain:" + v)
			}
			for v := range c.hashes {
				set.filter.AddString("hash:" + v)
			}
		}
		set.candidates = append(set.candidates, c)
	}
	return set
}

// Len returns the number of candidates.
func (s *CandidateSet) Len() int {
	return len(s.candidates)
}

func (s *CandidateSet) mightMatch(ev models.LogEvent) bool {
	if s.filter == nil {
		return true
	}
	return (ev.SourceIP != "" && s.filter.TestString("ip:"+ev.SourceIP)) ||
		(ev.Domain != "" && s.filter.TestString("domain:"+ev.Domain)) ||
		(ev.FileHash != "" && s.filter.TestString("hash:"+ev.FileHash))
}

// Decision is the correlator verdict for one log event.
type Decision struct {
	Result  models.CorrelationResult
	Found   bool
	Alert   bool
	Skipped bool
}

// Correlator scores log events against candidate threats.
type Correlator struct {
	now func() time.Time
}

// NewCorrelator constructs a correlator using the wall clock for threat age.
func NewCorrelator() *Correlator {
	return &Correlator{now: time.Now}
}

// Correlate returns the best scoring candidate for ev. Only a strictly greater score
// replaces the current best, so the first candidate wins ties. A result is found only
// above 0.7 and flagged for alerting above 0.8.
func (c *Correlator) Correlate(ev models.LogEvent, set *CandidateSet) Decision {
	if set == nil || len(set.candidates) == 0 {
		return Decision{}
	}
	ev = canonicalEvent(ev)
	if !set.mightMatch(ev) {
		return Decision{Skipped: true}
	}

	now := c.now()
	best, bestPoints := -1, 0
	for i := range set.candidates {
		if pts := c.points(ev, &set.candidates[i], now); pts > bestPoints {
			best, bestPoints = i, pts
		}
	}
	if best < 0 || bestPoints <= correlationThreshold {
		return Decision{}
	}

	winner := &set.candidates[best]
	return Decision{
		Found: true,
		Alert: bestPoints > alertThreshold,
		Result: models.CorrelationResult{
			LogEventID:        ev.ID,
			ThreatID:          winner.threat.ID,
			Score:             float64(bestPoints) / 100,
			MatchedIndicators: matchedIndicators(ev, winner),
			Type:              correlationType(ev, winner),
		},
	}
}

// Score returns the clamped correlation score of ev against a single threat.
func (c *Correlator) Score(ev models.LogEvent, threat models.ThreatRecord) float64 {
	set := NewCandidateSet([]models.ThreatRecord{threat}, false)
	return float64(c.points(canonicalEvent(ev), &set.candidates[0], c.now())) / 100
}

func (c *Correlator) points(ev models.LogEvent, cand *candidate, now time.Time) int {
	pts := 0
	if has(cand.ips, ev.SourceIP) {
		pts += pointsIP
	}
	if has(cand.domains, ev.Domain) {
		pts += pointsDomain
	}
	if matchedURL(ev, cand) != "" {
		pts += pointsURL
	}
	if has(cand.hashes, ev.FileHash) {
		pts += pointsHash
	}
	if days, ok := utils.AgeDays(cand.threat.DiscoveredAt, now); ok {
		switch {
		case days <= 7:
			pts += pointsWeek
		case days <= 30:
			pts += pointsMonth
		}
	}
	pts += severityPoints[cand.threat.Severity]
	if pts > pointsMax {
		pts = pointsMax
	}
	return pts
}

func matchedIndicators(ev models.LogEvent, cand *candidate) []string {
	out := make([]string, 0, 4)
	if has(cand.ips, ev.SourceIP) {
		out = append(out, fmt.Sprintf("IP: %s", ev.SourceIP))
	}
	if has(cand.domains, ev.Domain) {
		out = append(out, fmt.Sprintf("Domain: %s", ev.Domain))
	}
	if u := matchedURL(ev, cand); u != "" {
		out = append(out, fmt.Sprintf("URL: %s", u))
	}
	if has(cand.hashes, ev.FileHash) {
		out = append(out, fmt.Sprintf("Hash: %s", ev.FileHash))
	}
	return out
}

func correlationType(ev models.LogEvent, cand *candidate) models.CorrelationType {
	switch {
	case has(cand.ips, ev.SourceIP):
		return models.CorrelationIPMatch
	case has(cand.domains, ev.Domain):
		return models.CorrelationDomainMatch
	case has(cand.hashes, ev.FileHash):
		return models.CorrelationHashMatch
	default:
		return models.CorrelationPatternMatch
	}
}

// matchedURL returns the first threat URL contained in the event URL.
func matchedURL(ev models.LogEvent, cand *candidate) string {
	if ev.URL == "" {
		return ""
	}
	for _, u := range cand.urls {
		if strings.Contains(ev.URL, u) {
			return u
		}
	}
	return ""
}

func has(set map[string]struct{}, v string) bool {
	if v == "" {
		return false
	}
	_, ok := set[v]
	return ok
}

// canonicalEvent folds the event's domain and file hash to the lowercase form stored on
// the threat side. Domains are case-insensitive and hex digests arrive uppercase from
// many endpoint agents.
func canonicalEvent(ev models.LogEvent) models.LogEvent {
	ev.SourceIP = strings.TrimSpace(ev.SourceIP)
	ev.Domain = strings.ToLower(strings.TrimSpace(ev.Domain))
	ev.FileHash = strings.ToLower(strings.TrimSpace(ev.FileHash))
	return ev
}

func toLowerSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[strings.ToLower(v)] = struct{}{}
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
