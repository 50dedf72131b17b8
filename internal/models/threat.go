package models

import (
	"sort"
	"time"
)

// Severity captures the impact level reported for a threat.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityUnknown  Severity = "unknown"
)

// ParseSeverity maps free-form input onto the closed severity set.
func ParseSeverity(value string) (Severity, bool) {
	switch Severity(value) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityUnknown:
		return Severity(value), true
	}
	return SeverityUnknown, false
}

// SeverityFromCVSS derives a severity from a CVSS base score. A nil score is unknown.
func SeverityFromCVSS(score *float64) Severity {
	if score == nil {
		return SeverityUnknown
	}
	switch {
	case *score >= 9.0:
		return SeverityCritical
	case *score >= 7.0:
		return SeverityHigh
	case *score >= 4.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Category is the closed threat taxonomy produced by the classifier.
type Category string

const (
	CategoryMalware       Category = "malware"
	CategoryVulnerability Category = "vulnerability"
	CategoryPhishing      Category = "phishing"
	CategoryBotnet        Category = "botnet"
	CategoryRansomware    Category = "ransomware"
	CategoryAPT           Category = "apt"
	CategoryDDoS          Category = "ddos"
	CategoryOther         Category = "other"
)

// Categories lists the taxonomy in its canonical order.
var Categories = []Category{
	CategoryMalware,
	CategoryVulnerability,
	CategoryPhishing,
	CategoryBotnet,
	CategoryRansomware,
	CategoryAPT,
	CategoryDDoS,
	CategoryOther,
}

// ParseCategory reports whether value names a known category.
func ParseCategory(value string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == value {
			return c, true
		}
	}
	return "", false
}

// RiskLevel is the band assigned to a risk score.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
	RiskMinimal  RiskLevel = "minimal"
)

// ThreatRecord is the long-lived threat aggregate. Derived fields are nil until the
// producing stage has run so that absence stays distinguishable from a computed zero.
type ThreatRecord struct {
	ID          int64    `json:"id"`
	Source      string   `json:"source"`
	ExternalID  string   `json:"external_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ThreatType  string   `json:"threat_type,omitempty"`
	Severity    Severity `json:"severity"`
	BaseScore   *float64 `json:"cvss_score,omitempty"`
	CVSSVector  string   `json:"cvss_vector,omitempty"`

	IPAddresses []string          `json:"ip_addresses,omitempty"`
	Domains     []string          `json:"domains,omitempty"`
	URLs        []string          `json:"urls,omitempty"`
	FileHashes  map[string]string `json:"file_hashes,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	References  []string          `json:"references,omitempty"`

	Category      Category             `json:"predicted_category,omitempty"`
	Confidence    *float64             `json:"confidence_score,omitempty"`
	Probabilities map[Category]float64 `json:"probabilities,omitempty"`
	RiskScore     *float64             `json:"risk_score,omitempty"`
	RiskLevel     RiskLevel            `json:"risk_level,omitempty"`
	Extraction    *ExtractionResult    `json:"extraction,omitempty"`
	Summary       string               `json:"summary,omitempty"`

	DiscoveredAt time.Time `json:"discovered_date"`
	IsActive     bool      `json:"is_active"`
	IsVerified   bool      `json:"is_verified"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Text returns the free text that extraction and classification operate on.
func (t ThreatRecord) Text() string {
	switch {
	case t.Title == "":
		return t.Description
	case t.Description == "":
		return t.Title
	default:
		return t.Title + ". " + t.Description
	}
}

// EffectiveIPs merges feed-supplied and extracted IP addresses.
func (t ThreatRecord) EffectiveIPs() []string {
	return t.merged(t.IPAddresses, IOCTypeIP)
}

// EffectiveDomains merges feed-supplied and extracted domains.
func (t ThreatRecord) EffectiveDomains() []string {
	return t.merged(t.Domains, IOCTypeDomain)
}

// EffectiveURLs merges feed-supplied and extracted URLs.
func (t ThreatRecord) EffectiveURLs() []string {
	return t.merged(t.URLs, IOCTypeURL)
}

// EffectiveHashes returns every known digest for the threat, feed-supplied and extracted.
func (t ThreatRecord) EffectiveHashes() []string {
	values := make([]string, 0, len(t.FileHashes))
	for _, digest := range t.FileHashes {
		values = append(values, digest)
	}
	if t.Extraction != nil {
		for _, kind := range []IOCType{IOCTypeMD5, IOCTypeSHA1, IOCTypeSHA256} {
			values = append(values, t.Extraction.IOCs[kind]...)
		}
	}
	return sortedUnique(values)
}

func (t ThreatRecord) merged(base []string, kind IOCType) []string {
	values := append([]string(nil), base...)
	if t.Extraction != nil {
		values = append(values, t.Extraction.IOCs[kind]...)
	}
	return sortedUnique(values)
}

func sortedUnique(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
