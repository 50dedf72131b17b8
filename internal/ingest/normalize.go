package ingest

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/aitastack/aita-fusion/internal/models"
	"github.com/aitastack/aita-fusion/internal/utils"
)

// ErrInvalidRecord is wrapped by every validation failure.
var ErrInvalidRecord = errors.New("invalid threat record")

var digestLengths = map[string]int{
	"md5":    32,
	"sha1":   40,
	"sha256": 64,
}

// Normalize validates rec and converts it to a ThreatRecord. All problems found are
// reported together in a single error wrapping ErrInvalidRecord.
func Normalize(rec FeedRecord, now time.Time) (models.ThreatRecord, error) {
	if rec.decodeErr != nil {
		return models.ThreatRecord{}, fmt.Errorf("%w: undecodable payload: %v", ErrInvalidRecord, rec.decodeErr)
	}

	var problems []string
	source := strings.ToLower(strings.TrimSpace(rec.Source))
	externalID := strings.TrimSpace(rec.ExternalID)
	title := strings.TrimSpace(rec.Title)
	if source == "" {
		problems = append(problems, "source is required")
	}
	if externalID == "" {
		problems = append(problems, "external_id is required")
	}
	if title == "" {
		problems = append(problems, "title is required")
	}

	if rec.CVSSScore != nil && (*rec.CVSSScore < 0 || *rec.CVSSScore > 10) {
		problems = append(problems, fmt.Sprintf("cvss_score %.2f outside [0,10]", *rec.CVSSScore))
	}

	severity := models.SeverityFromCVSS(rec.CVSSScore)
	if raw := strings.TrimSpace(rec.Severity); raw != "" {
		parsed, ok := models.ParseSeverity(strings.ToLower(raw))
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown severity %q", raw))
		}
		severity = parsed
	}

	ips := make([]string, 0, len(rec.IPAddresses))
	for _, value := range rec.IPAddresses {
		addr, err := netip.ParseAddr(strings.TrimSpace(value))
		if err != nil {
			problems = append(problems, fmt.Sprintf("ip address %q does not parse", value))
			continue
		}
		ips = append(ips, addr.String())
	}

	hashes := make(map[string]string, len(rec.FileHashes))
	for algo, digest := range rec.FileHashes {
		algo = strings.ToLower(strings.TrimSpace(algo))
		digest = strings.ToLower(strings.TrimSpace(digest))
		want, known := digestLengths[algo]
		switch {
		case !known:
			problems = append(problems, fmt.Sprintf("unsupported hash algorithm %q", algo))
		case len(digest) != want:
			problems = append(problems, fmt.Sprintf("%s digest must be %d hex characters", algo, want))
		default:
			if _, err := hex.DecodeString(digest); err != nil {
				problems = append(problems, fmt.Sprintf("%s digest is not hex", algo))
				continue
			}
			hashes[algo] = digest
		}
	}

	discovered := now
	if raw := strings.TrimSpace(rec.DiscoveredDate); raw != "" {
		t, err := utils.ParseRFC3339(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("discovered_date %q is not RFC3339", raw))
		}
		discovered = t
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return models.ThreatRecord{}, fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(problems, "; "))
	}

	var score *float64
	if rec.CVSSScore != nil {
		v := *rec.CVSSScore
		score = &v
	}

	return models.ThreatRecord{
		Source:       source,
		ExternalID:   externalID,
		Title:        title,
		Description:  strings.TrimSpace(rec.Description),
		ThreatType:   strings.TrimSpace(rec.ThreatType),
		Severity:     severity,
		BaseScore:    score,
		CVSSVector:   strings.TrimSpace(rec.CVSSVector),
		IPAddresses:  uniqueSorted(ips),
		Domains:      normalizeDomains(rec.Domains),
		URLs:         uniqueSorted(trimAll(rec.URLs)),
		FileHashes:   hashes,
		Tags:         uniqueSorted(trimAll(rec.Tags)),
		References:   uniqueSorted(trimAll(rec.References)),
		DiscoveredAt: discovered.UTC(),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeBatch validates every record, splitting them into accepted threats and
// quarantined rejections.
func NormalizeBatch(records []FeedRecord, now time.Time) ([]models.ThreatRecord, []models.Rejection) {
	accepted := make([]models.ThreatRecord, 0, len(records))
	var rejected []models.Rejection
	for _, rec := range records {
		threat, err := Normalize(rec, now)
		if err != nil {
			rejected = append(rejected, models.Rejection{
				Source:     rec.Source,
				ExternalID: rec.ExternalID,
				Reason:     err.Error(),
				Payload:    rec.Raw(),
				RejectedAt: now,
			})
			continue
		}
		accepted = append(accepted, threat)
	}
	return accepted, rejected
}

func normalizeDomains(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(v)), ".")
		if v != "" {
			out = append(out, v)
		}
	}
	return uniqueSorted(out)
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func uniqueSorted(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
