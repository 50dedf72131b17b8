package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aitastack/aita-fusion/internal/models"
)

var ingestNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func score(v float64) *float64 { return &v }

func validRecord() FeedRecord {
	return FeedRecord{
		Source:         "NVD",
		ExternalID:     "CVE-2024-1234",
		Title:          "Remote code execution in widget",
		Description:    "Exploited in the wild.",
		CVSSScore:      score(9.1),
		IPAddresses:    []string{"203.0.113.7", "203.0.113.7"},
		Domains:        []string{"Evil.Example.", "evil.example"},
		FileHashes:     map[string]string{"SHA256": strings.Repeat("AB", 32)},
		DiscoveredDate: "2024-05-30T08:00:00Z",
	}
}

func TestNormalizeAcceptsValidRecord(t *testing.T) {
	threat, err := Normalize(validRecord(), ingestNow)
	require.NoError(t, err)

	assert.Equal(t, "nvd", threat.Source)
	assert.Equal(t, models.SeverityCritical, threat.Severity)
	assert.Equal(t, []string{"203.0.113.7"}, threat.IPAddresses)
	assert.Equal(t, []string{"evil.example"}, threat.Domains)
	assert.Equal(t, strings.Repeat("ab", 32), threat.FileHashes["sha256"])
	assert.Equal(t, time.Date(2024, 5, 30, 8, 0, 0, 0, time.UTC), threat.DiscoveredAt)
	assert.True(t, threat.IsActive)
}

func TestNormalizeDerivesSeverity(t *testing.T) {
	cases := []struct {
		cvss *float64
		want models.Severity
	}{
		{score(9.0), models.SeverityCritical},
		{score(8.9), models.SeverityHigh},
		{score(7.0), models.SeverityHigh},
		{score(4.0), models.SeverityMedium},
		{score(3.9), models.SeverityLow},
		{nil, models.SeverityUnknown},
	}
	for _, tc := range cases {
		rec := validRecord()
		rec.CVSSScore = tc.cvss
		threat, err := Normalize(rec, ingestNow)
		require.NoError(t, err)
		assert.Equal(t, tc.want, threat.Severity)
	}
}

func TestNormalizeExplicitSeverityWins(t *testing.T) {
	rec := validRecord()
	rec.Severity = "Low"
	threat, err := Normalize(rec, ingestNow)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityLow, threat.Severity)
}

func TestNormalizeRejectsMalformedRecords(t *testing.T) {
	cases := map[string]func(*FeedRecord){
		"missing title":  func(r *FeedRecord) { r.Title = " " },
		"missing source": func(r *FeedRecord) { r.Source = "" },
		"cvss range":     func(r *FeedRecord) { r.CVSSScore = score(10.5) },
		"severity enum":  func(r *FeedRecord) { r.Severity = "severe" },
		"bad ip":         func(r *FeedRecord) { r.IPAddresses = []string{"999.1.1.1"} },
		"short digest":   func(r *FeedRecord) { r.FileHashes = map[string]string{"md5": "abc"} },
		"non hex digest": func(r *FeedRecord) { r.FileHashes = map[string]string{"sha1": strings.Repeat("zz", 20)} },
		"unknown algo":   func(r *FeedRecord) { r.FileHashes = map[string]string{"crc32": "deadbeef"} },
		"bad discovered": func(r *FeedRecord) { r.DiscoveredDate = "yesterday" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			rec := validRecord()
			mutate(&rec)
			_, err := Normalize(rec, ingestNow)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRecord))
		})
	}
}

func TestNormalizeBatchQuarantinesRejects(t *testing.T) {
	bad := validRecord()
	bad.ExternalID = ""
	accepted, rejected := NormalizeBatch([]FeedRecord{validRecord(), bad}, ingestNow)

	require.Len(t, accepted, 1)
	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].Reason, "external_id is required")
	assert.Equal(t, ingestNow, rejected[0].RejectedAt)
}
