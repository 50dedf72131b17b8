package repo

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aitastack/aita-fusion/internal/models"
	"github.com/aitastack/aita-fusion/internal/utils"
)

func TestThreatRowRoundTrip(t *testing.T) {
	cvss := 7.5
	discovered := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	in := models.ThreatRecord{
		ID:           9,
		Source:       "nvd",
		ExternalID:   "CVE-2024-9",
		Title:        "Title",
		BaseScore:    &cvss,
		IPAddresses:  []string{"203.0.113.9"},
		FileHashes:   map[string]string{"md5": strings.Repeat("a", 32)},
		DiscoveredAt: discovered,
		IsActive:     true,
	}

	row, err := newThreatRow(in)
	require.NoError(t, err)
	assert.Equal(t, "unknown", row.Severity)
	assert.True(t, row.CVSSScore.Valid)
	assert.Equal(t, pq.StringArray{}, row.Domains)

	out, err := row.toModel()
	require.NoError(t, err)
	assert.Equal(t, in.FileHashes, out.FileHashes)
	assert.Equal(t, discovered, out.DiscoveredAt)
	require.NotNil(t, out.BaseScore)
	assert.Equal(t, 7.5, *out.BaseScore)
	assert.Nil(t, out.RiskScore)
	assert.Nil(t, out.Confidence)
	assert.Nil(t, out.Extraction)
}

func TestThreatRowDecodesDerivedColumns(t *testing.T) {
	row := threatRow{
		ID:            3,
		Probabilities: []byte(`{"malware":0.8,"phishing":0.2}`),
		Extraction:    []byte(`{"threat_id":3,"confidence":0.5}`),
	}
	row.RiskScore.Float64, row.RiskScore.Valid = 6.1, true

	out, err := row.toModel()
	require.NoError(t, err)
	assert.InDelta(t, 0.8, out.Probabilities[models.CategoryMalware], 1e-9)
	require.NotNil(t, out.Extraction)
	assert.InDelta(t, 0.5, out.Extraction.Confidence, 1e-9)
	require.NotNil(t, out.RiskScore)

	row.Extraction = []byte(`{`)
	_, err = row.toModel()
	assert.Error(t, err)
}

func TestClassifyMarksTransientFailures(t *testing.T) {
	assert.True(t, utils.IsTransient(classify(driver.ErrBadConn)))
	assert.True(t, utils.IsTransient(classify(&pq.Error{Code: "08006"})))
	assert.True(t, utils.IsTransient(classify(fmt.Errorf("wrapped: %w", &pq.Error{Code: "40001"}))))
	assert.False(t, utils.IsTransient(classify(&pq.Error{Code: "23505"})))
	assert.False(t, utils.IsTransient(classify(errors.New("boom"))))
	assert.NoError(t, classify(nil))
}
