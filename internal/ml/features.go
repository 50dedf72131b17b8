package ml

import (
	"math"
	"strings"
	"time"

	"github.com/aitastack/aita-fusion/internal/models"
	"github.com/aitastack/aita-fusion/internal/utils"
)

const defaultSourceReliability = 0.5

// FeaturesFromThreat derives the scorer's feature vector from an enriched threat record.
func FeaturesFromThreat(t models.ThreatRecord, reliability map[string]float64, now time.Time) models.FeatureVector {
	fv := models.FeatureVector{SourceReliability: defaultSourceReliability}
	if t.BaseScore != nil {
		fv.CVSSScore = *t.BaseScore
	}
	if r, ok := reliability[strings.ToLower(t.Source)]; ok {
		fv.SourceReliability = r
	}
	if days, ok := utils.AgeDays(t.DiscoveredAt, now); ok && days > 0 {
		fv.ThreatAgeDays = float64(days)
	}

	iocs := len(t.EffectiveIPs()) + len(t.EffectiveDomains()) + len(t.EffectiveURLs()) + len(t.EffectiveHashes())
	products := 0
	if t.Extraction != nil {
		for _, kind := range []models.IOCType{models.IOCTypeEmail, models.IOCTypeCVE, models.IOCTypeCPE} {
			iocs += len(t.Extraction.IOCs[kind])
		}
		products = len(t.Extraction.Entities[models.EntityProduct]) + len(t.Extraction.IOCs[models.IOCTypeCPE])
	}
	fv.IOCCount = float64(iocs)
	fv.ExternalReferences = float64(len(t.References))

	if mentionsExploit(t) {
		fv.ExploitAvailability = 1
	}
	fv.TargetPrevalence = math.Min(1, float64(products)/5)
	return fv
}

func mentionsExploit(t models.ThreatRecord) bool {
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), "exploit") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(t.Text()), "exploit")
}
