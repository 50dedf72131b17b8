package models

// IOCType names one indicator-of-compromise family.
type IOCType string

const (
	IOCTypeIP     IOCType = "ip"
	IOCTypeDomain IOCType = "domain"
	IOCTypeURL    IOCType = "url"
	IOCTypeEmail  IOCType = "email"
	IOCTypeMD5    IOCType = "md5"
	IOCTypeSHA1   IOCType = "sha1"
	IOCTypeSHA256 IOCType = "sha256"
	IOCTypeCVE    IOCType = "cve"
	IOCTypeCPE    IOCType = "cpe"
)

// IOCTypes lists indicator families in extraction order.
var IOCTypes = []IOCType{
	IOCTypeIP, IOCTypeDomain, IOCTypeURL, IOCTypeEmail,
	IOCTypeMD5, IOCTypeSHA1, IOCTypeSHA256, IOCTypeCVE, IOCTypeCPE,
}

// EntityType names one named-entity family.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityProduct      EntityType = "product"
	EntityEvent        EntityType = "event"
)

// EntityTypes lists entity families in canonical order.
var EntityTypes = []EntityType{EntityPerson, EntityOrganization, EntityLocation, EntityProduct, EntityEvent}

// PatternCategory groups attack-pattern vocabularies.
type PatternCategory string

const (
	PatternMalwareFamilies  PatternCategory = "malware_families"
	PatternAttackTechniques PatternCategory = "attack_techniques"
	PatternAttackVectors    PatternCategory = "attack_vectors"
)

// PatternCategories lists vocabulary groups in canonical order.
var PatternCategories = []PatternCategory{PatternMalwareFamilies, PatternAttackTechniques, PatternAttackVectors}

// ExtractionResult is the structured fact set derived from threat text. It is replaced
// wholesale on each extraction run.
type ExtractionResult struct {
	ThreatID       int64                        `json:"threat_id,omitempty"`
	IOCs           map[IOCType][]string         `json:"iocs"`
	Entities       map[EntityType][]string      `json:"entities"`
	AttackPatterns map[PatternCategory][]string `json:"attack_patterns"`
	Confidence     float64                      `json:"confidence"`
}

// NewExtractionResult returns a result with every group initialised and empty.
func NewExtractionResult() ExtractionResult {
	res := ExtractionResult{
		IOCs:           make(map[IOCType][]string, len(IOCTypes)),
		Entities:       make(map[EntityType][]string, len(EntityTypes)),
		AttackPatterns: make(map[PatternCategory][]string, len(PatternCategories)),
	}
	for _, t := range IOCTypes {
		res.IOCs[t] = []string{}
	}
	for _, t := range EntityTypes {
		res.Entities[t] = []string{}
	}
	for _, c := range PatternCategories {
		res.AttackPatterns[c] = []string{}
	}
	return res
}

// IOCCount returns the number of distinct values across all IOC types.
func (r ExtractionResult) IOCCount() int {
	return unionSize(r.IOCs)
}

// EntityCount returns the number of distinct values across all entity types.
func (r ExtractionResult) EntityCount() int {
	return unionSize(r.Entities)
}

// PatternCount returns the number of distinct values across all pattern categories.
func (r ExtractionResult) PatternCount() int {
	return unionSize(r.AttackPatterns)
}

func unionSize[K comparable](groups map[K][]string) int {
	seen := make(map[string]struct{})
	for _, values := range groups {
		for _, v := range values {
			seen[v] = struct{}{}
		}
	}
	return len(seen)
}
