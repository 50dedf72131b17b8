package extractors

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/aitastack/aita-fusion/internal/models"
)

type failingRecognizer struct{}

func (failingRecognizer) Available() bool { return true }

func (failingRecognizer) Recognize(context.Context, string) (map[models.EntityType][]string, error) {
	return nil, errors.New("model crashed")
}

func TestExtractIOCsDropsPrivateAddresses(t *testing.T) {
	iocs := ExtractIOCs("Beacon from 192.168.1.1 to 203.0.113.42 and again 203.0.113.42, loopback 127.0.0.1, lan 172.20.1.9", nil)
	if got := iocs[models.IOCTypeIP]; !reflect.DeepEqual(got, []string{"203.0.113.42"}) {
		t.Fatalf("expected only public address, got %v", got)
	}
}

func TestExtractIOCsKeepsPublic172(t *testing.T) {
	iocs := ExtractIOCs("upstream 172.32.0.5 and bogus 999.1.1.1", nil)
	if got := iocs[models.IOCTypeIP]; !reflect.DeepEqual(got, []string{"172.32.0.5"}) {
		t.Fatalf("expected 172.32.0.5 only, got %v", got)
	}
}

func TestExtractIOCsDomainDenylist(t *testing.T) {
	iocs := ExtractIOCs("C2 at evil-c2.net, docs at www.example.com", DefaultDomainDenylist)
	if got := iocs[models.IOCTypeDomain]; !reflect.DeepEqual(got, []string{"evil-c2.net"}) {
		t.Fatalf("expected denylisted domain removed, got %v", got)
	}
}

func TestExtractIOCsNormalisesDigestsAndCVE(t *testing.T) {
	iocs := ExtractIOCs("dropper D41D8CD98F00B204E9800998ECF8427E abuses cve-2021-44228", nil)
	if got := iocs[models.IOCTypeMD5]; !reflect.DeepEqual(got, []string{"d41d8cd98f00b204e9800998ecf8427e"}) {
		t.Fatalf("unexpected md5 values %v", got)
	}
	if got := iocs[models.IOCTypeCVE]; !reflect.DeepEqual(got, []string{"CVE-2021-44228"}) {
		t.Fatalf("unexpected cve values %v", got)
	}
	if len(iocs[models.IOCTypeSHA256]) != 0 {
		t.Fatalf("md5 digest must not match sha256")
	}
}

func TestExtractIOCsURLAndCPE(t *testing.T) {
	iocs := ExtractIOCs("payload at https://bad.example.org/x.php?id=1 affects cpe:2.3:a:apache:log4j:2.14.1:*:*:*:*:*:*:*", nil)
	if got := iocs[models.IOCTypeURL]; !reflect.DeepEqual(got, []string{"https://bad.example.org/x.php?id=1"}) {
		t.Fatalf("unexpected urls %v", got)
	}
	if got := iocs[models.IOCTypeCPE]; !reflect.DeepEqual(got, []string{"cpe:2.3:a:apache:log4j:2.14.1:*:*:*:*:*:*:*"}) {
		t.Fatalf("unexpected cpe %v", got)
	}
}

func TestExtractAttackPatterns(t *testing.T) {
	e := NewExtractor(Options{})
	res := e.Extract(context.Background(), "Emotet spread via spear phishing, then lateral movement")
	if got := res.AttackPatterns[models.PatternMalwareFamilies]; !reflect.DeepEqual(got, []string{"emotet"}) {
		t.Fatalf("unexpected malware families %v", got)
	}
	if got := res.AttackPatterns[models.PatternAttackVectors]; !reflect.DeepEqual(got, []string{"phishing", "spear phishing"}) {
		t.Fatalf("unexpected vectors %v", got)
	}
	if got := res.AttackPatterns[models.PatternAttackTechniques]; !reflect.DeepEqual(got, []string{"lateral movement"}) {
		t.Fatalf("unexpected techniques %v", got)
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	e := NewExtractor(Options{})
	text := "Ryuk operators used 203.0.113.7 and evil.net; see CVE-2020-1472 and https://evil.net/drop"
	first := e.Extract(context.Background(), text)
	second := e.Extract(context.Background(), text)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestExtractEmptyTextHasZeroConfidence(t *testing.T) {
	e := NewExtractor(Options{})
	res := e.Extract(context.Background(), "")
	if res.Confidence != 0 {
		t.Fatalf("expected zero confidence, got %v", res.Confidence)
	}
	if res.IOCCount()+res.EntityCount()+res.PatternCount() != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if _, ok := res.IOCs[models.IOCTypeIP]; !ok {
		t.Fatalf("expected every IOC type to be present")
	}
}

func TestConfidence(t *testing.T) {
	w := DefaultConfidenceWeights()
	cases := []struct {
		iocs, ents, pats int
		want             float64
	}{
		{0, 0, 0, 0},
		{5, 0, 3, 0.7},
		{1, 0, 0, 0.08},
		{50, 50, 50, 1},
		{0, 2, 1, 0.22},
	}
	for _, tc := range cases {
		got := Confidence(tc.iocs, tc.ents, tc.pats, w)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("Confidence(%d,%d,%d) = %v, want %v", tc.iocs, tc.ents, tc.pats, got, tc.want)
		}
	}
}

func TestConfidenceCustomDenominators(t *testing.T) {
	got := Confidence(5, 0, 0, ConfidenceWeights{IOC: 10, Entity: 5, Pattern: 3})
	if math.Abs(got-0.2) > 1e-9 {
		t.Fatalf("expected 0.2, got %v", got)
	}
}

func TestEntityStageDisabledWithoutLexicon(t *testing.T) {
	recognizer, err := NewLexiconRecognizer(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := NewExtractor(Options{Entities: recognizer})
	if e.EntityExtractionAvailable() {
		t.Fatalf("expected entity extraction to be unavailable")
	}
	res := e.Extract(context.Background(), "Microsoft reported the flaw")
	if res.EntityCount() != 0 {
		t.Fatalf("expected no entities, got %+v", res.Entities)
	}
}

func TestEntityStageWithLexicon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entities.yaml")
	content := `
entities:
  organization: ["Microsoft", "Lazarus Group"]
  product: ["Exchange Server"]
  location: ["North Korea"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write lexicon: %v", err)
	}
	recognizer, err := NewLexiconRecognizer(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := NewExtractor(Options{Entities: recognizer})
	if !e.EntityExtractionAvailable() {
		t.Fatalf("expected entity extraction to be available")
	}
	res := e.Extract(context.Background(), "The lazarus group targeted microsoft exchange server customers")
	if got := res.Entities[models.EntityOrganization]; !reflect.DeepEqual(got, []string{"Lazarus Group", "Microsoft"}) {
		t.Fatalf("unexpected organizations %v", got)
	}
	if got := res.Entities[models.EntityProduct]; !reflect.DeepEqual(got, []string{"Exchange Server"}) {
		t.Fatalf("unexpected products %v", got)
	}
	if len(res.Entities[models.EntityLocation]) != 0 {
		t.Fatalf("unexpected locations %v", res.Entities[models.EntityLocation])
	}
}

func TestEntityFailureDegrades(t *testing.T) {
	e := NewExtractor(Options{Entities: failingRecognizer{}})
	res := e.Extract(context.Background(), "Conti ransomware seen at 198.51.100.9")
	if res.EntityCount() != 0 {
		t.Fatalf("expected empty entities on failure")
	}
	if res.Confidence <= 0 {
		t.Fatalf("expected IOC and pattern confidence to survive, got %v", res.Confidence)
	}
}

func TestLoadVocabularyOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.yaml")
	if err := os.WriteFile(path, []byte("malware_families: [\"lockbit\"]\n"), 0o600); err != nil {
		t.Fatalf("write vocabulary: %v", err)
	}
	vocab, err := LoadVocabulary(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(vocab.MalwareFamilies, []string{"lockbit"}) {
		t.Fatalf("expected override, got %v", vocab.MalwareFamilies)
	}
	if len(vocab.AttackVectors) != len(DefaultVocabulary().AttackVectors) {
		t.Fatalf("expected default vectors to be kept")
	}
}
