package extractors

import (
	"net/netip"
	"regexp"
	"sort"
	"strings"

	"github.com/aitastack/aita-fusion/internal/models"
)

var iocPatterns = map[models.IOCType]*regexp.Regexp{
	models.IOCTypeIP:     regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`),
	models.IOCTypeDomain: regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}\b`),
	models.IOCTypeURL:    regexp.MustCompile("https?://[^\\s<>\"{}|\\\\^`\\[\\]]+"),
	models.IOCTypeEmail:  regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	models.IOCTypeMD5:    regexp.MustCompile(`(?i)\b[a-f0-9]{32}\b`),
	models.IOCTypeSHA1:   regexp.MustCompile(`(?i)\b[a-f0-9]{40}\b`),
	models.IOCTypeSHA256: regexp.MustCompile(`(?i)\b[a-f0-9]{64}\b`),
	models.IOCTypeCVE:    regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,7}\b`),
	models.IOCTypeCPE:    regexp.MustCompile(`(?i)cpe:2\.3:[aho*\-](?::[^\s:]+)*`),
}

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
}

// DefaultDomainDenylist holds placeholder and sandbox domains never reported as IOCs.
var DefaultDomainDenylist = []string{"example.com", "test.com", "localhost"}

// ExtractIOCs applies one matcher per IOC type, deduplicates, then drops false positives.
// Every type is present in the result, possibly empty, and values are sorted.
func ExtractIOCs(text string, denylist []string) map[models.IOCType][]string {
	out := make(map[models.IOCType][]string, len(models.IOCTypes))
	for _, kind := range models.IOCTypes {
		matches := dedupe(normalizeIOC(kind, iocPatterns[kind].FindAllString(text, -1)))
		out[kind] = filterIOCs(kind, matches, denylist)
	}
	return out
}

func normalizeIOC(kind models.IOCType, values []string) []string {
	switch kind {
	case models.IOCTypeMD5, models.IOCTypeSHA1, models.IOCTypeSHA256:
		for i, v := range values {
			values[i] = strings.ToLower(v)
		}
	case models.IOCTypeCVE:
		for i, v := range values {
			values[i] = strings.ToUpper(v)
		}
	}
	return values
}

func filterIOCs(kind models.IOCType, values []string, denylist []string) []string {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		switch kind {
		case models.IOCTypeIP:
			if !isPublicIPv4(v) {
				continue
			}
		case models.IOCTypeDomain:
			if isDenied(v, denylist) {
				continue
			}
		}
		kept = append(kept, v)
	}
	sort.Strings(kept)
	return kept
}

// isPublicIPv4 rejects malformed octets and the private/loopback ranges.
func isPublicIPv4(value string) bool {
	addr, err := netip.ParseAddr(value)
	if err != nil || !addr.Is4() {
		return false
	}
	for _, prefix := range reservedPrefixes {
		if prefix.Contains(addr) {
			return false
		}
	}
	return true
}

func isDenied(domain string, denylist []string) bool {
	lower := strings.ToLower(domain)
	for _, d := range denylist {
		if d != "" && strings.Contains(lower, strings.ToLower(d)) {
			return true
		}
	}
	return false
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
