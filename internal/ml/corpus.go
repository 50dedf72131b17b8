package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aitastack/aita-fusion/internal/models"
)

// RiskSample is one labelled scorer training row.
type RiskSample struct {
	Features models.FeatureVector
	Risk     float64
}

// SyntheticRiskCorpus generates a reproducible scorer training set. Feature ranges match
// what FeaturesFromThreat produces; the target blends them with Gaussian noise.
func SyntheticRiskCorpus(seed int64, n int) []RiskSample {
	r := rand.New(rand.NewSource(seed))
	out := make([]RiskSample, 0, n)
	for i := 0; i < n; i++ {
		fv := models.FeatureVector{
			CVSSScore:          r.Float64() * 10,
			SourceReliability:  r.Float64(),
			ThreatAgeDays:      r.Float64() * 365,
			IOCCount:           float64(r.Intn(50)),
			ExternalReferences: float64(r.Intn(20)),
			TargetPrevalence:   r.Float64(),
		}
		if r.Float64() < 0.3 {
			fv.ExploitAvailability = 1
		}
		y := fv.CVSSScore*0.5 +
			fv.SourceReliability*1.5 +
			(1-fv.ThreatAgeDays/365)*1.0 +
			math.Log1p(fv.IOCCount)*0.4 +
			fv.ExternalReferences*0.05 +
			fv.ExploitAvailability*1.5 +
			fv.TargetPrevalence*1.0 +
			r.NormFloat64()*0.5
		out = append(out, RiskSample{Features: fv, Risk: clamp(y, 0, 10)})
	}
	return out
}

// LabeledText is one classifier training example.
type LabeledText struct {
	Text     string          `yaml:"text"`
	Category models.Category `yaml:"category"`
}

type corpusFile struct {
	Examples []LabeledText `yaml:"examples"`
}

// LoadClassifierCorpus reads a YAML corpus. An empty or missing path yields the built-in set.
func LoadClassifierCorpus(path string) ([]LabeledText, error) {
	if path == "" {
		return DefaultClassifierCorpus(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultClassifierCorpus(), nil
		}
		return nil, fmt.Errorf("read classifier corpus: %w", err)
	}
	var file corpusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse classifier corpus: %w", err)
	}
	for i, ex := range file.Examples {
		if _, ok := models.ParseCategory(string(ex.Category)); !ok {
			return nil, fmt.Errorf("example %d: unknown category %q", i, ex.Category)
		}
	}
	return file.Examples, nil
}

// DefaultClassifierCorpus returns the built-in labelled threat descriptions.
func DefaultClassifierCorpus() []LabeledText {
	raw := map[models.Category][]string{
		models.CategoryMalware: {
			"Malicious executable detected with suspicious behavior",
			"Trojan dropper installs a backdoor and keylogger on the host",
			"Infostealer malware harvests browser credentials and cookies",
			"Remote access trojan spreads through infected USB drives",
			"Worm propagates across the network dropping a malicious payload",
			"Loader malware downloads additional stages from a staging server",
		},
		models.CategoryVulnerability: {
			"SQL injection vulnerability found in web application",
			"Remote code execution flaw in the web server allows unauthenticated attackers",
			"Buffer overflow vulnerability in the network driver enables privilege escalation",
			"Cross-site scripting vulnerability in the login form",
			"Unpatched authentication bypass in the VPN appliance firmware",
			"Vendor advisory describes a deserialization flaw, patch available",
		},
		models.CategoryPhishing: {
			"Phishing email with suspicious links detected",
			"Credential harvesting page impersonates the corporate login portal",
			"Spear phishing messages lure finance staff into opening fake invoices",
			"Fake password reset emails redirect users to a lookalike domain",
			"Business email compromise campaign spoofs the chief executive",
			"Smishing text messages ask recipients to verify their bank account",
		},
		models.CategoryBotnet: {
			"Botnet command and control server identified",
			"Infected IoT devices enrolled into a botnet beacon to the controller",
			"Bot herders push new modules to compromised routers",
			"Zombie hosts poll the command and control channel every minute",
			"Mirai variant recruits cameras into its bot network",
			"Peer to peer botnet relays tasks between infected nodes",
		},
		models.CategoryRansomware: {
			"Ransomware encryption detected on endpoints",
			"Files encrypted and a ransom note demands bitcoin payment",
			"Ransomware operators exfiltrate data before encrypting backups",
			"Double extortion gang threatens to leak data unless the ransom is paid",
			"Shadow copies deleted before ransomware encrypted the file server",
			"Locker ransomware appends a new extension to every encrypted file",
		},
		models.CategoryAPT: {
			"Advanced persistent threat campaign observed",
			"State sponsored actor maintains long term espionage access",
			"Nation state group targets defense contractors with custom implants",
			"Persistent intrusion set linked to a government backed espionage unit",
			"Threat actor group conducts a multi year cyber espionage operation",
			"Stealthy implants used by a state sponsored group for intelligence collection",
		},
		models.CategoryDDoS: {
			"Distributed denial of service attack in progress",
			"Volumetric flood saturates the upstream link with UDP amplification traffic",
			"SYN flood overwhelms the load balancer",
			"Reflection attack abuses open DNS resolvers to flood the target",
			"Layer seven flood of HTTP requests takes the storefront offline",
			"Amplification traffic peaking at hundreds of gigabits per second",
		},
		models.CategoryOther: {
			"Unknown threat with suspicious network activity",
			"Unusual outbound traffic observed from a workstation",
			"Anomalous login times reported for a service account",
			"Policy violation detected on an unmanaged device",
			"Unclassified alert raised by the monitoring platform",
			"Suspicious scanning activity observed from an external host",
		},
	}

	out := make([]LabeledText, 0, 48)
	for _, category := range models.Categories {
		for _, text := range raw[category] {
			out = append(out, LabeledText{Text: text, Category: category})
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
