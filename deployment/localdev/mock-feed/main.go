package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

type threat struct {
	Source         string            `json:"source"`
	ExternalID     string            `json:"external_id"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	ThreatType     string            `json:"threat_type"`
	Severity       string            `json:"severity"`
	CVSSScore      *float64          `json:"cvss_score,omitempty"`
	IPAddresses    []string          `json:"ip_addresses,omitempty"`
	Domains        []string          `json:"domains,omitempty"`
	URLs           []string          `json:"urls,omitempty"`
	FileHashes     map[string]string `json:"file_hashes,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	References     []string          `json:"references,omitempty"`
	DiscoveredDate string            `json:"discovered_date"`
}

func score(v float64) *float64 { return &v }

func threats(now time.Time) []any {
	day := func(n int) string { return now.AddDate(0, 0, -n).Format(time.RFC3339) }
	return []any{
		threat{
			Source:         "nvd",
			ExternalID:     "CVE-2024-3400",
			Title:          "PAN-OS GlobalProtect command injection",
			Description:    "Remote code execution via command injection in GlobalProtect. Exploitation observed from 203.0.113.7 against edge gateways.",
			ThreatType:     "vulnerability",
			Severity:       "critical",
			CVSSScore:      score(10),
			IPAddresses:    []string{"203.0.113.7"},
			References:     []string{"https://security.paloaltonetworks.com/CVE-2024-3400"},
			DiscoveredDate: day(3),
		},
		threat{
			Source:         "abuseipdb",
			ExternalID:     "abuse-198.51.100.23",
			Title:          "Credential phishing infrastructure",
			Description:    "Phishing kit hosted on login-secure-update.net harvesting credentials, served from 198.51.100.23.",
			ThreatType:     "phishing",
			Severity:       "high",
			IPAddresses:    []string{"198.51.100.23"},
			Domains:        []string{"login-secure-update.net"},
			URLs:           []string{"http://login-secure-update.net/portal/login.php"},
			DiscoveredDate: day(12),
		},
		threat{
			Source:         "cisa",
			ExternalID:     "AA24-109A",
			Title:          "Ransomware loader distributed by email",
			Description:    "Loader drops ransomware that encrypts files and demands payment. Sample hash listed.",
			ThreatType:     "malware",
			Severity:       "medium",
			FileHashes:     map[string]string{"sha256": "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
			Tags:           []string{"ransomware", "loader"},
			DiscoveredDate: day(40),
		},
		// Quarantined on ingest: unknown severity and a malformed address.
		threat{
			Source:         "ip_blacklist",
			ExternalID:     "bad-record",
			Title:          "Broken upstream record",
			Severity:       "urgent",
			IPAddresses:    []string{"999.1.1.1"},
			DiscoveredDate: day(1),
		},
	}
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/v1/threats/normalized", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, map[string]any{"threats": threats(time.Now().UTC())})
	})

	logger := log.New(log.Writer(), "feed-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
