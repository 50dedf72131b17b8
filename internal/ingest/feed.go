package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aitastack/aita-fusion/internal/utils"
)

// FeedRecord is one normalized threat as published by the upstream feed normalizer.
// Fields are kept close to the wire so validation can report what was actually sent.
type FeedRecord struct {
	Source         string            `json:"source"`
	ExternalID     string            `json:"external_id"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	ThreatType     string            `json:"threat_type"`
	Severity       string            `json:"severity"`
	CVSSScore      *float64          `json:"cvss_score"`
	CVSSVector     string            `json:"cvss_vector"`
	IPAddresses    []string          `json:"ip_addresses"`
	Domains        []string          `json:"domains"`
	URLs           []string          `json:"urls"`
	FileHashes     map[string]string `json:"file_hashes"`
	Tags           []string          `json:"tags"`
	References     []string          `json:"references"`
	DiscoveredDate string            `json:"discovered_date"`

	raw       json.RawMessage
	decodeErr error
}

// Raw returns the record bytes exactly as received, when known.
func (r FeedRecord) Raw() []byte {
	return r.raw
}

// FeedClient pulls normalized threat records from the feed normalizer over HTTP JSON.
type FeedClient struct {
	baseURL     string
	threatsPath string
	httpClient  *http.Client
}

// NewFeedClient constructs a client bounded by timeout per request.
func NewFeedClient(baseURL, threatsPath string, timeout time.Duration) *FeedClient {
	return &FeedClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		threatsPath: threatsPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchThreats retrieves the current normalized threat list. Records that do not
// decode are still returned so the caller can quarantine them. Network failures and
// 5xx responses are reported as transient.
func (c *FeedClient) FetchThreats(ctx context.Context) ([]FeedRecord, error) {
	if c == nil {
		return nil, fmt.Errorf("feed client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("feed base URL not configured")
	}

	var response struct {
		Threats []json.RawMessage `json:"threats"`
	}
	if err := c.getJSON(ctx, c.threatsURL(), &response); err != nil {
		return nil, fmt.Errorf("feed threats request failed: %w", err)
	}

	records := make([]FeedRecord, 0, len(response.Threats))
	for _, raw := range response.Threats {
		var rec FeedRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			rec = FeedRecord{decodeErr: err}
		}
		rec.raw = raw
		records = append(records, rec)
	}
	return records, nil
}

func (c *FeedClient) threatsURL() string {
	return resolvePath(c.baseURL, c.threatsPath)
}

func (c *FeedClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return utils.Transient(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func resolvePath(base, p string) string {
	if p == "" {
		return base
	}
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
	}
	u.Path = path.Join(u.Path, p)
	return u.String()
}
