package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aitastack/aita-fusion/internal/models"
)

// MemoryStore keeps threats, log events and correlations in process. It serves local
// development and tests with the same semantics as the Postgres adapter.
type MemoryStore struct {
	mu           sync.RWMutex
	opts         StoreOptions
	now          func() time.Time
	nextThreatID int64
	nextEventID  int64
	threats      map[int64]models.ThreatRecord
	keys         map[string]int64
	events       map[int64]models.LogEvent
	processed    map[int64]bool
	correlations []models.CorrelationResult
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore(opts StoreOptions) *MemoryStore {
	return &MemoryStore{
		opts:      opts,
		now:       time.Now,
		threats:   make(map[int64]models.ThreatRecord),
		keys:      make(map[string]int64),
		events:    make(map[int64]models.LogEvent),
		processed: make(map[int64]bool),
	}
}

// CreateThreat inserts a threat, or refreshes the feed-owned fields of the existing
// threat with the same source and external id. Derived fields survive the refresh.
func (s *MemoryStore) CreateThreat(_ context.Context, threat models.ThreatRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := threat.Source + "\x00" + threat.ExternalID
	if id, ok := s.keys[key]; ok {
		existing := s.threats[id]
		threat.ID = id
		threat.Category = existing.Category
		threat.Confidence = existing.Confidence
		threat.Probabilities = existing.Probabilities
		threat.RiskScore = existing.RiskScore
		threat.RiskLevel = existing.RiskLevel
		threat.Extraction = existing.Extraction
		threat.Summary = existing.Summary
		threat.CreatedAt = existing.CreatedAt
		threat.UpdatedAt = s.now()
		s.threats[id] = threat
		return id, nil
	}

	s.nextThreatID++
	threat.ID = s.nextThreatID
	if threat.CreatedAt.IsZero() {
		threat.CreatedAt = s.now()
	}
	threat.UpdatedAt = threat.CreatedAt
	s.threats[threat.ID] = threat
	s.keys[key] = threat.ID
	return threat.ID, nil
}

// GetThreat returns a copy of the threat with id.
func (s *MemoryStore) GetThreat(_ context.Context, id int64) (models.ThreatRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	threat, ok := s.threats[id]
	if !ok {
		return models.ThreatRecord{}, fmt.Errorf("threat %d: %w", id, ErrNotFound)
	}
	return threat, nil
}

// CandidateThreats returns active threats inside the candidate window, ordered by id.
func (s *MemoryStore) CandidateThreats(_ context.Context) ([]models.ThreatRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Time{}
	if s.opts.CandidateWindow > 0 {
		cutoff = s.now().Add(-s.opts.CandidateWindow)
	}
	out := make([]models.ThreatRecord, 0, len(s.threats))
	for _, t := range s.threats {
		if !t.IsActive {
			continue
		}
		if !cutoff.IsZero() && t.DiscoveredAt.Before(cutoff) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveExtraction overwrites the extraction of a threat.
func (s *MemoryStore) SaveExtraction(_ context.Context, id int64, res models.ExtractionResult) error {
	return s.updateThreat(id, func(t *models.ThreatRecord) {
		res.ThreatID = id
		t.Extraction = &res
	})
}

// SaveClassification overwrites the predicted category of a threat.
func (s *MemoryStore) SaveClassification(_ context.Context, id int64, c models.Classification) error {
	return s.updateThreat(id, func(t *models.ThreatRecord) {
		confidence := c.Confidence
		t.Category = c.Category
		t.Confidence = &confidence
		t.Probabilities = c.Probabilities
	})
}

// SaveRiskAssessment overwrites the risk score and band of a threat.
func (s *MemoryStore) SaveRiskAssessment(_ context.Context, id int64, a models.RiskAssessment) error {
	return s.updateThreat(id, func(t *models.ThreatRecord) {
		score := a.Score
		t.RiskScore = &score
		t.RiskLevel = a.Level
	})
}

// SaveSummary overwrites the summary of a threat.
func (s *MemoryStore) SaveSummary(_ context.Context, id int64, summary string) error {
	return s.updateThreat(id, func(t *models.ThreatRecord) {
		t.Summary = summary
	})
}

func (s *MemoryStore) updateThreat(id int64, fn func(*models.ThreatRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	threat, ok := s.threats[id]
	if !ok {
		return fmt.Errorf("threat %d: %w", id, ErrNotFound)
	}
	fn(&threat)
	threat.UpdatedAt = s.now()
	s.threats[id] = threat
	return nil
}

// CreateLogEvent stores a log event as pending and returns its id.
func (s *MemoryStore) CreateLogEvent(_ context.Context, ev models.LogEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	ev.ID = s.nextEventID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	s.events[ev.ID] = ev
	return ev.ID, nil
}

// GetLogEvent returns the log event with id.
func (s *MemoryStore) GetLogEvent(_ context.Context, id int64) (models.LogEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return models.LogEvent{}, fmt.Errorf("log event %d: %w", id, ErrNotFound)
	}
	return ev, nil
}

// PendingLogEvents returns unprocessed events ordered by id.
func (s *MemoryStore) PendingLogEvents(_ context.Context) ([]models.LogEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.LogEvent, 0)
	for id, ev := range s.events {
		if !s.processed[id] {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if s.opts.PendingLimit > 0 && len(out) > s.opts.PendingLimit {
		out = out[:s.opts.PendingLimit]
	}
	return out, nil
}

// SaveCorrelation appends a correlation row.
func (s *MemoryStore) SaveCorrelation(_ context.Context, c models.CorrelationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[c.LogEventID]; !ok {
		return fmt.Errorf("log event %d: %w", c.LogEventID, ErrNotFound)
	}
	if _, ok := s.threats[c.ThreatID]; !ok {
		return fmt.Errorf("threat %d: %w", c.ThreatID, ErrNotFound)
	}
	c.MatchedIndicators = append([]string(nil), c.MatchedIndicators...)
	s.correlations = append(s.correlations, c)
	return nil
}

// MarkProcessed flags a log event as correlated.
func (s *MemoryStore) MarkProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return fmt.Errorf("log event %d: %w", id, ErrNotFound)
	}
	s.processed[id] = true
	return nil
}

// Correlations returns every stored correlation for a log event, oldest first.
func (s *MemoryStore) Correlations(_ context.Context, logEventID int64) ([]models.CorrelationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CorrelationResult
	for _, c := range s.correlations {
		if c.LogEventID == logEventID {
			out = append(out, c)
		}
	}
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
