package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aitastack/aita-fusion/internal/models"
)

func TestMemoryStoreUpsertKeepsDerivedFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(StoreOptions{})

	id, err := store.CreateThreat(ctx, models.ThreatRecord{Source: "nvd", ExternalID: "CVE-1", Title: "first", IsActive: true})
	if err != nil {
		t.Fatalf("create threat: %v", err)
	}
	if err := store.SaveSummary(ctx, id, "kept"); err != nil {
		t.Fatalf("save summary: %v", err)
	}
	if err := store.SaveRiskAssessment(ctx, id, models.RiskAssessment{Score: 8.2, Level: models.RiskCritical}); err != nil {
		t.Fatalf("save risk: %v", err)
	}

	again, err := store.CreateThreat(ctx, models.ThreatRecord{Source: "nvd", ExternalID: "CVE-1", Title: "second", IsActive: true})
	if err != nil {
		t.Fatalf("upsert threat: %v", err)
	}
	if again != id {
		t.Fatalf("expected upsert to reuse id %d, got %d", id, again)
	}

	threat, err := store.GetThreat(ctx, id)
	if err != nil {
		t.Fatalf("get threat: %v", err)
	}
	if threat.Title != "second" {
		t.Fatalf("expected feed fields refreshed, got %q", threat.Title)
	}
	if threat.Summary != "kept" || threat.RiskScore == nil || *threat.RiskScore != 8.2 {
		t.Fatalf("expected derived fields preserved, got %+v", threat)
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(StoreOptions{})

	if _, err := store.GetThreat(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetLogEvent(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.SaveExtraction(ctx, 42, models.NewExtractionResult()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.MarkProcessed(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreCandidateWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(StoreOptions{CandidateWindow: 30 * 24 * time.Hour})
	store.now = func() time.Time { return now }

	fresh, _ := store.CreateThreat(ctx, models.ThreatRecord{Source: "a", ExternalID: "1", IsActive: true, DiscoveredAt: now.Add(-48 * time.Hour)})
	_, _ = store.CreateThreat(ctx, models.ThreatRecord{Source: "a", ExternalID: "2", IsActive: true, DiscoveredAt: now.Add(-60 * 24 * time.Hour)})
	_, _ = store.CreateThreat(ctx, models.ThreatRecord{Source: "a", ExternalID: "3", IsActive: false, DiscoveredAt: now})
	later, _ := store.CreateThreat(ctx, models.ThreatRecord{Source: "a", ExternalID: "4", IsActive: true, DiscoveredAt: now})

	candidates, err := store.CandidateThreats(ctx)
	if err != nil {
		t.Fatalf("candidate threats: %v", err)
	}
	if len(candidates) != 2 || candidates[0].ID != fresh || candidates[1].ID != later {
		t.Fatalf("unexpected candidates: %+v", candidates)
	}
}

func TestMemoryStorePendingLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(StoreOptions{PendingLimit: 2})

	threatID, _ := store.CreateThreat(ctx, models.ThreatRecord{Source: "a", ExternalID: "1", IsActive: true})
	first, _ := store.CreateLogEvent(ctx, models.LogEvent{SourceIP: "203.0.113.1"})
	second, _ := store.CreateLogEvent(ctx, models.LogEvent{SourceIP: "203.0.113.2"})
	_, _ = store.CreateLogEvent(ctx, models.LogEvent{SourceIP: "203.0.113.3"})

	pending, err := store.PendingLogEvents(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first || pending[1].ID != second {
		t.Fatalf("expected first two events, got %+v", pending)
	}

	if err := store.SaveCorrelation(ctx, models.CorrelationResult{ID: "c1", LogEventID: first, ThreatID: threatID, Score: 0.9}); err != nil {
		t.Fatalf("save correlation: %v", err)
	}
	if err := store.MarkProcessed(ctx, first); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	pending, _ = store.PendingLogEvents(ctx)
	if len(pending) != 2 || pending[0].ID != second {
		t.Fatalf("expected processed event to drop out, got %+v", pending)
	}

	rows, _ := store.Correlations(ctx, first)
	if len(rows) != 1 || rows[0].ID != "c1" {
		t.Fatalf("unexpected correlations: %+v", rows)
	}
}

func TestMemoryStoreRejectsDanglingCorrelation(t *testing.T) {
	store := NewMemoryStore(StoreOptions{})
	err := store.SaveCorrelation(context.Background(), models.CorrelationResult{LogEventID: 1, ThreatID: 1})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
