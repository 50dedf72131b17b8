package repo

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aitastack/aita-fusion/internal/models"
	"github.com/aitastack/aita-fusion/internal/utils"
)

//go:embed schema.sql
var schemaSQL string

// PostgresConfig configures the connection pool of the Postgres read model.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresStore implements the threat and log stores on PostgreSQL.
type PostgresStore struct {
	db   *sqlx.DB
	opts StoreOptions
}

// OpenPostgres connects to PostgreSQL and verifies the connection.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, opts StoreOptions) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", classify(err))
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return NewPostgresStore(db, opts), nil
}

// NewPostgresStore wraps an existing handle.
func NewPostgresStore(db *sqlx.DB, opts StoreOptions) *PostgresStore {
	return &PostgresStore{db: db, opts: opts}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", classify(err))
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type threatRow struct {
	ID                int64           `db:"id"`
	Source            string          `db:"source"`
	ExternalID        string          `db:"external_id"`
	Title             string          `db:"title"`
	Description       string          `db:"description"`
	ThreatType        string          `db:"threat_type"`
	Severity          string          `db:"severity"`
	CVSSScore         sql.NullFloat64 `db:"cvss_score"`
	CVSSVector        string          `db:"cvss_vector"`
	IPAddresses       pq.StringArray  `db:"ip_addresses"`
	Domains           pq.StringArray  `db:"domains"`
	URLs              pq.StringArray  `db:"urls"`
	FileHashes        []byte          `db:"file_hashes"`
	Tags              pq.StringArray  `db:"tags"`
	References        pq.StringArray  `db:"reference_urls"`
	PredictedCategory sql.NullString  `db:"predicted_category"`
	ConfidenceScore   sql.NullFloat64 `db:"confidence_score"`
	Probabilities     []byte          `db:"probabilities"`
	RiskScore         sql.NullFloat64 `db:"risk_score"`
	RiskLevel         sql.NullString  `db:"risk_level"`
	Extraction        []byte          `db:"extraction"`
	Summary           sql.NullString  `db:"summary"`
	DiscoveredDate    sql.NullTime    `db:"discovered_date"`
	IsActive          bool            `db:"is_active"`
	IsVerified        bool            `db:"is_verified"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

const threatColumns = `id, source, external_id, title, description, threat_type, severity,
	cvss_score, cvss_vector, ip_addresses, domains, urls, file_hashes, tags, reference_urls,
	predicted_category, confidence_score, probabilities, risk_score, risk_level, extraction,
	summary, discovered_date, is_active, is_verified, created_at, updated_at`

func newThreatRow(t models.ThreatRecord) (threatRow, error) {
	hashes, err := json.Marshal(nonNilMap(t.FileHashes))
	if err != nil {
		return threatRow{}, fmt.Errorf("encode file hashes: %w", err)
	}
	row := threatRow{
		ID:          t.ID,
		Source:      t.Source,
		ExternalID:  t.ExternalID,
		Title:       t.Title,
		Description: t.Description,
		ThreatType:  t.ThreatType,
		Severity:    string(t.Severity),
		CVSSVector:  t.CVSSVector,
		IPAddresses: pq.StringArray(nonNil(t.IPAddresses)),
		Domains:     pq.StringArray(nonNil(t.Domains)),
		URLs:        pq.StringArray(nonNil(t.URLs)),
		FileHashes:  hashes,
		Tags:        pq.StringArray(nonNil(t.Tags)),
		References:  pq.StringArray(nonNil(t.References)),
		IsActive:    t.IsActive,
		IsVerified:  t.IsVerified,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if row.Severity == "" {
		row.Severity = string(models.SeverityUnknown)
	}
	if t.BaseScore != nil {
		row.CVSSScore = sql.NullFloat64{Float64: *t.BaseScore, Valid: true}
	}
	if !t.DiscoveredAt.IsZero() {
		row.DiscoveredDate = sql.NullTime{Time: t.DiscoveredAt, Valid: true}
	}
	return row, nil
}

func (r threatRow) toModel() (models.ThreatRecord, error) {
	t := models.ThreatRecord{
		ID:          r.ID,
		Source:      r.Source,
		ExternalID:  r.ExternalID,
		Title:       r.Title,
		Description: r.Description,
		ThreatType:  r.ThreatType,
		Severity:    models.Severity(r.Severity),
		CVSSVector:  r.CVSSVector,
		IPAddresses: []string(r.IPAddresses),
		Domains:     []string(r.Domains),
		URLs:        []string(r.URLs),
		Tags:        []string(r.Tags),
		References:  []string(r.References),
		Category:    models.Category(r.PredictedCategory.String),
		RiskLevel:   models.RiskLevel(r.RiskLevel.String),
		Summary:     r.Summary.String,
		IsActive:    r.IsActive,
		IsVerified:  r.IsVerified,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.CVSSScore.Valid {
		v := r.CVSSScore.Float64
		t.BaseScore = &v
	}
	if r.ConfidenceScore.Valid {
		v := r.ConfidenceScore.Float64
		t.Confidence = &v
	}
	if r.RiskScore.Valid {
		v := r.RiskScore.Float64
		t.RiskScore = &v
	}
	if r.DiscoveredDate.Valid {
		t.DiscoveredAt = r.DiscoveredDate.Time
	}
	if len(r.FileHashes) > 0 {
		if err := json.Unmarshal(r.FileHashes, &t.FileHashes); err != nil {
			return t, fmt.Errorf("decode file hashes of threat %d: %w", r.ID, err)
		}
	}
	if len(r.Probabilities) > 0 {
		if err := json.Unmarshal(r.Probabilities, &t.Probabilities); err != nil {
			return t, fmt.Errorf("decode probabilities of threat %d: %w", r.ID, err)
		}
	}
	if len(r.Extraction) > 0 {
		var res models.ExtractionResult
		if err := json.Unmarshal(r.Extraction, &res); err != nil {
			return t, fmt.Errorf("decode extraction of threat %d: %w", r.ID, err)
		}
		t.Extraction = &res
	}
	return t, nil
}

// CreateThreat upserts on (source, external_id). Derived columns are left untouched on
// conflict so enrichment survives feed refreshes.
func (s *PostgresStore) CreateThreat(ctx context.Context, threat models.ThreatRecord) (int64, error) {
	row, err := newThreatRow(threat)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	query := `
		INSERT INTO threat_intelligence (
			source, external_id, title, description, threat_type, severity, cvss_score,
			cvss_vector, ip_addresses, domains, urls, file_hashes, tags, reference_urls,
			discovered_date, is_active, is_verified, created_at, updated_at
		) VALUES (
			:source, :external_id, :title, :description, :threat_type, :severity, :cvss_score,
			:cvss_vector, :ip_addresses, :domains, :urls, :file_hashes, :tags, :reference_urls,
			:discovered_date, :is_active, :is_verified, :created_at, :updated_at
		)
		ON CONFLICT (source, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			threat_type = EXCLUDED.threat_type,
			severity = EXCLUDED.severity,
			cvss_score = EXCLUDED.cvss_score,
			cvss_vector = EXCLUDED.cvss_vector,
			ip_addresses = EXCLUDED.ip_addresses,
			domains = EXCLUDED.domains,
			urls = EXCLUDED.urls,
			file_hashes = EXCLUDED.file_hashes,
			tags = EXCLUDED.tags,
			reference_urls = EXCLUDED.reference_urls,
			discovered_date = EXCLUDED.discovered_date,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	stmt, err := s.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("prepare threat upsert: %w", classify(err))
	}
	defer stmt.Close()

	var id int64
	if err := stmt.GetContext(ctx, &id, row); err != nil {
		return 0, fmt.Errorf("upsert threat %s/%s: %w", threat.Source, threat.ExternalID, classify(err))
	}
	return id, nil
}

// GetThreat loads a threat by id.
func (s *PostgresStore) GetThreat(ctx context.Context, id int64) (models.ThreatRecord, error) {
	var row threatRow
	query := `SELECT ` + threatColumns + ` FROM threat_intelligence WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ThreatRecord{}, fmt.Errorf("threat %d: %w", id, ErrNotFound)
		}
		return models.ThreatRecord{}, fmt.Errorf("get threat %d: %w", id, classify(err))
	}
	return row.toModel()
}

// CandidateThreats returns active threats inside the candidate window, ordered by id.
func (s *PostgresStore) CandidateThreats(ctx context.Context) ([]models.ThreatRecord, error) {
	var rows []threatRow
	query := `SELECT ` + threatColumns + ` FROM threat_intelligence
		WHERE is_active
		  AND ($1::double precision = 0 OR discovered_date >= NOW() - make_interval(secs => $1::double precision))
		ORDER BY id`
	if err := s.db.SelectContext(ctx, &rows, query, s.opts.CandidateWindow.Seconds()); err != nil {
		return nil, fmt.Errorf("select candidate threats: %w", classify(err))
	}
	out := make([]models.ThreatRecord, 0, len(rows))
	for _, row := range rows {
		t, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// SaveExtraction overwrites the extraction column.
func (s *PostgresStore) SaveExtraction(ctx context.Context, id int64, res models.ExtractionResult) error {
	res.ThreatID = id
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode extraction: %w", err)
	}
	return s.updateThreat(ctx, id, "save extraction",
		`UPDATE threat_intelligence SET extraction = $2, updated_at = NOW() WHERE id = $1`, data)
}

// SaveClassification overwrites the predicted category columns.
func (s *PostgresStore) SaveClassification(ctx context.Context, id int64, c models.Classification) error {
	probs, err := json.Marshal(c.Probabilities)
	if err != nil {
		return fmt.Errorf("encode probabilities: %w", err)
	}
	return s.updateThreat(ctx, id, "save classification",
		`UPDATE threat_intelligence
			SET predicted_category = $2, confidence_score = $3, probabilities = $4, updated_at = NOW()
			WHERE id = $1`,
		string(c.Category), c.Confidence, probs)
}

// SaveRiskAssessment overwrites the risk columns.
func (s *PostgresStore) SaveRiskAssessment(ctx context.Context, id int64, a models.RiskAssessment) error {
	return s.updateThreat(ctx, id, "save risk assessment",
		`UPDATE threat_intelligence SET risk_score = $2, risk_level = $3, updated_at = NOW() WHERE id = $1`,
		a.Score, string(a.Level))
}

// SaveSummary overwrites the summary column.
func (s *PostgresStore) SaveSummary(ctx context.Context, id int64, summary string) error {
	return s.updateThreat(ctx, id, "save summary",
		`UPDATE threat_intelligence SET summary = $2, updated_at = NOW() WHERE id = $1`, summary)
}

func (s *PostgresStore) updateThreat(ctx context.Context, id int64, op, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, append([]interface{}{id}, args...)...)
	if err != nil {
		return fmt.Errorf("%s for threat %d: %w", op, id, classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("threat %d: %w", id, ErrNotFound)
	}
	return nil
}

const logEventColumns = `id, source_ip, destination_ip, domain, url, file_hash, message, timestamp`

// CreateLogEvent inserts a pending log event.
func (s *PostgresStore) CreateLogEvent(ctx context.Context, ev models.LogEvent) (int64, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	var id int64
	query := `INSERT INTO log_events (source_ip, destination_ip, domain, url, file_hash, message, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	err := s.db.GetContext(ctx, &id, query,
		ev.SourceIP, ev.DestinationIP, ev.Domain, ev.URL, ev.FileHash, ev.Message, ev.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("insert log event: %w", classify(err))
	}
	return id, nil
}

// GetLogEvent loads a log event by id.
func (s *PostgresStore) GetLogEvent(ctx context.Context, id int64) (models.LogEvent, error) {
	var ev models.LogEvent
	query := `SELECT ` + logEventColumns + ` FROM log_events WHERE id = $1`
	if err := s.db.GetContext(ctx, &ev, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.LogEvent{}, fmt.Errorf("log event %d: %w", id, ErrNotFound)
		}
		return models.LogEvent{}, fmt.Errorf("get log event %d: %w", id, classify(err))
	}
	return ev, nil
}

// PendingLogEvents returns unprocessed events ordered by id.
func (s *PostgresStore) PendingLogEvents(ctx context.Context) ([]models.LogEvent, error) {
	var events []models.LogEvent
	query := `SELECT ` + logEventColumns + ` FROM log_events
		WHERE NOT processed ORDER BY id LIMIT NULLIF($1, 0)`
	if err := s.db.SelectContext(ctx, &events, query, s.opts.PendingLimit); err != nil {
		return nil, fmt.Errorf("select pending log events: %w", classify(err))
	}
	return events, nil
}

// SaveCorrelation inserts a correlation row.
func (s *PostgresStore) SaveCorrelation(ctx context.Context, c models.CorrelationResult) error {
	query := `INSERT INTO threat_correlations
		(id, log_event_id, threat_id, run_id, correlation_score, matched_indicators, correlation_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.LogEventID, c.ThreatID, c.RunID, c.Score,
		pq.StringArray(nonNil(c.MatchedIndicators)), string(c.Type), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert correlation for log event %d: %w", c.LogEventID, classify(err))
	}
	return nil
}

// MarkProcessed flags a log event as correlated.
func (s *PostgresStore) MarkProcessed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE log_events SET processed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark log event %d processed: %w", id, classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("log event %d: %w", id, ErrNotFound)
	}
	return nil
}

// classify tags connection loss, serialization conflicts and admin shutdowns as
// transient so callers can retry them.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) {
		return utils.Transient(err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08",
			pqErr.Code == "40001",
			pqErr.Code == "40P01",
			pqErr.Code == "57P01",
			pqErr.Code == "53300":
			return utils.Transient(err)
		}
	}
	return err
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nonNilMap(values map[string]string) map[string]string {
	if values == nil {
		return map[string]string{}
	}
	return values
}
