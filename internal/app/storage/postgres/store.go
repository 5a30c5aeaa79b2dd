// Package postgres implements the discovery pipeline's persistence seams
// (registry.Store, sessionsvc.Store, candidateprocessor.CandidateStore,
// querygen.RecordStore) over database/sql and github.com/lib/pq. Grounded on
// the teacher's internal/app/storage/postgres/store.go (Store wraps *sql.DB,
// compile-time interface assertions, uuid.NewString id generation,
// parameterized $N statements) and further on system/events/store_postgres.go
// for the EnsureSchema/JSONB-column convention.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/errors"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/fixedpoint"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/registry"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/candidateprocessor"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/querygen"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/search"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/sessionsvc"
)

// Store is the postgres-backed implementation of every persistence seam the
// discovery pipeline defines.
type Store struct {
	db  *sql.DB
	sdb *sqlx.DB
}

// New constructs a Store wrapping db. db's lifecycle (open/close, pooling)
// is the caller's responsibility. The paginated session listing goes
// through a sqlx.DB wrapping the same connection.
func New(db *sql.DB) *Store {
	return &Store{db: db, sdb: sqlx.NewDb(db, "postgres")}
}

var (
	_ registry.Store                    = (*Store)(nil)
	_ sessionsvc.Store                  = (*Store)(nil)
	_ candidateprocessor.CandidateStore = (*Store)(nil)
	_ querygen.RecordStore              = (*Store)(nil)
	_ search.UsageRecorder              = (*Store)(nil)
	_ search.UsageReader                = (*Store)(nil)
)

// EnsureSchema creates the tables this package reads and writes if they do
// not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS domains (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			discovered_at TIMESTAMPTZ NOT NULL,
			last_processed_at TIMESTAMPTZ,
			high_quality_count INTEGER NOT NULL DEFAULT 0,
			low_quality_count INTEGER NOT NULL DEFAULT 0,
			best_confidence INTEGER NOT NULL DEFAULT 0,
			blacklisted_by TEXT,
			blacklisted_at TIMESTAMPTZ,
			blacklist_reason TEXT,
			retry_after TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_domains_status ON domains(status);

		CREATE TABLE IF NOT EXISTS discovery_sessions (
			id TEXT PRIMARY KEY,
			session_type TEXT NOT NULL,
			status TEXT NOT NULL,
			executed_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			duration_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
			candidates_found INTEGER NOT NULL DEFAULT 0,
			duplicates_detected INTEGER NOT NULL DEFAULT 0,
			average_confidence_score INTEGER,
			search_engines_used TEXT[] NOT NULL DEFAULT '{}',
			search_queries TEXT[] NOT NULL DEFAULT '{}',
			engine_counters JSONB NOT NULL DEFAULT '{}',
			engine_failures JSONB NOT NULL DEFAULT '{}',
			query_generation_prompt TEXT,
			language_model TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_discovery_sessions_executed_at ON discovery_sessions(executed_at DESC);
		CREATE INDEX IF NOT EXISTS idx_discovery_sessions_status ON discovery_sessions(status);

		CREATE TABLE IF NOT EXISTS funding_candidates (
			id TEXT PRIMARY KEY,
			discovery_session_id TEXT NOT NULL,
			domain_id TEXT NOT NULL,
			status TEXT NOT NULL,
			confidence INTEGER NOT NULL,
			source_url TEXT NOT NULL,
			discovered_at TIMESTAMPTZ NOT NULL,
			organization_name TEXT,
			program_name TEXT,
			description TEXT,
			reasoning TEXT,
			originating_query TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_funding_candidates_session ON funding_candidates(discovery_session_id);
		CREATE INDEX IF NOT EXISTS idx_funding_candidates_domain ON funding_candidates(domain_id);

		CREATE TABLE IF NOT EXISTS query_records (
			id BIGSERIAL PRIMARY KEY,
			engine TEXT NOT NULL,
			query_text TEXT NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			session_id TEXT NOT NULL,
			cache_key TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_query_records_session ON query_records(session_id);

		CREATE TABLE IF NOT EXISTS api_usage (
			id BIGSERIAL PRIMARY KEY,
			engine TEXT NOT NULL,
			query_text TEXT NOT NULL,
			result_count INTEGER NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL,
			error_kind TEXT,
			executed_at TIMESTAMPTZ NOT NULL,
			response_time_ms BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_api_usage_engine_executed ON api_usage(engine, executed_at DESC);
	`)
	if err != nil {
		return errors.DatabaseError("ensure_schema", err)
	}
	return nil
}

// --- registry.Store ---

func (s *Store) GetDomainByName(ctx context.Context, name string) (*model.Domain, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, discovered_at, last_processed_at, high_quality_count,
		       low_quality_count, best_confidence, blacklisted_by, blacklisted_at,
		       blacklist_reason, retry_after
		FROM domains WHERE name = $1`, name)
	return scanDomain(row)
}

func (s *Store) GetDomainByID(ctx context.Context, id uuid.UUID) (*model.Domain, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, discovered_at, last_processed_at, high_quality_count,
		       low_quality_count, best_confidence, blacklisted_by, blacklisted_at,
		       blacklist_reason, retry_after
		FROM domains WHERE id = $1`, id.String())
	return scanDomain(row)
}

func (s *Store) InsertDomain(ctx context.Context, d *model.Domain) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domains (id, name, status, discovered_at, last_processed_at,
		                      high_quality_count, low_quality_count, best_confidence,
		                      blacklisted_by, blacklisted_at, blacklist_reason, retry_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID.String(), d.Name, string(d.Status), d.DiscoveredAt, d.LastProcessedAt,
		d.HighQualityCount, d.LowQualityCount, int64(d.BestConfidence),
		d.BlacklistedBy, d.BlacklistedAt, d.BlacklistReason, d.RetryAfter)
	if isUniqueViolation(err) {
		return errors.AlreadyExists("domain", d.Name)
	}
	if err != nil {
		return errors.DatabaseError("insert_domain", err)
	}
	return nil
}

func (s *Store) UpdateDomain(ctx context.Context, d *model.Domain) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE domains SET status=$2, last_processed_at=$3, high_quality_count=$4,
		       low_quality_count=$5, best_confidence=$6, blacklisted_by=$7,
		       blacklisted_at=$8, blacklist_reason=$9, retry_after=$10
		WHERE id=$1`,
		d.ID.String(), string(d.Status), d.LastProcessedAt, d.HighQualityCount,
		d.LowQualityCount, int64(d.BestConfidence), d.BlacklistedBy, d.BlacklistedAt,
		d.BlacklistReason, d.RetryAfter)
	if err != nil {
		return errors.DatabaseError("update_domain", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("domain", d.ID.String())
	}
	return nil
}

func scanDomain(row *sql.Row) (*model.Domain, error) {
	var d model.Domain
	var id string
	var bestConfidence int64
	err := row.Scan(&id, &d.Name, &d.Status, &d.DiscoveredAt, &d.LastProcessedAt,
		&d.HighQualityCount, &d.LowQualityCount, &bestConfidence,
		&d.BlacklistedBy, &d.BlacklistedAt, &d.BlacklistReason, &d.RetryAfter)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.DatabaseError("scan_domain", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, errors.DatabaseError("scan_domain", err)
	}
	d.ID = parsed
	d.BestConfidence = fixedpoint.Scale2(bestConfidence)
	return &d, nil
}

// --- sessionsvc.Store ---

func (s *Store) InsertSession(ctx context.Context, sess *model.DiscoverySession) error {
	counters, failures, err := marshalSessionMaps(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO discovery_sessions (id, session_type, status, executed_at, started_at,
		                                 completed_at, duration_minutes, candidates_found,
		                                 duplicates_detected, average_confidence_score,
		                                 search_engines_used, search_queries, engine_counters,
		                                 engine_failures, query_generation_prompt, language_model)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		sess.ID.String(), string(sess.SessionType), string(sess.Status), sess.ExecutedAt,
		sess.StartedAt, sess.CompletedAt, sess.DurationMinutes, sess.CandidatesFound,
		sess.DuplicatesDetected, scale2PtrToInt64Ptr(sess.AverageConfidenceScore),
		pq.Array(engineStrings(sess.SearchEnginesUsed)), pq.Array(sess.SearchQueries),
		counters, failures, sess.QueryGenerationPrompt, sess.LanguageModel)
	if err != nil {
		return errors.DatabaseError("insert_session", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *model.DiscoverySession) error {
	counters, failures, err := marshalSessionMaps(sess)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE discovery_sessions SET status=$2, completed_at=$3, duration_minutes=$4,
		       candidates_found=$5, duplicates_detected=$6, average_confidence_score=$7,
		       engine_counters=$8, engine_failures=$9
		WHERE id=$1`,
		sess.ID.String(), string(sess.Status), sess.CompletedAt, sess.DurationMinutes,
		sess.CandidatesFound, sess.DuplicatesDetected, scale2PtrToInt64Ptr(sess.AverageConfidenceScore),
		counters, failures)
	if err != nil {
		return errors.DatabaseError("update_session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("discovery_session", sess.ID.String())
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*model.DiscoverySession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_type, status, executed_at, started_at, completed_at,
		       duration_minutes, candidates_found, duplicates_detected, average_confidence_score,
		       search_engines_used, search_queries, engine_counters, engine_failures,
		       query_generation_prompt, language_model
		FROM discovery_sessions WHERE id = $1`, id.String())
	return scanSession(row)
}

// sessionRow mirrors discovery_sessions' columns for sqlx's reflection-based
// StructScan, used by ListSessions. The array/JSONB columns are decoded
// separately in toDomain since pq.StringArray/JSONB need custom handling
// StructScan alone does not do.
type sessionRow struct {
	ID                     string         `db:"id"`
	SessionType            string         `db:"session_type"`
	Status                 string         `db:"status"`
	ExecutedAt             time.Time      `db:"executed_at"`
	StartedAt              time.Time      `db:"started_at"`
	CompletedAt            *time.Time     `db:"completed_at"`
	DurationMinutes        float64        `db:"duration_minutes"`
	CandidatesFound        int            `db:"candidates_found"`
	DuplicatesDetected     int            `db:"duplicates_detected"`
	AverageConfidenceScore *int64         `db:"average_confidence_score"`
	SearchEnginesUsed      pq.StringArray `db:"search_engines_used"`
	SearchQueries          pq.StringArray `db:"search_queries"`
	EngineCounters         []byte         `db:"engine_counters"`
	EngineFailures         []byte         `db:"engine_failures"`
	QueryGenerationPrompt  sql.NullString `db:"query_generation_prompt"`
	LanguageModel          sql.NullString `db:"language_model"`
}

func (r sessionRow) toDomain() (*model.DiscoverySession, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, errors.DatabaseError("scan_session", err)
	}
	sess := &model.DiscoverySession{
		ID:                    id,
		SessionType:           model.SessionType(r.SessionType),
		Status:                model.SessionStatus(r.Status),
		ExecutedAt:            r.ExecutedAt,
		StartedAt:             r.StartedAt,
		CompletedAt:           r.CompletedAt,
		DurationMinutes:       r.DurationMinutes,
		CandidatesFound:       r.CandidatesFound,
		DuplicatesDetected:    r.DuplicatesDetected,
		QueryGenerationPrompt: r.QueryGenerationPrompt.String,
		LanguageModel:         r.LanguageModel.String,
		EngineCounters:        make(map[model.SearchEngine]int),
		EngineFailures:        make(map[model.SearchEngine][]string),
	}
	if r.AverageConfidenceScore != nil {
		v := fixedpoint.Scale2(*r.AverageConfidenceScore)
		sess.AverageConfidenceScore = &v
	}
	for _, e := range r.SearchEnginesUsed {
		sess.SearchEnginesUsed = append(sess.SearchEnginesUsed, model.SearchEngine(e))
	}
	sess.SearchQueries = append(sess.SearchQueries, r.SearchQueries...)

	if len(r.EngineCounters) > 0 {
		raw := map[string]int{}
		if err := json.Unmarshal(r.EngineCounters, &raw); err != nil {
			return nil, errors.DatabaseError("scan_session", err)
		}
		for k, v := range raw {
			sess.EngineCounters[model.SearchEngine(k)] = v
		}
	}
	if len(r.EngineFailures) > 0 {
		raw := map[string][]string{}
		if err := json.Unmarshal(r.EngineFailures, &raw); err != nil {
			return nil, errors.DatabaseError("scan_session", err)
		}
		for k, v := range raw {
			sess.EngineFailures[model.SearchEngine(k)] = v
		}
	}
	return sess, nil
}

// ListSessions returns a page of sessions ordered newest-first, per
// spec.md §6's GET /api/discovery/sessions?page&size. Scanning goes through
// sqlx's StructScan rather than hand-rolled rows.Scan.
func (s *Store) ListSessions(ctx context.Context, page, size int) ([]model.DiscoverySession, int, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM discovery_sessions`).Scan(&total); err != nil {
		return nil, 0, errors.DatabaseError("count_sessions", err)
	}

	var rows []sessionRow
	err := s.sdb.SelectContext(ctx, &rows, `
		SELECT id, session_type, status, executed_at, started_at, completed_at,
		       duration_minutes, candidates_found, duplicates_detected, average_confidence_score,
		       search_engines_used, search_queries, engine_counters, engine_failures,
		       query_generation_prompt, language_model
		FROM discovery_sessions ORDER BY executed_at DESC LIMIT $1 OFFSET $2`,
		size, (page-1)*size)
	if err != nil {
		return nil, 0, errors.DatabaseError("list_sessions", err)
	}

	out := make([]model.DiscoverySession, 0, len(rows))
	for _, r := range rows {
		sess, err := r.toDomain()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *sess)
	}
	return out, total, nil
}

func scanSession(row *sql.Row) (*model.DiscoverySession, error) {
	var sess model.DiscoverySession
	var id, sessionType, status string
	var avgConf sql.NullInt64
	var engines, queries pq.StringArray
	var counters, failures []byte
	var prompt, lm sql.NullString

	err := row.Scan(&id, &sessionType, &status, &sess.ExecutedAt, &sess.StartedAt,
		&sess.CompletedAt, &sess.DurationMinutes, &sess.CandidatesFound,
		&sess.DuplicatesDetected, &avgConf, &engines, &queries, &counters, &failures,
		&prompt, &lm)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.DatabaseError("scan_session", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, errors.DatabaseError("scan_session", err)
	}
	sess.ID = parsed
	sess.SessionType = model.SessionType(sessionType)
	sess.Status = model.SessionStatus(status)
	sess.QueryGenerationPrompt = prompt.String
	sess.LanguageModel = lm.String
	if avgConf.Valid {
		v := fixedpoint.Scale2(avgConf.Int64)
		sess.AverageConfidenceScore = &v
	}
	for _, e := range engines {
		sess.SearchEnginesUsed = append(sess.SearchEnginesUsed, model.SearchEngine(e))
	}
	sess.SearchQueries = append(sess.SearchQueries, queries...)

	sess.EngineCounters = make(map[model.SearchEngine]int)
	if len(counters) > 0 {
		raw := map[string]int{}
		if err := json.Unmarshal(counters, &raw); err != nil {
			return nil, errors.DatabaseError("scan_session", err)
		}
		for k, v := range raw {
			sess.EngineCounters[model.SearchEngine(k)] = v
		}
	}
	sess.EngineFailures = make(map[model.SearchEngine][]string)
	if len(failures) > 0 {
		raw := map[string][]string{}
		if err := json.Unmarshal(failures, &raw); err != nil {
			return nil, errors.DatabaseError("scan_session", err)
		}
		for k, v := range raw {
			sess.EngineFailures[model.SearchEngine(k)] = v
		}
	}
	return &sess, nil
}

func marshalSessionMaps(sess *model.DiscoverySession) (counters, failures []byte, err error) {
	counters, err = json.Marshal(sess.EngineCounters)
	if err != nil {
		return nil, nil, errors.Internal("marshal engine counters", err)
	}
	failures, err = json.Marshal(sess.EngineFailures)
	if err != nil {
		return nil, nil, errors.Internal("marshal engine failures", err)
	}
	return counters, failures, nil
}

func engineStrings(engines []model.SearchEngine) []string {
	out := make([]string, len(engines))
	for i, e := range engines {
		out[i] = string(e)
	}
	return out
}

func scale2PtrToInt64Ptr(v *fixedpoint.Scale2) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

// --- candidateprocessor.CandidateStore ---

func (s *Store) InsertCandidate(ctx context.Context, c *model.FundingCandidate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO funding_candidates (id, discovery_session_id, domain_id, status,
		                                 confidence, source_url, discovered_at,
		                                 organization_name, program_name, description,
		                                 reasoning, originating_query)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		c.ID.String(), c.DiscoverySessionID.String(), c.DomainID.String(), string(c.Status),
		int64(c.Confidence), c.SourceURL, c.DiscoveredAt, c.OrganizationName, c.ProgramName,
		c.Description, c.Reasoning, c.OriginatingQuery)
	if err != nil {
		return errors.DatabaseError("insert_candidate", err)
	}
	return nil
}

// --- querygen.RecordStore ---

func (s *Store) InsertQueryRecord(ctx context.Context, rec querygen.QueryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_records (engine, query_text, generated_at, session_id, cache_key)
		VALUES ($1,$2,$3,$4,$5)`,
		string(rec.Engine), rec.QueryText, rec.GeneratedAt, rec.SessionID.String(), rec.CacheKey)
	if err != nil {
		return errors.DatabaseError("insert_query_record", err)
	}
	return nil
}

// --- search.UsageRecorder ---

func (s *Store) InsertUsageRecord(ctx context.Context, rec search.UsageRecord) error {
	var errorKind interface{}
	if rec.ErrorKind != "" {
		errorKind = rec.ErrorKind
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_usage (engine, query_text, result_count, success, error_kind,
		                       executed_at, response_time_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		string(rec.Engine), rec.Query, rec.ResultCount, rec.Success, errorKind,
		rec.ExecutedAt, rec.ResponseTimeMS)
	if err != nil {
		return errors.DatabaseError("insert_api_usage", err)
	}
	return nil
}

// UsageSince returns per-engine call accounting for records executed at or
// after since.
func (s *Store) UsageSince(ctx context.Context, since time.Time) ([]search.EngineUsageSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT engine,
		       count(*),
		       count(*) FILTER (WHERE NOT success),
		       coalesce(sum(result_count), 0)
		FROM api_usage
		WHERE executed_at >= $1
		GROUP BY engine
		ORDER BY engine`, since)
	if err != nil {
		return nil, errors.DatabaseError("usage_since", err)
	}
	defer rows.Close()

	var out []search.EngineUsageSummary
	for rows.Next() {
		var sum search.EngineUsageSummary
		var engine string
		if err := rows.Scan(&engine, &sum.Calls, &sum.Failures, &sum.TotalResults); err != nil {
			return nil, errors.DatabaseError("usage_since", err)
		}
		sum.Engine = model.SearchEngine(engine)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("usage_since", err)
	}
	return out, nil
}

// isUniqueViolation reports whether err is a postgres unique_violation
// (SQLSTATE 23505), the race registry.Register resolves by reloading.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
