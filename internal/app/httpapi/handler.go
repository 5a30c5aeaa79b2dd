package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/cache"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/errors"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/httputil"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/logging"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/redaction"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/utils"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/discovery"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/querycache"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/search"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/sessionsvc"
	"github.com/kevinhagel/fundingdiscovery/internal/app/system"
)

// legacyEngineAliases maps the names the old trigger endpoint accepted onto
// the current adapter set. Anything outside this whitelist is a 400.
var legacyEngineAliases = map[string]model.SearchEngine{
	"searxng":    model.EngineSearxng,
	"tavily":     model.EngineSerper,
	"perplexity": model.EnginePerplexica,
}

// Handler carries the discovery endpoints' dependencies.
type Handler struct {
	runner     *discovery.Runner
	sessions   *sessionsvc.Service
	adapters   *search.Registry
	queryCache *querycache.Cache
	defaults   discovery.Request
	logger     *logging.Logger
	redactor   *redaction.Redactor

	services    []system.Service
	statusCache *cache.TTLCache
	usage       search.UsageReader
}

// NewHandler constructs the endpoint set. defaults supplies the category
// set, geographic scope, and result cap the legacy trigger runs with.
func NewHandler(runner *discovery.Runner, sessions *sessionsvc.Service, adapters *search.Registry,
	queryCache *querycache.Cache, defaults discovery.Request, logger *logging.Logger) *Handler {
	return &Handler{
		runner:      runner,
		sessions:    sessions,
		adapters:    adapters,
		queryCache:  queryCache,
		defaults:    defaults,
		logger:      logger,
		redactor:    redaction.NewRedactor(redaction.DefaultConfig()),
		statusCache: cache.NewTTLCache(30 * time.Second),
	}
}

// RegisterServices records the lifecycle services whose descriptors
// /system/status reports.
func (h *Handler) RegisterServices(services ...system.Service) {
	h.services = append(h.services, services...)
}

// SetUsageReader enables the operator-facing GET /api/usage endpoint. Left
// nil when the backing store has no usage aggregation.
func (h *Handler) SetUsageReader(reader search.UsageReader) {
	h.usage = reader
}

type usageSummaryDTO struct {
	Engine       string `json:"engine"`
	Calls        int    `json:"calls"`
	Failures     int    `json:"failures"`
	TotalResults int    `json:"totalResults"`
}

// EngineUsage is GET /api/usage?hours=N: read-only per-engine call
// accounting over the trailing window, for rate-limit budgeting.
func (h *Handler) EngineUsage(w http.ResponseWriter, r *http.Request) {
	if h.usage == nil {
		httputil.ServiceUnavailable(w, "usage accounting not available")
		return
	}
	hours := httputil.QueryInt(r, "hours", 24)
	if hours < 1 || hours > 24*31 {
		httputil.BadRequest(w, "hours must be between 1 and 744")
		return
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	summaries, err := h.usage.UsageSince(r.Context(), since)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]usageSummaryDTO, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, usageSummaryDTO{
			Engine:       string(s.Engine),
			Calls:        s.Calls,
			Failures:     s.Failures,
			TotalResults: s.TotalResults,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sinceHours": hours,
		"engines":    out,
	})
}

type executeRequest struct {
	Engines         []string `json:"engines"`
	Categories      []string `json:"categories"`
	GeographicScope string   `json:"geographicScope"`
	MaxResults      int      `json:"maxResults"`
	RecipientTags   []string `json:"recipientTags"`
	MechanismTags   []string `json:"mechanismTags"`
	BeneficiaryTags []string `json:"beneficiaryTags"`
}

type executeResponse struct {
	SessionID    string `json:"sessionId"`
	QueriesCount int    `json:"queriesCount"`
}

// ExecuteSearch is POST /api/search/execute: 202 Accepted as long as the
// session can be created; the session itself runs asynchronously and its
// failures surface through session status (spec.md §6, §7).
func (h *Handler) ExecuteSearch(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	engines := make([]model.SearchEngine, 0, len(req.Engines))
	for _, raw := range utils.TrimEmpty(req.Engines) {
		engines = append(engines, model.SearchEngine(strings.ToUpper(raw)))
	}
	categories := make([]model.Category, 0, len(req.Categories))
	for _, raw := range utils.TrimEmpty(req.Categories) {
		categories = append(categories, model.Category(strings.ToUpper(raw)))
	}

	if h.logger != nil {
		h.logger.Info(r.Context(), "discovery trigger received", h.redactor.RedactMap(map[string]interface{}{
			"engines":    req.Engines,
			"categories": req.Categories,
			"scope":      req.GeographicScope,
			"maxResults": req.MaxResults,
		}))
	}

	receipt, err := h.runner.Execute(r.Context(), discovery.Request{
		SessionType:     model.SessionManual,
		Engines:         engines,
		Categories:      categories,
		GeographicScope: req.GeographicScope,
		RecipientTags:   req.RecipientTags,
		MechanismTags:   req.MechanismTags,
		BeneficiaryTags: req.BeneficiaryTags,
		MaxResults:      req.MaxResults,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, executeResponse{
		SessionID:    receipt.SessionID.String(),
		QueriesCount: receipt.QueriesCount,
	})
}

// LegacyTrigger is POST /api/discovery/trigger: the pre-rework trigger with
// its engine whitelist. Invalid engine names return 400; an empty engine
// list runs every whitelisted engine.
func (h *Handler) LegacyTrigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Engines []string `json:"engines"`
	}
	if !httputil.DecodeJSONOptional(w, r, &req) {
		return
	}

	var engines []model.SearchEngine
	if len(req.Engines) == 0 {
		for _, engine := range legacyEngineAliases {
			engines = append(engines, engine)
		}
	} else {
		for _, raw := range utils.TrimEmpty(req.Engines) {
			engine, ok := legacyEngineAliases[strings.ToLower(raw)]
			if !ok {
				httputil.BadRequest(w, "unknown engine "+raw)
				return
			}
			engines = append(engines, engine)
		}
	}

	run := h.defaults
	run.SessionType = model.SessionManual
	run.Engines = engines

	receipt, err := h.runner.Execute(r.Context(), run)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, executeResponse{
		SessionID:    receipt.SessionID.String(),
		QueriesCount: receipt.QueriesCount,
	})
}

type sessionDTO struct {
	ID                     string              `json:"id"`
	SessionType            string              `json:"sessionType"`
	Status                 string              `json:"status"`
	ExecutedAt             time.Time           `json:"executedAt"`
	StartedAt              time.Time           `json:"startedAt"`
	CompletedAt            *time.Time          `json:"completedAt,omitempty"`
	DurationMinutes        float64             `json:"durationMinutes"`
	CandidatesFound        int                 `json:"candidatesFound"`
	DuplicatesDetected     int                 `json:"duplicatesDetected"`
	AverageConfidenceScore *float64            `json:"averageConfidenceScore"`
	SearchEnginesUsed      []string            `json:"searchEnginesUsed"`
	SearchQueries          []string            `json:"searchQueries"`
	EngineCounters         map[string]int      `json:"engineCounters"`
	EngineFailures         map[string][]string `json:"engineFailures"`
	LanguageModel          string              `json:"languageModel,omitempty"`
}

type sessionListResponse struct {
	Sessions []sessionDTO `json:"sessions"`
	Page     int          `json:"page"`
	Size     int          `json:"size"`
	Total    int          `json:"total"`
}

// ListSessions is GET /api/discovery/sessions?page&size. page is 0-based;
// page >= 0 and 1 <= size <= 100 else 400 (spec.md §6).
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	page := httputil.QueryInt(r, "page", 0)
	size := httputil.QueryInt(r, "size", 20)
	if page < 0 {
		httputil.BadRequest(w, "page must be >= 0")
		return
	}
	if size < 1 || size > 100 {
		httputil.BadRequest(w, "size must be between 1 and 100")
		return
	}

	sessions, total, err := h.sessions.ListSessions(r.Context(), page+1, size)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := sessionListResponse{
		Sessions: make([]sessionDTO, 0, len(sessions)),
		Page:     page,
		Size:     size,
		Total:    total,
	}
	for i := range sessions {
		out.Sessions = append(out.Sessions, toSessionDTO(&sessions[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// CancelSession is POST /api/discovery/sessions/{sessionID}/cancel: stops
// fan-out before the next batch and transitions the session to CANCELLED.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.BadRequest(w, "invalid session id")
		return
	}
	if err := h.runner.Cancel(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.RespondNoContent(w)
}

func toSessionDTO(s *model.DiscoverySession) sessionDTO {
	dto := sessionDTO{
		ID:                 s.ID.String(),
		SessionType:        string(s.SessionType),
		Status:             string(s.Status),
		ExecutedAt:         s.ExecutedAt,
		StartedAt:          s.StartedAt,
		CompletedAt:        s.CompletedAt,
		DurationMinutes:    s.DurationMinutes,
		CandidatesFound:    s.CandidatesFound,
		DuplicatesDetected: s.DuplicatesDetected,
		SearchQueries:      s.SearchQueries,
		EngineCounters:     make(map[string]int, len(s.EngineCounters)),
		EngineFailures:     make(map[string][]string, len(s.EngineFailures)),
		LanguageModel:      s.LanguageModel,
	}
	if s.AverageConfidenceScore != nil {
		v := s.AverageConfidenceScore.Float()
		dto.AverageConfidenceScore = &v
	}
	for _, e := range s.SearchEnginesUsed {
		dto.SearchEnginesUsed = append(dto.SearchEnginesUsed, string(e))
	}
	for engine, count := range s.EngineCounters {
		dto.EngineCounters[string(engine)] = count
	}
	for engine, failures := range s.EngineFailures {
		dto.EngineFailures[string(engine)] = failures
	}
	return dto
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if se := errors.GetServiceError(err); se != nil {
		httputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
		return
	}
	httputil.InternalError(w, "internal error")
}
