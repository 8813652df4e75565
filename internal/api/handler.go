package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-trust/magpie/internal/analyzer"
	"github.com/opensource-trust/magpie/internal/domain"
	"github.com/opensource-trust/magpie/internal/repository"
	"github.com/opensource-trust/magpie/internal/rules"
	"github.com/opensource-trust/magpie/internal/textanalysis"
)

// GlobalTenantID is used for custom rules that apply to all tenants.
const GlobalTenantID = "*"

// assessmentCacheTTL bounds how long assessments stay hot in cache.
const assessmentCacheTTL = 5 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	analyzer *analyzer.RiskAnalyzer
	engine   *rules.Engine
	version  string
	started  time.Time
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, risk *analyzer.RiskAnalyzer, engine *rules.Engine, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		analyzer: risk,
		engine:   engine,
		version:  version,
		started:  time.Now().UTC(),
	}
}

// Analyze handles POST /analyze requests: it scores one listing
// synchronously and returns the full assessment.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req domain.ListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "title is required",
		})
		return
	}
	if req.Price != nil && *req.Price < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "price must not be negative",
		})
		return
	}

	listing := req.ToListing()
	listing.ID = uuid.New().String()
	listing.TenantID = tenantID

	assessment, err := h.analyzer.AnalyzeListing(ctx, listing)
	if err != nil {
		slog.Error("listing analysis failed",
			"listing_id", listing.ID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "analysis failed",
		})
		return
	}
	assessment.Metadata.TraceID = traceID
	assessment.Metadata.TotalMs = time.Since(start).Milliseconds()

	if h.repo != nil {
		if err := h.repo.SaveListing(ctx, tenantID, listing); err != nil {
			slog.Error("failed to save listing", "listing_id", listing.ID, "error", err)
		}
		if err := h.repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
			slog.Error("failed to save assessment", "assessment_id", assessment.ID, "error", err)
		}
	}

	if h.cache != nil {
		if err := h.cache.SetAssessment(ctx, tenantID, assessment, assessmentCacheTTL); err != nil {
			slog.Warn("failed to cache assessment", "assessment_id", assessment.ID, "error", err)
		}
		if _, err := h.cache.IncrementCounter(ctx, tenantID, "analyses:"+string(assessment.Level), 24*time.Hour); err != nil {
			slog.Warn("failed to increment analysis counter", "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(assessment)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicAssessment, payload); err != nil {
			slog.Error("failed to publish assessment", "assessment_id", assessment.ID, "error", err)
		}
		if assessment.Level == domain.TierHigh {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
				slog.Error("failed to publish alert", "assessment_id", assessment.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, assessment.ToResponse())
}

// GetAssessment retrieves an assessment by ID, cache first.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	assessmentID := chi.URLParam(r, "id")

	if assessmentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "assessment id is required",
		})
		return
	}

	if h.cache != nil {
		if cached, err := h.cache.GetAssessment(ctx, tenantID, assessmentID); err == nil && cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	assessment, err := h.repo.GetAssessment(ctx, tenantID, assessmentID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get assessment", "id", assessmentID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "assessment not found",
		})
		return
	}

	if h.cache != nil {
		h.cache.SetAssessment(ctx, tenantID, assessment, assessmentCacheTTL)
	}

	writeJSON(w, http.StatusOK, assessment)
}

// GetListing retrieves a listing and its assessment history.
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	listingID := chi.URLParam(r, "id")

	if listingID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "listing id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	listing, err := h.repo.GetListing(ctx, tenantID, listingID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get listing", "id", listingID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "listing not found",
		})
		return
	}

	assessments, err := h.repo.ListAssessmentsByListing(ctx, tenantID, listingID)
	if err != nil {
		slog.Error("failed to list assessments", "listing_id", listingID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"listing":     listing,
		"assessments": assessments,
	})
}

// TextRequest is the request body for POST /text/analyze.
type TextRequest struct {
	Text string `json:"text"`
}

// TextResponse carries the extracted feature set and its folded risk.
type TextResponse struct {
	Features    *textanalysis.Features `json:"features"`
	OverallRisk float64                `json:"overallRisk"`
}

// AnalyzeText handles POST /text/analyze: standalone text feature
// extraction, no listing context required. Empty text is valid input
// and yields the zero feature set.
func (h *Handler) AnalyzeText(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	features := textanalysis.Analyze(req.Text)
	writeJSON(w, http.StatusOK, TextResponse{
		Features:    features,
		OverallRisk: textanalysis.OverallRisk(features),
	})
}

// GetCorpus returns the active corpus: keyword table plus compiled
// pattern names and tiers.
func (h *Handler) GetCorpus(w http.ResponseWriter, r *http.Request) {
	c, err := h.analyzer.Corpus(r.Context())
	if err != nil {
		slog.Error("corpus unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "corpus unavailable",
		})
		return
	}

	patterns := make([]map[string]interface{}, 0, len(c.Patterns()))
	for _, p := range c.Patterns() {
		patterns = append(patterns, map[string]interface{}{
			"name":        p.Name,
			"pattern":     p.Regexp.String(),
			"riskLevel":   p.Tier,
			"description": p.Description,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keywords":     c.Keywords(),
		"patterns":     patterns,
		"keywordCount": c.KeywordCount(),
		"patternCount": c.PatternCount(),
	})
}

// KeywordRuleRequest is the request body for POST /corpus/keywords.
type KeywordRuleRequest struct {
	Category string          `json:"category"`
	Tier     domain.RiskTier `json:"tier"`
	Keyword  string          `json:"keyword"`
}

// CreateKeywordRule persists one keyword in the corpus overlay.
// Overlay rules are saved globally (tenant_id = "*") so the shared
// corpus picks them up on the next POST /corpus/reload.
func (h *Handler) CreateKeywordRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req KeywordRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Category == "" || req.Keyword == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "category and keyword are required",
		})
		return
	}
	if !req.Tier.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "tier must be low, medium, or high",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.SaveKeywordRule(ctx, GlobalTenantID, req.Category, req.Tier, req.Keyword); err != nil {
		slog.Error("failed to save keyword rule", "category", req.Category, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save keyword rule",
		})
		return
	}

	slog.Info("keyword rule created", "category", req.Category, "tier", req.Tier, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "Keyword rule created. Call POST /corpus/reload to apply changes.",
	})
}

// PatternRuleRequest is the request body for POST /corpus/patterns.
type PatternRuleRequest struct {
	Name        string          `json:"name"`
	Pattern     string          `json:"pattern"`
	RiskLevel   domain.RiskTier `json:"riskLevel"`
	Description string          `json:"description,omitempty"`
}

// CreatePatternRule persists one named regex rule in the corpus
// overlay, saved globally like keyword rules. The regex must compile,
// so a bad rule can never poison a reload.
func (h *Handler) CreatePatternRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req PatternRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" || req.Pattern == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and pattern are required",
		})
		return
	}
	if !req.RiskLevel.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "riskLevel must be low, medium, or high",
		})
		return
	}
	if _, err := regexp.Compile("(?i)" + req.Pattern); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid regex: " + err.Error(),
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rule := domain.PatternRule{
		Pattern:     req.Pattern,
		RiskLevel:   req.RiskLevel,
		Description: req.Description,
	}
	if err := h.repo.SavePatternRule(ctx, GlobalTenantID, req.Name, rule); err != nil {
		slog.Error("failed to save pattern rule", "name", req.Name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save pattern rule",
		})
		return
	}

	slog.Info("pattern rule created", "name", req.Name, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "Pattern rule created. Call POST /corpus/reload to apply changes.",
	})
}

// ReloadCorpus re-fetches the corpus from its sources and swaps it in.
func (h *Handler) ReloadCorpus(w http.ResponseWriter, r *http.Request) {
	c, err := h.analyzer.ReloadCorpus(r.Context())
	if err != nil {
		slog.Error("corpus reload failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "corpus reload failed: " + err.Error(),
		})
		return
	}

	slog.Info("corpus reloaded",
		"keywords", c.KeywordCount(),
		"patterns", c.PatternCount(),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "corpus reloaded successfully",
		"keywordCount": c.KeywordCount(),
		"patternCount": c.PatternCount(),
	})
}

// ListRules returns all loaded custom rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a custom rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Expression  string          `json:"expression"`
	Tier        domain.RiskTier `json:"tier"`
	Descriptor  string          `json:"descriptor,omitempty"`
	Enabled     bool            `json:"enabled"`
}

// CreateRule creates a new custom rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.ListingRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Tier:        req.Tier,
		Descriptor:  req.Descriptor,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression by attempting to load
	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveListingRule(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all custom rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListListingRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic. The
// analyzer must hold a usable corpus before traffic is let in.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.analyzer.Corpus(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Stats returns operational statistics, including the tenant's rolling
// 24h analysis counts per risk level.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	stats := map[string]interface{}{
		"version":       h.version,
		"uptimeSeconds": int64(time.Since(h.started).Seconds()),
		"engineVersion": h.analyzer.Model().Version,
		"rulesLoaded":   h.engine.RulesCount(),
	}

	if c, err := h.analyzer.Corpus(ctx); err == nil {
		stats["corpusKeywords"] = c.KeywordCount()
		stats["corpusPatterns"] = c.PatternCount()
	}

	if h.cache != nil {
		counts := map[string]int64{}
		for _, level := range []domain.RiskTier{domain.TierLow, domain.TierMedium, domain.TierHigh} {
			n, err := h.cache.GetCounter(ctx, tenantID, "analyses:"+string(level))
			if err != nil {
				slog.Warn("failed to read analysis counter", "level", level, "error", err)
				continue
			}
			counts[string(level)] = n
		}
		stats["analyses24h"] = counts
	}

	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
