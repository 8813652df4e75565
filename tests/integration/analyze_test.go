//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Magpie listing
// risk engine.
//
// These tests wire the full stack in-process - SQLite repository,
// in-memory cache, channel event bus, builtin corpus, CEL rule engine,
// HTTP API - and drive it through the public endpoints:
//
//	Listing → analyzers + corpus + custom rules → assessment → storage
//
// Run with: go test -tags=integration -v ./tests/integration/...
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-trust/magpie/internal/analyzer"
	"github.com/opensource-trust/magpie/internal/api"
	"github.com/opensource-trust/magpie/internal/bus"
	"github.com/opensource-trust/magpie/internal/cache"
	"github.com/opensource-trust/magpie/internal/corpus"
	"github.com/opensource-trust/magpie/internal/domain"
	"github.com/opensource-trust/magpie/internal/repository"
	"github.com/opensource-trust/magpie/internal/rules"
)

const tenantID = "integration-tenant"

type stack struct {
	server *api.Server
	repo   domain.Repository
	bus    domain.EventBus
}

// newStack assembles the Community-tier wiring end to end.
func newStack(t *testing.T) *stack {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "magpie-integration-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	memCache, err := cache.New(domain.CacheConfig{Type: "memory", LocalMaxSize: 1000})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { memCache.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	engine, err := rules.NewEngine(nil, 10)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	loader := corpus.NewLoader(
		corpus.BuiltinSource{},
		corpus.RepositorySource{Repo: repo, TenantID: api.GlobalTenantID},
	)
	risk := analyzer.New(loader, nil, engine)
	if err := risk.Initialize(context.Background()); err != nil {
		t.Fatalf("failed to initialize analyzer: %v", err)
	}

	cfg := domain.ServerConfig{Host: "localhost", Port: 0, ReadTimeout: 30, WriteTimeout: 30}
	server := api.NewServer(cfg, repo, memCache, eventBus, risk, engine, "integration-test")

	return &stack{server: server, repo: repo, bus: eventBus}
}

func (s *stack) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)
	rec := httptest.NewRecorder()
	s.server.Router().ServeHTTP(rec, req)
	return rec
}

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }
func ptrS(v string) *string   { return &v }

func TestFullAnalysisPipeline(t *testing.T) {
	s := newStack(t)

	// Subscribe to alerts before analyzing
	var alerts atomic.Int32
	_, err := s.bus.Subscribe(context.Background(), tenantID, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		alerts.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	var assessmentID, listingID string

	t.Run("AnalyzeHighRisk", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/analyze", domain.ListingRequest{
			Title:       "iPhone 14 urgent urgent!! départ ce soir",
			Category:    "telephonie",
			Price:       ptrF(300),
			Location:    ptrS("région proche"),
			PhotosCount: 1,
			Seller: &domain.SellerInfo{
				AccountAgeDays:    ptrI(5),
				ReviewCount:       ptrI(0),
				SimilarItemsCount: ptrI(8),
			},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp domain.AssessmentResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Level != domain.TierHigh {
			t.Errorf("expected high level, got %s (score %.2f)", resp.Level, resp.Score)
		}
		assessmentID = resp.AssessmentID
		listingID = resp.ListingID
	})

	t.Run("AssessmentPersisted", func(t *testing.T) {
		got, err := s.repo.GetAssessment(context.Background(), tenantID, assessmentID)
		if err != nil {
			t.Fatalf("assessment not in repository: %v", err)
		}
		if got.Level != domain.TierHigh {
			t.Errorf("persisted level mismatch: %s", got.Level)
		}
	})

	t.Run("RetrieveViaAPI", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/assessments/"+assessmentID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		rec = s.do(t, http.MethodGet, "/listings/"+listingID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Listing     *domain.Listing      `json:"listing"`
			Assessments []*domain.Assessment `json:"assessments"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Listing == nil || resp.Listing.ID != listingID {
			t.Errorf("listing not returned")
		}
		if len(resp.Assessments) != 1 {
			t.Errorf("expected 1 assessment for listing, got %d", len(resp.Assessments))
		}
	})

	t.Run("AlertPublished", func(t *testing.T) {
		deadline := time.Now().Add(time.Second)
		for alerts.Load() == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if alerts.Load() != 1 {
			t.Errorf("expected 1 alert on the bus, got %d", alerts.Load())
		}
	})
}

func TestCorpusOverlayRoundTrip(t *testing.T) {
	s := newStack(t)

	// A term the builtin corpus does not know
	title := "PS5 neuve remise en main propre virement only"

	rec := s.do(t, http.MethodPost, "/analyze", domain.ListingRequest{
		Title:       title,
		Category:    "consoles",
		Price:       ptrF(400),
		PhotosCount: 3,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var before domain.AssessmentResponse
	json.Unmarshal(rec.Body.Bytes(), &before)

	// Teach the corpus about it and reload
	rec = s.do(t, http.MethodPost, "/corpus/keywords", map[string]string{
		"category": "paiement",
		"tier":     "high",
		"keyword":  "virement only",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/corpus/reload", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload failed: %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/analyze", domain.ListingRequest{
		Title:       title,
		Category:    "consoles",
		Price:       ptrF(400),
		PhotosCount: 3,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var after domain.AssessmentResponse
	json.Unmarshal(rec.Body.Bytes(), &after)

	if after.Score <= before.Score {
		t.Errorf("expected score to rise after keyword overlay: before %.2f, after %.2f",
			before.Score, after.Score)
	}

	found := false
	for _, threat := range after.Threats {
		if threat.Kind == domain.FindingKeyword && threat.Descriptor == "paiement/virement only" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected overlay keyword finding, got %+v", after.Threats)
	}
}

func TestCustomRuleRoundTrip(t *testing.T) {
	s := newStack(t)

	listing := domain.ListingRequest{
		Title:       "Canapé cuir très bon état",
		Category:    "mobilier",
		Price:       ptrF(80),
		Location:    ptrS("Paris 11e"),
		PhotosCount: 5,
		Seller: &domain.SellerInfo{
			AccountAgeDays: ptrI(300),
			ReviewCount:    ptrI(20),
		},
	}

	rec := s.do(t, http.MethodPost, "/analyze", listing)
	var before domain.AssessmentResponse
	json.Unmarshal(rec.Body.Bytes(), &before)

	// Create and hot-load a rule that targets this listing shape
	rec = s.do(t, http.MethodPost, "/rules", map[string]interface{}{
		"id":         "cheap-furniture",
		"name":       "Suspiciously cheap furniture",
		"expression": `category == "mobilier" && price > 0.0 && price < 100.0`,
		"tier":       "medium",
		"enabled":    true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/rules/reload", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload failed: %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/rules/cheap-furniture", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected rule to be loaded after reload, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/analyze", listing)
	var after domain.AssessmentResponse
	json.Unmarshal(rec.Body.Bytes(), &after)

	if after.Score <= before.Score {
		t.Errorf("expected score to rise after rule load: before %.2f, after %.2f",
			before.Score, after.Score)
	}
	if after.Metadata.CustomRulesRun != 1 {
		t.Errorf("expected 1 custom rule run, got %d", after.Metadata.CustomRulesRun)
	}

	found := false
	for _, threat := range after.Threats {
		if threat.Kind == domain.FindingCustomRule && threat.Descriptor == "cheap-furniture" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected custom_rule finding, got %+v", after.Threats)
	}
}

func TestTenantIsolationEndToEnd(t *testing.T) {
	s := newStack(t)

	rec := s.do(t, http.MethodPost, "/analyze", domain.ListingRequest{
		Title:    "Vélo enfant",
		Category: "sport",
		Price:    ptrF(40),
	})
	var resp domain.AssessmentResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)

	req := httptest.NewRequest(http.MethodGet, "/assessments/"+resp.AssessmentID, nil)
	req.Header.Set("X-Tenant-ID", "other-tenant")
	other := httptest.NewRecorder()
	s.server.Router().ServeHTTP(other, req)
	if other.Code == http.StatusOK {
		t.Error("other tenant must not read the assessment")
	}
}
