package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-trust/magpie/internal/analyzer"
	"github.com/opensource-trust/magpie/internal/bus"
	"github.com/opensource-trust/magpie/internal/corpus"
	"github.com/opensource-trust/magpie/internal/domain"
)

func newTestAnalyzer() *analyzer.RiskAnalyzer {
	loader := corpus.NewLoader(corpus.BuiltinSource{})
	return analyzer.New(loader, nil, nil)
}

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }
func ptrS(v string) *string   { return &v }

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	risk := newTestAnalyzer()
	worker := NewWorker(eventBus, nil, risk)

	t.Run("StartAndStop", func(t *testing.T) {
		cfg := Config{
			TenantIDs: []string{"tenant-001"},
		}

		err := worker.Start(cfg)
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		err = worker.Stop()
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = worker.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessListing", func(t *testing.T) {
		w := NewWorker(eventBus, nil, risk)

		cfg := Config{
			TenantIDs: []string{"tenant-test"},
		}
		w.Start(cfg)
		defer w.Stop()

		var assessmentReceived atomic.Bool
		var assessmentPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicAssessment, func(ctx context.Context, msg *domain.Message) error {
			assessmentPayload = msg.Payload
			assessmentReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		listingMsg := ListingMessage{
			ListingID:   "listing-001",
			TenantID:    "tenant-test",
			TraceID:     "trace-001",
			Title:       "Table basse en bois",
			Description: "Bon état, à récupérer sur place",
			Category:    "mobilier",
			Price:       ptrF(45),
			Location:    ptrS("Lyon 3e"),
			PhotosCount: 4,
			Seller: &domain.SellerInfo{
				AccountAgeDays: ptrI(400),
				ReviewCount:    ptrI(12),
			},
		}

		payload, _ := json.Marshal(listingMsg)
		err := eventBus.Publish(context.Background(), "tenant-test", domain.TopicListingIngested, payload)
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(100 * time.Millisecond)

		if !assessmentReceived.Load() {
			t.Fatal("expected assessment to be published")
		}

		var assessment domain.Assessment
		if err := json.Unmarshal(assessmentPayload, &assessment); err != nil {
			t.Fatalf("failed to parse assessment: %v", err)
		}

		if assessment.ListingID != "listing-001" {
			t.Errorf("expected listingID 'listing-001', got '%s'", assessment.ListingID)
		}
		if assessment.TenantID != "tenant-test" {
			t.Errorf("expected tenantID 'tenant-test', got '%s'", assessment.TenantID)
		}
		if assessment.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID 'trace-001', got '%s'", assessment.Metadata.TraceID)
		}
		if assessment.Level != domain.TierLow {
			t.Errorf("expected low risk level for clean listing, got '%s'", assessment.Level)
		}
	})

	t.Run("AlertPublishedForHighRisk", func(t *testing.T) {
		w := NewWorker(eventBus, nil, risk)

		cfg := Config{
			TenantIDs: []string{"tenant-alert"},
		}
		w.Start(cfg)
		defer w.Stop()

		var alertReceived atomic.Bool

		eventBus.Subscribe(context.Background(), "tenant-alert", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// Stacks urgency keywords, suspect price, and a thin seller profile
		listingMsg := ListingMessage{
			ListingID:   "listing-alert",
			TenantID:    "tenant-alert",
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
		}

		payload, _ := json.Marshal(listingMsg)
		eventBus.Publish(context.Background(), "tenant-alert", domain.TopicListingIngested, payload)

		time.Sleep(100 * time.Millisecond)

		if !alertReceived.Load() {
			t.Error("expected alert to be published for high-risk listing")
		}
	})

	t.Run("MissingListingIDAssigned", func(t *testing.T) {
		w := NewWorker(eventBus, nil, risk)

		cfg := Config{
			TenantIDs: []string{"tenant-noid"},
		}
		w.Start(cfg)
		defer w.Stop()

		var assessment domain.Assessment
		var received atomic.Bool

		eventBus.Subscribe(context.Background(), "tenant-noid", domain.TopicAssessment, func(ctx context.Context, msg *domain.Message) error {
			json.Unmarshal(msg.Payload, &assessment)
			received.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		payload, _ := json.Marshal(ListingMessage{
			TenantID: "tenant-noid",
			Title:    "Vélo enfant",
			Category: "sport",
		})
		eventBus.Publish(context.Background(), "tenant-noid", domain.TopicListingIngested, payload)

		time.Sleep(100 * time.Millisecond)

		if !received.Load() {
			t.Fatal("expected assessment to be published")
		}
		if assessment.ListingID == "" {
			t.Error("expected generated listing ID for message without one")
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, nil, risk)

		cfg := Config{
			TenantIDs: []string{"tenant-a", "tenant-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}

func TestWorkerPersistsResults(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := &captureRepo{}
	w := NewWorker(eventBus, repo, newTestAnalyzer())

	w.Start(Config{TenantIDs: []string{"tenant-db"}})
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)

	payload, _ := json.Marshal(ListingMessage{
		ListingID: "listing-db",
		TenantID:  "tenant-db",
		Title:     "Canapé cuir",
		Category:  "mobilier",
		Price:     ptrF(250),
	})
	eventBus.Publish(context.Background(), "tenant-db", domain.TopicListingIngested, payload)

	time.Sleep(100 * time.Millisecond)

	if repo.savedListings.Load() != 1 {
		t.Errorf("expected 1 saved listing, got %d", repo.savedListings.Load())
	}
	if repo.savedAssessments.Load() != 1 {
		t.Errorf("expected 1 saved assessment, got %d", repo.savedAssessments.Load())
	}
}

// captureRepo counts persistence calls for worker tests.
type captureRepo struct {
	savedListings    atomic.Int32
	savedAssessments atomic.Int32
}

func (r *captureRepo) SaveListing(ctx context.Context, tenantID string, listing *domain.Listing) error {
	r.savedListings.Add(1)
	return nil
}

func (r *captureRepo) GetListing(ctx context.Context, tenantID string, listingID string) (*domain.Listing, error) {
	return nil, nil
}

func (r *captureRepo) SaveAssessment(ctx context.Context, tenantID string, assessment *domain.Assessment) error {
	r.savedAssessments.Add(1)
	return nil
}

func (r *captureRepo) GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*domain.Assessment, error) {
	return nil, nil
}

func (r *captureRepo) ListAssessmentsByListing(ctx context.Context, tenantID string, listingID string) ([]*domain.Assessment, error) {
	return nil, nil
}

func (r *captureRepo) SaveKeywordRule(ctx context.Context, tenantID string, category string, tier domain.RiskTier, keyword string) error {
	return nil
}

func (r *captureRepo) ListKeywordRules(ctx context.Context, tenantID string) (domain.KeywordTable, error) {
	return nil, nil
}

func (r *captureRepo) SavePatternRule(ctx context.Context, tenantID string, name string, rule domain.PatternRule) error {
	return nil
}

func (r *captureRepo) ListPatternRules(ctx context.Context, tenantID string) (domain.PatternTable, error) {
	return nil, nil
}

func (r *captureRepo) SaveListingRule(ctx context.Context, tenantID string, rule *domain.ListingRule) error {
	return nil
}

func (r *captureRepo) GetListingRule(ctx context.Context, tenantID string, ruleID string) (*domain.ListingRule, error) {
	return nil, nil
}

func (r *captureRepo) ListListingRules(ctx context.Context, tenantID string) ([]*domain.ListingRule, error) {
	return nil, nil
}

func (r *captureRepo) Ping(ctx context.Context) error { return nil }
func (r *captureRepo) Close() error                   { return nil }

func TestListingMessageParsing(t *testing.T) {
	msg := ListingMessage{
		ListingID:   "listing-123",
		TenantID:    "tenant-001",
		TraceID:     "trace-456",
		Title:       "PC portable gamer",
		Description: "Très peu servi",
		Category:    "informatique",
		Price:       ptrF(650),
		PhotosCount: 3,
		Metadata:    map[string]any{"source": "scraper"},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed ListingMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.ListingID != msg.ListingID {
		t.Errorf("expected ListingID '%s', got '%s'", msg.ListingID, parsed.ListingID)
	}
	if parsed.Price == nil || *parsed.Price != *msg.Price {
		t.Errorf("expected Price %v, got %v", *msg.Price, parsed.Price)
	}
	if parsed.Location != nil {
		t.Errorf("absent Location should stay nil, got %v", *parsed.Location)
	}
}
