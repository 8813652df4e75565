// Package worker provides async listing processing from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-trust/magpie/internal/analyzer"
	"github.com/opensource-trust/magpie/internal/domain"
)

// Worker processes ingested listings asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	analyzer *analyzer.RiskAnalyzer

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, risk *analyzer.RiskAnalyzer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		analyzer: risk,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicListingIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicListingIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processListing(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicListingIngested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processListing(ctx, msg.TenantID, msg)
}

// ListingMessage is the message payload for async listing analysis.
type ListingMessage struct {
	ListingID   string                 `json:"listingId"`
	TenantID    string                 `json:"tenantId"`
	TraceID     string                 `json:"traceId"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Category    string                 `json:"category"`
	Price       *float64               `json:"price,omitempty"`
	Location    *string                `json:"location,omitempty"`
	PhotosCount int                    `json:"photosCount"`
	Seller      *domain.SellerInfo     `json:"seller,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// processListing runs a listing through the analysis pipeline.
func (w *Worker) processListing(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var listingMsg ListingMessage
	if err := json.Unmarshal(msg.Payload, &listingMsg); err != nil {
		slog.Error("failed to parse listing message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if listingMsg.TenantID != "" {
		tenantID = listingMsg.TenantID
	}

	traceID := listingMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	now := time.Now().UTC()
	listing := &domain.Listing{
		ID:          listingMsg.ListingID,
		TenantID:    tenantID,
		Title:       listingMsg.Title,
		Description: listingMsg.Description,
		Category:    listingMsg.Category,
		Price:       listingMsg.Price,
		Location:    listingMsg.Location,
		PhotosCount: listingMsg.PhotosCount,
		Seller:      listingMsg.Seller,
		Timestamp:   now,
		CreatedAt:   now,
		Metadata:    listingMsg.Metadata,
	}
	if listing.ID == "" {
		listing.ID = uuid.New().String()
	}

	slog.Debug("processing listing",
		"listing_id", listing.ID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	assessment, err := w.analyzer.AnalyzeListing(ctx, listing)
	if err != nil {
		slog.Error("listing analysis failed",
			"listing_id", listing.ID,
			"error", err,
		)
		return err
	}
	assessment.Metadata.TraceID = traceID
	assessment.Metadata.TotalMs = time.Since(start).Milliseconds()

	if w.repo != nil {
		if err := w.repo.SaveListing(ctx, tenantID, listing); err != nil {
			slog.Error("failed to save listing",
				"listing_id", listing.ID,
				"error", err,
			)
		}
		if err := w.repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
			slog.Error("failed to save assessment",
				"listing_id", listing.ID,
				"error", err,
			)
		}
	}

	resultPayload, _ := json.Marshal(assessment)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicAssessment, resultPayload); err != nil {
		slog.Error("failed to publish assessment",
			"listing_id", listing.ID,
			"error", err,
		)
	}

	// High-risk assessments also go to the alert topic
	if assessment.Level == domain.TierHigh {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, resultPayload); err != nil {
			slog.Error("failed to publish alert",
				"listing_id", listing.ID,
				"error", err,
			)
		}
	}

	slog.Info("listing processed",
		"listing_id", listing.ID,
		"tenant_id", tenantID,
		"level", assessment.Level,
		"score", assessment.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
