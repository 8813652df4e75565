// Package domain defines the core interfaces and types for Magpie.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Listing operations
	SaveListing(ctx context.Context, tenantID string, listing *Listing) error
	GetListing(ctx context.Context, tenantID string, listingID string) (*Listing, error)

	// Assessment results
	SaveAssessment(ctx context.Context, tenantID string, assessment *Assessment) error
	GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*Assessment, error)
	ListAssessmentsByListing(ctx context.Context, tenantID string, listingID string) ([]*Assessment, error)

	// Corpus rule management (keyword and pattern documents)
	SaveKeywordRule(ctx context.Context, tenantID string, category string, tier RiskTier, keyword string) error
	ListKeywordRules(ctx context.Context, tenantID string) (KeywordTable, error)
	SavePatternRule(ctx context.Context, tenantID string, name string, rule PatternRule) error
	ListPatternRules(ctx context.Context, tenantID string) (PatternTable, error)

	// Custom listing rule operations
	SaveListingRule(ctx context.Context, tenantID string, rule *ListingRule) error
	GetListingRule(ctx context.Context, tenantID string, ruleID string) (*ListingRule, error)
	ListListingRules(ctx context.Context, tenantID string) ([]*ListingRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
