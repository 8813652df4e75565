// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-trust/magpie/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveListing stores a listing with tenant isolation. Saving the same
// listing ID again replaces the stored row.
func (r *SQLRepository) SaveListing(ctx context.Context, tenantID string, listing *domain.Listing) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if listing == nil || listing.ID == "" {
		return fmt.Errorf("%w: listing ID is required", ErrInvalidInput)
	}

	var seller string
	if listing.Seller != nil {
		b, _ := json.Marshal(listing.Seller)
		seller = string(b)
	}
	metadata, _ := json.Marshal(listing.Metadata)

	query := `
		INSERT INTO listings (
			id, tenant_id, title, description, category, price,
			location, photos_count, seller, timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			category = excluded.category,
			price = excluded.price,
			location = excluded.location,
			photos_count = excluded.photos_count,
			seller = excluded.seller,
			timestamp = excluded.timestamp,
			metadata = excluded.metadata
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		listing.ID, tenantID,
		listing.Title, listing.Description, listing.Category,
		listing.Price, listing.Location, listing.PhotosCount,
		seller, listing.Timestamp, listing.CreatedAt,
		string(metadata),
	)
	return err
}

// GetListing retrieves a listing by ID with tenant isolation.
func (r *SQLRepository) GetListing(ctx context.Context, tenantID string, listingID string) (*domain.Listing, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, title, description, category, price,
			   location, photos_count, seller, timestamp, created_at, metadata
		FROM listings
		WHERE tenant_id = ? AND id = ?
	`

	var listing domain.Listing
	var price sql.NullFloat64
	var location sql.NullString
	var seller sql.NullString
	var metadata sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, listingID).Scan(
		&listing.ID, &listing.TenantID,
		&listing.Title, &listing.Description, &listing.Category,
		&price, &location, &listing.PhotosCount,
		&seller, &listing.Timestamp, &listing.CreatedAt,
		&metadata,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if price.Valid {
		listing.Price = &price.Float64
	}
	if location.Valid && location.String != "" {
		listing.Location = &location.String
	}
	if seller.Valid && seller.String != "" {
		var s domain.SellerInfo
		if err := json.Unmarshal([]byte(seller.String), &s); err == nil {
			listing.Seller = &s
		}
	}
	if metadata.Valid && metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &listing.Metadata)
	}

	return &listing, nil
}

// SaveAssessment stores a completed risk assessment.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, assessment *domain.Assessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if assessment == nil || assessment.ID == "" {
		return fmt.Errorf("%w: assessment ID is required", ErrInvalidInput)
	}

	threats, _ := json.Marshal(assessment.Threats)
	recommendations, _ := json.Marshal(assessment.Recommendations)
	metadata, _ := json.Marshal(assessment.Metadata)

	query := `
		INSERT INTO assessments (
			id, tenant_id, listing_id, score, level,
			timestamp, threats, recommendations, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		assessment.ID, tenantID, assessment.ListingID,
		assessment.Score, string(assessment.Level),
		assessment.Timestamp,
		string(threats), string(recommendations), string(metadata),
	)
	return err
}

// GetAssessment retrieves an assessment by ID with tenant isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*domain.Assessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, listing_id, score, level,
			   timestamp, threats, recommendations, metadata
		FROM assessments
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, assessmentID)
	assessment, err := scanAssessment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return assessment, err
}

// ListAssessmentsByListing returns all assessments recorded for a
// listing, newest first.
func (r *SQLRepository) ListAssessmentsByListing(ctx context.Context, tenantID string, listingID string) ([]*domain.Assessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, listing_id, score, level,
			   timestamp, threats, recommendations, metadata
		FROM assessments
		WHERE tenant_id = ? AND listing_id = ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []*domain.Assessment
	for rows.Next() {
		assessment, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, assessment)
	}
	return assessments, rows.Err()
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAssessment(row rowScanner) (*domain.Assessment, error) {
	var assessment domain.Assessment
	var level string
	var threats, recommendations, metadata string

	err := row.Scan(
		&assessment.ID, &assessment.TenantID, &assessment.ListingID,
		&assessment.Score, &level, &assessment.Timestamp,
		&threats, &recommendations, &metadata,
	)
	if err != nil {
		return nil, err
	}

	assessment.Level = domain.RiskTier(level)
	if err := json.Unmarshal([]byte(threats), &assessment.Threats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal threats: %w", err)
	}
	if err := json.Unmarshal([]byte(recommendations), &assessment.Recommendations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recommendations: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &assessment.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &assessment, nil
}

// SaveKeywordRule records one keyword in the tenant's keyword overlay.
// Duplicate (category, tier, keyword) rows are ignored.
func (r *SQLRepository) SaveKeywordRule(ctx context.Context, tenantID string, category string, tier domain.RiskTier, keyword string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if category == "" || keyword == "" {
		return fmt.Errorf("%w: category and keyword are required", ErrInvalidInput)
	}
	if !tier.Valid() {
		return fmt.Errorf("%w: unknown risk tier %q", ErrInvalidInput, tier)
	}

	query := `
		INSERT INTO keyword_rules (tenant_id, category, tier, keyword, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, category, tier, keyword) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, category, string(tier), keyword, time.Now().UTC(),
	)
	return err
}

// ListKeywordRules returns the tenant's keyword overlay as a keyword
// table, ready to merge over the builtin corpus.
func (r *SQLRepository) ListKeywordRules(ctx context.Context, tenantID string) (domain.KeywordTable, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT category, tier, keyword
		FROM keyword_rules
		WHERE tenant_id = ?
		ORDER BY category, tier, keyword
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	table := make(domain.KeywordTable)
	for rows.Next() {
		var category, tier, keyword string
		if err := rows.Scan(&category, &tier, &keyword); err != nil {
			return nil, err
		}
		if table[category] == nil {
			table[category] = make(map[domain.RiskTier][]string)
		}
		t := domain.RiskTier(tier)
		table[category][t] = append(table[category][t], keyword)
	}
	return table, rows.Err()
}

// SavePatternRule stores one named regex rule in the tenant's pattern
// overlay, replacing any rule with the same name.
func (r *SQLRepository) SavePatternRule(ctx context.Context, tenantID string, name string, rule domain.PatternRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if name == "" || rule.Pattern == "" {
		return fmt.Errorf("%w: pattern name and regex are required", ErrInvalidInput)
	}
	if !rule.RiskLevel.Valid() {
		return fmt.Errorf("%w: unknown risk level %q", ErrInvalidInput, rule.RiskLevel)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO pattern_rules (tenant_id, name, pattern, risk_level, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, name) DO UPDATE SET
			pattern = excluded.pattern,
			risk_level = excluded.risk_level,
			description = excluded.description,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, name, rule.Pattern, string(rule.RiskLevel),
		rule.Description, now, now,
	)
	return err
}

// ListPatternRules returns the tenant's pattern overlay.
func (r *SQLRepository) ListPatternRules(ctx context.Context, tenantID string) (domain.PatternTable, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT name, pattern, risk_level, description
		FROM pattern_rules
		WHERE tenant_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	table := make(domain.PatternTable)
	for rows.Next() {
		var name, pattern, riskLevel string
		var description sql.NullString
		if err := rows.Scan(&name, &pattern, &riskLevel, &description); err != nil {
			return nil, err
		}
		table[name] = domain.PatternRule{
			Pattern:     pattern,
			RiskLevel:   domain.RiskTier(riskLevel),
			Description: description.String,
		}
	}
	return table, rows.Err()
}

// SaveListingRule stores a custom CEL rule, replacing any rule with the
// same ID.
func (r *SQLRepository) SaveListingRule(ctx context.Context, tenantID string, rule *domain.ListingRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}
	if rule.Expression == "" {
		return fmt.Errorf("%w: rule expression is required", ErrInvalidInput)
	}
	if !rule.Tier.Valid() {
		return fmt.Errorf("%w: unknown risk tier %q", ErrInvalidInput, rule.Tier)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO listing_rules (
			id, tenant_id, name, description, version,
			expression, tier, descriptor, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			tier = excluded.tier,
			descriptor = excluded.descriptor,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description, rule.Version,
		rule.Expression, string(rule.Tier), rule.Descriptor,
		enabled, now, now,
	)
	return err
}

// GetListingRule retrieves a custom rule by ID with tenant isolation.
func (r *SQLRepository) GetListingRule(ctx context.Context, tenantID string, ruleID string) (*domain.ListingRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version,
			   expression, tier, descriptor, enabled
		FROM listing_rules
		WHERE tenant_id = ? AND id = ?
	`

	rule, err := scanListingRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListListingRules returns all custom rules for a tenant, disabled ones
// included, ordered by rule ID.
func (r *SQLRepository) ListListingRules(ctx context.Context, tenantID string) ([]*domain.ListingRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version,
			   expression, tier, descriptor, enabled
		FROM listing_rules
		WHERE tenant_id = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ListingRule
	for rows.Next() {
		rule, err := scanListingRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanListingRule(row rowScanner) (*domain.ListingRule, error) {
	var rule domain.ListingRule
	var description, descriptor sql.NullString
	var tier string
	var enabled int

	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &description, &rule.Version,
		&rule.Expression, &tier, &descriptor, &enabled,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Descriptor = descriptor.String
	rule.Tier = domain.RiskTier(tier)
	rule.Enabled = enabled != 0

	return &rule, nil
}

// Ping verifies database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $n for postgres.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
