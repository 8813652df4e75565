package repository

// Schema definitions for Magpie persistence.
// Compatible with both SQLite and PostgreSQL.

const schemaListings = `
CREATE TABLE IF NOT EXISTS listings (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    category TEXT,
    price REAL,
    location TEXT,
    photos_count INTEGER NOT NULL DEFAULT 0,
    seller TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_listings_tenant ON listings(tenant_id);
CREATE INDEX IF NOT EXISTS idx_listings_category ON listings(tenant_id, category);
CREATE INDEX IF NOT EXISTS idx_listings_timestamp ON listings(tenant_id, timestamp);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    listing_id TEXT NOT NULL,
    score REAL NOT NULL,
    level TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    threats TEXT NOT NULL,
    recommendations TEXT NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tenant ON assessments(tenant_id);
CREATE INDEX IF NOT EXISTS idx_assessments_listing ON assessments(tenant_id, listing_id);
CREATE INDEX IF NOT EXISTS idx_assessments_level ON assessments(tenant_id, level);
CREATE INDEX IF NOT EXISTS idx_assessments_timestamp ON assessments(tenant_id, timestamp);
`

const schemaKeywordRules = `
CREATE TABLE IF NOT EXISTS keyword_rules (
    tenant_id TEXT NOT NULL,
    category TEXT NOT NULL,
    tier TEXT NOT NULL,
    keyword TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, category, tier, keyword)
);

CREATE INDEX IF NOT EXISTS idx_keyword_rules_tenant ON keyword_rules(tenant_id);
`

const schemaPatternRules = `
CREATE TABLE IF NOT EXISTS pattern_rules (
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    pattern TEXT NOT NULL,
    risk_level TEXT NOT NULL,
    description TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, name)
);

CREATE INDEX IF NOT EXISTS idx_pattern_rules_tenant ON pattern_rules(tenant_id);
`

// schemaListingRules defines the listing_rules table backing tenant
// custom CEL rules. Upserts replace the whole row for a rule ID.
const schemaListingRules = `
CREATE TABLE IF NOT EXISTS listing_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    tier TEXT NOT NULL,
    descriptor TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_listing_rules_tenant ON listing_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_listing_rules_enabled ON listing_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaListings,
		schemaAssessments,
		schemaKeywordRules,
		schemaPatternRules,
		schemaListingRules,
	}
}
