package domain

// ListingRule defines a tenant-authored custom detection rule. The CEL
// expression is evaluated against listing attributes; when it yields
// true the rule emits a custom_rule finding at its configured tier.
type ListingRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Expression is a boolean CEL expression over listing variables
	// (price, category, photos_count, account_age_days, review_count,
	// similar_items, has_seller, has_location, title, description).
	Expression string `json:"expression"`

	// Tier is the severity of the finding emitted when the rule fires.
	Tier RiskTier `json:"tier"`

	// Descriptor identifies the finding for deduplication; defaults to
	// the rule ID when empty.
	Descriptor string `json:"descriptor,omitempty"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// FindingDescriptor returns the dedup descriptor for findings this rule
// emits.
func (r *ListingRule) FindingDescriptor() string {
	if r.Descriptor != "" {
		return r.Descriptor
	}
	return r.ID
}
