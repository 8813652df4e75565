package domain

import (
	"time"
)

// RiskTier is the discrete risk classification. Tiers are totally
// ordered: low < medium < high.
type RiskTier string

const (
	TierLow    RiskTier = "low"
	TierMedium RiskTier = "medium"
	TierHigh   RiskTier = "high"
)

// Rank returns the ordering rank of a tier (low=1, medium=2, high=3).
// Unknown tiers rank below low.
func (t RiskTier) Rank() int {
	switch t {
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the tier is one of the three known values.
func (t RiskTier) Valid() bool {
	return t == TierLow || t == TierMedium || t == TierHigh
}

// FindingKind identifies the class of evidence a threat finding carries.
type FindingKind string

const (
	FindingKeyword       FindingKind = "keyword"
	FindingPricePattern  FindingKind = "price_pattern"
	FindingPriceTooLow   FindingKind = "price_too_low"
	FindingNewAccount    FindingKind = "new_account"
	FindingNoReviews     FindingKind = "no_reviews"
	FindingMultipleItems FindingKind = "multiple_items"
	FindingSinglePhoto   FindingKind = "single_photo"
	FindingVagueLocation FindingKind = "vague_location"
	FindingPatternMatch  FindingKind = "pattern_match"
	FindingCustomRule    FindingKind = "custom_rule"
)

// ThreatFinding is a single piece of evidence produced by a sub-analyzer.
// Two findings are duplicates iff both Kind and Descriptor match exactly.
type ThreatFinding struct {
	Kind       FindingKind `json:"kind"`
	Tier       RiskTier    `json:"tier"`
	Descriptor string      `json:"descriptor"`
	Weight     float64     `json:"weight"`

	// Description is optional human-readable context (pattern rules).
	Description string `json:"description,omitempty"`

	// Matches is the occurrence count for pattern findings (0 when n/a).
	Matches int `json:"matches,omitempty"`
}

// AnalysisSource identifies which sub-analyzer produced a partial result.
type AnalysisSource string

const (
	SourceText     AnalysisSource = "text"
	SourcePrice    AnalysisSource = "price"
	SourceSeller   AnalysisSource = "seller"
	SourceBehavior AnalysisSource = "behavior"
	SourcePattern  AnalysisSource = "pattern"
	SourceCustom   AnalysisSource = "custom"
)

// PartialResult is the output of one sub-analyzer run. It is created
// once per analysis call and never mutated afterwards.
type PartialResult struct {
	Source   AnalysisSource  `json:"source"`
	Score    float64         `json:"score"`
	Findings []ThreatFinding `json:"findings"`
}

// Assessment is the complete risk assessment for a listing.
// Level is a pure function of Score via the scoring model thresholds;
// Threats contains no two findings with identical (kind, descriptor).
type Assessment struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	ListingID string    `json:"listingId"`
	Score     float64   `json:"score"`
	Level     RiskTier  `json:"level"`
	Timestamp time.Time `json:"timestamp"`

	Threats         []ThreatFinding `json:"threats"`
	Recommendations []string        `json:"recommendations"`

	Metadata AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata carries processing information.
type AssessmentMetadata struct {
	TraceID          string `json:"traceId"`
	AnalyzersRun     int    `json:"analyzersRun"`
	CustomRulesRun   int    `json:"customRulesRun"`
	AnalysisMs       int64  `json:"analysisMs"`
	TotalMs          int64  `json:"totalMs"`
	EngineVersion    string `json:"engineVersion"`
	CorpusKeywords   int    `json:"corpusKeywords,omitempty"`
	CorpusPatterns   int    `json:"corpusPatterns,omitempty"`
}

// AssessmentResponse is the API response for a listing analysis.
type AssessmentResponse struct {
	AssessmentID    string             `json:"assessmentId"`
	ListingID       string             `json:"listingId"`
	TenantID        string             `json:"tenantId"`
	Score           float64            `json:"score"`
	Level           RiskTier           `json:"level"`
	Threats         []ThreatFinding    `json:"threats"`
	Recommendations []string           `json:"recommendations"`
	Metadata        AssessmentMetadata `json:"metadata"`
}

// ToResponse converts an Assessment to an API response.
func (a *Assessment) ToResponse() *AssessmentResponse {
	return &AssessmentResponse{
		AssessmentID:    a.ID,
		ListingID:       a.ListingID,
		TenantID:        a.TenantID,
		Score:           a.Score,
		Level:           a.Level,
		Threats:         a.Threats,
		Recommendations: a.Recommendations,
		Metadata:        a.Metadata,
	}
}
