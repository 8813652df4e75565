package domain

// ScoringModel consolidates every weight, threshold, and term list the
// analyzers and aggregator use. Keeping them in one versionable value
// lets the model be tuned and tested independently of analyzer logic.
type ScoringModel struct {
	Version string `json:"version"`

	// TierWeights is the severity weight folded into a sub-analyzer's
	// score when a finding of the given tier fires.
	TierWeights map[RiskTier]float64 `json:"tierWeights"`

	// FusionWeights are the per-source multipliers used when merging
	// partial scores into the final score.
	FusionWeights map[AnalysisSource]float64 `json:"fusionWeights"`

	// DefaultFusionWeight applies to sources absent from FusionWeights.
	DefaultFusionWeight float64 `json:"defaultFusionWeight"`

	// Score thresholds classifying the final score into a tier.
	// Both are inclusive lower bounds.
	HighThreshold   float64 `json:"highThreshold"`
	MediumThreshold float64 `json:"mediumThreshold"`

	// CategoryPriceFloors are the per-category minimums below which a
	// price is suspicious; DefaultPriceFloor covers unknown categories.
	CategoryPriceFloors map[string]float64 `json:"categoryPriceFloors"`
	DefaultPriceFloor   float64            `json:"defaultPriceFloor"`

	// VagueLocationTerms flag a location as deliberately imprecise.
	VagueLocationTerms []string `json:"vagueLocationTerms"`
}

// TierWeight returns the severity weight for a tier, falling back to the
// low weight for unknown tiers.
func (m *ScoringModel) TierWeight(tier RiskTier) float64 {
	if w, ok := m.TierWeights[tier]; ok {
		return w
	}
	return m.TierWeights[TierLow]
}

// FusionWeight returns the fusion multiplier for a source.
func (m *ScoringModel) FusionWeight(source AnalysisSource) float64 {
	if w, ok := m.FusionWeights[source]; ok {
		return w
	}
	return m.DefaultFusionWeight
}

// PriceFloor returns the suspicious-price floor for a category.
func (m *ScoringModel) PriceFloor(category string) float64 {
	if f, ok := m.CategoryPriceFloors[category]; ok {
		return f
	}
	return m.DefaultPriceFloor
}

// Classify maps a final score to a risk tier.
func (m *ScoringModel) Classify(score float64) RiskTier {
	switch {
	case score >= m.HighThreshold:
		return TierHigh
	case score >= m.MediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

// DefaultScoringModel returns the production scoring model.
func DefaultScoringModel() *ScoringModel {
	return &ScoringModel{
		Version: "magpie-1.0",
		TierWeights: map[RiskTier]float64{
			TierLow:    5,
			TierMedium: 15,
			TierHigh:   30,
		},
		FusionWeights: map[AnalysisSource]float64{
			SourceText:     0.25,
			SourcePrice:    0.2,
			SourceSeller:   0.2,
			SourceBehavior: 0.15,
			SourcePattern:  0.2,
		},
		DefaultFusionWeight: 0.1,
		HighThreshold:       60,
		MediumThreshold:     30,
		CategoryPriceFloors: map[string]float64{
			"informatique":   50,
			"telephonie":     30,
			"electromenager": 20,
			"vehicules":      500,
		},
		DefaultPriceFloor:  10,
		VagueLocationTerms: []string{"région", "proche", "alentours", "secteur", "environ"},
	}
}

// Recommendations returns the fixed advice block for a risk tier. The
// text depends only on the tier, never on which threats fired.
func Recommendations(level RiskTier) []string {
	switch level {
	case TierHigh:
		return []string{
			"Cette annonce présente plusieurs signaux d'alarme",
			"Évitez cette annonce ou soyez extrêmement prudent",
			"Vérifiez l'identité du vendeur avant tout contact",
		}
	case TierMedium:
		return []string{
			"Prudence recommandée pour cette annonce",
			"Privilégiez la remise en main propre",
			"Évitez les paiements avant rencontre",
		}
	default:
		return []string{
			"Annonce qui semble normale",
			"Respectez les bonnes pratiques de sécurité",
		}
	}
}
