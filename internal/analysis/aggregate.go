package analysis

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-trust/magpie/internal/domain"
)

// Aggregate fuses the partial results of all sub-analyzers into one
// assessment: weighted score fusion, finding dedup (first occurrence
// of a (kind, descriptor) pair wins), stable severity ordering, tier
// classification and the tier's recommendation block.
//
// Partials are consumed in the given order, so callers must pass them
// in a deterministic order for identical input to yield identical
// output.
func Aggregate(listing *domain.Listing, partials []domain.PartialResult, model *domain.ScoringModel) *domain.Assessment {
	var score float64
	var threats []domain.ThreatFinding
	seen := make(map[findingKey]struct{})

	for _, partial := range partials {
		score += partial.Score * model.FusionWeight(partial.Source)
		for _, finding := range partial.Findings {
			key := findingKey{finding.Kind, finding.Descriptor}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			threats = append(threats, finding)
		}
	}

	// Stable: findings of equal tier keep their sub-analyzer order.
	sort.SliceStable(threats, func(i, j int) bool {
		return threats[i].Tier.Rank() > threats[j].Tier.Rank()
	})

	level := model.Classify(score)

	return &domain.Assessment{
		ID:              uuid.New().String(),
		TenantID:        listing.TenantID,
		ListingID:       listing.ID,
		Score:           score,
		Level:           level,
		Timestamp:       time.Now().UTC(),
		Threats:         threats,
		Recommendations: domain.Recommendations(level),
	}
}

type findingKey struct {
	kind       domain.FindingKind
	descriptor string
}
