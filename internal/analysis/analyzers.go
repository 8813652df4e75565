// Package analysis implements the listing sub-analyzers and the
// aggregator that fuses their partial results into one assessment.
//
// Every sub-analyzer is a pure function of (listing, corpus, scoring
// model): no shared state, safe to run concurrently, and total over
// well-typed input; absent optional fields degrade to a zero result,
// never an error.
package analysis

import (
	"math"
	"sort"
	"strings"

	"github.com/opensource-trust/magpie/internal/corpus"
	"github.com/opensource-trust/magpie/internal/domain"
)

// AnalyzeKeywords scans the lowercased title+description for every
// corpus keyword. Each substring hit adds the tier weight and emits a
// keyword finding with its category/keyword descriptor.
func AnalyzeKeywords(listing *domain.Listing, c *corpus.Corpus, model *domain.ScoringModel) domain.PartialResult {
	result := domain.PartialResult{Source: domain.SourceText}
	fullText := strings.ToLower(listing.FullText())

	// Fixed iteration order keeps repeated runs byte-identical.
	for _, category := range sortedKeys(c.Keywords()) {
		tiers := c.Keywords()[category]
		for _, tier := range []domain.RiskTier{domain.TierHigh, domain.TierMedium, domain.TierLow} {
			for _, keyword := range tiers[tier] {
				if !strings.Contains(fullText, strings.ToLower(keyword)) {
					continue
				}
				weight := model.TierWeight(tier)
				result.Score += weight
				result.Findings = append(result.Findings, domain.ThreatFinding{
					Kind:       domain.FindingKeyword,
					Tier:       tier,
					Descriptor: category + "/" + keyword,
					Weight:     weight,
				})
			}
		}
	}
	return result
}

// AnalyzePrice flags pricing anomalies. A nil or non-positive price
// yields a zero result.
func AnalyzePrice(listing *domain.Listing, model *domain.ScoringModel) domain.PartialResult {
	result := domain.PartialResult{Source: domain.SourcePrice}
	if listing.Price == nil || *listing.Price <= 0 {
		return result
	}
	price := *listing.Price

	remainder := math.Mod(price, 100)

	// Round prices above 200 are atypical for genuine second-hand ads.
	if remainder == 0 && price > 200 {
		result.Score += 10
		result.Findings = append(result.Findings, domain.ThreatFinding{
			Kind:       domain.FindingPricePattern,
			Tier:       domain.TierLow,
			Descriptor: "prix rond suspect pour objet de valeur",
			Weight:     10,
		})
	}

	// Retail-style psychological endings are unusual between
	// individuals.
	if remainder == 99 || remainder == 95 {
		result.Score += 5
		result.Findings = append(result.Findings, domain.ThreatFinding{
			Kind:       domain.FindingPricePattern,
			Tier:       domain.TierLow,
			Descriptor: "prix psychologique inhabituel entre particuliers",
			Weight:     5,
		})
	}

	if price < model.PriceFloor(listing.Category) {
		result.Score += 50
		result.Findings = append(result.Findings, domain.ThreatFinding{
			Kind:       domain.FindingPriceTooLow,
			Tier:       domain.TierHigh,
			Descriptor: "prix anormalement bas pour cette catégorie",
			Weight:     50,
		})
	}

	return result
}

// AnalyzeSeller flags risky seller profiles. A nil seller yields a zero
// result; each signal only fires when its field is present.
func AnalyzeSeller(listing *domain.Listing, model *domain.ScoringModel) domain.PartialResult {
	result := domain.PartialResult{Source: domain.SourceSeller}
	seller := listing.Seller
	if seller == nil {
		return result
	}

	if seller.AccountAgeDays != nil && *seller.AccountAgeDays < 30 {
		result.Score += 20
		result.Findings = append(result.Findings, domain.ThreatFinding{
			Kind:       domain.FindingNewAccount,
			Tier:       domain.TierMedium,
			Descriptor: "compte créé récemment",
			Weight:     20,
		})
	}

	// A present zero is the signal here; an absent count is not.
	if seller.ReviewCount != nil && *seller.ReviewCount == 0 {
		result.Score += 15
		result.Findings = append(result.Findings, domain.ThreatFinding{
			Kind:       domain.FindingNoReviews,
			Tier:       domain.TierMedium,
			Descriptor: "aucun avis sur le vendeur",
			Weight:     15,
		})
	}

	if seller.SimilarItemsCount != nil && *seller.SimilarItemsCount > 5 {
		result.Score += 30
		result.Findings = append(result.Findings, domain.ThreatFinding{
			Kind:       domain.FindingMultipleItems,
			Tier:       domain.TierHigh,
			Descriptor: "vendeur avec beaucoup d'objets identiques",
			Weight:     30,
		})
	}

	return result
}

// AnalyzeBehavior flags listing-shape signals: a single photo and a
// missing or deliberately vague location.
func AnalyzeBehavior(listing *domain.Listing, model *domain.ScoringModel) domain.PartialResult {
	result := domain.PartialResult{Source: domain.SourceBehavior}

	if listing.PhotosCount == 1 {
		result.Score += 15
		result.Findings = append(result.Findings, domain.ThreatFinding{
			Kind:       domain.FindingSinglePhoto,
			Tier:       domain.TierMedium,
			Descriptor: "une seule photo fournie",
			Weight:     15,
		})
	}

	if isLocationVague(listing.Location, model.VagueLocationTerms) {
		result.Score += 20
		result.Findings = append(result.Findings, domain.ThreatFinding{
			Kind:       domain.FindingVagueLocation,
			Tier:       domain.TierMedium,
			Descriptor: "localisation volontairement vague",
			Weight:     20,
		})
	}

	return result
}

func isLocationVague(location *string, vagueTerms []string) bool {
	if location == nil || strings.TrimSpace(*location) == "" {
		return true
	}
	lower := strings.ToLower(*location)
	for _, term := range vagueTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// AnalyzePatterns applies every compiled corpus pattern to the
// lowercased title+description. Each matching pattern contributes
// tier weight × match count and one finding carrying the count.
func AnalyzePatterns(listing *domain.Listing, c *corpus.Corpus, model *domain.ScoringModel) domain.PartialResult {
	result := domain.PartialResult{Source: domain.SourcePattern}
	fullText := strings.ToLower(listing.FullText())

	for _, pattern := range c.Patterns() {
		matches := len(pattern.Regexp.FindAllStringIndex(fullText, -1))
		if matches == 0 {
			continue
		}
		weight := model.TierWeight(pattern.Tier)
		result.Score += weight * float64(matches)
		result.Findings = append(result.Findings, domain.ThreatFinding{
			Kind:        domain.FindingPatternMatch,
			Tier:        pattern.Tier,
			Descriptor:  pattern.Name,
			Weight:      weight,
			Description: pattern.Description,
			Matches:     matches,
		})
	}

	return result
}

func sortedKeys(table domain.KeywordTable) []string {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
