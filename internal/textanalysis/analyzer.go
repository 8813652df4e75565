// Package textanalysis extracts deep text features from free-form
// listing text: urgency, emotional framing, suspicious patterns,
// readability, language quality, contact attempts, and vocabulary
// extraction. It is a standalone sub-engine, usable independently of
// listing assessment.
package textanalysis

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/opensource-trust/magpie/internal/domain"
)

// SentenceInfo summarizes the sentence structure of a text.
type SentenceInfo struct {
	Count     int      `json:"count"`
	AvgLength float64  `json:"avgLength"`
	Sentences []string `json:"sentences,omitempty"`
}

// IndicatorMatch records one urgency or emotional indicator that fired.
type IndicatorMatch struct {
	Pattern string  `json:"pattern"`
	Matches int     `json:"matches"`
	Weight  float64 `json:"weight"`
}

// ScoreDetail is a weighted indicator score with its firing matches.
type ScoreDetail struct {
	Score   float64          `json:"score"`
	Matches []IndicatorMatch `json:"matches,omitempty"`
}

// SuspiciousMatch is a named suspicious-pattern detection.
type SuspiciousMatch struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Tier        domain.RiskTier `json:"risk"`
	Count       int             `json:"count"`
}

// QualityInfo is the language-quality score with its recorded issues.
type QualityInfo struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

// ContactMatch is one detected contact-solicitation channel.
type ContactMatch struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// KeywordCount is one extracted vocabulary term with its occurrences.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// Features is the complete feature set extracted from one text.
type Features struct {
	OriginalText string `json:"originalText"`
	CleanText    string `json:"cleanText"`
	Length       int    `json:"length"`
	WordCount    int    `json:"wordCount"`

	Sentences          SentenceInfo      `json:"sentences"`
	Urgency            ScoreDetail       `json:"urgencyScore"`
	Emotional          ScoreDetail       `json:"emotionalScore"`
	SuspiciousPatterns []SuspiciousMatch `json:"suspiciousPatterns"`
	Readability        float64           `json:"readabilityScore"`
	LanguageQuality    QualityInfo       `json:"languageQuality"`
	ContactAttempts    []ContactMatch    `json:"contactAttempts"`
	PriceKeywords      []KeywordCount    `json:"priceKeywords"`
	LocationKeywords   []KeywordCount    `json:"locationKeywords"`
}

var (
	reNonWord     = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	reWhitespace  = regexp.MustCompile(`\s+`)
	reSentenceCut = regexp.MustCompile(`[.!?]+`)
	rePunctuation = regexp.MustCompile(`[.!?]`)
)

// Analyze extracts the full feature set from a text. It is total:
// empty input yields the canonical zero-valued feature set.
func Analyze(text string) *Features {
	if text == "" {
		return &Features{}
	}

	clean := preprocess(text)

	return &Features{
		OriginalText:       text,
		CleanText:          clean,
		Length:             len([]rune(text)),
		WordCount:          countWords(clean),
		Sentences:          splitSentences(text),
		Urgency:            scoreIndicators(text, urgencyIndicators),
		Emotional:          scoreIndicators(text, emotionalIndicators),
		SuspiciousPatterns: detectSuspicious(text),
		Readability:        readability(clean),
		LanguageQuality:    languageQuality(text),
		ContactAttempts:    detectContacts(text),
		PriceKeywords:      extractVocabulary(text, priceVocabulary),
		LocationKeywords:   extractVocabulary(text, locationVocabulary),
	}
}

// OverallRisk folds the feature set into a 0..100 risk score. It is a
// standalone helper for text-only callers; the listing aggregator uses
// its own fusion and does not call it.
func OverallRisk(f *Features) float64 {
	risk := f.Urgency.Score * 2
	risk += f.Emotional.Score * 1.5

	for _, p := range f.SuspiciousPatterns {
		var w float64
		switch p.Tier {
		case domain.TierHigh:
			w = 10
		case domain.TierMedium:
			w = 5
		default:
			w = 2
		}
		risk += w * float64(p.Count)
	}

	risk += (100 - f.LanguageQuality.Score) * 0.3
	risk += float64(len(f.ContactAttempts)) * 5

	if risk > 100 {
		risk = 100
	}
	return risk
}

// preprocess lowercases, strips non-word characters (unicode letters,
// digits, underscore, and spaces are kept), and collapses whitespace.
func preprocess(text string) string {
	s := strings.ToLower(text)
	s = reNonWord.ReplaceAllString(s, " ")
	s = reWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// countWords counts tokens longer than one rune that are not stop
// words.
func countWords(clean string) int {
	n := 0
	for _, w := range strings.Fields(clean) {
		if len([]rune(w)) <= 1 {
			continue
		}
		if _, stop := frenchStopWords[w]; stop {
			continue
		}
		n++
	}
	return n
}

// splitSentences splits on runs of sentence punctuation and reports
// count and mean rune length of the non-empty parts.
func splitSentences(text string) SentenceInfo {
	parts := reSentenceCut.Split(text, -1)

	info := SentenceInfo{}
	total := 0
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		info.Count++
		info.Sentences = append(info.Sentences, trimmed)
		total += len([]rune(p))
	}
	if info.Count > 0 {
		info.AvgLength = float64(total) / float64(info.Count)
	}
	return info
}

// scoreIndicators sums weight × occurrences over an indicator table.
func scoreIndicators(text string, table []indicator) ScoreDetail {
	detail := ScoreDetail{}
	for _, ind := range table {
		n := len(ind.re.FindAllStringIndex(text, -1))
		if n == 0 {
			continue
		}
		detail.Score += ind.weight * float64(n)
		detail.Matches = append(detail.Matches, IndicatorMatch{
			Pattern: ind.re.String(),
			Matches: n,
			Weight:  ind.weight,
		})
	}
	return detail
}

func detectSuspicious(text string) []SuspiciousMatch {
	var detected []SuspiciousMatch
	for _, rule := range suspiciousRules {
		n := rule.count(text)
		if n == 0 {
			continue
		}
		detected = append(detected, SuspiciousMatch{
			Name:        rule.name,
			Description: rule.desc,
			Tier:        rule.tier,
			Count:       n,
		})
	}
	return detected
}

// readability scores the cleaned text: 100 base, penalties for long
// sentences, very short texts, and missing punctuation. Clamped to
// [0,100].
func readability(clean string) float64 {
	words := len(strings.Fields(clean))
	sentences := len(reSentenceCut.Split(clean, -1))

	var avgWordsPerSentence float64
	if sentences > 0 {
		avgWordsPerSentence = float64(words) / float64(sentences)
	}

	score := 100.0

	if avgWordsPerSentence > 20 {
		score -= 20
	} else if avgWordsPerSentence > 15 {
		score -= 10
	}

	if words < 10 {
		score -= 30
	}

	punctuation := len(rePunctuation.FindAllStringIndex(clean, -1))
	if punctuation == 0 && words > 20 {
		score -= 15
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// languageQuality penalizes excessive word repetition and texts with an
// abnormally low vowel ratio (paste artifacts, keyboard mashing).
func languageQuality(text string) QualityInfo {
	quality := QualityInfo{Score: 100}

	counts := make(map[string]int)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len([]rune(w)) > 3 {
			counts[w]++
		}
	}

	repeated := make([]string, 0)
	for word, count := range counts {
		if count > 3 {
			repeated = append(repeated, word)
		}
	}
	sort.Strings(repeated)
	for _, word := range repeated {
		quality.Score -= 5
		quality.Issues = append(quality.Issues, "répétition excessive: "+word)
	}

	runes := []rune(text)
	vowels := 0
	for _, r := range runes {
		switch unicode.ToLower(r) {
		case 'a', 'e', 'i', 'o', 'u':
			vowels++
		}
	}
	if len(runes) > 0 && float64(vowels)/float64(len(runes)) < 0.2 {
		quality.Score -= 20
		quality.Issues = append(quality.Issues, "ratio de voyelles anormalement bas")
	}

	if quality.Score < 0 {
		quality.Score = 0
	}
	return quality
}

func detectContacts(text string) []ContactMatch {
	var detected []ContactMatch
	for _, rule := range contactRules {
		n := len(rule.re.FindAllStringIndex(text, -1))
		if n == 0 {
			continue
		}
		detected = append(detected, ContactMatch{Type: rule.kind, Count: n})
	}
	return detected
}

// extractVocabulary counts case-insensitive occurrences of each term.
func extractVocabulary(text string, vocabulary []string) []KeywordCount {
	lower := strings.ToLower(text)
	var found []KeywordCount
	for _, term := range vocabulary {
		n := strings.Count(lower, term)
		if n == 0 {
			continue
		}
		found = append(found, KeywordCount{Keyword: term, Count: n})
	}
	return found
}
