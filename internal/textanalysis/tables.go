package textanalysis

import (
	"regexp"
	"strings"

	"github.com/opensource-trust/magpie/internal/domain"
)

// frenchStopWords are excluded from word counting.
var frenchStopWords = map[string]struct{}{
	"le": {}, "de": {}, "et": {}, "à": {}, "un": {}, "il": {}, "être": {},
	"en": {}, "avoir": {}, "que": {}, "pour": {}, "dans": {}, "ce": {},
	"son": {}, "une": {}, "sur": {}, "avec": {}, "ne": {}, "se": {},
	"pas": {}, "tout": {}, "plus": {}, "par": {}, "grand": {}, "les": {},
	"des": {}, "est": {}, "du": {}, "la": {},
}

// indicator is one weighted regex of the urgency/emotional tables.
type indicator struct {
	re     *regexp.Regexp
	weight float64
}

// urgencyIndicators score time pressure framing. Applied to the
// original text, case-insensitive.
var urgencyIndicators = []indicator{
	{regexp.MustCompile(`(?i)urgente?`), 3},
	{regexp.MustCompile(`(?i)rapidement`), 2},
	{regexp.MustCompile(`(?i)vite`), 2},
	{regexp.MustCompile(`(?i)immédiatement`), 3},
	{regexp.MustCompile(`(?i)tout de suite`), 2},
	{regexp.MustCompile(`(?i)départ demain`), 4},
	{regexp.MustCompile(`(?i)partir ce soir`), 4},
	{regexp.MustCompile(`(?i)fin de semaine`), 2},
	{regexp.MustCompile(`(?i)déménagement`), 1},
	{regexp.MustCompile(`(?i)liquidation`), 3},
	{regexp.MustCompile(`(?i)braderie`), 2},
	{regexp.MustCompile(`!{2,}`), 1},
}

// emotionalIndicators score hardship, gift, and vulnerability framing.
var emotionalIndicators = []indicator{
	{regexp.MustCompile(`(?i)maladie`), 3},
	{regexp.MustCompile(`(?i)décès`), 4},
	{regexp.MustCompile(`(?i)divorce`), 3},
	{regexp.MustCompile(`(?i)difficultés financières`), 4},
	{regexp.MustCompile(`(?i)au chômage`), 3},
	{regexp.MustCompile(`(?i)pour ma fille`), 2},
	{regexp.MustCompile(`(?i)pour mon fils`), 2},
	{regexp.MustCompile(`(?i)cadeau`), 1},
	{regexp.MustCompile(`(?i)anniversaire`), 1},
	{regexp.MustCompile(`(?i)surprise`), 2},
	{regexp.MustCompile(`(?i)personne âgée`), 3},
	{regexp.MustCompile(`(?i)handicapé`), 3},
	{regexp.MustCompile(`(?i)hôpital`), 3},
}

// suspiciousRule is one named detector of the suspicious-pattern scan.
// Detectors that RE2 cannot express (negative lookahead, backreference)
// use a counting function instead of a regex.
type suspiciousRule struct {
	name  string
	desc  string
	tier  domain.RiskTier
	count func(text string) int
}

func regexCounter(re *regexp.Regexp) func(string) int {
	return func(text string) int {
		return len(re.FindAllStringIndex(text, -1))
	}
}

var (
	rePhone        = regexp.MustCompile(`0[1-9][0-9]{8}`)
	reEmail        = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	reIntlPhone    = regexp.MustCompile(`\+[0-9]{10,15}`)
	rePlatform     = regexp.MustCompile(`(?i)(facebook|instagram|whatsapp|telegram|signal|viber)`)
	rePayment      = regexp.MustCompile(`(?i)(western union|moneygram|paypal famille|bitcoin|crypto)`)
	reShippingOnly = regexp.MustCompile(`(?i)(expédition uniquement|envoi seulement|pas de remise)`)
	rePriceExcuse  = regexp.MustCompile(`(?i)(prix sacrifié|bradé|liquidation|perte financière)`)
	reAuthenticity = regexp.MustCompile(`(?i)(100% authentique|garantie authenticité|certificat)`)
	reCaps         = regexp.MustCompile(`[A-Z]{5,}`)
)

// countForeignPhones counts international numbers excluding the French
// +33 prefix.
func countForeignPhones(text string) int {
	n := 0
	for _, m := range reIntlPhone.FindAllString(text, -1) {
		if !strings.HasPrefix(m, "+33") {
			n++
		}
	}
	return n
}

// countRepeatedChars counts runs of 4 or more identical ASCII letters.
func countRepeatedChars(text string) int {
	count := 0
	var prev rune
	run := 1
	for _, r := range text {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if isLetter && r == prev {
			run++
			if run == 4 {
				count++
			}
		} else {
			run = 1
		}
		prev = r
	}
	return count
}

var suspiciousRules = []suspiciousRule{
	{"phone_in_text", "Numéro de téléphone dans le texte", domain.TierHigh, regexCounter(rePhone)},
	{"email_in_text", "Email dans le texte", domain.TierHigh, regexCounter(reEmail)},
	{"foreign_phone", "Numéro étranger", domain.TierHigh, countForeignPhones},
	{"external_platform", "Mention d'autres plateformes", domain.TierMedium, regexCounter(rePlatform)},
	{"payment_methods", "Méthodes de paiement suspectes", domain.TierHigh, regexCounter(rePayment)},
	{"shipping_only", "Expédition uniquement", domain.TierMedium, regexCounter(reShippingOnly)},
	{"price_justification", "Justification de prix bas", domain.TierMedium, regexCounter(rePriceExcuse)},
	{"authenticity_claims", "Revendications d'authenticité", domain.TierLow, regexCounter(reAuthenticity)},
	{"repeated_chars", "Caractères répétés", domain.TierLow, countRepeatedChars},
	{"excessive_caps", "Majuscules excessives", domain.TierLow, regexCounter(reCaps)},
}

// contactRule detects one channel of off-platform contact solicitation.
type contactRule struct {
	kind string
	re   *regexp.Regexp
}

var contactRules = []contactRule{
	{"phone", regexp.MustCompile(`(?i)(tel|téléphone|appel|appelle)`)},
	{"sms", regexp.MustCompile(`(?i)(sms|texto|message)`)},
	{"email", regexp.MustCompile(`(?i)(mail|email|e-mail)`)},
	{"social", regexp.MustCompile(`(?i)(facebook|instagram|snap)`)},
	{"messaging", regexp.MustCompile(`(?i)(whatsapp|telegram|signal)`)},
}

// priceVocabulary are the price-talk terms extracted from listings.
var priceVocabulary = []string{
	"négociable", "débattable", "ferme", "fixe", "bradé", "sacrifié",
	"liquidation", "affaire", "occasion", "bon prix", "pas cher",
	"gratuit", "offert", "cadeau", "bonus",
}

// locationVocabulary are the location-talk terms extracted from listings.
var locationVocabulary = []string{
	"région", "secteur", "alentours", "environ", "proche", "loin",
	"déplacement", "livraison", "expédition", "envoi", "poste",
	"remise", "rdv", "rendez-vous",
}
