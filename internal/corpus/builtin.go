package corpus

import (
	"context"

	"github.com/opensource-trust/magpie/internal/domain"
)

// BuiltinSource serves the default French rule corpus shipped with the
// engine. It never fails and needs no I/O.
type BuiltinSource struct{}

func (BuiltinSource) Name() string { return "builtin" }

func (BuiltinSource) FetchKeywords(ctx context.Context) (domain.KeywordTable, error) {
	return defaultKeywords(), nil
}

func (BuiltinSource) FetchPatterns(ctx context.Context) (domain.PatternTable, error) {
	return defaultPatterns(), nil
}

// defaultKeywords returns a fresh copy of the builtin keyword table so
// corpora built from it stay structurally independent.
func defaultKeywords() domain.KeywordTable {
	return domain.KeywordTable{
		"urgence": {
			domain.TierHigh:   {"urgent", "départ ce soir", "ce soir", "départ demain", "dernière chance"},
			domain.TierMedium: {"rapidement", "vite", "immédiatement", "tout de suite"},
			domain.TierLow:    {"déménagement", "fin de semaine"},
		},
		"paiement": {
			domain.TierHigh:   {"western union", "moneygram", "mandat cash", "paypal famille", "bitcoin", "coupon pcs"},
			domain.TierMedium: {"virement avant", "acompte", "frais de livraison"},
			domain.TierLow:    {"espèces uniquement"},
		},
		"contact": {
			domain.TierHigh:   {"whatsapp", "telegram"},
			domain.TierMedium: {"contactez-moi par mail", "envoyez un sms"},
		},
		"expedition": {
			domain.TierHigh:   {"expédition uniquement", "envoi seulement", "pas de remise en main propre"},
			domain.TierMedium: {"envoi rapide", "colis déjà prêt"},
		},
		"produits_sensibles": {
			domain.TierMedium: {"iphone", "macbook", "ps5", "rolex"},
			domain.TierLow:    {"console", "tablette"},
		},
		"justification": {
			domain.TierMedium: {"prix sacrifié", "cause départ", "perte financière"},
			domain.TierLow:    {"bradé", "affaire à saisir"},
		},
	}
}

// defaultPatterns returns a fresh copy of the builtin pattern table.
// Regex sources use RE2 syntax; they are compiled case-insensitive by
// the corpus builder.
func defaultPatterns() domain.PatternTable {
	return domain.PatternTable{
		"numero_telephone": {
			Pattern:     `0[1-9][0-9]{8}`,
			RiskLevel:   domain.TierHigh,
			Description: "Numéro de téléphone dans le texte",
		},
		"email_dans_texte": {
			Pattern:     `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
			RiskLevel:   domain.TierHigh,
			Description: "Adresse email dans le texte",
		},
		"numero_etranger": {
			Pattern:     `\+[0-9]{10,15}`,
			RiskLevel:   domain.TierHigh,
			Description: "Numéro de téléphone étranger",
		},
		"plateforme_externe": {
			Pattern:     `(facebook|instagram|whatsapp|telegram|signal|viber)`,
			RiskLevel:   domain.TierMedium,
			Description: "Mention d'une autre plateforme",
		},
		"paiement_suspect": {
			Pattern:     `(western union|moneygram|paypal famille|bitcoin|crypto)`,
			RiskLevel:   domain.TierHigh,
			Description: "Méthode de paiement suspecte",
		},
		"expedition_seule": {
			Pattern:     `(expédition uniquement|envoi seulement|pas de remise)`,
			RiskLevel:   domain.TierMedium,
			Description: "Expédition uniquement, pas de remise en main propre",
		},
		"mention_urgence": {
			Pattern:     `urgente?s?`,
			RiskLevel:   domain.TierHigh,
			Description: "Vocabulaire d'urgence",
		},
		"depart_imminent": {
			Pattern:     `départ (ce soir|demain|imminent)`,
			RiskLevel:   domain.TierHigh,
			Description: "Départ imminent invoqué pour presser l'acheteur",
		},
		"exclamations_repetees": {
			Pattern:     `!{2,}`,
			RiskLevel:   domain.TierLow,
			Description: "Exclamations répétées",
		},
		"prix_justifie": {
			Pattern:     `(prix sacrifié|bradé|liquidation|perte financière)`,
			RiskLevel:   domain.TierMedium,
			Description: "Justification d'un prix anormalement bas",
		},
		"revendication_authenticite": {
			Pattern:     `(100% authentique|garantie authenticité|certificat)`,
			RiskLevel:   domain.TierLow,
			Description: "Revendication d'authenticité insistante",
		},
	}
}
