package gamification

import "github.com/infrasight/backend/internal/models"

// Badge rule variants. Conditions are a small closed set of typed predicates
// over user counters rather than a general expression language.
const (
	RuleMinUniqueServers = "min_unique_servers"
	RuleMinTotalCommands = "min_total_commands"
	RuleMinProdCommands  = "min_prod_commands"
	RuleMinStreakDays    = "min_streak_days"
	RuleMinTotalPoints   = "min_total_points"
	RuleAllOf            = "all_of"
	RuleAnyOf            = "any_of"
)

// BadgeRule is one node of a condition tree. Leaf variants compare a user
// counter against N; all_of and any_of combine sub-rules.
type BadgeRule struct {
	Type  string      `json:"type"`
	N     int         `json:"n,omitempty"`
	Rules []BadgeRule `json:"rules,omitempty"`
}

// Eval interprets the rule against the user's current counters. Unknown
// variants never fire.
func (r BadgeRule) Eval(u *models.UserScore) bool {
	switch r.Type {
	case RuleMinUniqueServers:
		return len(u.UniqueServers) >= r.N
	case RuleMinTotalCommands:
		return u.TotalCommands >= r.N
	case RuleMinProdCommands:
		return u.ProdCommands >= r.N
	case RuleMinStreakDays:
		return u.StreakDays >= r.N
	case RuleMinTotalPoints:
		return u.TotalPoints >= r.N
	case RuleAllOf:
		for _, sub := range r.Rules {
			if !sub.Eval(u) {
				return false
			}
		}
		return len(r.Rules) > 0
	case RuleAnyOf:
		for _, sub := range r.Rules {
			if sub.Eval(u) {
				return true
			}
		}
		return false
	}
	return false
}

// EvaluateBadges returns the codes of badges the user newly qualifies for, in
// rule-table order, skipping codes already held. It never mutates the user;
// the caller records the codes and applies their bonuses.
func EvaluateBadges(u *models.UserScore, badges []BadgeDef) []string {
	var earned []string
	for _, def := range badges {
		if u.HasBadge(def.Code) {
			continue
		}
		if def.Condition.Eval(u) {
			earned = append(earned, def.Code)
		}
	}
	return earned
}

// BadgeBonus sums the bonus points of the given badge codes.
func BadgeBonus(codes []string, cfg *ConfigSnapshot) int {
	total := 0
	for _, code := range codes {
		if def := cfg.BadgeByCode(code); def != nil {
			total += def.Bonus
		}
	}
	return total
}
