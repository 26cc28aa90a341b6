package gamification

import (
	"math"
	"strings"
	"time"

	"github.com/infrasight/backend/internal/models"
)

// Parameter complexity classes.
const (
	ParamSimple   = "simple"
	ParamRegex    = "regex"
	ParamWildcard = "wildcard"
)

// Each classified parameter contributes weight * 5 to the complexity score.
const paramUnitScore = 5.0

var regexMetaChars = []string{"[", "]", "{", "}", "^", "$", "|", "\\"}

// ClassifyParameter buckets a command parameter by how expressive it is.
// Wildcards win over regex metacharacters; everything else is simple.
func ClassifyParameter(p string) string {
	if strings.ContainsAny(p, "*?") {
		return ParamWildcard
	}
	for _, m := range regexMetaChars {
		if strings.Contains(p, m) {
			return ParamRegex
		}
	}
	return ParamSimple
}

// ComplexityScore sums the weighted unit score of every parameter. Unknown
// classes fall back to weight 1.0.
func ComplexityScore(params []string, cfg *ConfigSnapshot) float64 {
	score := 0.0
	for _, p := range params {
		score += lookupWeight(cfg.ParameterWeight, ClassifyParameter(p)) * paramUnitScore
	}
	return score
}

// ServerScale grows the delta with the number of target servers. A single
// server is always 1.0; an unrecognized scaling function is flat.
func ServerScale(n int, cfg *ConfigSnapshot) float64 {
	if n <= 1 {
		return 1.0
	}
	switch strings.ToLower(cfg.ServerScaling.Function) {
	case "log", "logarithmic":
		base := cfg.ServerScaling.LogBase
		if base <= 1 {
			return 1.0
		}
		return 1.0 + math.Log(float64(n))/math.Log(base)*0.1
	}
	return 1.0
}

// StreakMultiplierFor returns the multiplier of the highest tier whose
// threshold the current streak meets, or 1.0.
func StreakMultiplierFor(streakDays int, cfg *ConfigSnapshot) float64 {
	mult := 1.0
	for _, tier := range cfg.StreakMultiplier {
		if streakDays >= tier.MinDays && tier.Multiplier > mult {
			mult = tier.Multiplier
		}
	}
	return mult
}

// CommandDelta computes the points awarded for one command event. Pure and
// deterministic: batch recomputation and live application must produce
// identical deltas for identical inputs.
//
//	delta = ceil((base + complexity) * commandWeight * envWeight * serverScale * streakMult)
func CommandDelta(req models.PointsRequest, streakDays int, cfg *ConfigSnapshot) int {
	complexity := ComplexityScore(req.Parameters, cfg)

	weightKey := "default"
	if len(req.Parameters) > 0 {
		weightKey = "param"
	}
	cmdWeight := lookupWeight(cfg.CommandWeight, weightKey)
	envWeight := lookupWeight(cfg.AccessTierWeight, req.Environment)
	scale := ServerScale(len(req.Servers), cfg)
	streakMult := StreakMultiplierFor(streakDays, cfg)

	raw := (float64(cfg.BaseScore) + complexity) * cmdWeight * envWeight * scale * streakMult
	if raw < 0 {
		return 0
	}
	// Round up so fractional weight products never award zero points.
	return int(math.Ceil(raw))
}

// LoginDelta computes the points for a login event: the flat login award plus
// the welcome-back bonus when the gap since last activity reaches the
// configured threshold. A user with no prior activity always qualifies.
func LoginDelta(lastActivity *time.Time, today time.Time, cfg *ConfigSnapshot) int {
	delta := cfg.LoginPoints
	if lastActivity == nil || DaysBetween(*lastActivity, today) >= cfg.WelcomeBackGap {
		delta += cfg.WelcomeBackBonus
	}
	return delta
}

func lookupWeight(table map[string]float64, key string) float64 {
	if w, ok := table[key]; ok {
		return w
	}
	return 1.0
}
