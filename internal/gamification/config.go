package gamification

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrConfigMissing means no scoring configuration document exists. Fatal to
// any scoring call; never retried silently.
var ErrConfigMissing = errors.New("gamification config not found")

// DefaultConfigID is the key of the single active configuration document.
const DefaultConfigID = "default"

// ServerScaling selects how the delta grows with the number of target servers.
type ServerScaling struct {
	Function string  `json:"function"` // "log" (or "logarithmic"); anything else is flat
	LogBase  float64 `json:"log_base"`
}

// StreakTier maps a minimum-streak-days threshold to a multiplier. The
// highest qualifying threshold wins.
type StreakTier struct {
	MinDays    int     `json:"min_days"`
	Multiplier float64 `json:"multiplier"`
}

// BadgeDef is one badge rule: a typed condition over user counters plus a
// one-time bonus. Badges are evaluated in table order.
type BadgeDef struct {
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Condition   BadgeRule `json:"condition"`
	Bonus       int       `json:"bonus"`
}

// ConfigSnapshot is an immutable bag of scoring parameters. All weight and
// multiplier lookups fall back to 1.0 so a missing table entry never fails a
// scoring call.
type ConfigSnapshot struct {
	ID               string             `json:"id"`
	BaseScore        int                `json:"base_score"`
	LoginPoints      int                `json:"login_points"`
	WelcomeBackBonus int                `json:"welcome_back_bonus"`
	WelcomeBackGap   int                `json:"welcome_back_gap"`
	CommandWeight    map[string]float64 `json:"command_weight"`
	ParameterWeight  map[string]float64 `json:"parameter_weight"`
	AccessTierWeight map[string]float64 `json:"access_tier_weight"`
	ServerScaling    ServerScaling      `json:"server_scaling"`
	StreakMultiplier []StreakTier       `json:"streak_multiplier"`
	Badges           []BadgeDef         `json:"badges"`
}

// BadgeByCode returns the badge definition for a code, or nil.
func (c *ConfigSnapshot) BadgeByCode(code string) *BadgeDef {
	for i := range c.Badges {
		if c.Badges[i].Code == code {
			return &c.Badges[i]
		}
	}
	return nil
}

// DefaultConfig returns the seed configuration written on first startup.
func DefaultConfig() *ConfigSnapshot {
	return &ConfigSnapshot{
		ID:               DefaultConfigID,
		BaseScore:        10,
		LoginPoints:      5,
		WelcomeBackBonus: 20,
		WelcomeBackGap:   7,
		CommandWeight: map[string]float64{
			"default": 1.0,
			"param":   1.2,
		},
		ParameterWeight: map[string]float64{
			"simple":   1.0,
			"wildcard": 2.0,
			"regex":    3.0,
		},
		AccessTierWeight: map[string]float64{
			"dev":  0.8,
			"udt":  1.0,
			"prod": 1.2,
		},
		ServerScaling: ServerScaling{Function: "log", LogBase: 2},
		StreakMultiplier: []StreakTier{
			{MinDays: 1, Multiplier: 1.0},
			{MinDays: 3, Multiplier: 1.1},
			{MinDays: 7, Multiplier: 1.2},
			{MinDays: 14, Multiplier: 1.35},
			{MinDays: 30, Multiplier: 1.5},
		},
		Badges: []BadgeDef{
			{
				Code: "first_command", Name: "Hello, Fleet",
				Description: "Run your first command",
				Condition:   BadgeRule{Type: RuleMinTotalCommands, N: 1},
				Bonus:       5,
			},
			{
				Code: "server_explorer", Name: "Explorer",
				Description: "Touch 5 distinct servers",
				Condition:   BadgeRule{Type: RuleMinUniqueServers, N: 5},
				Bonus:       25,
			},
			{
				Code: "server_cartographer", Name: "Cartographer",
				Description: "Touch 20 distinct servers",
				Condition:   BadgeRule{Type: RuleMinUniqueServers, N: 20},
				Bonus:       100,
			},
			{
				Code: "command_century", Name: "Century",
				Description: "Run 100 commands",
				Condition:   BadgeRule{Type: RuleMinTotalCommands, N: 100},
				Bonus:       50,
			},
			{
				Code: "prod_surgeon", Name: "Prod Surgeon",
				Description: "Run 25 production commands",
				Condition:   BadgeRule{Type: RuleMinProdCommands, N: 25},
				Bonus:       75,
			},
			{
				Code: "week_warrior", Name: "Week Warrior",
				Description: "Keep a 7-day streak",
				Condition:   BadgeRule{Type: RuleMinStreakDays, N: 7},
				Bonus:       30,
			},
			{
				Code: "iron_month", Name: "Iron Month",
				Description: "Keep a 30-day streak",
				Condition:   BadgeRule{Type: RuleMinStreakDays, N: 30},
				Bonus:       150,
			},
			{
				Code: "point_collector", Name: "Collector",
				Description: "Accumulate 1,000 points",
				Condition:   BadgeRule{Type: RuleMinTotalPoints, N: 1000},
				Bonus:       50,
			},
			{
				Code: "all_rounder", Name: "All-Rounder",
				Description: "10 distinct servers and 10 production commands",
				Condition: BadgeRule{Type: RuleAllOf, Rules: []BadgeRule{
					{Type: RuleMinUniqueServers, N: 10},
					{Type: RuleMinProdCommands, N: 10},
				}},
				Bonus: 120,
			},
		},
	}
}

// configStore is the slice of the storage layer the config service needs.
type configStore interface {
	LoadConfig(ctx context.Context, id string) (*ConfigSnapshot, error)
	SaveConfig(ctx context.Context, cfg *ConfigSnapshot) error
}

// ConfigService caches the active ConfigSnapshot and supports explicit
// reload. Scoring callers get a consistent snapshot per call instead of
// reading process-wide mutable state.
type ConfigService struct {
	store configStore

	mu  sync.RWMutex
	cfg *ConfigSnapshot
}

func NewConfigService(store configStore) *ConfigService {
	return &ConfigService{store: store}
}

// Seed writes the default configuration document if none exists.
func (c *ConfigService) Seed(ctx context.Context) error {
	_, err := c.store.LoadConfig(ctx, DefaultConfigID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrConfigMissing) {
		return fmt.Errorf("load config: %w", err)
	}
	if err := c.store.SaveConfig(ctx, DefaultConfig()); err != nil {
		return fmt.Errorf("seed config: %w", err)
	}
	return nil
}

// Get returns the cached snapshot, loading it on first use.
func (c *ConfigService) Get(ctx context.Context) (*ConfigSnapshot, error) {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()
	if cfg != nil {
		return cfg, nil
	}
	return c.Reload(ctx)
}

// Reload fetches the configuration from storage and replaces the cache.
func (c *ConfigService) Reload(ctx context.Context) (*ConfigSnapshot, error) {
	cfg, err := c.store.LoadConfig(ctx, DefaultConfigID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	return cfg, nil
}
