package gamification

import (
	"testing"
	"time"

	"github.com/infrasight/backend/internal/models"
)

func TestClassifyParameter(t *testing.T) {
	tests := []struct {
		param string
		want  string
	}{
		{"restart", ParamSimple},
		{"web-01", ParamSimple},
		{"*.conf", ParamWildcard},
		{"app?.log", ParamWildcard},
		{"[a-z]+", ParamRegex},
		{"^nginx", ParamRegex},
		{"error|warn", ParamRegex},
		{"\\d+", ParamRegex},
		{"{2,4}", ParamRegex},
		{"", ParamSimple},
		// Wildcard characters win even when regex metacharacters are present.
		{"[a-z]*", ParamWildcard},
	}
	for _, tt := range tests {
		if got := ClassifyParameter(tt.param); got != tt.want {
			t.Errorf("ClassifyParameter(%q) = %q, want %q", tt.param, got, tt.want)
		}
	}
}

func TestComplexityScore(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name   string
		params []string
		want   float64
	}{
		{"no params", nil, 0},
		{"one simple", []string{"restart"}, 5},
		{"one wildcard", []string{"*.log"}, 10},
		{"one regex", []string{"^nginx$"}, 15},
		{"mixed", []string{"restart", "*.log", "^nginx$"}, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComplexityScore(tt.params, cfg); got != tt.want {
				t.Errorf("ComplexityScore(%v) = %v, want %v", tt.params, got, tt.want)
			}
		})
	}
}

func TestComplexityScoreMissingWeightFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ParameterWeight = map[string]float64{}

	// Every class falls back to weight 1.0.
	if got := ComplexityScore([]string{"simple", "*.conf", "^re$"}, cfg); got != 15 {
		t.Errorf("ComplexityScore with empty weights = %v, want 15", got)
	}
}

func TestServerScale(t *testing.T) {
	cfg := DefaultConfig() // log base 2

	tests := []struct {
		n    int
		want float64
	}{
		{0, 1.0},
		{1, 1.0},
		{2, 1.1},
		{4, 1.2},
		{8, 1.3},
	}
	for _, tt := range tests {
		got := ServerScale(tt.n, cfg)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("ServerScale(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestServerScaleUnrecognizedFunction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServerScaling = ServerScaling{Function: "quadratic", LogBase: 2}

	if got := ServerScale(10, cfg); got != 1.0 {
		t.Errorf("ServerScale with unknown function = %v, want 1.0", got)
	}
}

func TestServerScaleAcceptsLogarithmicAlias(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServerScaling = ServerScaling{Function: "logarithmic", LogBase: 2}

	got := ServerScale(2, cfg)
	if diff := got - 1.1; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("ServerScale(2) with logarithmic = %v, want 1.1", got)
	}
}

func TestStreakMultiplierFor(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		streak int
		want   float64
	}{
		{0, 1.0},
		{1, 1.0},
		{2, 1.0},
		{3, 1.1},
		{6, 1.1},
		{7, 1.2},
		{13, 1.2},
		{14, 1.35},
		{30, 1.5},
		{365, 1.5},
	}
	for _, tt := range tests {
		if got := StreakMultiplierFor(tt.streak, cfg); got != tt.want {
			t.Errorf("StreakMultiplierFor(%d) = %v, want %v", tt.streak, got, tt.want)
		}
	}
}

func TestCommandDelta(t *testing.T) {
	cfg := DefaultConfig()

	// (10 + 15) * 1.2 * 1.2 * 1.1 * 1.1 = 43.56, rounded up.
	req := models.PointsRequest{
		Event:       "fleet.exec",
		Environment: "prod",
		Servers:     []string{"web-01", "web-02"},
		Parameters:  []string{"restart", "*.conf"},
		ActionUUID:  "a-1",
	}
	if got := CommandDelta(req, 3, cfg); got != 44 {
		t.Errorf("CommandDelta = %d, want 44", got)
	}
}

func TestCommandDeltaNoParameters(t *testing.T) {
	cfg := DefaultConfig()

	// No parameters selects the default command weight: 10 * 1.0 * 1.2 = 12.
	req := models.PointsRequest{
		Event:       "fleet.exec",
		Environment: "prod",
		Servers:     []string{"web-01"},
		ActionUUID:  "a-2",
	}
	if got := CommandDelta(req, 0, cfg); got != 12 {
		t.Errorf("CommandDelta = %d, want 12", got)
	}
}

func TestCommandDeltaUnknownEnvironmentFallsBack(t *testing.T) {
	cfg := DefaultConfig()

	req := models.PointsRequest{
		Event:       "fleet.exec",
		Environment: "staging",
		Servers:     []string{"web-01"},
		ActionUUID:  "a-3",
	}
	// 10 * 1.0 * 1.0 = 10.
	if got := CommandDelta(req, 0, cfg); got != 10 {
		t.Errorf("CommandDelta = %d, want 10", got)
	}
}

func TestCommandDeltaRoundsUp(t *testing.T) {
	cfg := DefaultConfig()

	// Dev tier: 10 * 1.0 * 0.8 = 8 exactly; add a simple param to get a
	// fraction: (10 + 5) * 1.2 * 0.8 = 14.4 -> 15.
	req := models.PointsRequest{
		Event:       "fleet.exec",
		Environment: "dev",
		Servers:     []string{"web-01"},
		Parameters:  []string{"restart"},
		ActionUUID:  "a-4",
	}
	if got := CommandDelta(req, 0, cfg); got != 15 {
		t.Errorf("CommandDelta = %d, want 15", got)
	}
}

func TestCommandDeltaIsPure(t *testing.T) {
	cfg := DefaultConfig()
	req := models.PointsRequest{
		Event:       "fleet.exec",
		Environment: "prod",
		Servers:     []string{"web-01", "web-02"},
		Parameters:  []string{"restart", "*.conf"},
		ActionUUID:  "a-5",
	}

	first := CommandDelta(req, 3, cfg)
	for i := 0; i < 10; i++ {
		if got := CommandDelta(req, 3, cfg); got != first {
			t.Fatalf("CommandDelta not deterministic: %d then %d", first, got)
		}
	}
}

func TestLoginDelta(t *testing.T) {
	cfg := DefaultConfig()
	today := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	day := func(offset int) *time.Time {
		d := today.AddDate(0, 0, -offset)
		return &d
	}

	tests := []struct {
		name         string
		lastActivity *time.Time
		want         int
	}{
		{"first ever login", nil, 25},
		{"active yesterday", day(1), 5},
		{"six day gap", day(6), 5},
		{"exactly the welcome-back gap", day(7), 25},
		{"long absence", day(30), 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LoginDelta(tt.lastActivity, today, cfg); got != tt.want {
				t.Errorf("LoginDelta = %d, want %d", got, tt.want)
			}
		})
	}
}
