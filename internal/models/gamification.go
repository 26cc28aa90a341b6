package models

import "time"

// ── Core Gamification Structs ─────────────────────────────

// UserScore is the per-user gamification record. Created lazily on a user's
// first event with zeroed counters; mutated only by the gamification service.
type UserScore struct {
	UserID        string     `json:"user_id"`
	TotalPoints   int        `json:"total_points"`
	StreakDays    int        `json:"streak_days"`
	WeeklyStreak  int        `json:"weekly_streak"`
	LastActivity  *time.Time `json:"last_activity"`
	UniqueServers []string   `json:"unique_servers"`
	TotalCommands int        `json:"total_commands"`
	ProdCommands  int        `json:"prod_commands"`
	Badges        []string   `json:"badges"`
	Timezone      string     `json:"timezone"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HasBadge reports whether the user already holds the badge code.
func (u *UserScore) HasBadge(code string) bool {
	for _, b := range u.Badges {
		if b == code {
			return true
		}
	}
	return false
}

// HasServer reports whether the server is already in the touched set.
func (u *UserScore) HasServer(server string) bool {
	for _, s := range u.UniqueServers {
		if s == server {
			return true
		}
	}
	return false
}

// PointLog is one append-only row per applied event. At most one row exists
// per action UUID; that uniqueness is the idempotency contract.
type PointLog struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	ActionUUID  string    `json:"action_uuid"`
	CommandType string    `json:"command_type"`
	Environment string    `json:"environment,omitempty"`
	Servers     []string  `json:"servers,omitempty"`
	PointsDelta int       `json:"points_delta"`
	TotalPoints int       `json:"total_points"`
	StreakDays  int       `json:"streak_days"`
	Timestamp   time.Time `json:"timestamp"`
	NewBadges   []string  `json:"new_badges"`
}

// RawEvent is an unprocessed action captured for the nightly batch drain.
type RawEvent struct {
	ID          int64     `json:"id"`
	ActionUUID  string    `json:"action_uuid"`
	UserID      string    `json:"user_id"`
	Event       string    `json:"event"`
	Environment string    `json:"environment,omitempty"`
	Servers     []string  `json:"servers,omitempty"`
	Parameters  []string  `json:"parameters,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ── Request Types ─────────────────────────────────────────

// PointsRequest describes one command execution to score.
type PointsRequest struct {
	Event       string   `json:"event"`
	Environment string   `json:"environment"`
	Servers     []string `json:"servers"`
	Parameters  []string `json:"parameters"`
	ActionUUID  string   `json:"action_uuid"`
}

type IngestEventRequest struct {
	UserID      string   `json:"user_id"`
	Event       string   `json:"event"`
	Environment string   `json:"environment"`
	Servers     []string `json:"servers"`
	Parameters  []string `json:"parameters"`
	ActionUUID  string   `json:"action_uuid,omitempty"`
}

// ── Response Types ────────────────────────────────────────

type PointsResponse struct {
	Delta       int      `json:"delta"`
	TotalPoints int      `json:"total_points"`
	StreakDays  int      `json:"streak_days"`
	NewBadges   []string `json:"new_badges"`
}

type UserMeResponse struct {
	TotalPoints   int      `json:"total_points"`
	StreakDays    int      `json:"streak_days"`
	WeeklyStreak  int      `json:"weekly_streak"`
	UniqueServers int      `json:"unique_servers"`
	TotalCommands int      `json:"total_commands"`
	Badges        []string `json:"badges"`
}

type LeaderboardEntry struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Department  string `json:"department"`
	Points      int    `json:"points"`
	Rank        int    `json:"rank"`
	BadgeCount  int    `json:"badge_count"`
}

type LeaderboardResponse struct {
	WindowStart time.Time          `json:"window_start"`
	WindowEnd   time.Time          `json:"window_end"`
	Page        int                `json:"page"`
	PageSize    int                `json:"page_size"`
	TotalUsers  int64              `json:"total_users"`
	Entries     []LeaderboardEntry `json:"entries"`
}

type BadgeInfo struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Bonus       int    `json:"bonus"`
}

type BatchSummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Users     int `json:"users"`
}
