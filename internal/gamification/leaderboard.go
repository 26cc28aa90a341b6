package gamification

import (
	"strings"
	"time"

	"github.com/infrasight/backend/internal/models"
)

// AssignRanks numbers entries by their 1-based position in the full filtered
// sequence: a page starting at offset begins at rank offset+1. Entries must
// already be sorted by points descending, user id ascending.
func AssignRanks(entries []models.LeaderboardEntry, offset int) {
	for i := range entries {
		entries[i].Rank = offset + i + 1
	}
}

// CompetitionRanks assigns competition-style ranks over an already sorted
// sequence: tied point values share a rank and the next distinct value
// resumes at previousRank + countOfTiedEntries.
func CompetitionRanks(entries []models.LeaderboardEntry) {
	for i := range entries {
		if i > 0 && entries[i].Points == entries[i-1].Points {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}

// FilterByName keeps entries whose display name contains the query,
// case-insensitively. Ranks assigned before filtering are preserved so the
// result reflects each user's standing in the full population.
func FilterByName(entries []models.LeaderboardEntry, query string) []models.LeaderboardEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return entries
	}
	matched := make([]models.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.DisplayName), q) {
			matched = append(matched, e)
		}
	}
	return matched
}

// CurrentWeekWindow returns the running UTC week [monday, nextMonday), the
// default leaderboard window.
func CurrentWeekWindow(now time.Time) (start, end time.Time) {
	utc := now.UTC()
	daysSinceMonday := (int(utc.Weekday()) - int(time.Monday) + 7) % 7
	monday := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -daysSinceMonday)
	return monday, monday.AddDate(0, 0, 7)
}
