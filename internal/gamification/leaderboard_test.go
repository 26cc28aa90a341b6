package gamification

import (
	"testing"
	"time"

	"github.com/infrasight/backend/internal/models"
)

func entriesWithPoints(points ...int) []models.LeaderboardEntry {
	out := make([]models.LeaderboardEntry, len(points))
	for i, p := range points {
		out[i] = models.LeaderboardEntry{UserID: string(rune('a' + i)), Points: p}
	}
	return out
}

func TestAssignRanks(t *testing.T) {
	entries := entriesWithPoints(300, 200, 100)

	AssignRanks(entries, 0)
	for i, want := range []int{1, 2, 3} {
		if entries[i].Rank != want {
			t.Errorf("entry %d rank = %d, want %d", i, entries[i].Rank, want)
		}
	}
}

func TestAssignRanksWithOffset(t *testing.T) {
	// The second page of a 20-per-page leaderboard starts at rank 21.
	entries := entriesWithPoints(90, 80, 70)

	AssignRanks(entries, 20)
	for i, want := range []int{21, 22, 23} {
		if entries[i].Rank != want {
			t.Errorf("entry %d rank = %d, want %d", i, entries[i].Rank, want)
		}
	}
}

func TestCompetitionRanks(t *testing.T) {
	// Ties share a rank and the next distinct value resumes at the position
	// it would have without ties: 1, 2, 2, 4, 5, 5, 5, 8.
	entries := entriesWithPoints(500, 400, 400, 300, 200, 200, 200, 100)

	CompetitionRanks(entries)
	want := []int{1, 2, 2, 4, 5, 5, 5, 8}
	for i := range entries {
		if entries[i].Rank != want[i] {
			t.Errorf("entry %d rank = %d, want %d", i, entries[i].Rank, want[i])
		}
	}
}

func TestFilterByName(t *testing.T) {
	entries := []models.LeaderboardEntry{
		{DisplayName: "Alice K.", Rank: 1},
		{DisplayName: "Bob M.", Rank: 2},
		{DisplayName: "Alicia R.", Rank: 3},
	}

	got := FilterByName(entries, "ali")
	if len(got) != 2 {
		t.Fatalf("FilterByName returned %d entries, want 2", len(got))
	}
	// Ranks from the full population survive filtering.
	if got[0].Rank != 1 || got[1].Rank != 3 {
		t.Errorf("ranks = %d, %d, want 1, 3", got[0].Rank, got[1].Rank)
	}
}

func TestFilterByNameEmptyQuery(t *testing.T) {
	entries := entriesWithPoints(100, 50)
	if got := FilterByName(entries, "  "); len(got) != 2 {
		t.Errorf("blank query returned %d entries, want all 2", len(got))
	}
}

func TestFilterByNameNoMatch(t *testing.T) {
	entries := []models.LeaderboardEntry{{DisplayName: "Alice K."}}
	if got := FilterByName(entries, "zzz"); len(got) != 0 {
		t.Errorf("FilterByName = %v, want empty", got)
	}
}

func TestCurrentWeekWindow(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		wantStart time.Time
	}{
		{
			"midweek",
			time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC), // Wednesday
			time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		},
		{
			"monday stays in its own week",
			time.Date(2026, 3, 9, 0, 0, 1, 0, time.UTC),
			time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		},
		{
			"sunday is the last day of the week",
			time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC),
			time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := CurrentWeekWindow(tt.now)
			if !start.Equal(tt.wantStart) {
				t.Errorf("start = %v, want %v", start, tt.wantStart)
			}
			if !end.Equal(tt.wantStart.AddDate(0, 0, 7)) {
				t.Errorf("end = %v, want %v", end, tt.wantStart.AddDate(0, 0, 7))
			}
		})
	}
}
