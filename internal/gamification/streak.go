package gamification

import (
	"time"

	"github.com/infrasight/backend/internal/models"
)

// WeeklyStreakMinDays is how many distinct local-calendar active days a week
// needs to count toward the weekly streak.
const WeeklyStreakMinDays = 5

// UpdateStreak applies the daily streak rule. It must be called with the
// pre-update last-activity value:
//
//	no prior activity      -> 1
//	same calendar day      -> unchanged
//	exactly one day later  -> +1
//	gap of two or more days -> 1
func UpdateStreak(lastActivity *time.Time, today time.Time, currentStreak int) int {
	if lastActivity == nil {
		return 1
	}
	switch DaysBetween(*lastActivity, today) {
	case 0:
		return currentStreak
	case 1:
		return currentStreak + 1
	default:
		return 1
	}
}

// NextWeeklyStreak applies the weekly rule: a week with enough active days
// extends the streak, anything less resets it.
func NextWeeklyStreak(current, activeDays int) int {
	if activeDays >= WeeklyStreakMinDays {
		return current + 1
	}
	return 0
}

// DaysBetween counts whole calendar days from a to b, both taken as UTC dates.
func DaysBetween(a, b time.Time) int {
	return int(utcDate(b).Sub(utcDate(a)).Hours() / 24)
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PreviousLocalWeek returns the user-local previous calendar week
// [prevMonday, thisMonday) as UTC instants.
func PreviousLocalWeek(now time.Time, loc *time.Location) (start, end time.Time) {
	local := now.In(loc)
	daysSinceMonday := (int(local.Weekday()) - int(time.Monday) + 7) % 7
	thisMonday := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).
		AddDate(0, 0, -daysSinceMonday)
	prevMonday := thisMonday.AddDate(0, 0, -7)
	return prevMonday.UTC(), thisMonday.UTC()
}

// DistinctLocalDays counts the distinct local-calendar days, in the given
// timezone, on which at least one log entry falls.
func DistinctLocalDays(logs []models.PointLog, loc *time.Location) int {
	days := make(map[string]struct{}, len(logs))
	for _, l := range logs {
		days[l.Timestamp.In(loc).Format("2006-01-02")] = struct{}{}
	}
	return len(days)
}
