package gamification

import (
	"context"
	"log"
	"time"

	"github.com/infrasight/backend/internal/models"
)

// EventSource is the backlog of raw, not-yet-scored events.
type EventSource interface {
	FindRawEventsBefore(ctx context.Context, cutoff time.Time) ([]models.RawEvent, error)
	DeleteRawEvents(ctx context.Context, ids []int64) error
}

// Runner drives the two scheduled duties: the nightly backlog drain and the
// weekly, timezone-aware streak recomputation.
type Runner struct {
	service *Service
	events  EventSource
	store   Storage
	now     func() time.Time
}

func NewRunner(service *Service, events EventSource, store Storage) *Runner {
	return &Runner{
		service: service,
		events:  events,
		store:   store,
		now:     time.Now,
	}
}

// RunDailyBatch drains every raw event created before today's UTC midnight
// through the engine, one user at a time in arrival order. A failing event is
// counted and skipped; the user's earlier events stay committed. Drained
// events are removed afterwards.
func (r *Runner) RunDailyBatch(ctx context.Context) (*models.BatchSummary, error) {
	midnight := utcDate(r.now())

	events, err := r.events.FindRawEventsBefore(ctx, midnight)
	if err != nil {
		return nil, err
	}

	byUser := make(map[string][]models.RawEvent)
	var userOrder []string
	for _, ev := range events {
		if _, seen := byUser[ev.UserID]; !seen {
			userOrder = append(userOrder, ev.UserID)
		}
		byUser[ev.UserID] = append(byUser[ev.UserID], ev)
	}

	summary := &models.BatchSummary{Processed: len(events), Users: len(userOrder)}
	drained := make([]int64, 0, len(events))
	for _, userID := range userOrder {
		for _, ev := range byUser[userID] {
			drained = append(drained, ev.ID)
			if _, err := r.service.ApplyCommand(ctx, toPointsRequest(ev), userID); err != nil {
				summary.Failed++
				log.Printf("[batch] failed to apply event %s for user %s: %v", ev.ActionUUID, userID, err)
				continue
			}
			summary.Succeeded++
		}
	}

	if err := r.events.DeleteRawEvents(ctx, drained); err != nil {
		return summary, err
	}
	log.Printf("[batch] daily drain: processed=%d succeeded=%d failed=%d users=%d",
		summary.Processed, summary.Succeeded, summary.Failed, summary.Users)
	return summary, nil
}

func toPointsRequest(ev models.RawEvent) models.PointsRequest {
	return models.PointsRequest{
		Event:       ev.Event,
		Environment: ev.Environment,
		Servers:     ev.Servers,
		Parameters:  ev.Parameters,
		ActionUUID:  ev.ActionUUID,
	}
}

// RunWeeklyStreakRecompute scores each user's previous local calendar week by
// its count of distinct local active days and extends or resets the weekly
// streak. Week boundaries come from each user's own timezone.
func (r *Runner) RunWeeklyStreakRecompute(ctx context.Context) error {
	users, err := r.store.AllUserScores(ctx)
	if err != nil {
		return err
	}

	now := r.now()
	for _, u := range users {
		loc := userLocation(u.Timezone)
		start, end := PreviousLocalWeek(now, loc)

		logs, err := r.store.FindLogsByUserAndWindow(ctx, u.UserID, start, end)
		if err != nil {
			log.Printf("[batch] weekly streak: fetch logs for user %s: %v", u.UserID, err)
			continue
		}
		activeDays := DistinctLocalDays(logs, loc)

		if err := r.updateWeeklyStreak(ctx, u.UserID, activeDays); err != nil {
			log.Printf("[batch] weekly streak: update user %s: %v", u.UserID, err)
		}
	}
	log.Printf("[batch] weekly streak recompute complete: %d users", len(users))
	return nil
}

// updateWeeklyStreak re-reads the user under the per-user lock so the write
// serializes with live event application.
func (r *Runner) updateWeeklyStreak(ctx context.Context, userID string, activeDays int) error {
	unlock := r.service.locks.lock(userID)
	defer unlock()

	user, err := r.service.store.GetOrCreateUserScore(ctx, userID)
	if err != nil {
		return err
	}
	next := NextWeeklyStreak(user.WeeklyStreak, activeDays)
	if next == user.WeeklyStreak {
		return nil
	}
	user.WeeklyStreak = next
	return r.service.store.SaveUserScore(ctx, user)
}

// ── Workers ─────────────────────────────────────────────

// StartDailyWorker runs the backlog drain once per UTC day, shortly after
// midnight.
func (r *Runner) StartDailyWorker(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	log.Println("[batch] daily drain worker started")
	for {
		select {
		case <-ctx.Done():
			log.Println("[batch] daily drain worker shutting down")
			return
		case t := <-ticker.C:
			if t.UTC().Hour() == 0 {
				if _, err := r.RunDailyBatch(ctx); err != nil {
					log.Printf("[batch] daily drain failed: %v", err)
				}
			}
		}
	}
}

// StartWeeklyWorker runs the streak recompute once per week, Monday 01:xx UTC.
func (r *Runner) StartWeeklyWorker(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	log.Println("[batch] weekly streak worker started")
	for {
		select {
		case <-ctx.Done():
			log.Println("[batch] weekly streak worker shutting down")
			return
		case t := <-ticker.C:
			utc := t.UTC()
			if utc.Weekday() == time.Monday && utc.Hour() == 1 {
				if err := r.RunWeeklyStreakRecompute(ctx); err != nil {
					log.Printf("[batch] weekly streak recompute failed: %v", err)
				}
			}
		}
	}
}

func userLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("[batch] unknown timezone %q, falling back to UTC", tz)
		return time.UTC
	}
	return loc
}
