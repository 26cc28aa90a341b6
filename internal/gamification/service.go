package gamification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/infrasight/backend/internal/models"
)

// ErrMissingAction means a command event arrived without an action UUID.
// Without one the idempotency contract cannot be honored.
var ErrMissingAction = errors.New("action uuid is required")

// Storage is the slice of the store the service depends on.
type Storage interface {
	GetOrCreateUserScore(ctx context.Context, userID string) (*models.UserScore, error)
	SaveUserScore(ctx context.Context, u *models.UserScore) error
	AllUserScores(ctx context.Context) ([]models.UserScore, error)

	ExistsByActionUUID(ctx context.Context, actionUUID string) (bool, error)
	AppendPointLog(ctx context.Context, entry *models.PointLog) error
	LatestLog(ctx context.Context, userID string) (*models.PointLog, error)
	FindLogsByUserAndWindow(ctx context.Context, userID string, start, end time.Time) ([]models.PointLog, error)

	WindowTotals(ctx context.Context, start, end time.Time, department string, limit, offset int) ([]models.LeaderboardEntry, error)
	AllWindowTotals(ctx context.Context, start, end time.Time, department string) ([]models.LeaderboardEntry, error)
	CountWindowUsers(ctx context.Context, start, end time.Time, department string) (int64, error)
}

var _ Storage = (*Store)(nil)

// Service applies events to user state: idempotency gate, pure scoring and
// streak transforms, badge evaluation, then the log append and state save.
type Service struct {
	store  Storage
	config *ConfigService
	locks  *userLocks
	now    func() time.Time
}

func NewService(store Storage, config *ConfigService) *Service {
	return &Service{
		store:  store,
		config: config,
		locks:  newUserLocks(),
		now:    time.Now,
	}
}

// loginCommandType marks login rows in the point log.
const loginCommandType = "meta.login"

// LoginActionID derives the deterministic action identifier for a login, so
// repeated logins within one UTC day collapse to a single award.
func LoginActionID(userID string, t time.Time) string {
	return fmt.Sprintf("login:%s:%s", userID, t.UTC().Format("2006-01-02"))
}

// loadUserState returns the user's state, repaired from the point log if a
// previous state save failed after its log append. The log is the commit
// point, so on divergence the latest log row wins. Must be called with the
// user's lock held.
func (s *Service) loadUserState(ctx context.Context, userID string) (*models.UserScore, error) {
	user, err := s.store.GetOrCreateUserScore(ctx, userID)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.LatestLog(ctx, userID)
	if err != nil {
		return nil, err
	}
	if latest == nil || (latest.TotalPoints == user.TotalPoints && latest.StreakDays == user.StreakDays) {
		return user, nil
	}

	repairFromLog(user, latest)
	if err := s.store.SaveUserScore(ctx, user); err != nil {
		return nil, fmt.Errorf("repair user state from log %s: %w", latest.ActionUUID, err)
	}
	log.Printf("[gamification] repaired user %s state from log %s", userID, latest.ActionUUID)
	return user, nil
}

// repairFromLog replays the one log row the failed save lost. Running totals
// and streak come straight from the row's snapshot; the event counters it
// implies are re-applied.
func repairFromLog(user *models.UserScore, entry *models.PointLog) {
	if entry.CommandType != loginCommandType {
		user.TotalCommands++
		if entry.Environment == "prod" {
			user.ProdCommands++
		}
		for _, srv := range entry.Servers {
			if !user.HasServer(srv) {
				user.UniqueServers = append(user.UniqueServers, srv)
			}
		}
	}
	for _, code := range entry.NewBadges {
		if !user.HasBadge(code) {
			user.Badges = append(user.Badges, code)
		}
	}
	user.TotalPoints = entry.TotalPoints
	user.StreakDays = entry.StreakDays
	day := utcDate(entry.Timestamp)
	user.LastActivity = &day
}

// ApplyLogin awards the login points (plus welcome-back bonus when the gap
// qualifies), updates the daily streak, and evaluates badges. Duplicate
// logins on the same day are no-ops.
func (s *Service) ApplyLogin(ctx context.Context, userID string) (*models.PointsResponse, error) {
	now := s.now().UTC()
	actionID := LoginActionID(userID, now)

	unlock := s.locks.lock(userID)
	defer unlock()

	applied, err := s.store.ExistsByActionUUID(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if applied {
		log.Printf("[gamification] duplicate login action %s", actionID)
		return s.currentState(ctx, userID)
	}

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return nil, err
	}
	user, err := s.loadUserState(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Delta and streak both read the pre-update last-activity value.
	delta := LoginDelta(user.LastActivity, now, cfg)
	streak := UpdateStreak(user.LastActivity, now, user.StreakDays)

	today := utcDate(now)
	user.TotalPoints += delta
	user.StreakDays = streak
	user.LastActivity = &today

	newBadges := s.applyNewBadges(user, cfg, &delta)

	entry := &models.PointLog{
		UserID:      userID,
		ActionUUID:  actionID,
		CommandType: loginCommandType,
		PointsDelta: delta,
		TotalPoints: user.TotalPoints,
		StreakDays:  user.StreakDays,
		Timestamp:   now,
		NewBadges:   newBadges,
	}
	return s.commit(ctx, user, entry, delta, newBadges)
}

// ApplyCommand scores one command event and applies it to the user's state.
// A previously seen action UUID returns the current state with delta 0.
func (s *Service) ApplyCommand(ctx context.Context, req models.PointsRequest, userID string) (*models.PointsResponse, error) {
	if req.ActionUUID == "" {
		return nil, ErrMissingAction
	}
	now := s.now().UTC()

	unlock := s.locks.lock(userID)
	defer unlock()

	applied, err := s.store.ExistsByActionUUID(ctx, req.ActionUUID)
	if err != nil {
		return nil, err
	}
	if applied {
		log.Printf("[gamification] duplicate action %s", req.ActionUUID)
		return s.currentState(ctx, userID)
	}

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return nil, err
	}
	user, err := s.loadUserState(ctx, userID)
	if err != nil {
		return nil, err
	}

	// The delta uses the streak as it stood before this event.
	delta := CommandDelta(req, user.StreakDays, cfg)

	streak := UpdateStreak(user.LastActivity, now, user.StreakDays)
	today := utcDate(now)

	user.TotalPoints += delta
	user.TotalCommands++
	if req.Environment == "prod" {
		user.ProdCommands++
	}
	for _, srv := range req.Servers {
		if !user.HasServer(srv) {
			user.UniqueServers = append(user.UniqueServers, srv)
		}
	}
	user.StreakDays = streak
	user.LastActivity = &today

	// Badges must see the post-event counters.
	newBadges := s.applyNewBadges(user, cfg, &delta)

	entry := &models.PointLog{
		UserID:      userID,
		ActionUUID:  req.ActionUUID,
		CommandType: req.Event,
		Environment: req.Environment,
		Servers:     req.Servers,
		PointsDelta: delta,
		TotalPoints: user.TotalPoints,
		StreakDays:  user.StreakDays,
		Timestamp:   now,
		NewBadges:   newBadges,
	}
	return s.commit(ctx, user, entry, delta, newBadges)
}

// applyNewBadges evaluates badge rules against the updated counters, adds
// earned codes and their bonuses to the user, and folds the bonuses into the
// event delta.
func (s *Service) applyNewBadges(user *models.UserScore, cfg *ConfigSnapshot, delta *int) []string {
	newBadges := EvaluateBadges(user, cfg.Badges)
	if len(newBadges) == 0 {
		return []string{}
	}
	bonus := BadgeBonus(newBadges, cfg)
	*delta += bonus
	user.TotalPoints += bonus
	user.Badges = append(user.Badges, newBadges...)
	return newBadges
}

// commit writes the log entry first, then the user state. The log append is
// the commit point: if the state save fails the totals remain reconstructible
// from the log and the caller retries.
func (s *Service) commit(ctx context.Context, user *models.UserScore, entry *models.PointLog, delta int, newBadges []string) (*models.PointsResponse, error) {
	if err := s.store.AppendPointLog(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateAction) {
			// A concurrent retry won the race; nothing was double-awarded.
			log.Printf("[gamification] lost append race for action %s", entry.ActionUUID)
			return s.currentState(ctx, user.UserID)
		}
		return nil, err
	}
	if err := s.store.SaveUserScore(ctx, user); err != nil {
		return nil, fmt.Errorf("save user state after log %s: %w", entry.ActionUUID, err)
	}
	return &models.PointsResponse{
		Delta:       delta,
		TotalPoints: user.TotalPoints,
		StreakDays:  user.StreakDays,
		NewBadges:   newBadges,
	}, nil
}

func (s *Service) currentState(ctx context.Context, userID string) (*models.PointsResponse, error) {
	user, err := s.loadUserState(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.PointsResponse{
		Delta:       0,
		TotalPoints: user.TotalPoints,
		StreakDays:  user.StreakDays,
		NewBadges:   []string{},
	}, nil
}

// ── Read Side ───────────────────────────────────────────

func (s *Service) GetUserMe(ctx context.Context, userID string) (*models.UserMeResponse, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	user, err := s.loadUserState(ctx, userID)
	if err != nil {
		return nil, err
	}
	badges := user.Badges
	if badges == nil {
		badges = []string{}
	}
	return &models.UserMeResponse{
		TotalPoints:   user.TotalPoints,
		StreakDays:    user.StreakDays,
		WeeklyStreak:  user.WeeklyStreak,
		UniqueServers: len(user.UniqueServers),
		TotalCommands: user.TotalCommands,
		Badges:        badges,
	}, nil
}

// GetLeaderboard returns one page of windowed standings over [start, end).
// The department filter narrows the population before ranking and pagination,
// and the total count covers the same filtered population.
func (s *Service) GetLeaderboard(ctx context.Context, start, end time.Time, page, pageSize int, department string) (*models.LeaderboardResponse, error) {
	if page < 0 {
		page = 0
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	offset := page * pageSize
	entries, err := s.store.WindowTotals(ctx, start, end, department, pageSize, offset)
	if err != nil {
		return nil, err
	}
	AssignRanks(entries, offset)

	total, err := s.store.CountWindowUsers(ctx, start, end, department)
	if err != nil {
		return nil, err
	}

	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	return &models.LeaderboardResponse{
		WindowStart: start,
		WindowEnd:   end,
		Page:        page,
		PageSize:    pageSize,
		TotalUsers:  total,
		Entries:     entries,
	}, nil
}

// SearchRanks returns the windowed standings of users whose display name
// matches the query, with competition-style ranks: ties share a rank, and
// each user's rank reflects the full filtered population, not the matches.
func (s *Service) SearchRanks(ctx context.Context, query string, start, end time.Time, department string) ([]models.LeaderboardEntry, error) {
	all, err := s.store.AllWindowTotals(ctx, start, end, department)
	if err != nil {
		return nil, err
	}
	CompetitionRanks(all)
	matched := FilterByName(all, query)
	if matched == nil {
		matched = []models.LeaderboardEntry{}
	}
	return matched, nil
}

// ListBadges returns the badge catalog from the active configuration.
func (s *Service) ListBadges(ctx context.Context) ([]models.BadgeInfo, error) {
	cfg, err := s.config.Get(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]models.BadgeInfo, 0, len(cfg.Badges))
	for _, def := range cfg.Badges {
		infos = append(infos, models.BadgeInfo{
			Code:        def.Code,
			Name:        def.Name,
			Description: def.Description,
			Bonus:       def.Bonus,
		})
	}
	return infos, nil
}

// ReloadConfig refreshes the cached scoring configuration from storage.
func (s *Service) ReloadConfig(ctx context.Context) error {
	_, err := s.config.Reload(ctx)
	return err
}
