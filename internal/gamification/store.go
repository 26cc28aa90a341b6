package gamification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/infrasight/backend/internal/models"
)

// ErrDuplicateAction is returned when a point-log append hits the action
// UUID uniqueness constraint. Not a failure: the event was already applied.
var ErrDuplicateAction = errors.New("action already applied")

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ── User Score ──────────────────────────────────────────

// GetOrCreateUserScore returns the user's gamification record, creating a
// zeroed one on first access. The timezone is copied from the users table
// when the user is known.
func (s *Store) GetOrCreateUserScore(ctx context.Context, userID string) (*models.UserScore, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_gamify (user_id, timezone)
		 VALUES ($1, COALESCE((SELECT timezone FROM users WHERE id = $1), 'UTC'))
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user score: %w", err)
	}

	var u models.UserScore
	var lastActivity sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT user_id, total_points, streak_days, weekly_streak, last_activity,
		        unique_servers, total_commands, prod_commands, badges, timezone,
		        created_at, updated_at
		 FROM user_gamify WHERE user_id = $1`,
		userID,
	).Scan(&u.UserID, &u.TotalPoints, &u.StreakDays, &u.WeeklyStreak, &lastActivity,
		pq.Array(&u.UniqueServers), &u.TotalCommands, &u.ProdCommands,
		pq.Array(&u.Badges), &u.Timezone, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get user score: %w", err)
	}
	if lastActivity.Valid {
		t := lastActivity.Time
		u.LastActivity = &t
	}
	return &u, nil
}

func (s *Store) SaveUserScore(ctx context.Context, u *models.UserScore) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_gamify SET
		    total_points = $2, streak_days = $3, weekly_streak = $4,
		    last_activity = $5, unique_servers = $6, total_commands = $7,
		    prod_commands = $8, badges = $9, timezone = $10, updated_at = NOW()
		 WHERE user_id = $1`,
		u.UserID, u.TotalPoints, u.StreakDays, u.WeeklyStreak,
		u.LastActivity, pq.Array(u.UniqueServers), u.TotalCommands,
		u.ProdCommands, pq.Array(u.Badges), u.Timezone,
	)
	if err != nil {
		return fmt.Errorf("save user score: %w", err)
	}
	return nil
}

func (s *Store) AllUserScores(ctx context.Context) ([]models.UserScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, total_points, streak_days, weekly_streak, last_activity,
		        unique_servers, total_commands, prod_commands, badges, timezone,
		        created_at, updated_at
		 FROM user_gamify ORDER BY user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list user scores: %w", err)
	}
	defer rows.Close()

	var users []models.UserScore
	for rows.Next() {
		var u models.UserScore
		var lastActivity sql.NullTime
		if err := rows.Scan(&u.UserID, &u.TotalPoints, &u.StreakDays, &u.WeeklyStreak,
			&lastActivity, pq.Array(&u.UniqueServers), &u.TotalCommands, &u.ProdCommands,
			pq.Array(&u.Badges), &u.Timezone, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user score: %w", err)
		}
		if lastActivity.Valid {
			t := lastActivity.Time
			u.LastActivity = &t
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ── Point Log ───────────────────────────────────────────

func (s *Store) ExistsByActionUUID(ctx context.Context, actionUUID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM points_log WHERE action_uuid = $1)`,
		actionUUID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check action uuid: %w", err)
	}
	return exists, nil
}

// AppendPointLog writes one immutable log row. A concurrent retry of the
// same action surfaces as ErrDuplicateAction via the unique index.
func (s *Store) AppendPointLog(ctx context.Context, entry *models.PointLog) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO points_log
		    (user_id, action_uuid, command_type, environment, servers,
		     points_delta, total_points, streak_days, ts, new_badges)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		entry.UserID, entry.ActionUUID, entry.CommandType, entry.Environment,
		pq.Array(entry.Servers), entry.PointsDelta, entry.TotalPoints,
		entry.StreakDays, entry.Timestamp, pq.Array(entry.NewBadges),
	).Scan(&entry.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateAction
		}
		return fmt.Errorf("append point log: %w", err)
	}
	return nil
}

// LatestLog returns the user's most recent point-log row, or nil when the
// user has no log history yet.
func (s *Store) LatestLog(ctx context.Context, userID string) (*models.PointLog, error) {
	var l models.PointLog
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, action_uuid, command_type, COALESCE(environment, ''),
		        servers, points_delta, total_points, streak_days, ts, new_badges
		 FROM points_log
		 WHERE user_id = $1
		 ORDER BY id DESC
		 LIMIT 1`,
		userID,
	).Scan(&l.ID, &l.UserID, &l.ActionUUID, &l.CommandType, &l.Environment,
		pq.Array(&l.Servers), &l.PointsDelta, &l.TotalPoints, &l.StreakDays,
		&l.Timestamp, pq.Array(&l.NewBadges))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest log: %w", err)
	}
	return &l, nil
}

func (s *Store) FindLogsByUserAndWindow(ctx context.Context, userID string, start, end time.Time) ([]models.PointLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, action_uuid, command_type, COALESCE(environment, ''),
		        servers, points_delta, total_points, streak_days, ts, new_badges
		 FROM points_log
		 WHERE user_id = $1 AND ts >= $2 AND ts < $3
		 ORDER BY ts`,
		userID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("find logs by user: %w", err)
	}
	defer rows.Close()
	return scanPointLogs(rows)
}

func scanPointLogs(rows *sql.Rows) ([]models.PointLog, error) {
	var logs []models.PointLog
	for rows.Next() {
		var l models.PointLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.ActionUUID, &l.CommandType,
			&l.Environment, pq.Array(&l.Servers), &l.PointsDelta, &l.TotalPoints,
			&l.StreakDays, &l.Timestamp, pq.Array(&l.NewBadges)); err != nil {
			return nil, fmt.Errorf("scan point log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ── Leaderboard ─────────────────────────────────────────

const windowTotalsSelect = `
	SELECT l.user_id, COALESCE(u.name, l.user_id), COALESCE(u.department, ''),
	       SUM(l.points_delta) AS pts,
	       COALESCE(cardinality(g.badges), 0)
	FROM points_log l
	LEFT JOIN users u ON u.id = l.user_id
	LEFT JOIN user_gamify g ON g.user_id = l.user_id
	WHERE l.ts >= $1 AND l.ts < $2`

const windowTotalsOrder = `
	GROUP BY l.user_id, u.name, u.department, g.badges
	ORDER BY pts DESC, l.user_id ASC`

// WindowTotals returns one page of per-user point sums over [start, end),
// sorted by windowed points descending with user id as the stable tie key.
// The department filter applies before pagination.
func (s *Store) WindowTotals(ctx context.Context, start, end time.Time, department string, limit, offset int) ([]models.LeaderboardEntry, error) {
	var rows *sql.Rows
	var err error
	if department == "" {
		rows, err = s.db.QueryContext(ctx,
			windowTotalsSelect+windowTotalsOrder+` LIMIT $3 OFFSET $4`,
			start, end, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx,
			windowTotalsSelect+` AND u.department = $3`+windowTotalsOrder+` LIMIT $4 OFFSET $5`,
			start, end, department, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("window totals: %w", err)
	}
	defer rows.Close()
	return scanWindowTotals(rows)
}

// AllWindowTotals returns the full filtered sequence, for ranking variants
// that need the whole population (competition ranks for name search).
func (s *Store) AllWindowTotals(ctx context.Context, start, end time.Time, department string) ([]models.LeaderboardEntry, error) {
	var rows *sql.Rows
	var err error
	if department == "" {
		rows, err = s.db.QueryContext(ctx, windowTotalsSelect+windowTotalsOrder, start, end)
	} else {
		rows, err = s.db.QueryContext(ctx,
			windowTotalsSelect+` AND u.department = $3`+windowTotalsOrder,
			start, end, department)
	}
	if err != nil {
		return nil, fmt.Errorf("all window totals: %w", err)
	}
	defer rows.Close()
	return scanWindowTotals(rows)
}

func scanWindowTotals(rows *sql.Rows) ([]models.LeaderboardEntry, error) {
	var entries []models.LeaderboardEntry
	for rows.Next() {
		var e models.LeaderboardEntry
		var fullName string
		if err := rows.Scan(&e.UserID, &fullName, &e.Department, &e.Points, &e.BadgeCount); err != nil {
			return nil, fmt.Errorf("scan window total: %w", err)
		}
		e.DisplayName = models.User{Name: fullName}.DisplayName()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountWindowUsers counts distinct users with log activity in the window,
// over the same filtered population used for pagination.
func (s *Store) CountWindowUsers(ctx context.Context, start, end time.Time, department string) (int64, error) {
	var count int64
	var err error
	if department == "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(DISTINCT l.user_id)
			 FROM points_log l
			 WHERE l.ts >= $1 AND l.ts < $2`,
			start, end,
		).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(DISTINCT l.user_id)
			 FROM points_log l
			 JOIN users u ON u.id = l.user_id
			 WHERE l.ts >= $1 AND l.ts < $2 AND u.department = $3`,
			start, end, department,
		).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count window users: %w", err)
	}
	return count, nil
}

// ── Raw Events ──────────────────────────────────────────

func (s *Store) InsertRawEvent(ctx context.Context, ev *models.RawEvent) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO raw_events (action_uuid, user_id, event, environment, servers, parameters)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		ev.ActionUUID, ev.UserID, ev.Event, ev.Environment,
		pq.Array(ev.Servers), pq.Array(ev.Parameters),
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateAction
		}
		return fmt.Errorf("insert raw event: %w", err)
	}
	return nil
}

// FindRawEventsBefore returns all unprocessed events created before the
// cutoff, in arrival order.
func (s *Store) FindRawEventsBefore(ctx context.Context, cutoff time.Time) ([]models.RawEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action_uuid, user_id, event, COALESCE(environment, ''),
		        servers, parameters, created_at
		 FROM raw_events
		 WHERE created_at < $1
		 ORDER BY created_at, id`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("find raw events: %w", err)
	}
	defer rows.Close()

	var events []models.RawEvent
	for rows.Next() {
		var ev models.RawEvent
		if err := rows.Scan(&ev.ID, &ev.ActionUUID, &ev.UserID, &ev.Event,
			&ev.Environment, pq.Array(&ev.Servers), pq.Array(&ev.Parameters),
			&ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan raw event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) DeleteRawEvents(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM raw_events WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("delete raw events: %w", err)
	}
	return nil
}

// ── Config ──────────────────────────────────────────────

func (s *Store) LoadConfig(ctx context.Context, id string) (*ConfigSnapshot, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM gamify_config WHERE id = $1`,
		id,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrConfigMissing
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	var cfg ConfigSnapshot
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ID = id
	return &cfg, nil
}

func (s *Store) SaveConfig(ctx context.Context, cfg *ConfigSnapshot) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO gamify_config (id, doc) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET doc = $2, updated_at = NOW()`,
		cfg.ID, doc,
	)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}
