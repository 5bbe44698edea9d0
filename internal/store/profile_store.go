package store

import (
	"context"
	"database/sql"
	"time"
)

// ProfileStore owns engagement_profiles and bonus_grants. Only the scoring
// subsystem writes profiles; everyone else reads.
type ProfileStore struct {
	db DB
}

func NewProfileStore(db DB) *ProfileStore {
	return &ProfileStore{db: db}
}

type ProfileRow struct {
	AccountID        string     `db:"account_id"`
	CuriosityScore   float64    `db:"curiosity_score"`
	ConsistencyScore float64    `db:"consistency_score"`
	DepthScore       float64    `db:"depth_score"`
	DependencyScore  float64    `db:"dependency_score"`
	StreakDays       int        `db:"streak_days"`
	BestHours        string     `db:"best_hours"`
	TradingStyle     string     `db:"trading_style"`
	FomoScore        float64    `db:"fomo_score"`
	LastActiveDay    *time.Time `db:"last_active_day"`
	LastActiveAt     *time.Time `db:"last_active_at"`
	UpdatedAt        any        `db:"updated_at"`
}

func (s *ProfileStore) Init(ctx context.Context, tx Execer, accountID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO engagement_profiles (account_id, best_hours, trading_style)
		VALUES ($1, '[]', 'observer')
		ON CONFLICT (account_id) DO NOTHING
	`, accountID)
	return err
}

func (s *ProfileStore) Get(ctx context.Context, accountID string) (ProfileRow, error) {
	var row ProfileRow
	err := s.db.GetContext(ctx, &row, `
		SELECT account_id, curiosity_score, consistency_score, depth_score, dependency_score,
		       streak_days, best_hours, trading_style, fomo_score,
		       last_active_day, last_active_at, updated_at
		FROM engagement_profiles
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return ProfileRow{}, err
	}
	return row, nil
}

func (s *ProfileStore) GetForUpdate(ctx context.Context, tx Getter, accountID string) (ProfileRow, error) {
	var row ProfileRow
	err := tx.GetContext(ctx, &row, `
		SELECT account_id, curiosity_score, consistency_score, depth_score, dependency_score,
		       streak_days, best_hours, trading_style, fomo_score,
		       last_active_day, last_active_at, updated_at
		FROM engagement_profiles
		WHERE account_id = $1
		FOR UPDATE
	`, accountID)
	if err != nil {
		return ProfileRow{}, err
	}
	return row, nil
}

type ProfileScores struct {
	CuriosityScore   float64
	ConsistencyScore float64
	DepthScore       float64
	DependencyScore  float64
	BestHours        string
	TradingStyle     string
	FomoScore        float64
}

func (s *ProfileStore) UpdateScores(ctx context.Context, tx Execer, accountID string, scores ProfileScores) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE engagement_profiles
		SET curiosity_score = $1,
		    consistency_score = $2,
		    depth_score = $3,
		    dependency_score = $4,
		    best_hours = $5,
		    trading_style = $6,
		    fomo_score = $7,
		    updated_at = NOW()
		WHERE account_id = $8
	`, scores.CuriosityScore, scores.ConsistencyScore, scores.DepthScore, scores.DependencyScore,
		scores.BestHours, scores.TradingStyle, scores.FomoScore, accountID)
	return err
}

func (s *ProfileStore) UpdateActivity(ctx context.Context, tx Execer, accountID string, streakDays int, day, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE engagement_profiles
		SET streak_days = $1,
		    last_active_day = $2,
		    last_active_at = $3,
		    updated_at = NOW()
		WHERE account_id = $4
	`, streakDays, day, at, accountID)
	return err
}

// InsertGrant records a one-time grant. Returns false when the key was
// already granted, which is how achievement idempotence is enforced.
func (s *ProfileStore) InsertGrant(ctx context.Context, tx Execer, accountID, key string, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO bonus_grants (account_id, bonus_key, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, bonus_key) DO NOTHING
	`, accountID, key, at)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *ProfileStore) GetGrant(ctx context.Context, tx Getter, accountID, key string) (time.Time, bool, error) {
	var grantedAt time.Time
	err := tx.GetContext(ctx, &grantedAt, `
		SELECT granted_at
		FROM bonus_grants
		WHERE account_id = $1 AND bonus_key = $2
	`, accountID, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return grantedAt, true, nil
}

// TouchGrant refreshes the grant timestamp for cooldown-gated bonuses.
func (s *ProfileStore) TouchGrant(ctx context.Context, tx Execer, accountID, key string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bonus_grants (account_id, bonus_key, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, bonus_key) DO UPDATE SET granted_at = EXCLUDED.granted_at
	`, accountID, key, at)
	return err
}

func (s *ProfileStore) ListGrantKeys(ctx context.Context, accountID string) ([]string, error) {
	var keys []string
	err := s.db.SelectContext(ctx, &keys, `
		SELECT bonus_key
		FROM bonus_grants
		WHERE account_id = $1
		ORDER BY granted_at
	`, accountID)
	if err != nil {
		return nil, err
	}
	return keys, nil
}
