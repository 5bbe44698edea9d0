package store

import "context"

// JobRunStore records one row per periodic job execution. The unique
// (name, period_key) pair makes re-runs of the same period visible before any
// side effect happens, which is what keeps the daily rollup idempotent.
type JobRunStore struct {
	db DB
}

type jobRunRow struct {
	ID         string `db:"id"`
	Name       string `db:"name"`
	PeriodKey  string `db:"period_key"`
	Status     string `db:"status"`
	Detail     string `db:"detail"`
	StartedAt  any    `db:"started_at"`
	FinishedAt any    `db:"finished_at"`
}

func NewJobRunStore(db DB) *JobRunStore {
	return &JobRunStore{db: db}
}

// Begin claims the (name, period_key) slot. Returns false when another run
// already claimed it; the caller must then skip the period entirely.
func (s *JobRunStore) Begin(ctx context.Context, id, name, periodKey string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, name, period_key, status, detail)
		VALUES ($1, $2, $3, 'running', '')
		ON CONFLICT (name, period_key) DO NOTHING
	`, id, name, periodKey)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *JobRunStore) Finish(ctx context.Context, id, status, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_runs
		SET status = $1, detail = $2, finished_at = NOW()
		WHERE id = $3
	`, status, detail, id)
	return err
}

func (s *JobRunStore) List(ctx context.Context, limit, offset int) ([]map[string]any, error) {
	var rows []jobRunRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, period_key, status, detail, started_at, finished_at
		FROM job_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	runs := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, map[string]any{
			"id":          row.ID,
			"name":        row.Name,
			"period_key":  row.PeriodKey,
			"status":      row.Status,
			"detail":      row.Detail,
			"started_at":  row.StartedAt,
			"finished_at": row.FinishedAt,
		})
	}
	return runs, nil
}
