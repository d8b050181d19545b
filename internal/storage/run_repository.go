package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"refiner/internal/models"
	"refiner/internal/stats"
)

// RunRepository は実行履歴のデータアクセス層
type RunRepository struct {
	db *DB
}

// NewRunRepository は新しいRunRepositoryを作成
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create は新しい実行レコードを作成
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, start_id, end_id, batch_size, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Mode, run.StartID, run.EndID, run.BatchSize, run.Status, run.StartedAt)
	return err
}

// Complete は最終統計を書き込み、実行を完了状態にする
func (r *RunRepository) Complete(ctx context.Context, id string, snap stats.Snapshot) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, total = ?, already_refined = ?, processed = ?,
		    success = ?, failed = ?, completed_at = ?
		WHERE id = ?`,
		models.RunStatusCompleted, snap.Total, snap.AlreadyRefined,
		snap.Processed, snap.Success, snap.Failed, now, id)
	return err
}

// GetByID はIDで実行レコードを取得
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	row := r.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRecent は最近の実行一覧を取得
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]models.Run, error) {
	if limit == 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, selectRuns+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

const selectRuns = `
	SELECT id, mode, start_id, end_id, batch_size, status,
	       total, already_refined, processed, success, failed,
	       started_at, completed_at
	FROM runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var completedAt sql.NullTime
	err := row.Scan(&run.ID, &run.Mode, &run.StartID, &run.EndID, &run.BatchSize,
		&run.Status, &run.Total, &run.AlreadyRefined, &run.Processed,
		&run.Success, &run.Failed, &run.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}
