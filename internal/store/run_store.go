package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vbonduro/tileconsole/internal/domain"
)

// RunStore persists the history of ingestion and import runs.
type RunStore struct {
	db *sql.DB
}

func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

func (s *RunStore) CreateIngestRun(ctx context.Context, run *domain.IngestRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ingest_runs (id, sku_code, sku_name, requested_by, committed, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.SkuCode, run.SkuName, run.RequestedBy, run.Committed, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ingest run: %w", err)
	}
	if err := insertStages(ctx, tx, run.ID, run.Stages); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ingest run: %w", err)
	}
	return nil
}

func (s *RunStore) GetIngestRun(ctx context.Context, id string) (*domain.IngestRun, error) {
	run := &domain.IngestRun{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku_code, sku_name, requested_by, committed, created_at
		FROM ingest_runs WHERE id = ?
	`, id).Scan(&run.ID, &run.SkuCode, &run.SkuName, &run.RequestedBy, &run.Committed, &run.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ingest run: %w", err)
	}

	run.Stages, err = s.stages(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListIngestRuns returns the most recent runs first. An empty skuCode lists
// every run.
func (s *RunStore) ListIngestRuns(ctx context.Context, skuCode string, limit int) ([]*domain.IngestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku_code, sku_name, requested_by, committed, created_at
		FROM ingest_runs
		WHERE ? = '' OR sku_code = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`, skuCode, skuCode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingest runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.IngestRun
	for rows.Next() {
		run := &domain.IngestRun{}
		if err := rows.Scan(&run.ID, &run.SkuCode, &run.SkuName, &run.RequestedBy, &run.Committed, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ingest run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ingest runs: %w", err)
	}

	for _, run := range runs {
		if run.Stages, err = s.stages(ctx, run.ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *RunStore) CreateImportRun(ctx context.Context, run *domain.ImportRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO import_runs (id, kind, batch, succeeded, failed, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, string(run.Kind), run.Batch, run.Succeeded, run.Failed, run.Message, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create import run: %w", err)
	}

	for i, f := range run.Files {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO import_files (run_id, position, file_name, big_url, thumb_url, error)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, i, f.FileName, f.BigURL, f.ThumbURL, f.Error)
		if err != nil {
			return fmt.Errorf("failed to create import file: %w", err)
		}
	}
	if err := insertStages(ctx, tx, run.ID, run.Stages); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import run: %w", err)
	}
	return nil
}

func (s *RunStore) GetImportRun(ctx context.Context, id string) (*domain.ImportRun, error) {
	run := &domain.ImportRun{}
	var kind string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, batch, succeeded, failed, message, created_at
		FROM import_runs WHERE id = ?
	`, id).Scan(&run.ID, &kind, &run.Batch, &run.Succeeded, &run.Failed, &run.Message, &run.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import run: %w", err)
	}
	run.Kind = domain.ImportKind(kind)

	if run.Files, err = s.files(ctx, run.ID); err != nil {
		return nil, err
	}
	if run.Stages, err = s.stages(ctx, run.ID); err != nil {
		return nil, err
	}
	return run, nil
}

// ListImportRuns returns the most recent import runs first, without files.
func (s *RunStore) ListImportRuns(ctx context.Context, limit int) ([]*domain.ImportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, batch, succeeded, failed, message, created_at
		FROM import_runs
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.ImportRun
	for rows.Next() {
		run := &domain.ImportRun{}
		var kind string
		if err := rows.Scan(&run.ID, &kind, &run.Batch, &run.Succeeded, &run.Failed, &run.Message, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan import run: %w", err)
		}
		run.Kind = domain.ImportKind(kind)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate import runs: %w", err)
	}
	return runs, nil
}

func insertStages(ctx context.Context, tx *sql.Tx, runID string, stages []domain.StageResult) error {
	for i, st := range stages {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stage_results (run_id, position, stage, status, detail) VALUES (?, ?, ?, ?, ?)
		`, runID, i, string(st.Stage), string(st.Status), st.Detail)
		if err != nil {
			return fmt.Errorf("failed to create stage result: %w", err)
		}
	}
	return nil
}

func (s *RunStore) stages(ctx context.Context, runID string) ([]domain.StageResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, status, detail FROM stage_results WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage results: %w", err)
	}
	defer rows.Close()

	var stages []domain.StageResult
	for rows.Next() {
		var stage, status string
		var st domain.StageResult
		if err := rows.Scan(&stage, &status, &st.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan stage result: %w", err)
		}
		st.Stage = domain.Stage(stage)
		st.Status = domain.StageStatus(status)
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

func (s *RunStore) files(ctx context.Context, runID string) ([]domain.ResizedImage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_name, big_url, thumb_url, error FROM import_files WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import files: %w", err)
	}
	defer rows.Close()

	var files []domain.ResizedImage
	for rows.Next() {
		var f domain.ResizedImage
		if err := rows.Scan(&f.FileName, &f.BigURL, &f.ThumbURL, &f.Error); err != nil {
			return nil, fmt.Errorf("failed to scan import file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
