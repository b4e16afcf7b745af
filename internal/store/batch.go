package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"imfcscli/pkg/contracts/domain"
)

// StoredBatch is a persisted batch with its cached per-run rows.
type StoredBatch struct {
	Batch     domain.BatchInfo
	Digests   map[string]string
	Summaries map[string]domain.RunSummary
	ROIs      map[string]*domain.ROI
}

// SaveBatch persists the batch metadata and, per run, its info, workbook
// digest, optional summary and optional ROI. Saving the same batch ID
// again replaces its rows, so a session can be checkpointed repeatedly.
func (s *Store) SaveBatch(ctx context.Context, batch domain.BatchInfo, summaries map[string]domain.RunSummary, rois map[string]*domain.ROI) error {
	digests := make(map[string]string, len(batch.Runs))
	for _, info := range batch.Runs {
		if len(info.Files) == 0 {
			digests[info.Key] = ""
			continue
		}
		digest, err := FileDigest(info.Files[0])
		if err != nil {
			return err
		}
		digests[info.Key] = digest
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: save batch: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (id, directory, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET directory = excluded.directory, created_at = excluded.created_at`,
		batch.ID, batch.Directory, batch.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store: save batch %s: %w", batch.ID, err)
	}

	for _, info := range batch.Runs {
		infoJSON, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("store: encode run %s: %w", info.Key, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO runs (batch_id, run_key, digest, info_json) VALUES (?, ?, ?, ?)
			ON CONFLICT(batch_id, run_key) DO UPDATE SET digest = excluded.digest, info_json = excluded.info_json`,
			batch.ID, info.Key, digests[info.Key], string(infoJSON))
		if err != nil {
			return fmt.Errorf("store: save run %s: %w", info.Key, err)
		}
	}

	for key, summary := range summaries {
		summaryJSON, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("store: encode summary %s: %w", key, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO summaries (batch_id, run_key, summary_json) VALUES (?, ?, ?)
			ON CONFLICT(batch_id, run_key) DO UPDATE SET summary_json = excluded.summary_json`,
			batch.ID, key, string(summaryJSON))
		if err != nil {
			return fmt.Errorf("store: save summary %s: %w", key, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rois WHERE batch_id = ?`, batch.ID); err != nil {
		return fmt.Errorf("store: save rois: %w", err)
	}
	for key, roi := range rois {
		if roi == nil {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rois (batch_id, run_key, x, y, width, height) VALUES (?, ?, ?, ?, ?, ?)`,
			batch.ID, key, roi.X, roi.Y, roi.Width, roi.Height)
		if err != nil {
			return fmt.Errorf("store: save roi %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: save batch %s: %w", batch.ID, err)
	}

	s.logger.Debug("batch saved",
		slog.String("batch_id", batch.ID),
		slog.Int("runs", len(batch.Runs)),
		slog.Int("summaries", len(summaries)))
	return nil
}

// LoadBatch returns the most recently created batch stored for a
// directory, or ErrNotFound.
func (s *Store) LoadBatch(ctx context.Context, directory string) (*StoredBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, directory, created_at FROM batches
		WHERE directory = ? ORDER BY created_at DESC, id LIMIT 1`, directory)

	var createdAt int64
	b := &StoredBatch{
		Digests:   make(map[string]string),
		Summaries: make(map[string]domain.RunSummary),
		ROIs:      make(map[string]*domain.ROI),
	}
	if err := row.Scan(&b.Batch.ID, &b.Batch.Directory, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: directory %s", ErrNotFound, directory)
		}
		return nil, fmt.Errorf("store: load batch: %w", err)
	}
	b.Batch.CreatedAt = time.Unix(0, createdAt).UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_key, digest, info_json FROM runs WHERE batch_id = ? ORDER BY rowid`, b.Batch.ID)
	if err != nil {
		return nil, fmt.Errorf("store: load runs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, digest, infoJSON string
		if err := rows.Scan(&key, &digest, &infoJSON); err != nil {
			return nil, fmt.Errorf("store: load runs: %w", err)
		}
		var info domain.RunInfo
		if err := json.Unmarshal([]byte(infoJSON), &info); err != nil {
			return nil, fmt.Errorf("store: decode run %s: %w", key, err)
		}
		b.Batch.Runs = append(b.Batch.Runs, info)
		b.Digests[key] = digest
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load runs: %w", err)
	}

	sumRows, err := s.db.QueryContext(ctx, `
		SELECT run_key, summary_json FROM summaries WHERE batch_id = ?`, b.Batch.ID)
	if err != nil {
		return nil, fmt.Errorf("store: load summaries: %w", err)
	}
	defer sumRows.Close()
	for sumRows.Next() {
		var key, summaryJSON string
		if err := sumRows.Scan(&key, &summaryJSON); err != nil {
			return nil, fmt.Errorf("store: load summaries: %w", err)
		}
		var summary domain.RunSummary
		if err := json.Unmarshal([]byte(summaryJSON), &summary); err != nil {
			return nil, fmt.Errorf("store: decode summary %s: %w", key, err)
		}
		b.Summaries[key] = summary
	}
	if err := sumRows.Err(); err != nil {
		return nil, fmt.Errorf("store: load summaries: %w", err)
	}

	roiRows, err := s.db.QueryContext(ctx, `
		SELECT run_key, x, y, width, height FROM rois WHERE batch_id = ?`, b.Batch.ID)
	if err != nil {
		return nil, fmt.Errorf("store: load rois: %w", err)
	}
	defer roiRows.Close()
	for roiRows.Next() {
		var key string
		roi := &domain.ROI{}
		if err := roiRows.Scan(&key, &roi.X, &roi.Y, &roi.Width, &roi.Height); err != nil {
			return nil, fmt.Errorf("store: load rois: %w", err)
		}
		b.ROIs[key] = roi
	}
	if err := roiRows.Err(); err != nil {
		return nil, fmt.Errorf("store: load rois: %w", err)
	}

	return b, nil
}

// StaleRuns returns the keys of runs whose workbook on disk no longer
// matches the stored digest, in batch order. A missing or unreadable
// workbook counts as stale.
func (s *Store) StaleRuns(b *StoredBatch) []string {
	var stale []string
	for _, info := range b.Batch.Runs {
		if len(info.Files) == 0 {
			stale = append(stale, info.Key)
			continue
		}
		digest, err := FileDigest(info.Files[0])
		if err != nil || digest != b.Digests[info.Key] {
			stale = append(stale, info.Key)
		}
	}
	return stale
}
