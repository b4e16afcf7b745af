package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"imfcscli/pkg/contracts/domain"
)

// SaveScreening appends one screening result to the history.
func (s *Store) SaveScreening(ctx context.Context, batchID string, result domain.ScreeningResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("store: encode screening %s: %w", result.RunKey, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO screenings (batch_id, run_key, verdict, result_json, screened_at)
		VALUES (?, ?, ?, ?, ?)`,
		batchID, result.RunKey, string(result.Verdict), string(resultJSON),
		result.ScreenedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store: save screening %s: %w", result.RunKey, err)
	}
	return nil
}

// History returns the screenings of one run, most recent first.
func (s *Store) History(ctx context.Context, runKey string) ([]domain.ScreeningResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT result_json FROM screenings
		WHERE run_key = ? ORDER BY screened_at DESC, id DESC`, runKey)
	if err != nil {
		return nil, fmt.Errorf("store: history %s: %w", runKey, err)
	}
	defer rows.Close()

	var results []domain.ScreeningResult
	for rows.Next() {
		var resultJSON string
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, fmt.Errorf("store: history %s: %w", runKey, err)
		}
		var result domain.ScreeningResult
		if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
			return nil, fmt.Errorf("store: decode screening %s: %w", runKey, err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: history %s: %w", runKey, err)
	}
	return results, nil
}

// LatestScreenings returns the most recent screening of every run ever
// recorded, ordered by run key. This is the cross-batch view the index
// export is built from.
func (s *Store) LatestScreenings(ctx context.Context) ([]domain.ScreeningResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT result_json FROM screenings s
		WHERE s.id = (
			SELECT id FROM screenings
			WHERE run_key = s.run_key
			ORDER BY screened_at DESC, id DESC LIMIT 1)
		ORDER BY s.run_key`)
	if err != nil {
		return nil, fmt.Errorf("store: latest screenings: %w", err)
	}
	defer rows.Close()

	var results []domain.ScreeningResult
	for rows.Next() {
		var resultJSON string
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, fmt.Errorf("store: latest screenings: %w", err)
		}
		var result domain.ScreeningResult
		if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
			return nil, fmt.Errorf("store: decode screening: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: latest screenings: %w", err)
	}
	return results, nil
}

// Prune removes batches created before the cutoff together with their
// runs, summaries and ROIs, and screenings older than the cutoff. It
// returns the number of batch and screening rows removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	defer tx.Rollback()

	cutoff := before.UnixNano()
	batches, err := tx.ExecContext(ctx, `DELETE FROM batches WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune batches: %w", err)
	}
	screenings, err := tx.ExecContext(ctx, `DELETE FROM screenings WHERE screened_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune screenings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}

	nb, _ := batches.RowsAffected()
	ns, _ := screenings.RowsAffected()
	s.logger.Debug("store pruned",
		slog.Int64("batches", nb),
		slog.Int64("screenings", ns),
		slog.Time("before", before))
	return nb + ns, nil
}
