package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Dispatch is the audit record for a single dispatched task.
type Dispatch struct {
	ID           string
	Timestamp    string
	Category     string
	Provider     string
	Degraded     bool
	Cancelled    bool
	Attempts     int
	PromptTokens int64
	OutputTokens int64
	LatencyMs    int64
	ErrorMessage string
	CacheHit     bool
}

// DispatchStats holds aggregate statistics for a range of dispatches.
type DispatchStats struct {
	TotalDispatches   int64
	DegradedCount     int64
	CancelledCount    int64
	CacheHits         int64
	TotalPromptTokens int64
	TotalOutputTokens int64
	AvgLatencyMs      float64
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// InsertDispatch stores a new dispatch record. The caller is responsible
// for providing a unique ID (typically a UUID).
func (s *Store) InsertDispatch(d *Dispatch) error {
	_, err := s.writer.Exec(`
		INSERT INTO dispatches (
			id, timestamp, category, provider, degraded, cancelled,
			attempts, prompt_tokens, output_tokens, latency_ms,
			error_message, cache_hit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Timestamp, d.Category, d.Provider,
		boolToInt(d.Degraded), boolToInt(d.Cancelled),
		d.Attempts, d.PromptTokens, d.OutputTokens, d.LatencyMs,
		d.ErrorMessage, boolToInt(d.CacheHit),
	)
	if err != nil {
		return fmt.Errorf("store: insert dispatch: %w", err)
	}
	return nil
}

// GetDispatch retrieves a single dispatch record by its ID.
// Returns sql.ErrNoRows (wrapped) if the record does not exist.
func (s *Store) GetDispatch(id string) (*Dispatch, error) {
	d := &Dispatch{}
	var degraded, cancelled, cacheHit int

	err := s.reader.QueryRow(`
		SELECT id, timestamp, category, provider, degraded, cancelled,
		       attempts, prompt_tokens, output_tokens, latency_ms,
		       error_message, cache_hit
		FROM dispatches WHERE id = ?`, id,
	).Scan(
		&d.ID, &d.Timestamp, &d.Category, &d.Provider, &degraded, &cancelled,
		&d.Attempts, &d.PromptTokens, &d.OutputTokens, &d.LatencyMs,
		&d.ErrorMessage, &cacheHit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get dispatch %s: %w", id, err)
	}

	d.Degraded = degraded != 0
	d.Cancelled = cancelled != 0
	d.CacheHit = cacheHit != 0
	return d, nil
}

// ListDispatches returns a page of dispatch records ordered by timestamp
// descending.
func (s *Store) ListDispatches(limit, offset int) ([]*Dispatch, error) {
	rows, err := s.reader.Query(`
		SELECT id, timestamp, category, provider, degraded, cancelled,
		       attempts, prompt_tokens, output_tokens, latency_ms,
		       error_message, cache_hit
		FROM dispatches
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list dispatches: %w", err)
	}
	defer rows.Close()

	var results []*Dispatch
	for rows.Next() {
		d := &Dispatch{}
		var degraded, cancelled, cacheHit int
		if err := rows.Scan(
			&d.ID, &d.Timestamp, &d.Category, &d.Provider, &degraded, &cancelled,
			&d.Attempts, &d.PromptTokens, &d.OutputTokens, &d.LatencyMs,
			&d.ErrorMessage, &cacheHit,
		); err != nil {
			return nil, fmt.Errorf("store: scan dispatch row: %w", err)
		}
		d.Degraded = degraded != 0
		d.Cancelled = cancelled != 0
		d.CacheHit = cacheHit != 0
		results = append(results, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list dispatches iteration: %w", err)
	}
	return results, nil
}

// GetDispatchStats computes aggregate statistics for all dispatches whose
// timestamp is >= since.
func (s *Store) GetDispatchStats(since time.Time) (*DispatchStats, error) {
	sinceStr := since.UTC().Format(time.RFC3339)
	stats := &DispatchStats{}

	err := s.reader.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(degraded), 0),
			COALESCE(SUM(cancelled), 0),
			COALESCE(SUM(cache_hit), 0),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(AVG(latency_ms), 0.0)
		FROM dispatches
		WHERE timestamp >= ?`, sinceStr,
	).Scan(
		&stats.TotalDispatches,
		&stats.DegradedCount,
		&stats.CancelledCount,
		&stats.CacheHits,
		&stats.TotalPromptTokens,
		&stats.TotalOutputTokens,
		&stats.AvgLatencyMs,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return stats, nil
		}
		return nil, fmt.Errorf("store: get dispatch stats: %w", err)
	}

	return stats, nil
}

// ProviderCount is the number of successful dispatches served by one provider.
type ProviderCount struct {
	Provider string
	Count    int64
}

// GetProviderCounts returns per-provider dispatch counts since the given
// time, ordered by count descending. Degraded dispatches are excluded.
func (s *Store) GetProviderCounts(since time.Time) ([]ProviderCount, error) {
	sinceStr := since.UTC().Format(time.RFC3339)
	rows, err := s.reader.Query(`
		SELECT provider, COUNT(*)
		FROM dispatches
		WHERE timestamp >= ? AND degraded = 0 AND provider != ''
		GROUP BY provider
		ORDER BY COUNT(*) DESC`, sinceStr,
	)
	if err != nil {
		return nil, fmt.Errorf("store: provider counts: %w", err)
	}
	defer rows.Close()

	var counts []ProviderCount
	for rows.Next() {
		var pc ProviderCount
		if err := rows.Scan(&pc.Provider, &pc.Count); err != nil {
			return nil, fmt.Errorf("store: scan provider count: %w", err)
		}
		counts = append(counts, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: provider counts iteration: %w", err)
	}
	return counts, nil
}
