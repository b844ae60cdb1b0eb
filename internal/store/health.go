package store

import (
	"fmt"
	"time"
)

// ProviderHealth is the persisted health snapshot for one provider.
// It mirrors the in-memory registry state so operators can inspect
// provider status across restarts.
type ProviderHealth struct {
	Name                string
	Available           bool
	ConsecutiveFailures int
	LastError           string
	UpdatedAt           string
}

// UpsertProviderHealth inserts or replaces a provider health record.
func (s *Store) UpsertProviderHealth(h *ProviderHealth) error {
	_, err := s.writer.Exec(`
		INSERT INTO provider_health (name, available, consecutive_failures, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			available = excluded.available,
			consecutive_failures = excluded.consecutive_failures,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		h.Name, boolToInt(h.Available), h.ConsecutiveFailures, h.LastError,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: upsert provider health: %w", err)
	}
	return nil
}

// ListProviderHealth returns all persisted provider health records
// ordered by name.
func (s *Store) ListProviderHealth() ([]*ProviderHealth, error) {
	rows, err := s.reader.Query(`
		SELECT name, available, consecutive_failures, last_error, updated_at
		FROM provider_health
		ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list provider health: %w", err)
	}
	defer rows.Close()

	var results []*ProviderHealth
	for rows.Next() {
		h := &ProviderHealth{}
		var available int
		if err := rows.Scan(&h.Name, &available, &h.ConsecutiveFailures, &h.LastError, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan provider health: %w", err)
		}
		h.Available = available != 0
		results = append(results, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list provider health iteration: %w", err)
	}
	return results, nil
}
