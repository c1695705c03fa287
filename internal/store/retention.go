package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Retention bounds how long rows are kept.
type Retention struct {
	Runs  time.Duration
	Audit time.Duration
}

// DefaultRetention keeps runs for 30 days and audit entries for 7.
func DefaultRetention() Retention {
	return Retention{Runs: 30 * 24 * time.Hour, Audit: 7 * 24 * time.Hour}
}

// RunRetention cleans up old data according to the retention policy.
func (s *Store) RunRetention(ctx context.Context, r Retention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM runs WHERE created_at < ?",
		now.Add(-r.Runs).UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to delete old runs: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_log WHERE created_at < ?",
		now.Add(-r.Audit).UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to delete old audit logs: %w", err)
	}
	return nil
}

// StartRetention runs RunRetention every interval until ctx is cancelled.
func (s *Store) StartRetention(ctx context.Context, r Retention, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.RunRetention(ctx, r); err != nil {
					logger.Error().Err(err).Msg("retention failed")
					continue
				}
				if size, err := s.DBSizeBytes(); err == nil {
					logger.Debug().Int64("db_size_bytes", size).Msg("retention sweep complete")
				}
			}
		}
	}()
}

// DBSizeBytes returns the database size in bytes
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount int64
	var pageSize int64

	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}
	return pageCount * pageSize, nil
}
