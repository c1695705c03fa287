package store

import (
	"context"
	"fmt"
	"time"
)

// AuditEntry is one API request.
type AuditEntry struct {
	RequestID string
	Method    string
	Path      string
	Status    int
	ClientIP  string
	Duration  time.Duration
	CreatedAt time.Time
}

// RecordAudit appends e to the audit log.
func (s *Store) RecordAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO audit_log (request_id, method, path, status, client_ip, duration_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Method, e.Path, e.Status, e.ClientIP, e.Duration.Milliseconds(), e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// CountAudit returns the number of audit entries.
func (s *Store) CountAudit(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return n, nil
}
