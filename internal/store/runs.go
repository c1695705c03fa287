package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run kinds.
const (
	KindChat      = "chat"
	KindFactCheck = "factcheck"
	KindResearch  = "research"
)

// Run is one recorded operation.
type Run struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"` // ok, error, or a fact-check error code
	Branch    string    `json:"branch,omitempty"`
	PRURL     string    `json:"prUrl,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Record inserts r, assigning an ID and timestamp when missing.
func (s *Store) Record(ctx context.Context, r *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO runs (id, kind, status, branch, pr_url, detail, request_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.Status, r.Branch, r.PRURL, r.Detail, r.RequestID, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// List returns up to limit runs, newest first. limit <= 0 means 50.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, kind, status, branch, pr_url, detail, request_id, created_at
	FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r := &Run{}
		var created int64
		if err := rows.Scan(&r.ID, &r.Kind, &r.Status, &r.Branch, &r.PRURL, &r.Detail, &r.RequestID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
