// Package delivery keeps a metadata-only audit trail of webhook deliveries.
// Bodies, signatures and secrets are never stored.
package delivery

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusDelivered      Status = "delivered"
	StatusDispatchFailed Status = "dispatch_failed"
	StatusIgnored        Status = "ignored"
	StatusRejected       Status = "rejected"
)

// Record is one webhook outcome.
type Record struct {
	ID         string    `json:"id"`
	DeliveryID string    `json:"delivery_id"`
	Event      string    `json:"event"`
	RepoPath   string    `json:"repo_path,omitempty"`
	Group      string    `json:"group,omitempty"`
	Status     Status    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// DefaultLimit and MaxLimit bound Recent.
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// fixed width so received_at sorts lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const maxDetailBytes = 1024

type Log struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Log {
	return &Log{db: db, now: time.Now}
}

// Record stores rec, assigning an ID and timestamp when unset.
func (l *Log) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = l.now()
	}
	if rec.Status == "" {
		return fmt.Errorf("delivery status is empty")
	}
	if len(rec.Detail) > maxDetailBytes {
		rec.Detail = rec.Detail[:maxDetailBytes]
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO delivery_log(id, delivery_id, event, repo_path, group_id, status, detail, received_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, rec.ID, rec.DeliveryID, rec.Event, rec.RepoPath, rec.Group, string(rec.Status), rec.Detail,
		rec.ReceivedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT id, delivery_id, event, repo_path, group_id, status, detail, received_at
FROM delivery_log
ORDER BY received_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var (
			rec        Record
			status     string
			receivedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.DeliveryID, &rec.Event, &rec.RepoPath, &rec.Group, &status, &rec.Detail, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		rec.Status = Status(status)
		rec.ReceivedAt, err = time.Parse(timeLayout, receivedAt)
		if err != nil {
			return nil, fmt.Errorf("parse received_at %q: %w", receivedAt, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return out, nil
}

// Prune deletes records older than retention and returns how many went.
func (l *Log) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := l.now().Add(-retention).UTC().Format(timeLayout)

	res, err := l.db.ExecContext(ctx, `DELETE FROM delivery_log WHERE received_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return n, nil
}

// RunPruner prunes once immediately and then every interval until ctx ends.
func (l *Log) RunPruner(ctx context.Context, retention, interval time.Duration, logger *slog.Logger) {
	prune := func() {
		n, err := l.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("failed to prune delivery log", "error", err)
			}
			return
		}
		if n > 0 {
			logger.Info("pruned delivery log", "removed", n, "retention", retention.String())
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
