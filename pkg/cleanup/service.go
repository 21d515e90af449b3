// Package cleanup enforces meeting retention: terminal meetings older
// than the configured retention window are pruned so the registry table
// does not grow unbounded.
package cleanup

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// Service periodically deletes terminal (COMPLETED/FAILED) meetings past
// MeetingRetentionDays. All operations are idempotent and safe to run from
// multiple replicas.
type Service struct {
	db              *sql.DB
	retentionDays   int
	cleanupInterval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service against the shared registry
// pool. retentionDays and interval come from pkg/config.Config.
func NewService(db *sql.DB, retentionDays int, interval time.Duration) *Service {
	return &Service{db: db, retentionDays: retentionDays, cleanupInterval: interval}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"retention_days", s.retentionDays, "interval", s.cleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.pruneTerminalMeetings(ctx)
}

// pruneTerminalMeetings deletes COMPLETED/FAILED meetings whose terminal
// transition (ended_at) is older than the retention window.
func (s *Service) pruneTerminalMeetings(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(s.retentionDays) * 24 * time.Hour)

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM meetings WHERE status IN ('COMPLETED', 'FAILED') AND ended_at < $1`, cutoff)
	if err != nil {
		slog.Error("retention: delete meetings failed", "error", err)
		return
	}
	meetingRows, _ := res.RowsAffected()

	if meetingRows > 0 {
		slog.Info("retention: pruned terminal meetings", "meetings", meetingRows)
	}
}
