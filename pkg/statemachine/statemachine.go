// Package statemachine implements C2: the single place that validates and
// records meeting status transitions. Every status change to an existing
// meeting row passes through Transition; pkg/registry never writes status
// directly (its UpdateConfig writes only a meeting's config).
package statemachine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vexa-ai/meetbotd/pkg/apperrors"
	"github.com/vexa-ai/meetbotd/pkg/models"
)

// Publisher is the subset of the event bus the status machine depends on.
// Defined here (consumer side) to avoid an import cycle with pkg/events.
type Publisher interface {
	PublishMeetingStatus(ctx context.Context, m *models.Meeting) error
}

// Detail carries the optional fields merged into a meeting's envelope on
// transition, per spec.md §4.2 step 4.
type Detail struct {
	CompletionReason string
	FailureStage     string
	ErrorDetails     string
	// ContainerID, if non-empty, is recorded on this transition (set by
	// the startup callback alongside REQUESTED|JOINING|AWAITING_ADMISSION -> ACTIVE).
	ContainerID string
}

// Machine is the C2 status machine.
type Machine struct {
	db        *sql.DB
	publisher Publisher
}

func New(db *sql.DB, publisher Publisher) *Machine {
	return &Machine{db: db, publisher: publisher}
}

// Transition validates and applies a status change. It:
//  1. Loads the current record under a row lock; NotFound if missing.
//  2. Validates against the legal graph, except source=api requesting a
//     terminal status always wins (user stop is absolute).
//  3. Computes started_at/ended_at.
//  4. Merges detail into the data envelope and appends a status_transition record.
//  5. Persists and publishes a meeting.status event, all within the same
//     database transaction boundary for the write, with the publish
//     happening after commit so a slow subscriber can never block the
//     write path.
func (m *Machine) Transition(ctx context.Context, meetingID string, to models.Status, source models.TransitionSource, detail Detail) (*models.Meeting, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT meeting_id, owner_id, platform, native_meeting_id, passcode, status,
		       created_at, started_at, ended_at, container_id, worker_url, data, config
		FROM meetings WHERE meeting_id = $1 FOR UPDATE`,
		meetingID,
	)
	current, err := scanMeetingRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load meeting: %w", err)
	}

	if current.Status.IsTerminal() {
		return nil, apperrors.ErrPreconditionFailed
	}

	apiAbsolute := source == models.SourceAPI && to.IsTerminal()
	if !apiAbsolute && !models.IsLegalTransition(current.Status, to) {
		return nil, apperrors.ErrPreconditionFailed
	}

	now := time.Now().UTC()
	startedAt := current.StartedAt
	if startedAt == nil && to == models.StatusActive {
		startedAt = &now
	}
	endedAt := current.EndedAt
	if endedAt == nil && to.IsTerminal() {
		endedAt = &now
	}

	envelope := current.Envelope
	if detail.CompletionReason != "" {
		envelope.CompletionReason = detail.CompletionReason
	}
	if detail.FailureStage != "" {
		envelope.FailureStage = detail.FailureStage
	}
	if detail.ErrorDetails != "" {
		envelope.ErrorDetails = detail.ErrorDetails
	}
	envelope.Transitions = append(envelope.Transitions, models.Transition{
		From:      current.Status,
		To:        to,
		Timestamp: now,
		Source:    source,
	})

	envelopeJSON, err := models.MarshalEnvelope(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	containerID := current.ContainerID
	if detail.ContainerID != "" {
		containerID = detail.ContainerID
	}

	row = tx.QueryRowContext(ctx, `
		UPDATE meetings
		SET status = $1, started_at = $2, ended_at = $3, container_id = $4, data = $5
		WHERE meeting_id = $6
		RETURNING meeting_id, owner_id, platform, native_meeting_id, passcode, status,
		          created_at, started_at, ended_at, container_id, worker_url, data, config`,
		to, startedAt, endedAt, containerID, envelopeJSON, meetingID,
	)
	updated, err := scanMeetingRow(row)
	if err != nil {
		return nil, fmt.Errorf("update meeting: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	if m.publisher != nil {
		if err := m.publisher.PublishMeetingStatus(ctx, updated); err != nil {
			// Publication failure never rolls back a committed transition;
			// the transition is the source of truth, the event is best-effort
			// (the new status is still visible to any later registry read).
			return updated, fmt.Errorf("transition committed but publish failed: %w", err)
		}
	}

	return updated, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeetingRow(row rowScanner) (*models.Meeting, error) {
	var meeting models.Meeting
	var startedAt, endedAt sql.NullTime
	var containerID, workerURL, passcode sql.NullString
	var dataJSON, configJSON []byte

	err := row.Scan(
		&meeting.MeetingID, &meeting.OwnerID, &meeting.Platform, &meeting.NativeMeetingID, &passcode, &meeting.Status,
		&meeting.CreatedAt, &startedAt, &endedAt, &containerID, &workerURL, &dataJSON, &configJSON,
	)
	if err != nil {
		return nil, err
	}

	meeting.Status = models.NormalizeLegacyStatus(meeting.Status)
	meeting.Passcode = passcode.String
	meeting.ContainerID = containerID.String
	meeting.WorkerURL = workerURL.String
	if startedAt.Valid {
		t := startedAt.Time
		meeting.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		meeting.EndedAt = &t
	}

	meeting.Envelope, err = models.UnmarshalEnvelope(dataJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	meeting.Config, err = models.UnmarshalConfig(configJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &meeting, nil
}
