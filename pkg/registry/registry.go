// Package registry implements C1, the durable meeting store. It exposes
// create/get/list/find operations over PostgreSQL with linearizable
// single-key updates and an atomic insert-if-absent for the
// active-uniqueness invariant (enforced by a partial unique index rather
// than a check-then-insert race). All status changes to an existing row
// pass through pkg/statemachine; this package never updates status
// itself. Its one write to an existing row is UpdateConfig, which
// overwrites the config of an ACTIVE meeting directly.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vexa-ai/meetbotd/pkg/apperrors"
	"github.com/vexa-ai/meetbotd/pkg/models"
)

// Registry is the C1 meeting store.
type Registry struct {
	db *sql.DB
}

// New wraps a pooled *sql.DB. The same pool is shared with pkg/statemachine
// and pkg/events; PostgreSQL itself is the serialization point.
func New(db *sql.DB) *Registry {
	return &Registry{db: db}
}

func (r *Registry) DB() *sql.DB {
	return r.db
}

const meetingColumns = `meeting_id, owner_id, platform, native_meeting_id, passcode, status,
	created_at, started_at, ended_at, container_id, worker_url, data, config`

// Create validates the duplicate and concurrency-limit invariants and
// inserts a new REQUESTED row, all within a single transaction, following
// spec.md §4.4 RequestBot steps 2-4.
func (r *Registry) Create(ctx context.Context, owner string, platform models.Platform, nativeID, passcode string, cfg models.Config, concurrencyLimit int) (*models.Meeting, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize concurrency-limit counting per owner: an advisory lock
	// held for the transaction prevents two concurrent RequestBot calls
	// for the same owner both reading the count before either inserts.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, owner); err != nil {
		return nil, fmt.Errorf("acquire owner lock: %w", err)
	}

	var dupCount int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM meetings
		WHERE owner_id = $1 AND platform = $2 AND native_meeting_id = $3
		  AND status = ANY($4)`,
		owner, platform, nativeID, nonTerminalArray(),
	).Scan(&dupCount)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if dupCount > 0 {
		return nil, apperrors.ErrDuplicate
	}

	var activeCount int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM meetings
		WHERE owner_id = $1 AND status = ANY($2)`,
		owner, nonTerminalArray(),
	).Scan(&activeCount)
	if err != nil {
		return nil, fmt.Errorf("concurrency check: %w", err)
	}
	if activeCount >= concurrencyLimit {
		return nil, apperrors.ErrLimitReached
	}

	configJSON, err := models.MarshalConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	m := &models.Meeting{
		MeetingID:       uuid.NewString(),
		OwnerID:         owner,
		Platform:        platform,
		NativeMeetingID: nativeID,
		Passcode:        passcode,
		Status:          models.StatusRequested,
		Config:          cfg,
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO meetings (meeting_id, owner_id, platform, native_meeting_id, passcode, status, data, config)
		VALUES ($1, $2, $3, $4, $5, $6, '{}'::jsonb, $7)
		RETURNING `+meetingColumns,
		m.MeetingID, m.OwnerID, m.Platform, m.NativeMeetingID, m.Passcode, m.Status, configJSON,
	)
	out, err := scanMeeting(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, apperrors.ErrDuplicate
		}
		return nil, fmt.Errorf("insert meeting: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// Get loads a meeting by id. Returns apperrors.ErrNotFound if absent.
func (r *Registry) Get(ctx context.Context, meetingID string) (*models.Meeting, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE meeting_id = $1`, meetingID)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return m, err
}

// CheckOwnership implements pkg/events.OwnershipChecker: it reports
// apperrors.ErrForbidden if the meeting exists but belongs to a
// different owner, and apperrors.ErrNotFound if it does not exist.
func (r *Registry) CheckOwnership(ctx context.Context, meetingID, ownerID string) error {
	m, err := r.Get(ctx, meetingID)
	if err != nil {
		return err
	}
	if m.OwnerID != ownerID {
		return apperrors.ErrForbidden
	}
	return nil
}

// FindActiveByNative finds the single non-terminal meeting for
// (owner, platform, native_id), used by StopBot/UpdateConfig lookups.
// Returns apperrors.ErrNotFound if none is active.
func (r *Registry) FindActiveByNative(ctx context.Context, owner string, platform models.Platform, nativeID string) (*models.Meeting, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+meetingColumns+` FROM meetings
		WHERE owner_id = $1 AND platform = $2 AND native_meeting_id = $3 AND status = ANY($4)`,
		owner, platform, nativeID, nonTerminalArray(),
	)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return m, err
}

// FindLatestByNative finds the most recently created meeting for
// (owner, platform, native_id) regardless of status, used by transcript
// retrieval after a meeting has already reached a terminal status.
// Returns apperrors.ErrNotFound if none exists.
func (r *Registry) FindLatestByNative(ctx context.Context, owner string, platform models.Platform, nativeID string) (*models.Meeting, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+meetingColumns+` FROM meetings
		WHERE owner_id = $1 AND platform = $2 AND native_meeting_id = $3
		ORDER BY created_at DESC
		LIMIT 1`,
		owner, platform, nativeID,
	)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return m, err
}

// ListActive lists all non-terminal meetings for an owner.
func (r *Registry) ListActive(ctx context.Context, owner string) ([]*models.Meeting, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+meetingColumns+` FROM meetings
		WHERE owner_id = $1 AND status = ANY($2)
		ORDER BY created_at ASC`,
		owner, nonTerminalArray(),
	)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	defer rows.Close()

	var out []*models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListNonTerminalWithContainer lists non-terminal meetings that have a
// container_id set, the watchdog's candidate set (spec.md §4.4).
func (r *Registry) ListNonTerminalWithContainer(ctx context.Context) ([]*models.Meeting, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+meetingColumns+` FROM meetings
		WHERE status = ANY($1) AND container_id != ''`,
		nonTerminalArray(),
	)
	if err != nil {
		return nil, fmt.Errorf("list watchdog candidates: %w", err)
	}
	defer rows.Close()

	var out []*models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateConfig overwrites a meeting's dynamic config. Permitted only when
// the meeting is ACTIVE, per spec.md §4.4 UpdateConfig. This mutates an
// existing row outside pkg/statemachine because config is not part of the
// status graph; status itself is left untouched.
func (r *Registry) UpdateConfig(ctx context.Context, meetingID string, cfg models.Config) (*models.Meeting, error) {
	configJSON, err := models.MarshalConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE meetings SET config = $1
		WHERE meeting_id = $2 AND status = $3
		RETURNING `+meetingColumns,
		configJSON, meetingID, models.StatusActive,
	)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Get(ctx, meetingID); getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.ErrPreconditionFailed
	}
	return m, err
}

func nonTerminalArray() []string {
	out := make([]string, len(models.NonTerminalStatuses))
	for i, s := range models.NonTerminalStatuses {
		out[i] = string(s)
	}
	return out
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (*models.Meeting, error) {
	var m models.Meeting
	var startedAt, endedAt sql.NullTime
	var containerID, workerURL, passcode sql.NullString
	var dataJSON, configJSON []byte

	err := row.Scan(
		&m.MeetingID, &m.OwnerID, &m.Platform, &m.NativeMeetingID, &passcode, &m.Status,
		&m.CreatedAt, &startedAt, &endedAt, &containerID, &workerURL, &dataJSON, &configJSON,
	)
	if err != nil {
		return nil, err
	}

	m.Status = models.NormalizeLegacyStatus(m.Status)
	m.Passcode = passcode.String
	m.ContainerID = containerID.String
	m.WorkerURL = workerURL.String
	if startedAt.Valid {
		t := startedAt.Time
		m.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		m.EndedAt = &t
	}

	m.Envelope, err = models.UnmarshalEnvelope(dataJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	m.Config, err = models.UnmarshalConfig(configJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &m, nil
}
