package cleanup

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/vexa-ai/meetbotd/test/database"
)

func newTestDB(t *testing.T) *sql.DB {
	return testdb.NewTestClient(t).DB()
}

func insertTestMeeting(t *testing.T, db *sql.DB, nativeID, status string, endedAt time.Time) string {
	t.Helper()
	meetingID := uuid.New().String()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO meetings (meeting_id, owner_id, platform, native_meeting_id, passcode,
			status, created_at, started_at, ended_at, container_id, worker_url, data, config)
		VALUES ($1, 'owner', 'google_meet', $2, '', $3, now(), now(), $4, '', '', '{}', '{}')`,
		meetingID, nativeID, status, endedAt)
	require.NoError(t, err)
	return meetingID
}

func TestService_PrunesOldTerminalMeetings(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, 30, time.Hour)

	insertTestMeeting(t, db, "old-completed", "COMPLETED", time.Now().Add(-60*24*time.Hour))
	recentID := insertTestMeeting(t, db, "recent-completed", "COMPLETED", time.Now())
	insertTestMeeting(t, db, "old-failed", "FAILED", time.Now().Add(-90*24*time.Hour))

	svc.runAll(context.Background())

	var count int
	err := db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM meetings`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var remaining string
	err = db.QueryRowContext(context.Background(), `SELECT meeting_id FROM meetings`).Scan(&remaining)
	require.NoError(t, err)
	assert.Equal(t, recentID, remaining)
}

func TestService_PreservesNonTerminalMeetings(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, 30, time.Hour)

	insertTestMeeting(t, db, "active", "ACTIVE", time.Time{})

	svc.runAll(context.Background())

	var count int
	err := db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM meetings`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
