package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexa-ai/meetbotd/pkg/apperrors"
	"github.com/vexa-ai/meetbotd/pkg/models"
)

type stubOwnership struct {
	err error
}

func (s *stubOwnership) CheckOwnership(ctx context.Context, meetingID, ownerID string) error {
	return s.err
}

func newTestConnection(id string, capacity int) *Connection {
	return &Connection{
		ID:            id,
		subscriptions: make(map[string]bool),
		outbox:        make(chan []byte, capacity),
	}
}

func TestConnectionManager_SubscribeUnsubscribe(t *testing.T) {
	m := NewConnectionManager(nil, time.Second)
	c := newTestConnection("c1", qMax)

	require.NoError(t, m.subscribe(c, "meeting.status.m1"))
	assert.Equal(t, 1, m.subscriberCount("meeting.status.m1"))
	assert.True(t, c.subscriptions["meeting.status.m1"])

	m.unsubscribe(c, "meeting.status.m1")
	assert.Equal(t, 0, m.subscriberCount("meeting.status.m1"))
}

func TestConnectionManager_Broadcast_DeliversToAllSubscribers(t *testing.T) {
	m := NewConnectionManager(nil, time.Second)
	c1 := newTestConnection("c1", qMax)
	c2 := newTestConnection("c2", qMax)
	channel := MeetingStatusChannel("m1")

	require.NoError(t, m.subscribe(c1, channel))
	require.NoError(t, m.subscribe(c2, channel))

	m.Broadcast(channel, []byte(`{"type":"meeting.status"}`))

	assert.Equal(t, []byte(`{"type":"meeting.status"}`), <-c1.outbox)
	assert.Equal(t, []byte(`{"type":"meeting.status"}`), <-c2.outbox)
}

func TestConnectionManager_Broadcast_IgnoresOtherChannels(t *testing.T) {
	m := NewConnectionManager(nil, time.Second)
	c := newTestConnection("c1", qMax)
	require.NoError(t, m.subscribe(c, MeetingStatusChannel("m1")))

	m.Broadcast(MeetingStatusChannel("m2"), []byte("irrelevant"))

	assert.Empty(t, c.outbox)
}

func TestConnectionManager_EnqueueRaw_DropsOldestAndWarnsOnOverflow(t *testing.T) {
	m := NewConnectionManager(nil, time.Second)
	c := newTestConnection("c1", 2)

	m.enqueueRaw(c, []byte("first"))
	m.enqueueRaw(c, []byte("second"))
	// Queue now full at capacity 2: [first, second].
	m.enqueueRaw(c, []byte("third"))
	// "first" dropped to make room: [second, third]. Queue is full again, so
	// appending the slow-consumer warning drops "second": [third, warning].

	got1 := <-c.outbox
	got2 := <-c.outbox

	assert.Equal(t, []byte("third"), got1)

	var warn models.ServerMessage
	require.NoError(t, json.Unmarshal(got2, &warn))
	assert.Equal(t, models.ServerMsgWarning, warn.Type)
	assert.Equal(t, models.WarningCodeSlow, warn.Code)
}

func TestConnectionManager_Authorize(t *testing.T) {
	t.Run("nil checker allows everything", func(t *testing.T) {
		m := NewConnectionManager(nil, time.Second)
		c := newTestConnection("c1", qMax)
		assert.NoError(t, m.authorize(context.Background(), c, "m1"))
	})

	t.Run("forbidden meeting is refused", func(t *testing.T) {
		m := NewConnectionManager(&stubOwnership{err: apperrors.ErrForbidden}, time.Second)
		c := newTestConnection("c1", qMax)
		err := m.authorize(context.Background(), c, "m1")
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("unknown meeting is not found", func(t *testing.T) {
		m := NewConnectionManager(&stubOwnership{err: apperrors.ErrNotFound}, time.Second)
		c := newTestConnection("c1", qMax)
		err := m.authorize(context.Background(), c, "m1")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestConnectionManager_SubscribeMeeting_JoinsAllThreeChannels(t *testing.T) {
	m := NewConnectionManager(nil, time.Second)
	c := newTestConnection("c1", qMax)

	require.NoError(t, m.subscribeMeeting(c, "m1"))

	assert.True(t, c.subscriptions[MeetingStatusChannel("m1")])
	assert.True(t, c.subscriptions[TranscriptMutableChannel("m1")])
	assert.True(t, c.subscriptions[TranscriptFinalizedChannel("m1")])

	m.unsubscribeMeeting(c, "m1")
	assert.Empty(t, c.subscriptions)
}
