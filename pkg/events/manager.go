package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/vexa-ai/meetbotd/pkg/apperrors"
	"github.com/vexa-ai/meetbotd/pkg/metrics"
	"github.com/vexa-ai/meetbotd/pkg/models"
)

// qMax is Q_max from spec.md §4.5: the bounded depth of a subscriber's
// outbound queue. On overflow the oldest queued message is dropped and a
// {type:warning, code:slow} notice takes its place.
const qMax = 64

// listenTimeout bounds how long a LISTEN command may block when a channel
// gains its first subscriber. Without this, a stalled listener connection
// would block the subscribing goroutine indefinitely.
const listenTimeout = 10 * time.Second

// OwnershipChecker verifies that an owner may subscribe to a meeting.
// Returns apperrors.ErrNotFound or apperrors.ErrForbidden to refuse, nil to
// allow. Defined consumer-side (rather than importing pkg/registry
// directly) to avoid a package cycle, the same pattern pkg/statemachine
// uses for its Publisher interface.
type OwnershipChecker interface {
	CheckOwnership(ctx context.Context, meetingID, ownerID string) error
}

// ConnectionManager manages WebSocket connections and channel
// subscriptions for one process. Each replica runs one ConnectionManager;
// cross-replica fan-out happens via NotifyListener.
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	ownership OwnershipChecker

	listener   *NotifyListener
	listenerMu sync.RWMutex

	writeTimeout time.Duration // T_write from spec.md §5
}

// Connection is a single WebSocket subscriber. subscriptions is accessed
// without a lock: all reads/writes happen on the single goroutine that
// owns this connection (HandleConnection's read loop and its deferred
// cleanup).
type Connection struct {
	ID            string
	OwnerID       string
	Conn          *websocket.Conn
	subscriptions map[string]bool
	outbox        chan []byte
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a ConnectionManager. ownership may be nil in
// tests that don't exercise authorization.
func NewConnectionManager(ownership OwnershipChecker, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		channels:     make(map[string]map[string]bool),
		ownership:    ownership,
		writeTimeout: writeTimeout,
	}
}

// SetListener wires the NotifyListener used for dynamic LISTEN/UNLISTEN.
// Called once during startup after both are constructed.
func (m *ConnectionManager) SetListener(l *NotifyListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

// HandleConnection manages one WebSocket connection's lifecycle for the
// given authenticated owner. Blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, ownerID string) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		OwnerID:       ownerID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		outbox:        make(chan []byte, qMax),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()
	defer m.unregisterConnection(c)

	go m.writerLoop(c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.enqueueJSON(c, models.ServerMessage{Type: models.ServerMsgError, Message: "invalid message"})
			continue
		}
		m.handleClientMessage(ctx, c, &msg)
	}
}

// writerLoop is the sole goroutine that writes to the underlying
// connection, draining c.outbox at up to writeTimeout per message. A write
// failure (including a stalled connection past T_write) tears the
// connection down.
func (m *ConnectionManager) writerLoop(c *Connection) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.outbox:
			writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
			err := c.Conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Warn("slow or dead subscriber, dropping connection", "connection_id", c.ID, "error", err)
				c.cancel()
				return
			}
		}
	}
}

// Broadcast enqueues an event payload for every connection subscribed to
// channel.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	// Snapshot connection pointers, then release mu before enqueueing so a
	// full outbox never stalls connection register/unregister.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		m.enqueueRaw(conn, event)
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *Connection, msg *models.ClientMessage) {
	switch msg.Type {
	case models.ClientMsgSubscribe:
		if msg.MeetingID == "" {
			m.enqueueJSON(c, models.ServerMessage{Type: models.ServerMsgError, Message: "meeting_id is required"})
			return
		}
		if err := m.authorize(ctx, c, msg.MeetingID); err != nil {
			code := "forbidden"
			if errors.Is(err, apperrors.ErrNotFound) {
				code = "not_found"
			}
			m.enqueueJSON(c, models.ServerMessage{Type: models.ServerMsgError, Code: code, Message: "not authorized for meeting"})
			return
		}
		if err := m.subscribeMeeting(c, msg.MeetingID); err != nil {
			m.enqueueJSON(c, models.ServerMessage{Type: models.ServerMsgError, Message: "subscribe failed"})
			return
		}

	case models.ClientMsgUnsubscribe:
		if msg.MeetingID == "" {
			return
		}
		m.unsubscribeMeeting(c, msg.MeetingID)
	}
}

func (m *ConnectionManager) authorize(ctx context.Context, c *Connection, meetingID string) error {
	if m.ownership == nil {
		return nil
	}
	return m.ownership.CheckOwnership(ctx, meetingID, c.OwnerID)
}

// subscribeMeeting joins all three channels for a meeting_id, since a
// client subscribes by meeting rather than by individual channel
// (spec.md §6 `subscribe(meeting_id)`).
func (m *ConnectionManager) subscribeMeeting(c *Connection, meetingID string) error {
	for _, ch := range []string{
		MeetingStatusChannel(meetingID),
		TranscriptMutableChannel(meetingID),
		TranscriptFinalizedChannel(meetingID),
	} {
		if err := m.subscribe(c, ch); err != nil {
			return err
		}
	}
	return nil
}

func (m *ConnectionManager) unsubscribeMeeting(c *Connection, meetingID string) {
	for _, ch := range []string{
		MeetingStatusChannel(meetingID),
		TranscriptMutableChannel(meetingID),
		TranscriptFinalizedChannel(meetingID),
	} {
		m.unsubscribe(c, ch)
	}
}

// subscribe registers a connection for a channel and starts LISTEN if it
// is the first subscriber. LISTEN runs synchronously, so it is established
// before subscribe returns.
func (m *ConnectionManager) subscribe(c *Connection, channel string) error {
	m.channelMu.Lock()
	needsListen := false
	if _, exists := m.channels[channel]; !exists {
		m.channels[channel] = make(map[string]bool)
		needsListen = true
	}
	m.channels[channel][c.ID] = true
	m.channelMu.Unlock()

	if needsListen {
		m.listenerMu.RLock()
		l := m.listener
		m.listenerMu.RUnlock()
		if l != nil {
			listenCtx, cancel := context.WithTimeout(context.Background(), listenTimeout)
			defer cancel()
			if err := l.Subscribe(listenCtx, channel); err != nil {
				slog.Error("failed to LISTEN on channel", "channel", channel, "error", err)
				m.cleanupFailedChannel(c, channel)
				return fmt.Errorf("listen on channel %s: %w", channel, err)
			}
		}
	}

	c.subscriptions[channel] = true
	return nil
}

// cleanupFailedChannel removes all subscribers from a channel after a
// LISTEN failure, notifying each affected connection. See the teacher's
// equivalent for the race this closes: between unlocking channelMu and
// l.Subscribe completing, other goroutines may have joined the same
// channel believing LISTEN already succeeded.
func (m *ConnectionManager) cleanupFailedChannel(triggering *Connection, channel string) {
	m.channelMu.Lock()
	affected := make([]string, 0, len(m.channels[channel]))
	for connID := range m.channels[channel] {
		if connID != triggering.ID {
			affected = append(affected, connID)
		}
	}
	delete(m.channels, channel)
	m.channelMu.Unlock()

	if len(affected) == 0 {
		return
	}

	m.mu.RLock()
	conns := make([]*Connection, 0, len(affected))
	for _, id := range affected {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		m.enqueueJSON(conn, models.ServerMessage{Type: models.ServerMsgError, Message: "channel listen failed; subscription removed"})
	}
}

func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if subs, exists := m.channels[channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, channel)
			m.listenerMu.RLock()
			l := m.listener
			m.listenerMu.RUnlock()
			if l != nil {
				go func() {
					m.channelMu.RLock()
					_, resubscribed := m.channels[channel]
					m.channelMu.RUnlock()
					if resubscribed {
						return
					}
					if err := l.Unsubscribe(context.Background(), channel); err != nil {
						slog.Error("failed to UNLISTEN channel", "channel", channel, "error", err)
					}
				}()
			}
		}
	}
	m.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregisterConnection(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) enqueueJSON(c *Connection, v models.ServerMessage) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to marshal message", "connection_id", c.ID, "error", err)
		return
	}
	m.enqueueRaw(c, data)
}

// enqueueRaw pushes data onto the connection's bounded outbox. On overflow
// the oldest queued message is dropped and a {type:warning, code:slow}
// notice takes its place, per spec.md §4.5.
func (m *ConnectionManager) enqueueRaw(c *Connection, data []byte) {
	select {
	case c.outbox <- data:
		return
	default:
	}

	metrics.EventQueueDrops.Inc()
	select {
	case <-c.outbox:
	default:
	}
	select {
	case c.outbox <- data:
	default:
	}

	warning, err := json.Marshal(models.ServerMessage{Type: models.ServerMsgWarning, Code: models.WarningCodeSlow})
	if err != nil {
		return
	}
	select {
	case c.outbox <- warning:
	default:
		select {
		case <-c.outbox:
		default:
		}
		select {
		case c.outbox <- warning:
		default:
		}
	}
}
