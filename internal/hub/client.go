package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Node payloads can carry
	// serialized clip/parameter data, so this is generous.
	maxMessageSize = 64 * 1024

	// Outbound queue capacity per client. A session whose queue
	// overflows is disconnected rather than allowed to stall the
	// project line.
	sendBufferSize = 256
)

// ClientState tracks a connection through its lifecycle. Closed is
// terminal; a reconnect is a brand-new session.
type ClientState int32

const (
	StateConnecting ClientState = iota
	StateAuthenticated
	StateSyncing
	StateLive
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSyncing:
		return "syncing"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Client is one WebSocket connection bound to a session. The read pump
// feeds inbound frames to the hub; the write pump drains the send
// queue.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	projectID uint
	userID    uint
	sessionID string
	sinceSeq  uint64 // client's last known sequence, from the handshake

	send      chan []byte
	state     atomic.Int32
	closeOnce sync.Once

	// pendingMu guards the sync handoff: broadcast frames arriving while
	// the initial sync payload is being computed are parked here, then
	// flushed past the sync sequence when the client goes live.
	pendingMu sync.Mutex
	pending   []pendingFrame
}

type pendingFrame struct {
	seq   uint64
	frame []byte
}

// NewClient creates a Client in the Syncing state; authentication and
// session registration happened before the upgrade.
func NewClient(hub *Hub, conn *websocket.Conn, projectID, userID uint, sessionID string, sinceSeq uint64) *Client {
	c := &Client{
		hub:       hub,
		conn:      conn,
		projectID: projectID,
		userID:    userID,
		sessionID: sessionID,
		sinceSeq:  sinceSeq,
		send:      make(chan []byte, sendBufferSize),
	}
	c.state.Store(int32(StateSyncing))
	return c
}

func (c *Client) ProjectID() uint   { return c.projectID }
func (c *Client) UserID() uint      { return c.userID }
func (c *Client) SessionID() string { return c.sessionID }

// State returns the client's current lifecycle state.
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

func (c *Client) setState(s ClientState) {
	c.state.Store(int32(s))
}

// Run starts the read and write pumps.
func (c *Client) Run() {
	go c.writePump()
	go c.readPump()
}

// Close tears the connection down once; the read pump's exit drives the
// rest of the cleanup through the hub.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		logrus.WithFields(logrus.Fields{
			"session_id": c.sessionID,
			"project_id": c.projectID,
			"user_id":    c.userID,
			"reason":     reason,
		}).Info("Closing client connection")
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// deliver routes one sequenced broadcast frame. While the client is
// still syncing the frame is parked; once live it goes straight to the
// send queue. The sync payload's sequence decides which parked frames
// are duplicates.
func (c *Client) deliver(seq uint64, frame []byte) {
	c.pendingMu.Lock()
	if c.State() == StateSyncing {
		if len(c.pending) >= sendBufferSize {
			c.pendingMu.Unlock()
			c.Close("sync backlog overflow")
			return
		}
		c.pending = append(c.pending, pendingFrame{seq: seq, frame: frame})
		c.pendingMu.Unlock()
		return
	}
	c.pendingMu.Unlock()
	c.enqueue(frame)
}

// activate enqueues the sync frame, flushes parked frames beyond the
// sync sequence in order, and moves the client to Live. Frames at or
// below syncSeq are already covered by the sync payload.
func (c *Client) activate(syncFrame []byte, syncSeq uint64) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.enqueue(syncFrame)
	for _, p := range c.pending {
		if p.seq > syncSeq {
			c.enqueue(p.frame)
		}
	}
	c.pending = nil
	c.setState(StateLive)
}

// enqueue places a frame on the send queue without blocking. Overflow
// means the consumer is too slow; the connection is treated as failed.
func (c *Client) enqueue(frame []byte) {
	if c.State() == StateClosed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.Close("outbound queue overflow")
	}
}

// readPump pumps frames from the WebSocket into the hub until the
// connection dies, then asks the hub to unregister the session.
func (c *Client) readPump() {
	defer func() {
		c.hub.queue(hubMessage{kind: msgUnregister, client: c})
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, frame, err := c.conn.ReadMessage()
		if err != nil {
			logCtx := logrus.WithFields(logrus.Fields{"session_id": c.sessionID, "user_id": c.userID})
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error")
			} else {
				logCtx.Debug("WebSocket connection closed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		// Handled on this goroutine so one client's frames keep their
		// submission order; concurrency comes from having one read pump
		// per connection.
		c.hub.handleInbound(c, frame)
	}
}

// writePump pumps frames from the send queue to the WebSocket and keeps
// the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the queue during unregister.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logrus.WithField("session_id", c.sessionID).
					WithError(err).Warn("Failed to write frame to websocket")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
