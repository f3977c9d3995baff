package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ankit-raj78/synxSphere-sub001/internal/dto"
	"github.com/ankit-raj78/synxSphere-sub001/internal/repository"
	"github.com/ankit-raj78/synxSphere-sub001/internal/service"
)

type hubMessageKind int

const (
	msgRegister hubMessageKind = iota
	msgUnregister
)

type hubMessage struct {
	kind   hubMessageKind
	client *Client
}

// Hub is the transport gateway: it keeps the per-project client sets,
// runs the join/leave lifecycle, routes inbound commands to the
// broadcaster and registry, and fans accepted events back out. It
// implements service.EventSink and service.PresenceListener.
type Hub struct {
	broadcaster *service.Broadcaster
	reconciler  *service.Reconciler
	registry    *service.Registry
	directory   *service.Directory
	stateRepo   repository.StateRepository

	msgLimit  int
	msgWindow time.Duration

	// stopMu orders queue sends against the Stop close so a read pump
	// unregistering during shutdown cannot send on a closed channel.
	stopMu      sync.Mutex
	stopped     bool
	messageChan chan hubMessage

	mu       sync.RWMutex
	projects map[uint]map[*Client]bool
}

// NewHub creates a Hub instance and subscribes it to presence changes.
func NewHub(
	broadcaster *service.Broadcaster,
	reconciler *service.Reconciler,
	registry *service.Registry,
	directory *service.Directory,
	stateRepo repository.StateRepository,
	msgLimit int,
	msgWindow time.Duration,
) *Hub {
	if broadcaster == nil || reconciler == nil || registry == nil || directory == nil || stateRepo == nil {
		panic("all dependencies must be non-nil for Hub")
	}
	if msgLimit <= 0 {
		msgLimit = 60
	}
	if msgWindow <= 0 {
		msgWindow = time.Second
	}
	h := &Hub{
		broadcaster: broadcaster,
		reconciler:  reconciler,
		registry:    registry,
		directory:   directory,
		stateRepo:   stateRepo,
		msgLimit:    msgLimit,
		msgWindow:   msgWindow,
		messageChan: make(chan hubMessage, 512),
		projects:    make(map[uint]map[*Client]bool),
	}
	broadcaster.SetSink(h)
	directory.Subscribe(h)
	return h
}

// Run processes registration traffic until Stop closes the channel. It
// should run in its own goroutine.
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running")
	for msg := range h.messageChan {
		switch msg.kind {
		case msgRegister:
			h.registerClient(msg.client)
		case msgUnregister:
			h.unregisterClient(msg.client)
		}
	}
	log.Info("Hub stopped")
}

// Stop closes the hub's intake and disconnects every client.
func (h *Hub) Stop() {
	h.stopMu.Lock()
	if h.stopped {
		h.stopMu.Unlock()
		return
	}
	h.stopped = true
	close(h.messageChan)
	h.stopMu.Unlock()

	h.mu.Lock()
	var all []*Client
	for _, clients := range h.projects {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.mu.Unlock()
	for _, c := range all {
		c.Close("server shutdown")
	}
}

// queue places a lifecycle message on the hub channel without blocking.
func (h *Hub) queue(msg hubMessage) bool {
	h.stopMu.Lock()
	defer h.stopMu.Unlock()
	if h.stopped {
		return false
	}
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithField("session_id", msg.client.sessionID).
			Warn("Hub message channel full")
		return false
	}
}

// Register admits an upgraded connection into the hub.
func (h *Hub) Register(c *Client) bool {
	return h.queue(hubMessage{kind: msgRegister, client: c})
}

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.projects[c.projectID]; !ok {
		h.projects[c.projectID] = make(map[*Client]bool)
	}
	h.projects[c.projectID][c] = true
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session_id": c.sessionID,
		"project_id": c.projectID,
		"user_id":    c.userID,
	}).Info("Client registered to hub")

	go h.sendInitialSync(c)
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	removed := false
	if clients, ok := h.projects[c.projectID]; ok {
		if clients[c] {
			delete(clients, c)
			removed = true
			if len(clients) == 0 {
				delete(h.projects, c.projectID)
			}
		}
	}
	h.mu.Unlock()
	if !removed {
		return
	}

	c.setState(StateClosed)
	close(c.send)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Transport cleanup releases the user's locks for this project;
	// ownership is permanent and survives the session.
	released := h.registry.ReleaseUserLocks(ctx, c.projectID, c.userID)
	for _, nodeID := range released {
		if _, err := h.broadcaster.AppendLockEvent(ctx, c.projectID, c.userID, nodeID, false, 0); err != nil {
			logrus.WithFields(logrus.Fields{
				"project_id": c.projectID,
				"node_id":    nodeID,
			}).WithError(err).Warn("Failed to record lock release on disconnect")
		}
	}
	h.directory.Unregister(ctx, c.sessionID)
}

// sendInitialSync runs reconciliation for a fresh session and either
// moves the client to Live or closes the connection.
func (h *Hub) sendInitialSync(c *Client) {
	logCtx := logrus.WithFields(logrus.Fields{
		"session_id": c.sessionID,
		"project_id": c.projectID,
		"since":      c.sinceSeq,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	payload, err := h.reconciler.Sync(ctx, c.projectID, c.sinceSeq)
	if err != nil {
		logCtx.WithError(err).Error("Reconciliation failed, closing session")
		h.sendError(c, "project state unavailable")
		c.Close("reconciliation failed")
		return
	}
	frame, err := json.Marshal(payload)
	if err != nil {
		logCtx.WithError(err).Error("Failed to marshal sync payload")
		c.Close("sync serialization failed")
		return
	}
	c.activate(frame, payload.Sequence)
	logCtx.WithField("sequence", payload.Sequence).Info("Session synced and live")
}

// handleInbound routes one frame from a live client. A frame that does
// not decode is a transport error: the connection is closed and the
// session cleaned up.
func (h *Hub) handleInbound(c *Client, raw []byte) {
	if c.State() != StateLive {
		// Frames racing the initial sync are dropped; the sync payload
		// already reflects them or the client will resend after it.
		return
	}

	var msg dto.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logrus.WithField("session_id", c.sessionID).
			WithError(err).Warn("Malformed client frame")
		h.sendError(c, "malformed message")
		c.Close("malformed message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if msg.Type != dto.MsgHeartbeat {
		limited, err := h.stateRepo.CheckRateLimit(ctx, "msgrate:"+c.sessionID, h.msgLimit, h.msgWindow)
		if err != nil {
			logrus.WithField("session_id", c.sessionID).
				WithError(err).Warn("Rate limit check failed, letting frame through")
		} else if limited {
			h.sendError(c, "too many messages")
			return
		}
	}

	switch msg.Type {
	case dto.MsgHeartbeat:
		if err := h.directory.Heartbeat(ctx, c.sessionID); err != nil {
			logrus.WithField("session_id", c.sessionID).
				WithError(err).Warn("Heartbeat for unknown session")
		}
	case dto.MsgMutation:
		h.handleMutation(ctx, c, &msg)
	case dto.MsgLockRequest:
		h.handleLockRequest(ctx, c, &msg)
	case dto.MsgLockRelease:
		h.handleLockRelease(ctx, c, &msg)
	default:
		h.sendError(c, fmt.Sprintf("unknown message type %q", msg.Type))
		c.Close("unknown message type")
	}
}

func (h *Hub) handleMutation(ctx context.Context, c *Client, msg *dto.ClientMessage) {
	nodeID, err := uuid.Parse(msg.NodeUUID)
	if err != nil {
		h.sendError(c, "invalid node uuid")
		c.Close("invalid node uuid")
		return
	}
	mutation := dto.Mutation{
		NodeID:  nodeID,
		Kind:    msg.Kind,
		Op:      msg.Op,
		Payload: msg.Payload,
	}

	_, outcome, err := h.broadcaster.Submit(ctx, c.projectID, c.userID, mutation)
	if err != nil {
		var lockErr *service.LockConflictError
		switch {
		case errors.As(err, &lockErr):
			h.sendConflict(c, dto.ConflictDTO{
				Type:        dto.MsgConflict,
				NodeUUID:    msg.NodeUUID,
				Reason:      "locked",
				HolderID:    lockErr.HolderID,
				RetryableMs: lockErr.Remaining.Milliseconds(),
			})
		case errors.Is(err, service.ErrInvalidMutation):
			h.sendError(c, "invalid mutation")
		default:
			logrus.WithFields(logrus.Fields{
				"session_id": c.sessionID,
				"project_id": c.projectID,
			}).WithError(err).Error("Mutation submission failed")
			h.sendError(c, "mutation failed")
		}
		return
	}

	if outcome.OwnershipLost {
		// Accepted, but someone else won the creation race; tell the
		// submitter who actually owns the node. The event itself reaches
		// the submitter through the sink like every other session, which
		// keeps its observed order identical to everyone else's.
		h.sendConflict(c, dto.ConflictDTO{
			Type:     dto.MsgConflict,
			NodeUUID: msg.NodeUUID,
			Reason:   "already-owned",
			OwnerID:  outcome.OwnerID,
		})
	}
}

func (h *Hub) handleLockRequest(ctx context.Context, c *Client, msg *dto.ClientMessage) {
	nodeID, err := uuid.Parse(msg.NodeUUID)
	if err != nil {
		h.sendError(c, "invalid node uuid")
		c.Close("invalid node uuid")
		return
	}
	ttl := time.Duration(msg.TTLSeconds) * time.Second

	lock, err := h.registry.AcquireLock(ctx, c.projectID, nodeID, c.userID, ttl)
	if err != nil {
		var lockErr *service.LockConflictError
		if errors.As(err, &lockErr) {
			h.sendConflict(c, dto.ConflictDTO{
				Type:        dto.MsgConflict,
				NodeUUID:    msg.NodeUUID,
				Reason:      "locked",
				HolderID:    lockErr.HolderID,
				RetryableMs: lockErr.Remaining.Milliseconds(),
			})
			return
		}
		h.sendError(c, "lock request failed")
		return
	}

	grantTTL := time.Until(lock.ExpiresAt)
	if _, err := h.broadcaster.AppendLockEvent(ctx, c.projectID, c.userID, nodeID, true, grantTTL); err != nil {
		logrus.WithFields(logrus.Fields{
			"project_id": c.projectID,
			"node_id":    nodeID,
		}).WithError(err).Warn("Failed to record lock acquisition")
	}
}

func (h *Hub) handleLockRelease(ctx context.Context, c *Client, msg *dto.ClientMessage) {
	nodeID, err := uuid.Parse(msg.NodeUUID)
	if err != nil {
		h.sendError(c, "invalid node uuid")
		c.Close("invalid node uuid")
		return
	}
	// Releasing a lock you don't hold is safe but ineffective, and only
	// an actual release earns a place in the event log.
	if !h.registry.ReleaseLock(ctx, c.projectID, nodeID, c.userID) {
		return
	}
	if _, err := h.broadcaster.AppendLockEvent(ctx, c.projectID, c.userID, nodeID, false, 0); err != nil {
		logrus.WithFields(logrus.Fields{
			"project_id": c.projectID,
			"node_id":    nodeID,
		}).WithError(err).Warn("Failed to record lock release")
	}
}

// Deliver implements service.EventSink: it enqueues the frame to every
// client in the project, the submitter included. Called under the
// project line, so enqueue order equals sequence order; sends never
// block, a full queue disconnects that client alone.
func (h *Hub) Deliver(projectID uint, seq uint64, frame []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.projects[projectID]))
	for c := range h.projects[projectID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.deliver(seq, frame)
	}
}

// PresenceChanged implements service.PresenceListener: everyone in the
// project gets the fresh user list.
func (h *Hub) PresenceChanged(projectID uint, users []uint) {
	frame, err := json.Marshal(dto.PresenceDTO{
		Type:      dto.MsgPresence,
		ProjectID: projectID,
		Users:     users,
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.projects[projectID]))
	for c := range h.projects[projectID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(frame)
	}
}

// ActiveProjects returns projects with at least one connected client.
func (h *Hub) ActiveProjects() []uint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]uint, 0, len(h.projects))
	for id := range h.projects {
		ids = append(ids, id)
	}
	return ids
}

// DisconnectSession closes the client bound to a session, used when the
// session is evicted by the liveness sweep.
func (h *Hub) DisconnectSession(sessionID string) {
	h.mu.RLock()
	var target *Client
	for _, clients := range h.projects {
		for c := range clients {
			if c.sessionID == sessionID {
				target = c
				break
			}
		}
	}
	h.mu.RUnlock()
	if target != nil {
		target.Close("session evicted")
	}
}

func (h *Hub) sendError(c *Client, message string) {
	frame, err := json.Marshal(dto.ErrorDTO{Type: dto.MsgError, Message: message})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func (h *Hub) sendConflict(c *Client, conflict dto.ConflictDTO) {
	frame, err := json.Marshal(conflict)
	if err != nil {
		return
	}
	c.enqueue(frame)
}
