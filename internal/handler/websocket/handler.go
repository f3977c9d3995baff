package websocket

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ankit-raj78/synxSphere-sub001/internal/hub"
	"github.com/ankit-raj78/synxSphere-sub001/internal/service"
)

// Handler upgrades authenticated connections and walks them through the
// session lifecycle: authenticate (middleware), authorize, register the
// session, upgrade, then hand the client to the hub for sync.
type Handler struct {
	upgrader  websocket.Upgrader
	hub       *hub.Hub
	directory *service.Directory
	access    service.Access
}

// NewHandler creates a WebSocket Handler instance.
func NewHandler(h *hub.Hub, directory *service.Directory, access service.Access) *Handler {
	if h == nil {
		panic("Hub cannot be nil for websocket Handler")
	}
	if directory == nil {
		panic("Directory cannot be nil for websocket Handler")
	}
	if access == nil {
		panic("Access cannot be nil for websocket Handler")
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Browser origin policy is enforced by the fronting
				// proxy; tokens gate access here.
				return true
			},
		},
		hub:       h,
		directory: directory,
		access:    access,
	}
}

// HandleConnection serves GET /ws/project/:projectId. The optional
// `since` query parameter carries the client's last known sequence so a
// reconnect can catch up incrementally.
func (h *Handler) HandleConnection(c *gin.Context) {
	userIDAny, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}
	userID, ok := userIDAny.(uint)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	logCtx := logrus.WithField("user_id", userID)

	projectID64, err := strconv.ParseUint(c.Param("projectId"), 10, 32)
	if err != nil || projectID64 == 0 {
		logCtx.Warnf("Invalid project ID: %s", c.Param("projectId"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}
	projectID := uint(projectID64)
	logCtx = logCtx.WithField("project_id", projectID)

	sinceSeq, _ := strconv.ParseUint(c.Query("since"), 10, 64)

	if err := h.access.Authorize(c.Request.Context(), projectID, userID); err != nil {
		if errors.Is(err, service.ErrNotMember) {
			logCtx.Warn("User is not a member of the project")
			c.JSON(http.StatusForbidden, gin.H{"error": "not a project member"})
		} else {
			logCtx.WithError(err).Error("Project authorization check failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to authorize project"})
		}
		return
	}

	session, err := h.directory.Register(c.Request.Context(), projectID, userID)
	if err != nil {
		if errors.Is(err, service.ErrProjectUnavailable) {
			logCtx.WithError(err).Warn("Project unavailable, refusing session")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "project unavailable"})
		} else {
			logCtx.WithError(err).Error("Session registration failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register session"})
		}
		return
	}
	logCtx = logCtx.WithField("session_id", session.ID)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logCtx.WithError(err).Error("Failed to upgrade connection")
		h.directory.Unregister(c.Request.Context(), session.ID)
		return
	}

	client := hub.NewClient(h.hub, conn, projectID, userID, session.ID, sinceSeq)
	if !h.hub.Register(client) {
		logCtx.Error("Hub intake full, dropping new connection")
		client.Close("hub overloaded")
		h.directory.Unregister(c.Request.Context(), session.ID)
		return
	}
	client.Run()
	logCtx.Info("Connection upgraded and client running")
}
