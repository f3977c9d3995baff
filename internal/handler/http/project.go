package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ankit-raj78/synxSphere-sub001/internal/repository"
	"github.com/ankit-raj78/synxSphere-sub001/internal/service"
)

// ProjectHandler exposes read-only project status over HTTP so
// dashboards and the workspace backend can poll without holding a
// WebSocket open.
type ProjectHandler struct {
	directory   *service.Directory
	broadcaster *service.Broadcaster
	stateRepo   repository.StateRepository
}

// NewProjectHandler creates a ProjectHandler instance.
func NewProjectHandler(directory *service.Directory, broadcaster *service.Broadcaster, stateRepo repository.StateRepository) *ProjectHandler {
	if directory == nil || broadcaster == nil || stateRepo == nil {
		panic("all dependencies must be non-nil for ProjectHandler")
	}
	return &ProjectHandler{
		directory:   directory,
		broadcaster: broadcaster,
		stateRepo:   stateRepo,
	}
}

// PresenceResponse lists the users with live sessions in a project.
type PresenceResponse struct {
	ProjectID uint   `json:"project_id"`
	Users     []uint `json:"users"`
}

// StatusResponse reports the project's sequence head and health.
type StatusResponse struct {
	ProjectID uint   `json:"project_id"`
	Sequence  uint64 `json:"sequence"`
	Degraded  bool   `json:"degraded"`
	Active    int    `json:"active_sessions"`
}

func parseProjectID(c *gin.Context) (uint, bool) {
	id64, err := strconv.ParseUint(c.Param("projectId"), 10, 32)
	if err != nil || id64 == 0 {
		ErrorResponse(c, http.StatusBadRequest, "invalid project id")
		return 0, false
	}
	return uint(id64), true
}

// GetPresence handles GET /api/projects/:projectId/presence.
func (h *ProjectHandler) GetPresence(c *gin.Context) {
	projectID, ok := parseProjectID(c)
	if !ok {
		return
	}

	users := h.directory.ListActive(projectID)
	if users == nil {
		users = []uint{}
	}
	SuccessResponse(c, http.StatusOK, PresenceResponse{ProjectID: projectID, Users: users})
}

// GetStatus handles GET /api/projects/:projectId/status.
func (h *ProjectHandler) GetStatus(c *gin.Context) {
	projectID, ok := parseProjectID(c)
	if !ok {
		return
	}

	seq, err := h.stateRepo.CurrentSequence(c.Request.Context(), projectID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logrus.WithError(err).WithField("project_id", projectID).Error("Failed to read project sequence")
		HandleServiceError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, StatusResponse{
		ProjectID: projectID,
		Sequence:  seq,
		Degraded:  h.broadcaster.Degraded(projectID),
		Active:    len(h.directory.ListActive(projectID)),
	})
}
