package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ankit-raj78/synxSphere-sub001/internal/service"
)

func HandleServiceError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrNotMember) {
		ErrorResponse(c, http.StatusForbidden, err.Error())
	} else if errors.Is(err, service.ErrSessionNotFound) {
		ErrorResponse(c, http.StatusNotFound, err.Error())
	} else if errors.Is(err, service.ErrProjectUnavailable) || errors.Is(err, service.ErrSyncUnavailable) {
		ErrorResponse(c, http.StatusServiceUnavailable, err.Error())
	} else {
		// Log the internal error for debugging
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
