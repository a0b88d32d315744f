package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) HandleListJobs(c *gin.Context) {
	if s.scheduler == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": s.scheduler.Status()})
}

func (s *Server) HandleTriggerJob(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	if s.scheduler == nil || name == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.scheduler.Trigger(c.Request.Context(), name); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "triggered", "job": name})
}
