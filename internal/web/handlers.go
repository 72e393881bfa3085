package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/api"
	"github.com/tupski/wa-monitor/internal/mediaqueue"
	"github.com/tupski/wa-monitor/internal/source"
	intsync "github.com/tupski/wa-monitor/internal/sync"
)

func (s *Server) health(c *gin.Context) {
	report := s.monitor.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"session":   report.Session,
		"state":     report.State,
		"connected": report.Connected,
		"syncing":   report.Syncing,
	})
}

func (s *Server) listChats(c *gin.Context) {
	chats, err := s.monitor.ListConversations(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (s *Server) getMessages(c *gin.Context) {
	msgs, err := s.monitor.GetMessages(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) getCallLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": s.monitor.GetCallLogs(c.Param("id"))})
}

func (s *Server) requestMedia(c *gin.Context) {
	req, err := s.monitor.RequestMediaDownload(c.Param("msgId"), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.RequestMediaResponse{RequestID: req.ID, Status: req.Status})
}

func (s *Server) startSync(c *gin.Context) {
	res := s.monitor.StartSync()
	code := http.StatusAccepted
	if res.Status != intsync.StartStarted {
		code = http.StatusOK
	}
	c.JSON(code, res)
}

func (s *Server) stopSync(c *gin.Context) {
	c.JSON(http.StatusOK, api.StopSyncResponse{Stopped: s.monitor.StopSync()})
}

func (s *Server) syncProgress(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.GetSyncProgress())
}

// loadProfiles runs in the background; progress arrives as profile.* events.
func (s *Server) loadProfiles(c *gin.Context) {
	var body api.LoadProfilesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
			return
		}
	}
	go func() {
		if _, err := s.monitor.LoadProfiles(s.base, body.IDs); err != nil {
			s.logger.Warn("profile load failed", zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (s *Server) getContact(c *gin.Context) {
	contact, err := s.monitor.GetContactInfo(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (s *Server) getSelf(c *gin.Context) {
	me, err := s.monitor.GetSelfInfo(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, me)
}

// loadProfile waits for the download, unlike loadProfiles.
func (s *Server) loadProfile(c *gin.Context) {
	item, err := s.monitor.LoadProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, api.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, mediaqueue.ErrMessageNotFound), errors.Is(err, source.ErrUnknownContact):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, api.ErrUnsupported):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
