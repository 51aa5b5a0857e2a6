package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/qianlnk/werewolf-channels/models"
	"github.com/qianlnk/werewolf-channels/services"
)

func (s *Server) issueToken(c *gin.Context) {
	var req models.Identity
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "需要 user_id"})
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.UserID
	}
	token, err := s.Verifier.Issue(req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) entryUpdate(channelID string, members []models.Member) models.EntryUpdate {
	return models.EntryUpdate{ChannelID: channelID, Capacity: s.Entries.Capacity(), Registered: members}
}

func (s *Server) getEntry(c *gin.Context) {
	channelID := c.Param("id")
	members, err := s.Entries.Members(c.Request.Context(), channelID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.entryUpdate(channelID, members))
}

func (s *Server) register(c *gin.Context) {
	channelID := c.Param("id")
	members, err := s.Entries.Register(c.Request.Context(), channelID, s.identity(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.entryUpdate(channelID, members))
}

func (s *Server) cancel(c *gin.Context) {
	channelID := c.Param("id")
	members, err := s.Entries.Cancel(c.Request.Context(), channelID, s.identity(c).UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.entryUpdate(channelID, members))
}

func (s *Server) start(c *gin.Context) {
	ctrl, err := s.Entries.Promote(c.Request.Context(), c.Param("id"), s.identity(c).UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Info())
}

// requireOwner 只有频道所有者可以管理频道
func (s *Server) requireOwner(c *gin.Context, channelID string) bool {
	owner, err := s.Channels.Owner(c.Request.Context(), channelID)
	if err != nil {
		s.fail(c, err)
		return false
	}
	if owner == "" || owner != s.identity(c).UserID {
		s.fail(c, fmt.Errorf("%w: 不是频道所有者", services.ErrNotAuthorized))
		return false
	}
	return true
}

func (s *Server) claimChannel(c *gin.Context) {
	channelID := c.Param("id")
	owner, err := s.Channels.Owner(c.Request.Context(), channelID)
	if err != nil {
		s.fail(c, err)
		return
	}
	me := s.identity(c).UserID
	if owner != "" && owner != me {
		s.fail(c, fmt.Errorf("%w: 频道已有所有者", services.ErrNotAuthorized))
		return
	}
	s.Channels.SetOwner(channelID, me)
	c.JSON(http.StatusOK, gin.H{"channel_id": channelID, "owner": me})
}

func (s *Server) blockUser(c *gin.Context) {
	channelID := c.Param("id")
	if !s.requireOwner(c, channelID) {
		return
	}
	var user models.Identity
	if err := c.ShouldBindJSON(&user); err != nil || user.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "需要 user_id"})
		return
	}
	if s.Channels.Block(channelID, user) {
		if _, err := s.Entries.Cancel(c.Request.Context(), channelID, user.UserID); err != nil {
			s.logger.Warn("cancel entry of blocked user", "channel", channelID, "user", user.UserID, "error", err)
		}
		s.publishChannel(channelID, models.DeltaUserBlocked, user)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) unblockUser(c *gin.Context) {
	channelID := c.Param("id")
	if !s.requireOwner(c, channelID) {
		return
	}
	if user, ok := s.Channels.Unblock(channelID, c.Param("uid")); ok {
		s.publishChannel(channelID, models.DeltaUnblock, user)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) updateSettings(c *gin.Context) {
	channelID := c.Param("id")
	if !s.requireOwner(c, channelID) {
		return
	}
	var patch map[string]string
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	settings := s.Channels.UpdateSettings(channelID, patch)
	s.publishChannel(channelID, models.DeltaSettingsChanged, patch)
	c.JSON(http.StatusOK, settings)
}

func (s *Server) publishChannel(channelID string, kind models.DeltaKind, payload any) {
	topic := services.ChannelTopic(channelID)
	s.Hub.Publish(topic, models.Envelope{Type: string(kind), Topic: topic, Payload: payload})
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.Games.List()})
}

func (s *Server) getSession(c *gin.Context) {
	ctrl, err := s.Games.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot(s.identity(c).UserID))
}

func (s *Server) submitAction(c *gin.Context) {
	ctrl, err := s.Games.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	var action models.Action
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	action.SessionID = ctrl.SessionID()
	action.ActorID = s.identity(c).UserID
	if err := ctrl.Submit(c.Request.Context(), action); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Ack{OK: true})
}

// getHistory 未结束的会话只返回投票记录和本人的记录
func (s *Server) getHistory(c *gin.Context) {
	if s.History == nil {
		s.fail(c, fmt.Errorf("%w: 未配置历史存储", services.ErrNotFound))
		return
	}
	sessionID := c.Param("id")
	records, err := s.History.List(c.Request.Context(), sessionID)
	if err != nil {
		s.fail(c, err)
		return
	}

	// 只有持久化了非作废结果的会话才公开全部记录，重启后内存中没有的会话按进行中处理
	finished := false
	outcome, err := s.History.Outcome(c.Request.Context(), sessionID)
	switch {
	case err == nil:
		finished = !outcome.Void
	case !errors.Is(err, services.ErrNotFound):
		s.fail(c, err)
		return
	}
	if !finished {
		me := s.identity(c).UserID
		visible := records[:0]
		for _, r := range records {
			if r.Kind == models.ActionVote || r.ActorID == me {
				visible = append(visible, r)
			}
		}
		records = visible
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) getOutcome(c *gin.Context) {
	if s.History == nil {
		s.fail(c, fmt.Errorf("%w: 未配置历史存储", services.ErrNotFound))
		return
	}
	outcome, err := s.History.Outcome(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}
