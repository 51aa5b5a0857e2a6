package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qianlnk/werewolf-channels/models"
	"github.com/qianlnk/werewolf-channels/services"
)

// requestTimeout 单个请求的处理时限，超时视为失败，客户端可安全重试
const requestTimeout = 5 * time.Second

// ChannelState joinChannel 的应答
type ChannelState struct {
	ChannelID string             `json:"channel_id"`
	Users     []models.Identity  `json:"users"`
	Blocked   []models.Identity  `json:"blocked,omitempty"`
	Settings  map[string]string  `json:"settings,omitempty"`
	Entry     models.EntryUpdate `json:"entry"`
	SessionID string             `json:"session_id,omitempty"`
}

func (s *Server) serveWS(c *gin.Context) {
	identity := s.identity(c)
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("upgrade websocket", "error", err)
		return
	}
	client := s.Hub.Register(identity)
	s.logger.Info("websocket connected", "conn", client.ID, "user", identity.UserID)

	base := context.WithoutCancel(c.Request.Context())
	s.Hub.Serve(conn, client, func(cl *services.Client, data []byte) {
		s.dispatch(base, cl, data)
	})
	s.logger.Info("websocket closed", "conn", client.ID, "user", identity.UserID)
}

// dispatch 每条请求对应一次操作调用，结果以 ack 返回
func (s *Server) dispatch(base context.Context, cl *services.Client, data []byte) {
	var in models.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		s.logger.Debug("decode inbound", "conn", cl.ID, "error", err)
		s.ack(cl, "", nil, fmt.Errorf("%w: %v", services.ErrBadRequest, err))
		return
	}

	ctx, cancel := context.WithTimeout(base, requestTimeout)
	defer cancel()

	result, err := s.handle(ctx, cl, in)
	s.ack(cl, in.RequestID, result, err)
}

func (s *Server) handle(ctx context.Context, cl *services.Client, in models.Inbound) (any, error) {
	switch in.Type {
	case models.InJoinChannel:
		s.Hub.Subscribe(cl, services.ChannelTopic(in.ChannelID))
		s.Hub.Subscribe(cl, services.EntryTopic(in.ChannelID))
		return s.channelState(ctx, in.ChannelID)

	case models.InLeaveChannel:
		s.Hub.Unsubscribe(cl, services.EntryTopic(in.ChannelID))
		s.Hub.Unsubscribe(cl, services.ChannelTopic(in.ChannelID))
		return nil, nil

	case models.InRegister:
		members, err := s.Entries.Register(ctx, in.ChannelID, cl.User)
		if err != nil {
			return nil, err
		}
		return s.entryUpdate(in.ChannelID, members), nil

	case models.InCancel:
		members, err := s.Entries.Cancel(ctx, in.ChannelID, cl.User.UserID)
		if err != nil {
			return nil, err
		}
		return s.entryUpdate(in.ChannelID, members), nil

	case models.InStart:
		ctrl, err := s.Entries.Promote(ctx, in.ChannelID, cl.User.UserID)
		if err != nil {
			return nil, err
		}
		return ctrl.Info(), nil

	case models.InJoinSession:
		return nil, s.joinSession(ctx, cl, in.SessionID)

	case models.InAction:
		if in.Action == nil {
			return nil, fmt.Errorf("%w: 缺少动作", services.ErrBadRequest)
		}
		ctrl, err := s.Games.Get(in.SessionID)
		if err != nil {
			return nil, err
		}
		action := *in.Action
		action.SessionID = ctrl.SessionID()
		action.ActorID = cl.User.UserID
		return nil, ctrl.Submit(ctx, action)

	default:
		return nil, fmt.Errorf("%w: 未知请求 %q", services.ErrBadRequest, in.Type)
	}
}

func (s *Server) channelState(ctx context.Context, channelID string) (*ChannelState, error) {
	members, err := s.Entries.Members(ctx, channelID)
	if err != nil {
		return nil, err
	}
	blocked, err := s.Channels.Blocked(ctx, channelID)
	if err != nil {
		return nil, err
	}
	settings, err := s.Channels.Settings(ctx, channelID)
	if err != nil {
		return nil, err
	}
	state := &ChannelState{
		ChannelID: channelID,
		Users:     s.Hub.Users(services.ChannelTopic(channelID)),
		Blocked:   blocked,
		Settings:  settings,
		Entry:     s.entryUpdate(channelID, members),
	}
	if ctrl, ok := s.Games.ForChannel(channelID); ok {
		state.SessionID = ctrl.SessionID()
	}
	return state, nil
}

// joinSession 订阅会话后在会话锁内下发快照，之后的增量都排在快照之后
func (s *Server) joinSession(ctx context.Context, cl *services.Client, sessionID string) error {
	ctrl, err := s.Games.Get(sessionID)
	if err != nil {
		return err
	}
	topic := services.SessionTopic(sessionID)
	s.Hub.Subscribe(cl, topic)

	blocked, err := s.Channels.Blocked(ctx, ctrl.ChannelID())
	if err != nil {
		return err
	}
	settings, err := s.Channels.Settings(ctx, ctrl.ChannelID())
	if err != nil {
		return err
	}
	users := s.Hub.Users(services.ChannelTopic(ctrl.ChannelID()))

	return ctrl.Attach(cl.User.UserID, func(snap models.Snapshot) {
		snap.Users = users
		snap.Blocked = blocked
		snap.Settings = settings
		s.Hub.SendToClient(cl, models.Envelope{Type: string(models.DeltaJoinSession), Topic: topic, Payload: snap})
	})
}

func (s *Server) ack(cl *services.Client, requestID string, data any, err error) {
	ack := models.Ack{OK: err == nil, Data: data}
	if err != nil {
		ack.Error = errorBody(err)
	}
	s.Hub.SendToClient(cl, models.Envelope{Type: models.EventAck, RequestID: requestID, Payload: ack})
}
