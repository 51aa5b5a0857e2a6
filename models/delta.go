package models

import "encoding/json"

// DeltaKind 客户端状态归约所接受的增量类型
type DeltaKind string

const (
	DeltaJoinSession     DeltaKind = "JOIN_SESSION"
	DeltaUserJoined      DeltaKind = "USER_JOINED"
	DeltaUserLeft        DeltaKind = "USER_LEFT"
	DeltaUserBlocked     DeltaKind = "USER_BLOCKED"
	DeltaUnblock         DeltaKind = "UNBLOCK"
	DeltaSettingsChanged DeltaKind = "SETTINGS_CHANGED"
	DeltaStateUpdate     DeltaKind = "STATE_UPDATE"
)

// 不参与归约的通知事件
const (
	EventAck           = "ack"
	EventEntryUpdate   = "entryUpdate"
	EventGameStart     = "gameStart"
	EventNavigateGame  = "navigateGame"
	EventPhaseResult   = "phaseResult"
	EventPrivateResult = "privateResult"
	EventSessionVoid   = "sessionVoid"
)

// 客户端请求类型
const (
	InJoinChannel  = "joinChannel"
	InLeaveChannel = "leaveChannel"
	InRegister     = "register"
	InCancel       = "cancel"
	InStart        = "start"
	InJoinSession  = "joinSession"
	InAction       = "action"
)

// Envelope 下发消息外层结构
type Envelope struct {
	Type      string `json:"type"`
	Topic     string `json:"topic,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// RawEnvelope 客户端解码用
type RawEnvelope struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Inbound 客户端请求
type Inbound struct {
	Type      string  `json:"type"`
	RequestID string  `json:"request_id,omitempty"`
	ChannelID string  `json:"channel_id,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	Action    *Action `json:"action,omitempty"`
}

// Ack 请求应答
type Ack struct {
	OK    bool       `json:"ok"`
	Error *ErrorBody `json:"error,omitempty"`
	Data  any        `json:"data,omitempty"`
}

// ErrorBody 错误码和描述
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Snapshot 加入或重连会话时下发的完整状态
type Snapshot struct {
	SessionID    string            `json:"session_id"`
	ChannelID    string            `json:"channel_id"`
	Self         string            `json:"self"`
	Phase        GamePhase         `json:"phase"`
	Participants []Participant     `json:"participants"`
	Users        []Identity        `json:"users,omitempty"`
	Blocked      []Identity        `json:"blocked,omitempty"`
	Settings     map[string]string `json:"settings,omitempty"`
	History      []DayRecord       `json:"history,omitempty"`
	Private      []Revelation      `json:"private,omitempty"`
}

// StateUpdate 阶段整体替换，玩家按 ID 合并，未出现的玩家保持不变
type StateUpdate struct {
	Phase        *GamePhase    `json:"phase,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
}

// Delta 单条增量
type Delta struct {
	Kind     DeltaKind
	Snapshot *Snapshot
	User     *Identity
	Settings map[string]string
	State    *StateUpdate
}

// EntryUpdate 报名列表
type EntryUpdate struct {
	ChannelID  string   `json:"channel_id"`
	Capacity   int      `json:"capacity"`
	Registered []Member `json:"registered"`
}

// GameStart 开局通知，navigateGame 也使用该结构
type GameStart struct {
	SessionID string `json:"session_id"`
	ChannelID string `json:"channel_id"`
}

// PhaseResult 阶段结算公告
type PhaseResult struct {
	SessionID string    `json:"session_id"`
	Phase     Phase     `json:"phase"`
	Record    DayRecord `json:"record"`
	Winner    Team      `json:"winner,omitempty"`
}

// PrivateResult 仅发给行动者的结果
type PrivateResult struct {
	SessionID  string     `json:"session_id"`
	Revelation Revelation `json:"revelation"`
}

// SessionVoid 会话作废通知
type SessionVoid struct {
	SessionID string `json:"session_id"`
	ChannelID string `json:"channel_id"`
	Reason    string `json:"reason"`
}
