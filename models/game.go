package models

import "time"

// Role 游戏角色
type Role string

const (
	RoleNone Role = ""         // 未分配
	Villager Role = "villager" // 村民
	Seer     Role = "seer"     // 预言家
	Medium   Role = "medium"   // 灵媒
	Hunter   Role = "hunter"   // 猎人（守护）
	Werewolf Role = "werewolf" // 狼人
	Madman   Role = "madman"   // 狂人
)

// Valid 判断角色是否合法
func (r Role) Valid() bool {
	switch r {
	case Villager, Seer, Medium, Hunter, Werewolf, Madman:
		return true
	}
	return false
}

// Team 返回角色所属阵营，狂人在占卜和胜负计数中按村民阵营处理
func (r Role) Team() Team {
	if r == Werewolf {
		return TeamWerewolves
	}
	return TeamVillagers
}

// Team 阵营
type Team string

const (
	TeamNone       Team = ""
	TeamVillagers  Team = "villagers"
	TeamWerewolves Team = "werewolves"
)

// Status 玩家存活状态
type Status string

const (
	Alive Status = "alive"
	Dead  Status = "dead"
)

// Phase 游戏阶段
type Phase string

const (
	PhasePre      Phase = "pre"
	PhaseDay      Phase = "day"
	PhaseNight    Phase = "night"
	PhaseFinished Phase = "finished"
)

// ActionKind 动作类型
type ActionKind string

const (
	ActionVote    ActionKind = "vote"    // 白天投票
	ActionFortune ActionKind = "fortune" // 预言家占卜
	ActionMedium  ActionKind = "medium"  // 灵媒通灵
	ActionGuard   ActionKind = "guard"   // 猎人守护
	ActionAttack  ActionKind = "attack"  // 狼人袭击
)

// ActionKinds 全部动作类型，按结算顺序排列
var ActionKinds = []ActionKind{ActionVote, ActionFortune, ActionMedium, ActionGuard, ActionAttack}

// Member 报名者
type Member struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsBot       bool   `json:"is_bot,omitempty"`
}

// Identity 经过认证的用户身份
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Participant 玩家信息
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Status      Status `json:"status"`
	Role        Role   `json:"role,omitempty"`
	PartnerID   string `json:"partner_id,omitempty"`
	IsBot       bool   `json:"is_bot,omitempty"`
}

// Alive 是否存活
func (p *Participant) Alive() bool {
	return p.Status == Alive
}

// GamePhase 当前阶段，始终整体下发
type GamePhase struct {
	Day       int       `json:"day"`
	Phase     Phase     `json:"phase"`
	ChangedAt time.Time `json:"changed_at"`
	Winner    Team      `json:"winner,omitempty"`
}

// Action 游戏动作，以 (day, actor, kind) 唯一
type Action struct {
	SessionID string     `json:"session_id"`
	Day       int        `json:"day"`
	Phase     Phase      `json:"phase"`
	ActorID   string     `json:"actor_id"`
	TargetID  string     `json:"target_id"`
	Kind      ActionKind `json:"kind"`
}

// SessionInfo 会话概要
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	ChannelID string    `json:"channel_id"`
	Phase     GamePhase `json:"phase"`
	Players   int       `json:"players"`
}
