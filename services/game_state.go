package services

import (
	"sort"

	"github.com/qianlnk/werewolf-channels/models"
)

// GameState 单局游戏状态，只能在 GameController 持有锁时修改
type GameState struct {
	SessionID    string
	ChannelID    string
	Participants []*models.Participant
	Phase        models.GamePhase
	Pending      map[models.ActionKind]map[string]models.Action
	History      []models.DayRecord
	Current      *models.DayRecord
	Private      map[string][]models.Revelation

	index map[string]*models.Participant
}

// NewGameState 由报名名单创建游戏状态
func NewGameState(sessionID, channelID string, members []models.Member) *GameState {
	gs := &GameState{
		SessionID:    sessionID,
		ChannelID:    channelID,
		Participants: make([]*models.Participant, 0, len(members)),
		Phase:        models.GamePhase{Phase: models.PhasePre},
		Private:      make(map[string][]models.Revelation),
		index:        make(map[string]*models.Participant, len(members)),
	}
	for _, m := range members {
		p := &models.Participant{
			ID:          m.UserID,
			DisplayName: m.DisplayName,
			Status:      models.Alive,
			IsBot:       m.IsBot,
		}
		gs.Participants = append(gs.Participants, p)
		gs.index[p.ID] = p
	}
	gs.ResetActions()
	return gs
}

// Player 查找玩家
func (gs *GameState) Player(id string) (*models.Participant, bool) {
	p, ok := gs.index[id]
	return p, ok
}

// AddAction 记录动作，同一玩家同一天同类动作后写覆盖前写
func (gs *GameState) AddAction(action models.Action) (replaced bool) {
	byActor := gs.Pending[action.Kind]
	_, replaced = byActor[action.ActorID]
	byActor[action.ActorID] = action
	return replaced
}

// HasAction 检查玩家是否执行了特定类型的动作
func (gs *GameState) HasAction(kind models.ActionKind, actorID string) bool {
	_, ok := gs.Pending[kind][actorID]
	return ok
}

// ActionsOf 返回某类动作，按行动者 ID 排序
func (gs *GameState) ActionsOf(kind models.ActionKind) []models.Action {
	byActor := gs.Pending[kind]
	actions := make([]models.Action, 0, len(byActor))
	for _, a := range byActor {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].ActorID < actions[j].ActorID })
	return actions
}

// ResetActions 清空行动列表
func (gs *GameState) ResetActions() {
	gs.Pending = make(map[models.ActionKind]map[string]models.Action, len(models.ActionKinds))
	for _, kind := range models.ActionKinds {
		gs.Pending[kind] = make(map[string]models.Action)
	}
}

// CountAlive 统计各阵营存活人数
func (gs *GameState) CountAlive() (werewolves, others int) {
	for _, p := range gs.Participants {
		if !p.Alive() {
			continue
		}
		if p.Role.Team() == models.TeamWerewolves {
			werewolves++
		} else {
			others++
		}
	}
	return werewolves, others
}

// HasDead 是否已有死亡玩家
func (gs *GameState) HasDead() bool {
	for _, p := range gs.Participants {
		if !p.Alive() {
			return true
		}
	}
	return false
}

// record 返回当天正在累积的记录
func (gs *GameState) record() *models.DayRecord {
	if gs.Current == nil || gs.Current.Day != gs.Phase.Day {
		gs.closeRecord()
		gs.Current = &models.DayRecord{Day: gs.Phase.Day}
	}
	return gs.Current
}

// closeRecord 一天结束后把记录追加到历史
func (gs *GameState) closeRecord() {
	if gs.Current != nil {
		gs.History = append(gs.History, *gs.Current)
		gs.Current = nil
	}
}

func (gs *GameState) finished() bool {
	return gs.Phase.Phase == models.PhaseFinished
}

// ViewOf 返回 viewer 可见的玩家信息：自己的角色、狼人同伴、结束后全部公开
func (gs *GameState) ViewOf(p *models.Participant, viewer string) models.Participant {
	view := models.Participant{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Status:      p.Status,
		IsBot:       p.IsBot,
	}
	if gs.finished() || p.ID == viewer {
		view.Role = p.Role
		view.PartnerID = p.PartnerID
		return view
	}
	if v, ok := gs.index[viewer]; ok && v.PartnerID != "" && v.PartnerID == p.ID {
		view.Role = p.Role
		view.PartnerID = p.PartnerID
	}
	return view
}

// Snapshot 生成 viewer 的完整状态
func (gs *GameState) Snapshot(viewer string) models.Snapshot {
	snap := models.Snapshot{
		SessionID:    gs.SessionID,
		ChannelID:    gs.ChannelID,
		Self:         viewer,
		Phase:        gs.Phase,
		Participants: make([]models.Participant, 0, len(gs.Participants)),
	}
	for _, p := range gs.Participants {
		snap.Participants = append(snap.Participants, gs.ViewOf(p, viewer))
	}

	role := models.RoleNone
	if v, ok := gs.index[viewer]; ok {
		role = v.Role
	}
	records := gs.History
	if gs.Current != nil {
		records = append(records[:len(records):len(records)], *gs.Current)
	}
	for _, r := range records {
		snap.History = append(snap.History, r.ViewFor(role, gs.finished()))
	}
	if private := gs.Private[viewer]; len(private) > 0 {
		snap.Private = append([]models.Revelation(nil), private...)
	}
	return snap
}

// Roles 返回全部角色
func (gs *GameState) Roles() map[string]models.Role {
	roles := make(map[string]models.Role, len(gs.Participants))
	for _, p := range gs.Participants {
		roles[p.ID] = p.Role
	}
	return roles
}
