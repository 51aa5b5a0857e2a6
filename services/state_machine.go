package services

import (
	"fmt"
	"time"

	"github.com/qianlnk/werewolf-channels/models"
)

// validTransitions 阶段转换表
var validTransitions = map[models.Phase][]models.Phase{
	models.PhasePre:   {models.PhaseDay},
	models.PhaseDay:   {models.PhaseNight, models.PhaseFinished},
	models.PhaseNight: {models.PhaseDay, models.PhaseFinished},
}

// CanTransitionTo 检查阶段转换是否合法
func CanTransitionTo(from, to models.Phase) bool {
	for _, phase := range validTransitions[from] {
		if phase == to {
			return true
		}
	}
	return false
}

// StateMachine 游戏状态机
type StateMachine struct {
	game *GameState
	now  func() time.Time
}

// NewStateMachine 创建状态机实例
func NewStateMachine(game *GameState, now func() time.Time) *StateMachine {
	if now == nil {
		now = time.Now
	}
	return &StateMachine{game: game, now: now}
}

// Begin 角色分配完成后进入第一天白天
func (sm *StateMachine) Begin() error {
	if err := sm.transition(models.PhaseDay); err != nil {
		return err
	}
	sm.game.Phase.Day = 1
	return nil
}

// Advance 白天进入夜晚，夜晚进入下一天白天
func (sm *StateMachine) Advance() error {
	switch sm.game.Phase.Phase {
	case models.PhaseDay:
		return sm.transition(models.PhaseNight)
	case models.PhaseNight:
		if err := sm.transition(models.PhaseDay); err != nil {
			return err
		}
		sm.game.Phase.Day++
		return nil
	default:
		return fmt.Errorf("%w: 阶段 %s 无法推进", ErrStalePhase, sm.game.Phase.Phase)
	}
}

// Finish 进入结束阶段
func (sm *StateMachine) Finish(winner models.Team) error {
	if err := sm.transition(models.PhaseFinished); err != nil {
		return err
	}
	sm.game.Phase.Winner = winner
	sm.game.closeRecord()
	return nil
}

func (sm *StateMachine) transition(to models.Phase) error {
	if !CanTransitionTo(sm.game.Phase.Phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrStalePhase, sm.game.Phase.Phase, to)
	}
	sm.game.Phase.Phase = to
	sm.game.Phase.ChangedAt = sm.now()
	sm.game.ResetActions()
	return nil
}

// CheckStale 客户端提交的阶段与当前阶段不一致时拒绝
func (sm *StateMachine) CheckStale(phase models.Phase, day int) error {
	current := sm.game.Phase
	if current.Phase == models.PhaseFinished || current.Phase == models.PhasePre {
		return fmt.Errorf("%w: 当前阶段 %s", ErrStalePhase, current.Phase)
	}
	if phase != current.Phase || day != current.Day {
		return fmt.Errorf("%w: 提交于 %s/%d, 当前 %s/%d", ErrStalePhase, phase, day, current.Phase, current.Day)
	}
	return nil
}

// QuorumReached 当前阶段所有应行动的存活玩家是否都已提交
func (sm *StateMachine) QuorumReached() bool {
	phase := sm.game.Phase.Phase
	if phase != models.PhaseDay && phase != models.PhaseNight {
		return false
	}
	for _, p := range sm.game.Participants {
		if !p.Alive() {
			continue
		}
		for _, kind := range sm.RequiredActions(p) {
			if !sm.game.HasAction(kind, p.ID) {
				return false
			}
		}
	}
	return true
}

// RequiredActions 玩家在当前阶段需要完成的动作
func (sm *StateMachine) RequiredActions(p *models.Participant) []models.ActionKind {
	if !p.Alive() {
		return nil
	}
	required := AvailableActions(p.Role, sm.game.Phase.Phase)
	// 没有死者时灵媒无事可做
	if !sm.game.HasDead() {
		filtered := required[:0]
		for _, kind := range required {
			if !targetsDead(kind) {
				filtered = append(filtered, kind)
			}
		}
		required = filtered
	}
	return required
}

// Winner 判定胜负：狼人全部死亡村民胜；存活狼人不少于其他玩家狼人胜
func (sm *StateMachine) Winner() (models.Team, bool) {
	werewolves, others := sm.game.CountAlive()
	if werewolves == 0 {
		return models.TeamVillagers, true
	}
	if werewolves >= others {
		return models.TeamWerewolves, true
	}
	return models.TeamNone, false
}
