package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/qianlnk/werewolf-channels/models"
)

// ActionResolver 收集并结算动作
type ActionResolver struct {
	game *GameState
	sm   *StateMachine
	now  func() time.Time
}

// NewActionResolver 创建结算器
func NewActionResolver(game *GameState, sm *StateMachine) *ActionResolver {
	return &ActionResolver{game: game, sm: sm, now: sm.now}
}

// Resolution 一个阶段的结算结果
type Resolution struct {
	Phase       models.Phase
	Record      models.DayRecord
	Deaths      []string
	Revelations map[string]models.Revelation // 行动者 -> 结果
	Records     []models.HistoryRecord
}

// Validate 验证动作是否有效
func (ar *ActionResolver) Validate(action models.Action) error {
	if err := ar.sm.CheckStale(action.Phase, action.Day); err != nil {
		return err
	}
	actor, ok := ar.game.Player(action.ActorID)
	if !ok {
		return fmt.Errorf("%w: 玩家 %s", ErrNotFound, action.ActorID)
	}
	if !actor.Alive() {
		return fmt.Errorf("%w: 死亡玩家不能行动", ErrIneligibleAction)
	}
	if !CanAct(actor.Role, ar.game.Phase.Phase, action.Kind) {
		return fmt.Errorf("%w: %s 在 %s 不能执行 %s", ErrIneligibleAction, actor.Role, ar.game.Phase.Phase, action.Kind)
	}
	return ar.validateTarget(actor, action.Kind, action.TargetID)
}

func (ar *ActionResolver) validateTarget(actor *models.Participant, kind models.ActionKind, targetID string) error {
	target, ok := ar.game.Player(targetID)
	if !ok {
		return fmt.Errorf("%w: 目标 %q 不存在", ErrInvalidTarget, targetID)
	}
	if target.ID == actor.ID {
		return fmt.Errorf("%w: 不能以自己为目标", ErrInvalidTarget)
	}
	if targetsDead(kind) {
		if target.Alive() {
			return fmt.Errorf("%w: 通灵对象必须已死亡", ErrInvalidTarget)
		}
	} else if !target.Alive() {
		return fmt.Errorf("%w: 目标已死亡", ErrInvalidTarget)
	}
	if partnerRestricted(ar.game.Phase.Phase) && actor.PartnerID != "" && actor.PartnerID == target.ID {
		return fmt.Errorf("%w: 不能以同伴为目标", ErrInvalidTarget)
	}
	return nil
}

// Submit 验证并记录动作，重复提交覆盖之前的目标
func (ar *ActionResolver) Submit(action models.Action) (replaced bool, err error) {
	if err := ar.Validate(action); err != nil {
		return false, err
	}
	action.SessionID = ar.game.SessionID
	return ar.game.AddAction(action), nil
}

// ValidTargets 返回玩家执行该动作时可选的目标
func (ar *ActionResolver) ValidTargets(actor *models.Participant, kind models.ActionKind) []*models.Participant {
	targets := make([]*models.Participant, 0, len(ar.game.Participants))
	for _, p := range ar.game.Participants {
		if ar.validateTarget(actor, kind, p.ID) == nil {
			targets = append(targets, p)
		}
	}
	return targets
}

// tally 统计票数，返回得票最多者，平票时取 ID 最小者
func tally(actions []models.Action) (string, map[string][]string) {
	votes := make(map[string][]string)
	for _, a := range actions {
		votes[a.TargetID] = append(votes[a.TargetID], a.ActorID)
	}
	targets := make([]string, 0, len(votes))
	for target, voters := range votes {
		sort.Strings(voters)
		targets = append(targets, target)
	}
	sort.Strings(targets)

	var top string
	maxVotes := 0
	for _, target := range targets {
		if n := len(votes[target]); n > maxVotes {
			maxVotes = n
			top = target
		}
	}
	return top, votes
}

// ResolveDay 结算白天投票
func (ar *ActionResolver) ResolveDay() Resolution {
	res := Resolution{Phase: models.PhaseDay}
	record := ar.game.record()

	executed, votes := tally(ar.game.ActionsOf(models.ActionVote))
	record.Votes = votes
	if executed != "" {
		ar.kill(executed)
		record.Executed = executed
		res.Deaths = append(res.Deaths, executed)
	}
	res.Records = append(res.Records, ar.historyRecord(models.ActionVote, "", map[string]any{
		"votes":    votes,
		"executed": executed,
	}))
	res.Record = *record
	return res
}

// ResolveNight 结算夜晚：占卜、通灵、守护、袭击
func (ar *ActionResolver) ResolveNight() Resolution {
	res := Resolution{
		Phase:       models.PhaseNight,
		Revelations: make(map[string]models.Revelation),
	}
	record := ar.game.record()

	// 占卜和通灵按结算前的角色给出阵营
	for _, kind := range []models.ActionKind{models.ActionFortune, models.ActionMedium} {
		for _, a := range ar.game.ActionsOf(kind) {
			target, _ := ar.game.Player(a.TargetID)
			rev := models.Revelation{
				Day:      ar.game.Phase.Day,
				Kind:     kind,
				PlayerID: target.ID,
				Team:     target.Role.Team(),
			}
			ar.game.Private[a.ActorID] = append(ar.game.Private[a.ActorID], rev)
			res.Revelations[a.ActorID] = rev
			res.Records = append(res.Records, ar.historyRecord(kind, a.ActorID, rev))
		}
	}

	guarded := make(map[string]bool)
	guards := ar.game.ActionsOf(models.ActionGuard)
	for _, a := range guards {
		guarded[a.TargetID] = true
	}

	attacked, _ := tally(ar.game.ActionsOf(models.ActionAttack))
	record.Attacked = attacked
	if attacked != "" {
		if guarded[attacked] {
			record.GuardSucceeded = true
		} else {
			ar.kill(attacked)
			record.Killed = attacked
			res.Deaths = append(res.Deaths, attacked)
		}
	}

	for _, a := range guards {
		if record.Guarded == "" || a.TargetID == attacked {
			record.Guarded = a.TargetID
		}
		res.Records = append(res.Records, ar.historyRecord(models.ActionGuard, a.ActorID, map[string]any{
			"target":    a.TargetID,
			"succeeded": a.TargetID == attacked,
		}))
	}
	res.Records = append(res.Records, ar.historyRecord(models.ActionAttack, "", map[string]any{
		"target": attacked,
		"killed": record.Killed,
	}))

	res.Record = *record
	return res
}

func (ar *ActionResolver) kill(id string) {
	if p, ok := ar.game.Player(id); ok {
		p.Status = models.Dead
	}
}

func (ar *ActionResolver) historyRecord(kind models.ActionKind, actorID string, payload any) models.HistoryRecord {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}
	return models.HistoryRecord{
		SessionID: ar.game.SessionID,
		Day:       ar.game.Phase.Day,
		Kind:      kind,
		ActorID:   actorID,
		Payload:   data,
		CreatedAt: ar.now(),
	}
}
