package services

import "github.com/qianlnk/werewolf-channels/models"

type eligibilityKey struct {
	phase models.Phase
	kind  models.ActionKind
}

// eligibility 阶段 × 动作 -> 允许的角色，空集合表示任何存活玩家
var eligibility = map[eligibilityKey]map[models.Role]bool{
	{models.PhaseDay, models.ActionVote}:      nil,
	{models.PhaseNight, models.ActionFortune}: {models.Seer: true},
	{models.PhaseNight, models.ActionMedium}:  {models.Medium: true},
	{models.PhaseNight, models.ActionGuard}:   {models.Hunter: true},
	{models.PhaseNight, models.ActionAttack}:  {models.Werewolf: true},
}

// CanAct 判断角色在当前阶段是否可以执行该动作
func CanAct(role models.Role, phase models.Phase, kind models.ActionKind) bool {
	roles, ok := eligibility[eligibilityKey{phase, kind}]
	if !ok {
		return false
	}
	if roles == nil {
		return role.Valid()
	}
	return roles[role]
}

// AvailableActions 返回角色在当前阶段可执行的动作
func AvailableActions(role models.Role, phase models.Phase) []models.ActionKind {
	actions := make([]models.ActionKind, 0, 1)
	for _, kind := range models.ActionKinds {
		if CanAct(role, phase, kind) {
			actions = append(actions, kind)
		}
	}
	return actions
}

// targetsDead 通灵的对象是已死亡玩家
func targetsDead(kind models.ActionKind) bool {
	return kind == models.ActionMedium
}

// partnerRestricted 夜间动作不能以同伴为目标
func partnerRestricted(phase models.Phase) bool {
	return phase == models.PhaseNight
}
