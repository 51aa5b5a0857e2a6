package services

import (
	"fmt"
	"math/rand/v2"

	"github.com/qianlnk/werewolf-channels/models"
)

// DefaultRolePool 按人数生成角色池，10 人时为
// 村民×4、预言家、灵媒、猎人、狼人×2、狂人
func DefaultRolePool(playerCount int) []models.Role {
	roles := make([]models.Role, 0, playerCount)

	werewolves := 1
	if playerCount >= 8 {
		werewolves++
	}
	if playerCount >= 13 {
		werewolves++
	}
	for i := 0; i < werewolves; i++ {
		roles = append(roles, models.Werewolf)
	}
	if playerCount >= 4 {
		roles = append(roles, models.Seer)
	}
	if playerCount >= 6 {
		roles = append(roles, models.Hunter)
	}
	if playerCount >= 7 {
		roles = append(roles, models.Medium)
	}
	if playerCount >= 9 {
		roles = append(roles, models.Madman)
	}

	// 补充村民角色
	for len(roles) < playerCount {
		roles = append(roles, models.Villager)
	}
	return roles[:playerCount]
}

// RoleAssigner 角色分配器
type RoleAssigner struct {
	rng *rand.Rand
}

// NewRoleAssigner 创建角色分配器，rng 为空时使用随机种子
func NewRoleAssigner(rng *rand.Rand) *RoleAssigner {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RoleAssigner{rng: rng}
}

// Assign 把角色池随机打乱后按顺序分配给玩家，并让两名狼人互为同伴
func (ra *RoleAssigner) Assign(roster []*models.Participant, pool []models.Role) error {
	if len(roster) != len(pool) {
		return fmt.Errorf("%w: %d 名玩家, %d 个角色", ErrRolePoolMismatch, len(roster), len(pool))
	}
	for _, p := range roster {
		if p.Role != models.RoleNone {
			return fmt.Errorf("%w: 玩家 %s 已有角色", ErrRolePoolMismatch, p.ID)
		}
	}
	for _, r := range pool {
		if !r.Valid() {
			return fmt.Errorf("%w: 未知角色 %q", ErrRolePoolMismatch, r)
		}
	}

	shuffled := make([]models.Role, len(pool))
	copy(shuffled, pool)
	// Fisher-Yates
	for i := len(shuffled) - 1; i > 0; i-- {
		j := ra.rng.IntN(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	var wolves []*models.Participant
	for i, p := range roster {
		p.Role = shuffled[i]
		p.Status = models.Alive
		if p.Role == models.Werewolf {
			wolves = append(wolves, p)
		}
	}

	// 只有恰好两名狼人时建立同伴关系
	if len(wolves) == 2 {
		wolves[0].PartnerID = wolves[1].ID
		wolves[1].PartnerID = wolves[0].ID
	}
	return nil
}

// ParseRolePool 解析配置中的角色池
func ParseRolePool(names []string) ([]models.Role, error) {
	pool := make([]models.Role, 0, len(names))
	for _, name := range names {
		r := models.Role(name)
		if !r.Valid() {
			return nil, fmt.Errorf("%w: 未知角色 %q", ErrRolePoolMismatch, name)
		}
		pool = append(pool, r)
	}
	return pool, nil
}
