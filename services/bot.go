package services

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/qianlnk/werewolf-channels/models"
)

// 机器人性格
const (
	PersonalityAggressive = "aggressive" // 激进：优先针对已知狼人
	PersonalityCautious   = "cautious"   // 谨慎：避开已确认的好人
	PersonalityRandom     = "random"     // 随机
)

var personalities = []string{PersonalityAggressive, PersonalityCautious, PersonalityRandom}

// BotPlayer 为机器人玩家选择行动目标，只能在会话锁内使用
type BotPlayer struct {
	rng         *rand.Rand
	personality map[string]string
}

// NewBotPlayer 创建机器人决策器
func NewBotPlayer(rng *rand.Rand) *BotPlayer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &BotPlayer{rng: rng, personality: make(map[string]string)}
}

// NewBotMembers 生成 n 个机器人报名者
func NewBotMembers(n, offset int) []models.Member {
	bots := make([]models.Member, 0, n)
	for i := 0; i < n; i++ {
		bots = append(bots, models.Member{
			UserID:      "bot-" + uuid.NewString()[:8],
			DisplayName: fmt.Sprintf("机器人%d", offset+i+1),
			IsBot:       true,
		})
	}
	return bots
}

func (b *BotPlayer) personalityOf(id string) string {
	p, ok := b.personality[id]
	if !ok {
		p = personalities[b.rng.IntN(len(personalities))]
		b.personality[id] = p
	}
	return p
}

// Decide 为机器人选出动作目标，没有合法目标时返回 false
func (b *BotPlayer) Decide(game *GameState, bot *models.Participant, kind models.ActionKind, targets []*models.Participant) (string, bool) {
	if len(targets) == 0 {
		return "", false
	}

	known := make(map[string]models.Team)
	for _, rev := range game.Private[bot.ID] {
		known[rev.PlayerID] = rev.Team
	}

	switch b.personalityOf(bot.ID) {
	case PersonalityAggressive:
		if kind == models.ActionVote {
			for _, t := range targets {
				if known[t.ID] == models.TeamWerewolves {
					return t.ID, true
				}
			}
		}
	case PersonalityCautious:
		if kind == models.ActionVote || kind == models.ActionFortune {
			unknown := make([]*models.Participant, 0, len(targets))
			for _, t := range targets {
				if known[t.ID] != models.TeamVillagers {
					unknown = append(unknown, t)
				}
			}
			if len(unknown) > 0 {
				targets = unknown
			}
		}
	}

	// 狼人之间不互相袭击
	if kind == models.ActionAttack {
		others := make([]*models.Participant, 0, len(targets))
		for _, t := range targets {
			if t.Role != models.Werewolf {
				others = append(others, t)
			}
		}
		if len(others) > 0 {
			targets = others
		}
	}

	return targets[b.rng.IntN(len(targets))].ID, true
}
