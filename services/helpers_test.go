package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"

	"github.com/qianlnk/werewolf-channels/models"
	"github.com/stretchr/testify/require"
)

type sent struct {
	topic string
	user  string
	env   models.Envelope
}

// recorder 记录所有推送的 Broadcaster
type recorder struct {
	subscribed map[string]bool
	published  []sent
	direct     []sent
	mutex      sync.Mutex
}

func newRecorder() *recorder {
	return &recorder{subscribed: make(map[string]bool)}
}

func (r *recorder) subscribe(topic, user string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.subscribed[topic+"|"+user] = true
}

func (r *recorder) Publish(topic string, env models.Envelope) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.published = append(r.published, sent{topic: topic, env: env})
}

func (r *recorder) SendTo(topic, userID string, env models.Envelope) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.direct = append(r.direct, sent{topic: topic, user: userID, env: env})
}

func (r *recorder) SendToUser(userID string, env models.Envelope) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.direct = append(r.direct, sent{user: userID, env: env})
}

func (r *recorder) IsSubscribed(topic, userID string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.subscribed[topic+"|"+userID]
}

func (r *recorder) publishedOf(typ string) []sent {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var out []sent
	for _, s := range r.published {
		if s.env.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

func (r *recorder) directOf(typ string) []sent {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var out []sent
	for _, s := range r.direct {
		if s.env.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

// memoryHistory 内存历史存储，重复键返回错误
type memoryHistory struct {
	records  []models.HistoryRecord
	outcomes []models.Outcome
	mutex    sync.Mutex
}

func (h *memoryHistory) Append(_ context.Context, r models.HistoryRecord) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, e := range h.records {
		if e.SessionID == r.SessionID && e.Day == r.Day && e.Kind == r.Kind && e.ActorID == r.ActorID {
			return fmt.Errorf("duplicate %v", r)
		}
	}
	h.records = append(h.records, r)
	return nil
}

func (h *memoryHistory) SaveOutcome(_ context.Context, o models.Outcome) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.outcomes = append(h.outcomes, o)
	return nil
}

func (h *memoryHistory) List(_ context.Context, sessionID string) ([]models.HistoryRecord, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	var out []models.HistoryRecord
	for _, r := range h.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (h *memoryHistory) Outcome(_ context.Context, sessionID string) (*models.Outcome, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, o := range h.outcomes {
		if o.SessionID == sessionID {
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func membersOf(ids ...string) []models.Member {
	members := make([]models.Member, 0, len(ids))
	for _, id := range ids {
		members = append(members, models.Member{UserID: id, DisplayName: "name-" + id})
	}
	return members
}

// newFixedGame 按给定角色直接构造进入第一天白天的游戏
func newFixedGame(t *testing.T, roles map[string]models.Role) (*GameState, *StateMachine, *ActionResolver) {
	t.Helper()
	ids := make([]string, 0, len(roles))
	for id := range roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	game := NewGameState("s1", "c1", membersOf(ids...))
	var wolves []*models.Participant
	for _, p := range game.Participants {
		p.Role = roles[p.ID]
		if p.Role == models.Werewolf {
			wolves = append(wolves, p)
		}
	}
	if len(wolves) == 2 {
		wolves[0].PartnerID = wolves[1].ID
		wolves[1].PartnerID = wolves[0].ID
	}
	sm := NewStateMachine(game, nil)
	require.NoError(t, sm.Begin())
	return game, sm, NewActionResolver(game, sm)
}

func act(game *GameState, actor, target string, kind models.ActionKind) models.Action {
	return models.Action{
		SessionID: game.SessionID,
		Day:       game.Phase.Day,
		Phase:     game.Phase.Phase,
		ActorID:   actor,
		TargetID:  target,
		Kind:      kind,
	}
}
