package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qianlnk/werewolf-channels/models"
)

// HistoryStore 行动历史和对局结果的持久化
type HistoryStore interface {
	Append(ctx context.Context, record models.HistoryRecord) error
	SaveOutcome(ctx context.Context, outcome models.Outcome) error
	List(ctx context.Context, sessionID string) ([]models.HistoryRecord, error)
	Outcome(ctx context.Context, sessionID string) (*models.Outcome, error)
}

// GameOptions 新会话的公共配置
type GameOptions struct {
	// RolePool 人数与角色池大小一致时使用，否则使用 DefaultRolePool
	RolePool []models.Role
	// RolePoolFunc 不为空时覆盖 RolePool
	RolePoolFunc func(players int) []models.Role
	Timeouts     PhaseTimeouts
	Broadcaster  Broadcaster
	History      HistoryStore
	Metrics      *Metrics
	Logger       *slog.Logger
	// NewRand 为每个会话创建随机源，为空时随机播种
	NewRand func() *rand.Rand
	Now     func() time.Time
}

func (o GameOptions) poolFor() func(int) []models.Role {
	if o.RolePoolFunc != nil {
		return o.RolePoolFunc
	}
	configured := o.RolePool
	return func(n int) []models.Role {
		if len(configured) == n {
			return append([]models.Role(nil), configured...)
		}
		return DefaultRolePool(n)
	}
}

func (o GameOptions) rng() *rand.Rand {
	if o.NewRand != nil {
		return o.NewRand()
	}
	return nil
}

// GameManager 会话注册表
type GameManager struct {
	sessions  map[string]*GameController
	byChannel map[string]string
	opts      GameOptions
	logger    *slog.Logger
	mutex     sync.RWMutex
}

// NewGameManager 创建会话注册表
func NewGameManager(opts GameOptions) *GameManager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GameManager{
		sessions:  make(map[string]*GameController),
		byChannel: make(map[string]string),
		opts:      opts,
		logger:    logger.With("component", "sessions"),
	}
}

// Create 由报名名单创建并开始一局游戏
func (gm *GameManager) Create(ctx context.Context, channelID string, members []models.Member) (*GameController, error) {
	game := NewGameState(uuid.NewString(), channelID, members)
	ctrl := newGameController(game, gm.opts, gm.finished)

	gm.mutex.Lock()
	gm.sessions[game.SessionID] = ctrl
	gm.byChannel[channelID] = game.SessionID
	gm.mutex.Unlock()

	if err := ctrl.Start(ctx); err != nil {
		gm.Remove(game.SessionID)
		return nil, fmt.Errorf("开始游戏: %w", err)
	}
	return ctrl, nil
}

// finished 对局结束后不再作为频道的当前会话，快照仍可查询
func (gm *GameManager) finished(sessionID string) {
	gm.mutex.Lock()
	defer gm.mutex.Unlock()
	ctrl, ok := gm.sessions[sessionID]
	if !ok {
		return
	}
	if gm.byChannel[ctrl.ChannelID()] == sessionID {
		delete(gm.byChannel, ctrl.ChannelID())
	}
	gm.logger.Info("session finished", "session", sessionID)
}

// Get 查找会话
func (gm *GameManager) Get(sessionID string) (*GameController, error) {
	gm.mutex.RLock()
	defer gm.mutex.RUnlock()
	ctrl, ok := gm.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: 会话 %s", ErrNotFound, sessionID)
	}
	return ctrl, nil
}

// ForChannel 频道当前进行中的会话
func (gm *GameManager) ForChannel(channelID string) (*GameController, bool) {
	gm.mutex.RLock()
	defer gm.mutex.RUnlock()
	sessionID, ok := gm.byChannel[channelID]
	if !ok {
		return nil, false
	}
	ctrl, ok := gm.sessions[sessionID]
	return ctrl, ok
}

// List 所有会话概要
func (gm *GameManager) List() []models.SessionInfo {
	gm.mutex.RLock()
	ctrls := make([]*GameController, 0, len(gm.sessions))
	for _, c := range gm.sessions {
		ctrls = append(ctrls, c)
	}
	gm.mutex.RUnlock()

	infos := make([]models.SessionInfo, 0, len(ctrls))
	for _, c := range ctrls {
		infos = append(infos, c.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos
}

// Remove 删除会话并停止其定时器
func (gm *GameManager) Remove(sessionID string) {
	gm.mutex.Lock()
	ctrl, ok := gm.sessions[sessionID]
	if ok {
		delete(gm.sessions, sessionID)
		if gm.byChannel[ctrl.ChannelID()] == sessionID {
			delete(gm.byChannel, ctrl.ChannelID())
		}
	}
	gm.mutex.Unlock()
	if ok {
		ctrl.Stop()
	}
}

// Shutdown 停止所有会话的定时器
func (gm *GameManager) Shutdown() {
	gm.mutex.RLock()
	defer gm.mutex.RUnlock()
	for _, c := range gm.sessions {
		c.Stop()
	}
}
