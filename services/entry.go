package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/qianlnk/werewolf-channels/models"
)

// EntryOptions 报名配置
type EntryOptions struct {
	Capacity   int
	MinPlayers int
	BotFill    bool
}

// EntryRegistry 频道报名管理
type EntryRegistry struct {
	store       EntryStore
	channels    ChannelDirectory
	games       *GameManager
	broadcaster Broadcaster
	opts        EntryOptions
	metrics     *Metrics
	logger      *slog.Logger

	// locks 每个频道一把锁，名单修改和对应的 entryUpdate 推送在锁内完成
	locks map[string]*sync.Mutex
	mutex sync.Mutex
}

// NewEntryRegistry 创建报名管理器
func NewEntryRegistry(store EntryStore, channels ChannelDirectory, games *GameManager, broadcaster Broadcaster, opts EntryOptions, metrics *Metrics, logger *slog.Logger) *EntryRegistry {
	if opts.Capacity <= 0 {
		opts.Capacity = 10
	}
	if opts.MinPlayers <= 0 {
		opts.MinPlayers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EntryRegistry{
		store:       store,
		channels:    channels,
		games:       games,
		broadcaster: broadcaster,
		opts:        opts,
		metrics:     metrics,
		logger:      logger.With("component", "entry"),
		locks:       make(map[string]*sync.Mutex),
	}
}

// lock 锁住频道，返回解锁函数
func (er *EntryRegistry) lock(channelID string) func() {
	er.mutex.Lock()
	l, ok := er.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		er.locks[channelID] = l
	}
	er.mutex.Unlock()
	l.Lock()
	return l.Unlock
}

// Capacity 报名上限
func (er *EntryRegistry) Capacity() int {
	return er.opts.Capacity
}

// Register 报名，重复报名不改变名单
func (er *EntryRegistry) Register(ctx context.Context, channelID string, user models.Identity) (members []models.Member, err error) {
	defer func() { er.metrics.entry("register", err) }()
	defer er.lock(channelID)()

	blocked, err := er.channels.IsBlocked(ctx, channelID, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("查询屏蔽状态: %w", err)
	}
	if blocked {
		return nil, fmt.Errorf("%w: %s", ErrBlocked, user.UserID)
	}

	members, err = er.store.Add(ctx, channelID, models.Member{UserID: user.UserID, DisplayName: user.DisplayName}, er.opts.Capacity)
	if err != nil {
		return nil, err
	}
	er.logger.Info("registered", "channel", channelID, "user", user.UserID, "count", len(members))
	er.publish(channelID, members)
	return members, nil
}

// Cancel 取消报名
func (er *EntryRegistry) Cancel(ctx context.Context, channelID, userID string) (members []models.Member, err error) {
	defer func() { er.metrics.entry("cancel", err) }()
	defer er.lock(channelID)()

	members, err = er.store.Remove(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	er.logger.Info("cancelled", "channel", channelID, "user", userID, "count", len(members))
	er.publish(channelID, members)
	return members, nil
}

// Members 当前报名名单
func (er *EntryRegistry) Members(ctx context.Context, channelID string) ([]models.Member, error) {
	return er.store.Members(ctx, channelID)
}

// Promote 把报名名单转为一局游戏
func (er *EntryRegistry) Promote(ctx context.Context, channelID, starterID string) (ctrl *GameController, err error) {
	defer func() { er.metrics.entry("promote", err) }()
	defer er.lock(channelID)()

	members, err := er.store.Members(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := er.authorize(ctx, channelID, starterID, members); err != nil {
		return nil, err
	}

	min := er.opts.MinPlayers
	if er.opts.BotFill {
		min = 1
	}
	members, err = er.store.Drain(ctx, channelID, min)
	if err != nil {
		return nil, err
	}
	if n := er.opts.MinPlayers - len(members); n > 0 {
		members = append(members, NewBotMembers(n, 0)...)
	}

	ctrl, err = er.games.Create(ctx, channelID, members)
	if err != nil {
		er.publish(channelID, nil)
		return nil, err
	}

	start := models.GameStart{SessionID: ctrl.SessionID(), ChannelID: channelID}
	topic := EntryTopic(channelID)
	for _, m := range members {
		if m.IsBot {
			continue
		}
		if er.broadcaster.IsSubscribed(topic, m.UserID) {
			er.broadcaster.SendTo(topic, m.UserID, models.Envelope{Type: models.EventGameStart, Topic: topic, Payload: start})
		} else {
			er.broadcaster.SendToUser(m.UserID, models.Envelope{Type: models.EventNavigateGame, Payload: start})
		}
	}
	er.publish(channelID, nil)
	er.logger.Info("promoted", "channel", channelID, "session", ctrl.SessionID(), "players", len(members))
	return ctrl, nil
}

// authorize 频道所有者或已报名成员才能开始游戏
func (er *EntryRegistry) authorize(ctx context.Context, channelID, starterID string, members []models.Member) error {
	for _, m := range members {
		if m.UserID == starterID {
			return nil
		}
	}
	owner, err := er.channels.Owner(ctx, channelID)
	if err != nil {
		return fmt.Errorf("查询频道所有者: %w", err)
	}
	if owner != "" && owner == starterID {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotAuthorized, starterID)
}

func (er *EntryRegistry) publish(channelID string, members []models.Member) {
	if members == nil {
		members = []models.Member{}
	}
	topic := EntryTopic(channelID)
	er.broadcaster.Publish(topic, models.Envelope{
		Type:  models.EventEntryUpdate,
		Topic: topic,
		Payload: models.EntryUpdate{
			ChannelID:  channelID,
			Capacity:   er.opts.Capacity,
			Registered: members,
		},
	})
}
