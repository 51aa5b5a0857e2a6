package services

import (
	"context"
	"sort"
	"sync"

	"github.com/qianlnk/werewolf-channels/models"
)

// ChannelDirectory 频道信息查询，由聊天频道存储实现
type ChannelDirectory interface {
	IsBlocked(ctx context.Context, channelID, userID string) (bool, error)
	Owner(ctx context.Context, channelID string) (string, error)
	Settings(ctx context.Context, channelID string) (map[string]string, error)
	Blocked(ctx context.Context, channelID string) ([]models.Identity, error)
}

type channelInfo struct {
	owner    string
	blocked  map[string]models.Identity
	settings map[string]string
}

// MemoryChannels 内存版频道目录
type MemoryChannels struct {
	channels map[string]*channelInfo
	mutex    sync.RWMutex
}

// NewMemoryChannels 创建内存频道目录
func NewMemoryChannels() *MemoryChannels {
	return &MemoryChannels{channels: make(map[string]*channelInfo)}
}

func (mc *MemoryChannels) channel(channelID string) *channelInfo {
	ch, ok := mc.channels[channelID]
	if !ok {
		ch = &channelInfo{
			blocked:  make(map[string]models.Identity),
			settings: make(map[string]string),
		}
		mc.channels[channelID] = ch
	}
	return ch
}

// SetOwner 设置频道所有者
func (mc *MemoryChannels) SetOwner(channelID, userID string) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.channel(channelID).owner = userID
}

// Block 屏蔽用户，已屏蔽时返回 false
func (mc *MemoryChannels) Block(channelID string, user models.Identity) bool {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	ch := mc.channel(channelID)
	if _, ok := ch.blocked[user.UserID]; ok {
		return false
	}
	ch.blocked[user.UserID] = user
	return true
}

// Unblock 解除屏蔽，未屏蔽时返回 false
func (mc *MemoryChannels) Unblock(channelID, userID string) (models.Identity, bool) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	ch := mc.channel(channelID)
	user, ok := ch.blocked[userID]
	delete(ch.blocked, userID)
	return user, ok
}

// UpdateSettings 浅合并频道设置，返回合并后的结果
func (mc *MemoryChannels) UpdateSettings(channelID string, patch map[string]string) map[string]string {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	ch := mc.channel(channelID)
	for k, v := range patch {
		ch.settings[k] = v
	}
	return copySettings(ch.settings)
}

func (mc *MemoryChannels) IsBlocked(_ context.Context, channelID, userID string) (bool, error) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	ch, ok := mc.channels[channelID]
	if !ok {
		return false, nil
	}
	_, blocked := ch.blocked[userID]
	return blocked, nil
}

func (mc *MemoryChannels) Owner(_ context.Context, channelID string) (string, error) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	if ch, ok := mc.channels[channelID]; ok {
		return ch.owner, nil
	}
	return "", nil
}

func (mc *MemoryChannels) Settings(_ context.Context, channelID string) (map[string]string, error) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	if ch, ok := mc.channels[channelID]; ok {
		return copySettings(ch.settings), nil
	}
	return map[string]string{}, nil
}

func (mc *MemoryChannels) Blocked(_ context.Context, channelID string) ([]models.Identity, error) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	ch, ok := mc.channels[channelID]
	if !ok {
		return nil, nil
	}
	users := make([]models.Identity, 0, len(ch.blocked))
	for _, u := range ch.blocked {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}

func copySettings(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
