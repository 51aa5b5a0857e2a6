package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/qianlnk/werewolf-channels/models"
)

// EntryStore 报名名单存储，每个频道的操作必须串行化
type EntryStore interface {
	// Add 幂等加入，已满且用户不在名单中时返回 ErrCapacityExceeded
	Add(ctx context.Context, channelID string, member models.Member, capacity int) ([]models.Member, error)
	// Remove 幂等移除
	Remove(ctx context.Context, channelID, userID string) ([]models.Member, error)
	Members(ctx context.Context, channelID string) ([]models.Member, error)
	// Drain 名单不少于 min 人时原子地取出并清空名单
	Drain(ctx context.Context, channelID string, min int) ([]models.Member, error)
}

// MemoryEntryStore 内存报名名单
type MemoryEntryStore struct {
	entries map[string][]models.Member
	mutex   sync.Mutex
}

// NewMemoryEntryStore 创建内存报名名单
func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{entries: make(map[string][]models.Member)}
}

func (s *MemoryEntryStore) Add(_ context.Context, channelID string, member models.Member, capacity int) ([]models.Member, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	members := s.entries[channelID]
	for _, m := range members {
		if m.UserID == member.UserID {
			return cloneMembers(members), nil
		}
	}
	if len(members) >= capacity {
		return nil, fmt.Errorf("%w: 频道 %s 已有 %d 人", ErrCapacityExceeded, channelID, len(members))
	}
	members = append(members, member)
	s.entries[channelID] = members
	return cloneMembers(members), nil
}

func (s *MemoryEntryStore) Remove(_ context.Context, channelID, userID string) ([]models.Member, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	members := s.entries[channelID]
	for i, m := range members {
		if m.UserID == userID {
			members = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	if len(members) == 0 {
		delete(s.entries, channelID)
	} else {
		s.entries[channelID] = members
	}
	return cloneMembers(members), nil
}

func (s *MemoryEntryStore) Members(_ context.Context, channelID string) ([]models.Member, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return cloneMembers(s.entries[channelID]), nil
}

func (s *MemoryEntryStore) Drain(_ context.Context, channelID string, min int) ([]models.Member, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	members := s.entries[channelID]
	if len(members) < min {
		return nil, fmt.Errorf("%w: 需要 %d 人, 当前 %d 人", ErrInsufficientPlayers, min, len(members))
	}
	delete(s.entries, channelID)
	return members, nil
}

func cloneMembers(members []models.Member) []models.Member {
	out := make([]models.Member, len(members))
	copy(out, members)
	return out
}
