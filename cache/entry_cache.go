package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qianlnk/werewolf-channels/models"
	"github.com/qianlnk/werewolf-channels/services"
	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 16

// EntryCache 基于 Redis 的报名名单：有序集合保存加入顺序，哈希保存显示名
type EntryCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ services.EntryStore = (*EntryCache)(nil)

// NewEntryCache 创建 Redis 报名名单
func NewEntryCache(client *redis.Client, ttl time.Duration) *EntryCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour // 名单 24 小时无人操作后过期
	}
	return &EntryCache{client: client, ttl: ttl}
}

func (c *EntryCache) orderKey(channelID string) string {
	return fmt.Sprintf("entry:%s:order", channelID)
}

func (c *EntryCache) namesKey(channelID string) string {
	return fmt.Sprintf("entry:%s:names", channelID)
}

func (c *EntryCache) seqKey(channelID string) string {
	return fmt.Sprintf("entry:%s:seq", channelID)
}

type memberReader interface {
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
}

func (c *EntryCache) read(ctx context.Context, r memberReader, channelID string) ([]models.Member, error) {
	ids, err := r.ZRange(ctx, c.orderKey(channelID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	members := make([]models.Member, 0, len(ids))
	if len(ids) == 0 {
		return members, nil
	}
	values, err := r.HMGet(ctx, c.namesKey(channelID), ids...).Result()
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		m := models.Member{UserID: id}
		if s, ok := values[i].(string); ok {
			if err := json.Unmarshal([]byte(s), &m); err != nil {
				return nil, fmt.Errorf("decode member %s: %w", id, err)
			}
		}
		members = append(members, m)
	}
	return members, nil
}

// watch 乐观锁事务，被并发修改时重试
func (c *EntryCache) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := c.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}

func (c *EntryCache) Add(ctx context.Context, channelID string, member models.Member, capacity int) ([]models.Member, error) {
	order, names, seq := c.orderKey(channelID), c.namesKey(channelID), c.seqKey(channelID)
	var members []models.Member

	err := c.watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.ZScore(ctx, order, member.UserID).Result()
		if err == nil {
			members, err = c.read(ctx, tx, channelID)
			return err
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}

		count, err := tx.ZCard(ctx, order).Result()
		if err != nil {
			return err
		}
		if count >= int64(capacity) {
			return fmt.Errorf("%w: 频道 %s 已有 %d 人", services.ErrCapacityExceeded, channelID, count)
		}
		next, err := tx.Get(ctx, seq).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		next++
		data, err := json.Marshal(member)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, seq, next, c.ttl)
			pipe.ZAdd(ctx, order, redis.Z{Score: float64(next), Member: member.UserID})
			pipe.HSet(ctx, names, member.UserID, data)
			pipe.Expire(ctx, order, c.ttl)
			pipe.Expire(ctx, names, c.ttl)
			return nil
		})
		return err
	}, order, seq)
	if err != nil {
		return nil, err
	}
	if members != nil {
		return members, nil
	}
	return c.Members(ctx, channelID)
}

func (c *EntryCache) Remove(ctx context.Context, channelID, userID string) ([]models.Member, error) {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, c.orderKey(channelID), userID)
		pipe.HDel(ctx, c.namesKey(channelID), userID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.Members(ctx, channelID)
}

func (c *EntryCache) Members(ctx context.Context, channelID string) ([]models.Member, error) {
	return c.read(ctx, c.client, channelID)
}

func (c *EntryCache) Drain(ctx context.Context, channelID string, min int) ([]models.Member, error) {
	order := c.orderKey(channelID)
	var members []models.Member

	err := c.watch(ctx, func(tx *redis.Tx) error {
		var err error
		members, err = c.read(ctx, tx, channelID)
		if err != nil {
			return err
		}
		if len(members) < min {
			return fmt.Errorf("%w: 需要 %d 人, 当前 %d 人", services.ErrInsufficientPlayers, min, len(members))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, order, c.namesKey(channelID), c.seqKey(channelID))
			return nil
		})
		return err
	}, order)
	if err != nil {
		return nil, err
	}
	return members, nil
}
