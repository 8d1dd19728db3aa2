package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"UltimateDJ/model"

	"github.com/go-redis/redis/v8"
)

const (
	stateKey        = "dj:state"        // String: 规范 DJState JSON
	stateUpdatedKey = "dj:state:saved"  // String: 最后一次保存的 unix 毫秒
	participantsKey = "dj:participants" // Hash: 参与者ID -> 角色
)

var errNoClient = errors.New("Redis client not initialized")

// StateCache 持久化中继的规范状态，重启后恢复
type StateCache struct {
	client *redis.Client
}

// NewStateCache 创建状态缓存
func NewStateCache(client *redis.Client) *StateCache {
	return &StateCache{client: client}
}

// Save 写入最新状态
func (c *StateCache) Save(ctx context.Context, state model.DJState) error {
	if c.client == nil {
		return errNoClient
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, stateKey, data, 0)
	pipe.Set(ctx, stateUpdatedKey, time.Now().UnixMilli(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Load 读取已保存的状态，没有时返回 nil
func (c *StateCache) Load(ctx context.Context) (*model.DJState, error) {
	if c.client == nil {
		return nil, errNoClient
	}
	data, err := c.client.Get(ctx, stateKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return decodeState(data)
}

// SavedAt 返回最后一次保存的时间
func (c *StateCache) SavedAt(ctx context.Context) (time.Time, error) {
	if c.client == nil {
		return time.Time{}, errNoClient
	}
	ms, err := c.client.Get(ctx, stateUpdatedKey).Int64()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// ========== 在线参与者 ==========

// Join 记录在线参与者
func (c *StateCache) Join(ctx context.Context, id, role string) error {
	if c.client == nil {
		return errNoClient
	}
	return c.client.HSet(ctx, participantsKey, id, role).Err()
}

// Leave 移除在线参与者
func (c *StateCache) Leave(ctx context.Context, id string) error {
	if c.client == nil {
		return errNoClient
	}
	return c.client.HDel(ctx, participantsKey, id).Err()
}

// Participants 返回在线参与者及其角色
func (c *StateCache) Participants(ctx context.Context) (map[string]string, error) {
	if c.client == nil {
		return nil, errNoClient
	}
	return c.client.HGetAll(ctx, participantsKey).Result()
}

// ResetParticipants 清空参与者列表，中继启动时调用
func (c *StateCache) ResetParticipants(ctx context.Context) error {
	if c.client == nil {
		return errNoClient
	}
	return c.client.Del(ctx, participantsKey).Err()
}

// decodeState 解析保存的状态，并修正旧数据中缺失的字段
func decodeState(data []byte) (*model.DJState, error) {
	state := model.NewDJState()
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode saved state: %w", err)
	}
	if !state.MainDeck.Valid() {
		state.MainDeck = model.DeckA
	}
	if state.Shader == "" {
		state.Shader = model.DefaultShader
	}
	for _, id := range model.Decks {
		d := state.Deck(id)
		if d.Pitch <= 0 {
			d.Pitch = 1
		}
		// 重启后没有视图在播放
		d.Playing = false
	}
	return &state, nil
}
