package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"UltimateDJ/core/replica"
	"UltimateDJ/logger"
	"UltimateDJ/model"

	"github.com/gorilla/websocket"
)

// Delivery 决定中继事件的接收方
type Delivery int

const (
	// DeliverAll 回显给所有参与者，包括发送方
	DeliverAll Delivery = iota
	// DeliverOthers 跳过发送方，发送方已在本地应用
	DeliverOthers
)

// DeliveryOf 返回 t 的投递方式
func DeliveryOf(t model.EventType) Delivery {
	switch t {
	case model.EventDeckLoad, model.EventDeckPitch, model.EventDeckTime,
		model.EventDeckPromote, model.EventDeckBPM:
		return DeliverOthers
	}
	return DeliverAll
}

// StateStore 在中继重启之间保存规范状态
type StateStore interface {
	Save(ctx context.Context, state model.DJState) error
	Load(ctx context.Context) (*model.DJState, error)
}

// Relay 持有规范状态；修改与入队在同一把锁内完成，Hub 队列顺序与状态历史一致
type Relay struct {
	hub   *Hub
	store StateStore

	mu    sync.Mutex
	state model.DJState

	dirty chan struct{}
}

// New 基于 hub 创建中继，store 可为 nil
func New(hub *Hub, store StateStore) *Relay {
	return &Relay{
		hub:   hub,
		store: store,
		state: model.NewDJState(),
		dirty: make(chan struct{}, 1),
	}
}

// Hub 返回参与者 Hub
func (r *Relay) Hub() *Hub { return r.hub }

// Restore 加载已保存的状态
func (r *Relay) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	saved, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	if saved == nil {
		return nil
	}
	r.mu.Lock()
	r.state = saved.Clone()
	r.mu.Unlock()
	logger.Info("Restored canonical state")
	return nil
}

// Run 启动 Hub 与持久化协程，阻塞到 ctx 结束
func (r *Relay) Run(ctx context.Context) {
	go r.hub.Run()
	defer r.hub.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flush(context.Background())
			return
		case <-r.dirty:
			r.flush(ctx)
		}
	}
}

// Snapshot 返回规范状态的副本
func (r *Relay) Snapshot() model.DJState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Join 注册客户端并排入初始快照
func (r *Relay) Join(client *Client) {
	r.hub.Register(client)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendSnapshot(client.Key)
}

// Serve 运行一条参与者连接直到关闭
func (r *Relay) Serve(ctx context.Context, conn *websocket.Conn, id, role string) {
	client := NewClient(r.hub, conn, id, role)
	r.Join(client)
	go client.WritePump()
	client.ReadPump(ctx, r.HandleMessage)
}

// HandleMessage 应用一条入站事件并转发
func (r *Relay) HandleMessage(ctx context.Context, client *Client, evt *model.Event) {
	if evt.Sender == "" {
		evt.Sender = client.ID
	}

	switch evt.Type {
	case model.EventSyncRequest:
		r.mu.Lock()
		r.sendSnapshot(client.Key)
		r.mu.Unlock()
		return
	case model.EventSyncState, model.EventError:
		r.reject(client, "event type is relay-only: "+string(evt.Type))
		return
	}

	if client.Role == RoleDisplay {
		r.reject(client, "display participants are read-only")
		return
	}

	r.mu.Lock()
	next := r.state.Clone()
	if err := replica.Reduce(&next, evt); err != nil {
		r.mu.Unlock()
		logger.Warn("Rejected event",
			logger.String("type", string(evt.Type)),
			logger.String("id", client.ID),
			logger.ErrorField(err))
		r.reject(client, err.Error())
		return
	}
	r.state = next

	evt.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(evt)
	if err != nil {
		r.mu.Unlock()
		logger.Error("Failed to encode event", logger.ErrorField(err))
		return
	}
	exclude := ""
	if DeliveryOf(evt.Type) == DeliverOthers {
		exclude = client.Key
	}
	r.hub.Broadcast(data, exclude)
	r.mu.Unlock()

	if evt.Type != model.EventDeckTime {
		r.markDirty()
	}
}

// sendSnapshot 调用方需持有 r.mu
func (r *Relay) sendSnapshot(key string) {
	evt, err := model.NewEvent(model.EventSyncState, r.state)
	if err != nil {
		logger.Error("Failed to encode snapshot", logger.ErrorField(err))
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		logger.Error("Failed to encode snapshot", logger.ErrorField(err))
		return
	}
	r.hub.SendTo(key, data)
}

func (r *Relay) reject(client *Client, msg string) {
	evt := model.MustEvent(model.EventError, model.ErrorData{Message: msg})
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	r.hub.SendTo(client.Key, data)
}

func (r *Relay) markDirty() {
	if r.store == nil {
		return
	}
	select {
	case r.dirty <- struct{}{}:
	default:
	}
}

// flush 写入最新状态；markDirty 最多排入一个信号，突发修改合并为一次写入
func (r *Relay) flush(ctx context.Context) {
	if r.store == nil {
		return
	}
	snap := r.Snapshot()
	saveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.store.Save(saveCtx, snap); err != nil {
		logger.Warn("Failed to persist canonical state", logger.ErrorField(err))
	}
}
