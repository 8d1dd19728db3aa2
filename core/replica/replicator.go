package replica

import (
	"fmt"

	"UltimateDJ/model"
)

// Emitter 把事件发往中继，断线时丢弃
type Emitter interface {
	Emit(evt *model.Event)
}

// Replicator 视图与中继之间的一致性策略
type Replicator interface {
	// Local 应用本视图的修改并广播
	Local(evt *model.Event) error
	// Remote 应用中继下发的事件
	Remote(evt *model.Event) error
	Store() *Store
}

// LWW 后写者胜：本地修改乐观应用，冲突由中继的投递顺序决定
type LWW struct {
	store  *Store
	out    Emitter
	sender string
}

// NewLWW 出站事件标记为 sender
func NewLWW(store *Store, out Emitter, sender string) *LWW {
	return &LWW{store: store, out: out, sender: sender}
}

func (r *LWW) Store() *Store { return r.store }

// Sender 本视图事件上的 ID
func (r *LWW) Sender() string { return r.sender }

func (r *LWW) Local(evt *model.Event) error {
	if err := r.store.Apply(evt); err != nil {
		return fmt.Errorf("apply local %s: %w", evt.Type, err)
	}
	evt.Sender = r.sender
	if r.out != nil {
		r.out.Emit(evt)
	}
	return nil
}

// Remote 应用 evt，包括本视图事件的回显；sync:state 整体替换副本
func (r *LWW) Remote(evt *model.Event) error {
	return r.store.Apply(evt)
}
