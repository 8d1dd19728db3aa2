package replica

import (
	"sync"

	"UltimateDJ/model"
)

// ChangeFunc 状态变化后的回调，Replace 与 ClearDecks 时 evt 为 nil
type ChangeFunc func(state model.DJState, evt *model.Event)

// Store 互斥锁保护的 DJ 状态
type Store struct {
	mu    sync.RWMutex
	state model.DJState
	hooks []ChangeFunc
}

// NewStore 从默认状态开始
func NewStore() *Store {
	return &Store{state: model.NewDJState()}
}

// OnChange 注册 fn，回调在释放锁后按注册顺序执行
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Apply 把 evt 归约进状态
func (s *Store) Apply(evt *model.Event) error {
	s.mu.Lock()
	next := s.state.Clone()
	if err := Reduce(&next, evt); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	snap, hooks := s.state.Clone(), s.hooks
	s.mu.Unlock()

	if Mutates(evt.Type) {
		notify(hooks, snap, evt)
	}
	return nil
}

// Replace 整体替换状态，用于中继快照
func (s *Store) Replace(state model.DJState) {
	s.mu.Lock()
	s.state = state.Clone()
	snap, hooks := s.state.Clone(), s.hooks
	s.mu.Unlock()
	notify(hooks, snap, nil)
}

// ClearDecks 清空两台唱盘
func (s *Store) ClearDecks() {
	s.mu.Lock()
	ClearDecks(&s.state)
	snap, hooks := s.state.Clone(), s.hooks
	s.mu.Unlock()
	notify(hooks, snap, nil)
}

// Snapshot 返回状态的深拷贝
func (s *Store) Snapshot() model.DJState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Deck 返回单盘的副本
func (s *Store) Deck(id model.DeckID) model.Deck {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d := s.state.Deck(id); d != nil {
		return d.Clone()
	}
	return model.EmptyDeck()
}

func notify(hooks []ChangeFunc, snap model.DJState, evt *model.Event) {
	for _, fn := range hooks {
		fn(snap, evt)
	}
}
