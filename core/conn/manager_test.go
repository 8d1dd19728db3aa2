package conn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"UltimateDJ/core/relay"
	"UltimateDJ/core/replica"
	"UltimateDJ/model"

	"github.com/gorilla/websocket"
)

// flakyRelay 可拒绝指定参与者并切断所有连接的中继
type flakyRelay struct {
	relay  *relay.Relay
	server *httptest.Server

	mu      sync.Mutex
	conns   []*websocket.Conn
	blocked map[string]bool
}

func newFlakyRelay(t *testing.T) *flakyRelay {
	t.Helper()
	f := &flakyRelay{relay: relay.New(relay.NewHub(), nil), blocked: map[string]bool{}}
	ctx, cancel := context.WithCancel(context.Background())
	go f.relay.Run(ctx)

	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if f.isBlocked(id) {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, c)
		f.mu.Unlock()
		f.relay.Serve(ctx, c, id, relay.RoleController)
	}))
	t.Cleanup(func() {
		cancel()
		f.server.Close()
	})
	return f
}

func (f *flakyRelay) url(id string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?id=" + id
}

func (f *flakyRelay) block(id string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[id] = on
}

func (f *flakyRelay) isBlocked(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked[id]
}

func (f *flakyRelay) sever() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Close()
	}
	f.conns = nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestReconnectConverges(t *testing.T) {
	f := newFlakyRelay(t)

	store := replica.NewStore()
	var rep *replica.LWW
	var connects atomic.Int32
	m := NewManager(f.url("view"), Options{
		Sender:       "view",
		MinBackoff:   20 * time.Millisecond,
		MaxBackoff:   40 * time.Millisecond,
		OnEvent:      func(evt *model.Event) { rep.Remote(evt) },
		OnConnect:    func() { connects.Add(1) },
		OnDisconnect: store.ClearDecks,
	})
	rep = replica.NewLWW(store, m, "view")
	m.ConnectOnce(context.Background())
	m.ConnectOnce(context.Background())
	defer m.Dispose()

	waitFor(t, "first connect", m.Connected)
	rep.Local(model.MustEvent(model.EventDeckLoad, model.DeckLoadData{Deck: model.DeckA, TrackID: model.StringPtr("t1"), Autoplay: true}))
	waitFor(t, "relay to see the load", func() bool { return f.relay.Snapshot().Decks.A.Track() == "t1" })

	f.block("view", true)
	f.sever()
	waitFor(t, "decks cleared on disconnect", func() bool {
		return !m.Connected() && !store.Snapshot().Decks.A.HasTrack()
	})

	// 断线时的本地修改被丢弃，随后被覆盖
	rep.Local(model.MustEvent(model.EventCrossfader, model.CrossfaderData{Position: 5}))

	// 同时另一个控制端修改了规范状态
	other, _, err := websocket.DefaultDialer.Dial(f.url("other"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	for _, v := range []float64{0.9, 0.6, 0.3} {
		data, _ := json.Marshal(model.MustEvent(model.EventDeckVolume, model.DeckVolumeData{Deck: model.DeckA, Volume: v}))
		other.WriteMessage(websocket.TextMessage, data)
	}
	waitFor(t, "volume changes", func() bool { return f.relay.Snapshot().Decks.A.Volume == 0.3 })
	if m.Connected() {
		t.Fatal("view reconnected while blocked")
	}

	f.block("view", false)
	waitFor(t, "replica to converge", func() bool {
		return m.Connected() && store.Snapshot().Equal(f.relay.Snapshot())
	})
	if connects.Load() < 2 {
		t.Errorf("connects = %d, want a reconnect", connects.Load())
	}
	if got := f.relay.Snapshot().Crossfader; got != 50 {
		t.Errorf("canonical crossfader = %v, offline edit leaked", got)
	}
}

func TestEmitDropsWhileDisconnected(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/", Options{})
	m.Emit(model.MustEvent(model.EventCrossfader, model.CrossfaderData{Position: 1}))
	if m.Connected() {
		t.Error("manager should not be connected")
	}
	m.Dispose()
}
