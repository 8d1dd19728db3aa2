package console

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"UltimateDJ/config"
	"UltimateDJ/core/eventloop"
	"UltimateDJ/core/replica"
	"UltimateDJ/core/transport"
	"UltimateDJ/core/transport/transporttest"
	"UltimateDJ/model"
)

type recorder struct {
	mu     sync.Mutex
	events []*model.Event
}

func (r *recorder) Emit(evt *model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recorder) count(t model.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type fakeLibrary struct {
	mu      sync.Mutex
	tracks  map[string]*model.Track
	updates map[string]float64
}

func newLibrary(tracks ...*model.Track) *fakeLibrary {
	l := &fakeLibrary{tracks: map[string]*model.Track{}, updates: map[string]float64{}}
	for _, t := range tracks {
		l.tracks[t.ID] = t
	}
	return l
}

func (l *fakeLibrary) Tracks(context.Context) ([]model.Track, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Track
	for _, t := range l.tracks {
		out = append(out, *t)
	}
	return out, nil
}

func (l *fakeLibrary) Track(_ context.Context, id string) (*model.Track, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tracks[id]
	if !ok {
		return nil, errors.New("not found")
	}
	c := *t
	return &c, nil
}

func (l *fakeLibrary) Search(ctx context.Context, _ string) ([]model.Track, error) {
	return l.Tracks(ctx)
}

func (l *fakeLibrary) UpdateBPM(_ context.Context, id string, bpm float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates[id] = bpm
	return nil
}

func (l *fakeLibrary) updated(id string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.updates[id]
	return v, ok
}

// outputMedia 给假媒体补上 mix.Output 的访问方法
type outputMedia struct {
	*transporttest.Media
}

func (m outputMedia) Playing() bool { return m.IsPlaying() }
func (m outputMedia) Rate() float64 { return m.CurrentRate() }

type fakeFollower struct {
	src     string
	pos     float64
	rate    float64
	volume  float64
	playing bool
	seeks   int
}

func (f *fakeFollower) Open(src string, done func(float64, error)) { f.src = src; done(200, nil) }
func (f *fakeFollower) Unload()                                   { f.src = ""; f.playing = false }
func (f *fakeFollower) SetVolume(v float64)                       { f.volume = v }
func (f *fakeFollower) Position() float64                         { return f.pos }
func (f *fakeFollower) Seek(t float64) error                      { f.pos = t; f.seeks++; return nil }
func (f *fakeFollower) Rate() float64                             { return f.rate }
func (f *fakeFollower) SetRate(r float64)                         { f.rate = r }
func (f *fakeFollower) Playing() bool                             { return f.playing }
func (f *fakeFollower) Play() error                               { f.playing = true; return nil }
func (f *fakeFollower) Pause()                                    { f.playing = false }

type harness struct {
	c     *Console
	clock *eventloop.Manual
	store *replica.Store
	out   *recorder
	lib   *fakeLibrary
	a, b  *transporttest.Media
}

func newHarness(t *testing.T, tracks ...*model.Track) *harness {
	t.Helper()
	h := &harness{
		clock: eventloop.NewManual(),
		store: replica.NewStore(),
		out:   &recorder{},
		lib:   newLibrary(tracks...),
		a:     transporttest.New(),
		b:     transporttest.New(),
	}
	h.c = New(Options{
		Loop:    h.clock,
		Replica: replica.NewLWW(h.store, h.out, "me"),
		Sender:  "me",
		Library: h.lib,
		Decks: map[model.DeckID]Outputs{
			model.DeckA: {Media: h.a},
			model.DeckB: {Media: h.b},
		},
		Tuning: config.DefaultTuning(),
	})
	t.Cleanup(h.c.Close)
	return h
}

func track(id string, bpm float64) *model.Track {
	t := &model.Track{ID: id, Title: id, Duration: 200, MediaPath: id + ".mp3"}
	if bpm > 0 {
		t.BPM = model.Float64Ptr(bpm)
	}
	return t
}

func (h *harness) loaded(t *testing.T, deck model.DeckID, tr *model.Track, autoplay bool) {
	t.Helper()
	if err := h.c.Load(deck, tr, autoplay); err != nil {
		t.Fatalf("load %s: %v", deck, err)
	}
	media := h.a
	if deck == model.DeckB {
		media = h.b
	}
	media.Complete(200, nil)
}

func TestEndedAdvancesQueueWithoutPause(t *testing.T) {
	h := newHarness(t)
	h.loaded(t, model.DeckA, track("now", 0), true)
	h.c.Enqueue(track("x", 0))
	h.c.Enqueue(track("y", 0))
	h.out.reset()

	h.a.Emit(transport.MediaEvent{Kind: transport.MediaEnded})

	if got := h.out.types(); len(got) != 1 || got[0] != model.EventDeckLoad {
		t.Fatalf("emitted %v, want one deck:load", got)
	}
	var load model.DeckLoadData
	if err := h.out.events[0].Decode(&load); err != nil {
		t.Fatal(err)
	}
	if load.Deck != model.DeckA || *load.TrackID != "x" || !load.Autoplay {
		t.Errorf("load = %+v, want A/x/autoplay", load)
	}
	if q := h.c.Queue(); len(q) != 1 || q[0].ID != "y" {
		t.Errorf("queue = %v, want [y]", q)
	}
	if h.a.Src != "x.mp3" {
		t.Errorf("deck A source = %q, want x.mp3", h.a.Src)
	}
	h.a.Complete(180, nil)
	if !h.a.IsPlaying() || !h.store.Deck(model.DeckA).Playing {
		t.Error("next track did not start")
	}
}

func TestEndedWithEmptyQueuePauses(t *testing.T) {
	h := newHarness(t)
	h.loaded(t, model.DeckA, track("now", 0), true)
	h.out.reset()

	h.a.Emit(transport.MediaEvent{Kind: transport.MediaEnded})

	if h.out.count(model.EventDeckPause) != 1 {
		t.Errorf("emitted %v, want a deck:pause", h.out.types())
	}
	if h.store.Deck(model.DeckA).Playing {
		t.Error("deck A still playing")
	}
}

func TestPromoteCarriesPosition(t *testing.T) {
	h := newHarness(t)
	h.loaded(t, model.DeckA, track("live", 0), true)
	h.loaded(t, model.DeckB, track("next", 0), false)
	if err := h.b.Seek(30); err != nil {
		t.Fatal(err)
	}
	h.out.reset()

	if err := h.c.Promote(); err != nil {
		t.Fatalf("promote: %v", err)
	}

	want := []model.EventType{model.EventDeckTime, model.EventDeckPromote, model.EventCrossfader}
	got := h.out.types()
	if len(got) != len(want) {
		t.Fatalf("emitted %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("emitted %v, want %v", got, want)
		}
	}
	s := h.store.Snapshot()
	if s.Decks.A.Track() != "next" || s.Decks.A.Time != 30 || s.Decks.B.HasTrack() || s.Crossfader != 100 {
		t.Fatalf("state after promote = %+v", s)
	}
	if h.a.Src != "next.mp3" {
		t.Errorf("deck A source = %q", h.a.Src)
	}
	h.a.Complete(200, nil)
	if h.a.Position() != 30 {
		t.Errorf("deck A resumed at %v, want 30", h.a.Position())
	}
	if h.b.Src != "" {
		t.Error("deck B still holds media")
	}
	if err := h.c.Promote(); !errors.Is(err, ErrNothingToPromote) {
		t.Errorf("promote empty B = %v", err)
	}
}

func TestScratchBroadcastsOneSeekAndPlay(t *testing.T) {
	tests := []struct {
		name     string
		autoplay bool
		plays    int
	}{
		{"playing deck resumes", true, 1},
		{"paused deck stays paused", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.loaded(t, model.DeckA, track("t", 0), tt.autoplay)
			h.out.reset()

			if _, err := h.c.ScratchBegin(model.DeckA, 100, 400); err != nil {
				t.Fatal(err)
			}
			h.clock.Advance(10 * time.Millisecond)
			if at, err := h.c.ScratchMove(model.DeckA, 200); err != nil || at != 100 {
				t.Fatalf("move = %v, %v", at, err)
			}
			res, err := h.c.ScratchEnd(model.DeckA)
			if err != nil {
				t.Fatal(err)
			}
			if res.Time != 100 || res.Resumed != tt.autoplay {
				t.Errorf("result = %+v", res)
			}
			if n := h.out.count(model.EventDeckSeek); n != 1 {
				t.Errorf("seeks = %d, want 1", n)
			}
			if n := h.out.count(model.EventDeckPlay); n != tt.plays {
				t.Errorf("plays = %d, want %d", n, tt.plays)
			}
			if h.a.IsPlaying() != tt.autoplay || h.store.Deck(model.DeckA).Playing != tt.autoplay {
				t.Error("play state changed by scratch")
			}
			if h.a.CurrentRate() != 1 {
				t.Errorf("rate = %v, want pitch restored", h.a.CurrentRate())
			}
		})
	}
}

func TestBlockedPlayStaysLocal(t *testing.T) {
	h := newHarness(t)
	h.a.PlayErr = transport.ErrOutputLocked
	h.loaded(t, model.DeckA, track("t", 0), true)

	if h.store.Deck(model.DeckA).Playing {
		t.Error("blocked autoplay left deck playing")
	}
	h.out.reset()
	err := h.c.Play(model.DeckA)
	var blocked *transport.PlaybackBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("play = %v, want PlaybackBlockedError", err)
	}
	if n := len(h.out.types()); n != 0 {
		t.Errorf("blocked play emitted %v", h.out.types())
	}
}

func TestSyncMatchesTempo(t *testing.T) {
	tests := []struct {
		name      string
		live, nxt float64
		want      float64
		emitted   int
	}{
		{"match", 120, 125, 0.96, 1},
		{"clamped to pitch range", 180, 60, 1.5, 1},
		{"missing tempo", 120, 0, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.loaded(t, model.DeckA, track("a", tt.live), true)
			h.loaded(t, model.DeckB, track("b", tt.nxt), false)
			h.out.reset()

			p, err := h.c.Sync(model.DeckB)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(p-tt.want) > 1e-9 {
				t.Errorf("pitch = %v, want %v", p, tt.want)
			}
			if n := h.out.count(model.EventDeckPitch); n != tt.emitted {
				t.Errorf("pitch events = %d, want %d", n, tt.emitted)
			}
			if math.Abs(h.b.CurrentRate()-tt.want) > 1e-9 {
				t.Errorf("deck B rate = %v, want %v", h.b.CurrentRate(), tt.want)
			}
		})
	}
}

func TestBeatSyncAlignsPhase(t *testing.T) {
	h := newHarness(t)
	h.loaded(t, model.DeckA, track("a", 120), true)
	h.loaded(t, model.DeckB, track("b", 120), false)
	h.a.Seek(10.1)
	h.b.Seek(20)
	h.out.reset()

	at, err := h.c.BeatSync(model.DeckB)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(at-20.1) > 1e-9 {
		t.Errorf("beat sync time = %v, want 20.1", at)
	}
	if h.out.count(model.EventDeckSeek) != 1 || math.Abs(h.b.Position()-20.1) > 1e-9 {
		t.Error("beat sync did not seek deck B")
	}
}

func TestRemoteEventsDriveOutputs(t *testing.T) {
	h := newHarness(t, track("r1", 0))
	if _, err := h.c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	remote := func(typ model.EventType, payload interface{}, sender string) {
		evt := model.MustEvent(typ, payload)
		evt.Sender = sender
		h.c.HandleRemote(evt)
	}

	remote(model.EventDeckLoad, model.DeckLoadData{Deck: model.DeckA, TrackID: model.StringPtr("r1"), Autoplay: true}, "other")
	if h.a.Src != "r1.mp3" {
		t.Fatalf("deck A source = %q", h.a.Src)
	}
	h.a.Complete(200, nil)
	if !h.a.IsPlaying() {
		t.Fatal("remote autoplay did not start deck A")
	}

	remote(model.EventDeckSeek, model.DeckTimeData{Deck: model.DeckA, Time: 42}, "other")
	if h.a.Position() != 42 {
		t.Errorf("remote seek position = %v, want 42", h.a.Position())
	}
	remote(model.EventDeckSeek, model.DeckTimeData{Deck: model.DeckA, Time: 99}, "me")
	if h.a.Position() != 42 {
		t.Errorf("own echo moved deck to %v", h.a.Position())
	}

	remote(model.EventDeckPause, model.DeckRef{Deck: model.DeckA}, "other")
	if h.a.IsPlaying() {
		t.Error("remote pause ignored")
	}

	remote(model.EventCrossfader, model.CrossfaderData{Position: 0}, "other")
	if h.a.Volume != 0 {
		t.Errorf("deck A volume at crossfader 0 = %v", h.a.Volume)
	}

	h.c.Disconnected()
	if h.a.Src != "" || h.store.Deck(model.DeckA).HasTrack() {
		t.Error("disconnect kept deck A loaded")
	}
	if h.store.Snapshot().Crossfader != 0 {
		t.Error("disconnect reset the mix")
	}
}

func TestQueueOperations(t *testing.T) {
	h := newHarness(t)
	if _, err := h.c.LoadNext(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("load next on empty queue = %v", err)
	}
	h.c.Enqueue(track("q1", 0))
	h.c.Enqueue(track("q2", 0))
	h.c.Enqueue(track("q3", 0))
	if err := h.c.Dequeue(5); err == nil {
		t.Error("dequeue out of range succeeded")
	}
	if err := h.c.Dequeue(1); err != nil {
		t.Fatal(err)
	}
	deck, err := h.c.LoadNext()
	if err != nil || deck != model.DeckB {
		t.Fatalf("load next = %v, %v", deck, err)
	}
	if h.store.Deck(model.DeckB).Track() != "q1" {
		t.Errorf("deck B = %q, want q1", h.store.Deck(model.DeckB).Track())
	}
	if q := h.c.Queue(); len(q) != 1 || q[0].ID != "q3" {
		t.Errorf("queue = %v, want [q3]", q)
	}
}

func TestDeckBFollowerTracksCue(t *testing.T) {
	clock := eventloop.NewManual()
	store := replica.NewStore()
	a, b := transporttest.New(), transporttest.New()
	f := &fakeFollower{rate: 1}
	c := New(Options{
		Loop:    clock,
		Replica: replica.NewLWW(store, &recorder{}, "me"),
		Sender:  "me",
		Decks: map[model.DeckID]Outputs{
			model.DeckA: {Media: a},
			model.DeckB: {Media: outputMedia{b}, Follower: f},
		},
		Tuning: config.DefaultTuning(),
	})
	defer c.Close()

	if err := c.Load(model.DeckB, track("cue", 0), true); err != nil {
		t.Fatal(err)
	}
	b.Complete(200, nil)
	if f.src != "cue.mp3" {
		t.Fatalf("follower source = %q", f.src)
	}
	b.Seek(12)
	clock.Advance(250 * time.Millisecond)

	if f.pos != 12 || !f.playing {
		t.Errorf("follower pos=%v playing=%v, want 12/true", f.pos, f.playing)
	}

	if err := c.SetCrossfader(100); err != nil {
		t.Fatal(err)
	}
	if f.volume != 0 || b.Volume != 1 {
		t.Errorf("main-mix %v cue %v, want 0 and 1", f.volume, b.Volume)
	}
	if err := c.Eject(model.DeckB); err != nil {
		t.Fatal(err)
	}
	if f.src != "" {
		t.Error("follower kept the ejected track")
	}
}

type steadyBeat struct{}

func (steadyBeat) BassEnergy() float64 { return 2000 }

type tempoRig struct {
	c     *Console
	store *replica.Store
	out   *recorder
	lib   *fakeLibrary
	media *transporttest.Media
}

// newTempoRig 真实事件循环，A 盘使用短检测窗口
func newTempoRig(t *testing.T) *tempoRig {
	t.Helper()
	loop := eventloop.New(64)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)

	tuning := config.DefaultTuning()
	tuning.BPM.WindowMs = 100
	tuning.BPM.StartDelayMs = 1
	tuning.BPM.CooldownMs = 0
	tuning.BPM.FrameInterval = 5

	store := replica.NewStore()
	out := &recorder{}
	lib := newLibrary()
	media := transporttest.New()
	c := New(Options{
		Loop:    loop,
		Replica: replica.NewLWW(store, out, "me"),
		Sender:  "me",
		Library: lib,
		Decks: map[model.DeckID]Outputs{
			model.DeckA: {Media: media, Energy: steadyBeat{}},
			model.DeckB: {Media: transporttest.New()},
		},
		Tuning: tuning,
	})
	t.Cleanup(c.Close)
	return &tempoRig{c: c, store: store, out: out, lib: lib, media: media}
}

func (r *tempoRig) waitDetected(t *testing.T) float64 {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for r.store.Deck(model.DeckA).DetectedBPM == nil {
		if time.Now().After(deadline) {
			t.Fatal("tempo never detected")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return *r.store.Deck(model.DeckA).DetectedBPM
}

func TestTempoDetectedAndStored(t *testing.T) {
	r := newTempoRig(t)
	if err := r.c.Load(model.DeckA, track("beat", 0), true); err != nil {
		t.Fatal(err)
	}
	r.media.Complete(200, nil)

	got := r.waitDetected(t)
	if got < 70 || got > 170 {
		t.Errorf("tempo %v outside [70,170]", got)
	}
	if r.out.count(model.EventDeckBPM) != 1 {
		t.Errorf("deck:bpm events = %d, want 1", r.out.count(model.EventDeckBPM))
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		if v, ok := r.lib.updated("beat"); ok {
			if v != got {
				t.Errorf("stored %v, detected %v", v, got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("tempo never stored")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTempoAtShiftedPitchNotStored(t *testing.T) {
	tests := []struct {
		name  string
		pitch float64
	}{
		{"faster", 1.2},
		{"slower", 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTempoRig(t)
			if err := r.c.Load(model.DeckA, track("beat", 0), true); err != nil {
				t.Fatal(err)
			}
			if err := r.c.SetPitch(model.DeckA, tt.pitch); err != nil {
				t.Fatal(err)
			}
			r.media.Complete(200, nil)

			r.waitDetected(t)
			if r.out.count(model.EventDeckBPM) != 1 {
				t.Errorf("deck:bpm events = %d, want 1", r.out.count(model.EventDeckBPM))
			}
			time.Sleep(100 * time.Millisecond)
			if v, ok := r.lib.updated("beat"); ok {
				t.Errorf("tempo %v stored at pitch %v", v, tt.pitch)
			}
		})
	}
}

func TestEjectDuringDetectionDropsTempo(t *testing.T) {
	r := newTempoRig(t)
	if err := r.c.Load(model.DeckA, track("beat", 0), true); err != nil {
		t.Fatal(err)
	}
	r.media.Complete(200, nil)

	// 仍在 100ms 窗口内
	time.Sleep(30 * time.Millisecond)
	if err := r.c.Eject(model.DeckA); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if n := r.out.count(model.EventDeckBPM); n != 0 {
		t.Errorf("deck:bpm events = %d after eject, want 0", n)
	}
	if r.store.Deck(model.DeckA).DetectedBPM != nil {
		t.Error("ejected deck kept a detected tempo")
	}
	if _, ok := r.lib.updated("beat"); ok {
		t.Error("tempo stored for an ejected track")
	}
}
