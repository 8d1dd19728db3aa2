package scratch

import (
	"errors"
	"math"
	"testing"
	"time"

	"UltimateDJ/config"
	"UltimateDJ/core/eventloop"
)

type fakeDeck struct {
	duration   float64
	pos        float64
	playing    bool
	scratching bool
	rate       float64
	seeks      []float64
	plays      int
}

func (d *fakeDeck) Duration() float64 { return d.duration }
func (d *fakeDeck) Position() float64 { return d.pos }
func (d *fakeDeck) Playing() bool     { return d.playing }
func (d *fakeDeck) BeginScratch() error {
	d.scratching = true
	return nil
}
func (d *fakeDeck) EndScratch() {
	d.scratching = false
	d.rate = 1
}
func (d *fakeDeck) Scrub(t float64) float64 { d.pos = t; return t }
func (d *fakeDeck) SetRate(r float64)       { d.rate = r }
func (d *fakeDeck) Play() error {
	d.playing = true
	d.plays++
	return nil
}
func (d *fakeDeck) Pause() { d.playing = false }
func (d *fakeDeck) Seek(t float64) (float64, error) {
	d.pos = t
	d.seeks = append(d.seeks, t)
	return t, nil
}

type fakePlayer struct {
	segments [][][2]float64
	rates    []float64
	stops    int
}

func (p *fakePlayer) PlaySegment(frames [][2]float64, _ int, rate float64) {
	p.segments = append(p.segments, frames)
	p.rates = append(p.rates, rate)
}
func (p *fakePlayer) StopSegment() { p.stops++ }

func rampBuffer(rate, seconds int) *Buffer {
	b := &Buffer{SampleRate: rate, Samples: make([][2]float64, rate*seconds)}
	for i := range b.Samples {
		b.Samples[i] = [2]float64{float64(i), float64(i)}
	}
	return b
}

func TestBufferSegmentReversed(t *testing.T) {
	b := rampBuffer(10, 2)
	fwd := b.Segment(2, 5)
	if len(fwd) != 3 || fwd[0][0] != 2 || fwd[2][0] != 4 {
		t.Errorf("forward segment = %v", fwd)
	}
	rev := b.Segment(5, 2)
	if len(rev) != 3 || rev[0][0] != 4 || rev[2][0] != 2 {
		t.Errorf("reverse segment = %v", rev)
	}
	if got := b.Segment(3, 3); got != nil {
		t.Errorf("empty segment = %v, want nil", got)
	}
}

func newEngine(buf *Buffer) (*Engine, *fakeDeck, *fakePlayer, *eventloop.Manual) {
	deck := &fakeDeck{duration: 100, playing: true, rate: 1}
	player := &fakePlayer{}
	sched := eventloop.NewManual()
	e := NewEngine(deck, sched, player, func() *Buffer { return buf }, config.DefaultTuning().Scratch)
	return e, deck, player, sched
}

func TestCommitResumesAfterPlayingGesture(t *testing.T) {
	e, deck, _, sched := newEngine(rampBuffer(1000, 100))

	if _, err := e.Begin(100, 1000); err != nil {
		t.Fatal(err)
	}
	if deck.playing {
		t.Fatal("deck should be paused while scratching")
	}
	for x := 120.0; x <= 400; x += 20 {
		sched.Advance(10 * time.Millisecond)
		if _, err := e.Move(x); err != nil {
			t.Fatal(err)
		}
	}
	res, err := e.End()
	if err != nil {
		t.Fatal(err)
	}

	if res.Time != 40 || !res.Resumed {
		t.Errorf("result = %+v, want time 40 resumed", res)
	}
	if !deck.playing || deck.pos != 40 {
		t.Errorf("deck playing=%v pos=%v, want true/40", deck.playing, deck.pos)
	}
	if len(deck.seeks) != 1 || deck.plays != 1 {
		t.Errorf("seeks=%v plays=%d, want exactly one of each", deck.seeks, deck.plays)
	}
	if deck.scratching || deck.rate != 1 {
		t.Errorf("scratching=%v rate=%v, want pitch restored", deck.scratching, deck.rate)
	}
}

func TestCommitStaysPausedAfterPausedGesture(t *testing.T) {
	e, deck, _, sched := newEngine(rampBuffer(1000, 100))
	deck.playing = false

	e.Begin(500, 1000)
	sched.Advance(10 * time.Millisecond)
	e.Move(250)
	res, _ := e.End()

	if res.Resumed || deck.playing || deck.plays != 0 {
		t.Errorf("paused gesture resumed: %+v plays=%d", res, deck.plays)
	}
	if res.Time != 25 {
		t.Errorf("time = %v, want 25", res.Time)
	}
}

func TestShortSegmentsHoldCursor(t *testing.T) {
	buf := rampBuffer(1000, 100)
	e, _, player, sched := newEngine(buf)
	e.Begin(500, 1000) // 50s，第 50000 帧

	// 十分之一像素约 10 帧，低于最小片段
	sched.Advance(5 * time.Millisecond)
	e.Move(500.1)
	if len(player.segments) != 0 {
		t.Fatalf("short segment played: %d frames", len(player.segments[0]))
	}
	// 累积位移超过最小值后从保留的游标开始播放
	sched.Advance(5 * time.Millisecond)
	e.Move(503)
	if len(player.segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(player.segments))
	}
	want := buf.Index(e.targetFor(503, 1000)) - 50000
	if got := len(player.segments[0]); got != want {
		t.Errorf("segment frames = %d, want %d", got, want)
	}
	if first := player.segments[0][0][0]; first != 50000 {
		t.Errorf("segment starts at frame %v, want 50000", first)
	}
}

func TestBackwardDragPlaysReversed(t *testing.T) {
	buf := rampBuffer(1000, 100)
	e, _, player, sched := newEngine(buf)
	e.Begin(500, 1000)
	sched.Advance(10 * time.Millisecond)
	e.Move(495) // 后退半秒

	if len(player.segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(player.segments))
	}
	seg := player.segments[0]
	end := float64(buf.Index(e.targetFor(495, 1000)))
	if seg[0][0] != 49999 || seg[len(seg)-1][0] != end {
		t.Errorf("reverse segment spans %v..%v, want 49999..%v", seg[0][0], seg[len(seg)-1][0], end)
	}
}

func TestRateClamped(t *testing.T) {
	e, _, player, sched := newEngine(rampBuffer(1000, 100))
	e.Begin(0, 1000)

	sched.Advance(10 * time.Millisecond)
	e.Move(500) // 10ms 内到 50s
	sched.Advance(4 * time.Second)
	e.Move(505) // 四秒走过半秒媒体

	if len(player.rates) != 2 {
		t.Fatalf("rates = %v, want 2 entries", player.rates)
	}
	if player.rates[0] != 3 {
		t.Errorf("fast drag rate = %v, want 3", player.rates[0])
	}
	if math.Abs(player.rates[1]-0.25) > 1e-9 {
		t.Errorf("slow drag rate = %v, want 0.25", player.rates[1])
	}
}

func TestIdleStopsScratchAudio(t *testing.T) {
	e, _, player, sched := newEngine(rampBuffer(1000, 100))
	e.Begin(100, 1000)
	sched.Advance(10 * time.Millisecond)
	e.Move(200)

	sched.Advance(100 * time.Millisecond)
	if player.stops != 0 {
		t.Fatal("idle fired before the window elapsed")
	}
	sched.Advance(30 * time.Millisecond)
	if player.stops != 1 {
		t.Errorf("stops = %d, want 1 after idle", player.stops)
	}

	e.End()
	sched.Advance(time.Second)
	if player.stops != 2 {
		t.Errorf("stops = %d, want 2 (idle + release only)", player.stops)
	}
}

func TestRateSeekWithoutBuffer(t *testing.T) {
	e, deck, player, sched := newEngine(nil)
	if e.Strategy() != RateSeek {
		t.Fatalf("strategy = %v, want rate-seek", e.Strategy())
	}
	e.Begin(100, 1000)
	sched.Advance(10 * time.Millisecond)
	e.Move(200)

	if len(player.segments) != 0 {
		t.Error("rate-seek must not synthesize segments")
	}
	if deck.pos != 20 || !deck.playing {
		t.Errorf("deck pos=%v playing=%v, want 20/true", deck.pos, deck.playing)
	}
	res, _ := e.End()
	if res.Time != 20 || !res.Resumed {
		t.Errorf("result = %+v", res)
	}
}

func TestMoveWithoutBegin(t *testing.T) {
	e, _, _, _ := newEngine(nil)
	if _, err := e.Move(1); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}
