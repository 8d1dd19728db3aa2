package transport_test

import (
	"errors"
	"testing"

	"UltimateDJ/core/eventloop"
	"UltimateDJ/core/transport"
	"UltimateDJ/core/transport/transporttest"
	"UltimateDJ/model"
)

type recorder struct {
	loaded int
	ended  int
	times  []float64
	errs   []error
}

func (r *recorder) OnLoaded(model.DeckID, float64)         { r.loaded++ }
func (r *recorder) OnTimeUpdate(_ model.DeckID, t float64) { r.times = append(r.times, t) }
func (r *recorder) OnEnded(model.DeckID)                   { r.ended++ }
func (r *recorder) OnError(_ model.DeckID, err error)      { r.errs = append(r.errs, err) }

func newController() (*transport.Controller, *transporttest.Media, *recorder) {
	media := transporttest.New()
	rec := &recorder{}
	return transport.NewController(model.DeckA, media, eventloop.NewManual(), rec), media, rec
}

func track(id string) *model.Track {
	return &model.Track{ID: id, Title: id, Duration: 200, MediaPath: id + ".mp3"}
}

func TestLoadSeeksThenAutoplays(t *testing.T) {
	c, media, rec := newController()
	seek := 42.0
	c.Load(track("t1"), &seek, true)
	if c.State() != transport.StateLoading {
		t.Fatalf("state = %v, want loading", c.State())
	}
	media.Complete(180, nil)

	if c.State() != transport.StatePlaying {
		t.Errorf("state = %v, want playing", c.State())
	}
	if media.Pos != 42 {
		t.Errorf("position = %v, want 42", media.Pos)
	}
	if c.Duration() != 180 {
		t.Errorf("duration = %v, want 180", c.Duration())
	}
	if rec.loaded != 1 {
		t.Errorf("loaded callbacks = %d, want 1", rec.loaded)
	}
}

func TestStaleLoadIgnored(t *testing.T) {
	c, media, rec := newController()
	c.Load(track("old"), nil, true)
	c.Load(track("new"), nil, false)

	media.Complete(100, nil) // 旧的
	if c.State() != transport.StateLoading {
		t.Fatalf("stale completion changed state to %v", c.State())
	}
	media.Complete(100, nil) // 新的
	if c.State() != transport.StateReady {
		t.Errorf("state = %v, want paused", c.State())
	}
	if c.Track().ID != "new" || rec.loaded != 1 {
		t.Errorf("track = %s loaded = %d, want new/1", c.Track().ID, rec.loaded)
	}
}

func TestLoadErrorIsRetryable(t *testing.T) {
	c, media, rec := newController()
	c.Load(track("bad"), nil, true)
	media.Complete(0, errors.New("decode failed"))

	if c.State() != transport.StateEmpty {
		t.Errorf("state = %v, want empty", c.State())
	}
	var le *transport.LoadError
	if len(rec.errs) != 1 || !errors.As(rec.errs[0], &le) || !le.Retryable() {
		t.Fatalf("errors = %v, want one retryable LoadError", rec.errs)
	}

	c.Load(track("bad"), nil, false)
	media.Complete(100, nil)
	if c.State() != transport.StateReady {
		t.Errorf("retry state = %v, want paused", c.State())
	}
}

func TestPlayBlocked(t *testing.T) {
	c, media, _ := newController()
	c.Load(track("t1"), nil, false)
	media.Complete(100, nil)

	media.PlayErr = transport.ErrOutputLocked
	err := c.Play()
	var blocked *transport.PlaybackBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("err = %v, want PlaybackBlockedError", err)
	}
	if c.Playing() {
		t.Error("deck should stay paused after a blocked play")
	}

	media.PlayErr = nil
	if err := c.Play(); err != nil {
		t.Fatalf("explicit play after unlock: %v", err)
	}
	if !c.Playing() {
		t.Error("deck should play after unlock")
	}
}

func TestSeekClamps(t *testing.T) {
	c, media, _ := newController()
	if _, err := c.Seek(3); !errors.Is(err, transport.ErrNotReady) {
		t.Errorf("seek before load err = %v, want ErrNotReady", err)
	}
	c.Load(track("t1"), nil, false)
	media.Complete(100, nil)

	tests := []struct {
		in, want float64
	}{
		{-5, 0},
		{50, 50},
		{150, 100},
	}
	for _, tt := range tests {
		got, err := c.Seek(tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want || media.Pos != tt.want {
			t.Errorf("Seek(%v) = %v (media %v), want %v", tt.in, got, media.Pos, tt.want)
		}
	}
}

func TestSetPitchRejectsOutOfRange(t *testing.T) {
	c, media, _ := newController()
	for _, p := range []float64{0.49, 1.51, 2} {
		if err := c.SetPitch(p); !errors.Is(err, transport.ErrPitchOutOfRange) {
			t.Errorf("SetPitch(%v) err = %v, want ErrPitchOutOfRange", p, err)
		}
	}
	if err := c.SetPitch(1.5); err != nil {
		t.Fatal(err)
	}
	if media.Rate != 1.5 {
		t.Errorf("rate = %v, want 1.5", media.Rate)
	}
}

func TestScratchSuppressesTimeUpdatesAndErrors(t *testing.T) {
	c, media, rec := newController()
	c.Load(track("t1"), nil, true)
	media.Complete(100, nil)
	if err := c.SetPitch(1.1); err != nil {
		t.Fatal(err)
	}

	if err := c.BeginScratch(); err != nil {
		t.Fatal(err)
	}
	c.SetRate(2.5)
	media.Emit(transport.MediaEvent{Kind: transport.MediaTimeUpdate, Time: 3})
	media.Emit(transport.MediaEvent{Kind: transport.MediaError, Err: errors.New("transient")})
	if len(rec.times) != 0 || len(rec.errs) != 0 {
		t.Errorf("during scratch times=%v errs=%v, want none", rec.times, rec.errs)
	}

	c.EndScratch()
	if media.Rate != 1.1 {
		t.Errorf("rate after scratch = %v, want pre-scratch pitch 1.1", media.Rate)
	}
	media.Emit(transport.MediaEvent{Kind: transport.MediaTimeUpdate, Time: 4})
	if len(rec.times) != 1 || rec.times[0] != 4 {
		t.Errorf("times = %v, want [4]", rec.times)
	}
}

func TestEndedPausesDeck(t *testing.T) {
	c, media, rec := newController()
	c.Load(track("t1"), nil, true)
	media.Complete(100, nil)
	media.Emit(transport.MediaEvent{Kind: transport.MediaEnded})

	if rec.ended != 1 {
		t.Errorf("ended = %d, want 1", rec.ended)
	}
	if c.Playing() {
		t.Error("deck still playing after ended")
	}
}

func TestClearDropsPendingLoad(t *testing.T) {
	c, media, rec := newController()
	c.Load(track("t1"), nil, true)
	c.Clear()
	media.Complete(100, nil)

	if c.State() != transport.StateEmpty || rec.loaded != 0 {
		t.Errorf("state = %v loaded = %d, want empty/0", c.State(), rec.loaded)
	}
}
