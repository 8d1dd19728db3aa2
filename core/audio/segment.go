package audio

import (
	"sync"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"
)

// segment 播放一段固定帧，只播一次
type segment struct {
	frames [][2]float64
	pos    int
}

func (s *segment) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.frames) {
		return 0, false
	}
	n := copy(samples, s.frames[s.pos:])
	s.pos += n
	return n, true
}

func (s *segment) Err() error { return nil }

// Scratcher 在总线上为单个唱盘播放搓碟片段，新片段替换旧片段
type Scratcher struct {
	engine *Engine
	bus    Bus

	mu     sync.Mutex
	volume float64
	cur    *gate
}

// NewScratcher 创建输出到 bus 的片段播放器
func (e *Engine) NewScratcher(bus Bus) *Scratcher {
	return &Scratcher{engine: e, bus: bus, volume: 1}
}

// SetVolume 跟随唱盘音量
func (s *Scratcher) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = clampLevel(v)
	s.mu.Unlock()
}

func (s *Scratcher) PlaySegment(frames [][2]float64, sampleRate int, rate float64) {
	if len(frames) == 0 || !s.engine.Unlocked() {
		return
	}
	if rate <= 0 {
		rate = 1
	}
	ratio := rate * float64(sampleRate) / float64(s.engine.sr)
	src := beep.ResampleRatio(3, ratio, &segment{frames: frames})

	s.mu.Lock()
	defer s.mu.Unlock()
	g := &gate{s: &effects.Gain{Streamer: src, Gain: s.volume - 1}}
	speaker.Lock()
	if s.cur != nil {
		s.cur.closed = true
	}
	s.engine.add(s.bus, g)
	speaker.Unlock()
	s.cur = g
}

func (s *Scratcher) StopSegment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return
	}
	speaker.Lock()
	s.cur.closed = true
	speaker.Unlock()
	s.cur = nil
}
