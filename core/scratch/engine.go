// Package scratch 把唱盘位置条上的拖动手势转换为搓碟声音与最终定位
package scratch

import (
	"errors"
	"math"
	"time"

	"UltimateDJ/config"
	"UltimateDJ/core/eventloop"
	"UltimateDJ/logger"
	"UltimateDJ/model"
)

// ErrNoSession 没有先调用 Begin 时 Move 与 End 返回
var ErrNoSession = errors.New("scratch: no active gesture")

// Deck 引擎驱动的走带接口
type Deck interface {
	Duration() float64
	Position() float64
	Playing() bool
	BeginScratch() error
	EndScratch()
	Scrub(t float64) float64
	SetRate(r float64)
	Play() error
	Pause()
	Seek(t float64) (float64, error)
}

// SegmentPlayer 播放合成的搓碟声音
type SegmentPlayer interface {
	PlaySegment(frames [][2]float64, sampleRate int, rate float64)
	StopSegment()
}

// Strategy 手势的发声方式
type Strategy int

const (
	// BufferScratch 从解码缓冲合成片段，向后拖动时倒放
	BufferScratch Strategy = iota
	// RateSeek 定位走带并改变速率，仅在解码缓冲就绪前使用
	RateSeek
)

func (s Strategy) String() string {
	if s == RateSeek {
		return "rate-seek"
	}
	return "buffer"
}

// Result 手势结束后提交的结果
type Result struct {
	Time    float64
	Resumed bool
	PlayErr error
}

type point struct {
	target float64
	at     time.Time
}

type session struct {
	strategy   Strategy
	wasPlaying bool
	width      float64
	target     float64
	cursor     int
	history    []point
	idle       eventloop.Timer
	sounding   bool
}

// Engine 单盘同一时间只处理一个手势，只在 sched 所属的事件循环上运行
type Engine struct {
	deck   Deck
	sched  eventloop.Scheduler
	player SegmentPlayer
	buffer func() *Buffer
	cfg    config.ScratchTuning
	cur    *session
}

// NewEngine 把唱盘与搓碟音频连起来；每次手势重新读取 buffer，解码中可返回 nil
func NewEngine(deck Deck, sched eventloop.Scheduler, player SegmentPlayer, buffer func() *Buffer, cfg config.ScratchTuning) *Engine {
	if buffer == nil {
		buffer = func() *Buffer { return nil }
	}
	return &Engine{deck: deck, sched: sched, player: player, buffer: buffer, cfg: cfg}
}

// SetTuning 替换下一次手势使用的参数
func (e *Engine) SetTuning(cfg config.ScratchTuning) {
	e.cfg = cfg
}

// Active 是否有手势进行中
func (e *Engine) Active() bool {
	return e.cur != nil
}

// Strategy 当前手势的发声方式
func (e *Engine) Strategy() Strategy {
	if e.cur == nil {
		return e.pickStrategy()
	}
	return e.cur.strategy
}

func (e *Engine) pickStrategy() Strategy {
	if e.player != nil && e.buffer().Len() > 0 {
		return BufferScratch
	}
	return RateSeek
}

// Begin 在给定宽度的条带上从 x 开始手势，返回目标时间
func (e *Engine) Begin(x, width float64) (float64, error) {
	if e.cur != nil {
		e.abort()
	}
	if err := e.deck.BeginScratch(); err != nil {
		return 0, err
	}
	s := &session{
		strategy:   e.pickStrategy(),
		wasPlaying: e.deck.Playing(),
		width:      width,
	}
	s.target = e.targetFor(x, width)
	e.cur = s

	e.deck.Pause()
	e.deck.Scrub(s.target)
	if s.strategy == BufferScratch {
		s.cursor = e.buffer().Index(s.target)
	}
	s.history = append(s.history, point{target: s.target, at: e.sched.Now()})
	return s.target, nil
}

// Move 跟随指针到 x，返回新的目标时间
func (e *Engine) Move(x float64) (float64, error) {
	s := e.cur
	if s == nil {
		return 0, ErrNoSession
	}
	now := e.sched.Now()
	prev := s.target
	s.target = e.targetFor(x, s.width)
	s.history = append(s.history, point{target: s.target, at: now})
	rate := e.rate(now)

	switch s.strategy {
	case BufferScratch:
		e.playSegment(s, rate)
		e.deck.Scrub(s.target)
	case RateSeek:
		e.deck.Scrub(s.target)
		if s.target != prev {
			e.deck.SetRate(rate)
			if !s.sounding {
				if err := e.deck.Play(); err != nil {
					logger.Debug("Scratch audio unavailable", logger.ErrorField(err))
				} else {
					s.sounding = true
				}
			}
		}
	}
	e.armIdle(s)
	return s.target, nil
}

// End 提交手势：真正定位并恢复音调，Begin 时在播放才恢复播放
func (e *Engine) End() (Result, error) {
	s := e.cur
	if s == nil {
		return Result{}, ErrNoSession
	}
	e.cur = nil
	e.silence(s)

	final := s.target
	if t, err := e.deck.Seek(final); err != nil {
		logger.Debug("Scratch commit seek failed", logger.ErrorField(err))
	} else {
		final = t
	}
	e.deck.EndScratch()

	res := Result{Time: final}
	if s.wasPlaying {
		if err := e.deck.Play(); err != nil {
			res.PlayErr = err
		} else {
			res.Resumed = true
		}
	}
	return res, nil
}

// Cancel 放弃当前手势不提交，比如拖动中唱盘被清空
func (e *Engine) Cancel() {
	if e.cur != nil {
		e.abort()
	}
}

func (e *Engine) abort() {
	s := e.cur
	e.cur = nil
	e.silence(s)
	e.deck.EndScratch()
}

func (e *Engine) silence(s *session) {
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	if s.strategy == BufferScratch && e.player != nil {
		e.player.StopSegment()
	}
	if s.strategy == RateSeek && s.sounding {
		e.deck.Pause()
	}
	s.sounding = false
}

func (e *Engine) playSegment(s *session, rate float64) {
	buf := e.buffer()
	to := buf.Index(s.target)
	n := to - s.cursor
	if n < 0 {
		n = -n
	}
	if n < e.minSegment() {
		return
	}
	frames := buf.Segment(s.cursor, to)
	s.cursor = to
	e.player.PlaySegment(frames, buf.SampleRate, rate)
	s.sounding = true
}

func (e *Engine) armIdle(s *session) {
	if s.idle != nil {
		s.idle.Stop()
	}
	idle := config.Ms(e.cfg.IdleMs)
	if idle <= 0 {
		idle = 120 * time.Millisecond
	}
	s.idle = e.sched.AfterFunc(idle, func() {
		if e.cur != s {
			return
		}
		s.idle = nil
		if s.strategy == BufferScratch && e.player != nil {
			e.player.StopSegment()
		}
		if s.strategy == RateSeek && s.sounding {
			e.deck.Pause()
		}
		s.sounding = false
	})
}

// rate 速度窗口内每秒墙钟走过的媒体秒数
func (e *Engine) rate(now time.Time) float64 {
	s := e.cur
	window := config.Ms(e.cfg.VelocityWindowMs)
	if window <= 0 {
		window = 60 * time.Millisecond
	}
	cut := 0
	for cut < len(s.history)-2 && now.Sub(s.history[cut].at) > window {
		cut++
	}
	s.history = s.history[cut:]

	oldest := s.history[0]
	dt := now.Sub(oldest.at).Seconds()
	lo, hi := e.cfg.MinRate, e.cfg.MaxRate
	if lo <= 0 {
		lo = 0.25
	}
	if hi < lo {
		hi = lo
	}
	if dt <= 0 {
		return hi
	}
	return model.Clamp(math.Abs(s.target-oldest.target)/dt, lo, hi)
}

func (e *Engine) targetFor(x, width float64) float64 {
	if width <= 0 {
		return 0
	}
	return model.Clamp(x/width, 0, 1) * e.deck.Duration()
}

func (e *Engine) minSegment() int {
	if e.cfg.MinSegmentSamples <= 0 {
		return 256
	}
	return e.cfg.MinSegmentSamples
}
