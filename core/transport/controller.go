// Package transport 驱动单盘媒体的加载与播放生命周期
package transport

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"UltimateDJ/core/eventloop"
	"UltimateDJ/logger"
	"UltimateDJ/model"
)

// State 唱盘所处的生命周期阶段
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady // 已加载且暂停
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "paused"
	case StatePlaying:
		return "playing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Listener 在事件循环上接收控制器通知
type Listener interface {
	OnLoaded(deck model.DeckID, duration float64)
	OnTimeUpdate(deck model.DeckID, t float64)
	OnEnded(deck model.DeckID)
	OnError(deck model.DeckID, err error)
}

// Controller 持有一个 Media，所有方法都必须在事件循环上调用
type Controller struct {
	deck     model.DeckID
	media    Media
	sched    eventloop.Scheduler
	listener Listener

	state      State
	scratching bool
	gen        atomic.Uint64
	track      *model.Track
	duration   float64
	volume     float64
	pitch      float64
	lastErr    error
}

// NewController 把 media 绑定到唱盘，媒体回调投递到 sched
func NewController(deck model.DeckID, media Media, sched eventloop.Scheduler, l Listener) *Controller {
	c := &Controller{
		deck:     deck,
		media:    media,
		sched:    sched,
		listener: l,
		volume:   1,
		pitch:    1,
	}
	media.SetHandler(func(ev MediaEvent) {
		gen := c.gen.Load()
		sched.Post(func() { c.handleMedia(gen, ev) })
	})
	return c
}

func (c *Controller) Deck() model.DeckID { return c.deck }
func (c *Controller) State() State        { return c.state }
func (c *Controller) Scratching() bool    { return c.scratching }
func (c *Controller) Duration() float64   { return c.duration }
func (c *Controller) Track() *model.Track { return c.track }
func (c *Controller) Pitch() float64      { return c.pitch }
func (c *Controller) Volume() float64     { return c.volume }
func (c *Controller) LastError() error    { return c.lastErr }
func (c *Controller) Playing() bool       { return c.state == StatePlaying }
func (c *Controller) Loaded() bool        { return c.state == StateReady || c.state == StatePlaying }

// Position 媒体位置，未加载时为 0
func (c *Controller) Position() float64 {
	if !c.Loaded() {
		return 0
	}
	return c.media.Position()
}

// Load 绑定曲目，seekTo 非空时在播放前定位；之前 Load 的完成回调被忽略
func (c *Controller) Load(track *model.Track, seekTo *float64, autoplay bool) {
	if track == nil {
		c.Clear()
		return
	}
	c.media.Pause()
	gen := c.gen.Add(1)
	c.state = StateLoading
	c.scratching = false
	c.track = track
	c.duration = track.Duration
	c.lastErr = nil

	var target *float64
	if seekTo != nil {
		target = model.Float64Ptr(*seekTo)
	}
	c.media.Open(track.MediaPath, func(duration float64, err error) {
		c.sched.Post(func() { c.finishLoad(gen, duration, err, target, autoplay) })
	})
}

func (c *Controller) finishLoad(gen uint64, duration float64, err error, seekTo *float64, autoplay bool) {
	if gen != c.gen.Load() {
		logger.Debug("Dropping stale load completion",
			logger.String("deck", string(c.deck)))
		return
	}
	if err != nil {
		c.state = StateEmpty
		c.lastErr = &LoadError{Deck: c.deck, TrackID: c.trackID(), Err: err}
		c.notifyError(c.lastErr)
		return
	}
	if duration > 0 {
		c.duration = duration
	}
	c.state = StateReady
	c.media.SetVolume(c.volume)
	c.media.SetRate(c.pitch)
	if seekTo != nil {
		if err := c.media.Seek(c.clamp(*seekTo)); err != nil {
			logger.Warn("Initial seek failed",
				logger.String("deck", string(c.deck)),
				logger.ErrorField(err))
		}
	}
	if c.listener != nil {
		c.listener.OnLoaded(c.deck, c.duration)
	}
	if autoplay {
		if err := c.Play(); err != nil {
			c.notifyError(err)
		}
	}
}

// Clear 卸载唱盘并放弃未完成的加载
func (c *Controller) Clear() {
	c.gen.Add(1)
	c.media.Pause()
	c.media.Unload()
	c.state = StateEmpty
	c.scratching = false
	c.track = nil
	c.duration = 0
	c.lastErr = nil
}

// Play 开始播放；输出锁定时返回 *PlaybackBlockedError，唱盘保持暂停
func (c *Controller) Play() error {
	if !c.Loaded() {
		return ErrNotReady
	}
	if err := c.media.Play(); err != nil {
		c.state = StateReady
		if errors.Is(err, ErrOutputLocked) {
			return &PlaybackBlockedError{Deck: c.deck}
		}
		return fmt.Errorf("deck %s: play: %w", c.deck, err)
	}
	c.state = StatePlaying
	return nil
}

// Pause 暂停并保留位置
func (c *Controller) Pause() {
	c.media.Pause()
	if c.state == StatePlaying {
		c.state = StateReady
	}
}

// Seek 跳到限幅后的 t，返回实际时间
func (c *Controller) Seek(t float64) (float64, error) {
	if !c.Loaded() {
		return 0, ErrNotReady
	}
	t = c.clamp(t)
	if err := c.media.Seek(t); err != nil {
		return t, fmt.Errorf("deck %s: seek: %w", c.deck, err)
	}
	return t, nil
}

// Scrub 搓碟时移动位置，快速定位时的错误只记日志
func (c *Controller) Scrub(t float64) float64 {
	if !c.Loaded() {
		return 0
	}
	t = c.clamp(t)
	if err := c.media.Seek(t); err != nil {
		logger.Debug("Scrub seek failed",
			logger.String("deck", string(c.deck)),
			logger.ErrorField(err))
	}
	return t
}

// SetVolume 应用已叠加推子的实际音量
func (c *Controller) SetVolume(v float64) {
	c.volume = model.Clamp(v, model.MinVolume, model.MaxVolume)
	c.media.SetVolume(c.volume)
}

// SetPitch 设置速度倍数，越界时拒绝
func (c *Controller) SetPitch(r float64) error {
	if r < model.MinPitch || r > model.MaxPitch {
		return fmt.Errorf("%w: %.3f", ErrPitchOutOfRange, r)
	}
	c.pitch = r
	if !c.scratching {
		c.media.SetRate(r)
	}
	return nil
}

// SetRate 搓碟时直接设置播放速率
func (c *Controller) SetRate(r float64) {
	if r <= 0 {
		return
	}
	c.media.SetRate(r)
}

// BeginScratch 进入搓碟子状态
func (c *Controller) BeginScratch() error {
	if !c.Loaded() {
		return ErrNotReady
	}
	c.scratching = true
	return nil
}

// EndScratch 退出搓碟子状态并恢复音调
func (c *Controller) EndScratch() {
	if !c.scratching {
		return
	}
	c.scratching = false
	c.media.SetRate(c.pitch)
}

func (c *Controller) handleMedia(gen uint64, ev MediaEvent) {
	if gen != c.gen.Load() || !c.Loaded() {
		return
	}
	switch ev.Kind {
	case MediaTimeUpdate:
		if c.scratching || c.listener == nil {
			return
		}
		c.listener.OnTimeUpdate(c.deck, ev.Time)
	case MediaEnded:
		if c.scratching {
			return
		}
		c.state = StateReady
		if c.listener != nil {
			c.listener.OnEnded(c.deck)
		}
	case MediaError:
		if c.scratching {
			logger.Debug("Suppressed media error during scratch",
				logger.String("deck", string(c.deck)),
				logger.ErrorField(ev.Err))
			return
		}
		c.lastErr = &LoadError{Deck: c.deck, TrackID: c.trackID(), Err: ev.Err}
		c.notifyError(c.lastErr)
	}
}

func (c *Controller) notifyError(err error) {
	if c.listener != nil {
		c.listener.OnError(c.deck, err)
	}
}

func (c *Controller) trackID() string {
	if c.track == nil {
		return ""
	}
	return c.track.ID
}

func (c *Controller) clamp(t float64) float64 {
	hi := c.duration
	if hi <= 0 {
		return math.Max(0, t)
	}
	return model.Clamp(t, 0, hi)
}
