package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"UltimateDJ/core/scratch"
	"UltimateDJ/core/transport"
	"UltimateDJ/logger"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"
)

const (
	tapSize        = 4096
	timeUpdateRate = 250 * time.Millisecond
)

var errNoSource = errors.New("audio: no source loaded")

// Element 总线上的一个播放源，处理链为
// decoder -> resampler (rate) -> gain (volume) -> tap -> ctrl (pause) -> gate.
//
// 加锁顺序：先 e.mu 再 speaker 锁；speaker 回调中不同步获取 e.mu
type Element struct {
	engine       *Engine
	bus          Bus
	fetch        Fetcher
	decodeBuffer bool

	mu        sync.Mutex
	gen       uint64
	cancel    context.CancelFunc
	stream    beep.StreamSeekCloser
	format    beep.Format
	resampler *beep.Resampler
	gain      *effects.Gain
	tap       *Tap
	ctrl      *beep.Ctrl
	gate      *gate
	attached  bool
	playing   bool
	rate      float64
	volume    float64
	tickStop  chan struct{}
	handler   func(transport.MediaEvent)

	buffer atomic.Pointer[scratch.Buffer]
}

// NewElement 在 bus 上创建播放源；decodeBuffer 为真时每次加载
// 都会额外解码到内存，供缓冲搓碟使用
func (e *Engine) NewElement(bus Bus, fetch Fetcher, decodeBuffer bool) *Element {
	return &Element{
		engine:       e,
		bus:          bus,
		fetch:        fetch,
		decodeBuffer: decodeBuffer,
		rate:         1,
		volume:       1,
	}
}

func (el *Element) SetHandler(fn func(transport.MediaEvent)) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.handler = fn
}

// Buffer 返回当前曲目的搓碟缓冲，解码未完成时为 nil
func (el *Element) Buffer() *scratch.Buffer {
	return el.buffer.Load()
}

func (el *Element) Open(src string, done func(duration float64, err error)) {
	el.mu.Lock()
	el.unloadLocked()
	el.gen++
	gen := el.gen
	ctx, cancel := context.WithCancel(context.Background())
	el.cancel = cancel
	el.mu.Unlock()

	go func() {
		data, err := el.read(ctx, src)
		if err != nil {
			done(0, err)
			return
		}
		stream, format, err := decode(src, data)
		if err != nil {
			done(0, err)
			return
		}

		el.mu.Lock()
		if gen != el.gen {
			el.mu.Unlock()
			stream.Close()
			return
		}
		el.stream = stream
		el.format = format
		el.buildLocked()
		duration := float64(stream.Len()) / float64(format.SampleRate)
		el.mu.Unlock()

		done(duration, nil)

		if el.decodeBuffer {
			buf, err := DecodeBuffer(src, data)
			if err != nil {
				logger.Warn("Scratch buffer decode failed, using rate-seek",
					logger.String("src", src),
					logger.ErrorField(err))
				return
			}
			el.mu.Lock()
			if gen == el.gen {
				el.buffer.Store(buf)
			}
			el.mu.Unlock()
		}
	}()
}

func (el *Element) read(ctx context.Context, src string) ([]byte, error) {
	rc, err := el.fetch.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// buildLocked 基于当前流重建处理链
func (el *Element) buildLocked() {
	el.resampler = beep.ResampleRatio(4, el.ratioLocked(), el.stream)
	el.gain = &effects.Gain{Streamer: el.resampler, Gain: el.volume - 1}
	el.tap = NewTap(el.gain, tapSize)
	el.ctrl = &beep.Ctrl{Streamer: el.tap, Paused: true}
	el.gate = &gate{s: el.ctrl}
	el.attached = false
}

func (el *Element) ratioLocked() float64 {
	if el.format.SampleRate == 0 {
		return el.rate
	}
	return el.rate * float64(el.format.SampleRate) / float64(el.engine.sr)
}

func (el *Element) Unload() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.gen++
	el.unloadLocked()
}

func (el *Element) unloadLocked() {
	if el.cancel != nil {
		el.cancel()
		el.cancel = nil
	}
	el.stopTickerLocked()
	if el.stream != nil {
		speaker.Lock()
		el.gate.closed = true
		speaker.Unlock()
		el.stream.Close()
	}
	el.stream = nil
	el.attached = false
	el.playing = false
	el.buffer.Store(nil)
}

func (el *Element) Play() error {
	if !el.engine.Unlocked() {
		return transport.ErrOutputLocked
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.stream == nil {
		return errNoSource
	}
	gen := el.gen
	speaker.Lock()
	el.ctrl.Paused = false
	if !el.attached {
		el.engine.add(el.bus, beep.Seq(el.gate, beep.Callback(func() {
			go el.finished(gen)
		})))
		el.attached = true
	}
	speaker.Unlock()
	el.playing = true
	el.startTickerLocked(gen)
	return nil
}

func (el *Element) Pause() {
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.stream == nil {
		return
	}
	speaker.Lock()
	el.ctrl.Paused = true
	speaker.Unlock()
	el.playing = false
	el.stopTickerLocked()
}

func (el *Element) Seek(t float64) error {
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.stream == nil {
		return errNoSource
	}
	pos := int(t * float64(el.format.SampleRate))
	if last := el.stream.Len() - 1; pos > last {
		pos = last
	}
	if pos < 0 {
		pos = 0
	}
	speaker.Lock()
	err := el.stream.Seek(pos)
	speaker.Unlock()
	return err
}

func (el *Element) Position() float64 {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.positionLocked()
}

func (el *Element) positionLocked() float64 {
	if el.stream == nil || el.format.SampleRate == 0 {
		return 0
	}
	speaker.Lock()
	p := el.stream.Position()
	speaker.Unlock()
	return float64(p) / float64(el.format.SampleRate)
}

func (el *Element) SetVolume(v float64) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.volume = clampLevel(v)
	if el.gain != nil {
		speaker.Lock()
		el.gain.Gain = el.volume - 1
		speaker.Unlock()
	}
}

func (el *Element) SetRate(r float64) {
	if r <= 0 {
		return
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	el.rate = r
	if el.resampler != nil {
		speaker.Lock()
		el.resampler.SetRatio(el.ratioLocked())
		speaker.Unlock()
	}
}

// Rate 当前播放速率倍数
func (el *Element) Rate() float64 {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.rate
}

// Playing 是否正在出声
func (el *Element) Playing() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.playing
}

// Samples 向分析器暴露当前采样环
func (el *Element) Samples(n int) []float64 {
	el.mu.Lock()
	tap := el.tap
	el.mu.Unlock()
	if tap == nil {
		return make([]float64, n)
	}
	return tap.Samples(n)
}

// finished 在 speaker 协程中流播完后调用
func (el *Element) finished(gen uint64) {
	el.mu.Lock()
	if gen != el.gen || el.stream == nil || !el.attached {
		el.mu.Unlock()
		return
	}
	el.playing = false
	el.stopTickerLocked()
	// 播完的处理链无法重启，重建以便之后定位
	el.buildLocked()
	h := el.handler
	el.mu.Unlock()

	if h != nil {
		h(transport.MediaEvent{Kind: transport.MediaEnded})
	}
}

func (el *Element) startTickerLocked(gen uint64) {
	if el.tickStop != nil {
		return
	}
	stop := make(chan struct{})
	el.tickStop = stop
	go func() {
		ticker := time.NewTicker(timeUpdateRate)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				el.mu.Lock()
				if gen != el.gen || !el.playing {
					el.mu.Unlock()
					continue
				}
				pos := el.positionLocked()
				h := el.handler
				el.mu.Unlock()
				if h != nil {
					h(transport.MediaEvent{Kind: transport.MediaTimeUpdate, Time: pos})
				}
			}
		}
	}()
}

func (el *Element) stopTickerLocked() {
	if el.tickStop != nil {
		close(el.tickStop)
		el.tickStop = nil
	}
}
