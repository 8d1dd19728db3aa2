// Package audio 通过 beep 把唱盘媒体送到系统扬声器
// 扬声器由两条总线驱动：主混音与监听
package audio

import (
	"fmt"
	"sync"
	"time"

	"UltimateDJ/logger"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"
)

// Bus 播放源输出的总线
type Bus int

const (
	MainBus Bus = iota
	CueBus
)

// DefaultSampleRate 扬声器采样率，所有源重采样到此值
const DefaultSampleRate = 44100

// Engine 持有扬声器，操作员显式 Unlock 之前保持静音锁定
type Engine struct {
	sr beep.SampleRate

	mu       sync.Mutex
	unlocked bool

	main    *beep.Mixer
	cue     *beep.Mixer
	cueGain *effects.Gain
}

// NewEngine 准备两条总线；cueLevel 为 0 时监听总线照常运行但不出声
func NewEngine(sampleRate int, cueLevel float64) *Engine {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	cue := &beep.Mixer{}
	return &Engine{
		sr:      beep.SampleRate(sampleRate),
		main:    &beep.Mixer{},
		cue:     cue,
		cueGain: &effects.Gain{Streamer: cue, Gain: clampLevel(cueLevel) - 1},
	}
}

// Unlock 打开扬声器，可重复调用
func (e *Engine) Unlock() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unlocked {
		return nil
	}
	if err := speaker.Init(e.sr, e.sr.N(100*time.Millisecond)); err != nil {
		return fmt.Errorf("failed to open audio output: %w", err)
	}
	speaker.Play(e.main, e.cueGain)
	e.unlocked = true
	logger.Info("Audio output unlocked", logger.Int("sampleRate", int(e.sr)))
	return nil
}

// Unlocked 扬声器是否已打开
func (e *Engine) Unlocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unlocked
}

// SetCueLevel 设置监听总线在共享扬声器上的音量
func (e *Engine) SetCueLevel(level float64) {
	speaker.Lock()
	e.cueGain.Gain = clampLevel(level) - 1
	speaker.Unlock()
}

// Close 关闭扬声器输出
func (e *Engine) Close() {
	if e.Unlocked() {
		speaker.Clear()
	}
}

// SampleRate 扬声器采样率
func (e *Engine) SampleRate() beep.SampleRate {
	return e.sr
}

func (e *Engine) mixer(b Bus) *beep.Mixer {
	if b == CueBus {
		return e.cue
	}
	return e.main
}

// add 把 s 挂到总线上，调用方需持有 speaker 锁
func (e *Engine) add(b Bus, s beep.Streamer) {
	e.mixer(b).Add(s)
}

func clampLevel(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
