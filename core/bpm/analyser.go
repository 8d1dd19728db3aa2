package bpm

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// 分析器默认参数，与浏览器 AnalyserNode 一致
const (
	DefaultFFTSize   = 256
	DefaultMinDB     = -100.0
	DefaultMaxDB     = -30.0
	DefaultSmoothing = 0.8
)

// SampleTap 提供输出最近的单声道采样
type SampleTap interface {
	Samples(n int) []float64
}

// Analyser 把时域采样转换为 0..255 的频段
type Analyser struct {
	tap       SampleTap
	size      int
	bassBins  int
	minDB     float64
	maxDB     float64
	smoothing float64

	mu     sync.Mutex
	win    []float64
	smooth []float64
}

// NewAnalyser 从 tap 读取，最低 bassBins 个频段之和作为低音能量
func NewAnalyser(tap SampleTap, bassBins int) *Analyser {
	if bassBins <= 0 {
		bassBins = 10
	}
	return &Analyser{
		tap:       tap,
		size:      DefaultFFTSize,
		bassBins:  bassBins,
		minDB:     DefaultMinDB,
		maxDB:     DefaultMaxDB,
		smoothing: DefaultSmoothing,
		win:       window.Blackman(DefaultFFTSize),
		smooth:    make([]float64, DefaultFFTSize/2),
	}
}

// ByteFrequencyData 返回 size/2 个频段，缩放到 0..255
func (a *Analyser) ByteFrequencyData() []uint8 {
	samples := a.tap.Samples(a.size)
	frame := make([]float64, a.size)
	copy(frame[a.size-len(samples):], samples)

	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range frame {
		frame[i] *= a.win[i]
	}
	spectrum := fft.FFTReal(frame)

	out := make([]uint8, len(a.smooth))
	scale := 255 / (a.maxDB - a.minDB)
	for k := range a.smooth {
		mag := cmplx.Abs(spectrum[k]) / float64(a.size)
		a.smooth[k] = a.smoothing*a.smooth[k] + (1-a.smoothing)*mag
		db := math.Inf(-1)
		if a.smooth[k] > 0 {
			db = 20 * math.Log10(a.smooth[k])
		}
		v := math.Floor(scale * (db - a.minDB))
		switch {
		case math.IsNaN(v) || v < 0:
			out[k] = 0
		case v > 255:
			out[k] = 255
		default:
			out[k] = uint8(v)
		}
	}
	return out
}

// BassEnergy 当前帧最低频段之和
func (a *Analyser) BassEnergy() float64 {
	bins := a.ByteFrequencyData()
	n := a.bassBins
	if n > len(bins) {
		n = len(bins)
	}
	var sum float64
	for _, b := range bins[:n] {
		sum += float64(b)
	}
	return sum
}

// Reset 清空平滑历史，换曲后调用
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.smooth {
		a.smooth[i] = 0
	}
}
