package audio

import (
	"sync"

	"github.com/faiface/beep"
)

// Tap 把流的单声道混合复制到环形缓冲，供分析使用
type Tap struct {
	s    beep.Streamer
	mu   sync.Mutex
	buf  []float64
	pos  int
	size int
}

// NewTap 用 size 个采样的环包装 s
func NewTap(s beep.Streamer, size int) *Tap {
	return &Tap{s: s, buf: make([]float64, size), size: size}
}

func (t *Tap) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.s.Stream(samples)
	t.mu.Lock()
	for i := 0; i < n; i++ {
		t.buf[t.pos] = (samples[i][0] + samples[i][1]) / 2
		t.pos = (t.pos + 1) % t.size
	}
	t.mu.Unlock()
	return n, ok
}

func (t *Tap) Err() error {
	return t.s.Err()
}

// Samples 返回最近 n 个采样，从旧到新
func (t *Tap) Samples(n int) []float64 {
	if n > t.size {
		n = t.size
	}
	out := make([]float64, n)
	t.mu.Lock()
	start := (t.pos - n + t.size) % t.size
	for i := 0; i < n; i++ {
		out[i] = t.buf[(start+i)%t.size]
	}
	t.mu.Unlock()
	return out
}

// gate 按需结束流，让混音器将其移除
type gate struct {
	s      beep.Streamer
	closed bool
}

func (g *gate) Stream(samples [][2]float64) (int, bool) {
	if g.closed {
		return 0, false
	}
	return g.s.Stream(samples)
}

func (g *gate) Err() error {
	return g.s.Err()
}
