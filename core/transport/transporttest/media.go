// Package transporttest 测试用的内存 Media
package transporttest

import (
	"sync"

	"UltimateDJ/core/transport"
)

// Media 记录每次调用，只在被要求时完成加载
type Media struct {
	mu      sync.Mutex
	Src     string
	Opens   int
	Unloads int
	Pos     float64
	Rate    float64
	Volume  float64
	Playing bool
	Seeks   []float64
	PlayErr error
	SeekErr error
	handler func(transport.MediaEvent)
	pending []func(float64, error)
}

// New 返回未加载、速率为 1 的假媒体
func New() *Media {
	return &Media{Rate: 1, Volume: 1}
}

func (m *Media) Open(src string, done func(duration float64, err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Src = src
	m.Opens++
	m.Pos = 0
	m.pending = append(m.pending, done)
}

// Complete 完成最早的未完成 Open
func (m *Media) Complete(duration float64, err error) {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return
	}
	done := m.pending[0]
	m.pending = m.pending[1:]
	m.mu.Unlock()
	done(duration, err)
}

// CompleteAll 依次完成所有未完成的 Open
func (m *Media) CompleteAll(duration float64) {
	for m.PendingLoads() > 0 {
		m.Complete(duration, nil)
	}
}

// PendingLoads 未完成的 Open 数量
func (m *Media) PendingLoads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Media) Unload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Unloads++
	m.Src = ""
	m.Playing = false
	m.Pos = 0
}

func (m *Media) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlayErr != nil {
		return m.PlayErr
	}
	m.Playing = true
	return nil
}

func (m *Media) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Playing = false
}

func (m *Media) Seek(t float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SeekErr != nil {
		return m.SeekErr
	}
	m.Pos = t
	m.Seeks = append(m.Seeks, t)
	return nil
}

func (m *Media) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Pos
}

func (m *Media) SetVolume(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Volume = v
}

func (m *Media) SetRate(r float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rate = r
}

func (m *Media) SetHandler(fn func(transport.MediaEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// Emit 把 ev 交给已注册的处理器
func (m *Media) Emit(ev transport.MediaEvent) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// IsPlaying 加锁读取播放标志
func (m *Media) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Playing
}

// CurrentRate 加锁读取速率
func (m *Media) CurrentRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Rate
}
