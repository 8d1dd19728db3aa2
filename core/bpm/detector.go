package bpm

import (
	"context"
	"time"

	"UltimateDJ/config"
)

// Session 在一个分析窗口内累积起音
type Session struct {
	cfg       config.BPMTuning
	start     time.Time
	lastOnset time.Time
	onsets    []time.Time
}

// NewSession 从 start 开始一个窗口
func NewSession(cfg config.BPMTuning, start time.Time) *Session {
	return &Session{cfg: cfg, start: start}
}

// Sample 判断一次低音能量读数是否为起音
func (s *Session) Sample(energy float64, at time.Time) bool {
	if energy <= s.cfg.Threshold {
		return false
	}
	if len(s.onsets) > 0 && at.Sub(s.lastOnset) <= config.Ms(s.cfg.CooldownMs) {
		return false
	}
	s.onsets = append(s.onsets, at)
	s.lastOnset = at
	return true
}

// Done 在 now 时窗口是否已结束
func (s *Session) Done(now time.Time) bool {
	return now.Sub(s.start) > config.Ms(s.cfg.WindowMs)
}

// Onsets 目前捕获的起音
func (s *Session) Onsets() []time.Time {
	return append([]time.Time(nil), s.onsets...)
}

// Result 由窗口得出速度
func (s *Session) Result() (float64, error) {
	return FromOnsets(s.onsets, s.cfg.MinOnsets)
}

// EnergySource 提供唱盘输出当前的低音能量
type EnergySource interface {
	BassEnergy() float64
}

// Detector 对实时能量源运行分析窗口
type Detector struct {
	cfg config.BPMTuning
	now func() time.Time
}

// NewDetector 使用墙钟时间的检测器
func NewDetector(cfg config.BPMTuning) *Detector {
	return &Detector{cfg: cfg, now: time.Now}
}

// Detect 每个帧间隔采样一次 src，直到窗口结束或 ctx 取消
// 启动延迟由调用方负责
func (d *Detector) Detect(ctx context.Context, src EnergySource) (float64, error) {
	frame := config.Ms(d.cfg.FrameInterval)
	if frame <= 0 {
		frame = 16 * time.Millisecond
	}
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	session := NewSession(d.cfg, d.now())
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
			now := d.now()
			if session.Done(now) {
				return session.Result()
			}
			session.Sample(src.BassEnergy(), now)
		}
	}
}
