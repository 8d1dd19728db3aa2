// Package beatsync 计算两台唱盘之间的速度与相位校正
package beatsync

import (
	"errors"
	"math"

	"UltimateDJ/model"
)

// 速度匹配可给出的音调范围，唱盘还会再次限幅
const (
	MinMatch = 0.5
	MaxMatch = 2.0
)

// ErrMissingBPM 任一唱盘没有检测到速度
var ErrMissingBPM = errors.New("beatsync: both decks need a detected bpm")

// DeckTiming 相位对齐所需的单盘输入
type DeckTiming struct {
	BPM   float64
	Pitch float64
	Time  float64
}

// TimingOf 从复制的唱盘状态提取时序
func TimingOf(d model.Deck) (DeckTiming, bool) {
	bpm, ok := d.BPM()
	if !ok {
		return DeckTiming{}, false
	}
	return DeckTiming{BPM: bpm, Pitch: d.Pitch, Time: d.Time}, true
}

// Interval 实际速度下一拍的秒数
func (t DeckTiming) Interval() float64 {
	pitch := t.Pitch
	if pitch <= 0 {
		pitch = 1
	}
	return 60 / (t.BPM * pitch)
}

// TempoMatch 返回让本盘听感速度等于另一盘的音调
func TempoMatch(thisBPM, otherBPM, otherPitch float64) (float64, error) {
	if thisBPM <= 0 || otherBPM <= 0 {
		return 0, ErrMissingBPM
	}
	if otherPitch <= 0 {
		otherPitch = 1
	}
	return model.Clamp(otherBPM*otherPitch/thisBPM, MinMatch, MaxMatch), nil
}

// Phase t 在一拍内的小数位置，范围 [0,1)
func Phase(t, interval float64) float64 {
	if interval <= 0 {
		return 0
	}
	p := math.Mod(t, interval) / interval
	if p < 0 {
		p++
	}
	return p
}

// WrapPhaseDiff 把 d 折叠到 (-0.5, 0.5]，-0.5 与 +0.5 都取 +0.5，即向前微调
func WrapPhaseDiff(d float64) float64 {
	d = math.Mod(d, 1)
	if d > 0.5 {
		d--
	}
	if d <= -0.5 {
		d++
	}
	return d
}

// PhaseAlign 返回本盘应定位到的时间，使拍网对齐另一盘最近的拍
func PhaseAlign(this, other DeckTiming) (float64, error) {
	if this.BPM <= 0 || other.BPM <= 0 {
		return 0, ErrMissingBPM
	}
	thisInterval := this.Interval()
	diff := WrapPhaseDiff(Phase(other.Time, other.Interval()) - Phase(this.Time, thisInterval))
	return math.Max(0, this.Time+diff*thisInterval), nil
}
