// Package bpm 根据实时低音能量中的起音估计唱盘速度
package bpm

import (
	"errors"
	"math"
	"sort"
	"time"
)

// 标准速度区间
const (
	MinBPM = 70.0
	MaxBPM = 170.0
)

// ErrInsufficientData 窗口结束时起音过少
var ErrInsufficientData = errors.New("bpm: not enough onsets")

// Normalize 通过加倍或减半把 bpm 折叠到 [MinBPM, MaxBPM]
// 非正数与非有限值原样返回
func Normalize(bpm float64) float64 {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return bpm
	}
	for bpm < MinBPM {
		bpm *= 2
	}
	for bpm > MaxBPM {
		bpm /= 2
	}
	return bpm
}

// Median 返回上中位数，不修改输入
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

// Intervals 相邻起音的间隔，单位毫秒
func Intervals(onsets []time.Time) []float64 {
	if len(onsets) < 2 {
		return nil
	}
	out := make([]float64, 0, len(onsets)-1)
	for i := 1; i < len(onsets); i++ {
		out = append(out, float64(onsets[i].Sub(onsets[i-1]))/float64(time.Millisecond))
	}
	return out
}

// FromIntervals 把起音间隔（毫秒）换算为归一化速度
func FromIntervals(intervalsMs []float64) (float64, error) {
	m := Median(intervalsMs)
	if m <= 0 {
		return 0, ErrInsufficientData
	}
	return Normalize(60000 / m), nil
}

// FromOnsets 由起音时间戳估计速度，至少需要 minOnsets 个
func FromOnsets(onsets []time.Time, minOnsets int) (float64, error) {
	if len(onsets) < minOnsets || len(onsets) < 2 {
		return 0, ErrInsufficientData
	}
	return FromIntervals(Intervals(onsets))
}
