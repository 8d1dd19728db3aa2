// Package waveform 生成并绘制曲目振幅包络
package waveform

import (
	"math"
	"strings"

	"UltimateDJ/core/scratch"
	"UltimateDJ/model"
)

// 电平从轻到响绘制
var levels = []rune(" .:-=+*#%@")

// FromBuffer 把解码缓冲压缩为 points 列平均/峰值振幅，按最大峰值归一化
func FromBuffer(buf *scratch.Buffer, points int) model.Waveform {
	n := buf.Len()
	if n == 0 || points <= 0 {
		return nil
	}
	if points > n {
		points = n
	}
	out := make(model.Waveform, points)
	var loudest float64
	for i := 0; i < points; i++ {
		from := i * n / points
		to := (i + 1) * n / points
		var sum, peak float64
		for _, f := range buf.Samples[from:to] {
			a := (math.Abs(f[0]) + math.Abs(f[1])) / 2
			sum += a
			if a > peak {
				peak = a
			}
		}
		out[i] = model.WaveformPoint{Avg: sum / float64(to-from), Peak: peak}
		if peak > loudest {
			loudest = peak
		}
	}
	if loudest > 0 {
		for i := range out {
			out[i].Avg /= loudest
			out[i].Peak /= loudest
		}
	}
	return out
}

// Resample 把 w 映射到 width 列，合并列取峰值
func Resample(w model.Waveform, width int) model.Waveform {
	if len(w) == 0 || width <= 0 {
		return nil
	}
	out := make(model.Waveform, width)
	for i := range out {
		from := i * len(w) / width
		to := (i + 1) * len(w) / width
		if to <= from {
			to = from + 1
		}
		var sum, peak float64
		for _, p := range w[from:to] {
			sum += p.Avg
			peak = math.Max(peak, p.Peak)
		}
		out[i] = model.WaveformPoint{Avg: sum / float64(to-from), Peak: peak}
	}
	return out
}

// Render 把 w 绘制为 width 列的一行，在 progress (0..1) 处画 '|' 播放头
// progress 为负时不画播放头
func Render(w model.Waveform, width int, progress float64) string {
	cols := Resample(w, width)
	if cols == nil {
		return strings.Repeat("-", max(width, 0))
	}
	head := -1
	if progress >= 0 {
		head = int(math.Min(progress, 1) * float64(width-1))
	}
	var b strings.Builder
	for i, p := range cols {
		if i == head {
			b.WriteRune('|')
			continue
		}
		b.WriteRune(glyph(p.Peak))
	}
	return b.String()
}

func glyph(v float64) rune {
	if v <= 0 {
		return levels[0]
	}
	if v >= 1 {
		return levels[len(levels)-1]
	}
	return levels[int(v*float64(len(levels)-1)+0.5)]
}
