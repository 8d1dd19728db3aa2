package scratch

// Buffer 完整解码到内存的曲目，用于倒放
type Buffer struct {
	SampleRate int
	Samples    [][2]float64
}

// Len 立体声帧数
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Samples)
}

// Duration 秒数
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Index 把秒换算为限幅后的帧下标
func (b *Buffer) Index(t float64) int {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	i := int(t * float64(b.SampleRate))
	if i < 0 {
		return 0
	}
	if i > len(b.Samples) {
		return len(b.Samples)
	}
	return i
}

// Segment 复制 from 与 to 之间的帧，to 在 from 之前时倒序返回
func (b *Buffer) Segment(from, to int) [][2]float64 {
	n := b.Len()
	from = clampIndex(from, n)
	to = clampIndex(to, n)
	if from == to {
		return nil
	}
	if to > from {
		out := make([][2]float64, to-from)
		copy(out, b.Samples[from:to])
		return out
	}
	out := make([][2]float64, from-to)
	for i := range out {
		out[i] = b.Samples[from-1-i]
	}
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
