// Package mix 把交叉推子与单盘音量换算为输出增益
package mix

import "UltimateDJ/model"

// Center 两盘都满音量的推子位置
const Center = 50.0

// FadeA A 盘推子增益：中点以上满幅，线性降到 x=0 时为 0
func FadeA(x float64) float64 {
	x = model.Clamp(x, 0, 100)
	if x >= Center {
		return 1
	}
	return x / Center
}

// FadeB B 盘推子增益：中点以下满幅，线性降到 x=100 时为 0
func FadeB(x float64) float64 {
	x = model.Clamp(x, 0, 100)
	if x <= Center {
		return 1
	}
	return (100 - x) / Center
}

// Fade 返回唱盘 id 的推子增益
func Fade(id model.DeckID, x float64) float64 {
	if id == model.DeckB {
		return FadeB(x)
	}
	return FadeA(x)
}

// MainMix 唱盘在主混音中的增益
func MainMix(d model.Deck, id model.DeckID, x float64) float64 {
	return model.Clamp(d.Volume, model.MinVolume, model.MaxVolume) * Fade(id, x)
}

// Cue 监听输出的增益，不受推子影响
func Cue(d model.Deck) float64 {
	return model.Clamp(d.Volume, model.MinVolume, model.MaxVolume)
}

// Gains 某一状态下的实际输出电平
type Gains struct {
	A     float64 // A 盘主输出
	BCue  float64 // B 盘监听输出
	BMain float64 // B 盘主混音副本
}

// Effective 计算状态的全部输出增益
func Effective(s model.DJState) Gains {
	return Gains{
		A:     MainMix(s.Decks.A, model.DeckA, s.Crossfader),
		BCue:  Cue(s.Decks.B),
		BMain: MainMix(s.Decks.B, model.DeckB, s.Crossfader),
	}
}
