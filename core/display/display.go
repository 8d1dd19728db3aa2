// Package display 观众端视图：中继状态的只读副本，据此推导应当播放和显示的内容
package display

import (
	"reflect"
	"sync"

	"UltimateDJ/core/mix"
	"UltimateDJ/core/replica"
	"UltimateDJ/logger"
	"UltimateDJ/model"
)

// Source 主混音中一台可听的唱盘
type Source struct {
	Deck    model.DeckID `json:"deck"`
	TrackID string       `json:"trackId"`
	Gain    float64      `json:"gain"`
	Rate    float64      `json:"rate"`
}

// Picture 某一状态下显示端渲染的画面
type Picture struct {
	Sources      []Source `json:"sources"`
	Lead         string   `json:"lead"` // 主盘曲目，驱动视频与歌词
	Layers       []string `json:"layers"`
	Shader       string   `json:"shader"`
	PhotosFolder string   `json:"photosFolder,omitempty"`
	LyricsOffset int      `json:"lyricsOffset"`
}

// Compose 推导 s 的画面，B 盘只计入主混音副本，不计监听
func Compose(s model.DJState) Picture {
	g := mix.Effective(s)
	p := Picture{
		Lead:         s.Deck(s.MainDeck).Track(),
		Shader:       s.Shader,
		LyricsOffset: s.LyricsOffset,
	}
	for _, src := range []Source{
		{Deck: model.DeckA, Gain: g.A},
		{Deck: model.DeckB, Gain: g.BMain},
	} {
		d := s.Deck(src.Deck)
		if !d.HasTrack() || !d.Playing || src.Gain <= 0 {
			continue
		}
		src.TrackID = d.Track()
		src.Rate = d.Pitch
		p.Sources = append(p.Sources, src)
	}
	for _, layer := range []struct {
		name string
		on   bool
	}{
		{model.LayerVideo, s.Display.Video},
		{model.LayerBackdrop, s.Display.Backdrop},
		{model.LayerSlideshow, s.Display.Slideshow},
		{model.LayerLyrics, s.Display.Lyrics},
	} {
		if layer.on {
			p.Layers = append(p.Layers, layer.name)
		}
	}
	if s.PhotosFolder != nil {
		p.PhotosFolder = *s.PhotosFolder
	}
	return p
}

// Display 跟随 store 并报告画面变化
type Display struct {
	store *replica.Store

	mu       sync.Mutex
	last     Picture
	seen     bool
	onChange func(Picture)
}

// New 监听 store，onChange 为 nil 时只记日志
func New(store *replica.Store, onChange func(Picture)) *Display {
	d := &Display{store: store, onChange: onChange}
	if d.onChange == nil {
		d.onChange = logPicture
	}
	store.OnChange(func(s model.DJState, _ *model.Event) { d.update(s) })
	return d
}

// Current 副本当前的画面
func (d *Display) Current() Picture {
	return Compose(d.store.Snapshot())
}

func (d *Display) update(s model.DJState) {
	p := Compose(s)
	d.mu.Lock()
	if d.seen && reflect.DeepEqual(p, d.last) {
		d.mu.Unlock()
		return
	}
	d.last, d.seen = p, true
	fn := d.onChange
	d.mu.Unlock()
	fn(p)
}

func logPicture(p Picture) {
	logger.Info("Display updated",
		logger.Any("sources", p.Sources),
		logger.String("lead", p.Lead),
		logger.Any("layers", p.Layers),
		logger.String("shader", p.Shader),
		logger.String("photosFolder", p.PhotosFolder),
		logger.Int("lyricsOffset", p.LyricsOffset))
}
