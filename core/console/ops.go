package console

import (
	"context"
	"errors"
	"fmt"

	"UltimateDJ/core/beatsync"
	"UltimateDJ/core/scratch"
	"UltimateDJ/core/transport"
	"UltimateDJ/logger"
	"UltimateDJ/model"
)

var (
	// ErrNothingToPromote B 盘为空时 Promote 返回
	ErrNothingToPromote = errors.New("console: deck B has no track")
	// ErrNoFreeDeck 两台唱盘都在播放时 LoadNext 返回
	ErrNoFreeDeck = errors.New("console: both decks are playing")
	// ErrQueueEmpty 队列为空时 LoadNext 返回
	ErrQueueEmpty = errors.New("console: queue is empty")
)

// do 在循环上执行 fn 并返回其错误
func (c *Console) do(fn func() error) error {
	var err error
	c.loop.Do(func() { err = fn() })
	return err
}

func (c *Console) rig(id model.DeckID) (*rig, error) {
	r, ok := c.rigs[id]
	if !ok {
		return nil, fmt.Errorf("unknown deck %q", id)
	}
	return r, nil
}

// Refresh 重新加载曲库
func (c *Console) Refresh(ctx context.Context) ([]model.Track, error) {
	if c.library == nil {
		return nil, errNoLibrary
	}
	tracks, err := c.library.Tracks(ctx)
	if err != nil {
		return nil, err
	}
	c.loop.Do(func() {
		for i := range tracks {
			t := tracks[i]
			c.remember(&t)
		}
	})
	return tracks, nil
}

// Search 按标题或艺术家搜索曲库
func (c *Console) Search(ctx context.Context, query string) ([]model.Track, error) {
	if c.library == nil {
		return nil, errNoLibrary
	}
	tracks, err := c.library.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	c.loop.Do(func() {
		for i := range tracks {
			t := tracks[i]
			c.remember(&t)
		}
	})
	return tracks, nil
}

// Resolve 按 ID 返回曲目，优先走缓存
func (c *Console) Resolve(ctx context.Context, id string) (*model.Track, error) {
	var t *model.Track
	c.loop.Do(func() { t = c.tracks[id] })
	if t != nil {
		return t, nil
	}
	if c.library == nil {
		return nil, errNoLibrary
	}
	t, err := c.library.Track(ctx, id)
	if err != nil {
		return nil, err
	}
	c.loop.Do(func() { c.remember(t) })
	return t, nil
}

// Load 把曲目装到唱盘上，替换原有曲目
func (c *Console) Load(deck model.DeckID, track *model.Track, autoplay bool) error {
	if track == nil {
		return errors.New("console: no track")
	}
	return c.do(func() error {
		if _, err := c.rig(deck); err != nil {
			return err
		}
		c.remember(track)
		return c.loadLocal(deck, track, autoplay)
	})
}

func (c *Console) loadLocal(deck model.DeckID, track *model.Track, autoplay bool) error {
	// 即使唱盘已是这首曲目也重新加载
	c.rigs[deck].trackID = ""
	err := c.local(model.EventDeckLoad, model.DeckLoadData{
		Deck:     deck,
		TrackID:  model.StringPtr(track.ID),
		Autoplay: autoplay,
		BPM:      track.BPM,
	})
	if err != nil {
		return err
	}
	c.reconcile()
	return nil
}

// Eject 清空唱盘
func (c *Console) Eject(deck model.DeckID) error {
	return c.do(func() error {
		if _, err := c.rig(deck); err != nil {
			return err
		}
		if err := c.local(model.EventDeckLoad, model.DeckLoadData{Deck: deck}); err != nil {
			return err
		}
		c.reconcile()
		return nil
	})
}

// Enqueue 追加到队列末尾
func (c *Console) Enqueue(track *model.Track) {
	c.loop.Do(func() {
		c.remember(track)
		c.queue = append(c.queue, track)
	})
}

// Dequeue 移除队列中 index 处的曲目
func (c *Console) Dequeue(index int) error {
	return c.do(func() error {
		if index < 0 || index >= len(c.queue) {
			return fmt.Errorf("queue position %d out of range", index+1)
		}
		c.queue = append(c.queue[:index], c.queue[index+1:]...)
		return nil
	})
}

// Queue 按播放顺序返回队列
func (c *Console) Queue() []model.Track {
	var out []model.Track
	c.loop.Do(func() {
		for _, t := range c.queue {
			out = append(out, *t)
		}
	})
	return out
}

// LoadNext 把队首装到未在播放的唱盘，优先 B 盘
func (c *Console) LoadNext() (model.DeckID, error) {
	var target model.DeckID
	err := c.do(func() error {
		if len(c.queue) == 0 {
			return ErrQueueEmpty
		}
		state := c.store.Snapshot()
		switch {
		case !state.Decks.B.Playing:
			target = model.DeckB
		case !state.Decks.A.Playing:
			target = model.DeckA
		default:
			return ErrNoFreeDeck
		}
		head := c.popQueue()
		return c.loadLocal(target, head, false)
	})
	return target, err
}

func (c *Console) popQueue() *model.Track {
	head := c.queue[0]
	c.queue = c.queue[1:]
	return head
}

// ended A 盘播完时从队列续播，否则停止
func (c *Console) ended(deck model.DeckID) {
	if deck == model.DeckA && len(c.queue) > 0 {
		next := c.popQueue()
		logger.Info("Auto-advancing live deck", logger.String("trackId", next.ID))
		if err := c.loadLocal(model.DeckA, next, true); err != nil {
			logger.Error("Auto-advance failed", logger.ErrorField(err))
		}
		return
	}
	if err := c.local(model.EventDeckPause, model.DeckRef{Deck: deck}); err != nil {
		logger.Warn("Failed to record end of track", logger.ErrorField(err))
	}
	c.reconcile()
}

// Play 开始播放；输出锁定时返回 *transport.PlaybackBlockedError，不广播
func (c *Console) Play(deck model.DeckID) error {
	return c.do(func() error { return c.play(deck) })
}

func (c *Console) play(deck model.DeckID) error {
	r, err := c.rig(deck)
	if err != nil {
		return err
	}
	if err := r.ctrl.Play(); err != nil {
		return err
	}
	if err := c.local(model.EventDeckPlay, model.DeckTimeData{Deck: deck, Time: r.ctrl.Position()}); err != nil {
		return err
	}
	c.reconcile()
	return nil
}

// Pause 暂停并保留位置
func (c *Console) Pause(deck model.DeckID) error {
	return c.do(func() error { return c.pause(deck) })
}

func (c *Console) pause(deck model.DeckID) error {
	r, err := c.rig(deck)
	if err != nil {
		return err
	}
	if !r.ctrl.Loaded() {
		return transport.ErrNotReady
	}
	r.ctrl.Pause()
	if err := c.local(model.EventDeckPause, model.DeckRef{Deck: deck}); err != nil {
		return err
	}
	c.reconcile()
	return nil
}

// Toggle 切换播放与暂停
func (c *Console) Toggle(deck model.DeckID) error {
	return c.do(func() error {
		if c.store.Deck(deck).Playing {
			return c.pause(deck)
		}
		return c.play(deck)
	})
}

// Seek 定位到 t，返回实际生效的时间
func (c *Console) Seek(deck model.DeckID, t float64) (float64, error) {
	var applied float64
	err := c.do(func() error {
		r, err := c.rig(deck)
		if err != nil {
			return err
		}
		applied, err = c.seek(r, t)
		return err
	})
	return applied, err
}

func (c *Console) seek(r *rig, t float64) (float64, error) {
	applied, err := r.ctrl.Seek(t)
	if err != nil {
		return 0, err
	}
	if err := c.local(model.EventDeckSeek, model.DeckTimeData{Deck: r.id, Time: applied}); err != nil {
		return 0, err
	}
	return applied, nil
}

// SetVolume 设置唱盘推子，0..1
func (c *Console) SetVolume(deck model.DeckID, v float64) error {
	return c.do(func() error {
		if _, err := c.rig(deck); err != nil {
			return err
		}
		v = model.Clamp(v, model.MinVolume, model.MaxVolume)
		if err := c.local(model.EventDeckVolume, model.DeckVolumeData{Deck: deck, Volume: v}); err != nil {
			return err
		}
		c.reconcile()
		return nil
	})
}

// SetPitch 设置速度倍数，超出 [0.5, 1.5] 时拒绝
func (c *Console) SetPitch(deck model.DeckID, p float64) error {
	return c.do(func() error {
		if _, err := c.rig(deck); err != nil {
			return err
		}
		if p < model.MinPitch || p > model.MaxPitch {
			return fmt.Errorf("%w: %.3f", transport.ErrPitchOutOfRange, p)
		}
		return c.setPitch(deck, p)
	})
}

func (c *Console) setPitch(deck model.DeckID, p float64) error {
	if err := c.local(model.EventDeckPitch, model.DeckPitchData{Deck: deck, Pitch: p}); err != nil {
		return err
	}
	c.reconcile()
	return nil
}

// SetCrossfader 移动交叉推子，0 为全 B，100 为全 A
func (c *Console) SetCrossfader(x float64) error {
	return c.do(func() error {
		if err := c.local(model.EventCrossfader, model.CrossfaderData{Position: model.Clamp(x, 0, 100)}); err != nil {
			return err
		}
		c.reconcile()
		return nil
	})
}

// Promote 把 B 盘提升为主盘并交出混音
func (c *Console) Promote() error {
	return c.do(func() error {
		if !c.store.Deck(model.DeckB).HasTrack() {
			return ErrNothingToPromote
		}
		// 带上 B 盘的精确位置，A 盘从该处继续
		if b := c.rigs[model.DeckB].ctrl; b.Loaded() {
			if err := c.local(model.EventDeckTime, model.DeckTimeData{Deck: model.DeckB, Time: b.Position()}); err != nil {
				return err
			}
		}
		if err := c.local(model.EventDeckPromote, model.PromoteData{FromDeck: model.DeckB}); err != nil {
			return err
		}
		if err := c.local(model.EventCrossfader, model.CrossfaderData{Position: 100}); err != nil {
			return err
		}
		c.reconcile()
		return nil
	})
}

// Sync 让唱盘速度匹配另一盘，返回新音调
// 任一盘缺少速度时不做修改，返回当前音调
func (c *Console) Sync(deck model.DeckID) (float64, error) {
	var pitch float64
	err := c.do(func() error {
		if _, err := c.rig(deck); err != nil {
			return err
		}
		this, other := c.store.Deck(deck), c.store.Deck(deck.Other())
		pitch = this.Pitch
		thisBPM, ok := this.BPM()
		otherBPM, ok2 := other.BPM()
		if !ok || !ok2 {
			logger.Info("Tempo sync skipped, tempo unknown", logger.String("deck", string(deck)))
			return nil
		}
		p, err := beatsync.TempoMatch(thisBPM, otherBPM, other.Pitch)
		if err != nil {
			return nil
		}
		pitch = model.Clamp(p, model.MinPitch, model.MaxPitch)
		return c.setPitch(deck, pitch)
	})
	return pitch, err
}

// BeatSync 微调唱盘使拍点与另一盘对齐，返回新时间；缺少速度时不处理
func (c *Console) BeatSync(deck model.DeckID) (float64, error) {
	var at float64
	err := c.do(func() error {
		r, err := c.rig(deck)
		if err != nil {
			return err
		}
		at = r.ctrl.Position()
		this, ok := beatsync.TimingOf(c.store.Deck(deck))
		other, ok2 := beatsync.TimingOf(c.store.Deck(deck.Other()))
		if !ok || !ok2 || !r.ctrl.Loaded() {
			logger.Info("Beat sync skipped, tempo unknown", logger.String("deck", string(deck)))
			return nil
		}
		this.Time = at
		if o := c.rigs[deck.Other()].ctrl; o.Loaded() {
			other.Time = o.Position()
		}
		t, err := beatsync.PhaseAlign(this, other)
		if err != nil {
			return nil
		}
		at, err = c.seek(r, t)
		return err
	})
	return at, err
}

// ScratchBegin 在给定宽度的条带上从 x 处抓住唱盘
func (c *Console) ScratchBegin(deck model.DeckID, x, width float64) (float64, error) {
	var t float64
	err := c.do(func() error {
		r, err := c.rig(deck)
		if err != nil {
			return err
		}
		t, err = r.scratch.Begin(x, width)
		if err != nil {
			return err
		}
		c.quiet(model.EventDeckTime, model.DeckTimeData{Deck: deck, Time: t})
		return nil
	})
	return t, err
}

// ScratchMove 把抓住的唱盘拖到 x
func (c *Console) ScratchMove(deck model.DeckID, x float64) (float64, error) {
	var t float64
	err := c.do(func() error {
		r, err := c.rig(deck)
		if err != nil {
			return err
		}
		t, err = r.scratch.Move(x)
		if err != nil {
			return err
		}
		return c.local(model.EventDeckTime, model.DeckTimeData{Deck: deck, Time: t})
	})
	return t, err
}

// ScratchEnd 松开唱盘：广播一次定位，恢复播放时再广播一次播放
func (c *Console) ScratchEnd(deck model.DeckID) (scratch.Result, error) {
	var res scratch.Result
	err := c.do(func() error {
		r, err := c.rig(deck)
		if err != nil {
			return err
		}
		res, err = r.scratch.End()
		if err != nil {
			return err
		}
		if err := c.local(model.EventDeckSeek, model.DeckTimeData{Deck: deck, Time: res.Time}); err != nil {
			return err
		}
		switch {
		case res.Resumed:
			if err := c.local(model.EventDeckPlay, model.DeckTimeData{Deck: deck, Time: res.Time}); err != nil {
				return err
			}
		case res.PlayErr != nil:
			r.blocked(res.PlayErr)
		}
		c.reconcile()
		return nil
	})
	return res, err
}

// SetLayer 显示或隐藏显示层
func (c *Console) SetLayer(layer string, visible bool) error {
	return c.do(func() error {
		return c.local(model.EventDisplayToggle, model.DisplayToggleData{Layer: layer, Visible: visible})
	})
}

// ToggleLayer 切换显示层，返回新的可见性
func (c *Console) ToggleLayer(layer string) (bool, error) {
	var visible bool
	err := c.do(func() error {
		flags := c.store.Snapshot().Display
		probe := flags
		if err := probe.Set(layer, true); err != nil {
			return err
		}
		visible = !layerVisible(flags, layer)
		return c.local(model.EventDisplayToggle, model.DisplayToggleData{Layer: layer, Visible: visible})
	})
	return visible, err
}

func layerVisible(f model.DisplayFlags, layer string) bool {
	switch layer {
	case model.LayerVideo:
		return f.Video
	case model.LayerBackdrop:
		return f.Backdrop
	case model.LayerSlideshow:
		return f.Slideshow
	case model.LayerLyrics:
		return f.Lyrics
	}
	return false
}

// SelectShader 选择显示背景预设
func (c *Console) SelectShader(preset string) error {
	if preset == "" {
		return errors.New("console: empty shader preset")
	}
	return c.do(func() error {
		return c.local(model.EventShaderSelect, model.ShaderData{Preset: preset})
	})
}

// SetPhotosFolder 选择幻灯片目录，"" 表示清除
func (c *Console) SetPhotosFolder(folder string) error {
	var f *string
	if folder != "" {
		f = model.StringPtr(folder)
	}
	return c.do(func() error {
		return c.local(model.EventPhotosFolder, model.PhotosFolderData{Folder: f})
	})
}

// AdjustLyricsOffset 歌词时间偏移 delta 毫秒，返回新偏移
func (c *Console) AdjustLyricsOffset(delta int) (int, error) {
	var offset int
	err := c.do(func() error {
		offset = c.store.Snapshot().LyricsOffset + delta
		return c.local(model.EventLyricsOffset, model.LyricsOffsetData{Offset: offset})
	})
	return offset, err
}

// Unlock 打开音频输出，启动应当播放的唱盘
func (c *Console) Unlock() error {
	if c.output == nil {
		return errors.New("console: no audio output")
	}
	if err := c.output.Unlock(); err != nil {
		return err
	}
	c.loop.Do(c.reconcile)
	return nil
}
