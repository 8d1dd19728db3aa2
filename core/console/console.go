// Package console 控制端视图：两台带真实输出的唱盘、搓碟、速度工具、
// 推子与曲目队列，全部运行在一个事件循环上，经中继复制
package console

import (
	"context"
	"errors"
	"sync"

	"UltimateDJ/config"
	"UltimateDJ/core/bpm"
	"UltimateDJ/core/eventloop"
	"UltimateDJ/core/mix"
	"UltimateDJ/core/replica"
	"UltimateDJ/core/scratch"
	"UltimateDJ/core/transport"
	"UltimateDJ/logger"
	"UltimateDJ/model"
)

// Runner 控制台所在的事件循环
type Runner interface {
	eventloop.Scheduler
	// Do 在循环上执行 fn 并等待完成
	Do(fn func())
}

// Library 中继背后的曲库
type Library interface {
	Tracks(ctx context.Context) ([]model.Track, error)
	Track(ctx context.Context, id string) (*model.Track, error)
	Search(ctx context.Context, query string) ([]model.Track, error)
	UpdateBPM(ctx context.Context, id string, bpm float64) error
}

// Follower 唱盘输出的被动副本，由 mix.Reconciler 保持对齐
// B 盘主输出走监听时用它送主混音
type Follower interface {
	mix.Output
	Open(src string, done func(duration float64, err error))
	Unload()
	SetVolume(v float64)
}

// Outputs 单盘的输出，只有 Media 必填
type Outputs struct {
	Media    transport.Media
	Follower Follower
	Segments scratch.SegmentPlayer
	Buffer   func() *scratch.Buffer
	// Energy 供速度检测使用，为 nil 时改为分析 Tap
	Energy bpm.EnergySource
	Tap    bpm.SampleTap
}

// Unlocker 由操作员显式操作打开音频输出
type Unlocker interface {
	Unlock() error
}

// Options 控制台依赖
type Options struct {
	Loop     Runner
	Replica  replica.Replicator
	Sender   string
	Library  Library
	Decks    map[model.DeckID]Outputs
	Output   Unlocker
	Tuning   config.Tuning
	// Connected 状态显示用的中继连接情况，可选
	Connected func() bool
}

// Console 持有两台唱盘，导出方法可从循环以外的任意协程调用
type Console struct {
	loop      Runner
	repl      replica.Replicator
	store     *replica.Store
	sender    string
	library   Library
	output    Unlocker
	connected func() bool

	ctx    context.Context
	cancel context.CancelFunc

	tuningMu sync.Mutex
	tuning   config.Tuning

	rigs   map[model.DeckID]*rig
	queue  []*model.Track
	tracks map[string]*model.Track
	// fetching 正在从曲库查询的曲目 ID
	fetching map[string]bool
}

var errNoLibrary = errors.New("console: no track library configured")

// New 创建控制台，用 Close 停止后台任务
func New(opts Options) *Console {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Console{
		loop:      opts.Loop,
		repl:      opts.Replica,
		store:     opts.Replica.Store(),
		sender:    opts.Sender,
		library:   opts.Library,
		output:    opts.Output,
		connected: opts.Connected,
		ctx:       ctx,
		cancel:    cancel,
		tuning:    opts.Tuning,
		rigs:      make(map[model.DeckID]*rig, 2),
		tracks:    make(map[string]*model.Track),
		fetching:  make(map[string]bool),
	}
	for _, id := range model.Decks {
		c.rigs[id] = newRig(c, id, opts.Decks[id])
	}
	return c
}

// Close 取消检测与定时器，卸载两台唱盘
func (c *Console) Close() {
	c.loop.Do(func() {
		for _, r := range c.rigs {
			r.clear()
		}
	})
	c.cancel()
}

// SetTuning 应用重新加载的引擎参数
func (c *Console) SetTuning(t config.Tuning) {
	c.tuningMu.Lock()
	c.tuning = t
	c.tuningMu.Unlock()
	c.loop.Post(func() {
		for _, r := range c.rigs {
			r.scratch.SetTuning(t.Scratch)
			if r.reconciler != nil {
				r.reconciler.Tolerance = t.Mix.DriftTolerance
			}
		}
	})
}

func (c *Console) currentTuning() config.Tuning {
	c.tuningMu.Lock()
	defer c.tuningMu.Unlock()
	return c.tuning
}

// HandleRemote 应用中继下发的事件
func (c *Console) HandleRemote(evt *model.Event) {
	c.loop.Post(func() { c.remote(evt) })
}

// Disconnected 清空两台唱盘，下一次快照恢复
func (c *Console) Disconnected() {
	c.loop.Post(func() {
		c.store.ClearDecks()
		c.reconcile()
	})
}

func (c *Console) remote(evt *model.Event) {
	if evt.Type == model.EventError {
		var data model.ErrorData
		if err := evt.Decode(&data); err == nil {
			logger.Warn("Relay rejected event", logger.String("message", data.Message))
		}
		return
	}
	if err := c.repl.Remote(evt); err != nil {
		logger.Warn("Ignoring invalid relay event",
			logger.String("type", string(evt.Type)),
			logger.ErrorField(err))
		return
	}
	if evt.Sender != c.sender && evt.Type == model.EventDeckSeek {
		var data model.DeckTimeData
		if err := evt.Decode(&data); err == nil {
			c.rigs[data.Deck].follow(data.Time)
		}
	}
	c.reconcile()
}

// local 应用本地修改并广播
func (c *Console) local(t model.EventType, payload interface{}) error {
	evt, err := model.NewEvent(t, payload)
	if err != nil {
		return err
	}
	return c.repl.Local(evt)
}

// quiet 只在本地副本上修正，不广播，比如输出拒绝的播放
func (c *Console) quiet(t model.EventType, payload interface{}) {
	evt, err := model.NewEvent(t, payload)
	if err != nil {
		return
	}
	if err := c.store.Apply(evt); err != nil {
		logger.Debug("Local correction rejected", logger.ErrorField(err))
	}
}

// reconcile 让两台唱盘的输出与副本一致
func (c *Console) reconcile() {
	state := c.store.Snapshot()
	gains := mix.Effective(state)
	c.rigs[model.DeckA].sync(state.Decks.A, gains.A, 0)
	c.rigs[model.DeckB].sync(state.Decks.B, gains.BCue, gains.BMain)
}

// cached 返回已知曲目，未命中时发起曲库查询，查询完成后再次 reconcile
func (c *Console) cached(id string) *model.Track {
	if t, ok := c.tracks[id]; ok {
		return t
	}
	if c.library == nil || c.fetching[id] {
		return nil
	}
	c.fetching[id] = true
	go func() {
		t, err := c.library.Track(c.ctx, id)
		c.loop.Post(func() {
			delete(c.fetching, id)
			if err != nil {
				logger.Warn("Failed to resolve track",
					logger.String("trackId", id),
					logger.ErrorField(err))
				return
			}
			c.remember(t)
			c.reconcile()
		})
	}()
	return nil
}

func (c *Console) remember(t *model.Track) {
	if t != nil && t.ID != "" {
		c.tracks[t.ID] = t
	}
}

// onBPM 检测窗口结束后在循环上执行
func (c *Console) onBPM(id model.DeckID, gen uint64, trackID string, value float64, err error) {
	r := c.rigs[id]
	if r.bpmGen != gen {
		return
	}
	r.bpmCancel = nil
	switch {
	case errors.Is(err, bpm.ErrInsufficientData):
		logger.Debug("Not enough onsets for tempo", logger.String("deck", string(id)))
		return
	case err != nil:
		if !errors.Is(err, context.Canceled) {
			logger.Warn("Tempo detection failed", logger.String("deck", string(id)), logger.ErrorField(err))
		}
		return
	}
	deck := c.store.Deck(id)
	if deck.Track() != trackID {
		return
	}
	logger.Info("Tempo detected",
		logger.String("deck", string(id)),
		logger.String("trackId", trackID),
		logger.Float64("bpm", value))
	if err := c.local(model.EventDeckBPM, model.DeckBPMData{Deck: id, BPM: model.Float64Ptr(value)}); err != nil {
		logger.Warn("Failed to record tempo", logger.ErrorField(err))
		return
	}
	if t, ok := c.tracks[trackID]; ok {
		t.BPM = model.Float64Ptr(value)
	}
	if c.library == nil || !pitchNeutral(deck.Pitch) {
		return
	}
	go func() {
		if err := c.library.UpdateBPM(c.ctx, trackID, value); err != nil {
			logger.Warn("Failed to store tempo", logger.String("trackId", trackID), logger.ErrorField(err))
		}
	}()
}

// pitchNeutral 音调足够接近 1 时，检测到的速度才算曲目本身的速度
func pitchNeutral(p float64) bool {
	d := p - 1
	return d > -0.01 && d < 0.01
}
