package console

import (
	"context"
	"errors"
	"math"

	"UltimateDJ/config"
	"UltimateDJ/core/bpm"
	"UltimateDJ/core/eventloop"
	"UltimateDJ/core/mix"
	"UltimateDJ/core/scratch"
	"UltimateDJ/core/transport"
	"UltimateDJ/core/waveform"
	"UltimateDJ/logger"
	"UltimateDJ/model"
)

// followTolerance 远端定位偏移超过此值才重新定位输出
const followTolerance = 0.05

const waveformPoints = 400

// rig 单盘的输出与辅助对象，只在控制台循环上访问
type rig struct {
	c        *Console
	id       model.DeckID
	out      Outputs
	ctrl     *transport.Controller
	scratch  *scratch.Engine
	energy   bpm.EnergySource
	analyser *bpm.Analyser

	// trackID 输出已加载或正在加载的曲目
	trackID string

	bpmGen       uint64
	bpmTimer     eventloop.Timer
	bpmCancel    context.CancelFunc
	bpmAttempted bool

	reconciler *mix.Reconciler
	reconTimer eventloop.Timer

	wave      model.Waveform
	waveTrack string
}

func newRig(c *Console, id model.DeckID, out Outputs) *rig {
	r := &rig{c: c, id: id, out: out}
	r.ctrl = transport.NewController(id, out.Media, c.loop, listener{c})
	r.scratch = scratch.NewEngine(r.ctrl, c.loop, out.Segments, out.Buffer, c.currentTuning().Scratch)

	r.energy = out.Energy
	if r.energy == nil && out.Tap != nil {
		r.analyser = bpm.NewAnalyser(out.Tap, c.currentTuning().BPM.BassBins)
		r.energy = r.analyser
	}
	if primary, ok := out.Media.(mix.Output); ok && out.Follower != nil {
		r.reconciler = mix.NewReconciler(primary, out.Follower)
		r.reconciler.Tolerance = c.currentTuning().Mix.DriftTolerance
	}
	return r
}

// sync 把复制的唱盘状态应用到输出，gain 给主输出，mainGain 给跟随输出
func (r *rig) sync(d model.Deck, gain, mainGain float64) {
	if d.Track() != r.trackID {
		if !d.HasTrack() {
			r.clear()
			return
		}
		t := r.c.cached(d.Track())
		if t == nil {
			r.clear()
			return
		}
		r.load(t, d.Time)
	}

	r.ctrl.SetVolume(gain)
	if r.out.Follower != nil {
		r.out.Follower.SetVolume(mainGain)
	}
	if lv, ok := r.out.Segments.(interface{ SetVolume(float64) }); ok {
		lv.SetVolume(gain)
	}
	if d.Pitch != r.ctrl.Pitch() {
		if err := r.ctrl.SetPitch(d.Pitch); err != nil {
			logger.Warn("Ignoring replicated pitch", logger.String("deck", string(r.id)), logger.ErrorField(err))
		}
	}

	if !r.ctrl.Loaded() || r.scratch.Active() {
		return
	}
	switch {
	case d.Playing && !r.ctrl.Playing():
		if err := r.ctrl.Play(); err != nil {
			r.blocked(err)
		}
	case !d.Playing && r.ctrl.Playing():
		r.ctrl.Pause()
	}
	_, known := d.BPM()
	r.detect(r.ctrl.Playing() && !known)
}

// blocked 在本地记录被拒绝的播放，其他视图不受影响
func (r *rig) blocked(err error) {
	var pb *transport.PlaybackBlockedError
	if errors.As(err, &pb) {
		logger.Warn("Audio output is locked, run unlock to start playback", logger.String("deck", string(r.id)))
	} else {
		logger.Warn("Playback failed", logger.String("deck", string(r.id)), logger.ErrorField(err))
	}
	r.c.quiet(model.EventDeckPause, model.DeckRef{Deck: r.id})
}

func (r *rig) load(t *model.Track, at float64) {
	r.clear()
	r.trackID = t.ID
	var seek *float64
	if at > 0 {
		seek = model.Float64Ptr(at)
	}
	// 加载完成后由 sync 开始播放
	r.ctrl.Load(t, seek, false)
	if r.out.Follower != nil {
		id := r.id
		r.out.Follower.Open(t.MediaPath, func(_ float64, err error) {
			if err != nil {
				logger.Warn("Main-mix output failed to load",
					logger.String("deck", string(id)),
					logger.ErrorField(err))
			}
		})
	}
	logger.Info("Loading track",
		logger.String("deck", string(r.id)),
		logger.String("trackId", t.ID),
		logger.String("title", t.Title))
}

func (r *rig) clear() {
	if r.trackID == "" && r.ctrl.State() == transport.StateEmpty {
		return
	}
	r.scratch.Cancel()
	r.detect(false)
	r.stopReconcile()
	r.ctrl.Clear()
	if r.out.Follower != nil {
		r.out.Follower.Unload()
	}
	r.trackID = ""
	r.wave = nil
	r.waveTrack = ""
}

func (r *rig) onLoaded() {
	r.startReconcile()
}

// follow 其他视图定位本盘后重新定位输出
func (r *rig) follow(t float64) {
	if !r.ctrl.Loaded() || r.scratch.Active() {
		return
	}
	if math.Abs(r.ctrl.Position()-t) <= followTolerance {
		return
	}
	if _, err := r.ctrl.Seek(t); err != nil {
		logger.Debug("Remote seek failed", logger.String("deck", string(r.id)), logger.ErrorField(err))
	}
}

// detect 启动或取消速度检测；起音不足的窗口要等暂停后再次播放才重试
func (r *rig) detect(want bool) {
	if !want || r.energy == nil {
		r.bpmGen++
		if r.bpmTimer != nil {
			r.bpmTimer.Stop()
			r.bpmTimer = nil
		}
		if r.bpmCancel != nil {
			r.bpmCancel()
			r.bpmCancel = nil
		}
		r.bpmAttempted = false
		return
	}
	if r.bpmTimer != nil || r.bpmCancel != nil || r.bpmAttempted {
		return
	}
	r.bpmGen++
	gen := r.bpmGen
	cfg := r.c.currentTuning().BPM
	r.bpmTimer = r.c.loop.AfterFunc(config.Ms(cfg.StartDelayMs), func() {
		if gen != r.bpmGen {
			return
		}
		r.bpmTimer = nil
		r.startDetect(gen, cfg)
	})
}

func (r *rig) startDetect(gen uint64, cfg config.BPMTuning) {
	ctx, cancel := context.WithCancel(r.c.ctx)
	r.bpmCancel = cancel
	r.bpmAttempted = true
	if r.analyser != nil {
		r.analyser.Reset()
	}
	trackID, src, loop := r.trackID, r.energy, r.c.loop
	logger.Debug("Detecting tempo", logger.String("deck", string(r.id)), logger.String("trackId", trackID))
	go func() {
		v, err := bpm.NewDetector(cfg).Detect(ctx, src)
		loop.Post(func() { r.c.onBPM(r.id, gen, trackID, v, err) })
	}()
}

func (r *rig) startReconcile() {
	if r.reconciler == nil || r.reconTimer != nil {
		return
	}
	var tick func()
	tick = func() {
		if _, err := r.reconciler.Step(); err != nil {
			logger.Debug("Main-mix output not following", logger.String("deck", string(r.id)), logger.ErrorField(err))
		}
		r.reconTimer = r.c.loop.AfterFunc(mix.Interval(r.c.currentTuning().Mix.ReconcileIntervalMs), tick)
	}
	r.reconTimer = r.c.loop.AfterFunc(mix.Interval(r.c.currentTuning().Mix.ReconcileIntervalMs), tick)
}

func (r *rig) stopReconcile() {
	if r.reconTimer != nil {
		r.reconTimer.Stop()
		r.reconTimer = nil
	}
}

// waveform 优先使用保存的包络，否则用解码缓冲
func (r *rig) waveform() model.Waveform {
	t := r.ctrl.Track()
	if t == nil {
		return nil
	}
	if len(t.Waveform) > 0 {
		return t.Waveform
	}
	if r.waveTrack == t.ID {
		return r.wave
	}
	if r.out.Buffer == nil {
		return nil
	}
	buf := r.out.Buffer()
	if buf.Len() == 0 {
		return nil
	}
	r.wave = waveform.FromBuffer(buf, waveformPoints)
	r.waveTrack = t.ID
	return r.wave
}

// listener 把控制器通知转发给控制台
type listener struct{ c *Console }

func (l listener) OnLoaded(deck model.DeckID, duration float64) {
	logger.Info("Track ready",
		logger.String("deck", string(deck)),
		logger.Float64("duration", duration))
	l.c.rigs[deck].onLoaded()
	l.c.reconcile()
}

func (l listener) OnTimeUpdate(deck model.DeckID, t float64) {
	if err := l.c.local(model.EventDeckTime, model.DeckTimeData{Deck: deck, Time: t}); err != nil {
		logger.Debug("Dropping time update", logger.ErrorField(err))
	}
}

func (l listener) OnEnded(deck model.DeckID) {
	l.c.ended(deck)
}

func (l listener) OnError(deck model.DeckID, err error) {
	var pb *transport.PlaybackBlockedError
	if errors.As(err, &pb) {
		l.c.rigs[deck].blocked(err)
		return
	}
	logger.Error("Deck error", logger.String("deck", string(deck)), logger.ErrorField(err))
}
