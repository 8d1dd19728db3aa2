package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// Tuning 操作员可在两场演出之间调整的引擎参数，无需重新编译，每项都有默认值
type Tuning struct {
	BPM     BPMTuning     `toml:"bpm"`
	Scratch ScratchTuning `toml:"scratch"`
	Mix     MixTuning     `toml:"mix"`
}

type BPMTuning struct {
	WindowMs      int     `toml:"window_ms"`
	StartDelayMs  int     `toml:"start_delay_ms"`
	CooldownMs    int     `toml:"cooldown_ms"`
	Threshold     float64 `toml:"threshold"`
	BassBins      int     `toml:"bass_bins"`
	MinOnsets     int     `toml:"min_onsets"`
	FrameInterval int     `toml:"frame_interval_ms"`
}

type ScratchTuning struct {
	MinRate           float64 `toml:"min_rate"`
	MaxRate           float64 `toml:"max_rate"`
	IdleMs            int     `toml:"idle_ms"`
	VelocityWindowMs  int     `toml:"velocity_window_ms"`
	MinSegmentSamples int     `toml:"min_segment_samples"`
}

type MixTuning struct {
	DriftTolerance      float64 `toml:"drift_tolerance"`
	ReconcileIntervalMs int     `toml:"reconcile_interval_ms"`
}

// DefaultTuning 引擎的默认参数
func DefaultTuning() Tuning {
	return Tuning{
		BPM: BPMTuning{
			WindowMs:      8000,
			StartDelayMs:  1000,
			CooldownMs:    200,
			Threshold:     1500,
			BassBins:      10,
			MinOnsets:     3,
			FrameInterval: 16,
		},
		Scratch: ScratchTuning{
			MinRate:           0.25,
			MaxRate:           3.0,
			IdleMs:            120,
			VelocityWindowMs:  60,
			MinSegmentSamples: 256,
		},
		Mix: MixTuning{
			DriftTolerance:      0.1,
			ReconcileIntervalMs: 250,
		},
	}
}

// LoadTuning 在默认值之上读取 TOML 参数文件，文件不存在不算错误
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	if _, err := toml.DecodeFile(path, &t); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultTuning(), nil
		}
		return DefaultTuning(), fmt.Errorf("failed to decode tuning file %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return DefaultTuning(), err
	}
	return t, nil
}

// Validate 拒绝引擎无法使用的参数
func (t Tuning) Validate() error {
	switch {
	case t.BPM.WindowMs <= 0 || t.BPM.FrameInterval <= 0:
		return fmt.Errorf("bpm window and frame interval must be positive")
	case t.BPM.MinOnsets < 3:
		return fmt.Errorf("bpm min_onsets must be at least 3, got %d", t.BPM.MinOnsets)
	case t.Scratch.MinRate <= 0 || t.Scratch.MaxRate < t.Scratch.MinRate:
		return fmt.Errorf("scratch rate range [%v, %v] is invalid", t.Scratch.MinRate, t.Scratch.MaxRate)
	case t.Mix.DriftTolerance <= 0 || t.Mix.ReconcileIntervalMs <= 0:
		return fmt.Errorf("mix drift tolerance and reconcile interval must be positive")
	}
	return nil
}

// Ms 换算毫秒参数
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// WatchTuning 参数文件写入后重新加载并交给 apply，done 关闭时停止监听
func WatchTuning(path string, done <-chan struct{}, apply func(Tuning), onErr func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create tuning watcher: %w", err)
	}
	// 监听目录，编辑器保存时会替换文件
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				t, err := LoadTuning(path)
				if err != nil {
					onErr(err)
					continue
				}
				apply(t)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onErr(err)
			}
		}
	}()
	return nil
}
