package transport

import (
	"errors"
	"fmt"

	"UltimateDJ/model"
)

var (
	// ErrNotReady 需要已加载曲目的操作返回
	ErrNotReady = errors.New("transport: no track ready")
	// ErrPitchOutOfRange SetPitch 超出 [0.5, 1.5]
	ErrPitchOutOfRange = errors.New("transport: pitch out of range")
	// ErrOutputLocked 输出尚未由操作员解锁
	ErrOutputLocked = errors.New("transport: audio output locked")
)

// LoadError 媒体获取或解码失败，唱盘仍可用，可重新加载
type LoadError struct {
	Deck    model.DeckID
	TrackID string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("deck %s: failed to load track %s: %v", e.Deck, e.TrackID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Retryable 总是 true，重新加载即可恢复
func (e *LoadError) Retryable() bool { return true }

// PlaybackBlockedError 音频输出仍锁定导致播放被拒绝，不会自动重试
type PlaybackBlockedError struct {
	Deck model.DeckID
}

func (e *PlaybackBlockedError) Error() string {
	return fmt.Sprintf("deck %s: playback blocked, run \"unlock\" to enable audio output", e.Deck)
}

func (e *PlaybackBlockedError) Unwrap() error { return ErrOutputLocked }
