// Package replica 视图持有的 DJ 状态副本，以及中继与各视图共用的 reducer，
// 保证所有副本收敛到相同结果
package replica

import (
	"errors"
	"fmt"
	"math"

	"UltimateDJ/model"
)

var (
	// ErrUnknownEvent reducer 不处理的事件类型
	ErrUnknownEvent = errors.New("replica: unknown event type")
	// ErrInvalidDeck 载荷中的唱盘不是 A 或 B
	ErrInvalidDeck = errors.New("replica: invalid deck")
)

// Mutates 事件 t 是否会修改状态
func Mutates(t model.EventType) bool {
	switch t {
	case model.EventSyncRequest, model.EventError:
		return false
	}
	return true
}

// Reduce 把 evt 应用到 s，出错时 s 不变
func Reduce(s *model.DJState, evt *model.Event) error {
	switch evt.Type {
	case model.EventSyncState:
		var next model.DJState
		if err := evt.Decode(&next); err != nil {
			return err
		}
		if !next.MainDeck.Valid() {
			next.MainDeck = model.DeckA
		}
		*s = next

	case model.EventDeckLoad:
		var d model.DeckLoadData
		if err := evt.Decode(&d); err != nil {
			return err
		}
		deck, err := deckOf(s, d.Deck)
		if err != nil {
			return err
		}
		Load(deck, d.TrackID, d.Autoplay, d.BPM)

	case model.EventDeckPlay:
		var d model.DeckTimeData
		if err := evt.Decode(&d); err != nil {
			return err
		}
		deck, err := deckOf(s, d.Deck)
		if err != nil {
			return err
		}
		deck.Playing = deck.HasTrack()
		deck.Time = clampTime(d.Time)

	case model.EventDeckPause:
		var d model.DeckRef
		if err := evt.Decode(&d); err != nil {
			return err
		}
		deck, err := deckOf(s, d.Deck)
		if err != nil {
			return err
		}
		deck.Playing = false

	case model.EventDeckSeek, model.EventDeckTime:
		var d model.DeckTimeData
		if err := evt.Decode(&d); err != nil {
			return err
		}
		deck, err := deckOf(s, d.Deck)
		if err != nil {
			return err
		}
		deck.Time = clampTime(d.Time)

	case model.EventDeckVolume:
		var d model.DeckVolumeData
		if err := evt.Decode(&d); err != nil {
			return err
		}
		deck, err := deckOf(s, d.Deck)
		if err != nil {
			return err
		}
		deck.Volume = model.Clamp(d.Volume, model.MinVolume, model.MaxVolume)

	case model.EventDeckPitch:
		var d model.DeckPitchData
		if err := evt.Decode(&d); err != nil {
			return err
		}
		deck, err := deckOf(s, d.Deck)
		if err != nil {
			return err
		}
		deck.Pitch = model.Clamp(d.Pitch, model.MinPitch, model.MaxPitch)

	case model.EventDeckBPM:
		var d model.DeckBPMData
		if err := evt.Decode(&d); err != nil {
			return err
		}
		deck, err := deckOf(s, d.Deck)
		if err != nil {
			return err
		}
		deck.DetectedBPM = positive(d.BPM)

	case model.EventDeckPromote:
		var d model.PromoteData
		if err := evt.Decode(&d); err != nil {
			return err
		}
		if d.FromDeck != model.DeckB {
			return fmt.Errorf("%w: promote from %q", ErrInvalidDeck, d.FromDeck)
		}
		Promote(s)

	case model.EventCrossfader:
		var d model.CrossfaderData
		if err := evt.Decode(&d); err != nil {
			return err
		}
		s.Crossfader = model.Clamp(d.Position, 0, 100)

	case model.EventDisplayToggle:
		var d model.DisplayToggleData
		if err := evt.Decode(&d); err != nil {
			return err
		}
		flags := s.Display
		if err := flags.Set(d.Layer, d.Visible); err != nil {
			return err
		}
		s.Display = flags

	case model.EventShaderSelect:
		var d model.ShaderData
		if err := evt.Decode(&d); err != nil {
			return err
		}
		if d.Preset == "" {
			return errors.New("shader:select: empty preset")
		}
		s.Shader = d.Preset

	case model.EventPhotosFolder:
		var d model.PhotosFolderData
		if err := evt.Decode(&d); err != nil {
			return err
		}
		if d.Folder != nil && *d.Folder == "" {
			d.Folder = nil
		}
		s.PhotosFolder = d.Folder

	case model.EventLyricsOffset:
		var d model.LyricsOffsetData
		if err := evt.Decode(&d); err != nil {
			return err
		}
		s.LyricsOffset = d.Offset

	case model.EventSyncRequest, model.EventError:
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, evt.Type)
	}
	return nil
}

// Load 为新曲目重置唱盘，保留音量
func Load(deck *model.Deck, trackID *string, autoplay bool, bpm *float64) {
	if trackID != nil && *trackID == "" {
		trackID = nil
	}
	deck.TrackID = trackID
	deck.Playing = autoplay && trackID != nil
	deck.Time = 0
	deck.Pitch = 1
	deck.DetectedBPM = nil
	if trackID != nil {
		deck.DetectedBPM = positive(bpm)
	}
}

// Promote 把 B 盘移到 A 盘，重置 B 盘并把混音交给 A
func Promote(s *model.DJState) {
	b := s.Decks.B.Clone()
	if b.Pitch <= 0 {
		b.Pitch = 1
	}
	b.Volume = 1
	s.Decks.A = b
	s.Decks.B = model.EmptyDeck()
	s.Crossfader = 100
	s.MainDeck = model.DeckA
}

// ClearDecks 重置两台唱盘，保留混音与显示设置
func ClearDecks(s *model.DJState) {
	s.Decks.A = model.EmptyDeck()
	s.Decks.B = model.EmptyDeck()
}

func deckOf(s *model.DJState, id model.DeckID) (*model.Deck, error) {
	d := s.Deck(id)
	if d == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDeck, id)
	}
	return d, nil
}

func clampTime(t float64) float64 {
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	return t
}

func positive(v *float64) *float64 {
	if v == nil || *v <= 0 || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return model.Float64Ptr(*v)
}
