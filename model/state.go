package model

import (
	"fmt"
	"reflect"
)

// Display layer names accepted by display:toggle.
const (
	LayerVideo     = "video"
	LayerBackdrop  = "backdrop"
	LayerSlideshow = "slideshow"
	LayerLyrics    = "lyrics"
)

// DefaultShader is the preset selected on a fresh relay.
const DefaultShader = "plasma"

// DisplayFlags are the visual layers of the display view.
type DisplayFlags struct {
	Video     bool `json:"video"`
	Backdrop  bool `json:"backdrop"`
	Slideshow bool `json:"slideshow"`
	Lyrics    bool `json:"lyrics"`
}

// Set toggles a layer by name.
func (f *DisplayFlags) Set(layer string, visible bool) error {
	switch layer {
	case LayerVideo:
		f.Video = visible
	case LayerBackdrop:
		f.Backdrop = visible
	case LayerSlideshow:
		f.Slideshow = visible
	case LayerLyrics:
		f.Lyrics = visible
	default:
		return fmt.Errorf("unknown display layer %q", layer)
	}
	return nil
}

// DeckPair holds both decks.
type DeckPair struct {
	A Deck `json:"A"`
	B Deck `json:"B"`
}

// DJState is the replicated aggregate shared by the relay and every view.
type DJState struct {
	Decks        DeckPair     `json:"decks"`
	Crossfader   float64      `json:"crossfader"` // 0 为全 B，100 为全 A
	MainDeck     DeckID       `json:"mainDeck"`
	Display      DisplayFlags `json:"display"`
	Shader       string       `json:"shader"`
	PhotosFolder *string      `json:"photosFolder"`
	LyricsOffset int          `json:"lyricsOffset"` // 毫秒
}

// NewDJState returns the state of a freshly started relay.
func NewDJState() DJState {
	return DJState{
		Decks:      DeckPair{A: EmptyDeck(), B: EmptyDeck()},
		Crossfader: 50,
		MainDeck:   DeckA,
		Display: DisplayFlags{
			Video:    true,
			Backdrop: true,
		},
		Shader: DefaultShader,
	}
}

// Deck returns a mutable pointer to the deck with the given id, or nil.
func (s *DJState) Deck(id DeckID) *Deck {
	switch id {
	case DeckA:
		return &s.Decks.A
	case DeckB:
		return &s.Decks.B
	}
	return nil
}

// Clone returns a deep copy.
func (s DJState) Clone() DJState {
	c := s
	c.Decks.A = s.Decks.A.Clone()
	c.Decks.B = s.Decks.B.Clone()
	if s.PhotosFolder != nil {
		c.PhotosFolder = StringPtr(*s.PhotosFolder)
	}
	return c
}

// Equal compares two states field by field, following pointers.
func (s DJState) Equal(o DJState) bool {
	return reflect.DeepEqual(s, o)
}
