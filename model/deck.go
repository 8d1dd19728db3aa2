package model

import "fmt"

// DeckID identifies one of the two playback slots.
type DeckID string

const (
	DeckA DeckID = "A" // 主盘
	DeckB DeckID = "B" // 待播
)

// Decks lists both deck ids in display order.
var Decks = [2]DeckID{DeckA, DeckB}

// Pitch and volume domains of a deck.
const (
	MinPitch  = 0.5
	MaxPitch  = 1.5
	MinVolume = 0.0
	MaxVolume = 1.0
)

// Valid reports whether d names an existing deck.
func (d DeckID) Valid() bool {
	return d == DeckA || d == DeckB
}

// Other returns the peer deck.
func (d DeckID) Other() DeckID {
	if d == DeckA {
		return DeckB
	}
	return DeckA
}

// ParseDeckID accepts "A"/"B" in either case.
func ParseDeckID(s string) (DeckID, error) {
	switch s {
	case "A", "a":
		return DeckA, nil
	case "B", "b":
		return DeckB, nil
	}
	return "", fmt.Errorf("unknown deck %q", s)
}

// Deck is the replicated state of one playback slot.
type Deck struct {
	TrackID     *string  `json:"trackId"`
	Playing     bool     `json:"playing"`
	Time        float64  `json:"time"`
	Volume      float64  `json:"volume"`
	Pitch       float64  `json:"pitch"`
	DetectedBPM *float64 `json:"detectedBpm"`
}

// EmptyDeck returns the reset state of a deck.
func EmptyDeck() Deck {
	return Deck{Volume: 1, Pitch: 1}
}

// HasTrack reports whether a track is bound to the deck.
func (d Deck) HasTrack() bool {
	return d.TrackID != nil && *d.TrackID != ""
}

// Track returns the bound track id or "".
func (d Deck) Track() string {
	if d.TrackID == nil {
		return ""
	}
	return *d.TrackID
}

// BPM returns the detected tempo if one is known.
func (d Deck) BPM() (float64, bool) {
	if d.DetectedBPM == nil || *d.DetectedBPM <= 0 {
		return 0, false
	}
	return *d.DetectedBPM, true
}

// EffectiveBPM is the detected tempo scaled by pitch.
func (d Deck) EffectiveBPM() (float64, bool) {
	bpm, ok := d.BPM()
	if !ok {
		return 0, false
	}
	return bpm * d.pitchOrUnity(), true
}

func (d Deck) pitchOrUnity() float64 {
	if d.Pitch <= 0 {
		return 1
	}
	return d.Pitch
}

// Clone returns a deep copy.
func (d Deck) Clone() Deck {
	c := d
	if d.TrackID != nil {
		c.TrackID = StringPtr(*d.TrackID)
	}
	if d.DetectedBPM != nil {
		c.DetectedBPM = Float64Ptr(*d.DetectedBPM)
	}
	return c
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}

// Float64Ptr returns a pointer to a copy of f.
func Float64Ptr(f float64) *float64 {
	return &f
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
