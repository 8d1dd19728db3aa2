package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a relay event.
type EventType string

const (
	EventSyncRequest   EventType = "sync:request"
	EventSyncState     EventType = "sync:state"
	EventDeckLoad      EventType = "deck:load"
	EventDeckPlay      EventType = "deck:play"
	EventDeckPause     EventType = "deck:pause"
	EventDeckSeek      EventType = "deck:seek"
	EventDeckVolume    EventType = "deck:volume"
	EventDeckPitch     EventType = "deck:pitch"
	EventDeckTime      EventType = "deck:timeUpdate"
	EventDeckPromote   EventType = "deck:promote"
	EventDeckBPM       EventType = "deck:bpm"
	EventCrossfader    EventType = "crossfader"
	EventDisplayToggle EventType = "display:toggle"
	EventShaderSelect  EventType = "shader:select"
	EventPhotosFolder  EventType = "photos:folder"
	EventLyricsOffset  EventType = "lyrics:offset"
	EventError         EventType = "error"
)

// Event is the wire envelope of every relay message.
type Event struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Sender    string          `json:"sender,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewEvent marshals payload into an event envelope.
func NewEvent(t EventType, payload interface{}) (*Event, error) {
	evt := &Event{Type: t, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		evt.Data = data
	}
	return evt, nil
}

// MustEvent is NewEvent for payload types that always marshal.
func MustEvent(t EventType, payload interface{}) *Event {
	evt, err := NewEvent(t, payload)
	if err != nil {
		panic(err)
	}
	return evt
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Type, err)
	}
	return nil
}

// DeckLoadData is the payload of deck:load.
type DeckLoadData struct {
	Deck     DeckID   `json:"deck"`
	TrackID  *string  `json:"trackId"`
	Autoplay bool     `json:"autoplay"`
	BPM      *float64 `json:"bpm,omitempty"`
}

// DeckTimeData is the payload of deck:play, deck:seek and deck:timeUpdate.
type DeckTimeData struct {
	Deck DeckID  `json:"deck"`
	Time float64 `json:"time"`
}

// DeckRef is the payload of deck:pause.
type DeckRef struct {
	Deck DeckID `json:"deck"`
}

type DeckVolumeData struct {
	Deck   DeckID  `json:"deck"`
	Volume float64 `json:"volume"`
}

type DeckPitchData struct {
	Deck  DeckID  `json:"deck"`
	Pitch float64 `json:"pitch"`
}

type DeckBPMData struct {
	Deck DeckID   `json:"deck"`
	BPM  *float64 `json:"bpm"`
}

type PromoteData struct {
	FromDeck DeckID `json:"fromDeck"`
}

type CrossfaderData struct {
	Position float64 `json:"position"`
}

type DisplayToggleData struct {
	Layer   string `json:"layer"`
	Visible bool   `json:"visible"`
}

type ShaderData struct {
	Preset string `json:"preset"`
}

type PhotosFolderData struct {
	Folder *string `json:"folder"`
}

type LyricsOffsetData struct {
	Offset int `json:"offset"`
}

// ErrorData is sent by the relay when it rejects an event.
type ErrorData struct {
	Message string `json:"message"`
}
