package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// WaveformPoint is one column of a precomputed amplitude envelope.
type WaveformPoint struct {
	Avg  float64 `json:"avg"`
	Peak float64 `json:"peak"`
}

// Waveform is stored as a JSON column.
type Waveform []WaveformPoint

// Scan implements sql.Scanner.
func (w *Waveform) Scan(value interface{}) error {
	if value == nil {
		*w = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*w = nil
		return nil
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*w = nil
		return nil
	}
	return json.Unmarshal(bytes, w)
}

// Value implements driver.Valuer.
func (w Waveform) Value() (driver.Value, error) {
	if w == nil {
		return nil, nil
	}
	return json.Marshal(w)
}

// Track is a library entry produced by the ingestion pipeline. The deck
// engine only reads it, except for the stored BPM.
type Track struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	YoutubeID    *string   `json:"youtubeId,omitempty" gorm:"size:32;uniqueIndex"`
	Title        string    `json:"title" gorm:"size:255;not null"`
	Artist       string    `json:"artist,omitempty" gorm:"size:255"`
	Duration     float64   `json:"duration"`                     // 秒
	MediaPath    string    `json:"mediaPath" gorm:"size:512"`    // 音频对象，相对 /media 的路径
	VideoPath    string    `json:"videoPath,omitempty" gorm:"size:512"`
	BPM          *float64  `json:"bpm,omitempty"`
	Waveform     Waveform  `json:"waveform,omitempty" gorm:"type:json"`
	LyricsPath   string    `json:"lyricsPath,omitempty" gorm:"size:512"`
	LyricsOffset int       `json:"lyricsOffset" gorm:"default:0"`
	CreatedAt    time.Time `json:"createdAt" gorm:"index"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName pins the table name.
func (Track) TableName() string {
	return "tracks"
}

// StoredBPM returns the persisted tempo if one is known.
func (t *Track) StoredBPM() (float64, bool) {
	if t == nil || t.BPM == nil || *t.BPM <= 0 {
		return 0, false
	}
	return *t.BPM, true
}

// TrackPatch is the body of PATCH /api/tracks/{id}; nil fields are left unchanged.
type TrackPatch struct {
	BPM          *float64 `json:"bpm,omitempty"`
	LyricsOffset *int     `json:"lyricsOffset,omitempty"`
	Title        *string  `json:"title,omitempty"`
	Artist       *string  `json:"artist,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TrackPatch) Empty() bool {
	return p.BPM == nil && p.LyricsOffset == nil && p.Title == nil && p.Artist == nil
}
