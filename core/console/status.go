package console

import (
	"fmt"
	"strings"

	"UltimateDJ/core/mix"
	"UltimateDJ/core/waveform"
	"UltimateDJ/model"
)

// DeckStatus 单盘当前状态
type DeckStatus struct {
	ID           model.DeckID
	Track        *model.Track
	State        string
	Time         float64
	Duration     float64
	Volume       float64
	Pitch        float64
	BPM          *float64
	EffectiveBPM *float64
	Scratching   bool
	Waveform     model.Waveform
	Err          error
}

// Status 控制台当前状态
type Status struct {
	Connected bool
	Decks     [2]DeckStatus
	State     model.DJState
	Gains     mix.Gains
	Queue     []model.Track
}

// Status 采集两台唱盘、混音与队列
func (c *Console) Status() Status {
	var st Status
	c.loop.Do(func() {
		st.State = c.store.Snapshot()
		st.Gains = mix.Effective(st.State)
		if c.connected != nil {
			st.Connected = c.connected()
		}
		for i, id := range model.Decks {
			r := c.rigs[id]
			d := *st.State.Deck(id)
			ds := DeckStatus{
				ID:         id,
				Track:      r.ctrl.Track(),
				State:      r.ctrl.State().String(),
				Time:       d.Time,
				Duration:   r.ctrl.Duration(),
				Volume:     d.Volume,
				Pitch:      d.Pitch,
				Scratching: r.scratch.Active(),
				Waveform:   r.waveform(),
				Err:        r.ctrl.LastError(),
			}
			if r.ctrl.Loaded() {
				ds.Time = r.ctrl.Position()
			}
			if v, ok := d.BPM(); ok {
				ds.BPM = model.Float64Ptr(v)
			}
			if v, ok := d.EffectiveBPM(); ok {
				ds.EffectiveBPM = model.Float64Ptr(v)
			}
			st.Decks[i] = ds
		}
		for _, t := range c.queue {
			st.Queue = append(st.Queue, *t)
		}
	})
	return st
}

// Render 以文本输出状态，每台唱盘一段
func (s Status) Render(width int) string {
	var b strings.Builder
	link := "offline"
	if s.Connected {
		link = "online"
	}
	fmt.Fprintf(&b, "relay %s  crossfader %.0f  main %s\n", link, s.State.Crossfader, s.State.MainDeck)
	names := map[model.DeckID]string{model.DeckA: "Live", model.DeckB: "Next Up"}
	for _, d := range s.Decks {
		title := "(empty)"
		if d.Track != nil {
			title = d.Track.Title
			if d.Track.Artist != "" {
				title = d.Track.Artist + " - " + title
			}
		}
		fmt.Fprintf(&b, "[%s %s] %s  %s  %s/%s  vol %.2f  pitch %+.1f%%",
			d.ID, names[d.ID], title, d.State, clock(d.Time), clock(d.Duration), d.Volume, (d.Pitch-1)*100)
		if d.EffectiveBPM != nil {
			fmt.Fprintf(&b, "  %.1f bpm", *d.EffectiveBPM)
		}
		if d.Scratching {
			b.WriteString("  scratching")
		}
		b.WriteByte('\n')
		progress := -1.0
		if d.Duration > 0 {
			progress = d.Time / d.Duration
		}
		if d.Track != nil {
			b.WriteString("  " + waveform.Render(d.Waveform, width, progress) + "\n")
		}
		if d.Err != nil {
			fmt.Fprintf(&b, "  error: %v\n", d.Err)
		}
	}
	fmt.Fprintf(&b, "gains A %.2f  B cue %.2f  B main %.2f\n", s.Gains.A, s.Gains.BCue, s.Gains.BMain)
	for i, t := range s.Queue {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, t.Title)
	}
	return b.String()
}

func clock(sec float64) string {
	if sec <= 0 {
		return "0:00"
	}
	s := int(sec)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
