package repository

import (
	"testing"

	"UltimateDJ/model"
)

func TestLikePattern(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"daft", "%daft%"},
		{"100%", `%100\%%`},
		{"a_b", `%a\_b%`},
		{`c:\x`, `%c:\\x%`},
	}
	for _, tt := range tests {
		if got := likePattern(tt.in); got != tt.want {
			t.Errorf("likePattern(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPatchColumns(t *testing.T) {
	bpm := 128.0
	offset := -250
	title := "  One More Time "
	cols := patchColumns(model.TrackPatch{BPM: &bpm, LyricsOffset: &offset, Title: &title})
	if len(cols) != 3 {
		t.Fatalf("cols = %v", cols)
	}
	if cols["bpm"] != 128.0 || cols["lyrics_offset"] != -250 || cols["title"] != "One More Time" {
		t.Errorf("cols = %v", cols)
	}
	if len(patchColumns(model.TrackPatch{})) != 0 {
		t.Error("empty patch produced updates")
	}
}
