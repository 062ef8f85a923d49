package replay

import (
	"fmt"
	"time"
)

// palette is the cycling chart palette, assigned in player rank order
var palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
	"#008080", "#e6beff", "#9a6324", "#fffac8", "#800000",
	"#aaffc3", "#808000", "#ffd8b1", "#000075", "#808080",
}

// PaletteColor returns the color for a player index, wrapping around
func PaletteColor(index int) string {
	if index < 0 {
		index = -index
	}
	return palette[index%len(palette)]
}

// PaletteSize is the number of distinct colors before the palette repeats
func PaletteSize() int {
	return len(palette)
}

// FormatClock formats a snapshot timestamp as a local wall-clock time.
// Unparseable values are returned as-is.
func FormatClock(ts string) string {
	t, ok := parseTimestamp(ts)
	if !ok {
		return ts
	}
	return t.In(time.Local).Format("15:04:05")
}

// FormatElapsed formats a snapshot timestamp as mm:ss since the round start.
// Returns "" when either side is unknown.
func FormatElapsed(ts string, start *time.Time) string {
	if start == nil {
		return ""
	}
	t, ok := parseTimestamp(ts)
	if !ok {
		return ""
	}
	d := t.Sub(*start)
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%s%02d:%02d", sign, secs/60, secs%60)
}
