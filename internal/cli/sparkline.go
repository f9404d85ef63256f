package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var levels = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// Sparkline renders the last Width samples of a throughput series on a
// single line, scaled to the visible maximum.
type Sparkline struct {
	Data  []uint64
	Width int
	Style lipgloss.Style
}

func NewSparkline(width int, style lipgloss.Style) Sparkline {
	return Sparkline{Width: width, Style: style, Data: make([]uint64, 0, width)}
}

func (s *Sparkline) Add(vals ...uint64) {
	s.Data = append(s.Data, vals...)
	if len(s.Data) > s.Width {
		s.Data = s.Data[len(s.Data)-s.Width:]
	}
}

func (s Sparkline) max() uint64 {
	var m uint64
	for _, v := range s.Data {
		m = max(m, v)
	}
	return m
}

func (s Sparkline) View() string {
	if s.Width <= 0 {
		return ""
	}
	peak := s.max()

	var graph strings.Builder
	for _, v := range s.Data {
		if peak == 0 {
			graph.WriteString(levels[0])
			continue
		}
		idx := int(float64(v) / float64(peak) * float64(len(levels)-1))
		idx = min(max(idx, 0), len(levels)-1)
		graph.WriteString(levels[idx])
	}

	// Pad if not full
	if pad := s.Width - len(s.Data); pad > 0 {
		graph.WriteString(strings.Repeat(" ", pad))
	}
	return s.Style.Render(graph.String())
}
