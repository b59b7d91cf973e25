package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorBold     = "\033[1m"
	colorDim      = "\033[2m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
	colorGreen    = "\033[92m"
)

// termMu serialises log lines and screen redraws so neither tears the other.
var termMu sync.Mutex

func TermWidth(f *os.File) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

type termWriter struct {
	w io.Writer
}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return tw.w.Write(p)
}

// NewTermWriter wraps w so its writes never interleave with Redraw.
func NewTermWriter(w io.Writer) io.Writer {
	return termWriter{w: w}
}

// Redraw writes a whole screen at once, clearing first when clear is set.
func Redraw(w io.Writer, screen string, clear bool) {
	termMu.Lock()
	defer termMu.Unlock()
	if clear {
		fmt.Fprint(w, "\033[2J\033[H")
	}
	fmt.Fprint(w, screen)
}

// ProgressBar renders percent (0-100) as a bar of the given cell width.
func ProgressBar(percent, width int, color bool) string {
	width = max(width, 1)
	filled := clamp(percent*width/100, 0, width)
	bar := strings.Repeat("█", filled) + strings.Repeat("▒", width-filled)
	if !color {
		return bar
	}
	barColor := colorNeonCyan
	if percent >= 100 {
		barColor = colorGreen
	}
	return barColor + bar + colorReset
}

// Paint wraps s in the named style when color is set.
func Paint(s, style string, color bool) string {
	if !color {
		return s
	}
	code := map[string]string{
		"bold":  colorBold,
		"dim":   colorDim,
		"cyan":  colorNeonCyan,
		"mag":   colorNeonMag,
		"purp":  colorPurple,
		"green": colorGreen,
	}[style]
	if code == "" {
		return s
	}
	return code + s + colorReset
}

// Banner returns the logo centred in width columns.
func Banner(width int, color bool) string {
	banner := `
  __  __       _          ___
 |  \/  |__ _ | |__ ___  | _ \_ _ ___  __ _ _ _ ___ ______
 | |\/| / _' || / // -_) |  _/ '_/ _ \/ _' | '_/ -_|_-<_-<
 |_|  |_\__,_||_\_\\___| |_| |_| \___/\__, |_| \___/__/__/
                                      |___/
`
	var b strings.Builder
	for _, l := range strings.Split(strings.Trim(banner, "\n"), "\n") {
		padding := max((width-len(l))/2, 0)
		b.WriteString(strings.Repeat(" ", padding))
		b.WriteString(Paint(l, "cyan", color))
		b.WriteString("\n")
	}
	return b.String()
}
