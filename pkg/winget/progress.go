// pkg/winget/progress.go
package winget

import (
	"regexp"
	"strconv"
	"strings"
)

// Phase is a stage in winget's textual progress output.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseFound
	PhaseDownloading
	PhaseInstalling
	PhaseUninstalling
	PhaseComplete
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseFound:
		return "Found"
	case PhaseDownloading:
		return "Downloading"
	case PhaseInstalling:
		return "Installing"
	case PhaseUninstalling:
		return "Uninstalling"
	case PhaseComplete:
		return "Complete"
	case PhaseError:
		return "Error"
	default:
		return "None"
	}
}

// ProgressEvent is a structured reading of one output line.
type ProgressEvent struct {
	Phase Phase
	// Percent is the completion within Phase in [0,1]; valid when HasPercent.
	Percent    float64
	HasPercent bool
	IsTerminal bool
}

var (
	foundPattern   = regexp.MustCompile(`^Found\s+.+\[[^\]]+\]`)
	percentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	sizePattern    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(B|KB|MB|GB)\s*/\s*(\d+(?:\.\d+)?)\s*(B|KB|MB|GB)`)
	barPercentOnly = regexp.MustCompile(`^\d+(?:\.\d+)?\s*%$`)
)

const barGlyphs = "█▓▒░▏▎▍▌▋▊▉"

const spinnerFrames = `-\|/`

var errorMarkers = []string{
	"installer failed with exit code",
	"installation failed",
	"uninstall failed",
	"uninstallation failed",
	"no package found matching input criteria",
	"no installed package found matching input criteria",
	"installer hash does not match",
	"an unexpected error occurred",
}

// ParseLine maps a line of winget output to a progress event. current is the
// phase established by earlier lines; it decides which phase a bare progress
// bar belongs to. The second return is false for lines that carry no phase.
func ParseLine(line string, current Phase) (ProgressEvent, bool) {
	text := strings.TrimSpace(line)
	if text == "" {
		return ProgressEvent{}, false
	}
	lower := strings.ToLower(text)

	switch {
	case strings.HasPrefix(lower, "successfully installed"),
		strings.HasPrefix(lower, "successfully uninstalled"):
		return ProgressEvent{Phase: PhaseComplete, Percent: 1, HasPercent: true, IsTerminal: true}, true
	case hasErrorMarker(lower):
		return ProgressEvent{Phase: PhaseError, IsTerminal: true}, true
	case foundPattern.MatchString(text):
		return ProgressEvent{Phase: PhaseFound}, true
	case strings.HasPrefix(lower, "downloading "):
		return ProgressEvent{Phase: PhaseDownloading, Percent: 0, HasPercent: true}, true
	case strings.HasPrefix(lower, "successfully verified installer hash"):
		return ProgressEvent{Phase: PhaseDownloading, Percent: 1, HasPercent: true}, true
	case strings.HasPrefix(lower, "starting package install"):
		return ProgressEvent{Phase: PhaseInstalling, Percent: 0, HasPercent: true}, true
	case strings.HasPrefix(lower, "starting package uninstall"):
		return ProgressEvent{Phase: PhaseUninstalling}, true
	}

	if pct, ok := parsePercent(text); ok {
		phase := current
		switch current {
		case PhaseInstalling, PhaseUninstalling:
		default:
			phase = PhaseDownloading
		}
		return ProgressEvent{Phase: phase, Percent: pct, HasPercent: true}, true
	}
	return ProgressEvent{}, false
}

func hasErrorMarker(lower string) bool {
	for _, m := range errorMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// parsePercent reads "45%" or "12.5 MB / 50 MB" style bar text into [0,1].
func parsePercent(text string) (float64, bool) {
	if m := sizePattern.FindStringSubmatch(text); m != nil {
		done := toBytes(m[1], m[2])
		total := toBytes(m[3], m[4])
		if total <= 0 {
			return 0, false
		}
		return clamp01(done / total), true
	}
	if m := percentPattern.FindStringSubmatch(text); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		return clamp01(v / 100), true
	}
	return 0, false
}

func toBytes(num, unit string) float64 {
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	switch unit {
	case "KB":
		return v * 1024
	case "MB":
		return v * 1024 * 1024
	case "GB":
		return v * 1024 * 1024 * 1024
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// IsLogNoise reports whether a line is purely cosmetic: blank, a spinner
// frame, or a redrawn progress bar. Such lines are shown live but never
// written to the durable log.
func IsLogNoise(line string) bool {
	text := strings.TrimSpace(line)
	if text == "" {
		return true
	}
	if len([]rune(text)) == 1 && strings.ContainsAny(text, spinnerFrames) {
		return true
	}
	if strings.ContainsAny(text, barGlyphs) {
		return true
	}
	return barPercentOnly.MatchString(text)
}
