// pkg/winget/parser.go
package winget

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseExport reads the document written by `winget export`:
//
//	{"Sources":[{"Packages":[{"PackageIdentifier":"..."}]}]}
func ParseExport(data []byte) (IDSet, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !gjson.ValidBytes(data) {
		return IDSet{}, fmt.Errorf("export document is not valid JSON")
	}

	ids := NewIDSet()
	gjson.GetBytes(data, "Sources").ForEach(func(_, source gjson.Result) bool {
		source.Get("Packages").ForEach(func(_, pkg gjson.Result) bool {
			ids.Add(pkg.Get("PackageIdentifier").String())
			return true
		})
		return true
	})
	return ids, nil
}

// ParseInstallerType extracts the value of the "Installer Type:" line from
// `winget show` output. It returns "" when the line is missing.
func ParseInstallerType(lines []string) string {
	const label = "installer type:"
	for _, line := range lines {
		text := strings.TrimSpace(line)
		if len(text) < len(label) || !strings.EqualFold(text[:len(label)], label) {
			continue
		}
		return strings.ToLower(strings.TrimSpace(text[len(label):]))
	}
	return ""
}

// Presence is the installed state reported by `winget list`.
type Presence int

const (
	PresenceUnknown Presence = iota
	PresenceInstalled
	PresenceAbsent
)

func (p Presence) String() string {
	switch p {
	case PresenceInstalled:
		return "installed"
	case PresenceAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// ParseListPresence interprets the result of `winget list --id <id>`.
func ParseListPresence(r *Result, id string) Presence {
	if r == nil {
		return PresenceUnknown
	}
	if r.ExitCode == CodeNoApplicationsFound {
		return PresenceAbsent
	}
	for _, line := range r.Stdout {
		if strings.Contains(strings.ToLower(line), "no installed package found") {
			return PresenceAbsent
		}
	}
	if r.ExitCode != CodeSuccess {
		return PresenceUnknown
	}
	for _, line := range r.Stdout {
		for _, field := range strings.Fields(line) {
			if strings.EqualFold(field, id) {
				return PresenceInstalled
			}
		}
	}
	return PresenceAbsent
}

// ParseVersion extracts the version printed by `winget --version`, e.g.
// "v1.7.10861" becomes "1.7.10861".
func ParseVersion(lines []string) string {
	for _, line := range lines {
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		return strings.TrimPrefix(strings.TrimPrefix(text, "v"), "V")
	}
	return ""
}
