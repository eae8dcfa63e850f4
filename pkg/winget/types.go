// pkg/winget/types.go
package winget

import (
	"sort"
	"strings"
)

// PackageIdentity names a package to operate on. Source and DisplayName are
// optional; an empty value means absent.
type PackageIdentity struct {
	ID          string
	Source      string
	DisplayName string
}

// Label returns the display name when known, else the identifier.
func (p PackageIdentity) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

// InstallationOptions configures an install. An empty Version means latest.
type InstallationOptions struct {
	Version string
}

// OperationResult is the outcome of an install or uninstall.
type OperationResult struct {
	Success       bool
	FailureReason FailureReason
	Message       string
}

// Succeeded builds a successful result.
func Succeeded(message string) OperationResult {
	return OperationResult{Success: true, FailureReason: FailureNone, Message: message}
}

// Failed builds a failed result.
func Failed(reason FailureReason, message string) OperationResult {
	return OperationResult{Success: false, FailureReason: reason, Message: message}
}

// Progress is what a ProgressCallback receives.
type Progress struct {
	Percent             float64 // composite 0-100
	Status              string  // empty for terminal-only lines
	TerminalLine        string
	IsProgressIndicator bool
}

// ProgressCallback receives progress updates. It may be called from the
// stdout and stderr reader goroutines at the same time.
type ProgressCallback func(Progress)

// IDSet is a case-insensitive set of package identifiers. The first spelling
// added for an identifier is the one reported by IDs.
type IDSet struct {
	items map[string]string
}

// NewIDSet returns a set holding ids.
func NewIDSet(ids ...string) IDSet {
	s := IDSet{items: make(map[string]string, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id; blank identifiers are ignored.
func (s *IDSet) Add(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	if s.items == nil {
		s.items = make(map[string]string)
	}
	key := strings.ToLower(id)
	if _, ok := s.items[key]; !ok {
		s.items[key] = id
	}
}

// Contains reports membership ignoring case.
func (s IDSet) Contains(id string) bool {
	_, ok := s.items[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

// Len returns the number of distinct identifiers.
func (s IDSet) Len() int {
	return len(s.items)
}

// IDs returns the identifiers sorted case-insensitively.
func (s IDSet) IDs() []string {
	out := make([]string, 0, len(s.items))
	for _, id := range s.items {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}
