// pkg/core/package.go
package core

import (
	"fmt"
	"strings"

	"github.com/arc-language/winpkg/pkg/winget"
)

// PackageRef is a package as written on a command line:
//
//	[source:]id[@version]
//
// e.g. "Git.Git", "Git.Git@2.43.0" or "msstore:9NBLGGH4NNS1".
type PackageRef struct {
	ID      string
	Source  string
	Version string
}

// ParsePackageRef splits s into its parts.
func ParsePackageRef(s string) (PackageRef, error) {
	var ref PackageRef
	rest := strings.TrimSpace(s)
	if src, after, ok := strings.Cut(rest, ":"); ok {
		if src == "" {
			return PackageRef{}, fmt.Errorf("invalid package reference %q: empty source", s)
		}
		ref.Source = src
		rest = after
	}
	if id, ver, ok := strings.Cut(rest, "@"); ok {
		ref.Version = ver
		rest = id
	}
	ref.ID = rest
	if ref.ID == "" || strings.ContainsAny(ref.ID, " \t:") {
		return PackageRef{}, fmt.Errorf("invalid package reference %q", s)
	}
	return ref, nil
}

// Identity returns the identity half of the reference.
func (r PackageRef) Identity() winget.PackageIdentity {
	return winget.PackageIdentity{ID: r.ID, Source: r.Source}
}

// Options returns the installation options half of the reference.
func (r PackageRef) Options() *winget.InstallationOptions {
	return &winget.InstallationOptions{Version: r.Version}
}

func (r PackageRef) String() string {
	s := r.ID
	if r.Source != "" {
		s = r.Source + ":" + s
	}
	if r.Version != "" {
		s += "@" + r.Version
	}
	return s
}
