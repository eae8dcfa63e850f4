// pkg/native/api.go

// Package native owns the connection to winget's automation API.
//
// The automation API is reached through the API interface so the
// orchestration code never depends on which adapter is active. Session wraps
// an API with the process-wide initialization state: a lock-free fast path
// for the initialized and timed-out cases, and a single critical section for
// the handshake itself.
//
// Adapter rule: activation of the automation API must happen on the one
// goroutine Session schedules for it (see EnsureInitializedWithin). Adapters
// must not start further goroutines around Handshake or the first catalog
// call; an extra hop loses the activation context and the call never
// completes.
package native

import "context"

// MatchOption selects how a Filter compares.
type MatchOption int

const (
	MatchContainsCaseInsensitive MatchOption = iota
	MatchEqualsCaseInsensitive
)

func (o MatchOption) String() string {
	if o == MatchEqualsCaseInsensitive {
		return "EqualsCaseInsensitive"
	}
	return "ContainsCaseInsensitive"
}

// Field is the package property a Filter applies to.
type Field int

const (
	FieldID Field = iota
)

// Filter is a single search predicate.
type Filter struct {
	Field  Field
	Option MatchOption
	Value  string
}

// CatalogRef identifies a configured package catalog.
type CatalogRef struct {
	Name string
	Type string
}

// Match is one package returned by a search.
type Match struct {
	ID            string
	Name          string
	Source        string
	InstallerType string
}

// API is the capability surface of the automation API that the
// orchestration relies on.
type API interface {
	// Handshake activates the API. It is called at most once per
	// successful initialization.
	Handshake(ctx context.Context) error
	// Catalogs lists configured remote catalogs.
	Catalogs(ctx context.Context) ([]CatalogRef, error)
	// FindInstalled searches a composite of the local installed catalog
	// and remote, returning installed packages that match f.
	FindInstalled(ctx context.Context, remote CatalogRef, f Filter) ([]Match, error)
	// Find searches a single remote catalog.
	Find(ctx context.Context, catalog CatalogRef, f Filter) ([]Match, error)
}
