package resolver

import "context"

// Location is the result of resolving a symbolic name. The zero value is the
// absence marker: a definite "not found" answer, which is cached like any
// other result and is distinct from a name that was never looked up.
type Location struct {
	Path  string `json:"path"`
	Found bool   `json:"found"`
}

// Absent is the absence marker.
var Absent = Location{}

// At returns a found Location for path.
func At(path string) Location {
	return Location{Path: path, Found: true}
}

func (l Location) String() string {
	if !l.Found {
		return "<absent>"
	}
	return l.Path
}

// Resolver resolves a symbolic name to a location.
type Resolver interface {
	Resolve(ctx context.Context, name string) (Location, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, name string) (Location, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, name string) (Location, error) {
	return f(ctx, name)
}
