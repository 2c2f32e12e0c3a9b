// Package storage resolves opaque attachment references into URLs a client
// can fetch. The engine never reads or writes object bodies.
package storage

import "context"

type Resolver interface {
	// ResolveURL returns a retrievable URL for ref, or "" when the backend
	// has nothing to offer for it.
	ResolveURL(ctx context.Context, ref string) (string, error)
}

// NoOpResolver leaves references unresolved; clients render the ref only.
type NoOpResolver struct{}

func (NoOpResolver) ResolveURL(context.Context, string) (string, error) {
	return "", nil
}
