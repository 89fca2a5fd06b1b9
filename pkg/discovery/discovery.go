// Package discovery provides the gossip seeds a node joins on start.
package discovery

import "context"

// Discovery returns the current seed addresses (host:port of peers' gossip
// endpoints). An empty result means there is nobody to join yet.
type Discovery interface {
    Seeds(ctx context.Context) ([]string, error)
}

// Func adapts a function to Discovery.
type Func func(ctx context.Context) ([]string, error)

func (f Func) Seeds(ctx context.Context) ([]string, error) { return f(ctx) }
