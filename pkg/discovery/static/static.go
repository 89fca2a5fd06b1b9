// Package static is a Discovery over a fixed seed list.
package static

import (
    "context"
    "strings"

    "github.com/amirimatin/go-leaderelection/pkg/discovery"
)

type staticSeeds struct {
    seeds []string
}

func (s *staticSeeds) Seeds(context.Context) ([]string, error) {
    return append([]string(nil), s.seeds...), nil
}

// New returns a Discovery that always returns the given non-blank seeds.
func New(seeds ...string) discovery.Discovery {
    cleaned := make([]string, 0, len(seeds))
    for _, v := range seeds {
        if v = strings.TrimSpace(v); v != "" {
            cleaned = append(cleaned, v)
        }
    }
    return &staticSeeds{seeds: cleaned}
}

// Parse splits a comma-separated seed list, as given on the command line.
func Parse(csv string) []string {
    if csv == "" {
        return nil
    }
    parts := strings.Split(csv, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        if p = strings.TrimSpace(p); p != "" {
            out = append(out, p)
        }
    }
    return out
}
