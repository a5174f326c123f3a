// Package ids generates client-side identifiers for optimistic
// messages, notifications, and moderation cases.
package ids

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces a new id with the given prefix, joined by an
// underscore.
type Generator func(prefix string) string

// New returns a uuid-backed generator.
func New() Generator {
	return func(prefix string) string {
		if prefix == "" {
			return uuid.NewString()
		}
		return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
	}
}

// Sequential returns a deterministic generator for tests: prefix_1,
// prefix_2, and so on.
func Sequential() Generator {
	var n atomic.Int64
	return func(prefix string) string {
		v := n.Add(1)
		if prefix == "" {
			return fmt.Sprintf("%d", v)
		}
		return fmt.Sprintf("%s_%d", prefix, v)
	}
}
