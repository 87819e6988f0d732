package audio

import (
	"errors"
	"sync/atomic"
)

// ErrStale is returned by an operation that was overtaken by a newer one.
// Callers drop it silently.
var ErrStale = errors.New("stale audio operation")

// Generation hands out tokens; issuing a new token invalidates all earlier ones.
type Generation struct {
	n atomic.Uint64
}

func (g *Generation) Next() Token {
	return Token{g: g, n: g.n.Add(1)}
}

// Token identifies one logical device operation.
type Token struct {
	g *Generation
	n uint64
}

func (t Token) Valid() bool {
	return t.g != nil && t.g.n.Load() == t.n
}

// Check returns ErrStale once a newer token has been issued.
func (t Token) Check() error {
	if !t.Valid() {
		return ErrStale
	}
	return nil
}
