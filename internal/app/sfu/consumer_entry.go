package sfu

import (
	"sync/atomic"

	"github.com/dkeye/voiceclient/internal/core"
)

type entryState int32

const (
	entryLive entryState = iota
	entryClosed
)

// consumerEntry is one registry slot. Whoever moves it to entryClosed first
// owns closing the consumer and reporting the removal.
type consumerEntry struct {
	consumer core.Consumer
	state    atomic.Int32 // Zero by default (entryLive)
}

func newConsumerEntry(c core.Consumer) *consumerEntry {
	return &consumerEntry{consumer: c}
}

func (e *consumerEntry) live() bool {
	return entryState(e.state.Load()) == entryLive
}

func (e *consumerEntry) markClosed() bool {
	return e.state.CompareAndSwap(int32(entryLive), int32(entryClosed))
}
