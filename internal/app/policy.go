package app

import "github.com/dkeye/voiceclient/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MuteOutput
	RemoveOutput
)

// Policy decides what a relay does with an output whose write failed.
type Policy interface {
	OnWriteError(key core.ConsumerKey, output string, err error) BackpressureAction
}

// SimplePolicy removes any output that fails.
type SimplePolicy struct{}

func (SimplePolicy) OnWriteError(core.ConsumerKey, string, error) BackpressureAction {
	return RemoveOutput
}
