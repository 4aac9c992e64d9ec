package app

import "github.com/dkeye/audiostream/internal/core"

type BackpressureAction int

const (
	DropNotification BackpressureAction = iota
	EvictSubscriber
)

// Policy decides what happens to a subscriber that cannot keep up.
type Policy interface {
	OnBackPressure(subscriber string, n core.Notification) BackpressureAction
}

// SimplePolicy evicts slow subscribers so they notice they missed signaling
// payloads instead of silently losing them.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(string, core.Notification) BackpressureAction {
	return EvictSubscriber
}
