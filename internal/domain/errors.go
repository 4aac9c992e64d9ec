package domain

import "errors"

var (
	ErrPeerNotInitialized = errors.New("peer is not initialized: start or join streaming before pasting the signal data")
	ErrPeerActive         = errors.New("peer is already active")
	ErrPeerClosed         = errors.New("peer is closed")
	ErrBadSignal          = errors.New("failed to parse signal data")
	ErrUnknownDevice      = errors.New("unknown audio input device")
	ErrNoCapture          = errors.New("no audio captured")
	ErrClosed             = errors.New("session closed")
)
