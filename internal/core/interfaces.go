package core

import (
	"context"

	"github.com/dkeye/voiceplay/internal/domain"
)

type PlayOptions struct {
	Video bool
}

// Transport is the voice call engine bound to a room while it plays.
// Failures are reported by wrapping one of the transport failure classes.
type Transport interface {
	Play(ctx context.Context, room domain.RoomID, ref domain.PlayableReference, opts PlayOptions) error
	Pause(ctx context.Context, room domain.RoomID) error
	Resume(ctx context.Context, room domain.RoomID) error
	Leave(ctx context.Context, room domain.RoomID) error
	// Ping returns the last measured round trip in milliseconds.
	Ping() float64
}

// TransportProvider hands out the transport client assigned to a room.
type TransportProvider interface {
	Get(ctx context.Context, room domain.RoomID) (Transport, error)
}

type Resolver interface {
	Resolve(ctx context.Context, item *domain.MediaItem, video bool) (domain.PlayableReference, error)
}

// StateStore persists what other processes or a restart need to know
// about calls in progress.
type StateStore interface {
	Assistant(ctx context.Context, room domain.RoomID) (int, bool, error)
	SetAssistant(ctx context.Context, room domain.RoomID, idx int) error
	MarkPlaying(ctx context.Context, room domain.RoomID, paused bool) error
	RecordActiveCall(ctx context.Context, room domain.RoomID) error
	ForgetCall(ctx context.Context, room domain.RoomID) error
	ActiveCalls(ctx context.Context) ([]domain.RoomID, error)
	Close() error
}

type RecoveryAction int

const (
	Propagate RecoveryAction = iota
	RecoverAdvance
	RecoverStop
)

func (a RecoveryAction) String() string {
	switch a {
	case RecoverAdvance:
		return "advance"
	case RecoverStop:
		return "stop"
	}
	return "propagate"
}

type Policy interface {
	OnTransportFailure(room domain.RoomID, err error) RecoveryAction
}

// Recorder receives session metrics. A nil Recorder is allowed.
type Recorder interface {
	SessionTransition(from, to string)
	TransportFailure(action string)
}
