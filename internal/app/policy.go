package app

import (
	"errors"

	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropNotice
	DisconnectSubscriber
)

type Policy interface {
	core.Policy
	OnBackPressure(room domain.RoomID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnTransportFailure(_ domain.RoomID, err error) core.RecoveryAction {
	switch {
	case errors.Is(err, core.ErrSourceNotFound), errors.Is(err, core.ErrNoAudioSource):
		return core.RecoverAdvance
	case errors.Is(err, core.ErrNoActiveCall),
		errors.Is(err, core.ErrConnection),
		errors.Is(err, core.ErrStreamingUnsupported):
		return core.RecoverStop
	}
	return core.Propagate
}

// A subscriber that cannot keep up with notices is cut off; it can
// reconnect and will see the next one.
func (SimplePolicy) OnBackPressure(domain.RoomID) BackpressureAction {
	return DisconnectSubscriber
}
