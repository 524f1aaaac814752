package orch

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceplay/internal/app"
	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
)

type Deps struct {
	Assistants core.TransportProvider
	Clients    app.ClientSet
	Resolver   core.Resolver
	Store      core.StateStore
	Observer   core.Observer
	Policy     app.Policy
	Recorder   core.Recorder
	Active     interface{ Set(float64) }
}

// Orchestrator is the entry point for everything that drives playback:
// API commands and engine events.
type Orchestrator struct {
	Registry   *app.Registry
	Assistants core.TransportProvider
	Resolver   core.Resolver
	Store      core.StateStore
	Observer   core.Observer
	Policy     app.Policy
	Recorder   core.Recorder
}

func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		Assistants: d.Assistants,
		Resolver:   d.Resolver,
		Store:      d.Store,
		Observer:   d.Observer,
		Policy:     d.Policy,
		Recorder:   d.Recorder,
	}
	if o.Policy == nil {
		o.Policy = app.SimplePolicy{}
	}
	o.Registry = app.NewRegistry(o.newSession, d.Clients, d.Active)
	return o
}

func (o *Orchestrator) newSession(ctx context.Context, room domain.RoomID, onClose func(*core.CallSession)) (*core.CallSession, error) {
	t, err := o.Assistants.Get(ctx, room)
	if err != nil {
		return nil, err
	}
	return core.NewCallSession(room, core.SessionDeps{
		Transport: t,
		Resolver:  o.Resolver,
		Store:     o.Store,
		Observer:  o.Observer,
		Policy:    o.Policy,
		Recorder:  o.Recorder,
	}, onClose), nil
}

// BindEvents routes engine events to the owning session. Events for rooms
// without a session are dropped.
func (o *Orchestrator) BindEvents(d *app.Dispatcher) {
	d.Subscribe(core.EventStreamEnded, func(ctx context.Context, ev core.Event) {
		s, ok := o.Registry.Get(ev.Room)
		if !ok {
			return
		}
		if err := s.OnStreamEnded(ctx, ev.Stream); err != nil && !errors.Is(err, core.ErrStopped) {
			log.Warn().Err(err).Str("module", "orch").Str("room", string(ev.Room)).Msg("advance after stream end")
		}
	})
	d.Subscribe(core.EventRoomStatus, func(ctx context.Context, ev core.Event) {
		if !ev.Status.Terminal() {
			return
		}
		s, ok := o.Registry.Get(ev.Room)
		if !ok {
			return
		}
		_ = s.OnRoomClosed(ctx, ev.Status)
	})
}
