package orch

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
)

// Play queues item in room, creating the session when there is none. A
// session that closes between lookup and enqueue is replaced once.
func (o *Orchestrator) Play(ctx context.Context, room domain.RoomID, item *domain.MediaItem) (int, error) {
	for attempt := 0; attempt < 2; attempt++ {
		s, err := o.Registry.GetOrCreate(ctx, room)
		if err != nil {
			return 0, err
		}
		pos, err := s.Request(ctx, item)
		if errors.Is(err, core.ErrSessionClosed) {
			log.Debug().Str("module", "orch").Str("room", string(room)).Msg("session closed under request, retrying")
			continue
		}
		return pos, err
	}
	return 0, core.ErrSessionClosed
}

func (o *Orchestrator) session(room domain.RoomID) (*core.CallSession, error) {
	s, ok := o.Registry.Get(room)
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return s, nil
}

func (o *Orchestrator) Pause(ctx context.Context, room domain.RoomID) error {
	s, err := o.session(room)
	if err != nil {
		return err
	}
	return s.Pause(ctx)
}

func (o *Orchestrator) Resume(ctx context.Context, room domain.RoomID) error {
	s, err := o.session(room)
	if err != nil {
		return err
	}
	return s.Resume(ctx)
}

func (o *Orchestrator) Stop(ctx context.Context, room domain.RoomID) error {
	s, err := o.session(room)
	if err != nil {
		return err
	}
	return s.Stop(ctx)
}

func (o *Orchestrator) Skip(ctx context.Context, room domain.RoomID) error {
	s, err := o.session(room)
	if err != nil {
		return err
	}
	return s.Skip(ctx)
}

func (o *Orchestrator) Seek(ctx context.Context, room domain.RoomID, seconds int) error {
	s, err := o.session(room)
	if err != nil {
		return err
	}
	return s.Seek(ctx, seconds)
}

func (o *Orchestrator) Replay(ctx context.Context, room domain.RoomID) error {
	s, err := o.session(room)
	if err != nil {
		return err
	}
	return s.Replay(ctx)
}

// StopAll stops every session, used on shutdown.
func (o *Orchestrator) StopAll(ctx context.Context) {
	for _, s := range o.Registry.List() {
		_ = s.Stop(ctx)
	}
}
