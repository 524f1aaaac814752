package orch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
)

type RoomView struct {
	Room    domain.RoomID      `json:"room"`
	State   string             `json:"state"`
	Paused  bool               `json:"paused"`
	Current *domain.MediaItem  `json:"current,omitempty"`
	Queue   []domain.MediaItem `json:"queue"`
}

func (o *Orchestrator) Room(room domain.RoomID) (RoomView, error) {
	s, err := o.session(room)
	if err != nil {
		return RoomView{}, err
	}
	q := s.Queue()
	v := RoomView{Room: room, State: s.State(), Paused: s.Paused(), Queue: q}
	if len(q) > 0 && v.State != core.StateIdle {
		v.Current = &q[0]
	}
	return v, nil
}

func (o *Orchestrator) Rooms() []domain.Room {
	sessions := o.Registry.List()
	out := make([]domain.Room, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, domain.Room{ID: s.Room(), Status: s.State(), Queued: len(s.Queue())})
	}
	return out
}

// Ping is the average engine latency in milliseconds, or app.NoLatency.
func (o *Orchestrator) Ping() float64 {
	return o.Registry.AverageLatency()
}

// Reconcile leaves calls that the store remembers but no session owns,
// e.g. after a crash.
func (o *Orchestrator) Reconcile(ctx context.Context) {
	rooms, err := o.Store.ActiveCalls(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("list active calls")
		return
	}
	for _, room := range rooms {
		if _, ok := o.Registry.Get(room); ok {
			continue
		}
		if t, err := o.Assistants.Get(ctx, room); err == nil {
			lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := t.Leave(lctx, room); err != nil {
				log.Debug().Err(err).Str("module", "orch").Str("room", string(room)).Msg("leave stale call")
			}
			cancel()
		}
		if err := o.Store.ForgetCall(ctx, room); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("room", string(room)).Msg("forget stale call")
			continue
		}
		log.Info().Str("module", "orch").Str("room", string(room)).Msg("cleared stale call")
	}
}
