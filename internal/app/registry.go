package app

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
)

// NoLatency is what AverageLatency reports when no client is bound.
const NoLatency = -1.0

// SessionFactory builds a session for room. onClose must be handed to the
// session so it leaves the registry when it stops.
type SessionFactory func(ctx context.Context, room domain.RoomID, onClose func(*core.CallSession)) (*core.CallSession, error)

type ClientSet interface {
	Clients() []core.Transport
}

type gauge interface {
	Set(float64)
}

// Registry is the only place sessions are created. Creation for one room
// is collapsed into a single call; other rooms never wait on it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.RoomID]*core.CallSession
	create   singleflight.Group

	factory SessionFactory
	clients ClientSet
	active  gauge
}

func NewRegistry(factory SessionFactory, clients ClientSet, active gauge) *Registry {
	return &Registry{
		sessions: make(map[domain.RoomID]*core.CallSession),
		factory:  factory,
		clients:  clients,
		active:   active,
	}
}

func (r *Registry) GetOrCreate(ctx context.Context, room domain.RoomID) (*core.CallSession, error) {
	if s, ok := r.Get(room); ok {
		return s, nil
	}
	v, err, _ := r.create.Do(string(room), func() (any, error) {
		if s, ok := r.Get(room); ok {
			return s, nil
		}
		s, err := r.factory(context.WithoutCancel(ctx), room, func(s *core.CallSession) { r.Remove(room, s) })
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.sessions[room] = s
		n := len(r.sessions)
		r.mu.Unlock()
		r.report(n)
		log.Info().Str("module", "app.registry").Str("room", string(room)).Msg("created session")
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.CallSession), nil
}

// Get returns the live session of room.
func (r *Registry) Get(room domain.RoomID) (*core.CallSession, bool) {
	r.mu.RLock()
	s, ok := r.sessions[room]
	r.mu.RUnlock()
	if !ok || s.Closed() {
		return nil, false
	}
	return s, true
}

// Remove drops room only while it still maps to s, so a stale close
// cannot evict a newer session.
func (r *Registry) Remove(room domain.RoomID, s *core.CallSession) {
	r.mu.Lock()
	cur, ok := r.sessions[room]
	if !ok || cur != s {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, room)
	n := len(r.sessions)
	r.mu.Unlock()
	r.report(n)
	log.Info().Str("module", "app.registry").Str("room", string(room)).Msg("removed session")
}

func (r *Registry) List() []*core.CallSession {
	r.mu.RLock()
	out := make([]*core.CallSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		if !s.Closed() {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Room() < out[j].Room() })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// AverageLatency averages the last ping of every client, in milliseconds
// rounded to two decimals.
func (r *Registry) AverageLatency() float64 {
	if r.clients == nil {
		return NoLatency
	}
	clients := r.clients.Clients()
	if len(clients) == 0 {
		return NoLatency
	}
	var sum float64
	for _, c := range clients {
		sum += c.Ping()
	}
	return math.Round(sum/float64(len(clients))*100) / 100
}

func (r *Registry) report(n int) {
	if r.active != nil {
		r.active.Set(float64(n))
	}
}
