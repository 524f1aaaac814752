package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
)

var ErrNoAssistants = errors.New("no assistants configured")

// AssistantPool assigns each room one of the engine clients and remembers
// the choice in the store so a room keeps its assistant across restarts.
type AssistantPool struct {
	store   core.StateStore
	clients []core.Transport

	mu   sync.Mutex
	next int
}

func NewAssistantPool(store core.StateStore, clients ...core.Transport) *AssistantPool {
	return &AssistantPool{store: store, clients: clients}
}

func (p *AssistantPool) Get(ctx context.Context, room domain.RoomID) (core.Transport, error) {
	if len(p.clients) == 0 {
		return nil, ErrNoAssistants
	}
	idx, ok, err := p.store.Assistant(ctx, room)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.assistants").Str("room", string(room)).Msg("load assistant")
	}
	if ok && idx >= 0 && idx < len(p.clients) {
		return p.clients[idx], nil
	}

	p.mu.Lock()
	idx = p.next % len(p.clients)
	p.next++
	p.mu.Unlock()

	if err := p.store.SetAssistant(ctx, room, idx); err != nil {
		log.Warn().Err(err).Str("module", "app.assistants").Str("room", string(room)).Msg("save assistant")
	}
	log.Debug().Str("module", "app.assistants").Str("room", string(room)).Int("assistant", idx).Msg("assigned")
	return p.clients[idx], nil
}

func (p *AssistantPool) Clients() []core.Transport {
	return p.clients
}
