package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceplay/internal/app"
	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
)

type BackpressurePolicy interface {
	OnBackPressure(room domain.RoomID) app.BackpressureAction
}

type message struct {
	Type     core.NoticeKind   `json:"type"`
	Room     domain.RoomID     `json:"room"`
	Handle   string            `json:"handle,omitempty"`
	Position int               `json:"position,omitempty"`
	Item     *domain.MediaItem `json:"item,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Hub fans notices out to the WebSocket subscribers of each room.
type Hub struct {
	policy   BackpressurePolicy
	upgrader websocket.Upgrader
	buffer   int

	mu    sync.RWMutex
	rooms map[domain.RoomID]map[*subscriber]struct{}
}

var _ core.Observer = (*Hub)(nil)

func NewHub(policy BackpressurePolicy) *Hub {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &Hub{
		policy: policy,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		buffer: 32,
		rooms:  make(map[domain.RoomID]map[*subscriber]struct{}),
	}
}

// Notify delivers n to every subscriber of its room. NowPlaying notices get
// a fresh handle, which is returned.
func (h *Hub) Notify(_ context.Context, n core.Notice) string {
	msg := message{Type: n.Kind, Room: n.Room, Handle: n.Handle, Position: n.Position, Item: n.Item}
	if n.Kind == core.NoticeNowPlaying {
		msg.Handle = uuid.NewString()
	}
	if n.Err != nil {
		msg.Error = n.Err.Error()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "notify").Msg("marshal notice")
		return msg.Handle
	}

	for _, sub := range h.subscribers(n.Room) {
		err := sub.TrySend(data)
		switch {
		case err == nil:
		case errors.Is(err, ErrBackpressure):
			switch h.policy.OnBackPressure(n.Room) {
			case app.DisconnectSubscriber:
				log.Warn().Str("module", "notify").Str("room", string(n.Room)).Msg("slow subscriber dropped")
				h.remove(sub)
			case app.DropNotice:
				log.Debug().Str("module", "notify").Str("room", string(n.Room)).Msg("notice dropped")
			}
		default:
			h.remove(sub)
		}
	}
	return msg.Handle
}

// Serve upgrades the request and subscribes it to room until either side
// goes away.
func (h *Hub) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, room domain.RoomID) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	sub := &subscriber{room: room, conn: ws, send: make(chan []byte, h.buffer)}
	h.add(sub)
	log.Info().Str("module", "notify").Str("room", string(room)).Msg("subscriber joined")

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go sub.writePump(ctx)
	go sub.readPump(func() {
		cancel()
		h.remove(sub)
	})
	return nil
}

func (h *Hub) Subscribers(room domain.RoomID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[sub.room]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.rooms[sub.room] = subs
	}
	subs[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if subs, ok := h.rooms[sub.room]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.rooms, sub.room)
		}
	}
	h.mu.Unlock()
	sub.Close()
}

func (h *Hub) subscribers(room domain.RoomID) []*subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*subscriber, 0, len(h.rooms[room]))
	for s := range h.rooms[room] {
		out = append(out, s)
	}
	return out
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[domain.RoomID]map[*subscriber]struct{})
	h.mu.Unlock()
	for _, subs := range rooms {
		for s := range subs {
			s.Close()
		}
	}
}
