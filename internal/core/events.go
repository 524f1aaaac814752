package core

import (
	"context"

	"github.com/dkeye/voiceplay/internal/domain"
)

type EventKind string

const (
	EventStreamEnded EventKind = "stream_ended"
	EventRoomStatus  EventKind = "room_status"
)

// Event is something the call engine tells us about a room.
type Event struct {
	Kind   EventKind         `json:"type"`
	Room   domain.RoomID     `json:"room"`
	Stream domain.Kind       `json:"stream,omitempty"`
	Status domain.RoomStatus `json:"status,omitempty"`
}

type EventSink interface {
	Dispatch(ctx context.Context, ev Event)
}

type EventHandler func(ctx context.Context, ev Event)
