package engine

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
)

const (
	opPlay   = "play"
	opPause  = "pause"
	opResume = "resume"
	opLeave  = "leave"
	opPing   = "ping"

	typeReply = "reply"
)

type request struct {
	ID      string                    `json:"id"`
	Op      string                    `json:"op"`
	Room    domain.RoomID             `json:"room,omitempty"`
	Stream  *domain.PlayableReference `json:"stream,omitempty"`
	Video   bool                      `json:"video,omitempty"`
	Headers map[string]string         `json:"headers,omitempty"`
}

type replyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// inbound is every frame the engine sends: replies carry an id, events
// carry a room.
type inbound struct {
	Type   string            `json:"type"`
	ID     string            `json:"id,omitempty"`
	Error  *replyError       `json:"error,omitempty"`
	Room   domain.RoomID     `json:"room,omitempty"`
	Stream domain.Kind       `json:"stream,omitempty"`
	Status domain.RoomStatus `json:"status,omitempty"`
}

var codes = map[string]error{
	"source_not_found":      core.ErrSourceNotFound,
	"no_active_call":        core.ErrNoActiveCall,
	"no_audio_source":       core.ErrNoAudioSource,
	"connection":            core.ErrConnection,
	"streaming_unsupported": core.ErrStreamingUnsupported,
}

// err maps an engine error onto the core failure classes. Unknown codes
// stay unclassified.
func (e *replyError) err() error {
	if e == nil {
		return nil
	}
	if class, ok := codes[e.Code]; ok {
		return fmt.Errorf("%w: %s", class, e.Message)
	}
	return fmt.Errorf("engine error %s: %s", e.Code, e.Message)
}

func decode(data []byte) (inbound, error) {
	var in inbound
	err := json.Unmarshal(data, &in)
	return in, err
}
