package core

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceplay/internal/domain"
)

type NoticeKind string

const (
	NoticeQueued     NoticeKind = "queued"
	NoticeNowPlaying NoticeKind = "now_playing"
	NoticeRetired    NoticeKind = "retired"
	NoticeSkipped    NoticeKind = "skipped"
	NoticeFailed     NoticeKind = "failed"
	NoticeNoPlayable NoticeKind = "no_playable_media"
	NoticePaused     NoticeKind = "paused"
	NoticeResumed    NoticeKind = "resumed"
	NoticeStopped    NoticeKind = "stopped"
	NoticeSeeked     NoticeKind = "seeked"
)

// Notice is user facing feedback about a room.
type Notice struct {
	Kind     NoticeKind
	Room     domain.RoomID
	Item     *domain.MediaItem
	Handle   string
	Position int
	Err      error
}

// Observer delivers notices. For NoticeNowPlaying it returns a handle that
// later notices (NoticeRetired) refer to; other kinds may return "".
type Observer interface {
	Notify(ctx context.Context, n Notice) string
}

type LogObserver struct{}

func (LogObserver) Notify(_ context.Context, n Notice) string {
	evt := log.Info()
	if n.Err != nil {
		evt = log.Warn().Err(n.Err)
	}
	evt = evt.Str("module", "core.notice").Str("room", string(n.Room)).Str("kind", string(n.Kind))
	if n.Item != nil {
		evt = evt.Str("media_id", n.Item.ID).Str("title", n.Item.Title)
	}
	evt.Msg("notice")
	return ""
}

// Observers fans a notice out; the first non-empty handle wins.
type Observers []Observer

func (o Observers) Notify(ctx context.Context, n Notice) string {
	var handle string
	for _, obs := range o {
		if h := obs.Notify(ctx, n); h != "" && handle == "" {
			handle = h
		}
	}
	return handle
}
