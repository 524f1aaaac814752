package http

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/voiceplay/internal/app/orch"
	"github.com/dkeye/voiceplay/internal/domain"
	"github.com/dkeye/voiceplay/internal/media"
)

// Player is what the control API drives.
type Player interface {
	Play(ctx context.Context, room domain.RoomID, item *domain.MediaItem) (int, error)
	Pause(ctx context.Context, room domain.RoomID) error
	Resume(ctx context.Context, room domain.RoomID) error
	Stop(ctx context.Context, room domain.RoomID) error
	Skip(ctx context.Context, room domain.RoomID) error
	Seek(ctx context.Context, room domain.RoomID, seconds int) error
	Replay(ctx context.Context, room domain.RoomID) error
	Room(room domain.RoomID) (orch.RoomView, error)
	Rooms() []domain.Room
	Ping() float64
}

type Subscriber interface {
	Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, room domain.RoomID) error
}

// Catalog resolves free text and playlist links into items.
type Catalog interface {
	Search(ctx context.Context, query string, kind domain.Kind) (domain.MediaItem, error)
	Playlist(ctx context.Context, listID string, limit int, kind domain.Kind) ([]domain.MediaItem, error)
}

// PlayRequest.Media is a video link or id, a playlist link, or search
// text when a catalog is configured.
type PlayRequest struct {
	Media         string `json:"media" binding:"required,max=512"`
	Title         string `json:"title" binding:"max=256"`
	Duration      int    `json:"duration" binding:"min=0"`
	Video         bool   `json:"video"`
	RequesterID   string `json:"requester_id"`
	RequesterName string `json:"requester_name" binding:"required"`
}

type SeekRequest struct {
	Seconds int `json:"seconds" binding:"min=0"`
}

type Handlers struct {
	player        Player
	hub           Subscriber
	limiter       *RequesterRateLimiter
	catalog       Catalog
	playlistLimit int
}

func NewHandlers(player Player, hub Subscriber, limiter *RequesterRateLimiter, catalog Catalog, playlistLimit int) *Handlers {
	return &Handlers{player: player, hub: hub, limiter: limiter, catalog: catalog, playlistLimit: playlistLimit}
}

func roomOf(c *gin.Context) domain.RoomID {
	return domain.RoomID(c.Param("room"))
}

func (h *Handlers) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"latency_ms": h.player.Ping()})
}

func (h *Handlers) rooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.player.Rooms()})
}

func (h *Handlers) queue(c *gin.Context) {
	v, err := h.player.Room(roomOf(c))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handlers) play(c *gin.Context) {
	var req PlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	requester, err := domain.NewRequester(req.RequesterID, req.RequesterName)
	if err != nil {
		abort(c, err)
		return
	}
	if h.limiter != nil && !h.limiter.Allow(requester.ID) {
		abort(c, errRateLimited)
		return
	}

	ctx := c.Request.Context()
	items, err := h.lookup(ctx, req)
	if err == nil && len(items) == 0 {
		err = media.ErrNoResults
	}
	if err != nil {
		abort(c, err)
		return
	}

	first := -1
	queued := make([]*domain.MediaItem, 0, len(items))
	for i := range items {
		item := &items[i]
		item.Requester = requester
		pos, err := h.player.Play(ctx, roomOf(c), item)
		if err != nil {
			if len(queued) == 0 {
				abort(c, err)
				return
			}
			// the rest of a playlist is dropped; what got queued stays
			_ = c.Error(err)
			break
		}
		if first < 0 {
			first = pos
		}
		queued = append(queued, item)
	}

	status := http.StatusOK
	if first > 0 {
		status = http.StatusAccepted
	}
	resp := gin.H{"position": first, "item": queued[0]}
	if len(items) > 1 {
		resp["items"] = queued
	}
	c.JSON(status, resp)
}

// lookup turns the request into the items to queue.
func (h *Handlers) lookup(ctx context.Context, req PlayRequest) ([]domain.MediaItem, error) {
	kind := domain.KindOf(req.Video)
	text := strings.TrimSpace(req.Media)

	if id, err := domain.ParseMediaID(text); err == nil {
		title := req.Title
		if title == "" {
			title = id
		}
		return []domain.MediaItem{{
			ID:        id,
			Title:     title,
			Duration:  req.Duration,
			Kind:      kind,
			SourceURL: domain.WatchURL(id),
		}}, nil
	}
	if h.catalog == nil {
		return nil, domain.ErrInvalidMediaID
	}
	if list, ok := domain.ParsePlaylistID(text); ok {
		return h.catalog.Playlist(ctx, list, h.playlistLimit, kind)
	}
	if looksLikeLink(text) {
		return nil, domain.ErrInvalidMediaID
	}
	item, err := h.catalog.Search(ctx, text, kind)
	if err != nil {
		return nil, err
	}
	return []domain.MediaItem{item}, nil
}

func looksLikeLink(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (h *Handlers) control(op func(ctx context.Context, room domain.RoomID) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := op(c.Request.Context(), roomOf(c)); err != nil {
			abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (h *Handlers) seek(c *gin.Context) {
	var req SeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.player.Seek(c.Request.Context(), roomOf(c), req.Seconds); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) subscribe(c *gin.Context) {
	if err := h.hub.Serve(c.Request.Context(), c.Writer, c.Request, roomOf(c)); err != nil {
		_ = c.Error(err)
	}
}
