package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceplay/internal/config"
)

func SetupRouter(cfg *config.Config, h *Handlers, gatherer prometheus.Gatherer, logger zerolog.Logger) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.GET("/ping", h.ping)
	api.GET("/rooms", h.rooms)

	room := api.Group("/rooms/:room")
	room.GET("/queue", h.queue)
	room.POST("/play", h.play)
	room.POST("/pause", h.control(h.player.Pause))
	room.POST("/resume", h.control(h.player.Resume))
	room.POST("/skip", h.control(h.player.Skip))
	room.POST("/replay", h.control(h.player.Replay))
	room.POST("/seek", h.seek)
	room.DELETE("", h.control(h.player.Stop))
	if h.hub != nil {
		room.GET("/ws", h.subscribe)
	}

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
