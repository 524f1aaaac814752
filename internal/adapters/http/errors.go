package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
	"github.com/dkeye/voiceplay/internal/media"
)

var errRateLimited = errors.New("too many requests")

func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, media.ErrNoResults):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidState),
		errors.Is(err, core.ErrStopped),
		errors.Is(err, core.ErrSessionClosed),
		errors.Is(err, core.ErrQueueEmpty):
		return http.StatusConflict
	case errors.Is(err, core.ErrAcquisitionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrSeekOutOfRange),
		errors.Is(err, domain.ErrInvalidMediaID),
		errors.Is(err, domain.ErrRequesterNameEmpty),
		errors.Is(err, domain.ErrRequesterNameTooLong),
		errors.Is(err, domain.ErrRequesterIDTooLong):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrSourceNotFound),
		errors.Is(err, core.ErrNoActiveCall),
		errors.Is(err, core.ErrNoAudioSource),
		errors.Is(err, core.ErrConnection),
		errors.Is(err, core.ErrStreamingUnsupported):
		return http.StatusBadGateway
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusOf(err), gin.H{"error": err.Error()})
}
