// Package media turns media ids into something the call engine can play:
// a cached file, a remote URL or a tokened URL.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
)

// ErrMiss is returned by a strategy that has nothing for the request.
var ErrMiss = errors.New("no reference")

var errInvalidReference = errors.New("strategy returned an invalid reference")

type Request struct {
	ID        string
	SourceURL string
	Kind      domain.Kind
}

// Strategy is one way of acquiring media. Errors never leave the resolver.
type Strategy interface {
	Name() string
	Acquire(ctx context.Context, req Request) (domain.PlayableReference, error)
}

type acquisitionRecorder interface {
	Acquisition(strategy, result string, took time.Duration)
}

// CacheStrategy serves files already in the cache without any network call.
type CacheStrategy struct {
	cache *Cache
}

func NewCacheStrategy(c *Cache) CacheStrategy { return CacheStrategy{cache: c} }

func (CacheStrategy) Name() string { return "cache" }

func (s CacheStrategy) Acquire(_ context.Context, req Request) (domain.PlayableReference, error) {
	if ref, ok := s.cache.Lookup(req.ID, req.Kind); ok {
		return ref, nil
	}
	return domain.PlayableReference{}, ErrMiss
}

// Resolver tries its strategies in order; the first valid reference wins.
// Concurrent requests for the same id and kind share one acquisition.
type Resolver struct {
	cache      *Cache
	limit      int
	strategies []Strategy
	metrics    acquisitionRecorder
	group      singleflight.Group
}

func NewResolver(cache *Cache, limit int, metrics acquisitionRecorder, strategies ...Strategy) *Resolver {
	return &Resolver{cache: cache, limit: limit, metrics: metrics, strategies: strategies}
}

func (r *Resolver) Resolve(ctx context.Context, item *domain.MediaItem, video bool) (domain.PlayableReference, error) {
	if item.Ref != nil && item.Ref.Valid() {
		return item.Ref.WithOffset(item.SeekOffset), nil
	}

	req := Request{ID: item.ID, SourceURL: item.SourceURL, Kind: domain.KindOf(video)}
	// The shared acquisition outlives any single caller; a caller that
	// gives up only stops waiting.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(item.ID+"/"+string(req.Kind), func() (any, error) {
		return r.acquire(shared, req)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.PlayableReference{}, res.Err
		}
		return res.Val.(domain.PlayableReference).WithOffset(item.SeekOffset), nil
	case <-ctx.Done():
		return domain.PlayableReference{}, ctx.Err()
	}
}

func (r *Resolver) acquire(ctx context.Context, req Request) (domain.PlayableReference, error) {
	release := r.cache.Reserve(req.ID, req.Kind)
	defer release()
	r.cache.EvictOldestBeyond(r.limit)

	for _, s := range r.strategies {
		start := time.Now()
		ref, err := s.Acquire(ctx, req)
		if err == nil && !ref.Valid() {
			err = errInvalidReference
		}
		took := time.Since(start)
		if err != nil {
			result := "error"
			if errors.Is(err, ErrMiss) {
				result = "miss"
			}
			r.record(s.Name(), result, took)
			log.Debug().Err(err).Str("module", "media.resolver").Str("strategy", s.Name()).
				Str("media_id", req.ID).Dur("took", took).Msg("strategy produced nothing")
			continue
		}
		r.record(s.Name(), "hit", took)
		log.Info().Str("module", "media.resolver").Str("strategy", s.Name()).Str("media_id", req.ID).
			Str("ref", ref.Kind.String()).Dur("took", took).Msg("acquired")
		return ref, nil
	}
	log.Warn().Str("module", "media.resolver").Str("media_id", req.ID).Msg("all strategies failed")
	return domain.PlayableReference{}, fmt.Errorf("%w: %s", core.ErrAcquisitionFailed, req.ID)
}

func (r *Resolver) record(strategy, result string, took time.Duration) {
	if r.metrics != nil {
		r.metrics.Acquisition(strategy, result, took)
	}
}
