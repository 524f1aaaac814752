package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceplay/internal/domain"
)

var ErrNoToken = errors.New("acquisition service returned no token")

const (
	ModeDownload = "download"
	ModeStream   = "stream"
)

type BypassOptions struct {
	// Mode download persists the stream into the cache; stream hands the
	// tokened URL straight to the transport.
	Mode            string
	QueryTimeout    time.Duration
	TransferTimeout time.Duration
}

// BypassSource talks to one acquisition service:
//
//	GET {base}/download?url=<id>&type=<audio|video>  -> {"download_token": "..."}
//	GET {base}/stream/<id>?type=<audio|video>        (X-Download-Token header)
type BypassSource struct {
	name   string
	base   func() string
	client *http.Client
	cache  *Cache
	opts   BypassOptions
}

// NewPrimarySource follows the discovered endpoint.
func NewPrimarySource(ep *Endpoint, cache *Cache, client *http.Client, opts BypassOptions) *BypassSource {
	return &BypassSource{name: "bypass", base: ep.Base, client: client, cache: cache, opts: opts}
}

func NewMirrorSource(base string, cache *Cache, client *http.Client, opts BypassOptions) *BypassSource {
	base = strings.TrimRight(base, "/")
	return &BypassSource{name: "mirror", base: func() string { return base }, client: client, cache: cache, opts: opts}
}

func (s *BypassSource) Name() string { return s.name }

type queryResponse struct {
	DownloadToken string `json:"download_token"`
	URL           string `json:"url"`
}

func (s *BypassSource) Acquire(ctx context.Context, req Request) (domain.PlayableReference, error) {
	base := s.base()
	info, err := s.query(ctx, base, req)
	if err != nil {
		return domain.PlayableReference{}, err
	}
	if info.DownloadToken == "" {
		ref := domain.RemoteURL(info.URL, req.Kind)
		if !ref.Valid() {
			return domain.PlayableReference{}, ErrNoToken
		}
		return ref, nil
	}

	streamURL := fmt.Sprintf("%s/stream/%s?type=%s", base, url.PathEscape(req.ID), req.Kind)
	if s.opts.Mode == ModeStream {
		return domain.RemoteURLWithToken(streamURL, info.DownloadToken, req.Kind), nil
	}
	return s.download(ctx, streamURL, info.DownloadToken, req)
}

func (s *BypassSource) query(ctx context.Context, base string, req Request) (queryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	q := url.Values{"url": {req.ID}, "type": {string(req.Kind)}}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/download?"+q.Encode(), nil)
	if err != nil {
		return queryResponse{}, err
	}
	resp, err := s.client.Do(hreq)
	if err != nil {
		return queryResponse{}, fmt.Errorf("%s query: %w", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return queryResponse{}, fmt.Errorf("%s query: status %d", s.name, resp.StatusCode)
	}
	var out queryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return queryResponse{}, fmt.Errorf("%s query: %w", s.name, err)
	}
	if out.DownloadToken == "" && out.URL == "" {
		return queryResponse{}, ErrNoToken
	}
	return out, nil
}

func (s *BypassSource) download(ctx context.Context, streamURL, token string, req Request) (domain.PlayableReference, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.TransferTimeout)
	defer cancel()

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return domain.PlayableReference{}, err
	}
	hreq.Header.Set(domain.HeaderDownloadToken, token)
	resp, err := s.client.Do(hreq)
	if err != nil {
		return domain.PlayableReference{}, fmt.Errorf("%s stream: %w", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.PlayableReference{}, fmt.Errorf("%s stream: status %d", s.name, resp.StatusCode)
	}
	ref, err := s.cache.Store(req.ID, req.Kind, resp.Body)
	if err != nil {
		return domain.PlayableReference{}, err
	}
	log.Info().Str("module", "media.bypass").Str("source", s.name).Str("media_id", req.ID).Msg("downloaded")
	return ref, nil
}

// MirrorSet tries fixed alternate services in order.
type MirrorSet struct {
	sources []*BypassSource
}

func NewMirrorSet(bases []string, cache *Cache, client *http.Client, opts BypassOptions) *MirrorSet {
	m := &MirrorSet{}
	for _, b := range bases {
		m.sources = append(m.sources, NewMirrorSource(b, cache, client, opts))
	}
	return m
}

func (m *MirrorSet) Name() string { return "mirrors" }

func (m *MirrorSet) Acquire(ctx context.Context, req Request) (domain.PlayableReference, error) {
	if len(m.sources) == 0 {
		return domain.PlayableReference{}, ErrMiss
	}
	var errs []error
	for _, src := range m.sources {
		ref, err := src.Acquire(ctx, req)
		if err == nil {
			return ref, nil
		}
		log.Debug().Err(err).Str("module", "media.bypass").Str("mirror", src.base()).Str("media_id", req.ID).Msg("mirror failed")
		errs = append(errs, err)
	}
	return domain.PlayableReference{}, errors.Join(errs...)
}
