package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Endpoint is the acquisition service base URL. It starts at a built-in
// default and may be repointed once at boot by Discover.
type Endpoint struct {
	base atomic.Pointer[string]
}

func NewEndpoint(def string) *Endpoint {
	e := &Endpoint{}
	def = strings.TrimRight(def, "/")
	e.base.Store(&def)
	return e
}

func (e *Endpoint) Base() string {
	return *e.base.Load()
}

func (e *Endpoint) Set(raw string) error {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("not an absolute http url: %q", raw)
	}
	e.base.Store(&raw)
	return nil
}

// Discover fetches a plaintext override from discoveryURL. On any failure
// the current base stays in effect.
func (e *Endpoint) Discover(ctx context.Context, client *http.Client, discoveryURL string, timeout time.Duration) error {
	if discoveryURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discovery: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if err := e.Set(string(body)); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	log.Info().Str("module", "media.endpoint").Str("base", e.Base()).Msg("acquisition endpoint discovered")
	return nil
}
