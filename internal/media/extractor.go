package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
)

// Runner runs an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

const outputTemplate = "media.%(ext)s"

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Extractor is the last resort: it runs yt-dlp against the source page,
// optionally with a cookie file from the credential pool.
type Extractor struct {
	binary  string
	timeout time.Duration
	cache   *Cache
	creds   *CredentialPool
	runner  Runner
}

func NewExtractor(binary string, timeout time.Duration, cache *Cache, creds *CredentialPool, runner Runner) *Extractor {
	if runner == nil {
		runner = ExecRunner{}
	}
	if creds == nil {
		creds = NewCredentialPool()
	}
	return &Extractor{binary: binary, timeout: timeout, cache: cache, creds: creds, runner: runner}
}

func (x *Extractor) Name() string { return "extractor" }

func (x *Extractor) Acquire(ctx context.Context, req Request) (domain.PlayableReference, error) {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	work, err := os.MkdirTemp(x.cache.Dir(), ".work-*")
	if err != nil {
		return domain.PlayableReference{}, err
	}
	defer os.RemoveAll(work)

	// yt-dlp picks the extension itself, and post-processing renames the
	// download, so the result is found by looking at the work dir.
	args := []string{"--no-playlist", "--no-warnings", "--quiet", "-o", filepath.Join(work, outputTemplate)}
	if req.Kind == domain.KindVideo {
		args = append(args, "-f", "best[height<=?720][ext=mp4]/best[ext=mp4]/best", "--merge-output-format", "mp4")
	} else {
		args = append(args, "-f", "bestaudio/best", "-x", "--audio-format", "mp3")
	}
	cookie, withCookie := x.creds.Pick()
	if withCookie {
		args = append(args, "--cookies", cookie)
	}
	source := req.SourceURL
	if source == "" {
		source = domain.WatchURL(req.ID)
	}
	args = append(args, source)

	output, err := x.runner.Run(ctx, x.binary, args...)
	if err != nil {
		if withCookie && ctx.Err() == nil {
			x.creds.Burn(cookie)
		}
		return domain.PlayableReference{}, fmt.Errorf("extractor: %w: %s", err, lastLine(output))
	}

	out, err := extracted(work, req.Kind)
	if err != nil {
		return domain.PlayableReference{}, err
	}
	ref, err := x.cache.Adopt(req.ID, req.Kind, out)
	if err != nil {
		return domain.PlayableReference{}, err
	}
	log.Info().Str("module", "media.extractor").Str("media_id", req.ID).Bool("cookies", withCookie).Msg("extracted")
	return ref, nil
}

// extracted returns the finished file yt-dlp left in work. Leftovers of
// an interrupted run (.part, .ytdl) never carry the target extension.
func extracted(work string, kind domain.Kind) (string, error) {
	entries, err := os.ReadDir(work)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == "."+kind.Ext() {
			return filepath.Join(work, e.Name()), nil
		}
	}
	return "", fmt.Errorf("%w: extractor left no .%s file", core.ErrCacheWriteFailed, kind.Ext())
}

func lastLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
