package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceplay/internal/domain"
)

var ErrNoResults = errors.New("no results")

// Catalog turns free text and playlist links into media items using the
// extractor's flat listing mode. Nothing is downloaded here.
type Catalog struct {
	binary  string
	timeout time.Duration
	runner  Runner
}

func NewCatalog(binary string, timeout time.Duration, runner Runner) *Catalog {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Catalog{binary: binary, timeout: timeout, runner: runner}
}

type listing struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Duration *float64 `json:"duration"`
	LiveNow  bool     `json:"is_live"`
}

// Search returns the top video for query.
func (c *Catalog) Search(ctx context.Context, query string, kind domain.Kind) (domain.MediaItem, error) {
	items, err := c.list(ctx, "ytsearch5:"+query, 0, kind)
	if err != nil {
		return domain.MediaItem{}, err
	}
	if len(items) == 0 {
		return domain.MediaItem{}, fmt.Errorf("%w: %q", ErrNoResults, query)
	}
	return items[0], nil
}

// Playlist returns up to limit entries of a playlist, in order.
func (c *Catalog) Playlist(ctx context.Context, listID string, limit int, kind domain.Kind) ([]domain.MediaItem, error) {
	items, err := c.list(ctx, domain.PlaylistURL(listID), limit, kind)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: playlist %s", ErrNoResults, listID)
	}
	return items, nil
}

func (c *Catalog) list(ctx context.Context, target string, limit int, kind domain.Kind) ([]domain.MediaItem, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{"--flat-playlist", "--dump-json", "--no-warnings", "--skip-download"}
	if limit > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(limit))
	}
	args = append(args, target)

	out, err := c.runner.Run(ctx, c.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w: %s", err, lastLine(out))
	}

	var items []domain.MediaItem
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var l listing
		if err := json.Unmarshal(line, &l); err != nil {
			log.Debug().Err(err).Str("module", "media.catalog").Msg("skip bad entry")
			continue
		}
		// live streams never end, which would wedge the queue
		if l.LiveNow || !isMediaID(l.ID) {
			continue
		}
		item := domain.MediaItem{
			ID:        l.ID,
			Title:     l.Title,
			Kind:      kind,
			SourceURL: domain.WatchURL(l.ID),
		}
		if l.Duration != nil {
			item.Duration = int(math.Round(*l.Duration))
		}
		items = append(items, item)
		if limit > 0 && len(items) == limit {
			break
		}
	}
	return items, sc.Err()
}

func isMediaID(id string) bool {
	got, err := domain.ParseMediaID(id)
	return err == nil && got == id
}
