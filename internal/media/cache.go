package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
)

var (
	ErrEvictionFailed = errors.New("eviction failed")
	ErrBadMediaID     = errors.New("media id not usable as a file name")
)

const tempPrefix = ".tmp-"

type evictRecorder interface {
	Evicted(n int)
}

// Cache stores downloaded media as <dir>/<id>.<mp3|mp4>. Files at or
// below minSize are treated as truncated and never served.
type Cache struct {
	dir     string
	minSize int64
	metrics evictRecorder

	mu       sync.Mutex
	reserved map[string]int
}

func NewCache(dir string, minSize int64, metrics evictRecorder) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	return &Cache{
		dir:      abs,
		minSize:  minSize,
		metrics:  metrics,
		reserved: make(map[string]int),
	}, nil
}

func (c *Cache) Dir() string { return c.dir }

func (c *Cache) fileName(id string, kind domain.Kind) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", ErrBadMediaID
	}
	return id + "." + kind.Ext(), nil
}

// Lookup returns the cached file for id. Undersized files are deleted.
func (c *Cache) Lookup(id string, kind domain.Kind) (domain.PlayableReference, bool) {
	name, err := c.fileName(id, kind)
	if err != nil {
		return domain.PlayableReference{}, false
	}
	path := filepath.Join(c.dir, name)
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		return domain.PlayableReference{}, false
	}
	if st.Size() <= c.minSize {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("module", "media.cache").Str("file", name).Msg("remove undersized file")
		} else {
			log.Info().Str("module", "media.cache").Str("file", name).Int64("size", st.Size()).Msg("dropped undersized file")
		}
		return domain.PlayableReference{}, false
	}
	return domain.LocalFile(path, kind), true
}

// Store writes r to a temp file and renames it into place, so a partial
// download is never visible as a hit.
func (c *Cache) Store(id string, kind domain.Kind, r io.Reader) (domain.PlayableReference, error) {
	name, err := c.fileName(id, kind)
	if err != nil {
		return domain.PlayableReference{}, err
	}
	tmp, err := os.CreateTemp(c.dir, tempPrefix+"*")
	if err != nil {
		return domain.PlayableReference{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return domain.PlayableReference{}, fmt.Errorf("%w: %s: %v", core.ErrCacheWriteFailed, id, err)
	}
	if n <= c.minSize {
		return domain.PlayableReference{}, fmt.Errorf("%w: %s: %d bytes", core.ErrCacheWriteFailed, id, n)
	}

	path := filepath.Join(c.dir, name)
	if err := os.Rename(tmpPath, path); err != nil {
		return domain.PlayableReference{}, fmt.Errorf("%w: %s: %v", core.ErrCacheWriteFailed, id, err)
	}
	success = true
	log.Debug().Str("module", "media.cache").Str("file", name).Int64("size", n).Msg("stored")
	return domain.LocalFile(path, kind), nil
}

// Adopt moves a finished file produced elsewhere (same filesystem) into
// the cache.
func (c *Cache) Adopt(id string, kind domain.Kind, src string) (domain.PlayableReference, error) {
	name, err := c.fileName(id, kind)
	if err != nil {
		return domain.PlayableReference{}, err
	}
	st, err := os.Stat(src)
	if err != nil {
		return domain.PlayableReference{}, fmt.Errorf("%w: %s: %v", core.ErrCacheWriteFailed, id, err)
	}
	if st.Size() <= c.minSize {
		os.Remove(src)
		return domain.PlayableReference{}, fmt.Errorf("%w: %s: %d bytes", core.ErrCacheWriteFailed, id, st.Size())
	}
	path := filepath.Join(c.dir, name)
	if err := os.Rename(src, path); err != nil {
		return domain.PlayableReference{}, fmt.Errorf("%w: %s: %v", core.ErrCacheWriteFailed, id, err)
	}
	return domain.LocalFile(path, kind), nil
}

// Reserve protects the target of an in-flight acquisition from eviction
// until release is called.
func (c *Cache) Reserve(id string, kind domain.Kind) (release func()) {
	name, err := c.fileName(id, kind)
	if err != nil {
		return func() {}
	}
	c.mu.Lock()
	c.reserved[name]++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.reserved[name]--; c.reserved[name] <= 0 {
				delete(c.reserved, name)
			}
		})
	}
}

func (c *Cache) isReserved(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reserved[name] > 0
}

func (c *Cache) Remove(id string, kind domain.Kind) error {
	name, err := c.fileName(id, kind)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// EvictOldestBeyond keeps the limit most recently written files and
// removes the rest, oldest first. Files are written once, so the
// modification time is their creation time. Failures are logged and
// skipped. It returns how many files were removed.
func (c *Cache) EvictOldestBeyond(limit int) int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		log.Warn().Err(err).Str("module", "media.cache").Msg("read cache dir")
		return 0
	}

	type file struct {
		name string
		mod  int64
	}
	files := make([]file, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed under us
		}
		files = append(files, file{name: e.Name(), mod: info.ModTime().UnixNano()})
	}
	if len(files) <= limit {
		return 0
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod > files[j].mod })

	removed := 0
	for i := len(files) - 1; i >= limit; i-- {
		f := files[i]
		if c.isReserved(f.name) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, f.name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(fmt.Errorf("%w: %v", ErrEvictionFailed, err)).Str("module", "media.cache").Str("file", f.name).Msg("evict")
			continue
		}
		removed++
	}
	if removed > 0 {
		if c.metrics != nil {
			c.metrics.Evicted(removed)
		}
		log.Info().Str("module", "media.cache").Int("removed", removed).Int("limit", limit).Msg("evicted")
	}
	return removed
}
