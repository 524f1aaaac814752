package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/domain"
)

type fakeRunner struct {
	args [][]string
	size int
	err  error
}

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	f.args = append(f.args, args)
	if f.err != nil {
		return []byte("ERROR: Sign in to confirm you're not a bot"), f.err
	}
	tmpl := args[slices.Index(args, "-o")+1]
	// like yt-dlp: download in the source format, then convert or merge into
	// a file named after the requested container
	raw := strings.ReplaceAll(tmpl, "%(ext)s", "webm")
	if err := os.WriteFile(raw, make([]byte, f.size), 0o644); err != nil {
		return nil, err
	}
	final, ok := argValue(args, "--audio-format")
	if !ok {
		final, _ = argValue(args, "--merge-output-format")
	}
	if final == "" {
		return nil, nil
	}
	return nil, os.Rename(raw, strings.ReplaceAll(tmpl, "%(ext)s", final))
}

func argValue(args []string, flag string) (string, bool) {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return "", false
	}
	return args[i+1], true
}

func TestExtractorAdoptsOutput(t *testing.T) {
	c := newTestCache(t)
	runner := &fakeRunner{size: testMinSize * 4}
	x := NewExtractor("yt-dlp", time.Second, c, NewCredentialPool("cookies/a.txt"), runner)

	ref, err := x.Acquire(context.Background(), Request{ID: "dQw4w9WgXcQ", Kind: domain.KindAudio})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Dir(), "dQw4w9WgXcQ.mp3"), ref.Path)

	require.Len(t, runner.args, 1)
	args := runner.args[0]
	cookie, ok := argValue(args, "--cookies")
	require.True(t, ok)
	assert.Equal(t, "cookies/a.txt", cookie)
	assert.Equal(t, domain.WatchURL("dQw4w9WgXcQ"), args[len(args)-1])
	out, _ := argValue(args, "-o")
	assert.True(t, strings.HasSuffix(out, "media.%(ext)s"), out)

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "work dir must be removed")
}

func TestExtractorBurnsCredentialOnFailure(t *testing.T) {
	c := newTestCache(t)
	pool := NewCredentialPool("cookies/a.txt")
	runner := &fakeRunner{err: errors.New("exit status 1")}
	x := NewExtractor("yt-dlp", time.Second, c, pool, runner)

	_, err := x.Acquire(context.Background(), Request{ID: "abc", Kind: domain.KindVideo})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a bot")
	assert.Equal(t, 0, pool.Len())

	// without credentials the extractor still runs, just anonymously
	_, err = x.Acquire(context.Background(), Request{ID: "abc", Kind: domain.KindVideo})
	require.Error(t, err)
	require.Len(t, runner.args, 2)
	_, ok := argValue(runner.args[1], "--cookies")
	assert.False(t, ok)
}

func TestCredentialPool(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"one.txt", "two.txt", "notes.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("# Netscape HTTP Cookie File"), 0o600))
	}
	pool, err := LoadCredentials(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Len())

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		f, ok := pool.Pick()
		require.True(t, ok)
		seen[filepath.Base(f)] = true
	}
	assert.Equal(t, map[string]bool{"one.txt": true, "two.txt": true}, seen)

	pool.Burn(filepath.Join(dir, "one.txt"))
	pool.Burn(filepath.Join(dir, "one.txt"))
	assert.Equal(t, 1, pool.Len())
	for i := 0; i < 20; i++ {
		f, _ := pool.Pick()
		assert.Equal(t, "two.txt", filepath.Base(f))
	}

	empty, err := LoadCredentials(filepath.Join(dir, "missing"), nil)
	require.NoError(t, err)
	_, ok := empty.Pick()
	assert.False(t, ok)
}

func TestExtractorVideoAndMissingOutput(t *testing.T) {
	c := newTestCache(t)
	x := NewExtractor("yt-dlp", time.Second, c, nil, &fakeRunner{size: testMinSize * 4})

	ref, err := x.Acquire(context.Background(), Request{ID: "dQw4w9WgXcQ", Kind: domain.KindVideo})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Dir(), "dQw4w9WgXcQ.mp4"), ref.Path)

	// a run that leaves only the raw download is not a success
	x = NewExtractor("yt-dlp", time.Second, c, nil, noConvertRunner{size: testMinSize * 4})
	_, err = x.Acquire(context.Background(), Request{ID: "aaaaaaaaaaa", Kind: domain.KindAudio})
	assert.ErrorIs(t, err, core.ErrCacheWriteFailed)
}

type noConvertRunner struct{ size int }

func (r noConvertRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	tmpl := args[slices.Index(args, "-o")+1]
	return nil, os.WriteFile(strings.ReplaceAll(tmpl, "%(ext)s", "webm.part"), make([]byte, r.size), 0o644)
}
