package media

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

type burnRecorder interface {
	CredentialBurned()
}

// CredentialPool holds cookie files for the extractor. A file that fails
// once is burned and never handed out again by this process.
type CredentialPool struct {
	mu      sync.Mutex
	files   []string
	metrics burnRecorder
}

// LoadCredentials picks up every *.txt file in dir. A missing dir gives an
// empty pool.
func LoadCredentials(dir string, metrics burnRecorder) (*CredentialPool, error) {
	p := &CredentialPool{metrics: metrics}
	if dir == "" {
		return p, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".txt") {
			p.files = append(p.files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(p.files)
	log.Info().Str("module", "media.credentials").Int("files", len(p.files)).Msg("credentials loaded")
	return p, nil
}

func NewCredentialPool(files ...string) *CredentialPool {
	return &CredentialPool{files: slices.Clone(files)}
}

// Pick returns a random remaining credential.
func (p *CredentialPool) Pick() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.files) == 0 {
		return "", false
	}
	return p.files[rand.IntN(len(p.files))], true
}

func (p *CredentialPool) Burn(file string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := slices.Index(p.files, file)
	if i < 0 {
		return
	}
	p.files = slices.Delete(p.files, i, i+1)
	if p.metrics != nil {
		p.metrics.CredentialBurned()
	}
	log.Warn().Str("module", "media.credentials").Str("file", filepath.Base(file)).Int("left", len(p.files)).Msg("credential burned")
}

func (p *CredentialPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.files)
}
