package document

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/aulavoz/voicetutor/internal/observe"
	"github.com/aulavoz/voicetutor/internal/tutor"
)

// Extensions are the file types loaded from the document directory, in
// lookup order.
var Extensions = []string{".md", ".txt", ".pdf"}

// StoreConfig configures a [Store].
type StoreConfig struct {
	// Dir holds the source documents, one file per ID named <id>.md,
	// <id>.txt or <id>.pdf. Empty disables file loading.
	Dir string

	// Summarizer condenses newly loaded files. Required when Dir is set.
	Summarizer *Summarizer
}

// Store resolves document IDs to summaries. Lookups go to the in-memory
// cache, then the document directory; files are summarised once and the
// result cached. Concurrent lookups of the same ID share one load.
//
// Store implements [tutor.DocumentSource].
type Store struct {
	dir        string
	summarizer *Summarizer

	loads singleflight.Group

	mu    sync.RWMutex
	cache map[string]string
}

var _ tutor.DocumentSource = (*Store)(nil)

// NewStore returns an empty Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Dir != "" && cfg.Summarizer == nil {
		return nil, errors.New("document: summarizer is required with a document directory")
	}
	return &Store{
		dir:        cfg.Dir,
		summarizer: cfg.Summarizer,
		cache:      make(map[string]string),
	}, nil
}

// Put caches a precomputed summary under id.
func (s *Store) Put(id, summary string) {
	s.remember(id, summary)
}

// Len returns the number of cached summaries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// Summary implements [tutor.DocumentSource]. Unknown IDs yield an error
// wrapping [tutor.ErrDocumentNotFound].
func (s *Store) Summary(ctx context.Context, id string) (string, error) {
	if !validID(id) {
		return "", fmt.Errorf("document: invalid id %q: %w", id, tutor.ErrDocumentNotFound)
	}
	s.mu.RLock()
	sum, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return sum, nil
	}

	v, err, _ := s.loads.Do(id, func() (any, error) {
		return s.load(context.WithoutCancel(ctx), id)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Store) load(ctx context.Context, id string) (string, error) {
	path, err := s.find(id)
	if err != nil {
		return "", err
	}
	text, err := readText(path)
	if err != nil {
		return "", err
	}
	sum, err := s.summarizer.Summarize(ctx, text)
	if err != nil {
		return "", err
	}
	observe.Logger(ctx).Info("document summarised",
		"document", id, "path", path, "chars", len(text), "summary_chars", len(sum))
	s.remember(id, sum)
	return sum, nil
}

func (s *Store) remember(id, sum string) {
	s.mu.Lock()
	s.cache[id] = sum
	s.mu.Unlock()
}

func (s *Store) find(id string) (string, error) {
	if s.dir == "" {
		return "", fmt.Errorf("document: %q: %w", id, tutor.ErrDocumentNotFound)
	}
	for _, ext := range Extensions {
		p := filepath.Join(s.dir, id+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("document: %q: %w", id, tutor.ErrDocumentNotFound)
}

// Preload summarises every document in the directory, at most parallelism
// at a time. Individual failures are logged and skipped; only a directory
// read error is returned.
func (s *Store) Preload(ctx context.Context, parallelism int) error {
	if s.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			observe.Logger(ctx).Warn("document directory does not exist", "dir", s.dir)
			return nil
		}
		return fmt.Errorf("document: preload: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(max(parallelism, 1))
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || !slices.Contains(Extensions, ext) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ext)
		g.Go(func() error {
			if _, err := s.Summary(ctx, id); err != nil {
				observe.Logger(ctx).Error("preload document", "document", id, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// validID rejects IDs that could escape the document directory.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}
