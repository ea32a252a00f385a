package asarfs

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dendrascience/asarfs/asar"
)

// Archive is an open archive as used by the overlay. *asar.Archive
// implements it.
type Archive interface {
	Stat(inner string) (asar.Stat, bool)
	FileInfo(inner string) (asar.Info, bool)
	ReadDir(inner string) ([]string, bool)
	Realpath(inner string) (string, bool)
	CopyFileOut(inner string) (string, bool)
	// File returns the shared container descriptor.
	File() (io.ReaderAt, error)
	Close() error
}

// Opener creates archive handles from container paths.
type Opener interface {
	Open(path string) (Archive, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) (Archive, error)

func (f OpenerFunc) Open(path string) (Archive, error) { return f(path) }

// Registry keeps one handle per archive path for the lifetime of a Context.
type Registry struct {
	opener   Opener
	onCreate func(path string, a Archive) error

	mu       sync.RWMutex
	archives map[string]Archive
	closed   bool
}

// NewRegistry returns an empty registry. onCreate, when set, runs once for
// every newly opened archive. A handle it rejects is closed and not stored.
func NewRegistry(opener Opener, onCreate func(path string, a Archive) error) *Registry {
	return &Registry{
		opener:   opener,
		onCreate: onCreate,
		archives: make(map[string]Archive),
	}
}

// GetOrCreate returns the handle for path, opening it on first use. It
// reports false when the container cannot be opened or onCreate rejects it.
// Failures are not cached.
func (r *Registry) GetOrCreate(path string) (Archive, bool) {
	r.mu.RLock()
	a, ok := r.archives[path]
	closed := r.closed
	r.mu.RUnlock()
	if ok {
		return a, true
	}
	if closed {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.archives[path]; ok {
		return a, true
	}
	if r.closed {
		return nil, false
	}
	a, err := r.opener.Open(path)
	if err != nil {
		log.Debug().Err(err).Str("archive", path).Msg("cannot open archive")
		return nil, false
	}
	if r.onCreate != nil {
		if err := r.onCreate(path, a); err != nil {
			log.Warn().Err(err).Str("archive", path).Msg("refusing archive")
			if cerr := a.Close(); cerr != nil {
				log.Debug().Err(cerr).Str("archive", path).Msg("closing refused archive")
			}
			return nil, false
		}
	}
	r.archives[path] = a
	log.Debug().Str("archive", path).Msg("opened archive")
	return a, true
}

// Len returns the number of open archives.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.archives)
}

// Stop makes later lookups of unopened archives fail. Open handles stay
// usable until Shutdown.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Shutdown closes every handle exactly once. Later lookups fail.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	archives := r.archives
	r.archives = make(map[string]Archive)
	r.closed = true
	r.mu.Unlock()

	var g errgroup.Group
	for path, a := range archives {
		g.Go(func() error {
			if err := a.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", path, err)
			}
			return nil
		})
	}
	return g.Wait()
}
