package asar

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/dendrascience/asarfs/util"
)

// maxLinkDepth matches the usual symlink resolution limit.
const maxLinkDepth = 40

// UnpackedSuffix is appended to the container path to find unpacked members.
const UnpackedSuffix = ".unpacked"

var ErrClosed = errors.New("archive is closed")

// Stat is the metadata of a single entry. Links are reported as links.
type Stat struct {
	Size        int64
	IsFile      bool
	IsDirectory bool
	IsLink      bool
	// ModTime is zero, asar headers carry no timestamps.
	ModTime time.Time
}

// Info locates the contents of a regular file. Offset is absolute within the
// container file.
type Info struct {
	Size       int64
	Offset     int64
	Unpacked   bool
	Executable bool
}

// Option configures Open.
type Option func(*Archive)

// WithTempDir sets the directory under which copied out members are placed.
func WithTempDir(dir string) Option {
	return func(a *Archive) {
		if dir != "" {
			a.tempDir = dir
		}
	}
}

// Archive is an open asar container. It is safe for concurrent use.
type Archive struct {
	fsys    afero.Fs
	path    string
	root    *Entry
	base    int64
	file    afero.File
	reader  io.ReaderAt
	tempDir string

	mu         sync.Mutex
	extractDir string
	extracted  map[string]string
	closed     bool
}

// Open parses the header of the container at path and keeps the container
// open for later reads.
func Open(fsys afero.Fs, path string, opts ...Option) (*Archive, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	root, base, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	a := &Archive{
		fsys:      fsys,
		path:      path,
		root:      root,
		base:      base,
		file:      f,
		reader:    sharedReader(f),
		tempDir:   os.TempDir(),
		extracted: make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// sharedReader returns f when its ReadAt is a true positional read. The
// in-memory afero files implement ReadAt by moving the file offset, so reads
// through them are serialized.
func sharedReader(f afero.File) io.ReaderAt {
	if _, ok := f.(*os.File); ok {
		return f
	}
	return &serialReaderAt{r: f}
}

type serialReaderAt struct {
	mu sync.Mutex
	r  io.ReaderAt
}

func (s *serialReaderAt) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.ReadAt(p, off)
}

func (a *Archive) Path() string { return a.path }

// Root returns the parsed header tree.
func (a *Archive) Root() *Entry { return a.root }

func splitInner(inner string) []string {
	cleaned := path.Clean("/" + filepath.ToSlash(inner))
	if cleaned == "/" {
		return nil
	}
	return strings.Split(cleaned[1:], "/")
}

// resolve walks inner from the root. Links in leading components are always
// followed, the last component only when followLast is set. The returned
// slice is the link-free path of the node.
func (a *Archive) resolve(inner string, followLast bool, depth int) (*Entry, []string, bool) {
	if depth > maxLinkDepth {
		return nil, nil, false
	}
	parts := splitInner(inner)
	node := a.root
	resolved := make([]string, 0, len(parts))
	for i, part := range parts {
		if !node.IsDir() {
			return nil, nil, false
		}
		child, ok := node.Files[part]
		if !ok {
			return nil, nil, false
		}
		if child.IsLink() && (followLast || i < len(parts)-1) {
			target, targetParts, ok := a.resolve(child.Link, true, depth+1)
			if !ok {
				return nil, nil, false
			}
			node, resolved = target, slices.Clone(targetParts)
			continue
		}
		node = child
		resolved = append(resolved, part)
	}
	return node, resolved, true
}

// Stat reports the entry at inner without following a final link.
func (a *Archive) Stat(inner string) (Stat, bool) {
	node, _, ok := a.resolve(inner, false, 0)
	if !ok {
		return Stat{}, false
	}
	switch {
	case node.IsLink():
		return Stat{IsLink: true}, true
	case node.IsDir():
		return Stat{IsDirectory: true}, true
	}
	return Stat{IsFile: true, Size: node.Size}, true
}

// FileInfo locates the regular file at inner, following links.
func (a *Archive) FileInfo(inner string) (Info, bool) {
	node, _, ok := a.resolve(inner, true, 0)
	if !ok || node.IsDir() {
		return Info{}, false
	}
	info := Info{Size: node.Size, Unpacked: node.Unpacked, Executable: node.Executable}
	if node.Unpacked {
		return info, true
	}
	off, err := node.offset()
	if err != nil {
		log.Warn().Err(err).Str("archive", a.path).Str("path", inner).Msg("skipping entry")
		return Info{}, false
	}
	info.Offset = a.base + off
	return info, true
}

// ReadDir returns the sorted child names of the directory at inner.
func (a *Archive) ReadDir(inner string) ([]string, bool) {
	node, _, ok := a.resolve(inner, true, 0)
	if !ok || !node.IsDir() {
		return nil, false
	}
	return node.Names(), true
}

// Realpath resolves every link in inner and returns the resulting inner path.
func (a *Archive) Realpath(inner string) (string, bool) {
	_, resolved, ok := a.resolve(inner, true, 0)
	if !ok {
		return "", false
	}
	return strings.Join(resolved, "/"), true
}

// File returns the shared container descriptor. Callers must use positional
// reads only.
func (a *Archive) File() (io.ReaderAt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	return a.reader, nil
}

// CopyFileOut returns a real filesystem path holding the contents of the
// member at inner. Unpacked members already have one. Packed members are
// extracted once and reused afterwards.
func (a *Archive) CopyFileOut(inner string) (string, bool) {
	node, resolved, ok := a.resolve(inner, true, 0)
	if !ok || node.IsDir() {
		return "", false
	}
	rel := strings.Join(resolved, "/")
	if node.Unpacked {
		return filepath.Join(a.path+UnpackedSuffix, filepath.FromSlash(rel)), true
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", false
	}
	if p, ok := a.extracted[rel]; ok {
		return p, true
	}
	if a.extractDir == "" {
		dir := filepath.Join(a.tempDir, "asarfs-"+uuid.NewString())
		if err := a.fsys.MkdirAll(dir, 0o700); err != nil {
			log.Warn().Err(err).Str("archive", a.path).Msg("cannot create extraction directory")
			return "", false
		}
		a.extractDir = dir
	}

	dest := filepath.Join(a.extractDir, util.BucketFor(rel), filepath.FromSlash(rel))
	if err := a.extract(node, dest); err != nil {
		log.Warn().Err(err).Str("archive", a.path).Str("path", rel).Msg("cannot copy member out")
		return "", false
	}
	a.extracted[rel] = dest
	return dest, true
}

func (a *Archive) extract(node *Entry, dest string) error {
	off, err := node.offset()
	if err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if node.Executable {
		mode = 0o755
	}
	if err := a.fsys.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := a.fsys.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.NewSectionReader(a.reader, a.base+off, node.Size))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if n != node.Size {
		return fmt.Errorf("writing %s: %w", dest, io.ErrUnexpectedEOF)
	}
	return a.fsys.Chmod(dest, mode)
}

// Close releases the container descriptor and removes copied out members.
// Calling Close again is a no-op.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	err := a.file.Close()
	if a.extractDir != "" {
		err = errors.Join(err, a.fsys.RemoveAll(a.extractDir))
	}
	return err
}
