package asarfs

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/dendrascience/asarfs/asar"
	"github.com/dendrascience/asarfs/util"
)

const (
	appArchive   = "/app/resources/app.asar"
	bogusArchive = "/app/resources/bogus.asar"
)

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// packApp writes a small application tree and packs it into appArchive.
func packApp(t *testing.T, fsys afero.Fs) {
	t.Helper()
	files := map[string]string{
		"/src/app/main.js":     "console.log('hi')",
		"/src/app/empty.js":    "",
		"/src/app/lib/util.js": "module.exports = 1",
		"/src/app/native.node": "NATIVE",
	}
	for p, data := range files {
		if err := afero.WriteFile(fsys, p, []byte(data), 0o644); err != nil {
			t.Fatalf("writing %s: %v", p, err)
		}
	}
	afero.WriteFile(fsys, "/src/app/bin/tool", []byte("#!/bin/sh\necho tool\n"), 0o755)
	fsys.MkdirAll("/src/app/assets", 0o755)

	if err := asar.Pack(fsys, "/src/app", appArchive, asar.PackOptions{Unpack: "*.node"}); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	afero.WriteFile(fsys, bogusArchive, []byte("not an archive"), 0o644)
}

func digestOf(t *testing.T, data []byte) string {
	t.Helper()
	sum, err := util.GetHash(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("GetHash() error = %v", err)
	}
	return sum
}

// newTestFS returns an overlay over a fresh MemMapFs holding the packed app.
// Integrity checks are skipped unless opts provides a source.
func newTestFS(t *testing.T, opts Options) (*FS, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	packApp(t, fsys)
	if opts.Integrity == nil {
		opts.SkipIntegrity = true
	}
	if opts.TempDir == "" {
		opts.TempDir = "/tmp"
	}
	if opts.Inodes == nil {
		opts.Inodes = util.NewCounter(0)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedTime }
	}
	ctx := NewContext(fsys, opts)
	f := Install(fsys, ctx)
	t.Cleanup(func() {
		f.Close()
		ctx.Shutdown()
	})
	return f, fsys
}

// spyArchive counts calls that touch the container.
type spyArchive struct {
	Archive
	files  atomic.Int32
	closes atomic.Int32
}

func (s *spyArchive) File() (io.ReaderAt, error) {
	s.files.Add(1)
	return s.Archive.File()
}

func (s *spyArchive) Close() error {
	s.closes.Add(1)
	return s.Archive.Close()
}

// spyOpener wraps ArchiveOpener and remembers every handle it made.
type spyOpener struct {
	inner Opener

	mu      sync.Mutex
	opened  []*spyArchive
	attempt int
}

func (o *spyOpener) Open(path string) (Archive, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempt++
	a, err := o.inner.Open(path)
	if err != nil {
		return nil, err
	}
	s := &spyArchive{Archive: a}
	o.opened = append(o.opened, s)
	return s, nil
}

// fakeProcess records what it was asked to run.
type fakeProcess struct {
	mu       sync.Mutex
	execed   []string
	commands []string
	loaded   []string
}

func (p *fakeProcess) ExecFile(_ context.Context, name string, args ...string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.execed = append(p.execed, name)
	return []byte("ok"), nil
}

func (p *fakeProcess) Exec(_ context.Context, command string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, command)
	return nil, nil
}

func (p *fakeProcess) Dlopen(path string) (Library, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = append(p.loaded, path)
	return nil, nil
}
