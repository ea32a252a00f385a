package asarfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/afero/mem"
)

// writeFlags are the open flags refused for archive members.
const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_TRUNC | os.O_APPEND

// FS serves archive members out of the archives of its Context and passes
// every other path to the base filesystem.
type FS struct {
	base   afero.Fs
	ctx    *Context
	noAsar atomic.Bool
	reads  *accessLog
}

var (
	_ afero.Fs      = (*FS)(nil)
	_ afero.Lstater = (*FS)(nil)
	_ Realpather    = (*FS)(nil)
	_ Accessor      = (*FS)(nil)
)

// Install decorates base with archive support. A nil ctx gets a context with
// default options over base.
func Install(base afero.Fs, ctx *Context) *FS {
	if ctx == nil {
		ctx = NewContext(base, Options{})
	}
	f := &FS{base: base, ctx: ctx}
	if ctx.logReads {
		f.reads = newAccessLog(base, ctx.tempDir, ctx.suffix)
	}
	return f
}

func (f *FS) Context() *Context { return f.ctx }
func (f *FS) Base() afero.Fs    { return f.base }
func (f *FS) Name() string      { return "asarfs" }

// SetNoAsar toggles archive interpretation for later calls.
func (f *FS) SetNoAsar(disabled bool) { f.noAsar.Store(disabled) }

// Close flushes the read access logs. Archives belong to the Context.
func (f *FS) Close() error {
	if f.reads == nil {
		return nil
	}
	return f.reads.close()
}

// classify returns the archive split of p. Paths that stay outside archives
// are handed to the verifier.
func (f *FS) classify(p string) Classification {
	if !f.noAsar.Load() {
		if c := f.ctx.classifier.Classify(p); c.Archived {
			return c
		}
	}
	f.ctx.track(p)
	return Classification{}
}

func (f *FS) archive(op string, c Classification) (Archive, error) {
	a, ok := f.ctx.registry.GetOrCreate(c.ArchivePath)
	if !ok {
		return nil, newError(op, c, ErrInvalidArchive)
	}
	return a, nil
}

func (f *FS) stat(op, name string, c Classification) (*Stats, error) {
	a, err := f.archive(op, c)
	if err != nil {
		return nil, err
	}
	st, ok := a.Stat(c.InnerPath)
	if !ok {
		return nil, newError(op, c, ErrNotFound)
	}
	return f.ctx.newStats(filepath.Base(filepath.Clean(name)), st), nil
}

// Lstat and Stat agree inside archives: a final link is reported as a link.
func (f *FS) Lstat(name string) (os.FileInfo, error) {
	c := f.classify(name)
	if !c.Archived {
		fi, _, err := baseLstat(f.base, name)
		return fi, err
	}
	return f.stat("lstat", name, c)
}

func (f *FS) Stat(name string) (os.FileInfo, error) {
	c := f.classify(name)
	if !c.Archived {
		return f.base.Stat(name)
	}
	return f.stat("stat", name, c)
}

func (f *FS) LstatIfPossible(name string) (os.FileInfo, bool, error) {
	c := f.classify(name)
	if !c.Archived {
		return baseLstat(f.base, name)
	}
	st, err := f.stat("lstat", name, c)
	if err != nil {
		return nil, true, err
	}
	return st, true, nil
}

// StatNoError reports false instead of failing.
func (f *FS) StatNoError(name string) (os.FileInfo, bool) {
	c := f.classify(name)
	if !c.Archived {
		fi, err := f.base.Stat(name)
		return fi, err == nil
	}
	st, err := f.stat("stat", name, c)
	if err != nil {
		return nil, false
	}
	return st, true
}

func (f *FS) Exists(name string) bool {
	c := f.classify(name)
	if !c.Archived {
		ok, _ := afero.Exists(f.base, name)
		return ok
	}
	a, ok := f.ctx.registry.GetOrCreate(c.ArchivePath)
	if !ok {
		return false
	}
	_, ok = a.Stat(c.InnerPath)
	return ok
}

// Access checks mode against name. Archive members are never writable.
func (f *FS) Access(name string, mode uint32) error {
	c := f.classify(name)
	if !c.Archived {
		return baseAccess(f.base, name, mode)
	}
	a, err := f.archive("access", c)
	if err != nil {
		return err
	}
	info, ok := a.FileInfo(c.InnerPath)
	if !ok {
		if _, ok := a.Stat(c.InnerPath); !ok {
			return newError("access", c, ErrNotFound)
		}
	}
	if info.Unpacked {
		real, ok := a.CopyFileOut(c.InnerPath)
		if !ok {
			return newError("access", c, ErrNotFound)
		}
		return f.Access(real, mode)
	}
	if mode&AccessWrite != 0 {
		return newError("access", c, ErrPermissionDenied)
	}
	return nil
}

// Realpath resolves links inside the archive and on the way to it.
func (f *FS) Realpath(name string) (string, error) {
	c := f.classify(name)
	if !c.Archived {
		return baseRealpath(f.base, name)
	}
	a, err := f.archive("realpath", c)
	if err != nil {
		return "", err
	}
	inner, ok := a.Realpath(c.InnerPath)
	if !ok {
		return "", newError("realpath", c, ErrNotFound)
	}
	container, err := baseRealpath(f.base, c.ArchivePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(container, filepath.FromSlash(inner)), nil
}

// ReadDirNames lists a directory. Archive listings are sorted.
func (f *FS) ReadDirNames(name string) ([]string, error) {
	c := f.classify(name)
	if !c.Archived {
		d, err := f.base.Open(name)
		if err != nil {
			return nil, err
		}
		defer d.Close()
		return d.Readdirnames(-1)
	}
	a, err := f.archive("readdir", c)
	if err != nil {
		return nil, err
	}
	names, ok := a.ReadDir(c.InnerPath)
	if !ok {
		return nil, newError("readdir", c, ErrNotFound)
	}
	return names, nil
}

func (f *FS) ReadFile(name string) ([]byte, error) {
	c := f.classify(name)
	if !c.Archived {
		return afero.ReadFile(f.base, name)
	}
	return f.readMember("readfile", c)
}

func (f *FS) readMember(op string, c Classification) ([]byte, error) {
	a, err := f.archive(op, c)
	if err != nil {
		return nil, err
	}
	info, ok := a.FileInfo(c.InnerPath)
	if !ok {
		return nil, newError(op, c, ErrNotFound)
	}
	if info.Size == 0 {
		return []byte{}, nil
	}
	if info.Unpacked {
		real, ok := a.CopyFileOut(c.InnerPath)
		if !ok {
			return nil, newError(op, c, ErrNotFound)
		}
		return f.ReadFile(real)
	}
	r, err := a.File()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, c.InnerPath, err)
	}
	if f.reads != nil {
		f.reads.record(c.ArchivePath, c.InnerPath, info.Offset)
	}
	buf := make([]byte, info.Size)
	n, err := r.ReadAt(buf, info.Offset)
	if n < len(buf) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%s %s: reading from %s: %w", op, c.InnerPath, c.ArchivePath, err)
	}
	return buf, nil
}

// OpenReader streams a file without copying archive members out.
func (f *FS) OpenReader(name string) (io.ReadCloser, error) {
	c := f.classify(name)
	if !c.Archived {
		return f.base.Open(name)
	}
	a, err := f.archive("open", c)
	if err != nil {
		return nil, err
	}
	info, ok := a.FileInfo(c.InnerPath)
	if !ok {
		return nil, newError("open", c, ErrNotFound)
	}
	switch {
	case info.Size == 0:
		return io.NopCloser(bytes.NewReader(nil)), nil
	case info.Unpacked:
		real, ok := a.CopyFileOut(c.InnerPath)
		if !ok {
			return nil, newError("open", c, ErrNotFound)
		}
		return f.base.Open(real)
	}
	r, err := a.File()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.InnerPath, err)
	}
	if f.reads != nil {
		f.reads.record(c.ArchivePath, c.InnerPath, info.Offset)
	}
	return io.NopCloser(io.NewSectionReader(r, info.Offset, info.Size)), nil
}

// ReadModuleFile is ReadFile for module loaders, which only need to know
// whether the file could be read.
func (f *FS) ReadModuleFile(name string) (string, bool) {
	c := f.classify(name)
	if !c.Archived {
		data, err := afero.ReadFile(f.base, name)
		if err != nil {
			return "", false
		}
		return string(data), true
	}
	data, err := f.readMember("readmodule", c)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// ModuleStat returns 0 for files, 1 for directories and a negative errno
// otherwise.
func (f *FS) ModuleStat(name string) int {
	c := f.classify(name)
	if !c.Archived {
		fi, err := f.base.Stat(name)
		switch {
		case err != nil:
			return errnoNotFound
		case fi.IsDir():
			return moduleStatDirectory
		}
		return moduleStatFile
	}
	a, ok := f.ctx.registry.GetOrCreate(c.ArchivePath)
	if !ok {
		return errnoNotFound
	}
	st, ok := a.Stat(c.InnerPath)
	switch {
	case !ok:
		return errnoNotFound
	case st.IsDirectory:
		return moduleStatDirectory
	}
	return moduleStatFile
}

func (f *FS) copyOut(op string, c Classification) (string, error) {
	a, err := f.archive(op, c)
	if err != nil {
		return "", err
	}
	real, ok := a.CopyFileOut(c.InnerPath)
	if !ok {
		return "", newError(op, c, ErrNotFound)
	}
	return real, nil
}

// Open copies archive members out and opens the copy. Archive directories
// open as read-only listings.
func (f *FS) Open(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

func (f *FS) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	c := f.classify(name)
	if !c.Archived || (c.InnerPath == "" && flag&writeFlags != 0) {
		return f.base.OpenFile(name, flag, perm)
	}
	if flag&writeFlags != 0 {
		return nil, newError("open", c, ErrPermissionDenied)
	}
	a, err := f.archive("open", c)
	if err != nil {
		return nil, err
	}
	if names, ok := a.ReadDir(c.InnerPath); ok {
		return dirHandle(a, name, c, names), nil
	}
	real, err := f.copyOut("open", c)
	if err != nil {
		return nil, err
	}
	return f.base.OpenFile(real, flag, perm)
}

func dirHandle(a Archive, name string, c Classification, names []string) afero.File {
	dir := mem.CreateDir(name)
	for _, n := range names {
		child := filepath.Join(name, n)
		if st, _ := a.Stat(filepath.Join(c.InnerPath, n)); st.IsDirectory {
			mem.AddToMemDir(dir, mem.CreateDir(child))
			continue
		}
		mem.AddToMemDir(dir, mem.CreateFile(child))
	}
	return mem.NewReadOnlyFileHandle(dir)
}

// refuse fails op for paths strictly inside an archive. The container path
// itself is an ordinary file of the base filesystem.
func (f *FS) refuse(op, name string, err error) error {
	c := f.classify(name)
	if c.Archived && c.InnerPath != "" {
		return newError(op, c, err)
	}
	return nil
}

func (f *FS) Create(name string) (afero.File, error) {
	if err := f.refuse("create", name, ErrPermissionDenied); err != nil {
		return nil, err
	}
	return f.base.Create(name)
}

func (f *FS) Mkdir(name string, perm os.FileMode) error {
	if err := f.refuse("mkdir", name, ErrNotADirectory); err != nil {
		return err
	}
	return f.base.Mkdir(name, perm)
}

func (f *FS) MkdirAll(path string, perm os.FileMode) error {
	if err := f.refuse("mkdir", path, ErrNotADirectory); err != nil {
		return err
	}
	return f.base.MkdirAll(path, perm)
}

func (f *FS) Remove(name string) error {
	if err := f.refuse("remove", name, ErrPermissionDenied); err != nil {
		return err
	}
	return f.base.Remove(name)
}

func (f *FS) RemoveAll(path string) error {
	if err := f.refuse("remove", path, ErrPermissionDenied); err != nil {
		return err
	}
	return f.base.RemoveAll(path)
}

func (f *FS) Rename(oldname, newname string) error {
	if err := f.refuse("rename", oldname, ErrPermissionDenied); err != nil {
		return err
	}
	if err := f.refuse("rename", newname, ErrPermissionDenied); err != nil {
		return err
	}
	return f.base.Rename(oldname, newname)
}

func (f *FS) Chmod(name string, mode os.FileMode) error {
	if err := f.refuse("chmod", name, ErrPermissionDenied); err != nil {
		return err
	}
	return f.base.Chmod(name, mode)
}

func (f *FS) Chown(name string, uid, gid int) error {
	if err := f.refuse("chown", name, ErrPermissionDenied); err != nil {
		return err
	}
	return f.base.Chown(name, uid, gid)
}

func (f *FS) Chtimes(name string, atime, mtime time.Time) error {
	if err := f.refuse("chtimes", name, ErrPermissionDenied); err != nil {
		return err
	}
	return f.base.Chtimes(name, atime, mtime)
}

// ExecFile runs name, copying it out of its archive first.
func (f *FS) ExecFile(ctx context.Context, name string, args ...string) ([]byte, error) {
	c := f.classify(name)
	if c.Archived {
		real, err := f.copyOut("execfile", c)
		if err != nil {
			return nil, err
		}
		name = real
	}
	return f.ctx.process.ExecFile(ctx, name, args...)
}

// Exec runs command through the shell. The command line is never classified,
// so archive paths in it reach the shell unchanged.
func (f *FS) Exec(ctx context.Context, command string) ([]byte, error) {
	return f.ctx.process.Exec(ctx, command)
}

// Dlopen loads a dynamic library, copying it out of its archive first.
func (f *FS) Dlopen(path string) (Library, error) {
	return f.load("dlopen", path)
}

// LoadNative loads a native module the same way Dlopen loads libraries.
func (f *FS) LoadNative(path string) (Library, error) {
	return f.load("loadnative", path)
}

func (f *FS) load(op, path string) (Library, error) {
	c := f.classify(path)
	if c.Archived {
		real, err := f.copyOut(op, c)
		if err != nil {
			return nil, err
		}
		path = real
	}
	return f.ctx.process.Dlopen(path)
}
