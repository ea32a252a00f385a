package asarfs

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// Access modes.
const (
	AccessExists  uint32 = 0
	AccessExecute uint32 = 1
	AccessWrite   uint32 = 2
	AccessRead    uint32 = 4
)

// Realpather is implemented by base filesystems that can resolve links.
type Realpather interface {
	Realpath(name string) (string, error)
}

// Accessor is implemented by base filesystems with an access(2) check.
type Accessor interface {
	Access(name string, mode uint32) error
}

// OsFs is afero.OsFs with real path resolution and access checks.
type OsFs struct {
	afero.OsFs
}

func NewOsFs() afero.Fs { return &OsFs{} }

func (OsFs) Name() string { return "AsarOsFs" }

func (OsFs) Realpath(name string) (string, error) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func (OsFs) Access(name string, mode uint32) error {
	if err := unix.Access(name, mode); err != nil {
		return &os.PathError{Op: "access", Path: name, Err: err}
	}
	return nil
}

func baseRealpath(base afero.Fs, name string) (string, error) {
	if r, ok := base.(Realpather); ok {
		return r.Realpath(name)
	}
	if _, err := base.Stat(name); err != nil {
		return "", err
	}
	return filepath.Clean(name), nil
}

// baseAccess falls back to permission bits when base has no Accessor.
func baseAccess(base afero.Fs, name string, mode uint32) error {
	if a, ok := base.(Accessor); ok {
		return a.Access(name, mode)
	}
	fi, err := base.Stat(name)
	if err != nil {
		return err
	}
	perm := fi.Mode().Perm()
	denied := (mode&AccessRead != 0 && perm&0o444 == 0) ||
		(mode&AccessWrite != 0 && perm&0o222 == 0) ||
		(mode&AccessExecute != 0 && perm&0o111 == 0)
	if denied {
		return &os.PathError{Op: "access", Path: name, Err: fs.ErrPermission}
	}
	return nil
}

func baseLstat(base afero.Fs, name string) (os.FileInfo, bool, error) {
	if l, ok := base.(afero.Lstater); ok {
		return l.LstatIfPossible(name)
	}
	fi, err := base.Stat(name)
	return fi, false, err
}
