package fusefs

import (
	"context"
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/dendrascience/asarfs/asarfs"
	"github.com/dendrascience/asarfs/util"
)

// rootInode is the inode reported for the mount root.
const rootInode = 1

// FS implements fs.FS over an overlay.
type FS struct {
	vfs  *asarfs.FS
	root string
}

// NewFS serves root through vfs. root may be an archive or a directory
// holding archives.
func NewFS(vfs *asarfs.FS, root string) *FS {
	return &FS{vfs: vfs, root: filepath.Clean(root)}
}

func (f *FS) Root() (fs.Node, error) {
	return &Dir{fs: f, path: f.root, inode: rootInode}, nil
}

// errno maps overlay errors to the values the kernel expects.
func errno(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, asarfs.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, iofs.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, iofs.ErrPermission):
		return syscall.EACCES
	}
	return syscall.EIO
}

func inodeOf(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*asarfs.Stats); ok {
		return st.Ino
	}
	return util.GetNewInode()
}

func fillAttr(a *fuse.Attr, fi os.FileInfo, inode uint64) {
	a.Inode = inode
	a.Size = uint64(fi.Size())
	a.Mtime = fi.ModTime()
	a.Ctime = fi.ModTime()
	a.Atime = fi.ModTime()
	a.Nlink = 1
	if st, ok := fi.Sys().(*asarfs.Stats); ok {
		a.Uid = st.Uid
		a.Gid = st.Gid
	}
}

// Dir is a directory node.
type Dir struct {
	fs    *FS
	path  string
	inode uint64
}

var (
	_ fs.Node               = (*Dir)(nil)
	_ fs.NodeStringLookuper = (*Dir)(nil)
	_ fs.HandleReadDirAller = (*Dir)(nil)
	_ fs.NodeMkdirer        = (*Dir)(nil)
	_ fs.NodeCreater        = (*Dir)(nil)
)

func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	fi, err := d.fs.vfs.Stat(d.path)
	if err != nil {
		return errno(err)
	}
	fillAttr(a, fi, d.inode)
	a.Size = 0
	a.Mode = os.ModeDir | 0o555
	return nil
}

// Lookup resolves name, following a final link.
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	p := filepath.Join(d.path, name)
	fi, err := d.fs.vfs.Stat(p)
	if err != nil {
		return nil, errno(err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		if p, err = d.fs.vfs.Realpath(p); err != nil {
			return nil, errno(err)
		}
		if fi, err = d.fs.vfs.Stat(p); err != nil {
			return nil, errno(err)
		}
	}
	if fi.IsDir() {
		return &Dir{fs: d.fs, path: p, inode: inodeOf(fi)}, nil
	}
	return &File{fs: d.fs, path: p, inode: inodeOf(fi)}, nil
}

func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	names, err := d.fs.vfs.ReadDirNames(d.path)
	if err != nil {
		return nil, errno(err)
	}
	dirents := make([]fuse.Dirent, 0, len(names))
	for _, name := range names {
		node, err := d.Lookup(ctx, name)
		if err != nil {
			// Dangling links are left out of listings.
			continue
		}
		switch n := node.(type) {
		case *Dir:
			dirents = append(dirents, fuse.Dirent{Inode: n.inode, Name: name, Type: fuse.DT_Dir})
		case *File:
			dirents = append(dirents, fuse.Dirent{Inode: n.inode, Name: name, Type: fuse.DT_File})
		}
	}
	return dirents, nil
}

// The mount is read-only. Mkdir and Create fail with the errors the overlay
// uses inside archives.
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	return nil, syscall.ENOTDIR
}

func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	return nil, nil, syscall.EACCES
}

// File is a regular file node.
type File struct {
	fs    *FS
	path  string
	inode uint64
}

var (
	_ fs.Node            = (*File)(nil)
	_ fs.HandleReadAller = (*File)(nil)
)

func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	fi, err := f.fs.vfs.Stat(f.path)
	if err != nil {
		return errno(err)
	}
	fillAttr(a, fi, f.inode)
	a.Mode = 0o444
	return nil
}

func (f *File) ReadAll(ctx context.Context) ([]byte, error) {
	data, err := f.fs.vfs.ReadFile(f.path)
	if err != nil {
		return nil, errno(err)
	}
	return data, nil
}
