package asarfs

import (
	"io/fs"
	"time"

	"github.com/dendrascience/asarfs/asar"
)

const (
	statDev   = 1
	statMode  = 0o100644
	statNlink = 1
)

// Stats is the stat result synthesized for archive members. It implements
// fs.FileInfo and is its own Sys value.
type Stats struct {
	Dev       uint64
	Ino       uint64
	RawMode   uint32
	Nlink     uint32
	Uid       uint32
	Gid       uint32
	Rdev      uint64
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Birthtime time.Time

	name   string
	size   int64
	isFile bool
	isDir  bool
	isLink bool
}

func (s *Stats) Name() string { return s.name }

func (s *Stats) Mode() fs.FileMode {
	m := fs.FileMode(s.RawMode & 0o777)
	switch {
	case s.isDir:
		m |= fs.ModeDir
	case s.isLink:
		m |= fs.ModeSymlink
	}
	return m
}

func (s *Stats) Size() int64        { return s.size }
func (s *Stats) ModTime() time.Time { return s.Mtime }
func (s *Stats) IsDir() bool        { return s.isDir }
func (s *Stats) IsFile() bool       { return s.isFile }
func (s *Stats) IsSymlink() bool    { return s.isLink }
func (s *Stats) Sys() any           { return s }

// newStats fills a Stats from archive metadata. Every call consumes a fresh
// inode.
func (c *Context) newStats(name string, st asar.Stat) *Stats {
	t := st.ModTime
	if t.IsZero() {
		t = c.fakeTime
	}
	return &Stats{
		Dev:       statDev,
		Ino:       c.inodes.Next(),
		RawMode:   statMode,
		Nlink:     statNlink,
		Uid:       c.uid,
		Gid:       c.gid,
		Atime:     t,
		Mtime:     t,
		Ctime:     t,
		Birthtime: t,
		name:      name,
		size:      st.Size,
		isFile:    st.IsFile,
		isDir:     st.IsDirectory,
		isLink:    st.IsLink,
	}
}
