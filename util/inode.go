package util

import "sync/atomic"

// InodeCounter hands out inode numbers. Successive calls to Next never return
// the same value.
type InodeCounter interface {
	Next() uint64
}

// Counter is the default InodeCounter.
type Counter struct {
	highest atomic.Uint64
}

// NewCounter returns a counter whose first inode is start+1.
func NewCounter(start uint64) *Counter {
	c := &Counter{}
	c.highest.Store(start)
	return c
}

func (c *Counter) Next() uint64 {
	return c.highest.Add(1)
}

// Set raises the counter so that later inodes are above inode. Lower values
// are ignored.
func (c *Counter) Set(inode uint64) {
	for {
		cur := c.highest.Load()
		if inode <= cur || c.highest.CompareAndSwap(cur, inode) {
			return
		}
	}
}

var processInodes = &Counter{}

// ProcessInodes returns the process-wide counter.
func ProcessInodes() InodeCounter {
	return processInodes
}

func GetNewInode() uint64 {
	return processInodes.Next()
}

func SetInode(inode uint64) {
	processInodes.Set(inode)
}
