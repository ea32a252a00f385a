// Package fusefs serves an asarfs overlay through FUSE.
//
// The mounted tree is rooted at an archive or at a directory holding
// archives, which then appear as subdirectories. Lookups, listings and reads
// go through the overlay, so they share its archive handles, integrity checks
// and access logging. Links inside the archive are resolved at lookup time
// and appear as their targets. The mount is read-only: directory creation
// fails with ENOTDIR and file creation with EACCES.
package fusefs
