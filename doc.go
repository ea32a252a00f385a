// Command asarfs serves asar archives as read-only directories.
//
// Subcommands:
//   - mount: mount a directory tree over FUSE with its archives expanded
//   - pack: build an archive from a directory
//   - list, cat: read through the overlay
//   - checksum, verify: produce and check integrity tables
//
// Settings come from an optional YAML or JSON file (--config or
// $ASARFS_CONFIG) and ASARFS_* environment variables.
package main
