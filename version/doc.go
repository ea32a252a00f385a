// Package version reports the asarfs build version.
//
// Release builds stamp Version, Commit and Date with -ldflags:
//
//	-ldflags "-X github.com/dendrascience/asarfs/version.Version=v1.2.0 -X github.com/dendrascience/asarfs/version.Commit=$(git rev-parse HEAD)"
//
// The same build usually pins the integrity table with
// -X github.com/dendrascience/asarfs/asarfs.BuiltinChecksums=... so the
// shipped checksums cannot be replaced by editing a file on disk.
//
// Unstamped builds fall back to debug.ReadBuildInfo.
package version
