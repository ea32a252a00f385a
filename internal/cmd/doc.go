// Package cmd provides the command-line interface for asarfs.
//
// Each subcommand lives in its own file with a constructor returning a
// *cobra.Command:
//   - mount: serve a directory tree, archives expanded, over FUSE
//   - pack: build an archive from a directory
//   - list, cat: read through the overlay from the shell
//   - checksum, verify: produce and check integrity tables
//
// The root command loads the configuration once and hands it to subcommands
// through the command context. Commands read the host filesystem unless a
// different base is supplied with WithBaseFs.
package cmd
