package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dendrascience/asarfs/fusefs"
	"github.com/dendrascience/asarfs/version"
)

// NewMountCmd creates and returns the mount subcommand for the asarfs CLI.
func NewMountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mount ROOT MOUNTPOINT",
		Short: "Mount a directory tree with its archives expanded",
		Long: `Mount ROOT read-only at MOUNTPOINT. Archives under ROOT appear as
directories. An integrity failure unmounts the filesystem and exits non-zero.

ROOT and MOUNTPOINT must not contain one another.`,
		Args: cobra.ExactArgs(2),
		RunE: runMount,
	}
}

func runMount(cmd *cobra.Command, args []string) error {
	root, mountpoint := args[0], args[1]
	if pathsOverlap(root, mountpoint) {
		return fmt.Errorf("root %s and mountpoint %s overlap", root, mountpoint)
	}
	if fi, err := os.Stat(root); err != nil {
		return err
	} else if !fi.IsDir() {
		return fmt.Errorf("root %s is not a directory", root)
	}

	vfs := openOverlay(cmd.Context(), nil)
	defer closeOverlay(vfs)

	c, err := fuse.Mount(
		mountpoint,
		fuse.FSName("asarfs"),
		fuse.Subtype("asarfs"),
		fuse.ReadOnly(),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	stop := make(chan struct{})
	failed := make(chan error, 1)
	go func() {
		select {
		case f := <-vfs.Context().Fatal():
			failed <- f
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down")
		case <-stop:
			return
		}
		if err := fuse.Unmount(mountpoint); err != nil {
			log.Warn().Err(err).Str("mountpoint", mountpoint).Msg("unmount failed")
		}
	}()

	log.Info().
		Str("version", version.GetVersion()).
		Str("root", root).
		Str("mountpoint", mountpoint).
		Msg("asarfs mounted")
	err = fs.Serve(c, fusefs.NewFS(vfs, root))
	close(stop)

	select {
	case f := <-failed:
		return f
	default:
	}
	return err
}

// pathsOverlap reports whether one path is the other or lies beneath it.
func pathsOverlap(a, b string) bool {
	a, b = absPath(a), absPath(b)
	return within(a, b) || within(b, a)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

func within(parent, p string) bool {
	rel, err := filepath.Rel(parent, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
