package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// NewListCmd creates and returns the list subcommand for the asarfs CLI.
// It walks a path through the overlay, descending into archives.
func NewListCmd() *cobra.Command {
	var countOnly bool

	cmd := &cobra.Command{
		Use:   "list PATH",
		Short: "List a directory tree, including archive members",
		Long: `List every entry under PATH. Archives are walked like directories, so
PATH may be an archive, a directory inside one, or a tree containing several.

Each line shows the entry type (d, l or -), its size and its path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, args[0], countOnly)
		},
	}

	cmd.Flags().BoolVar(&countOnly, "count", false, "Print only the number of files")

	return cmd
}

func runList(cmd *cobra.Command, root string, countOnly bool) error {
	vfs := openOverlay(cmd.Context(), nil)
	defer closeOverlay(vfs)

	var listing bytes.Buffer
	count := 0
	err := afero.Walk(vfs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			count++
		}
		if !countOnly {
			fmt.Fprintf(&listing, "%s %10d %s\n", entryType(info), info.Size(), path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	vfs.Context().Verifier().Wait()
	if err := fatalOf(vfs); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if countOnly {
		fmt.Fprintln(out, count)
		return nil
	}
	_, err = listing.WriteTo(out)
	return err
}

func entryType(info os.FileInfo) string {
	switch {
	case info.IsDir():
		return "d"
	case info.Mode()&os.ModeSymlink != 0:
		return "l"
	}
	return "-"
}
