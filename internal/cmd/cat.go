package cmd

import (
	"github.com/spf13/cobra"
)

// NewCatCmd creates and returns the cat subcommand for the asarfs CLI.
func NewCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat PATH...",
		Short: "Print files, including archive members",
		Long: `Print the contents of each PATH. A PATH inside an archive, such as
resources/app.asar/main.js, is read from the archive.

Nothing is printed when an archive fails its integrity check.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCat,
	}
}

func runCat(cmd *cobra.Command, args []string) error {
	vfs := openOverlay(cmd.Context(), nil)
	defer closeOverlay(vfs)

	contents := make([][]byte, 0, len(args))
	for _, p := range args {
		data, err := vfs.ReadFile(p)
		if err != nil {
			return err
		}
		contents = append(contents, data)
	}

	vfs.Context().Verifier().Wait()
	if err := fatalOf(vfs); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, data := range contents {
		if _, err := out.Write(data); err != nil {
			return err
		}
	}
	return nil
}
