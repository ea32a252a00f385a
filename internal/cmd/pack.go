package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dendrascience/asarfs/asar"
)

// NewPackCmd creates and returns the pack subcommand for the asarfs CLI.
func NewPackCmd() *cobra.Command {
	var opts asar.PackOptions

	cmd := &cobra.Command{
		Use:   "pack SOURCE ARCHIVE",
		Short: "Build an asar archive from a directory",
		Long: `Pack the directory tree SOURCE into ARCHIVE.

Members matching --unpack, or living in a directory matching --unpack-dir,
are written next to the archive under ARCHIVE.unpacked instead of into it.
Symbolic links are stored as links and must stay inside SOURCE.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dest := args[0], args[1]
			if err := asar.Pack(baseFs(cmd.Context()), src, dest, opts); err != nil {
				return err
			}
			log.Info().Str("source", src).Str("archive", dest).Msg("archive written")
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Unpack, "unpack", "", "Glob of file names to keep outside the archive")
	cmd.Flags().StringVar(&opts.UnpackDir, "unpack-dir", "", "Glob of directories to keep outside the archive")

	return cmd
}
