package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dendrascience/asarfs/asarfs"
)

// NewVerifyCmd creates and returns the verify subcommand for the asarfs CLI.
// It runs files through the same verifier the overlay uses.
func NewVerifyCmd() *cobra.Command {
	var integrity string

	cmd := &cobra.Command{
		Use:   "verify FILE...",
		Short: "Check files against an integrity table",
		Long: `Check each FILE against the integrity table, looked up by base name.

The table comes from --integrity, or from the integrity setting when the flag
is not given. Checks always run, even when skipIntegrity is set. Files whose
name ends in the archive suffix must be listed in the table. Other unlisted
files are reported as untracked.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, args, integrity)
		},
	}

	cmd.Flags().StringVarP(&integrity, "integrity", "i", "", "Path to the integrity table")

	return cmd
}

func runVerify(cmd *cobra.Command, args []string, integrity string) error {
	base := baseFs(cmd.Context())
	vfs := openOverlay(cmd.Context(), func(o *asarfs.Options) {
		o.SkipIntegrity = false
		if integrity != "" {
			o.Integrity = asarfs.FileSource{Fs: base, Path: integrity}
		}
	})
	defer closeOverlay(vfs)

	v := vfs.Context().Verifier()
	out := cmd.OutOrStdout()
	failed := 0
	for _, p := range args {
		err := <-v.Verify(p, nil)
		var failure *asarfs.IntegrityFailure
		switch {
		case errors.As(err, &failure):
			failed++
			fmt.Fprintf(out, "%s: FAILED (%s)\n", p, failure.Error())
		case err != nil:
			return err
		default:
			switch v.State(filepath.Base(p)) {
			case asarfs.Verified:
				fmt.Fprintf(out, "%s: ok\n", p)
			case asarfs.Rejected:
				failed++
				fmt.Fprintf(out, "%s: FAILED (rejected earlier)\n", p)
			default:
				fmt.Fprintf(out, "%s: untracked\n", p)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed verification", failed, len(args))
	}
	return nil
}
