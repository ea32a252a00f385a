package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dendrascience/asarfs/util"
)

// NewChecksumCmd creates and returns the checksum subcommand for the asarfs CLI.
func NewChecksumCmd() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "checksum FILE...",
		Short: "Print an integrity table for a set of files",
		Long: `Hash each FILE with SHA-512 and print an integrity table keyed by base
name, in the format read by verify and by the integrity setting.

Archives are hashed as plain files. Base names must be unique.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChecksum(cmd, args, workers)
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "Number of files hashed concurrently")

	return cmd
}

type integrityTable struct {
	Checksums map[string]string `json:"checksums"`
}

func runChecksum(cmd *cobra.Command, args []string, workers int) error {
	seen := make(map[string]string, len(args))
	for _, p := range args {
		name := filepath.Base(p)
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%s and %s share the base name %s", prev, p, name)
		}
		seen[name] = p
	}

	base := baseFs(cmd.Context())
	sums := make([]string, len(args))
	g, _ := errgroup.WithContext(cmd.Context())
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, p := range args {
		g.Go(func() error {
			sum, err := util.GetFileHash(base, p)
			if err != nil {
				return fmt.Errorf("hashing %s: %w", p, err)
			}
			sums[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	table := integrityTable{Checksums: make(map[string]string, len(args))}
	for i, p := range args {
		table.Checksums[filepath.Base(p)] = sums[i]
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(table)
}
