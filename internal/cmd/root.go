package cmd

import (
	"github.com/dendrascience/asarfs/version"
	"github.com/spf13/cobra"
)

// NewRootCmd creates and returns the root cobra command for the asarfs CLI.
// Every subcommand sees the merged configuration through its context.
func NewRootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:   "asarfs",
		Short: "asarfs - serve asar archives as read-only directories",
		Long: `asarfs treats asar archives as read-only directories layered over the
real filesystem, and checks each archive against a SHA-512 checksum table
before trusting it.

Use subcommands to perform different operations:
  - mount: Mount a directory tree with its archives expanded over FUSE
  - pack: Build an asar archive from a directory
  - list: List the members of an archive
  - cat: Print an archive member
  - checksum: Print an integrity table for a set of files
  - verify: Check files against an integrity table`,
		Version:       version.GetFullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, debug)
			if err != nil {
				return err
			}
			cfg.SetupLogging()
			cmd.SetContext(withConfig(cmd.Context(), cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or JSON config file (default $ASARFS_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	groupUtilities := "utilities"
	groupFilesystem := "filesystem"
	groupIntegrity := "integrity"

	rootCmd.AddGroup(&cobra.Group{
		ID:    groupFilesystem,
		Title: "Filesystem Operations",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupIntegrity,
		Title: "Integrity Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupUtilities,
		Title: "Utility Commands",
	})

	mountCmd := NewMountCmd()
	packCmd := NewPackCmd()
	listCmd := NewListCmd()
	catCmd := NewCatCmd()
	checksumCmd := NewChecksumCmd()
	verifyCmd := NewVerifyCmd()

	mountCmd.GroupID = groupFilesystem
	packCmd.GroupID = groupUtilities
	listCmd.GroupID = groupUtilities
	catCmd.GroupID = groupUtilities
	checksumCmd.GroupID = groupIntegrity
	verifyCmd.GroupID = groupIntegrity

	rootCmd.AddCommand(mountCmd, packCmd, listCmd, catCmd, checksumCmd, verifyCmd)

	return rootCmd
}
