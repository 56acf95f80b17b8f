// Package commands implements the gitvfs CLI's command tree: mount,
// unmount, status, maintenance, and clone. It is a thin external
// collaborator over the virtualization core, wiring the persisted
// engine components together for exactly as long as a single invocation
// runs.
//
// Flags are bound with PersistentFlags + viper.BindPFlag and
// cobra.OnInitialize(initConfig), generalized to the enlistment-path/
// cache-server/debug flag set this CLI needs.
package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	enlistmentPath string
	debug          bool
)

var rootCmd = &cobra.Command{
	Use:   "gitvfs",
	Short: "Mount a Git repository as a lazily-hydrated virtual filesystem",
	Long: `gitvfs projects a Git repository's full working tree onto disk
without downloading blob content until a file is actually read, the way
VFS for Git does for very large repositories.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&enlistmentPath, "enlistment", "", "enlistment root (default: current directory, walking up to find .gvfs)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable go-fuse debug logging")

	viper.BindPFlag("enlistment", rootCmd.PersistentFlags().Lookup("enlistment"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	viper.SetEnvPrefix("GITVFS")
	viper.AutomaticEnv()
}
