// Command gtdsync synchronizes a local GTD database with a remote snapshot.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gtdsync/gtdsync/internal/ui"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "gtdsync",
	Short: "Synchronize a GTD task database with a remote snapshot",
	Long: `gtdsync keeps a local GTD task database in step with a snapshot
(GTD_SYNC.zip) stored in a shared folder, MinIO or S3 bucket.

A sync run backs up the local database, takes the remote sync lock, imports
the remote snapshot, uploads a fresh one and releases the lock.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: search .gtdsync/, user config dir, ~/.gtdsync/)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "data", Title: "Local data:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(exitCode(err))
	}
}
