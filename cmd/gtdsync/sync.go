package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gtdsync/gtdsync/internal/exchange"
	gsync "github.com/gtdsync/gtdsync/internal/sync"
	"github.com/gtdsync/gtdsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one synchronization with the remote snapshot",
	Long: `Run one synchronization:
  1. Back up the local database
  2. Take the remote sync lock (sync.locked)
  3. Download and import GTD_SYNC.zip, repairing orphaned records
  4. Export and upload a fresh GTD_SYNC.zip (skipped with --load-only)
  5. Release the remote sync lock

Exit status is 3 when another device holds the lock and 2 when the remote
is not configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext(cmd.Context())
		defer cancel()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		loadOnly := a.cfg.Sync.LoadOnly
		if cmd.Flags().Changed("load-only") {
			loadOnly, _ = cmd.Flags().GetBool("load-only")
		}
		quiet, _ := cmd.Flags().GetBool("quiet")

		notify := func(percent int, msg string) error {
			if !quiet {
				fmt.Println(ui.ProgressLine(percent, msg))
			}
			return nil
		}

		var res *gsync.Result
		err = a.withLocalLock(func() error {
			var runErr error
			res, runErr = a.orchestrator(notify).Sync(ctx, gsync.Options{LoadOnly: loadOnly})
			return runErr
		})
		if errors.Is(err, gsync.ErrLocked) {
			fmt.Printf("%s Remote is locked by another device; try again later\n", ui.RenderWarn("⚠"))
			return err
		}
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

func printResult(res *gsync.Result) {
	fmt.Printf("\n%s Sync complete in %v\n", ui.RenderPass("✓"), res.Duration.Round(time.Millisecond))
	if res.BackupPath != "" {
		fmt.Printf("   Backup: %s\n", res.BackupPath)
	}
	if res.Imported {
		printStats(res.Stats)
	} else if !res.Downloaded {
		fmt.Printf("   %s\n", ui.RenderMuted("No remote snapshot yet"))
	}
	if res.Uploaded {
		fmt.Printf("   Uploaded: yes\n")
	}
}

func printStats(stats *exchange.LoadStats) {
	if stats == nil {
		return
	}
	fmt.Printf("   Imported: %d records\n", stats.Total())
	if stats.Orphans > 0 {
		fmt.Printf("   %s %d orphaned records moved to the top level\n", ui.RenderWarn("⚠"), stats.Orphans)
	}
	if stats.DanglingRefs > 0 {
		fmt.Printf("   %s %d references to missing records dropped\n", ui.RenderWarn("⚠"), stats.DanglingRefs)
	}
}

// runContext returns a context cancelled on SIGINT/SIGTERM.
func runContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func init() {
	syncCmd.Flags().Bool("load-only", false, "Import the remote snapshot without uploading (overrides sync.load_only)")
	syncCmd.Flags().BoolP("quiet", "q", false, "Do not print progress")
	rootCmd.AddCommand(syncCmd)
}
