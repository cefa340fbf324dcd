package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gtdsync/gtdsync/internal/lock"
	"github.com/gtdsync/gtdsync/internal/payload"
	"github.com/gtdsync/gtdsync/internal/transport"
	"github.com/gtdsync/gtdsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local database and remote status",
	Long: `Display:
  - Config file, database location and device id
  - Number of records per collection
  - Remote snapshot size and modification time
  - Remote sync lock holder, if any`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext(cmd.Context())
		defer cancel()

		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("\n%s gtdsync status\n\n", ui.RenderAccent("📊"))
		if a.cfg.File != "" {
			fmt.Printf("Config:   %s\n", a.cfg.File)
		} else {
			fmt.Printf("Config:   %s\n", ui.RenderMuted("(defaults)"))
		}
		fmt.Printf("Database: %s", a.cfg.DB)
		if info, err := os.Stat(a.cfg.DB); err == nil {
			fmt.Printf(" (%s)", formatSize(info.Size()))
		}
		fmt.Println()
		fmt.Printf("Device:   %s\n", a.deviceID)

		counts, err := a.db.Counts(ctx)
		if err != nil {
			return err
		}
		fmt.Println()
		for _, c := range payload.Collections {
			fmt.Printf("  %-10s %d\n", c, counts[c])
		}
		fmt.Println()

		if err := a.cfg.Validate(); err != nil {
			fmt.Printf("Remote:   %s %v\n\n", ui.RenderWarn("not configured:"), err)
			return nil
		}
		t, err := transport.New(ctx, a.cfg.TransportOptions(), a.logger.WithPrefix("transport"))
		if err != nil {
			return err
		}
		a.transport = t
		printRemoteStatus(ctx, a)
		fmt.Println()
		return nil
	},
}

func printRemoteStatus(ctx context.Context, a *app) {
	fmt.Printf("Remote:   %s\n", a.cfg.Remote.Backend)
	if err := a.transport.Ready(); err != nil {
		fmt.Printf("  %s %v\n", ui.RenderWarn("⚠"), err)
		return
	}

	meta, err := a.transport.Stat(ctx, transport.SyncPath)
	switch {
	case transport.IsNotFound(err):
		fmt.Printf("  Snapshot: %s\n", ui.RenderMuted("none"))
	case err != nil:
		fmt.Printf("  Snapshot: %s %v\n", ui.RenderFail("error"), err)
	default:
		fmt.Printf("  Snapshot: %s, modified %s\n", formatSize(meta.Size), meta.Modified.Local().Format(time.DateTime))
	}

	printLockStatus(ctx, a)
}

func printLockStatus(ctx context.Context, a *app) {
	marker, err := a.lockCoordinator().Inspect(ctx)
	switch {
	case errors.Is(err, lock.ErrNotLocked):
		fmt.Printf("  Lock:     %s\n", ui.RenderPass("free"))
	case err != nil:
		fmt.Printf("  Lock:     %s %v\n", ui.RenderFail("unreadable"), err)
	default:
		holder := marker.DeviceID
		if holder == a.deviceID {
			holder += " (this device)"
		}
		age := time.Since(marker.Started()).Round(time.Second)
		fmt.Printf("  Lock:     %s by %s for %s\n", ui.RenderWarn("held"), holder, age)
	}
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
