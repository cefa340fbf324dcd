package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gtdsync/gtdsync/internal/daemon"
	"github.com/gtdsync/gtdsync/internal/progress"
	gsync "github.com/gtdsync/gtdsync/internal/sync"
	"github.com/gtdsync/gtdsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Sync automatically in the foreground",
	Long: `Run gtdsync as a foreground daemon.

The daemon syncs once on startup, again whenever the local database has been
written and then left alone for daemon.debounce, and every daemon.interval.

When daemon.listen (or --listen) is set, progress is streamed as JSON to
WebSocket clients at ws://<listen>/ws. A health check is served at /health.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext(cmd.Context())
		defer cancel()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		listen := a.cfg.Daemon.Listen
		if cmd.Flags().Changed("listen") {
			listen, _ = cmd.Flags().GetString("listen")
		}

		var (
			notify gsync.Notifier
			hub    *progress.Hub
		)
		if listen != "" {
			hub = progress.NewHub(listen, a.logger.WithPrefix("progress"))
			if err := hub.Start(); err != nil {
				return err
			}
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer stopCancel()
				if err := hub.Stop(stopCtx); err != nil {
					a.logger.Warn("progress hub shutdown failed", "err", err)
				}
			}()
			notify = hub.Notify
			fmt.Printf("Progress: ws://%s/ws\n", hub.Addr())
		}

		d, err := daemon.New(a.orchestrator(notify), a.cfg.DB, &daemon.Config{
			Interval: a.cfg.Daemon.Interval,
			Debounce: a.cfg.Daemon.Debounce,
			LockPath: a.cfg.SyncLockPath(),
			Options:  gsync.Options{LoadOnly: a.cfg.Sync.LoadOnly},
			OnRun: func(_ *gsync.Result, err error) {
				if hub != nil {
					hub.Finish(err)
				}
			},
			Logger: a.logger.WithPrefix("daemon"),
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s gtdsync daemon %s (device %s)\n", ui.RenderAccent("▶"), d, a.deviceID)
		fmt.Println("Press Ctrl+C to stop...")
		return d.Start(ctx)
	},
}

func init() {
	daemonCmd.Flags().String("listen", "", "Serve sync progress over WebSocket on this address (overrides daemon.listen)")
	rootCmd.AddCommand(daemonCmd)
}
