package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/gtdsync/gtdsync/internal/lock"
	"github.com/gtdsync/gtdsync/internal/ui"
)

var lockCmd = &cobra.Command{
	Use:     "lock",
	GroupID: "sync",
	Short:   "Inspect or clear the remote sync lock",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show who holds the remote sync lock",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext(cmd.Context())
		defer cancel()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.transport.Ready(); err != nil {
			return err
		}
		printLockStatus(ctx, a)
		return nil
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Remove a stale remote sync lock",
	Long: `Remove the remote sync lock (sync.locked).

Use this only when a device crashed in the middle of a sync and left the lock
behind. Removing a lock that is in use lets two devices sync at once and one
of them will lose its changes.

Asks for confirmation on a terminal; pass --force otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext(cmd.Context())
		defer cancel()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.transport.Ready(); err != nil {
			return err
		}

		coord := a.lockCoordinator()
		marker, err := coord.Inspect(ctx)
		if errors.Is(err, lock.ErrNotLocked) {
			fmt.Printf("%s Remote is not locked\n", ui.RenderPass("✓"))
			return nil
		}
		holder := "unknown device"
		if err == nil {
			holder = marker.DeviceID
		}

		force, _ := cmd.Flags().GetBool("force")
		if !force {
			if !ui.IsInteractive() {
				return fmt.Errorf("lock held by %s; refusing to release without --force", holder)
			}
			confirmed := false
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Release the sync lock held by %s?", holder)).
					Description("Only do this if that device is not syncing right now.").
					Affirmative("Release").
					Negative("Cancel").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Cancelled")
				return nil
			}
		}

		coord.Release(ctx)
		fmt.Printf("%s Released sync lock held by %s\n", ui.RenderPass("✓"), holder)
		return nil
	},
}

func init() {
	lockReleaseCmd.Flags().Bool("force", false, "Release without asking")
	lockCmd.AddCommand(lockStatusCmd, lockReleaseCmd)
	rootCmd.AddCommand(lockCmd)
}
