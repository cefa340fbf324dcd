package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gtdsync/gtdsync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import FILE",
	GroupID: "data",
	Short:   "Import a GTD_SYNC.zip or JSON payload into the local database",
	Long: `Import a payload file without touching the remote.

FILE may be a GTD_SYNC.zip archive or the bare GTD_SYNC.json document.
Records are merged by uuid; orphaned records are moved to the top level and
annotated. A backup is taken first unless --no-backup is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext(cmd.Context())
		defer cancel()

		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		if noBackup, _ := cmd.Flags().GetBool("no-backup"); !noBackup {
			path, err := a.backups().CreateBackup(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s Backup: %s\n", ui.RenderMuted("•"), path)
		}

		stats, err := a.loader().LoadFile(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s Imported %s\n", ui.RenderPass("✓"), args[0])
		printStats(stats)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:     "export FILE",
	GroupID: "data",
	Short:   "Export the local database as a GTD_SYNC.zip payload",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext(cmd.Context())
		defer cancel()

		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.dumper().SaveFile(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("%s Exported to %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:     "backup",
	GroupID: "data",
	Short:   "Back up the local database",
	Long: `Create a backup of the local database in backup.dir, keeping the newest
backup.keep copies. With --list, show existing backups instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext(cmd.Context())
		defer cancel()

		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		m := a.backups()
		if list, _ := cmd.Flags().GetBool("list"); list {
			paths, err := m.List()
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				fmt.Println("No backups yet")
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		}

		path, err := m.CreateBackup(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s Backup: %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

func init() {
	importCmd.Flags().Bool("no-backup", false, "Skip the backup before importing")
	backupCmd.Flags().Bool("list", false, "List existing backups")
	rootCmd.AddCommand(importCmd, exportCmd, backupCmd)
}
