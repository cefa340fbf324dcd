package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/gtdsync/gtdsync/internal/config"
	"github.com/gtdsync/gtdsync/internal/transport"
	"github.com/gtdsync/gtdsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage gtdsync configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write a config file",
	Long: `Write a config file, by default to the user config directory.

On a terminal the remote settings are asked for interactively; pass
--defaults to write the built-in defaults without prompting.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultPath()
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		defaults, _ := cmd.Flags().GetBool("defaults")

		cfg := config.Default()
		if !defaults && ui.IsInteractive() {
			if err := promptRemote(cfg); err != nil {
				return err
			}
		}
		if err := config.Write(path, cfg, force); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		if err := cfg.Validate(); err != nil {
			fmt.Printf("   %s edit the remote section before syncing: %v\n", ui.RenderWarn("⚠"), err)
		}
		return nil
	},
}

// promptRemote asks for the remote backend and its settings.
func promptRemote(cfg *config.Config) error {
	r := &cfg.Remote
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where is the shared snapshot stored?").
				Options(
					huh.NewOption("Synced folder (Dropbox, Syncthing, ...)", transport.BackendDir),
					huh.NewOption("MinIO / S3-compatible server", transport.BackendMinio),
					huh.NewOption("Amazon S3", transport.BackendS3),
				).
				Value(&r.Backend),
		),
		huh.NewGroup(
			huh.NewInput().Title("Folder").Value(&r.Dir),
		).WithHideFunc(func() bool { return r.Backend != transport.BackendDir }),
		huh.NewGroup(
			huh.NewInput().Title("Endpoint (host:port)").Value(&r.Endpoint),
		).WithHideFunc(func() bool { return r.Backend != transport.BackendMinio }),
		huh.NewGroup(
			huh.NewInput().Title("Bucket").Value(&r.Bucket),
			huh.NewInput().Title("Access key").Value(&r.AccessKey),
			huh.NewInput().Title("Access token").EchoMode(huh.EchoModePassword).Value(&r.AccessToken),
		).WithHideFunc(func() bool { return r.Backend == transport.BackendDir }),
	)
	return form.Run()
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		shown := *cfg
		if shown.Remote.AccessToken != "" {
			shown.Remote.AccessToken = "********"
		}
		data, err := config.MarshalYAML(&shown)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		if err := cfg.Validate(); err != nil {
			fmt.Printf("\n%s %v\n", ui.RenderWarn("⚠"), err)
		}
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configInitCmd.Flags().Bool("defaults", false, "Write defaults without prompting")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
