package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"storyfs/internal/app"
	"storyfs/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the application defaults.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a StoryApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "CreateStory", "Reconcile").
func newApp(operation string, args []string) (*app.StoryApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewStoryApp(cfg, operation, strings.Join(args, " "))
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "storyfs",
	Short:        "Story folder manager",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := os.MkdirAll(cfg.Store.Root, 0755); err != nil {
			return fmt.Errorf("creating story root: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID:    %s\n", hostID)
		fmt.Printf("Story root: %s\n", cfg.Store.Root)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:    %s\n", cfg.HostID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Story root: %s\n", cfg.Store.Root)
		fmt.Printf("Site:       %s\n", cfg.Site.Name)
		fmt.Printf("Shadow:     %s\n", cfg.Shadow.Path)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:      %s (%s)\n", v.Name, v.Type)
		}
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var configKeysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Encryption.Type == "none" {
			fmt.Println("Encryption is disabled; no keys needed.")
			return nil
		}
		passphrase, err := promptNewPassphrase(os.Stderr)
		if err != nil {
			return err
		}
		if err := app.InitKeys(cfg, passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Keys written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// site command
var siteCmd = &cobra.Command{
	Use:   "site",
	Short: "Manage sites",
}

var siteAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")

		a, err := newApp("AddSite", args)
		if err != nil {
			return err
		}
		defer a.Close()

		site, err := a.AddSite(args[0], url)
		if err != nil {
			return fmt.Errorf("adding site: %w", err)
		}
		fmt.Printf("Added site %s (%s)\n", site.Name, site.ID)
		return nil
	},
}

var siteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sites",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListSites", args)
		if err != nil {
			return err
		}
		defer a.Close()

		sites, err := a.ListSites()
		if err != nil {
			return err
		}
		for _, s := range sites {
			marker := " "
			if s.ID == a.DefaultSite().ID {
				marker = "*"
			}
			fmt.Printf("%s %s  %-20s  %s\n", marker, s.ID, s.Name, s.URL)
		}
		return nil
	},
}

var siteRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Remove a site and its story records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("RemoveSite", args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveSite(args[0]); err != nil {
			return fmt.Errorf("removing site: %w", err)
		}
		fmt.Println("Site removed. Its folders stay on disk.")
		return nil
	},
}

// folder command
var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage story folders",
}

var folderCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a story folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		site, _ := cmd.Flags().GetString("site")

		a, err := newApp("CreateStory", args)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.CreateStory(args[0], site)
		if err != nil {
			return fmt.Errorf("creating story: %w", err)
		}
		fmt.Printf("Created %s (%s)\n", rec.Name, rec.ID)
		return nil
	},
}

var folderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List story folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		site, _ := cmd.Flags().GetString("site")
		mode, _ := cmd.Flags().GetInt("mode")

		a, err := newApp("ListStories", args)
		if err != nil {
			return err
		}
		defer a.Close()

		stories, err := a.ListStories(site, mode)
		if err != nil {
			return err
		}
		if len(stories) == 0 {
			fmt.Println("No story folders.")
			return nil
		}
		for _, s := range stories {
			sync := "  "
			if s.AutoSync {
				sync = "AS"
			}
			fmt.Printf("%s  %s  %s  %s\n", s.ID, sync, s.UpdatedAt.Format("2006-01-02 15:04"), s.Name)
		}
		return nil
	},
}

var folderTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Show sites, story folders and their contents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("StoryTree", args)
		if err != nil {
			return err
		}
		defer a.Close()

		tree, err := a.StoryTree()
		if err != nil {
			return err
		}
		fmt.Print(tree)
		return nil
	},
}

var folderRenameCmd = &cobra.Command{
	Use:   "rename ID NAME",
	Short: "Rename a story folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("RenameStory", args)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.RenameStory(args[0], args[1])
		if err != nil {
			return fmt.Errorf("renaming story: %w", err)
		}
		fmt.Printf("Renamed to %s\n", rec.Name)
		return nil
	},
}

var folderRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Remove a story folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deleteFolder, _ := cmd.Flags().GetBool("delete-folder")
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := newApp("RemoveStory", args)
		if err != nil {
			return err
		}
		defer a.Close()

		// A folder that is already gone needs no confirmation.
		if path, err := a.ResolveStory(args[0]); deleteFolder && !yes && err == nil {
			ok, err := confirm(os.Stdin, os.Stderr, fmt.Sprintf("Delete %s and everything in it?", path))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Aborted.")
				return nil
			}
		}

		if err := a.RemoveStory(args[0], deleteFolder); err != nil {
			return fmt.Errorf("removing story: %w", err)
		}
		fmt.Println("Story removed.")
		return nil
	},
}

var folderAutoSyncCmd = &cobra.Command{
	Use:       "autosync ID on|off",
	Short:     "Toggle automatic upload for a story folder",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch args[1] {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[1])
		}

		a, err := newApp("SetAutoSync", args)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.SetAutoSync(args[0], on)
	},
}

// asset command
var assetCmd = &cobra.Command{
	Use:   "asset",
	Short: "Manage story assets",
}

var assetAddCmd = &cobra.Command{
	Use:   "add STORY_ID FILE",
	Short: "Copy a file into a story folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("AddAsset", args)
		if err != nil {
			return err
		}
		defer a.Close()

		asset, err := a.AddAsset(args[0], args[1])
		if err != nil {
			return fmt.Errorf("adding asset: %w", err)
		}
		fmt.Printf("Added %s (%s)\n", asset.Name, asset.Kind)
		return nil
	},
}

var assetListCmd = &cobra.Command{
	Use:   "list STORY_ID",
	Short: "List a story's assets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListAssets", args)
		if err != nil {
			return err
		}
		defer a.Close()

		assets, err := a.ListAssets(args[0])
		if err != nil {
			return err
		}
		if len(assets) == 0 {
			fmt.Println("No assets.")
			return nil
		}
		for _, as := range assets {
			fmt.Printf("%s  %-6s  %s\n", as.ID, as.Kind, as.Name)
		}
		return nil
	},
}

// reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair drift between story folders and the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		check, _ := cmd.Flags().GetBool("check")

		operation := "Reconcile"
		if check {
			operation = "CheckConsistency"
		}
		a, err := newApp(operation, args)
		if err != nil {
			return err
		}
		defer a.Close()

		if check {
			inconsistent, err := a.HasInconsistencies()
			if err != nil {
				return err
			}
			if inconsistent {
				return fmt.Errorf("story folders and registry are out of step")
			}
			fmt.Println("Consistent.")
			return nil
		}

		report, err := a.Reconcile()
		if err != nil {
			return fmt.Errorf("reconciling: %w", err)
		}
		fmt.Println(report)
		if report.Failures > 0 {
			return fmt.Errorf("%d repair(s) failed, see the log", report.Failures)
		}
		return nil
	},
}

// sort command
var sortCmd = &cobra.Command{
	Use:   "sort",
	Short: "Manage story folder ordering",
}

var sortListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sort modes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SortModes", args)
		if err != nil {
			return err
		}
		defer a.Close()

		modes, selected := a.SortModes()
		for i, m := range modes {
			marker := " "
			if i == selected {
				marker = "*"
			}
			var rules []string
			for _, r := range m.Rules {
				dir := "asc"
				if !r.Ascending {
					dir = "desc"
				}
				rules = append(rules, r.Field+" "+dir)
			}
			fmt.Printf("%s %d  %-18s  %s\n", marker, i, m.Name, strings.Join(rules, ", "))
		}
		return nil
	},
}

var sortSelectCmd = &cobra.Command{
	Use:   "select INDEX",
	Short: "Select the sort mode used for listings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var index int
		if _, err := fmt.Sscanf(args[0], "%d", &index); err != nil {
			return fmt.Errorf("invalid index %q", args[0])
		}

		a, err := newApp("SelectSortMode", args)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.SelectSortMode(index)
	},
}

var sortSetCmd = &cobra.Command{
	Use:   "set INDEX FIELD asc|desc",
	Short: "Set the direction of a field in a sort mode",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var index int
		if _, err := fmt.Sscanf(args[0], "%d", &index); err != nil {
			return fmt.Errorf("invalid index %q", args[0])
		}
		var ascending bool
		switch args[2] {
		case "asc":
			ascending = true
		case "desc":
		default:
			return fmt.Errorf("expected asc or desc, got %q", args[2])
		}

		a, err := newApp("SetSortRule", args)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.SetSortRule(index, args[1], ascending)
	},
}

// shadow command
var shadowCmd = &cobra.Command{
	Use:   "shadow",
	Short: "Manage the shared shadow snapshot",
}

var shadowWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "Rewrite the shadow snapshot from the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("WriteShadow", args)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.WriteShadow()
	},
}

var shadowShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the shadow snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		snap, err := app.ReadShadow(cfg)
		if err != nil {
			return err
		}

		fmt.Printf("Generated %s\n", snap.GeneratedAt.Format(time.RFC3339))
		for _, site := range snap.Sites {
			fmt.Printf("%s (%s)\n", site.Title, site.UUID)
			for _, st := range site.Stories {
				fmt.Printf("  %s  %s\n", st.UUID, st.Title)
			}
		}
		return nil
	},
}

// share command
var shareCmd = &cobra.Command{
	Use:   "share FILE",
	Short: "Copy a file into a story using only the shadow snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storyID, _ := cmd.Flags().GetString("story")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ref, err := app.Share(cfg, args[0], storyID)
		if err != nil {
			return fmt.Errorf("sharing: %w", err)
		}
		fmt.Printf("Shared to %s\n", ref)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View registry operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("GetHistory", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt.Valid {
				d := op.FinishedAt.Time.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-16s  %s  %-7s  %-8s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Summary,
			)
		}
		return nil
	},
}

// registry command
var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Manage the registry snapshot",
}

var registryRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local registry with the vault's newest snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var passphrase string
		if cfg.Encryption.Type != "none" {
			passphrase, err = promptPassphrase(os.Stderr, "Passphrase: ")
			if err != nil {
				return err
			}
		}

		version, err := app.RestoreRegistry(cfg, passphrase)
		if err != nil {
			return fmt.Errorf("restoring registry: %w", err)
		}
		fmt.Printf("Restored registry at version %d\n", version)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)
	configKeysCmd.AddCommand(configKeysInitCmd)

	// site subcommands
	siteCmd.AddCommand(siteAddCmd)
	siteAddCmd.Flags().String("url", "", "Site URL")
	siteCmd.AddCommand(siteListCmd)
	siteCmd.AddCommand(siteRmCmd)

	// folder subcommands
	folderCmd.AddCommand(folderCreateCmd)
	folderCreateCmd.Flags().String("site", "", "Site name (default: the configured site)")
	folderCmd.AddCommand(folderListCmd)
	folderListCmd.Flags().String("site", "", "Site name (default: the configured site)")
	folderListCmd.Flags().IntP("mode", "m", -1, "Sort mode index (default: the selected mode)")
	folderCmd.AddCommand(folderTreeCmd)
	folderCmd.AddCommand(folderRenameCmd)
	folderCmd.AddCommand(folderRmCmd)
	folderRmCmd.Flags().Bool("delete-folder", false, "Also delete the folder and its contents")
	folderRmCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	folderCmd.AddCommand(folderAutoSyncCmd)

	// asset subcommands
	assetCmd.AddCommand(assetAddCmd)
	assetCmd.AddCommand(assetListCmd)

	// sort subcommands
	sortCmd.AddCommand(sortListCmd)
	sortCmd.AddCommand(sortSelectCmd)
	sortCmd.AddCommand(sortSetCmd)

	// shadow subcommands
	shadowCmd.AddCommand(shadowWriteCmd)
	shadowCmd.AddCommand(shadowShowCmd)

	registryCmd.AddCommand(registryRestoreCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(siteCmd)
	rootCmd.AddCommand(folderCmd)
	rootCmd.AddCommand(assetCmd)
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().Bool("check", false, "Only report whether a repair is needed")
	rootCmd.AddCommand(sortCmd)
	rootCmd.AddCommand(shadowCmd)
	rootCmd.AddCommand(shareCmd)
	shareCmd.Flags().String("story", "", "Story UUID")
	shareCmd.MarkFlagRequired("story")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(registryCmd)
}
