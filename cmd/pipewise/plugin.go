package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pipewise/pipewise/internal/config"
	"github.com/pipewise/pipewise/internal/domain/marketplace"
	"github.com/pipewise/pipewise/internal/domain/plugin"
)

var (
	searchSources []string
	searchLimit   int
	popularLimit  int
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage Pipewise plugins",
	Long:  `Discover, install, and manage plugins that contribute workflow-node types.`,
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plugins",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runPluginList()
	},
}

var pluginSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search plugin marketplaces",
	Long: `Search the configured marketplace sources for plugins.

Examples:
  pipewise plugin search http
  pipewise plugin search slack --source github --source npm`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPluginSearch(cmd.Context(), args[0])
	},
}

var pluginPopularCmd = &cobra.Command{
	Use:   "popular",
	Short: "Show popular plugins across all sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPluginPopular(cmd.Context())
	},
}

var pluginInstallCmd = &cobra.Command{
	Use:   "install <id>",
	Short: "Install a plugin from the marketplace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPluginInstall(cmd.Context(), args[0])
	},
}

var pluginEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable an installed plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runPluginToggle(args[0], true)
	},
}

var pluginDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable an installed plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runPluginToggle(args[0], false)
	},
}

var pluginUninstallCmd = &cobra.Command{
	Use:     "uninstall <id>",
	Aliases: []string{"remove", "rm"},
	Short:   "Uninstall a plugin",
	Args:    cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runPluginUninstall(args[0])
	},
}

func init() {
	pluginSearchCmd.Flags().StringArrayVar(&searchSources, "source", nil, "restrict to specific sources (official, github, npm)")
	pluginSearchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum results per source")
	pluginPopularCmd.Flags().IntVar(&popularLimit, "limit", 10, "maximum results")

	rootCmd.AddCommand(pluginCmd)
	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginSearchCmd)
	pluginCmd.AddCommand(pluginPopularCmd)
	pluginCmd.AddCommand(pluginInstallCmd)
	pluginCmd.AddCommand(pluginEnableCmd)
	pluginCmd.AddCommand(pluginDisableCmd)
	pluginCmd.AddCommand(pluginUninstallCmd)
}

// loadConfig reads the host configuration honoring the --config flag.
func loadConfig() (config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

func newManager() (*plugin.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	mgr, err := plugin.NewManager(cfg.PluginDir, cfg.ConfigDir,
		plugin.WithLogger(newLogger()),
		plugin.WithHostVersion(hostVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing plugin manager: %w", err)
	}
	if _, err := mgr.DiscoverPlugins(); err != nil {
		return nil, fmt.Errorf("discovering plugins: %w", err)
	}
	return mgr, nil
}

func newAggregator() (*marketplace.Aggregator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log := newLogger()
	officialOpts := []marketplace.OfficialOption{marketplace.WithOfficialLogger(log)}
	if cfg.RegistryURL != "" {
		officialOpts = append(officialOpts, marketplace.WithOfficialURL(cfg.RegistryURL))
	}

	sources := []marketplace.Source{
		marketplace.NewOfficialSource(officialOpts...),
		marketplace.NewGitHubSource(marketplace.WithGitHubLogger(log)),
		marketplace.NewNPMSource(marketplace.WithNPMLogger(log)),
	}
	return marketplace.NewAggregator(sources, marketplace.WithAggregatorLogger(log)), nil
}

func runPluginList() error {
	mgr, err := newManager()
	if err != nil {
		return err
	}

	plugins := mgr.List()
	if len(plugins) == 0 {
		fmt.Println("No plugins installed.")
		fmt.Println("")
		fmt.Println("Find plugins using:")
		fmt.Println("  pipewise plugin search <query>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tVERSION\tSTATUS\tNODES\tDESCRIPTION")
	for _, p := range plugins {
		status := "disabled"
		if p.Enabled {
			status = "enabled"
		}
		desc := p.Manifest.Description
		if len(desc) > 50 {
			desc = desc[:47] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			p.Manifest.ID, p.Manifest.Version, status, len(p.Manifest.Nodes), desc)
	}
	return w.Flush()
}

func runPluginSearch(ctx context.Context, query string) error {
	agg, err := newAggregator()
	if err != nil {
		return err
	}

	sources := searchSources
	if len(sources) == 0 {
		if cfg, err := loadConfig(); err == nil {
			sources = cfg.Sources
		}
	}

	results := agg.Search(ctx, query, sources, searchLimit)
	return printMarketplaceResults(results)
}

func runPluginPopular(ctx context.Context) error {
	agg, err := newAggregator()
	if err != nil {
		return err
	}

	results := agg.Popular(ctx, popularLimit)
	return printMarketplaceResults(results)
}

func printMarketplaceResults(results []marketplace.Plugin) error {
	if len(results) == 0 {
		fmt.Println("No plugins found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tVERSION\tSOURCE\tSTARS\tDOWNLOADS\tDESCRIPTION")
	for _, p := range results {
		desc := p.Description
		if len(desc) > 50 {
			desc = desc[:47] + "..."
		}
		marker := ""
		if p.Featured {
			marker = " *"
		}
		_, _ = fmt.Fprintf(w, "%s%s\t%s\t%s\t%d\t%d\t%s\n",
			p.ID, marker, p.Version, p.Source, p.Stars, p.Downloads, desc)
	}
	return w.Flush()
}

func runPluginInstall(ctx context.Context, id string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}
	agg, err := newAggregator()
	if err != nil {
		return err
	}

	results := agg.Search(ctx, id, nil, 10)
	var match *marketplace.Plugin
	for i := range results {
		if results[i].ID == id {
			match = &results[i]
			break
		}
	}
	if match == nil {
		return fmt.Errorf("plugin %q not found in any marketplace source", id)
	}

	progress := func(stage string, percent int) {
		fmt.Printf("\r%-10s %3d%%", stage, percent)
	}
	if err := mgr.InstallFromMarketplace(ctx, *match, progress); err != nil {
		fmt.Println()
		return fmt.Errorf("installing %s: %w", id, err)
	}
	fmt.Printf("\nInstalled %s@%s\n", match.ID, match.Version)
	return nil
}

func runPluginToggle(id string, enable bool) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}

	if enable {
		if !mgr.Enable(id) {
			return fmt.Errorf("plugin %q is not installed", id)
		}
		fmt.Printf("Enabled %s\n", id)
		return nil
	}
	if !mgr.Disable(id) {
		return fmt.Errorf("plugin %q is not installed", id)
	}
	fmt.Printf("Disabled %s\n", id)
	return nil
}

func runPluginUninstall(id string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}

	if !mgr.Uninstall(id) {
		return fmt.Errorf("could not uninstall plugin %q", id)
	}
	fmt.Printf("Uninstalled %s\n", id)
	return nil
}
