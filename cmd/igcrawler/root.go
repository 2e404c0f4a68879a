package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"igcrawler/pkg/config"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/ui"
)

var (
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool
	quiet      bool

	// Run flags
	mode         string
	usersFlag    string
	tagsFlag     string
	parallel     int
	maxUsers     int
	dryRun       bool
	rescrape     bool
	showProgress bool
)

const (
	modeDetail = "detail"
	modeScan   = "scan"
)

var rootCmd = &cobra.Command{
	Use:   "igcrawler",
	Short: "Resilient profile crawler with proxy rotation and adaptive pacing",
	Long: `igcrawler collects public profiles and their recent posts.

Two modes are available:
  detail  crawl a list of usernames (--users, target_identifiers, or the
          usernames file, in that order)
  scan    discover usernames from hashtags first, then crawl them

Every finished username is checkpointed, so an interrupted run resumes where
it stopped. Create the stop file (stop.flag by default) to end a run cleanly.`,
	Example: `  # Crawl two accounts
  igcrawler --users alice,bob

  # Discover from hashtags and crawl at most 200 accounts with 8 workers
  igcrawler --mode scan --tags colorlens,lenses --max-users 200 --parallel 8

  # Check the setup against three accounts
  igcrawler --dry-run`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", logger.Version, gitCommit, buildDate),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !quiet && cmd.Name() != "help" {
			ui.PrintBanner(logger.Version)
		}
	},
	RunE: runCrawl,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: igcrawler.yaml or $HOME/.igcrawler.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored log output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress the banner and the summary box")

	rootCmd.Flags().StringVar(&mode, "mode", modeDetail, "run mode: detail or scan")
	rootCmd.Flags().StringVar(&usersFlag, "users", "", "comma-separated usernames to crawl")
	rootCmd.Flags().StringVar(&tagsFlag, "tags", "", "comma-separated hashtags to scan")
	rootCmd.Flags().IntVar(&parallel, "parallel", 0, "number of workers (default from config)")
	rootCmd.Flags().IntVar(&maxUsers, "max-users", 0, "maximum number of usernames to crawl")
	rootCmd.Flags().IntVar(&maxUsers, "limit", 0, "alias for --max-users")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "crawl at most three usernames")
	rootCmd.Flags().BoolVar(&rescrape, "rescrape", false, "crawl usernames even if already checkpointed")
	rootCmd.Flags().BoolVarP(&showProgress, "progress", "p", false, "show a progress line and only log errors")

	rootCmd.SetVersionTemplate(`igcrawler {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// commandFlags collects the flags that were set explicitly, keyed the way
// config.MergeCommandLineFlags expects.
func commandFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("parallel") {
		flags["parallel"] = parallel
	}
	if changed("max-users") || changed("limit") {
		flags["limit"] = maxUsers
	}
	if usersFlag != "" {
		flags["users"] = config.SplitList(usersFlag)
	}
	if tagsFlag != "" {
		flags["tags"] = config.SplitList(tagsFlag)
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if showProgress && logLevel == "" {
		flags["log-level"] = "error"
	}
	if noColor {
		flags["no-color"] = true
	}
	return flags
}
