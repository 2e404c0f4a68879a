package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"igcrawler/pkg/config"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/proxy"
	"igcrawler/pkg/ui"
)

const configHeader = `# igcrawler configuration
#
# Values here override the built-in defaults. Environment variables
# (IGCRAWLER_*, also read from .env) override this file, and command line
# flags override both. Unknown keys are rejected.

`

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage igcrawler configuration files.

Configuration is resolved from, highest priority first:
  - command line flags
  - environment variables (IGCRAWLER_*, PROXIES) and .env files
  - the configuration file
  - built-in defaults`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with every default",
	Long: `Write a configuration file containing every option at its default value.

The file is created as 'igcrawler.yaml' in the current directory unless a
path is given with --config. An existing file is never overwritten.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	Long:  `Show the configuration after every source has been applied. Proxy credentials and the Postgres password are masked.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = "igcrawler.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		return errs.Configuration("configuration file already exists: "+path, nil)
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Add your proxies and pick sink targets")
	fmt.Println("2. Run 'igcrawler auth login' to store a session")
	fmt.Println("3. Run 'igcrawler config validate'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return errs.Configuration("invalid configuration", err)
	}

	data, err := yaml.Marshal(masked(cfg))
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return errs.Configuration("configuration is invalid", err)
	}

	ui.PrintSuccess("Configuration is valid")
	ui.PrintInfo("Workers", fmt.Sprintf("%d", cfg.MaxWorkers))
	ui.PrintInfo("Proxies", fmt.Sprintf("%d", len(cfg.Proxies)))
	ui.PrintInfo("Sinks", fmt.Sprintf("%v", cfg.Sink.Targets))
	ui.PrintInfo("Checkpoint", cfg.Data.CheckpointFile)
	ui.PrintInfo("Hashtags", fmt.Sprintf("%d", len(cfg.TargetHashtags)))
	if len(cfg.Proxies) == 0 {
		ui.PrintWarning("No proxies configured: every request goes out directly")
	}
	return nil
}

// masked returns a copy of cfg safe to print.
func masked(cfg *config.Config) *config.Config {
	out := *cfg
	out.Proxies = make([]string, len(cfg.Proxies))
	for i, p := range cfg.Proxies {
		out.Proxies[i] = proxy.Mask(p)
	}
	if dsn := cfg.Sink.Postgres.DSN; dsn != "" {
		if u, err := url.Parse(dsn); err == nil && u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "xxxxx")
			}
			out.Sink.Postgres.DSN = u.String()
		}
	}
	return &out
}
