package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rescale/dndupload/internal/config"
	"github.com/rescale/dndupload/internal/constants"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage dndupload configuration",
		Long: `Configuration management commands for dndupload.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for dndupload.

The configuration is saved to ~/.config/dndupload/config.csv unless --config
names another file. A path ending in .toml is written as TOML.

Credentials are never stored: S3 keys come from DNDUPLOAD_S3_ACCESS_KEY and
DNDUPLOAD_S3_SECRET_KEY (or the AWS default chain), and the proxy password
from DNDUPLOAD_PROXY_PASSWORD.

Use --force to overwrite existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg, err := promptConfig(newPrompter(cmd.InOrStdin(), out))
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration not saved: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			GetLogger().Info().Str("path", path).Msg("configuration saved")
			fmt.Fprintf(out, "\nConfiguration saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// promptConfig asks for every persisted setting, starting from the defaults.
func promptConfig(p *prompter) (*config.Config, error) {
	cfg := config.NewDefault()
	var err error

	fmt.Fprintln(p.out, "dndupload Configuration Setup")
	fmt.Fprintln(p.out, "=============================")
	fmt.Fprintln(p.out)

	if cfg.Backend, err = p.Choice("Storage backend", cfg.Backend,
		constants.BackendDirect, constants.BackendS3, constants.BackendAzure); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case constants.BackendDirect:
		if cfg.DirectUploadURL, err = p.String("Default direct upload URL (used when an input has none)", ""); err != nil {
			return nil, err
		}
	case constants.BackendS3:
		if cfg.S3Bucket, err = p.String("S3 bucket", ""); err != nil {
			return nil, err
		}
		if cfg.S3Region, err = p.String("S3 region", "us-east-1"); err != nil {
			return nil, err
		}
		if cfg.S3Prefix, err = p.String("S3 key prefix", ""); err != nil {
			return nil, err
		}
		if cfg.S3Endpoint, err = p.String("S3-compatible endpoint (empty for AWS)", ""); err != nil {
			return nil, err
		}
	case constants.BackendAzure:
		if cfg.AzureContainerURL, err = p.String("Azure container URL with SAS token", ""); err != nil {
			return nil, err
		}
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Transfer Settings (press Enter for defaults)")
	fmt.Fprintln(p.out, "--------------------------------------------")

	if cfg.MaxFileSize, err = p.Int("Max file size in bytes", cfg.MaxFileSize); err != nil {
		return nil, err
	}
	retries, err := p.Int("HTTP retries per request", int64(cfg.MaxRetries))
	if err != nil {
		return nil, err
	}
	cfg.MaxRetries = int(retries)

	if cfg.ProxyMode, err = p.Choice("Proxy mode", cfg.ProxyMode, "no-proxy", "system", "basic", "ntlm"); err != nil {
		return nil, err
	}
	if cfg.ProxyMode == "basic" || cfg.ProxyMode == "ntlm" {
		if cfg.ProxyHost, err = p.String("Proxy host", ""); err != nil {
			return nil, err
		}
		port, err := p.Int("Proxy port", 8080)
		if err != nil {
			return nil, err
		}
		cfg.ProxyPort = int(port)
		if cfg.ProxyUser, err = p.String("Proxy user", ""); err != nil {
			return nil, err
		}
	}

	if cfg.ProgressMode, err = p.Choice("Progress display", cfg.ProgressMode,
		config.ProgressBars, config.ProgressSimple, config.ProgressNone); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), configPath(), cfg)
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "\nWarning: %v\n", err)
			}
			return nil
		},
	}
}

func printConfig(w io.Writer, path string, cfg *config.Config) {
	fmt.Fprintf(w, "Configuration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(w, "(file does not exist, showing defaults)")
	}

	var rows [][]string
	for _, kv := range cfg.Entries() {
		rows = append(rows, []string{kv[0], kv[1]})
	}
	fmt.Fprintln(w, renderTable([]string{"Key", "Value"}, rows, nil))
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), configPath())
		},
	}
}
