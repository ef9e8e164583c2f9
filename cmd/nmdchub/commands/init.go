package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nmdchub/nmdchub/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample nmdchub configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/nmdchub/config.yaml. Use --config to specify a custom path.

Examples:
  # Initialize with default location
  nmdchub init

  # Initialize with custom path
  nmdchub init --config /etc/nmdchub/config.yaml

  # Force overwrite existing config
  nmdchub init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Create an operator account: nmdchub account create <nick> --op")
	fmt.Println("  3. Start the hub with: nmdchub start")
	return nil
}
