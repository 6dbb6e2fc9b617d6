package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcpden/mcpden/pkg/config"
	"github.com/mcpden/mcpden/pkg/host"
	"github.com/mcpden/mcpden/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mcpden",
	Short: "mcpden - Local MCP server host",
	Long: `mcpden runs MCP servers as supervised local processes and fronts
them with a single loopback HTTP gateway. Servers are installed from npm
or pointed at local checkouts; workspaces scope their config, secrets
and permissions.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"mcpden version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	runCmd.Flags().String("config", "", "Path to config file (YAML)")
	runCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	runCmd.Flags().Int("port", 0, "Preferred listen port (overrides config)")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the host until interrupted",
	Long: `Run the mcpden host: load configuration, open the data directory,
bind the loopback API listener and serve until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		port, _ := cmd.Flags().GetInt("port")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if port != 0 {
			cfg.Listen.PortLow = port
			if cfg.Listen.PortHigh < port {
				cfg.Listen.PortHigh = port
			}
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
		})

		h, err := host.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to start host: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(),
			syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return h.Run(ctx)
	},
}
