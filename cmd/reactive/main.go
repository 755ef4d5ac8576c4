package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/zhongdj/reactiveservices/internal/cmd/client"
	serverrun "github.com/zhongdj/reactiveservices/internal/cmd/server"
	cfgpkg "github.com/zhongdj/reactiveservices/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reactive",
		Short: "Reactive services node and client CLI",
		Long:  "reactive runs a streaming node (WebSocket edge, endpoint hub, admin API) and provides client commands for subscriptions, signals, and the catalog.",
	}

	// node start
	nodeCmd := &cobra.Command{Use: "node", Short: "Node commands"}
	nodeStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start a streaming node",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			nodeID, _ := cmd.Flags().GetString("node-id")
			wsAddr, _ := cmd.Flags().GetString("ws")
			httpAddr, _ := cmd.Flags().GetString("http")
			natsURL, _ := cmd.Flags().GetString("nats")
			stateCacheDir, _ := cmd.Flags().GetString("state-cache-dir")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if nodeID != "" {
				cfg.NodeID = nodeID
			}
			if wsAddr != "" {
				cfg.WSAddr = wsAddr
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if natsURL != "" {
				cfg.NATSURL = natsURL
			}
			if stateCacheDir != "" {
				cfg.StateCacheDir = stateCacheDir
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if logFormat != "" {
				cfg.LogFormat = logFormat
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("node error: %w", err)
			}
			return nil
		},
	}
	nodeStartCmd.Flags().String("config", os.Getenv("RS_CONFIG"), "Config file (JSON or YAML)")
	nodeStartCmd.Flags().String("node-id", "", "Node id (default: hostname)")
	nodeStartCmd.Flags().String("ws", "", "WebSocket listen address (default :7470)")
	nodeStartCmd.Flags().String("http", "", "Admin HTTP listen address (default :7471)")
	nodeStartCmd.Flags().String("nats", "", "NATS URL for clustering (empty = standalone)")
	nodeStartCmd.Flags().String("state-cache-dir", "", "Producer state cache directory (\"auto\" for OS data dir, empty = disabled)")
	nodeStartCmd.Flags().String("log-level", os.Getenv("RS_LOG_LEVEL"), "Log level: debug|info|warn|error")
	nodeStartCmd.Flags().String("log-format", os.Getenv("RS_LOG_FORMAT"), "Log format: text|json")
	nodeCmd.AddCommand(nodeStartCmd)
	rootCmd.AddCommand(nodeCmd)

	// client commands
	rootCmd.AddCommand(clientcmd.NewSubscribeCommand(wsURL))
	rootCmd.AddCommand(clientcmd.NewSignalCommand(wsURL))
	rootCmd.AddCommand(clientcmd.NewCatalogCommand(apiURL))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func wsURL() string {
	if v := os.Getenv("RS_WS_URL"); v != "" {
		return v
	}
	return "ws://127.0.0.1:7470/stream"
}

func apiURL() string {
	if v := os.Getenv("RS_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:7471"
}
