package main

import (
	"flag"
	"log/slog"
	"os"
	"strings"

	"escrowd/config"
	"escrowd/core"
	"escrowd/observability/logging"
	"escrowd/rpc"
	"escrowd/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	listenFlag := flag.String("listen", "", "Listen address for the JSON-RPC server (overrides config)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ESCROWD_ENV"))
	logger := logging.Setup("escrowd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if env == "" {
		logger = logging.Setup("escrowd", cfg.Env)
	}

	platform, err := cfg.PlatformAddress()
	if err != nil {
		logger.Error("Invalid platform account", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", "path", cfg.DataDir, slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	node, err := core.NewNode(db, platform, cfg.FeeBps, logger)
	if err != nil {
		logger.Error("Failed to initialise node", slog.Any("error", err))
		os.Exit(1)
	}

	alloc, err := cfg.GenesisAlloc()
	if err != nil {
		logger.Error("Invalid genesis allocation", slog.Any("error", err))
		os.Exit(1)
	}
	if err := node.InitGenesis(cfg.GenesisAssets(), alloc); err != nil {
		logger.Error("Failed to initialise genesis state", slog.Any("error", err))
		os.Exit(1)
	}

	listen := cfg.ListenAddress
	if strings.TrimSpace(*listenFlag) != "" {
		listen = *listenFlag
	}

	logger.Info("node ready",
		"network", cfg.NetworkName,
		"stateRoot", node.StateRoot().Hex(),
		"feeBps", cfg.FeeBps,
	)

	server := rpc.NewServer(node, logger)
	if err := server.Start(listen); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
