// ABOUTME: Entry point for tavern-bridge
// ABOUTME: Bridges a Matrix room to a local SillyTavern companion over WebSocket

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/tavern-bridge/internal/companion"
	"github.com/2389/tavern-bridge/internal/config"
	"github.com/2389/tavern-bridge/internal/dedupe"
	"github.com/2389/tavern-bridge/internal/ledger"
	"github.com/2389/tavern-bridge/internal/relay"
	"github.com/2389/tavern-bridge/internal/room"
	"github.com/2389/tavern-bridge/internal/tracker"
)

const banner = `
    ╭──────────────────────────────────╮
    │                                  │
    │   ╺┳╸┏━┓╻ ╻┏━╸┏━┓┏┓╻             │
    │    ┃ ┣━┫┃┏┛┣╸ ┣┳┛┃┗┫             │
    │    ╹ ╹ ╹┗┛ ┗━╸╹┗╸╹ ╹             │
    │                                  │
    │        tavern-bridge             │
    │                                  │
    ╰──────────────────────────────────╯
`

// getConfigPath returns the path to the bridge config file.
// Priority: TAVERN_BRIDGE_CONFIG env var > XDG_CONFIG_HOME/tavern/bridge.toml > ~/.config/tavern/bridge.toml
func getConfigPath() string {
	if envPath := os.Getenv("TAVERN_BRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "bridge.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "tavern", "bridge.toml")
}

// getDataPath returns the path to the tavern data directory.
// Priority: XDG_DATA_HOME/tavern > ~/.local/share/tavern
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "tavern")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()
	dataPath := getDataPath()

	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level)

	ledgerPath := cfg.Bridge.LedgerPath
	if ledgerPath == "" {
		ledgerPath = filepath.Join(dataPath, "ledger.json")
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.UserID)
	green.Print("    ▶ ")
	fmt.Printf("Companion:  ws://%s\n", cfg.Companion.ListenAddr)
	green.Print("    ▶ ")
	fmt.Printf("Ledger:     %s\n", ledgerPath)
	fmt.Println()

	rooms, err := room.NewClient(cfg.Matrix.Homeserver, cfg.Matrix.UserID, cfg.Matrix.AccessToken, logger)
	if err != nil {
		return fmt.Errorf("creating room client: %w", err)
	}

	led := ledger.Open(ledgerPath, logger)
	turns := tracker.New(led, rooms, logger)
	session := companion.New(cfg.Companion.ListenAddr, rooms, turns, logger)

	seen := dedupe.New(5*time.Minute, 4096)
	defer seen.Close()

	coordinator := relay.New(relay.Options{
		SelfID:        cfg.Matrix.UserID,
		CommandPrefix: cfg.Bridge.CommandPrefix,
		Freshness:     cfg.Bridge.Freshness.Duration,
		AllowedRooms:  cfg.Bridge.AllowedRooms,
	}, rooms, session, turns, seen, logger)

	session.OnCommandResult(coordinator.HandleCommandResult)
	if err := rooms.OnMessage(coordinator.HandleMessage); err != nil {
		return fmt.Errorf("registering message handler: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting bridge")
	errCh := make(chan error, 2)
	go func() { errCh <- rooms.Run(ctx) }()
	go func() { errCh <- session.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
