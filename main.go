package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sidecar/channel"
	"sidecar/daemon"
	"sidecar/internal/config"
	"sidecar/internal/logging"

	// Import all channels (triggers init registration)
	_ "sidecar/channels/rest"
	_ "sidecar/channels/telegram"
	_ "sidecar/channels/tui"
	_ "sidecar/channels/websocket"
)

var (
	version = "0.1.0"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	workspaceDir := flag.String("workspace", ".", "Workspace directory containing the plugins/ folder")
	mode := flag.String("mode", "", "Execution mode (daemon or interactive)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "Show version information")
	listChannels := flag.Bool("list-channels", false, "List registered channels")

	flag.Parse()

	log := logging.Root()

	// Show version
	if *showVersion {
		fmt.Printf("Sidecar v%s\n", version)
		fmt.Println("An agent host daemon with hot-reloadable plugins")
		return
	}

	// List channels
	if *listChannels {
		names := channel.GetRegistry().Names()
		fmt.Printf("Registered channels (%d):\n\n", len(names))
		for i, name := range names {
			fmt.Printf("%d. %s\n", i+1, name)
		}
		return
	}

	// Load configuration
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *logLevel != "" {
		logging.SetLevel(*logLevel)
	} else {
		logging.SetLevel(cfg.Daemon.LogLevel)
	}

	// Override mode if specified via CLI
	if *mode != "" {
		cfg.Mode = config.Mode(*mode)
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid mode: %v", err)
		}
	}

	// Print startup banner
	printBanner(cfg)

	// Create and start daemon
	d := daemon.New(cfg, *workspaceDir)
	if err := d.Start(); err != nil {
		log.Fatalf("Failed to start daemon: %v", err)
	}

	// Setup signal handling: SIGHUP reloads plugins, SIGINT/SIGTERM
	// shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	log.Info("daemon running, press Ctrl+C to stop")

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			log.Info("SIGHUP received, reloading plugins")
			d.TriggerReload(context.Background(), "SIGHUP")
			continue
		}
		break
	}

	log.Info("shutdown signal received, stopping")

	// Stop daemon
	if err := d.Stop(); err != nil {
		log.Errorf("Error during shutdown: %v", err)
	}

	log.Info("daemon stopped")
}

// printBanner prints the startup banner
func printBanner(cfg *config.Config) {
	fmt.Println("╔════════════════════════════════════════════╗")
	fmt.Println("║            Sidecar Daemon v" + version + "           ║")
	fmt.Println("╚════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Mode: %s\n", cfg.Mode)
	fmt.Printf("Config: loaded\n")
	fmt.Println()
}
